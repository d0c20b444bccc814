// Copyright 2021-2025 The Connect Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package connect

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

const (
	headerContentType  = "Content-Type"
	headerUserAgent    = "User-Agent"
	binaryHeaderSuffix = "-bin"
)

var errNotModifiedClient = errors.New("bug: unary client received an HTTP 304 without a GET request")

// getHeaderCanonical reads a header, assuming the key is already in
// canonical form (as produced by http.CanonicalHeaderKey). This avoids the
// canonicalization pass that http.Header.Get performs on every call.
func getHeaderCanonical(h http.Header, canonicalKey string) string {
	if h == nil {
		return ""
	}
	if vs, ok := h[canonicalKey]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func setHeaderCanonical(h http.Header, canonicalKey, value string) {
	h[canonicalKey] = []string{value}
}

func delHeaderCanonical(h http.Header, canonicalKey string) {
	delete(h, canonicalKey)
}

// mergeHeaders copies every value in src into dst.
func mergeHeaders(dst, src http.Header) {
	for key, values := range src {
		dst[key] = append(dst[key], values...)
	}
}

// mergeNonProtocolHeaders copies src into dst, skipping headers that the
// Connect protocol itself sets (so a locally-raised error can't spoof
// protocol metadata via its Meta()).
func mergeNonProtocolHeaders(dst, src http.Header) {
	for key, values := range src {
		switch http.CanonicalHeaderKey(key) {
		case headerContentType, connectHeaderProtocolVersion, connectHeaderTimeout,
			connectUnaryHeaderCompression, connectUnaryHeaderAcceptCompression,
			connectStreamingHeaderCompression, connectStreamingHeaderAcceptCompression:
			continue
		}
		dst[key] = append(dst[key], values...)
	}
}

// canonicalizeContentType strips parameters (like charset) from a
// Content-Type header value for switch-style comparisons.
func canonicalizeContentType(contentType string) string {
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		return strings.TrimSpace(contentType[:idx])
	}
	return contentType
}

// isBinaryHeader reports whether a header name is a "binary" header per the
// Connect and gRPC protocols: such headers carry non-UTF8 metadata, so
// their values are base64-encoded on the wire.
func isBinaryHeader(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), binaryHeaderSuffix)
}

// EncodeBinaryHeader encodes a binary header value using unpadded
// base64url, as required for "-bin" suffixed headers.
func EncodeBinaryHeader(value []byte) string {
	return base64.RawURLEncoding.EncodeToString(value)
}

// DecodeBinaryHeader decodes a binary header value. It tolerates both
// padded and unpadded, and both URL-safe and standard, alphabets, since some
// intermediaries normalize base64 in transit.
func DecodeBinaryHeader(value string) ([]byte, error) {
	wantsPadding := len(value)%4 == 0 && strings.ContainsRune(value, '=')
	isURLSafe := !strings.ContainsAny(value, "+/")
	switch {
	case isURLSafe && !wantsPadding:
		return base64.RawURLEncoding.DecodeString(value)
	case isURLSafe:
		return base64.URLEncoding.DecodeString(value)
	case !wantsPadding:
		return base64.RawStdEncoding.DecodeString(value)
	default:
		return base64.StdEncoding.DecodeString(value)
	}
}

// encodeBinaryHeaders returns a copy of h with every "-bin" suffixed header
// value base64-encoded, as required before a header map is sent over the
// wire. h itself is left unchanged.
func encodeBinaryHeaders(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	out := make(http.Header, len(h))
	for key, values := range h {
		if !isBinaryHeader(key) {
			out[key] = values
			continue
		}
		encoded := make([]string, len(values))
		for i, v := range values {
			encoded[i] = EncodeBinaryHeader([]byte(v))
		}
		out[key] = encoded
	}
	return out
}

// decodeBinaryHeaders base64-decodes every "-bin" suffixed header value in
// place. Undecodable values are dropped rather than propagated as an error,
// matching the leniency other Connect implementations show for malformed
// metadata sent by misbehaving intermediaries.
func decodeBinaryHeaders(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	for key, values := range h {
		if !isBinaryHeader(key) {
			continue
		}
		decoded := make([]string, 0, len(values))
		for _, v := range values {
			raw, err := DecodeBinaryHeader(v)
			if err != nil {
				continue
			}
			decoded = append(decoded, string(raw))
		}
		h[key] = decoded
	}
	return h
}
