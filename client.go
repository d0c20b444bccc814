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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// clientConfig holds every setting a ClientOption can adjust. The
// compression registries are derived from those settings on demand by its
// methods.
type clientConfig struct {
	Schema           any
	Initializer      maybeInitializer
	Codec            Codec
	CompressionName  string
	CompressionPools map[string]struct{}
	ReadMaxBytes     int
	SendMaxBytes     int
	CompressMinBytes int
	IdempotencyLevel IdempotencyLevel
	EnableGET        bool
	Interceptor      Interceptor
}

func newClientConfig(options ...ClientOption) *clientConfig {
	config := &clientConfig{
		CompressionPools: make(map[string]struct{}),
	}
	withProtoBinaryCodec().applyToClient(config)
	WithClientOptions(options...).applyToClient(config)
	return config
}

// compressionPools resolves the set of algorithms this client will accept
// on responses: every algorithm in the built-in registry, unless the
// caller narrowed the set with WithCompression / WithAcceptCompression.
func (c *clientConfig) compressionPools() readOnlyCompressionPools {
	all := newDefaultCompressionPools()
	wanted := c.CompressionPools
	if len(wanted) == 0 {
		wanted = make(map[string]struct{}, len(all))
		for name := range all {
			wanted[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(wanted))
	filtered := make(map[string]*compressionPool, len(wanted))
	for name := range wanted {
		if pool, ok := all[name]; ok {
			filtered[name] = pool
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return newReadOnlyCompressionPools(filtered, names)
}

func (c *clientConfig) requestCompressionPool() *compressionPool {
	if c.CompressionName == "" {
		return nil
	}
	all := newDefaultCompressionPools()
	return all[c.CompressionName]
}

// UnaryOutput is the non-raising result of a unary call: exactly one of a
// message or an error is meaningful, and both response header sets are
// always populated once the call returns.
type UnaryOutput[T any] struct {
	msg     *T
	header  http.Header
	trailer http.Header
	err     *Error
}

// Message returns the decoded response. It's invalid to call if Err is
// non-nil.
func (o *UnaryOutput[T]) Message() *T { return o.msg }

// Header returns the leading response headers.
func (o *UnaryOutput[T]) Header() http.Header { return o.header }

// Trailer returns the trailing response metadata.
func (o *UnaryOutput[T]) Trailer() http.Header { return o.trailer }

// Err returns the call's error, or nil on success.
func (o *UnaryOutput[T]) Err() *Error { return o.err }

// Client is a strongly-typed, low-level entry point for a single RPC
// method. Generated code builds one Client per method and adapts its
// never-raising Call* primitives into an idiomatic (T, error)-returning
// method.
type Client[Req, Res any] struct {
	httpClient HTTPClient
	url        string
	spec       Spec
	config     *clientConfig
}

// NewClient constructs a Client for one RPC method.
func NewClient[Req, Res any](httpClient HTTPClient, url string, spec Spec, options ...ClientOption) *Client[Req, Res] {
	spec.IsClient = true
	config := newClientConfig(options...)
	if config.Schema == nil {
		config.Schema = spec.Schema
	}
	spec.Schema = config.Schema
	return &Client[Req, Res]{
		httpClient: httpClient,
		url:        url,
		spec:       spec,
		config:     config,
	}
}

// CallUnary invokes a unary RPC. It never returns a Go error: failures are
// reported on the returned UnaryOutput.
func (c *Client[Req, Res]) CallUnary(ctx context.Context, request *Request[Req]) *UnaryOutput[Res] {
	request.spec = c.spec
	request.peer = Peer{Addr: c.url, Protocol: "connect"}
	unary := func(ctx context.Context, request AnyRequest) (AnyResponse, error) {
		out := c.callUnary(ctx, request.(*Request[Req]))
		if out.err != nil {
			return nil, out.err
		}
		response := NewEnvelope(out.msg)
		mergeHeaders(response.Header(), out.header)
		mergeHeaders(response.Trailer(), out.trailer)
		return response, nil
	}
	if c.config.Interceptor != nil {
		unary = c.config.Interceptor.WrapUnary(unary)
	}
	anyResponse, err := unary(ctx, request)
	if err != nil {
		connectErr, _ := asError(err)
		return &UnaryOutput[Res]{err: connectErr, header: make(http.Header), trailer: make(http.Header)}
	}
	response := anyResponse.(*Envelope[Res])
	return &UnaryOutput[Res]{
		msg:     response.Msg,
		header:  response.Header(),
		trailer: response.Trailer(),
	}
}

func (c *Client[Req, Res]) callUnary(ctx context.Context, request *Request[Req]) *UnaryOutput[Res] {
	out := &UnaryOutput[Res]{header: make(http.Header), trailer: make(http.Header)}

	body, marshalErr := c.config.Codec.Marshal(request.Msg)
	if marshalErr != nil {
		out.err = errorf(CodeInternal, "marshal request: %w", marshalErr)
		return out
	}

	requestCompression := ""
	if pool := c.config.requestCompressionPool(); pool != nil && len(body) >= c.config.CompressMinBytes {
		compressed := new(bytes.Buffer)
		if err := pool.Compress(compressed, body); err != nil {
			out.err = errorf(CodeInternal, "compress request: %w", err)
			return out
		}
		body = compressed.Bytes()
		requestCompression = c.config.CompressionName
	}

	header := newConnectRequestHeader(
		StreamTypeUnary,
		"",
		c.config.Codec.Name(),
		requestCompression,
		c.config.compressionPools().CommaSeparatedNames(),
	)
	mergeNonProtocolHeaders(header, encodeBinaryHeaders(request.Header()))
	if timeout, ok := connectEncodeTimeout(ctx); ok {
		setHeaderCanonical(header, connectHeaderTimeout, timeout)
	}

	httpMethod := http.MethodPost
	requestURL := c.url
	if c.config.EnableGET && c.config.IdempotencyLevel == IdempotencyNoSideEffects && requestCompression == "" {
		httpMethod = http.MethodGet
		requestURL = c.buildGETURL(requestURL, body)
		body = nil
	}

	httpRequest, err := http.NewRequestWithContext(ctx, httpMethod, requestURL, bytes.NewReader(body))
	if err != nil {
		out.err = errorf(CodeInternal, "construct request: %w", err)
		return out
	}
	httpRequest.Header = header

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		out.err, _ = wrapTransportError(ctx, err).(*Error)
		if out.err == nil {
			out.err = errorf(CodeUnavailable, "%w", err)
		}
		return out
	}
	defer httpResponse.Body.Close()

	responseContentType := getHeaderCanonical(httpResponse.Header, headerContentType)
	if connectErr := connectValidateUnaryResponseContentType(
		c.config.Codec.Name(),
		httpMethod,
		httpResponse.StatusCode,
		httpResponse.Status,
		canonicalizeContentType(responseContentType),
	); connectErr != nil {
		out.err = connectErr
	}

	responseBody, readErr := io.ReadAll(httpResponse.Body)
	if readErr != nil && out.err == nil {
		out.err = errorf(CodeUnavailable, "read response body: %w", readErr)
	}

	if pool := c.config.compressionPools().Get(getHeaderCanonical(httpResponse.Header, connectUnaryHeaderCompression)); pool != nil && len(responseBody) > 0 {
		decompressed := new(bytes.Buffer)
		if err := pool.Decompress(decompressed, responseBody, int64(c.config.ReadMaxBytes)); err != nil {
			if out.err == nil {
				out.err = errorf(CodeInvalidArgument, "decompress response: %w", err)
			}
		} else {
			responseBody = decompressed.Bytes()
		}
	}

	header, trailer := splitUnaryTrailers(httpResponse.Header)
	out.header = decodeBinaryHeaders(header)
	out.trailer = decodeBinaryHeaders(trailer)

	if httpResponse.StatusCode != http.StatusOK {
		var wireErr connectWireError
		if isConnectWireErrorPayload(responseBody) && json.Unmarshal(responseBody, &wireErr) == nil {
			if out.err == nil {
				out.err = wireErr.asError()
			}
			return out
		}
		if out.err == nil {
			out.err = NewError(httpToCode(httpResponse.StatusCode), errors.New(httpResponse.Status))
		}
		return out
	}

	if out.err != nil {
		return out
	}

	message := new(Res)
	if c.config.Initializer.initializer != nil {
		if err := c.config.Initializer.maybe(c.spec, message); err != nil {
			out.err = errorf(CodeInternal, "initialize response message: %w", err)
			return out
		}
	}
	if len(responseBody) > 0 {
		if err := c.config.Codec.Unmarshal(responseBody, message); err != nil {
			out.err = errorf(CodeInvalidArgument, "unmarshal response: %w", err)
			return out
		}
	}
	out.msg = message
	return out
}

func (c *Client[Req, Res]) buildGETURL(base string, body []byte) string {
	values := url.Values{}
	values.Set(connectUnaryConnectQueryParameter, connectUnaryConnectQueryValue)
	values.Set(connectUnaryEncodingQueryParameter, c.config.Codec.Name())
	values.Set(connectUnaryMessageQueryParameter, base64.RawURLEncoding.EncodeToString(body))
	values.Set(connectUnaryBase64QueryParameter, "1")
	if c.config.CompressionName != "" {
		values.Set(connectUnaryCompressionQueryParameter, c.config.CompressionName)
	}
	if strings.Contains(base, "?") {
		return base + "&" + values.Encode()
	}
	return base + "?" + values.Encode()
}

// splitUnaryTrailers separates HTTP response headers into leading metadata
// and the Trailer-prefixed trailing metadata a Connect unary response
// carries as ordinary headers (HTTP/1.1 has no true trailers on this
// path).
func splitUnaryTrailers(h http.Header) (header, trailer http.Header) {
	header = make(http.Header, len(h))
	trailer = make(http.Header)
	for name, values := range h {
		if strings.HasPrefix(name, connectUnaryTrailerPrefix) {
			trailerName := strings.TrimPrefix(name, connectUnaryTrailerPrefix)
			trailer[http.CanonicalHeaderKey(trailerName)] = values
			continue
		}
		header[name] = values
	}
	return header, trailer
}

// isConnectWireErrorPayload reports whether data looks like a Connect
// ErrorPayload -- specifically, whether it's a JSON object with a "code"
// field -- rather than some other JSON body an intermediary might return.
func isConnectWireErrorPayload(data []byte) bool {
	var probe struct {
		Code *string `json:"code"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Code != nil
}

// connectEncodeTimeout derives the Connect-Timeout-Ms header value from a
// context deadline, rounding up to the nearest millisecond so the wire
// timeout never expires before the local one.
func connectEncodeTimeout(ctx context.Context) (string, bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return "", false
	}
	timeout := time.Until(deadline)
	if timeout <= 0 {
		return "0", true
	}
	millis := timeout.Milliseconds()
	if timeout%time.Millisecond != 0 {
		millis++ // round up so the wire deadline is never tighter than the local one
	}
	str := strconv.FormatInt(millis, 10)
	if len(str) > 10 {
		return "9999999999", true
	}
	return str, true
}
