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
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBinaryHeaderIsUnpaddedURLSafe(t *testing.T) {
	t.Parallel()
	value := []byte{0xff, 0xee, 0x00, 0x01}
	encoded := EncodeBinaryHeader(value)
	assert.NotContains(t, encoded, "=")
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(value), encoded)
}

func TestDecodeBinaryHeaderAcceptsEveryVariant(t *testing.T) {
	t.Parallel()
	value := []byte("hello, world! \xff\x00")
	variants := map[string]string{
		"raw url":      base64.RawURLEncoding.EncodeToString(value),
		"padded url":   base64.URLEncoding.EncodeToString(value),
		"raw std":      base64.RawStdEncoding.EncodeToString(value),
		"padded std":   base64.StdEncoding.EncodeToString(value),
	}
	for name, encoded := range variants {
		encoded := encoded
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			decoded, err := DecodeBinaryHeader(encoded)
			require.NoError(t, err)
			assert.Equal(t, value, decoded)
		})
	}
}

func TestEncodeDecodeBinaryHeadersRoundTrip(t *testing.T) {
	t.Parallel()
	h := http.Header{}
	h.Set("Trace-Id-Bin", string([]byte{0x01, 0x02, 0xff}))
	h.Set("X-Plain", "unchanged")

	encoded := encodeBinaryHeaders(h)
	assert.NotEqual(t, string([]byte{0x01, 0x02, 0xff}), encoded.Get("Trace-Id-Bin"))
	assert.Equal(t, "unchanged", encoded.Get("X-Plain"))

	decoded := decodeBinaryHeaders(encoded)
	assert.Equal(t, string([]byte{0x01, 0x02, 0xff}), decoded.Get("Trace-Id-Bin"))
}

func TestDecodeBinaryHeadersDropsUndecodableValues(t *testing.T) {
	t.Parallel()
	h := http.Header{"Bad-Bin": {"not base64!!"}}
	decoded := decodeBinaryHeaders(h)
	assert.Empty(t, decoded.Get("Bad-Bin"))
}

func TestMergeNonProtocolHeadersSkipsProtocolHeaders(t *testing.T) {
	t.Parallel()
	src := http.Header{}
	src.Set(headerContentType, "application/proto")
	src.Set(connectHeaderProtocolVersion, "1")
	src.Set("X-Custom", "value")

	dst := http.Header{}
	mergeNonProtocolHeaders(dst, src)

	want := http.Header{"X-Custom": {"value"}}
	if diff := cmp.Diff(want, dst); diff != "" {
		t.Errorf("unexpected header set (-want +got):\n%s", diff)
	}
}

func TestCanonicalizeContentType(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "application/json", canonicalizeContentType("application/json; charset=utf-8"))
	assert.Equal(t, "application/proto", canonicalizeContentType("application/proto"))
}
