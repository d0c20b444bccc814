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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeStringRoundTrip(t *testing.T) {
	t.Parallel()
	for code := minCode; code <= maxCode; code++ {
		name := code.String()
		assert.NotContains(t, name, "code_", "every defined code should have a name")
		var parsed Code
		assert.NoError(t, parsed.UnmarshalText([]byte(name)))
		assert.Equal(t, code, parsed)
	}
}

func TestCodeUnmarshalTextUnrecognized(t *testing.T) {
	t.Parallel()
	var code Code
	assert.NoError(t, code.UnmarshalText([]byte("not_a_real_code")))
	assert.Equal(t, Code(0), code)
}

func TestHTTPToCodeIsConsistentWithForwardMapping(t *testing.T) {
	t.Parallel()
	// Every code's forward-mapped status must round-trip to *some* code
	// (not necessarily the same one, since several codes share a status).
	for code := minCode; code <= maxCode; code++ {
		status := connectCodeToHTTP(code)
		reverse := httpToCode(status)
		assert.Equal(t, status, connectCodeToHTTP(reverse), "status %d should be stable under one more round trip", status)
	}
}

func TestHTTPToCodeUnrecognizedStatus(t *testing.T) {
	t.Parallel()
	assert.Equal(t, CodeUnknown, httpToCode(599))
}
