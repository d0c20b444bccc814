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
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuplexHTTPCallWriteAndRead(t *testing.T) {
	t.Parallel()
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		return jsonResponse(http.StatusOK, http.Header{"X-Echo": {string(body)}}, []byte("response body")), nil
	})

	call := newDuplexHTTPCall(context.Background(), transport, "https://example.com/svc/Method", StreamTypeUnary, make(http.Header))
	n, err := call.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, call.CloseWrite())

	header, connectErr := call.Header()
	require.Nil(t, connectErr)
	assert.Equal(t, "hello", header.Get("X-Echo"))

	data, err := io.ReadAll(call)
	require.NoError(t, err)
	assert.Equal(t, "response body", string(data))
	require.NoError(t, call.CloseRead())
}

func TestDuplexHTTPCallTransportFailurePropagatesToStatusCode(t *testing.T) {
	t.Parallel()
	boom := errors.New("dial tcp: connection refused")
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		go io.Copy(io.Discard, req.Body) //nolint:errcheck
		return nil, boom
	})

	call := newDuplexHTTPCall(context.Background(), transport, "https://example.com/svc/Method", StreamTypeUnary, make(http.Header))
	_, err := call.StatusCode()
	require.NotNil(t, err)
	assert.Equal(t, CodeUnavailable, err.Code())
}

func TestWrapTransportErrorPrefersCanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := wrapTransportError(ctx, errors.New("read: connection reset"))
	connectErr, ok := asError(err)
	require.True(t, ok)
	assert.Equal(t, CodeCanceled, connectErr.Code())
}

func TestWrapTransportErrorDeadlineExceeded(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	err := wrapTransportError(ctx, context.DeadlineExceeded)
	connectErr, ok := asError(err)
	require.True(t, ok)
	assert.Equal(t, CodeDeadlineExceeded, connectErr.Code())
}

func TestWrapTransportErrorDefaultsToUnavailable(t *testing.T) {
	t.Parallel()
	err := wrapTransportError(context.Background(), errors.New("connection reset by peer"))
	connectErr, ok := asError(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnavailable, connectErr.Code())
}

func TestConnectEncodeTimeoutRoundsUpToMillisecond(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Microsecond)
	defer cancel()
	value, ok := connectEncodeTimeout(ctx)
	require.True(t, ok)
	assert.Equal(t, "2", value)
}

func TestConnectEncodeTimeoutNoDeadline(t *testing.T) {
	t.Parallel()
	_, ok := connectEncodeTimeout(context.Background())
	assert.False(t, ok)
}
