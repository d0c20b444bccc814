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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTripFunc adapts a plain function to the HTTPClient interface, the
// same "fake transport" shape httptest.Server callers use, but without
// spinning up a real listener.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

func TestCallUnarySuccess(t *testing.T) {
	t.Parallel()
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"Value":"ping"}`, string(body))

		header := http.Header{"Content-Type": {"application/json"}}
		return jsonResponse(http.StatusOK, header, []byte(`{"Value":"pong"}`)), nil
	})

	client := NewClient[stringMessage, stringMessage](
		transport, "https://example.com/svc/Method",
		Spec{StreamType: StreamTypeUnary},
		WithCodec(NewJSONCodec()),
	)
	out := client.CallUnary(context.Background(), NewEnvelope(&stringMessage{Value: "ping"}))
	require.Nil(t, out.Err())
	assert.Equal(t, "pong", out.Message().Value)
}

func TestCallUnaryWireError(t *testing.T) {
	t.Parallel()
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		payload, err := json.Marshal(map[string]string{"code": "not_found", "message": "no such widget"})
		require.NoError(t, err)
		header := http.Header{"Content-Type": {"application/json"}}
		return jsonResponse(http.StatusNotFound, header, payload), nil
	})

	client := NewClient[stringMessage, stringMessage](
		transport, "https://example.com/svc/Method",
		Spec{StreamType: StreamTypeUnary},
		WithCodec(NewJSONCodec()),
	)
	out := client.CallUnary(context.Background(), NewEnvelope(&stringMessage{Value: "ping"}))
	require.NotNil(t, out.Err())
	assert.Equal(t, CodeNotFound, out.Err().Code())
	assert.Equal(t, "no such widget", out.Err().Message())
}

func TestCallUnaryNonConnectErrorStatus(t *testing.T) {
	t.Parallel()
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadGateway, nil, []byte("<html>bad gateway</html>")), nil
	})

	client := NewClient[stringMessage, stringMessage](
		transport, "https://example.com/svc/Method",
		Spec{StreamType: StreamTypeUnary},
		WithCodec(NewJSONCodec()),
	)
	out := client.CallUnary(context.Background(), NewEnvelope(&stringMessage{Value: "ping"}))
	require.NotNil(t, out.Err())
	assert.Equal(t, CodeUnknown, out.Err().Code())
}

func TestCallUnaryTransportFailureIsUnavailable(t *testing.T) {
	t.Parallel()
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	client := NewClient[stringMessage, stringMessage](
		transport, "https://example.com/svc/Method",
		Spec{StreamType: StreamTypeUnary},
		WithCodec(NewJSONCodec()),
	)
	out := client.CallUnary(context.Background(), NewEnvelope(&stringMessage{Value: "ping"}))
	require.NotNil(t, out.Err())
	assert.Equal(t, CodeUnavailable, out.Err().Code())
}

func TestCallUnaryGETEncodingForIdempotentRequests(t *testing.T) {
	t.Parallel()
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "v1", req.URL.Query().Get("connect"))
		assert.Equal(t, "json", req.URL.Query().Get("encoding"))
		assert.Equal(t, "1", req.URL.Query().Get("base64"))
		header := http.Header{"Content-Type": {"application/json"}}
		return jsonResponse(http.StatusOK, header, []byte(`{"Value":"pong"}`)), nil
	})

	client := NewClient[stringMessage, stringMessage](
		transport, "https://example.com/svc/Method",
		Spec{StreamType: StreamTypeUnary},
		WithCodec(NewJSONCodec()),
		WithGET(),
		WithIdempotency(IdempotencyNoSideEffects),
	)
	out := client.CallUnary(context.Background(), NewEnvelope(&stringMessage{Value: "ping"}))
	require.Nil(t, out.Err())
	assert.Equal(t, "pong", out.Message().Value)
}

// streamingServer builds a fake transport that discards the request and
// replies with a fixed sequence of stream messages framed as Connect
// streaming envelopes, followed by an end-stream envelope carrying trailer
// metadata.
func streamingServer(t *testing.T, messages []string, endErr *connectWireError, trailer http.Header) roundTripFunc {
	t.Helper()
	return func(req *http.Request) (*http.Response, error) {
		// Drain the request body so the client's io.Pipe-backed writer
		// (which blocks until something reads the other end) doesn't stall
		// waiting on a fake transport that doesn't care about the request.
		go io.Copy(io.Discard, req.Body) //nolint:errcheck

		buf := new(bytes.Buffer)
		writer := envelopeWriter{writer: buf, bufferPool: newBufferPool()}
		for _, msg := range messages {
			require.Nil(t, writer.Write(&envelope{Data: bytes.NewBufferString(msg)}))
		}
		end := connectEndStreamMessage{Error: endErr, Trailer: trailer}
		data, err := json.Marshal(end)
		require.NoError(t, err)
		require.Nil(t, writer.Write(&envelope{Data: bytes.NewBuffer(data), Flags: connectFlagEnvelopeEndStream}))

		header := http.Header{"Content-Type": {"application/connect+json"}}
		return jsonResponse(http.StatusOK, header, buf.Bytes()), nil
	}
}

func TestCallServerStreamReceivesEveryMessageThenCleanEOF(t *testing.T) {
	t.Parallel()
	transport := streamingServer(t, []string{`{"Value":"one"}`, `{"Value":"two"}`}, nil, http.Header{"X": {"y"}})

	client := NewClient[stringMessage, stringMessage](
		transport, "https://example.com/svc/Method",
		Spec{StreamType: StreamTypeServer},
		WithCodec(NewJSONCodec()),
	)
	stream := client.CallServerStream(context.Background(), NewEnvelope(&stringMessage{Value: "ignored"}))

	var got []string
	for stream.Receive() {
		got = append(got, stream.Msg().Value)
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []string{"one", "two"}, got)
	assert.Equal(t, "y", stream.ResponseTrailer().Get("X"))
}

func TestCallServerStreamSurfacesServerError(t *testing.T) {
	t.Parallel()
	transport := streamingServer(t, nil, &connectWireError{Code: CodeResourceExhausted, Message: "quota exceeded"}, nil)

	client := NewClient[stringMessage, stringMessage](
		transport, "https://example.com/svc/Method",
		Spec{StreamType: StreamTypeServer},
		WithCodec(NewJSONCodec()),
	)
	stream := client.CallServerStream(context.Background(), NewEnvelope(&stringMessage{Value: "ignored"}))

	assert.False(t, stream.Receive())
	require.Error(t, stream.Err())
	connectErr, ok := asError(stream.Err())
	require.True(t, ok)
	assert.Equal(t, CodeResourceExhausted, connectErr.Code())
}

func TestCallClientStreamCloseAndReceive(t *testing.T) {
	t.Parallel()
	transport := streamingServer(t, []string{`{"Value":"reply"}`}, nil, nil)

	client := NewClient[stringMessage, stringMessage](
		transport, "https://example.com/svc/Method",
		Spec{StreamType: StreamTypeClient},
		WithCodec(NewJSONCodec()),
	)
	stream := client.CallClientStream(context.Background())
	require.NoError(t, stream.Send(&stringMessage{Value: "hi"}))
	resp, err := stream.CloseAndReceive()
	require.NoError(t, err)
	assert.Equal(t, "reply", resp.Value)
}

func TestCallClientStreamMoreThanOneMessageIsInternalError(t *testing.T) {
	t.Parallel()
	transport := streamingServer(t, []string{`{"Value":"one"}`, `{"Value":"two"}`}, nil, nil)

	client := NewClient[stringMessage, stringMessage](
		transport, "https://example.com/svc/Method",
		Spec{StreamType: StreamTypeClient},
		WithCodec(NewJSONCodec()),
	)
	stream := client.CallClientStream(context.Background())
	_, err := stream.CloseAndReceive()
	require.Error(t, err)
	connectErr, ok := asError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInternal, connectErr.Code())
}

func TestCallBidiStreamHalfDuplex(t *testing.T) {
	t.Parallel()
	transport := streamingServer(t, []string{`{"Value":"a"}`, `{"Value":"b"}`}, nil, nil)

	client := NewClient[stringMessage, stringMessage](
		transport, "https://example.com/svc/Method",
		Spec{StreamType: StreamTypeBidi},
		WithCodec(NewJSONCodec()),
	)
	stream := client.CallBidiStream(context.Background())
	require.NoError(t, stream.Send(&stringMessage{Value: "hello"}))
	require.NoError(t, stream.CloseRequest())

	var got []string
	for {
		msg, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, msg.Value)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}
