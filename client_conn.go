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
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// connectClientConn is the concrete StreamingClientConn used by every
// streaming call shape (client-stream, server-stream, half-duplex bidi).
// It owns the duplex HTTP call and the envelope marshaler/unmarshaler pair
// that ride on top of it.
type connectClientConn struct {
	spec       Spec
	config     *clientConfig
	duplexCall *duplexHTTPCall

	marshaler   connectStreamingMarshaler
	unmarshaler connectStreamingUnmarshaler

	responseReady bool
	responseErr   *Error
}

func newConnectClientConn(
	ctx context.Context,
	httpClient HTTPClient,
	url string,
	spec Spec,
	config *clientConfig,
) *connectClientConn {
	header := newConnectRequestHeader(
		spec.StreamType,
		"",
		config.Codec.Name(),
		config.CompressionName,
		config.compressionPools().CommaSeparatedNames(),
	)
	if timeout, ok := connectEncodeTimeout(ctx); ok {
		setHeaderCanonical(header, connectHeaderTimeout, timeout)
	}
	duplexCall := newDuplexHTTPCall(ctx, httpClient, url, spec.StreamType, header)

	pools := newBufferPool()
	conn := &connectClientConn{spec: spec, config: config, duplexCall: duplexCall}
	conn.marshaler = connectStreamingMarshaler{
		envelopeWriter: envelopeWriter{
			writer:           duplexCall,
			compressionPool:  config.requestCompressionPool(),
			bufferPool:       pools,
			sendMaxBytes:     config.SendMaxBytes,
			compressMinBytes: config.CompressMinBytes,
		},
	}
	conn.unmarshaler = connectStreamingUnmarshaler{
		envelopeReader: envelopeReader{
			reader:       duplexCall,
			codec:        config.Codec,
			bufferPool:   pools,
			readMaxBytes: int64(config.ReadMaxBytes),
		},
	}
	return conn
}

func (c *connectClientConn) Spec() Spec { return c.spec }

func (c *connectClientConn) RequestHeader() http.Header { return c.duplexCall.request.Header }

// Send marshals and writes one request-stream message.
func (c *connectClientConn) Send(message any) error {
	data, err := c.config.Codec.Marshal(message)
	if err != nil {
		return errorf(CodeInternal, "marshal message: %w", err)
	}
	buf := c.unmarshaler.bufferPool.Get()
	buf.Write(data)
	if connectErr := c.marshaler.Write(&envelope{Data: buf}); connectErr != nil {
		c.unmarshaler.bufferPool.Put(buf)
		return connectErr
	}
	c.unmarshaler.bufferPool.Put(buf)
	return nil
}

// CloseRequest signals that the request stream is finished.
func (c *connectClientConn) CloseRequest() error {
	if err := c.duplexCall.CloseWrite(); err != nil {
		return err
	}
	return nil
}

// ensureResponse blocks until response headers arrive and validates the
// status code and content-type, exactly once.
func (c *connectClientConn) ensureResponse() *Error {
	if c.responseReady {
		return c.responseErr
	}
	c.responseReady = true

	statusCode, err := c.duplexCall.StatusCode()
	if err != nil {
		c.responseErr = err
		return err
	}
	header, err := c.duplexCall.Header()
	if err != nil {
		c.responseErr = err
		return err
	}

	if statusCode != http.StatusOK {
		body, readErr := io.ReadAll(io.LimitReader(c.duplexCall.response.Body, 16*1024))
		if readErr == nil && isConnectWireErrorPayload(body) {
			var wireErr connectWireError
			if json.Unmarshal(body, &wireErr) == nil {
				c.responseErr = wireErr.asError()
				return c.responseErr
			}
		}
		c.responseErr = NewError(httpToCode(statusCode), errors.New(c.duplexCall.response.Status))
		return c.responseErr
	}

	responseContentType := canonicalizeContentType(getHeaderCanonical(header, headerContentType))
	if connectErr := connectValidateStreamResponseContentType(c.config.Codec.Name(), c.spec.StreamType, responseContentType); connectErr != nil {
		c.responseErr = connectErr
		return connectErr
	}
	if pool := c.config.compressionPools().Get(getHeaderCanonical(header, connectStreamingHeaderCompression)); pool != nil {
		c.unmarshaler.compressionPool = pool
	} else if name := getHeaderCanonical(header, connectStreamingHeaderCompression); name != "" && name != compressionIdentity {
		connectErr := errorf(CodeInternal, "unknown compression %q", name)
		c.responseErr = connectErr
		return connectErr
	}
	return nil
}

// Receive blocks until response headers arrive (on the first call) and
// then reads one message from the stream. On a clean, expected end of
// stream it returns io.EOF; a server-signaled error arrives as the *Error
// carried by the end-stream envelope; a stream that closes without ever
// sending an end-stream envelope is reported as CodeInvalidArgument.
func (c *connectClientConn) Receive(message any) error {
	if connectErr := c.ensureResponse(); connectErr != nil {
		return connectErr
	}
	connectErr := c.unmarshaler.Unmarshal(message)
	if connectErr == nil {
		return nil
	}
	if connectErr == errSpecialEnvelope { //nolint:errorlint // pointer-identity sentinel, see envelope.go
		if end := c.unmarshaler.EndStreamError(); end != nil {
			return end
		}
		return io.EOF
	}
	if errors.Is(connectErr, io.EOF) {
		return errorf(CodeInvalidArgument, "protocol error: missing end-of-stream")
	}
	return connectErr
}

func (c *connectClientConn) ResponseHeader() http.Header {
	c.ensureResponse()
	header, err := c.duplexCall.Header()
	if err != nil {
		return make(http.Header)
	}
	return decodeBinaryHeaders(header)
}

// ResponseTrailer is only meaningful once the end-stream envelope has been
// consumed by Receive; it returns whatever has been captured so far.
func (c *connectClientConn) ResponseTrailer() http.Header {
	if c.unmarshaler.trailer == nil {
		return make(http.Header)
	}
	return decodeBinaryHeaders(c.unmarshaler.trailer)
}

func (c *connectClientConn) CloseResponse() error {
	return c.duplexCall.CloseRead()
}

