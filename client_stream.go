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
)

// CallServerStream invokes a server-streaming RPC: it sends exactly one
// request message, then returns a handle that lazily yields response
// messages. The half-duplex contract requires the request to be fully
// sent before any response is read, so response headers are fetched
// lazily on the first Receive or ResponseHeader call.
func (c *Client[Req, Res]) CallServerStream(ctx context.Context, request *Request[Req]) *ServerStreamForClient[Res] {
	streamFunc := func(ctx context.Context, spec Spec) StreamingClientConn {
		return newConnectClientConn(ctx, c.httpClient, c.url, spec, c.config)
	}
	if c.config.Interceptor != nil {
		streamFunc = c.config.Interceptor.WrapStreamingClient(streamFunc)
	}
	spec := c.spec
	spec.StreamType = StreamTypeServer
	conn := streamFunc(ctx, spec)
	mergeNonProtocolHeaders(conn.RequestHeader(), encodeBinaryHeaders(request.Header()))

	stream := &ServerStreamForClient[Res]{conn: conn}
	if err := conn.Send(request.Msg); err != nil {
		stream.setSticky(asErrorOrUnknown(err))
		stream.closeLocked()
		return stream
	}
	if err := conn.CloseRequest(); err != nil {
		stream.setSticky(asErrorOrUnknown(err))
		stream.closeLocked()
	}
	return stream
}

// ClientStreamForClient is the client-side handle for a client-streaming
// RPC: many request messages, one response message.
type ClientStreamForClient[Req, Res any] struct {
	conn StreamingClientConn
	spec Spec
}

// CallClientStream opens a client-streaming RPC. The caller sends zero or
// more messages with Send, then calls CloseAndReceive to finish the
// request stream and read the server's single reply.
func (c *Client[Req, Res]) CallClientStream(ctx context.Context) *ClientStreamForClient[Req, Res] {
	streamFunc := func(ctx context.Context, spec Spec) StreamingClientConn {
		return newConnectClientConn(ctx, c.httpClient, c.url, spec, c.config)
	}
	if c.config.Interceptor != nil {
		streamFunc = c.config.Interceptor.WrapStreamingClient(streamFunc)
	}
	spec := c.spec
	spec.StreamType = StreamTypeClient
	conn := streamFunc(ctx, spec)
	return &ClientStreamForClient[Req, Res]{conn: conn, spec: spec}
}

// RequestHeader returns the headers that will be sent with the request.
// It must be called before the first Send.
func (s *ClientStreamForClient[Req, Res]) RequestHeader() http.Header {
	return s.conn.RequestHeader()
}

// Send sends one request message.
func (s *ClientStreamForClient[Req, Res]) Send(request *Req) error {
	return s.conn.Send(request)
}

// CloseAndReceive closes the request stream and blocks for the server's
// single response message. Per the client-stream contract, a server that
// sends more than one message causes this to fail with CodeInternal; a
// server that closes without sending any message is a protocol error.
func (s *ClientStreamForClient[Req, Res]) CloseAndReceive() (*Res, error) {
	if err := s.conn.CloseRequest(); err != nil {
		return nil, err
	}
	msg := new(Res)
	if err := s.conn.Receive(msg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errorf(CodeInvalidArgument, "protocol error: client stream ended without a message")
		}
		return nil, err
	}
	var probe struct{}
	if err := s.conn.Receive(&probe); err == nil {
		return nil, errorf(CodeInternal, "protocol error: client stream server sent more than one message")
	} else if !errors.Is(err, io.EOF) {
		return nil, err
	}
	return msg, nil
}

// ResponseHeader returns the response headers, blocking if necessary.
func (s *ClientStreamForClient[Req, Res]) ResponseHeader() http.Header {
	return s.conn.ResponseHeader()
}

// ResponseTrailer returns the response trailers.
func (s *ClientStreamForClient[Req, Res]) ResponseTrailer() http.Header {
	return s.conn.ResponseTrailer()
}

// BidiStreamForClient is the client-side handle for a half-duplex
// bidirectional-streaming RPC: many request messages, then many response
// messages, with the request stream fully sent before any response is
// read.
type BidiStreamForClient[Req, Res any] struct {
	conn StreamingClientConn
	spec Spec
}

// CallBidiStream opens a half-duplex bidirectional-streaming RPC.
func (c *Client[Req, Res]) CallBidiStream(ctx context.Context) *BidiStreamForClient[Req, Res] {
	streamFunc := func(ctx context.Context, spec Spec) StreamingClientConn {
		return newConnectClientConn(ctx, c.httpClient, c.url, spec, c.config)
	}
	if c.config.Interceptor != nil {
		streamFunc = c.config.Interceptor.WrapStreamingClient(streamFunc)
	}
	spec := c.spec
	spec.StreamType = StreamTypeBidi
	conn := streamFunc(ctx, spec)
	return &BidiStreamForClient[Req, Res]{conn: conn, spec: spec}
}

// RequestHeader returns the headers that will be sent with the request.
func (s *BidiStreamForClient[Req, Res]) RequestHeader() http.Header {
	return s.conn.RequestHeader()
}

// Send sends one request-stream message.
func (s *BidiStreamForClient[Req, Res]) Send(request *Req) error {
	return s.conn.Send(request)
}

// CloseRequest signals that the client has finished sending. It must be
// called before Receive, since this module only supports half-duplex
// bidirectional streams.
func (s *BidiStreamForClient[Req, Res]) CloseRequest() error {
	return s.conn.CloseRequest()
}

// Receive reads one response-stream message. A clean end of stream is
// reported as io.EOF.
func (s *BidiStreamForClient[Req, Res]) Receive() (*Res, error) {
	msg := new(Res)
	if err := s.conn.Receive(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// CloseResponse releases the stream's transport slot.
func (s *BidiStreamForClient[Req, Res]) CloseResponse() error {
	return s.conn.CloseResponse()
}

// ResponseHeader returns the response headers, blocking if necessary.
func (s *BidiStreamForClient[Req, Res]) ResponseHeader() http.Header {
	return s.conn.ResponseHeader()
}

// ResponseTrailer returns the response trailers.
func (s *BidiStreamForClient[Req, Res]) ResponseTrailer() http.Header {
	return s.conn.ResponseTrailer()
}

func asErrorOrUnknown(err error) *Error {
	connectErr, ok := asError(err)
	if !ok {
		return errorf(CodeUnknown, "%w", err)
	}
	return connectErr
}
