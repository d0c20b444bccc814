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
	"fmt"
	"io"
	"net/http"
	"sync"
)

// HTTPClient is the interface this module needs from an HTTP client. It's
// satisfied by *http.Client and easy to fake in tests.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// duplexHTTPCall is a full-duplex-shaped wrapper around an HTTP request
// whose body may still be being written when the response headers arrive.
// net/http's Client.Do doesn't return until the request body has been
// fully written, so producing and consuming that body must happen on
// separate goroutines. duplexHTTPCall spawns exactly one goroutine per
// call, wired through an io.Pipe, and exposes ordinary blocking Write and
// Read methods on top of it -- the same "one writer goroutine, one channel
// signaling readiness" split used to decouple RPC production from
// transport dispatch.
type duplexHTTPCall struct {
	ctx        context.Context
	httpClient HTTPClient
	streamType StreamType

	requestBodyReader *io.PipeReader
	requestBodyWriter *io.PipeWriter

	sendRequestOnce sync.Once
	request         *http.Request

	responseReady chan struct{}
	response      *http.Response
	responseErr   error

	onRequestSend func(*http.Request)

	err *Error
}

func newDuplexHTTPCall(
	ctx context.Context,
	httpClient HTTPClient,
	url string,
	streamType StreamType,
	header http.Header,
) *duplexHTTPCall {
	pipeReader, pipeWriter := io.Pipe()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pipeReader)
	call := &duplexHTTPCall{
		ctx:               ctx,
		httpClient:        httpClient,
		streamType:        streamType,
		requestBodyReader: pipeReader,
		requestBodyWriter: pipeWriter,
		responseReady:     make(chan struct{}),
	}
	if err != nil {
		call.err = errorf(CodeInternal, "construct request: %w", err)
		close(call.responseReady)
		return call
	}
	request.Header = header
	if streamType&StreamTypeBidi == StreamTypeBidi {
		request.Proto = "HTTP/2"
		request.ProtoMajor = 2
		request.ProtoMinor = 0
	}
	call.request = request
	return call
}

// Send starts the HTTP round trip in a background goroutine, the first
// time it's called. Later calls are no-ops.
func (d *duplexHTTPCall) Send() {
	d.sendRequestOnce.Do(func() {
		if d.err != nil {
			return
		}
		if d.onRequestSend != nil {
			d.onRequestSend(d.request)
		}
		go func() {
			response, err := d.httpClient.Do(d.request)
			if err != nil {
				err = wrapTransportError(d.ctx, err)
			}
			d.responseErr = err
			d.response = response
			close(d.responseReady)
		}()
	})
}

// Write sends request-body bytes. It blocks the caller's goroutine, not
// the HTTP round trip, since the pipe reader is drained concurrently by
// the transport.
func (d *duplexHTTPCall) Write(data []byte) (int, error) {
	d.Send()
	if d.err != nil {
		return 0, d.err
	}
	n, err := d.requestBodyWriter.Write(data)
	if err != nil {
		return n, d.asRequestError(err)
	}
	return n, nil
}

// CloseWrite signals that no further request messages will be sent. It
// unblocks the transport once it's read everything already buffered.
func (d *duplexHTTPCall) CloseWrite() error {
	// Ensure the round trip has actually started even if the caller never
	// wrote a message (e.g. an empty client stream).
	d.Send()
	if err := d.requestBodyWriter.Close(); err != nil {
		return d.asRequestError(err)
	}
	return nil
}

// Header blocks until response headers are available, then returns them.
func (d *duplexHTTPCall) Header() (http.Header, *Error) {
	if err := d.blockUntilResponseReady(); err != nil {
		return nil, err
	}
	return d.response.Header, nil
}

// StatusCode blocks until response headers are available, then returns the
// HTTP status code.
func (d *duplexHTTPCall) StatusCode() (int, *Error) {
	if err := d.blockUntilResponseReady(); err != nil {
		return 0, err
	}
	return d.response.StatusCode, nil
}

// Read reads response-body bytes. It blocks until response headers are
// available.
func (d *duplexHTTPCall) Read(data []byte) (int, error) {
	if err := d.blockUntilResponseReady(); err != nil {
		return 0, err
	}
	n, err := d.response.Body.Read(data)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, wrapTransportError(d.ctx, err)
	}
	return n, err
}

// CloseRead releases the response body. Safe to call more than once.
func (d *duplexHTTPCall) CloseRead() error {
	if err := d.blockUntilResponseReady(); err != nil {
		return err
	}
	if err := d.response.Body.Close(); err != nil {
		return errorf(CodeUnknown, "close response body: %w", err)
	}
	return nil
}

func (d *duplexHTTPCall) blockUntilResponseReady() *Error {
	if d.err != nil {
		return d.err
	}
	d.Send()
	<-d.responseReady
	if d.responseErr != nil {
		if connectErr, ok := asError(d.responseErr); ok {
			return connectErr
		}
		return errorf(CodeUnavailable, "%w", d.responseErr)
	}
	return nil
}

// asRequestError classifies an error surfaced while writing to the request
// body pipe: if the transport has already failed, that failure is the more
// informative one to report.
func (d *duplexHTTPCall) asRequestError(err error) *Error {
	select {
	case <-d.responseReady:
		if d.responseErr != nil {
			if connectErr, ok := asError(d.responseErr); ok {
				return connectErr
			}
			return errorf(CodeUnavailable, "%w", d.responseErr)
		}
	default:
	}
	connectErr, _ := wrapTransportError(d.ctx, err).(*Error)
	return connectErr
}

// wrapTransportError translates a raw net/http or context error into the
// Connect code a caller should see: canceled and deadline-exceeded contexts
// take priority over whatever the transport reports, since a canceled
// context is usually the root cause of the transport failure.
func wrapTransportError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if connectErr, ok := asError(err); ok {
		return connectErr
	}
	switch ctx.Err() {
	case context.Canceled:
		return NewError(CodeCanceled, fmt.Errorf("%w", err))
	case context.DeadlineExceeded:
		return NewError(CodeDeadlineExceeded, fmt.Errorf("%w", err))
	}
	if errors.Is(err, context.Canceled) {
		return NewError(CodeCanceled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(CodeDeadlineExceeded, err)
	}
	return NewError(CodeUnavailable, err)
}
