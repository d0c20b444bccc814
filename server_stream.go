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
	"errors"
	"io"
	"net/http"
)

type streamLifecycle int

const (
	streamOpen streamLifecycle = iota
	streamDraining
	streamClosed
)

// ServerStreamForClient is the client-side handle for a server-streaming
// RPC: one request message, many response messages. It implements the
// Open -> Draining -> Closed lifecycle: ResponseHeader is valid as soon as
// headers arrive, ResponseTrailer only once Receive has returned false,
// and any error encountered is sticky.
type ServerStreamForClient[Res any] struct {
	conn StreamingClientConn
	life streamLifecycle
	msg  *Res
	err  *Error
}

// Spec describes the RPC this stream belongs to.
func (s *ServerStreamForClient[Res]) Spec() Spec { return s.conn.Spec() }

// ResponseHeader returns the leading response headers, blocking until
// they're available.
func (s *ServerStreamForClient[Res]) ResponseHeader() http.Header {
	return s.conn.ResponseHeader()
}

// ResponseTrailer returns the trailing metadata carried by the end-stream
// envelope. It's only well-defined once the stream is Closed; before that
// it returns an empty header set.
func (s *ServerStreamForClient[Res]) ResponseTrailer() http.Header {
	if s.life != streamClosed {
		return make(http.Header)
	}
	return s.conn.ResponseTrailer()
}

// Receive advances the stream and reports whether a message was decoded
// into Msg. It returns false at end of stream, whether by normal
// completion or by error; check Err to distinguish the two.
func (s *ServerStreamForClient[Res]) Receive() bool {
	if s.life == streamClosed {
		return false
	}
	s.life = streamDraining
	msg := new(Res)
	err := s.conn.Receive(msg)
	if err == nil {
		s.msg = msg
		return true
	}
	if !errors.Is(err, io.EOF) {
		s.setSticky(asErrorOrUnknown(err))
	}
	s.closeLocked()
	return false
}

// Msg returns the most recently received message. Only valid immediately
// after a Receive call that returned true.
func (s *ServerStreamForClient[Res]) Msg() *Res { return s.msg }

// Err returns the stream's sticky error, or nil if it ended cleanly.
func (s *ServerStreamForClient[Res]) Err() error {
	if s.err == nil {
		return nil
	}
	return s.err
}

// Close releases the stream's transport slot. It's idempotent and safe to
// call regardless of how much of the stream was drained.
func (s *ServerStreamForClient[Res]) Close() error {
	s.closeLocked()
	return nil
}

func (s *ServerStreamForClient[Res]) setSticky(err *Error) {
	if s.err == nil {
		s.err = err
	}
}

func (s *ServerStreamForClient[Res]) closeLocked() {
	if s.life == streamClosed {
		return
	}
	s.life = streamClosed
	_ = s.conn.CloseResponse()
}
