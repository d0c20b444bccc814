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

import "net/http"

// AnyEnvelope is implemented by Envelope[T] for any T. It's the type
// interceptors see, since Go generics can't express "any Envelope"
// directly as a function parameter type.
type AnyEnvelope interface {
	Header() http.Header
	Trailer() http.Header
	Any() any

	internalOnly()
}

// AnyRequest is the generic type of a unary request seen by an
// interceptor's UnaryFunc.
type AnyRequest interface {
	AnyEnvelope

	Spec() Spec
	Peer() Peer
}

// AnyResponse is the generic type of a unary response seen by an
// interceptor's UnaryFunc.
type AnyResponse interface {
	AnyEnvelope
}

// Peer describes the other party to an RPC.
type Peer struct {
	Addr     string
	Protocol string
	Query    map[string][]string
}

// Envelope is a wrapper around a request or response message, carrying the
// HTTP headers and trailers alongside it. Generated clients wrap the
// user-supplied message in a Request[T] or receive a Response[T] built on
// top of this type.
type Envelope[T any] struct {
	Msg    *T
	spec   Spec
	peer   Peer
	header http.Header
	trailer http.Header
}

// NewEnvelope wraps a message for a new request or response.
func NewEnvelope[T any](message *T) *Envelope[T] {
	return &Envelope[T]{
		Msg:    message,
		header: make(http.Header),
	}
}

func (e *Envelope[T]) Any() any { return e.Msg }

func (e *Envelope[T]) Spec() Spec { return e.spec }

func (e *Envelope[T]) Peer() Peer { return e.peer }

// Header returns the HTTP headers for this request or response.
func (e *Envelope[T]) Header() http.Header {
	if e.header == nil {
		e.header = make(http.Header)
	}
	return e.header
}

// Trailer returns the HTTP trailers for this request or response. Trailers
// are only populated on responses, and only after the stream has been
// fully drained.
func (e *Envelope[T]) Trailer() http.Header {
	if e.trailer == nil {
		e.trailer = make(http.Header)
	}
	return e.trailer
}

func (e *Envelope[T]) internalOnly() {}

// Request is a client-issued unary request, wrapping a strongly-typed
// message.
type Request[T any] = Envelope[T]

// Response is a unary response, wrapping a strongly-typed message.
type Response[T any] = Envelope[T]

var (
	_ AnyRequest  = (*Envelope[int])(nil)
	_ AnyResponse = (*Envelope[int])(nil)
)
