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
	"net/http"
)

// UnaryFunc is the generic signature of a unary RPC.
//
// The type of the request and response structs depend on the codec being
// used. When using Protobuf, request.Any() and response.Any() will always
// be proto.Message implementations.
type UnaryFunc func(context.Context, AnyRequest) (AnyResponse, error)

// StreamingClientFunc is the generic signature of a streaming RPC from the
// client's perspective.
type StreamingClientFunc func(context.Context, Spec) StreamingClientConn

// StreamingClientConn is the low-level representation of an in-progress
// client-side streaming RPC. Both client_stream.go and server_stream.go
// build their public, generic StreamForClient types on top of one.
// Interceptors see this interface too, so they can wrap sends and receives
// without knowing the concrete transport.
type StreamingClientConn interface {
	Spec() Spec
	Send(message any) error
	RequestHeader() http.Header
	CloseRequest() error

	Receive(message any) error
	ResponseHeader() http.Header
	ResponseTrailer() http.Header
	CloseResponse() error
}

// Interceptor adds logic to a generated client, without changing the
// business logic that calls it. Interceptors may replace the context,
// mutate requests and responses, handle errors, retry, recover from panics,
// emit logs and metrics, or do nearly anything else.
//
// The returned functions must be safe to call concurrently.
type Interceptor interface {
	WrapUnary(UnaryFunc) UnaryFunc
	WrapStreamingClient(StreamingClientFunc) StreamingClientFunc
}

// UnaryInterceptorFunc adapts a plain function to the Interceptor
// interface, applying only to unary calls and leaving streams untouched.
type UnaryInterceptorFunc func(UnaryFunc) UnaryFunc

func (f UnaryInterceptorFunc) WrapUnary(next UnaryFunc) UnaryFunc { return f(next) }

func (f UnaryInterceptorFunc) WrapStreamingClient(next StreamingClientFunc) StreamingClientFunc {
	return next
}

// newChain composes a list of interceptors into one, applying them in the
// order the caller supplied: the first interceptor is the outermost layer.
func newChain(interceptors []Interceptor) Interceptor {
	if len(interceptors) == 0 {
		return nil
	}
	if len(interceptors) == 1 {
		return interceptors[0]
	}
	return &chain{interceptors: interceptors}
}

type chain struct {
	interceptors []Interceptor
}

func (c *chain) WrapUnary(next UnaryFunc) UnaryFunc {
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		next = c.interceptors[i].WrapUnary(next)
	}
	return next
}

func (c *chain) WrapStreamingClient(next StreamingClientFunc) StreamingClientFunc {
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		next = c.interceptors[i].WrapStreamingClient(next)
	}
	return next
}
