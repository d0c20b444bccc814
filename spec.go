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

// StreamType classifies streaming RPCs by the cardinality of requests and
// responses. The Connect protocol treats bidirectional streams as
// half-duplex: the client fully sends its request stream before it starts
// reading responses (see the BidiStream Non-goal on full-duplex).
type StreamType uint8

const (
	// StreamTypeUnary is a single request, single response RPC.
	StreamTypeUnary StreamType = 1 << iota
	// StreamTypeClient is a multi-message request, single response RPC.
	StreamTypeClient
	// StreamTypeServer is a single request, multi-message response RPC.
	StreamTypeServer
	// StreamTypeBidi is a multi-message request, multi-message response RPC,
	// with the client's request stream fully sent before the first response
	// is read.
	StreamTypeBidi = StreamTypeClient | StreamTypeServer
)

func (s StreamType) String() string {
	switch s {
	case StreamTypeUnary:
		return "unary"
	case StreamTypeClient:
		return "client_stream"
	case StreamTypeServer:
		return "server_stream"
	case StreamTypeBidi:
		return "bidi_stream"
	default:
		return "unknown"
	}
}

// IdempotencyLevel mirrors the protobuf MethodOptions.IdempotencyLevel
// enumeration, letting generated code and interceptors reason about whether
// a request can be safely retried.
type IdempotencyLevel int

const (
	IdempotencyUnknown IdempotencyLevel = iota
	IdempotencyNoSideEffects
	IdempotencyIdempotent
)

// Spec is a description of a client call. It's passed by value and is
// available to interceptors and protocol implementations through the values
// that carry it (Envelope.Spec, StreamingClientConn.Spec,
// ServerStreamForClient.Spec).
type Spec struct {
	// Procedure is the fully-qualified name of the RPC, in the form
	// "/package.Service/Method".
	Procedure  string
	StreamType StreamType
	// IsClient is always true in this package: it exists only so that Spec
	// can be shared with server-side code should this module ever grow a
	// Handler counterpart.
	IsClient bool
	// Schema carries a generator-supplied description of the RPC, typically
	// a protoreflect.MethodDescriptor. The core never inspects it.
	Schema any
}
