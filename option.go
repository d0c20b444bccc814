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

// A ClientOption configures a [Client].
type ClientOption interface {
	applyToClient(*clientConfig)
}

// WithClientOptions composes multiple ClientOptions into one.
func WithClientOptions(options ...ClientOption) ClientOption {
	return &clientOptionsOption{options}
}

// WithSchema provides a parsed representation of the schema for an RPC to a
// client. The supplied schema is exposed as [Spec.Schema]. This option is
// typically added by generated code.
//
// For services using protobuf schemas, the supplied schema should be a
// protoreflect.MethodDescriptor.
func WithSchema(schema any) ClientOption {
	return &schemaOption{Schema: schema}
}

// WithResponseInitializer provides a function that initializes a new
// message. It may be used to dynamically construct response messages. It is
// called when a unary response is received, to construct the message to be
// unmarshaled into. The message will be a non-nil pointer to the type
// created by the client. Use the Schema field of the [Spec] to determine the
// type of the message. Streaming responses don't call it: each streamed
// message is decoded into a new zero value of the response type.
func WithResponseInitializer(initializer func(spec Spec, message any) error) ClientOption {
	return &initializerOption{Initializer: initializer}
}

// WithCodec registers the serialization method a client uses to encode
// requests and decode responses. Clients may only have a single codec.
//
// By default, clients use binary Protocol Buffer data via
// google.golang.org/protobuf/proto.
//
// Registering a codec with an empty name is a no-op.
func WithCodec(codec Codec) ClientOption {
	return &codecOption{Codec: codec}
}

// WithCompression registers a compression algorithm by name and configures
// the client to request it as the preferred codec for outgoing requests.
// The algorithm's Compressor must already be registered internally (gzip,
// br, and zstd are, out of the box).
func WithCompression(name string) ClientOption {
	return &compressionOption{Name: name}
}

// WithAcceptCompression adds a compression algorithm's name to the
// negotiated Accept-Encoding / Connect-Accept-Encoding set, without
// requesting it for the outgoing request. Without this option or
// WithCompression, every built-in algorithm is accepted; once either names
// an algorithm, only the named algorithms are accepted.
func WithAcceptCompression(names ...string) ClientOption {
	return &acceptCompressionOption{Names: names}
}

// WithReadMaxBytes limits the performance impact of pathologically large
// messages sent by the server. Limits apply to each message, not to the
// stream as a whole.
//
// Setting WithReadMaxBytes to zero allows any message size. Clients default
// to allowing any response size.
func WithReadMaxBytes(maxBytes int) ClientOption {
	return &readMaxBytesOption{Max: maxBytes}
}

// WithSendMaxBytes prevents sending messages too large for the server to
// handle without significant performance overhead. Limits apply to each
// message, not to the stream as a whole.
//
// Setting WithSendMaxBytes to zero allows any message size. Clients default
// to allowing any message size.
func WithSendMaxBytes(maxBytes int) ClientOption {
	return &sendMaxBytesOption{Max: maxBytes}
}

// WithCompressMinBytes sets the minimum message size, in bytes, that
// triggers compression. Messages smaller than this are always sent
// uncompressed, since compression overhead outweighs the savings for small
// payloads. The default is zero, compressing every message.
func WithCompressMinBytes(min int) ClientOption {
	return &compressMinBytesOption{Min: min}
}

// WithIdempotency declares the idempotency of the procedure. This can
// determine whether a procedure call can safely be retried, and whether a
// unary call may be sent as an HTTP GET instead of a POST.
//
// In most cases you should not need to manually set this; it's normally
// set by the code generator for your schema. For protobuf schemas, it can
// be set like this:
//
//	rpc Ping(PingRequest) returns (PingResponse) {
//	  option idempotency_level = NO_SIDE_EFFECTS;
//	}
func WithIdempotency(idempotencyLevel IdempotencyLevel) ClientOption {
	return &idempotencyOption{idempotencyLevel: idempotencyLevel}
}

// WithGET configures the client to send side-effect-free unary calls
// (WithIdempotency(IdempotencyNoSideEffects)) as HTTP GET requests with the
// message encoded in the query string, rather than as HTTP POST requests.
// It has no effect on procedures that aren't declared side-effect free.
func WithGET() ClientOption {
	return &getOption{}
}

// WithInterceptors configures a client's interceptor stack. Repeated
// WithInterceptors options are applied in order, so
//
//	WithInterceptors(A) + WithInterceptors(B, C) == WithInterceptors(A, B, C)
//
// Unary interceptors compose like an onion: the first interceptor provided
// is the outermost layer, acting first on the context and request and last
// on the response and error. Streaming client interceptors behave the same
// way, wrapping the StreamingClientConn each call produces.
func WithInterceptors(interceptors ...Interceptor) ClientOption {
	return &interceptorsOption{interceptors}
}

// WithOptions composes multiple ClientOptions into one.
func WithOptions(options ...ClientOption) ClientOption {
	return &optionsOption{options}
}

type schemaOption struct {
	Schema any
}

func (o *schemaOption) applyToClient(config *clientConfig) {
	config.Schema = o.Schema
}

type initializerOption struct {
	Initializer func(spec Spec, message any) error
}

func (o *initializerOption) applyToClient(config *clientConfig) {
	config.Initializer = maybeInitializer{initializer: o.Initializer}
}

type maybeInitializer struct {
	initializer func(spec Spec, message any) error
}

func (o maybeInitializer) maybe(spec Spec, message any) error {
	if o.initializer != nil {
		return o.initializer(spec, message)
	}
	return nil
}

type clientOptionsOption struct {
	options []ClientOption
}

func (o *clientOptionsOption) applyToClient(config *clientConfig) {
	for _, option := range o.options {
		option.applyToClient(config)
	}
}

type codecOption struct {
	Codec Codec
}

func (o *codecOption) applyToClient(config *clientConfig) {
	if o.Codec == nil || o.Codec.Name() == "" {
		return
	}
	config.Codec = o.Codec
}

type compressionOption struct {
	Name string
}

func (o *compressionOption) applyToClient(config *clientConfig) {
	if o.Name == "" || o.Name == compressionIdentity {
		return
	}
	config.CompressionName = o.Name
	config.CompressionPools[o.Name] = struct{}{}
}

type acceptCompressionOption struct {
	Names []string
}

func (o *acceptCompressionOption) applyToClient(config *clientConfig) {
	for _, name := range o.Names {
		if name == "" || name == compressionIdentity {
			continue
		}
		config.CompressionPools[name] = struct{}{}
	}
}

type readMaxBytesOption struct {
	Max int
}

func (o *readMaxBytesOption) applyToClient(config *clientConfig) {
	config.ReadMaxBytes = o.Max
}

type sendMaxBytesOption struct {
	Max int
}

func (o *sendMaxBytesOption) applyToClient(config *clientConfig) {
	config.SendMaxBytes = o.Max
}

type compressMinBytesOption struct {
	Min int
}

func (o *compressMinBytesOption) applyToClient(config *clientConfig) {
	config.CompressMinBytes = o.Min
}

type idempotencyOption struct {
	idempotencyLevel IdempotencyLevel
}

func (o *idempotencyOption) applyToClient(config *clientConfig) {
	config.IdempotencyLevel = o.idempotencyLevel
}

type getOption struct{}

func (o *getOption) applyToClient(config *clientConfig) {
	config.EnableGET = true
}

type interceptorsOption struct {
	Interceptors []Interceptor
}

func (o *interceptorsOption) applyToClient(config *clientConfig) {
	config.Interceptor = o.chainWith(config.Interceptor)
}

func (o *interceptorsOption) chainWith(current Interceptor) Interceptor {
	if len(o.Interceptors) == 0 {
		return current
	}
	if current == nil && len(o.Interceptors) == 1 {
		return o.Interceptors[0]
	}
	if current == nil && len(o.Interceptors) > 1 {
		return newChain(o.Interceptors)
	}
	return newChain(append([]Interceptor{current}, o.Interceptors...))
}

type optionsOption struct {
	options []ClientOption
}

func (o *optionsOption) applyToClient(config *clientConfig) {
	for _, option := range o.options {
		option.applyToClient(config)
	}
}

func withProtoBinaryCodec() ClientOption {
	return WithCodec(&protoBinaryCodec{})
}
