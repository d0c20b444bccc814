// Package eliza is a hand-written, generated-code-shaped client for the
// Eliza demo service (connectrpc.eliza.v1.ElizaService), exercising unary,
// server-streaming and half-duplex bidirectional calls on top of a plain
// JSON wire format -- no protobuf compiler required.
package eliza

import (
	"context"

	connect "github.com/agentio/connectcore"
)

// SayRequest is the unary request message for Say.
type SayRequest struct {
	Sentence string `json:"sentence"`
}

// SayResponse is the unary response message for Say.
type SayResponse struct {
	Sentence string `json:"sentence"`
}

// IntroduceRequest starts a server-streaming introduction.
type IntroduceRequest struct {
	Name string `json:"name"`
}

// IntroduceResponse is one line of Eliza's introduction.
type IntroduceResponse struct {
	Sentence string `json:"sentence"`
}

// ConverseRequest is one message in a bidirectional conversation.
type ConverseRequest struct {
	Sentence string `json:"sentence"`
}

// ConverseResponse is one of Eliza's replies in a bidirectional
// conversation.
type ConverseResponse struct {
	Sentence string `json:"sentence"`
}

const serviceName = "connectrpc.eliza.v1.ElizaService"

// ElizaServiceClient is the generated-shaped client for ElizaService. It
// adapts the never-raising Call* primitives on each underlying
// connect.Client into idiomatic, error-returning methods.
type ElizaServiceClient struct {
	say       *connect.Client[SayRequest, SayResponse]
	introduce *connect.Client[IntroduceRequest, IntroduceResponse]
	converse  *connect.Client[ConverseRequest, ConverseResponse]
}

// NewElizaServiceClient constructs a client for every ElizaService method,
// rooted at baseURL (e.g. "https://demo.connectrpc.com").
func NewElizaServiceClient(httpClient connect.HTTPClient, baseURL string, options ...connect.ClientOption) *ElizaServiceClient {
	options = append([]connect.ClientOption{connect.WithCodec(connect.NewJSONCodec())}, options...)
	return &ElizaServiceClient{
		say: connect.NewClient[SayRequest, SayResponse](
			httpClient, baseURL+"/"+serviceName+"/Say",
			connect.Spec{StreamType: connect.StreamTypeUnary},
			options...,
		),
		introduce: connect.NewClient[IntroduceRequest, IntroduceResponse](
			httpClient, baseURL+"/"+serviceName+"/Introduce",
			connect.Spec{StreamType: connect.StreamTypeServer},
			options...,
		),
		converse: connect.NewClient[ConverseRequest, ConverseResponse](
			httpClient, baseURL+"/"+serviceName+"/Converse",
			connect.Spec{StreamType: connect.StreamTypeBidi},
			options...,
		),
	}
}

// Say sends a single sentence and returns Eliza's single reply.
func (c *ElizaServiceClient) Say(ctx context.Context, req *SayRequest) (*SayResponse, error) {
	out := c.say.CallUnary(ctx, connect.NewEnvelope(req))
	if err := out.Err(); err != nil {
		return nil, err
	}
	return out.Message(), nil
}

// CallSay is the never-raising primitive behind Say, exposing response
// headers and trailers to callers that need them.
func (c *ElizaServiceClient) CallSay(ctx context.Context, req *connect.Request[SayRequest]) *connect.UnaryOutput[SayResponse] {
	return c.say.CallUnary(ctx, req)
}

// Introduce streams a short introduction, one sentence per message.
func (c *ElizaServiceClient) Introduce(ctx context.Context, req *IntroduceRequest) *connect.ServerStreamForClient[IntroduceResponse] {
	return c.introduce.CallServerStream(ctx, connect.NewEnvelope(req))
}

// Converse opens a half-duplex conversation: send every request message,
// call CloseRequest, then read replies with Receive.
func (c *ElizaServiceClient) Converse(ctx context.Context) *connect.BidiStreamForClient[ConverseRequest, ConverseResponse] {
	return c.converse.CallBidiStream(ctx)
}
