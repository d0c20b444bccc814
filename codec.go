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
	"encoding/json"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const (
	codecNameProto           = "proto"
	codecNameJSON            = "json"
	codecNameJSONCharsetUTF8 = codecNameJSON + "; charset=utf-8"
)

// A Codec serializes and deserializes messages of a given wire format. The
// generated-code layer and message schema are external collaborators; a
// Codec only needs to round-trip whatever concrete type the caller supplies.
type Codec interface {
	// Name returns the name of the Codec, as used in Content-Type and
	// Accept negotiation.
	Name() string
	Marshal(message any) ([]byte, error)
	Unmarshal(data []byte, message any) error
}

// protoBinaryCodec marshals and unmarshals binary Protobuf messages using
// google.golang.org/protobuf/proto, the wire format named "proto" in the
// Connect protocol.
type protoBinaryCodec struct{}

func (c *protoBinaryCodec) Name() string { return codecNameProto }

func (c *protoBinaryCodec) Marshal(message any) ([]byte, error) {
	protoMessage, ok := message.(proto.Message)
	if !ok {
		return nil, errorf(CodeInternal, "%T doesn't implement proto.Message", message)
	}
	return proto.Marshal(protoMessage)
}

func (c *protoBinaryCodec) Unmarshal(data []byte, message any) error {
	protoMessage, ok := message.(proto.Message)
	if !ok {
		return errorf(CodeInternal, "%T doesn't implement proto.Message", message)
	}
	return proto.Unmarshal(data, protoMessage)
}

// protoJSONCodec marshals and unmarshals Protobuf messages as JSON using
// protojson, the wire format named "json" in the Connect protocol. It falls
// back to encoding/json for messages that aren't proto.Message
// implementations, so plain Go structs (as used by example/demo services
// that don't run the Protobuf compiler) still work over the JSON codec.
type protoJSONCodec struct{}

func (c *protoJSONCodec) Name() string { return codecNameJSON }

func (c *protoJSONCodec) Marshal(message any) ([]byte, error) {
	if protoMessage, ok := message.(proto.Message); ok {
		return protojson.MarshalOptions{EmitUnpopulated: true}.Marshal(protoMessage)
	}
	data, err := json.Marshal(message)
	if err != nil {
		return nil, errorf(CodeInternal, "marshal json: %w", err)
	}
	return data, nil
}

func (c *protoJSONCodec) Unmarshal(data []byte, message any) error {
	if len(data) == 0 {
		return errorf(CodeInvalidArgument, "zero-length payload is not a valid %s", c.Name())
	}
	if protoMessage, ok := message.(proto.Message); ok {
		return protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(data, protoMessage)
	}
	if err := json.Unmarshal(data, message); err != nil {
		return errorf(CodeInvalidArgument, "unmarshal json: %w", err)
	}
	return nil
}

// NewProtoCodec returns the binary Protobuf codec used by default.
func NewProtoCodec() Codec { return &protoBinaryCodec{} }

// NewJSONCodec returns the JSON codec. Messages that don't implement
// proto.Message round-trip through encoding/json, so this codec also
// serves hand-written, non-generated client code.
func NewJSONCodec() Codec { return &protoJSONCodec{} }

// contentTypeError renders the informative "invalid content-type" errors
// used across the unary and streaming response paths.
func contentTypeError(code Code, got, want string) *Error {
	return errorf(code, "invalid content-type: %q; expecting %q", got, want)
}
