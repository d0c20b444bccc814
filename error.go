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
	"fmt"
	"net/http"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

const defaultAnyResolverPrefix = "type.googleapis.com/"

// An Error captures four key pieces of information: a Code, an underlying
// Go error, a map of metadata, and an optional collection of arbitrary
// Protobuf messages called "details" (see [ErrorDetail] for more).
//
// Error implements the standard [errors.Is]/[errors.As]/[errors.Unwrap]
// idioms by exposing Unwrap.
type Error struct {
	code    Code
	err     error
	meta    http.Header
	details []*ErrorDetail

	// wireErr is true when this Error was constructed from a wire error
	// (i.e., an ErrorPayload) rather than raised locally. Wire errors don't
	// contribute their metadata to the trailer a second time.
	wireErr bool
}

// NewError constructs an Error, wrapping an underlying Go error and
// classifying it with a Code.
func NewError(c Code, underlying error) *Error {
	return &Error{code: c, err: underlying}
}

// NewWireError constructs an Error representing a code and message
// received over the wire in an ErrorPayload. It never wraps an *Error, so
// [errors.As] against a wire error's Code always finds this value.
func NewWireError(c Code, underlying error) *Error {
	err := NewError(c, underlying)
	err.wireErr = true
	return err
}

// errorf calls fmt.Errorf with the supplied template and arguments, then
// wraps the result in an Error with the supplied Code.
func errorf(c Code, template string, args ...any) *Error {
	return NewError(c, fmt.Errorf(template, args...))
}

func (e *Error) Error() string {
	return e.Code().String() + ": " + e.Message()
}

// Message returns the underlying error's message. It's more readable than
// Error, since it omits the code.
func (e *Error) Message() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

// Code returns the error's status code.
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Unwrap allows errors.Is and errors.As access to the underlying error.
func (e *Error) Unwrap() error {
	return e.err
}

// Meta allows the caller to inspect and mutate the request or response
// metadata carried with this error, if any. It's most useful for headers
// captured at the time an error was constructed locally; wire errors carry
// no per-header metadata beyond the end-stream envelope's trailer.
func (e *Error) Meta() http.Header {
	if e.meta == nil {
		e.meta = make(http.Header)
	}
	return e.meta
}

// Details returns the error's details.
func (e *Error) Details() []*ErrorDetail {
	return e.details
}

// AddDetail appends a message to the error's details.
func (e *Error) AddDetail(d *ErrorDetail) {
	e.details = append(e.details, d)
}

func asError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var connectErr *Error
	ok := errors.As(err, &connectErr)
	return connectErr, ok
}

// An ErrorDetail is a self-describing Protobuf message attached to an
// Error. Error details are sent over the wire as the base64-encoded bytes
// of an [anypb.Any], so they survive proxies that don't have the relevant
// Protobuf descriptors.
type ErrorDetail struct {
	pbAny    *anypb.Any
	pbInner  proto.Message
	wireJSON string // preserve human-readable JSON, if unmarshaled from it
}

// NewErrorDetail constructs a new ErrorDetail.
func NewErrorDetail(msg proto.Message) (*ErrorDetail, error) {
	if pbAny, ok := msg.(*anypb.Any); ok {
		return &ErrorDetail{pbAny: pbAny}, nil
	}
	pbAny, err := anypb.New(msg)
	if err != nil {
		return nil, errorf(CodeInternal, "create Any: %w", err)
	}
	return &ErrorDetail{pbAny: pbAny, pbInner: msg}, nil
}

// Type is the fully-qualified name of the detail's Protobuf message, as
// reported in the type URL.
func (d *ErrorDetail) Type() string {
	return typeNameForURL(d.pbAny.GetTypeUrl())
}

// Bytes returns a copy of the serialized detail message.
func (d *ErrorDetail) Bytes() []byte {
	value := d.pbAny.GetValue()
	cloned := make([]byte, len(value))
	copy(cloned, value)
	return cloned
}

// Value unmarshals the detail's Protobuf message.
func (d *ErrorDetail) Value() (proto.Message, error) {
	if d.pbInner != nil {
		return d.pbInner, nil
	}
	return d.pbAny.UnmarshalNew()
}

func typeNameForURL(url string) string {
	if idx := lastSlash(url); idx >= 0 {
		return url[idx+1:]
	}
	return url
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
