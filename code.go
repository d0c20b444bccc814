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

import "fmt"

// A Code is one of the Connect protocol's error codes. There are no
// user-defined codes, so only the codes enumerated below are valid.
type Code uint32

const (
	// CodeCanceled indicates the operation was canceled, typically by the
	// caller.
	CodeCanceled Code = iota + 1
	// CodeUnknown indicates the operation failed for an unknown reason.
	CodeUnknown
	// CodeInvalidArgument indicates the client specified an invalid argument.
	CodeInvalidArgument
	// CodeDeadlineExceeded indicates the operation expired before completion.
	CodeDeadlineExceeded
	// CodeNotFound indicates a requested resource wasn't found.
	CodeNotFound
	// CodeAlreadyExists indicates a resource the client tried to create
	// already exists.
	CodeAlreadyExists
	// CodePermissionDenied indicates the caller doesn't have permission to
	// execute the specified operation.
	CodePermissionDenied
	// CodeResourceExhausted indicates some resource has been exhausted.
	CodeResourceExhausted
	// CodeFailedPrecondition indicates the system is not in a state
	// required for the operation's execution.
	CodeFailedPrecondition
	// CodeAborted indicates the operation was aborted.
	CodeAborted
	// CodeOutOfRange indicates the operation was attempted past the valid
	// range.
	CodeOutOfRange
	// CodeUnimplemented indicates the operation isn't implemented,
	// supported, or enabled.
	CodeUnimplemented
	// CodeInternal indicates an internal error.
	CodeInternal
	// CodeUnavailable indicates the service is currently unavailable.
	CodeUnavailable
	// CodeDataLoss indicates unrecoverable data loss or corruption.
	CodeDataLoss
	// CodeUnauthenticated indicates the request does not have valid
	// authentication credentials.
	CodeUnauthenticated
)

const (
	minCode = CodeCanceled
	maxCode = CodeUnauthenticated
)

func (c Code) String() string {
	switch c {
	case CodeCanceled:
		return "canceled"
	case CodeUnknown:
		return "unknown"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeDeadlineExceeded:
		return "deadline_exceeded"
	case CodeNotFound:
		return "not_found"
	case CodeAlreadyExists:
		return "already_exists"
	case CodePermissionDenied:
		return "permission_denied"
	case CodeResourceExhausted:
		return "resource_exhausted"
	case CodeFailedPrecondition:
		return "failed_precondition"
	case CodeAborted:
		return "aborted"
	case CodeOutOfRange:
		return "out_of_range"
	case CodeUnimplemented:
		return "unimplemented"
	case CodeInternal:
		return "internal"
	case CodeUnavailable:
		return "unavailable"
	case CodeDataLoss:
		return "data_loss"
	case CodeUnauthenticated:
		return "unauthenticated"
	default:
		return fmt.Sprintf("code_%d", uint32(c))
	}
}

// MarshalText implements encoding.TextMarshaler, primarily so that Codes can
// be serialized as end-stream and unary error JSON.
func (c Code) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unrecognized codes are
// left as the zero value rather than producing an error: the wire error
// decoder treats an unrecognized code string as CodeUnknown.
func (c *Code) UnmarshalText(data []byte) error {
	code, ok := codeFromString(string(data))
	if !ok {
		*c = 0
		return nil
	}
	*c = code
	return nil
}

func codeFromString(name string) (Code, bool) {
	for code := minCode; code <= maxCode; code++ {
		if code.String() == name {
			return code, true
		}
	}
	return 0, false
}

// connectCodeToHTTP maps a Connect error code to the HTTP status used on the
// wire, per the fixed table in the Connect protocol.
func connectCodeToHTTP(code Code) int {
	// Return literals rather than named constants from the HTTP package to
	// make it easier to compare this function to the Connect specification.
	switch code {
	case CodeCanceled:
		return 499
	case CodeUnknown:
		return 500
	case CodeInvalidArgument:
		return 400
	case CodeDeadlineExceeded:
		return 504
	case CodeNotFound:
		return 404
	case CodeAlreadyExists:
		return 409
	case CodePermissionDenied:
		return 403
	case CodeResourceExhausted:
		return 429
	case CodeFailedPrecondition:
		return 400
	case CodeAborted:
		return 409
	case CodeOutOfRange:
		return 400
	case CodeUnimplemented:
		return 501
	case CodeInternal:
		return 500
	case CodeUnavailable:
		return 503
	case CodeDataLoss:
		return 500
	case CodeUnauthenticated:
		return 401
	default:
		return 500 // same as CodeUnknown
	}
}

// httpToCode is the reverse of connectCodeToHTTP, used only when a non-200
// response carries no Connect-formatted error body. Several codes share an
// HTTP status (400, 409, 500); we pick the first code in the table with that
// status as the canonical reverse mapping, since the Connect protocol
// doesn't otherwise disambiguate.
func httpToCode(httpStatus int) Code {
	switch httpStatus {
	case 499:
		return CodeCanceled
	case 400:
		return CodeInvalidArgument
	case 504:
		return CodeDeadlineExceeded
	case 404:
		return CodeNotFound
	case 409:
		return CodeAlreadyExists
	case 403:
		return CodePermissionDenied
	case 429:
		return CodeResourceExhausted
	case 501:
		return CodeUnimplemented
	case 503:
		return CodeUnavailable
	case 401:
		return CodeUnauthenticated
	case 500:
		return CodeUnknown
	default:
		return CodeUnknown
	}
}
