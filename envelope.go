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
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	flagEnvelopeCompressed = 0b00000001
	flagEnvelopeEndStream  = 0b00000010
)

// errSpecialEnvelope is a sentinel returned by envelopeReader.Unmarshal when
// it consumes an end-stream envelope rather than a user message. Protocol
// unmarshalers (see connectStreamingUnmarshaler) intercept it by pointer
// identity, extract the end-stream payload, and re-raise the very same
// pointer so callers can recognize a normal, protocol-defined end of stream
// with a plain errors.Is check.
var errSpecialEnvelope = NewError(CodeInternal, errors.New("connect: end of stream envelope"))

// envelope is one length-prefixed frame of a streaming request or response
// body: one flags octet, four bytes of big-endian length, then that many
// bytes of (possibly compressed) payload.
type envelope struct {
	Data  *bytes.Buffer
	Flags uint8
}

// IsSet reports whether the given flag bit is set.
func (e *envelope) IsSet(flag uint8) bool {
	return e.Flags&flag == flag
}

// envelopeWriter emits envelopes to an io.Writer, compressing payloads that
// meet the configured compression threshold.
type envelopeWriter struct {
	writer           io.Writer
	compressionPool  *compressionPool
	bufferPool       *bufferPool
	sendMaxBytes     int
	compressMinBytes int
}

// Write emits one envelope. The caller retains ownership of env.Data's
// underlying buffer; Write does not take ownership or return it to a pool.
func (w *envelopeWriter) Write(env *envelope) *Error {
	if env.IsSet(flagEnvelopeCompressed) {
		// Caller already indicated this payload is pre-compressed; nothing
		// to do here except emit it.
		return w.write(env)
	}
	if w.compressionPool == nil || env.Data.Len() < w.compressMinBytes {
		return w.write(env)
	}
	compressed := w.bufferPool.Get()
	defer w.bufferPool.Put(compressed)
	if err := w.compressionPool.Compress(compressed, env.Data.Bytes()); err != nil {
		return errorf(CodeInternal, "compress: %w", err)
	}
	env.Data = compressed
	env.Flags |= flagEnvelopeCompressed
	return w.write(env)
}

func (w *envelopeWriter) write(env *envelope) *Error {
	if w.sendMaxBytes > 0 && env.Data.Len() > w.sendMaxBytes {
		return errorf(CodeResourceExhausted, "message size %d exceeds sendMaxBytes %d", env.Data.Len(), w.sendMaxBytes)
	}
	var header [5]byte
	header[0] = env.Flags
	binary.BigEndian.PutUint32(header[1:5], uint32(env.Data.Len()))
	if _, err := w.writer.Write(header[:]); err != nil {
		return errorf(CodeUnavailable, "write envelope header: %w", err)
	}
	if _, err := w.writer.Write(env.Data.Bytes()); err != nil {
		return errorf(CodeUnavailable, "write envelope body: %w", err)
	}
	return nil
}

// envelopeReader consumes envelopes from an io.Reader, one at a time, via
// repeated calls to Unmarshal.
type envelopeReader struct {
	reader          io.Reader
	codec           Codec
	compressionPool *compressionPool
	bufferPool      *bufferPool
	readMaxBytes    int64

	last *envelope
}

// Unmarshal reads one envelope from the underlying reader and decodes it
// into message. On a clean end of stream (no bytes read for a fresh
// envelope), it returns a CodeUnknown *Error wrapping io.EOF, so
// errors.Is(err, io.EOF) holds. If the envelope just consumed is the
// end-stream sentinel, it returns errSpecialEnvelope so the protocol layer
// can extract trailers/error before treating the stream as done.
func (r *envelopeReader) Unmarshal(message any) *Error {
	var header [5]byte
	n, err := io.ReadFull(r.reader, header[:])
	switch {
	case err == nil:
		// Got a full header.
	case errors.Is(err, io.EOF) && n == 0:
		return NewError(CodeUnknown, io.EOF)
	case errors.Is(err, io.ErrUnexpectedEOF) || (errors.Is(err, io.EOF) && n > 0):
		return errorf(CodeInvalidArgument, "protocol error: truncated envelope header: %w", err)
	default:
		return errorf(CodeUnavailable, "read envelope header: %w", err)
	}

	flags := header[0]
	if flags&^(flagEnvelopeCompressed|flagEnvelopeEndStream) != 0 {
		return errorf(CodeInvalidArgument, "protocol error: invalid envelope flags %d", flags)
	}
	length := binary.BigEndian.Uint32(header[1:5])

	data := r.bufferPool.Get()
	if length > 0 {
		if r.readMaxBytes > 0 && int64(length) > r.readMaxBytes {
			return errorf(CodeResourceExhausted, "message size %d exceeds readMaxBytes %d", length, r.readMaxBytes)
		}
		if _, err := io.CopyN(data, r.reader, int64(length)); err != nil {
			return errorf(CodeInvalidArgument, "protocol error: truncated envelope body: %w", err)
		}
	}

	env := &envelope{Data: data, Flags: flags}
	r.last = env

	if env.IsSet(flagEnvelopeEndStream) {
		if env.IsSet(flagEnvelopeCompressed) {
			return errorf(CodeInvalidArgument, "protocol error: end-stream envelope must not be compressed")
		}
		return errSpecialEnvelope
	}

	if env.IsSet(flagEnvelopeCompressed) {
		if r.compressionPool == nil {
			return errorf(CodeInvalidArgument, "protocol error: received a compressed envelope but stream has no compression negotiated")
		}
		decompressed := r.bufferPool.Get()
		defer r.bufferPool.Put(decompressed)
		if err := r.compressionPool.Decompress(decompressed, data.Bytes(), r.readMaxBytes); err != nil {
			return errorf(CodeInvalidArgument, "decompress envelope: %w", err)
		}
		defer r.bufferPool.Put(data)
		data = decompressed
	} else {
		defer r.bufferPool.Put(data)
	}

	if data.Len() == 0 {
		// A zero-length payload is a legal, empty user message: leave the
		// caller's zero-valued message untouched rather than asking the
		// codec to parse an empty buffer (some codecs, like JSON, reject it).
		return nil
	}
	if err := r.codec.Unmarshal(data.Bytes(), message); err != nil {
		return errorf(CodeInvalidArgument, "unmarshal message: %w", err)
	}
	return nil
}
