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
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stringMessage struct {
	Value string
}

type stringCodec struct{}

func (stringCodec) Name() string { return "string" }
func (stringCodec) Marshal(message any) ([]byte, error) {
	return []byte(message.(*stringMessage).Value), nil
}
func (stringCodec) Unmarshal(data []byte, message any) error {
	message.(*stringMessage).Value = string(data)
	return nil
}

func newEnvelopePipe(t *testing.T) (*envelopeWriter, *envelopeReader) {
	t.Helper()
	buf := new(bytes.Buffer)
	pools := newBufferPool()
	writer := &envelopeWriter{writer: buf, bufferPool: pools}
	reader := &envelopeReader{reader: buf, codec: stringCodec{}, bufferPool: pools}
	return writer, reader
}

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()
	writer, reader := newEnvelopePipe(t)

	data := bytes.NewBufferString("hello")
	require.Nil(t, writer.Write(&envelope{Data: data}))

	msg := new(stringMessage)
	require.Nil(t, reader.Unmarshal(msg))
	assert.Equal(t, "hello", msg.Value)
}

func TestEnvelopeZeroLengthPayloadLeavesMessageUntouched(t *testing.T) {
	t.Parallel()
	writer, reader := newEnvelopePipe(t)

	require.Nil(t, writer.Write(&envelope{Data: new(bytes.Buffer)}))

	msg := &stringMessage{Value: "untouched"}
	require.Nil(t, reader.Unmarshal(msg))
	assert.Equal(t, "untouched", msg.Value)
}

func TestEnvelopeCleanEOF(t *testing.T) {
	t.Parallel()
	_, reader := newEnvelopePipe(t)
	err := reader.Unmarshal(new(stringMessage))
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, io.EOF))
	assert.Equal(t, CodeUnknown, err.Code())
}

func TestEnvelopeTruncatedHeaderIsInvalidArgument(t *testing.T) {
	t.Parallel()
	buf := new(bytes.Buffer)
	buf.Write([]byte{0x00, 0x00}) // two bytes of a five-byte header
	reader := &envelopeReader{reader: buf, codec: stringCodec{}, bufferPool: newBufferPool()}
	err := reader.Unmarshal(new(stringMessage))
	require.NotNil(t, err)
	assert.Equal(t, CodeInvalidArgument, err.Code())
}

func TestEnvelopeReadMaxBytesExceeded(t *testing.T) {
	t.Parallel()
	writer, reader := newEnvelopePipe(t)
	reader.readMaxBytes = 2

	require.Nil(t, writer.Write(&envelope{Data: bytes.NewBufferString("too long")}))
	err := reader.Unmarshal(new(stringMessage))
	require.NotNil(t, err)
	assert.Equal(t, CodeResourceExhausted, err.Code())
}

func TestEnvelopeInvalidFlagsRejected(t *testing.T) {
	t.Parallel()
	buf := new(bytes.Buffer)
	buf.Write([]byte{0b00000100, 0, 0, 0, 0}) // undefined flag bit
	reader := &envelopeReader{reader: buf, codec: stringCodec{}, bufferPool: newBufferPool()}
	err := reader.Unmarshal(new(stringMessage))
	require.NotNil(t, err)
	assert.Equal(t, CodeInvalidArgument, err.Code())
}

func TestEnvelopeEndStreamSentinel(t *testing.T) {
	t.Parallel()
	writer, reader := newEnvelopePipe(t)
	require.Nil(t, writer.Write(&envelope{Data: bytes.NewBufferString("{}"), Flags: flagEnvelopeEndStream}))

	err := reader.Unmarshal(new(stringMessage))
	assert.True(t, errors.Is(err, errSpecialEnvelope))
	if diff := cmp.Diff("{}", reader.last.Data.String()); diff != "" {
		t.Errorf("end-stream payload mismatch (-want +got):\n%s", diff)
	}
}
