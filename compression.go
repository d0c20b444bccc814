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
	"compress/gzip"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

const (
	compressionIdentity = "identity"
	compressionGzip     = "gzip"
	compressionBrotli   = "br"
	compressionZstd     = "zstd"
)

// A Compressor decompresses and (re-)compresses envelope payloads. Codecs
// are looked up by name, so the wire's Content-Encoding /
// Connect-Content-Encoding header selects the pool used for a given
// message.
type Compressor interface {
	// Compress appends the compressed form of src to dst.
	Compress(dst *bytes.Buffer, src []byte) error
	// Decompress appends the decompressed form of src to dst, refusing to
	// grow the output past readMaxBytes (0 means unlimited).
	Decompress(dst *bytes.Buffer, src []byte, readMaxBytes int64) error
}

// compressionPool pools compressors and decompressors for one named
// algorithm, since most implementations (particularly gzip's) allocate
// substantial internal buffers.
type compressionPool struct {
	name string
	pool Compressor
}

func newCompressionPool(name string, compressor Compressor) *compressionPool {
	return &compressionPool{name: name, pool: compressor}
}

func (c *compressionPool) Compress(dst *bytes.Buffer, src []byte) error {
	return c.pool.Compress(dst, src)
}

func (c *compressionPool) Decompress(dst *bytes.Buffer, src []byte, readMaxBytes int64) error {
	return c.pool.Decompress(dst, src, readMaxBytes)
}

// readOnlyCompressionPools is a read-only interface to a map of named
// compressionPools.
type readOnlyCompressionPools interface {
	Get(string) *compressionPool
	Contains(string) bool
	// Wordy, but clarifies this returns a header-ready string, not a slice.
	CommaSeparatedNames() string
}

func newReadOnlyCompressionPools(
	nameToPool map[string]*compressionPool,
	reversedNames []string,
) readOnlyCompressionPools {
	// Names are listed in the reverse of the order given, so the last one is
	// the most preferred. clientConfig.compressionPools passes them sorted
	// by name, not in registration order.
	names := make([]string, 0, len(reversedNames))
	seen := make(map[string]struct{}, len(reversedNames))
	for i := len(reversedNames) - 1; i >= 0; i-- {
		name := reversedNames[i]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return &namedCompressionPools{
		nameToPool:          nameToPool,
		commaSeparatedNames: strings.Join(names, ","),
	}
}

type namedCompressionPools struct {
	nameToPool          map[string]*compressionPool
	commaSeparatedNames string
}

func (m *namedCompressionPools) Get(name string) *compressionPool {
	if name == "" || name == compressionIdentity {
		return nil
	}
	return m.nameToPool[name]
}

func (m *namedCompressionPools) Contains(name string) bool {
	_, ok := m.nameToPool[name]
	return ok
}

func (m *namedCompressionPools) CommaSeparatedNames() string {
	return m.commaSeparatedNames
}

// newDefaultCompressionPools registers the codecs any Connect client
// supports out of the box: gzip via the standard library, and brotli/zstd
// via the third-party libraries the Connect ecosystem standardizes on.
func newDefaultCompressionPools() map[string]*compressionPool {
	return map[string]*compressionPool{
		compressionGzip:   newCompressionPool(compressionGzip, &gzipCompressor{}),
		compressionBrotli: newCompressionPool(compressionBrotli, &brotliCompressor{}),
		compressionZstd:   newCompressionPool(compressionZstd, &zstdCompressor{}),
	}
}

// gzipCompressor wraps the standard library's compress/gzip. Its API is
// already stdlib-shaped and gRPC-Go uses the same package for the same
// purpose, so there's no ecosystem library worth adopting purely for gzip.
type gzipCompressor struct {
	writerPool sync.Pool
	readerPool sync.Pool
}

func (c *gzipCompressor) Compress(dst *bytes.Buffer, src []byte) error {
	writer, ok := c.writerPool.Get().(*gzip.Writer)
	if !ok {
		writer = gzip.NewWriter(dst)
	} else {
		writer.Reset(dst)
	}
	defer c.writerPool.Put(writer)
	if _, err := writer.Write(src); err != nil {
		return err
	}
	return writer.Close()
}

func (c *gzipCompressor) Decompress(dst *bytes.Buffer, src []byte, readMaxBytes int64) error {
	reader, ok := c.readerPool.Get().(*gzip.Reader)
	if !ok {
		newReader, err := gzip.NewReader(bytes.NewReader(src))
		if err != nil {
			return errorf(CodeInvalidArgument, "read gzip: %w", err)
		}
		reader = newReader
	} else if err := reader.Reset(bytes.NewReader(src)); err != nil {
		c.readerPool.Put(reader)
		return errorf(CodeInvalidArgument, "read gzip: %w", err)
	}
	defer c.readerPool.Put(reader)
	return limitedCopy(dst, reader, readMaxBytes)
}

// brotliCompressor wraps github.com/andybalholm/brotli, the library the
// Connect conformance suite uses for brotli support.
type brotliCompressor struct{}

func (c *brotliCompressor) Compress(dst *bytes.Buffer, src []byte) error {
	writer := brotli.NewWriter(dst)
	if _, err := writer.Write(src); err != nil {
		return err
	}
	return writer.Close()
}

func (c *brotliCompressor) Decompress(dst *bytes.Buffer, src []byte, readMaxBytes int64) error {
	reader := brotli.NewReader(bytes.NewReader(src))
	return limitedCopy(dst, reader, readMaxBytes)
}

// zstdCompressor wraps github.com/klauspost/compress/zstd, the library the
// Connect conformance suite and several other pack repos already depend on.
type zstdCompressor struct {
	encoderPool sync.Pool
}

func (c *zstdCompressor) Compress(dst *bytes.Buffer, src []byte) error {
	encoder, ok := c.encoderPool.Get().(*zstd.Encoder)
	if !ok {
		newEncoder, err := zstd.NewWriter(dst)
		if err != nil {
			return errorf(CodeInternal, "create zstd encoder: %w", err)
		}
		encoder = newEncoder
	} else {
		encoder.Reset(dst)
	}
	defer c.encoderPool.Put(encoder)
	if _, err := encoder.Write(src); err != nil {
		return err
	}
	return encoder.Close()
}

func (c *zstdCompressor) Decompress(dst *bytes.Buffer, src []byte, readMaxBytes int64) error {
	decoder, err := zstd.NewReader(bytes.NewReader(src))
	if err != nil {
		return errorf(CodeInvalidArgument, "read zstd: %w", err)
	}
	defer decoder.Close()
	return limitedCopy(dst, decoder, readMaxBytes)
}

func limitedCopy(dst *bytes.Buffer, src io.Reader, readMaxBytes int64) error {
	if readMaxBytes > 0 {
		src = io.LimitReader(src, readMaxBytes+1)
	}
	written, err := io.Copy(dst, src)
	if err != nil {
		return errorf(CodeInvalidArgument, "decompress: %w", err)
	}
	if readMaxBytes > 0 && written > readMaxBytes {
		return errorf(CodeResourceExhausted, "message is larger than configured max %d", readMaxBytes)
	}
	return nil
}
