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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionPoolsRoundTripEveryAlgorithm(t *testing.T) {
	t.Parallel()
	message := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 100)
	for name, pool := range newDefaultCompressionPools() {
		pool := pool
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			compressed := new(bytes.Buffer)
			require.NoError(t, pool.Compress(compressed, message))
			assert.NotEqual(t, message, compressed.Bytes())

			decompressed := new(bytes.Buffer)
			require.NoError(t, pool.Decompress(decompressed, compressed.Bytes(), 0))
			assert.Equal(t, message, decompressed.Bytes())
		})
	}
}

func TestCompressionPoolDecompressRespectsReadMaxBytes(t *testing.T) {
	t.Parallel()
	message := bytes.Repeat([]byte("x"), 1024)
	pool := newCompressionPool(compressionGzip, &gzipCompressor{})
	compressed := new(bytes.Buffer)
	require.NoError(t, pool.Compress(compressed, message))

	decompressed := new(bytes.Buffer)
	err := pool.Decompress(decompressed, compressed.Bytes(), 16)
	require.Error(t, err)
	connectErr, ok := asError(err)
	require.True(t, ok)
	assert.Equal(t, CodeResourceExhausted, connectErr.Code())
}

func TestReadOnlyCompressionPoolsPrefersLastRegistered(t *testing.T) {
	t.Parallel()
	pools := map[string]*compressionPool{
		compressionGzip:   newCompressionPool(compressionGzip, &gzipCompressor{}),
		compressionBrotli: newCompressionPool(compressionBrotli, &brotliCompressor{}),
	}
	// Registration order is gzip, then brotli; CommaSeparatedNames should
	// list brotli first since it's the most preferred (last registered).
	names := newReadOnlyCompressionPools(pools, []string{compressionGzip, compressionBrotli}).CommaSeparatedNames()
	assert.Equal(t, "br,gzip", names)
}

func TestCompressionPoolsGetIgnoresIdentity(t *testing.T) {
	t.Parallel()
	pools := newReadOnlyCompressionPools(newDefaultCompressionPools(), []string{compressionGzip, compressionBrotli, compressionZstd})
	assert.Nil(t, pools.Get(""))
	assert.Nil(t, pools.Get(compressionIdentity))
	assert.NotNil(t, pools.Get(compressionGzip))
}
