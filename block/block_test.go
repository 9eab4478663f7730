// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package block_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynamofs/dynamofs/block"
	"github.com/dynamofs/dynamofs/clock"
	"github.com/dynamofs/dynamofs/kv"
)

func newStore() *block.Store {
	return block.NewStore(kv.NewBlocksFake(), &clock.FakeClock{}, false)
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	data := []byte("hello world")
	require.NoError(t, s.Write(ctx, "blk-1", 0, data))

	got, err := s.Read(ctx, "blk-1", int64(len(data)), 0, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWriteAcrossBlockBoundary(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	data := bytes.Repeat([]byte{0xAB}, 10)
	offset := int64(block.Size - 5)
	require.NoError(t, s.Write(ctx, "blk-2", offset, data))

	got, err := s.Read(ctx, "blk-2", offset+int64(len(data)), offset, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	first, err := s.ReadBlock(ctx, "blk-2", 0, true)
	require.NoError(t, err)
	assert.Len(t, first.Data, block.Size)

	second, err := s.ReadBlock(ctx, "blk-2", 1, true)
	require.NoError(t, err)
	assert.Len(t, second.Data, 5)
}

func TestSparseReadReturnsZeroedGap(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	require.NoError(t, s.Write(ctx, "blk-3", 100000, []byte("x")))

	got, err := s.Read(ctx, "blk-3", 100001, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0}, got)
}

func TestTruncateDropsTrailingBlocksAndTrimsPartial(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	data := bytes.Repeat([]byte{0x01}, 3*block.Size)
	require.NoError(t, s.Write(ctx, "blk-4", 0, data))

	newLen := int64(block.Size + 10)
	require.NoError(t, s.Truncate(ctx, "blk-4", newLen))

	_, err := s.ReadBlock(ctx, "blk-4", 2, false)
	assert.ErrorIs(t, err, kv.ErrNotFound)

	view, err := s.ReadBlock(ctx, "blk-4", 1, true)
	require.NoError(t, err)
	assert.Len(t, view.Data, 10)

	got, err := s.Read(ctx, "blk-4", newLen, 0, int(newLen))
	require.NoError(t, err)
	assert.Len(t, got, int(newLen))
}

func TestTruncateToZeroRemovesAllBlocks(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	require.NoError(t, s.Write(ctx, "blk-5", 0, []byte("abcdef")))
	require.NoError(t, s.Truncate(ctx, "blk-5", 0))

	_, err := s.ReadBlock(ctx, "blk-5", 0, false)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestReadStopsAtShortBlock(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	_, err := s.CreateBlock(ctx, "blk-6", 0)
	require.NoError(t, err)
	view, err := s.ReadBlock(ctx, "blk-6", 0, true)
	require.NoError(t, err)
	s.WriteSliceInto(view, 0, []byte("abc"))
	require.NoError(t, s.Save(ctx, view, nil))

	got, err := s.Read(ctx, "blk-6", int64(block.Size)*2, 0, block.Size*2)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}
