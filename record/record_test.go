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

package record_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynamofs/dynamofs/block"
	"github.com/dynamofs/dynamofs/clock"
	"github.com/dynamofs/dynamofs/kv"
	"github.com/dynamofs/dynamofs/record"
)

func newStore(t *testing.T) *record.Store {
	t.Helper()
	meta := kv.NewMetadataFake()
	blocks := block.NewStore(kv.NewBlocksFake(), &clock.FakeClock{}, false)
	return record.NewStore(meta, blocks, &clock.FakeClock{})
}

func TestCreateWriteStatReadDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.EnsureRoot(ctx, 0o755, 0o755))

	f, err := s.CreateFile(ctx, "/", "f", 0o644, 1000, 1000)
	require.NoError(t, err)

	n, err := f.Write(ctx, 0, []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.EqualValues(t, 11, f.Base.Size)

	got, err := f.Read(ctx, 0, 11)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	require.NoError(t, f.Delete(ctx, func() string { return "tomb-1" }))

	_, err = s.Lookup(ctx, "/", "f")
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestSparseWrite(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.EnsureRoot(ctx, 0o755, 0o755))

	f, err := s.CreateFile(ctx, "/", "s", 0o644, 0, 0)
	require.NoError(t, err)

	_, err = f.Write(ctx, 100000, []byte("x"))
	require.NoError(t, err)
	assert.EqualValues(t, 100001, f.Base.Size)

	got, err := f.Read(ctx, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0}, got)
}

func TestHardLinkSurvivesSourceUnlink(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.EnsureRoot(ctx, 0o755, 0o755))

	f, err := s.CreateFile(ctx, "/", "t", 0o644, 0, 0)
	require.NoError(t, err)
	_, err = f.Write(ctx, 0, []byte("abc"))
	require.NoError(t, err)

	_, err = s.CreateLink(ctx, "/", "u", "/t")
	require.NoError(t, err)

	require.NoError(t, f.Delete(ctx, func() string { return "tomb-2" }))

	uBase, err := s.Lookup(ctx, "/", "u")
	require.NoError(t, err)
	link := s.AsLink(uBase)

	targetBase, err := link.Target(ctx)
	require.NoError(t, err)
	target := s.AsFile(targetBase)

	got, err := target.Read(ctx, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	assert.EqualValues(t, 1, targetBase.Nlink)

	_, err = s.Lookup(ctx, "/", "t")
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestDirectoryRename(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.EnsureRoot(ctx, 0o755, 0o755))

	d, err := s.CreateDirectory(ctx, "/", "d", 0o755, 0, 0)
	require.NoError(t, err)
	_, err = s.CreateFile(ctx, "/d", "x", 0o644, 0, 0)
	require.NoError(t, err)

	require.NoError(t, d.MoveTo(ctx, "/", "e"))

	eBase, err := s.Lookup(ctx, "/", "e")
	require.NoError(t, err)
	entries, err := s.AsDirectory(eBase).List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x", entries[0].Name)

	_, err = s.Lookup(ctx, "/", "d")
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestChmodRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.EnsureRoot(ctx, 0o755, 0o755))

	_, err := s.CreateFile(ctx, "/", "f", 0o644, 1000, 1000)
	require.NoError(t, err)

	base, err := s.Lookup(ctx, "/", "f")
	require.NoError(t, err)

	err = base.Chmod(2000, []uint32{2000}, 0o600)
	assert.True(t, record.ErrPermission(err))

	require.NoError(t, base.Chmod(1000, []uint32{1000}, 0o600))
	assert.Equal(t, uint32(0o600), base.Mode)

	require.NoError(t, base.Chmod(0, nil, 0o400))
	assert.Equal(t, uint32(0o400), base.Mode)
}

func TestChmodClearsSetgidForNonMember(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.EnsureRoot(ctx, 0o755, 0o755))

	_, err := s.CreateFile(ctx, "/", "f", 0o644, 1000, 2000)
	require.NoError(t, err)

	base, err := s.Lookup(ctx, "/", "f")
	require.NoError(t, err)

	require.NoError(t, base.Chmod(1000, []uint32{1000}, 0o2755))
	assert.Equal(t, uint32(0o755), base.Mode, "setgid should drop: caller not in file's group")

	require.NoError(t, base.Chmod(1000, []uint32{1000, 2000}, 0o2755))
	assert.Equal(t, uint32(0o2755), base.Mode, "setgid should survive: caller is in file's group")
}

func TestTruncateThenStatThenReadPastEnd(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.EnsureRoot(ctx, 0o755, 0o755))

	f, err := s.CreateFile(ctx, "/", "f", 0o644, 0, 0)
	require.NoError(t, err)
	_, err = f.Write(ctx, 0, []byte("hello world"))
	require.NoError(t, err)

	require.NoError(t, f.Truncate(ctx, 5))
	assert.EqualValues(t, 5, f.Base.Size)

	got, err := f.Read(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
