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

package fsops_test

import (
	"context"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/require"

	"github.com/dynamofs/dynamofs/block"
	"github.com/dynamofs/dynamofs/clock"
	"github.com/dynamofs/dynamofs/fsops"
	"github.com/dynamofs/dynamofs/kv"
	"github.com/dynamofs/dynamofs/lock"
	"github.com/dynamofs/dynamofs/record"
)

func newTestFS(t *testing.T) *fsops.FileSystem {
	t.Helper()
	ctx := context.Background()
	clk := &clock.FakeClock{}

	meta := kv.NewMetadataFake()
	blocks := block.NewStore(kv.NewBlocksFake(), clk, true)
	records := record.NewStore(meta, blocks, clk)
	require.NoError(t, records.EnsureRoot(ctx, 0o777, 0o755))

	locks := lock.NewManager(lock.New(meta, clk))

	return fsops.New(records, locks, clk, fsops.Config{
		Uid: 1000, Gid: 1000, FileMode: 0o644, DirMode: 0o755,
	})
}

func TestMkDirLookUpAndRmDir(t *testing.T) {
	fs := newTestFS(t)

	mkdirOp := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "sub", Mode: 0o755}
	require.NoError(t, fs.MkDir(mkdirOp))
	require.NotZero(t, mkdirOp.Entry.Child)

	lookUp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "sub"}
	require.NoError(t, fs.LookUpInode(lookUp))
	require.Equal(t, mkdirOp.Entry.Child, lookUp.Entry.Child)

	require.NoError(t, fs.RmDir(&fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "sub"}))

	err := fs.LookUpInode(&fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "sub"})
	require.Error(t, err)
}

func TestCreateWriteReadFile(t *testing.T) {
	fs := newTestFS(t)

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "hello.txt", Mode: 0o644}
	require.NoError(t, fs.CreateFile(create))

	write := &fuseops.WriteFileOp{Inode: create.Entry.Child, Offset: 0, Data: []byte("hello world")}
	require.NoError(t, fs.WriteFile(write))

	open := &fuseops.OpenFileOp{Inode: create.Entry.Child}
	require.NoError(t, fs.OpenFile(open))

	read := &fuseops.ReadFileOp{Inode: create.Entry.Child, Offset: 0, Size: 11}
	require.NoError(t, fs.ReadFile(read))
	require.Equal(t, "hello world", string(read.Data))
}

func TestRenameOverwritesDestinationFile(t *testing.T) {
	fs := newTestFS(t)

	a := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt", Mode: 0o644}
	require.NoError(t, fs.CreateFile(a))
	b := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "b.txt", Mode: 0o644}
	require.NoError(t, fs.CreateFile(b))

	rename := &fuseops.RenameOp{
		OldParent: fuseops.RootInodeID, OldName: "a.txt",
		NewParent: fuseops.RootInodeID, NewName: "b.txt",
	}
	require.NoError(t, fs.Rename(rename))

	require.Error(t, fs.LookUpInode(&fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "a.txt"}))
	require.NoError(t, fs.LookUpInode(&fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "b.txt"}))
}

func TestUnlinkRemovesFile(t *testing.T) {
	fs := newTestFS(t)

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "f.txt", Mode: 0o644}
	require.NoError(t, fs.CreateFile(create))
	require.NoError(t, fs.Unlink(&fuseops.UnlinkOp{Parent: fuseops.RootInodeID, Name: "f.txt"}))

	require.Error(t, fs.LookUpInode(&fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "f.txt"}))
}
