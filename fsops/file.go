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

package fsops

import (
	"github.com/google/uuid"
	"github.com/jacobsa/fuse/fuseops"

	"github.com/dynamofs/dynamofs/record"
)

// OpenFile allocates a handle once the inode is confirmed to be a regular
// file. It checks only the type: no read/write permission check on the
// file is made here or at LookUpInode (which checks search permission on
// the parent only). Like gcsfuse's own OpenFile, it defers all the real
// work to Read and Write.
func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) error {
	path := fs.pathForID(op.Inode)
	base, err := fs.records.Lookup(op.Context(), parentDirOf(path), nameOf(path))
	if err != nil {
		return toErrno(err)
	}
	if base.Type != record.KindFile {
		return toErrno(ErrInvalidArg)
	}

	fs.handleMu.Lock()
	id := fs.nextHandleID
	fs.nextHandleID++
	fs.fileHandles[id] = &fileHandle{path: path}
	fs.handleMu.Unlock()

	op.Handle = id
	return nil
}

// ReadFile reads directly from the Block Store; no lock is taken, matching
// spec §4.C's note that reads may observe a torn write under eventual
// consistency (callers needing a consistent snapshot should use an
// advisory read lock, see lock.Manager.Read).
func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) error {
	path := fs.pathForID(op.Inode)
	base, err := fs.records.Lookup(op.Context(), parentDirOf(path), nameOf(path))
	if err != nil {
		return toErrno(err)
	}
	if base.Type != record.KindFile {
		return toErrno(ErrInvalidArg)
	}

	data, err := fs.records.AsFile(base).Read(op.Context(), op.Offset, op.Size)
	if err != nil {
		return toErrno(err)
	}
	op.Data = data
	return nil
}

// WriteFile stripes the write into the Block Store and updates st_size
// under the file's exclusive lock, per spec §4.C.
func (fs *FileSystem) WriteFile(op *fuseops.WriteFileOp) error {
	ctx := op.Context()
	path := fs.pathForID(op.Inode)
	base, err := fs.records.Lookup(ctx, parentDirOf(path), nameOf(path))
	if err != nil {
		return toErrno(err)
	}
	if base.Type != record.KindFile {
		return toErrno(ErrInvalidArg)
	}

	release, err := fs.locks.Exclusive(ctx, recordKey(base), path, uuid.NewString())
	if err != nil {
		return toErrno(err)
	}
	defer release(ctx)

	if _, err := fs.records.AsFile(base).Write(ctx, op.Offset, op.Data); err != nil {
		return toErrno(err)
	}
	return nil
}

// FlushFile is a no-op: every Write already commits synchronously to the
// Block Store and Record Layer, so there is nothing buffered to flush.
func (fs *FileSystem) FlushFile(op *fuseops.FlushFileOp) error {
	return nil
}

// SyncFile mirrors FlushFile for the same reason.
func (fs *FileSystem) SyncFile(op *fuseops.SyncFileOp) error {
	return nil
}

func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	fs.handleMu.Lock()
	delete(fs.fileHandles, op.Handle)
	fs.handleMu.Unlock()
	return nil
}
