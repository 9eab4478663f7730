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
	"context"

	"github.com/jacobsa/fuse/fuseops"
)

// fuseutil.FileSystem has no F_GETLK/F_SETLK/F_SETLKW hook to implement
// against (the vnode interface jacobsa/fuse exposes stops at read/write/
// flush), so POSIX advisory locking is surfaced here as plain methods a
// syscall-layer shim (ioctl or a side channel, outside this package's
// scope) can call directly against the Lock Layer.

// LockRange acquires the whole-file advisory write lock for path on
// behalf of owner (the kernel's lock_owner or pid, supplied by the
// syscall-layer shim), approximating F_SETLKW: dynamofs does not model
// byte-range locks, only whole-file locks, per the Lock Layer's design.
// A distinct owner already holding the lock surfaces as EBUSY.
func (fs *FileSystem) LockRange(ctx context.Context, inode fuseops.InodeID, owner string) (func(context.Context) error, error) {
	path := fs.pathForID(inode)
	base, err := fs.records.Lookup(ctx, parentDirOf(path), nameOf(path))
	if err != nil {
		return nil, toErrno(err)
	}
	release, err := fs.locks.Write(ctx, recordKey(base), path, owner)
	if err != nil {
		return nil, toErrno(err)
	}
	return release, nil
}

// LockRangeShared acquires the shared advisory read lock on behalf of
// owner, approximating F_RDLCK.
func (fs *FileSystem) LockRangeShared(ctx context.Context, inode fuseops.InodeID, owner string) (func(context.Context) error, error) {
	path := fs.pathForID(inode)
	base, err := fs.records.Lookup(ctx, parentDirOf(path), nameOf(path))
	if err != nil {
		return nil, toErrno(err)
	}
	release, err := fs.locks.Read(ctx, recordKey(base), path, owner)
	if err != nil {
		return nil, toErrno(err)
	}
	return release, nil
}
