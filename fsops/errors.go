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
	"errors"
	"syscall"

	"github.com/jacobsa/fuse"

	"github.com/dynamofs/dynamofs/kv"
	"github.com/dynamofs/dynamofs/lock"
	"github.com/dynamofs/dynamofs/record"
)

// ErrNameTooLong and ErrPathTooLong are synthesised by fsops itself
// before any record/kv call, per spec §6's name/path length constants.
var (
	ErrNameTooLong = errors.New("fsops: name exceeds 255 bytes")
	ErrPathTooLong = errors.New("fsops: path exceeds 4096 bytes")
	ErrIsDir       = errors.New("fsops: is a directory")
	ErrNotDir      = errors.New("fsops: not a directory")
	ErrNotEmpty    = errors.New("fsops: directory not empty")
	ErrInvalidArg  = errors.New("fsops: invalid argument")
)

// toErrno is the single place raw backend/record/lock errors are
// translated to fuse.Errno, per spec §7: callers above this package
// never see a kv or record error directly.
func toErrno(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, record.ErrNotFound):
		return fuse.ENOENT
	case errors.Is(err, record.ErrExists):
		return fuse.EEXIST
	case errors.Is(err, record.ErrRetryExhausted):
		return fuse.EIO
	case record.ErrPermission(err):
		return fuse.Errno(syscall.EACCES)
	case errors.Is(err, lock.ErrWouldBlock):
		return fuse.Errno(syscall.EAGAIN)
	case errors.Is(err, lock.ErrBusy):
		return fuse.Errno(syscall.EBUSY)
	case errors.Is(err, kv.ErrTransient):
		return fuse.EIO
	case errors.Is(err, kv.ErrConditionFailed):
		return fuse.EIO
	case errors.Is(err, ErrNameTooLong), errors.Is(err, ErrPathTooLong):
		return fuse.Errno(syscall.ENAMETOOLONG)
	case errors.Is(err, ErrIsDir):
		return fuse.Errno(syscall.EISDIR)
	case errors.Is(err, ErrNotDir):
		return fuse.ENOTDIR
	case errors.Is(err, ErrNotEmpty):
		return fuse.ENOTEMPTY
	case errors.Is(err, ErrInvalidArg):
		return fuse.EINVAL
	default:
		return fuse.EIO
	}
}
