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

	"github.com/jacobsa/fuse/fuseops"

	"github.com/dynamofs/dynamofs/record"
)

// Rename implements spec §4.E rename(): both parents must be
// writable+executable, the sticky-bit rule applies against both the old
// and new parent, and the actual move is delegated to Record.Rename,
// which already knows how to relocate each node kind (rewriting Link
// targets, recursing into directories).
func (fs *FileSystem) Rename(op *fuseops.RenameOp) error {
	ctx := op.Context()

	oldParentPath := fs.pathForID(op.OldParent)
	newParentPath := fs.pathForID(op.NewParent)
	if len(joinPath(newParentPath, op.NewName)) > maxPathLen {
		return toErrno(ErrPathTooLong)
	}

	oldParentBase, err := fs.records.Lookup(ctx, parentDirOf(oldParentPath), nameOf(oldParentPath))
	if err != nil {
		return toErrno(err)
	}
	if err := oldParentBase.Access(fs.cfg.Uid, fs.cfg.Gid, wOK|xOK); err != nil {
		return toErrno(err)
	}

	newParentBase := oldParentBase
	if newParentPath != oldParentPath {
		newParentBase, err = fs.records.Lookup(ctx, parentDirOf(newParentPath), nameOf(newParentPath))
		if err != nil {
			return toErrno(err)
		}
		if err := newParentBase.Access(fs.cfg.Uid, fs.cfg.Gid, wOK|xOK); err != nil {
			return toErrno(err)
		}
	}

	base, err := fs.records.Lookup(ctx, oldParentPath, op.OldName)
	if err != nil {
		return toErrno(err)
	}
	if err := checkSticky(oldParentBase, base, fs.cfg.Uid); err != nil {
		return toErrno(err)
	}

	if existing, err := fs.records.Lookup(ctx, newParentPath, op.NewName); err == nil {
		if err := checkSticky(newParentBase, existing, fs.cfg.Uid); err != nil {
			return toErrno(err)
		}
		if existing.Type == record.KindDirectory {
			dir := fs.records.AsDirectory(existing)
			empty, err := dir.IsEmpty(ctx)
			if err != nil {
				return toErrno(err)
			}
			if !empty {
				return toErrno(ErrNotEmpty)
			}
			if err := fs.records.RemoveEmptyDirectory(ctx, dir); err != nil {
				return toErrno(err)
			}
		} else {
			var err error
			switch existing.Type {
			case record.KindFile:
				err = fs.records.AsFile(existing).Delete(ctx, newTombstoneID)
			case record.KindLink:
				err = fs.records.AsLink(existing).Delete(ctx)
			default:
				err = fs.records.DeletePlain(ctx, existing)
			}
			if err != nil {
				return toErrno(err)
			}
		}
	} else if !errors.Is(err, record.ErrNotFound) {
		return toErrno(err)
	}

	oldPath := base.Path()
	if err := fs.records.Rename(ctx, oldParentPath, op.OldName, newParentPath, op.NewName); err != nil {
		return toErrno(err)
	}

	fs.mu.Lock()
	if id, ok := fs.pathToID[oldPath]; ok {
		newPath := joinPath(newParentPath, op.NewName)
		delete(fs.pathToID, oldPath)
		fs.pathToID[newPath] = id
		fs.ids[id].path = newPath
	}
	fs.mu.Unlock()

	if err := fs.records.TouchParent(ctx, oldParentPath); err != nil {
		return toErrno(err)
	}
	if newParentPath != oldParentPath {
		if err := fs.records.TouchParent(ctx, newParentPath); err != nil {
			return toErrno(err)
		}
	}
	return nil
}

// MkNode implements mknod for fifo/char/block/socket entries, per spec §9
// SUPPLEMENTED FEATURES #3.
func (fs *FileSystem) MkNode(op *fuseops.MkNodeOp) error {
	ctx := op.Context()
	if len(op.Name) > maxNameLen {
		return toErrno(ErrNameTooLong)
	}

	parentPath := fs.pathForID(op.Parent)
	parentBase, err := fs.records.Lookup(ctx, parentDirOf(parentPath), nameOf(parentPath))
	if err != nil {
		return toErrno(err)
	}
	if err := parentBase.Access(fs.cfg.Uid, fs.cfg.Gid, wOK|xOK); err != nil {
		return toErrno(err)
	}

	n, err := fs.records.CreateNode(ctx, parentPath, op.Name, posixModeFor(op.Mode), fs.cfg.Uid, fs.cfg.Gid, 0)
	if err != nil {
		return toErrno(err)
	}
	if err := fs.records.TouchParent(ctx, parentPath); err != nil {
		return toErrno(err)
	}

	fs.mu.Lock()
	id := fs.attachLocked(n.Base.Path(), 1)
	fs.mu.Unlock()

	op.Entry.Child = id
	op.Entry.Attributes = toInodeAttributes(n.Base.Type, n.Base.Attrs())
	return nil
}
