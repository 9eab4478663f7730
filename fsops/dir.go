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
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/dynamofs/dynamofs/record"
)

// newTombstoneID names each unlinked-but-still-open file's row under
// /DELETED_LINKS, the same way lock.Primitives names lock owners.
func newTombstoneID() string { return uuid.NewString() }

const (
	rOK = 0o4
	wOK = 0o2
	xOK = 0o1
)

// MkDir implements spec §4.E create(): parent must be writable+executable.
func (fs *FileSystem) MkDir(op *fuseops.MkDirOp) error {
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

	dir, err := fs.records.CreateDirectory(ctx, parentPath, op.Name, uint32(op.Mode.Perm()), fs.cfg.Uid, fs.cfg.Gid)
	if err != nil {
		return toErrno(err)
	}
	if err := fs.records.TouchParent(ctx, parentPath); err != nil {
		return toErrno(err)
	}

	fs.mu.Lock()
	id := fs.attachLocked(dir.Base.Path(), 1)
	fs.mu.Unlock()

	op.Entry.Child = id
	op.Entry.Attributes = toInodeAttributes(dir.Base.Type, dir.Base.Attrs())
	return nil
}

// CreateFile implements spec §4.E create() for S_IFREG.
func (fs *FileSystem) CreateFile(op *fuseops.CreateFileOp) error {
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

	f, err := fs.records.CreateFile(ctx, parentPath, op.Name, uint32(op.Mode.Perm()), fs.cfg.Uid, fs.cfg.Gid)
	if err != nil {
		return toErrno(err)
	}
	if err := fs.records.TouchParent(ctx, parentPath); err != nil {
		return toErrno(err)
	}

	fs.mu.Lock()
	id := fs.attachLocked(f.Base.Path(), 1)
	fs.mu.Unlock()

	op.Entry.Child = id
	op.Entry.Attributes = toInodeAttributes(f.Base.Type, f.Base.Attrs())
	return nil
}

// CreateSymlink implements spec §4.E create() for S_IFLNK.
func (fs *FileSystem) CreateSymlink(op *fuseops.CreateSymlinkOp) error {
	ctx := op.Context()
	if len(op.Name) > maxNameLen {
		return toErrno(ErrNameTooLong)
	}

	parentPath := fs.pathForID(op.Parent)
	sl, err := fs.records.CreateSymlink(ctx, parentPath, op.Name, op.Target, fs.cfg.Uid, fs.cfg.Gid)
	if err != nil {
		return toErrno(err)
	}
	if err := fs.records.TouchParent(ctx, parentPath); err != nil {
		return toErrno(err)
	}

	fs.mu.Lock()
	id := fs.attachLocked(sl.Base.Path(), 1)
	fs.mu.Unlock()

	op.Entry.Child = id
	op.Entry.Attributes = toInodeAttributes(sl.Base.Type, sl.Base.Attrs())
	return nil
}

// CreateLink implements spec §4.E link(): target must already exist.
func (fs *FileSystem) CreateLink(op *fuseops.CreateLinkOp) error {
	ctx := op.Context()
	if len(op.Name) > maxNameLen {
		return toErrno(ErrNameTooLong)
	}

	parentPath := fs.pathForID(op.Parent)
	targetPath := fs.pathForID(op.Target)
	if targetPath == "" {
		return toErrno(record.ErrNotFound)
	}

	l, err := fs.records.CreateLink(ctx, parentPath, op.Name, targetPath)
	if err != nil {
		return toErrno(err)
	}
	if err := fs.records.TouchParent(ctx, parentPath); err != nil {
		return toErrno(err)
	}

	target, err := l.Target(ctx)
	if err != nil {
		return toErrno(err)
	}

	fs.mu.Lock()
	id := fs.attachLocked(l.Base.Path(), 1)
	fs.mu.Unlock()

	op.Entry.Child = id
	op.Entry.Attributes = toInodeAttributes(target.Type, target.Attrs())
	return nil
}

// ReadSymlink implements readlink.
func (fs *FileSystem) ReadSymlink(op *fuseops.ReadSymlinkOp) error {
	path := fs.pathForID(op.Inode)
	base, err := fs.records.Lookup(op.Context(), parentDirOf(path), nameOf(path))
	if err != nil {
		return toErrno(err)
	}
	if base.Type != record.KindSymlink {
		return toErrno(ErrInvalidArg)
	}
	op.Target = fs.records.AsSymlink(base).Readlink()
	return nil
}

// RmDir implements rmdir: parent writable+executable, target must be an
// empty, non-hidden directory.
func (fs *FileSystem) RmDir(op *fuseops.RmDirOp) error {
	ctx := op.Context()
	parentPath := fs.pathForID(op.Parent)
	parentBase, err := fs.records.Lookup(ctx, parentDirOf(parentPath), nameOf(parentPath))
	if err != nil {
		return toErrno(err)
	}
	if err := parentBase.Access(fs.cfg.Uid, fs.cfg.Gid, wOK|xOK); err != nil {
		return toErrno(err)
	}

	base, err := fs.records.Lookup(ctx, parentPath, op.Name)
	if err != nil {
		return toErrno(err)
	}
	if base.Type != record.KindDirectory {
		return toErrno(ErrNotDir)
	}
	if err := checkSticky(parentBase, base, fs.cfg.Uid); err != nil {
		return toErrno(err)
	}

	dir := fs.records.AsDirectory(base)
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
	if err := fs.records.TouchParent(ctx, parentPath); err != nil {
		return toErrno(err)
	}
	return nil
}

// Unlink implements spec §4.E unlink(): parent writable+executable,
// sticky-bit rule, delegate to Record.delete.
func (fs *FileSystem) Unlink(op *fuseops.UnlinkOp) error {
	ctx := op.Context()
	parentPath := fs.pathForID(op.Parent)
	parentBase, err := fs.records.Lookup(ctx, parentDirOf(parentPath), nameOf(parentPath))
	if err != nil {
		return toErrno(err)
	}
	if err := parentBase.Access(fs.cfg.Uid, fs.cfg.Gid, wOK|xOK); err != nil {
		return toErrno(err)
	}

	base, err := fs.records.Lookup(ctx, parentPath, op.Name)
	if err != nil {
		return toErrno(err)
	}
	if err := checkSticky(parentBase, base, fs.cfg.Uid); err != nil {
		return toErrno(err)
	}

	release, err := fs.locks.Exclusive(ctx, recordKey(base), base.Path(), uuid.NewString())
	if err != nil {
		return toErrno(err)
	}
	defer release(ctx)

	switch base.Type {
	case record.KindFile:
		if err := fs.records.AsFile(base).Delete(ctx, newTombstoneID); err != nil {
			return toErrno(err)
		}
	case record.KindLink:
		if err := fs.records.AsLink(base).Delete(ctx); err != nil {
			return toErrno(err)
		}
	case record.KindDirectory:
		return toErrno(ErrIsDir)
	default:
		if err := fs.records.DeletePlain(ctx, base); err != nil {
			return toErrno(err)
		}
	}

	return toErrno(fs.records.TouchParent(ctx, parentPath))
}

// checkSticky enforces spec §9 SUPPLEMENTED FEATURES #4: in a sticky
// parent directory, only the owner of the child, the owner of the
// directory, or root may remove/rename the child.
func checkSticky(parentBase, childBase *record.Base, callerUid uint32) error {
	if callerUid == 0 {
		return nil
	}
	if parentBase.Mode&0o1000 == 0 { // no sticky bit
		return nil
	}
	if parentBase.Uid == callerUid || childBase.Uid == callerUid {
		return nil
	}
	return record.NewPermissionError("sticky bit forbids removing another user's entry")
}

// OpenDir validates search permission and allocates a handle.
func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) error {
	ctx := op.Context()
	path := fs.pathForID(op.Inode)
	base, err := fs.records.Lookup(ctx, parentDirOf(path), nameOf(path))
	if err != nil {
		return toErrno(err)
	}
	if base.Type != record.KindDirectory {
		return toErrno(ErrNotDir)
	}
	if err := base.Access(fs.cfg.Uid, fs.cfg.Gid, xOK); err != nil {
		return toErrno(err)
	}

	entries, err := fs.records.AsDirectory(base).List(ctx)
	if err != nil {
		return toErrno(err)
	}

	fs.handleMu.Lock()
	id := fs.nextHandleID
	fs.nextHandleID++
	fs.dirHandles[id] = &dirHandle{path: path, entries: entries}
	fs.handleMu.Unlock()

	op.Handle = id
	return nil
}

// ReadDir streams the handle's cached entry list plus synthetic "." and
// "..", per spec §4.E.
func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) error {
	fs.handleMu.Lock()
	h, ok := fs.dirHandles[op.Handle]
	fs.handleMu.Unlock()
	if !ok {
		return toErrno(ErrInvalidArg)
	}

	all := make([]fuseutil.Dirent, 0, len(h.entries)+2)
	all = append(all,
		fuseutil.Dirent{Offset: 1, Inode: fuseops.RootInodeID, Name: ".", Type: fuseutil.DT_Directory},
		fuseutil.Dirent{Offset: 2, Inode: fuseops.RootInodeID, Name: "..", Type: fuseutil.DT_Directory},
	)
	for i, e := range h.entries {
		all = append(all, fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 3),
			Inode:  fuseops.InodeID(e.Base.Ino),
			Name:   e.Name,
			Type:   direntType(e.Base.Type),
		})
	}

	if int(op.Offset) > len(all) {
		return toErrno(ErrInvalidArg)
	}

	n := 0
	for _, d := range all[op.Offset:] {
		written := fuseutil.WriteDirent(op.Dst[n:], d)
		if written == 0 {
			break
		}
		n += written
	}
	op.BytesRead = n
	return nil
}

func direntType(kind record.Kind) fuseutil.DirentType {
	switch kind {
	case record.KindDirectory:
		return fuseutil.DT_Directory
	case record.KindSymlink:
		return fuseutil.DT_Link
	case record.KindFile:
		return fuseutil.DT_File
	default:
		return fuseutil.DT_Unknown
	}
}

func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	fs.handleMu.Lock()
	delete(fs.dirHandles, op.Handle)
	fs.handleMu.Unlock()
	return nil
}
