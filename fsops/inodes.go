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

// Package fsops implements the Filesystem Operations layer (component E):
// a fuseutil.FileSystem that translates FUSE vnode callbacks into
// record/lock/block calls, enforcing permissions and POSIX error codes.
package fsops

import (
	"fmt"
	"os"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/dynamofs/dynamofs/record"
)

// inodeEntry pairs a path with the kernel lookup count jacobsa/fuse
// requires every inode to track (spec §9: paths are the real identity;
// inode numbers exist only because the kernel protocol demands them).
type inodeEntry struct {
	path        string
	lookupCount uint64
}

// idForPath returns the stable InodeID for path, minting one on first
// sight. fs.mu must be held.
func (fs *FileSystem) idForPath(path string) fuseops.InodeID {
	if id, ok := fs.pathToID[path]; ok {
		return id
	}
	id := fs.nextID
	fs.nextID++
	fs.pathToID[path] = id
	fs.ids[id] = &inodeEntry{path: path}
	return id
}

// pathForID returns the path associated with id, or "" if forgotten.
func (fs *FileSystem) pathForID(id fuseops.InodeID) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.ids[id]
	if !ok {
		return ""
	}
	return e.path
}

// attachLocked mints or reuses the InodeID for path and bumps its lookup
// count by n. fs.mu must be held by the caller.
func (fs *FileSystem) attachLocked(path string, n uint64) fuseops.InodeID {
	id := fs.idForPath(path)
	fs.ids[id].lookupCount += n
	return id
}

func (fs *FileSystem) forget(id fuseops.InodeID, n uint64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.ids[id]
	if !ok {
		return
	}
	if n >= e.lookupCount {
		delete(fs.ids, id)
		delete(fs.pathToID, e.path)
		return
	}
	e.lookupCount -= n
}

// toInodeAttributes converts a record.Attributes into the fuseops
// projection, deriving the os.FileMode bits from the record's Kind since
// record.Base.Mode stores only the POSIX permission bits plus raw type
// information carried in Type, not Go's os.FileMode type bits.
func toInodeAttributes(kind record.Kind, a record.Attributes) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:   uint64(a.Size),
		Nlink:  a.Nlink,
		Mode:   modeFor(kind, a.Mode),
		Atime:  a.Atime,
		Mtime:  a.Mtime,
		Ctime:  a.Ctime,
		Uid:    a.Uid,
		Gid:    a.Gid,
	}
}

func modeFor(kind record.Kind, perm uint32) os.FileMode {
	mode := os.FileMode(perm & 0o7777)
	switch kind {
	case record.KindDirectory:
		mode |= os.ModeDir
	case record.KindSymlink:
		mode |= os.ModeSymlink
	case record.KindNode:
		// Node carries S_IF* bits directly in perm's high bits (spec §4.C);
		// fsops.MkNode already selected one of these before calling
		// record.CreateNode, so recover it the same way stat(2) would.
		switch perm &^ 0o7777 {
		case sIFIFO:
			mode |= os.ModeNamedPipe
		case sIFSOCK:
			mode |= os.ModeSocket
		case sIFBLK:
			mode |= os.ModeDevice
		case sIFCHR:
			mode |= os.ModeDevice | os.ModeCharDevice
		}
	}
	return mode
}

// checkInodeInvariants backs fs.mu's syncutil.InvariantMutex, matching
// gcsfuse's fileSystem.checkInvariants: panics rather than letting the
// two tables silently drift apart.
//
// INVARIANT: For all keys k, fuseops.RootInodeID <= k < nextID
// INVARIANT: For all paths p, ids[pathToID[p]].path == p
// INVARIANT: len(ids) == len(pathToID)
func (fs *FileSystem) checkInodeInvariants() {
	for id := range fs.ids {
		if id < fuseops.RootInodeID || id >= fs.nextID {
			panic(fmt.Sprintf("illegal inode ID: %v", id))
		}
	}
	for path, id := range fs.pathToID {
		e, ok := fs.ids[id]
		if !ok {
			panic(fmt.Sprintf("pathToID[%q] = %v has no ids entry", path, id))
		}
		if e.path != path {
			panic(fmt.Sprintf("ids[%v].path = %q, want %q", id, e.path, path))
		}
	}
	if len(fs.ids) != len(fs.pathToID) {
		panic(fmt.Sprintf("ids has %d entries, pathToID has %d", len(fs.ids), len(fs.pathToID)))
	}
}

// checkHandleInvariants backs fs.handleMu's syncutil.InvariantMutex.
//
// INVARIANT: For all keys k, k < nextHandleID
func (fs *FileSystem) checkHandleInvariants() {
	for id := range fs.dirHandles {
		if id >= fs.nextHandleID {
			panic(fmt.Sprintf("illegal dir handle ID: %v", id))
		}
	}
	for id := range fs.fileHandles {
		if id >= fs.nextHandleID {
			panic(fmt.Sprintf("illegal file handle ID: %v", id))
		}
	}
}

const (
	sIFIFO  = 0o010000
	sIFCHR  = 0o020000
	sIFBLK  = 0o060000
	sIFSOCK = 0o140000
)

// posixModeFor converts a kernel-supplied os.FileMode (MkNodeOp.Mode) into
// the POSIX S_IF*-plus-permission-bits layout record.CreateNode stores and
// modeFor matches back against; os.FileMode's own ModeDevice/
// ModeCharDevice/etc. bits live in different positions than S_IF* and
// must never be passed through raw.
func posixModeFor(mode os.FileMode) uint32 {
	perm := uint32(mode.Perm())
	switch {
	case mode&os.ModeNamedPipe != 0:
		return perm | sIFIFO
	case mode&os.ModeSocket != 0:
		return perm | sIFSOCK
	case mode&os.ModeCharDevice != 0:
		return perm | sIFCHR
	case mode&os.ModeDevice != 0:
		return perm | sIFBLK
	default:
		return perm
	}
}
