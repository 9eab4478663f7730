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

package record

import "context"

// Node is a metadata-only device/fifo/socket record: no block partition.
type Node struct {
	store *Store
	Base  *Base
}

// CreateNode creates a fifo/block/char/socket entry; mode must carry the
// appropriate S_IF* type bits, matched by fsops before calling this.
func (s *Store) CreateNode(ctx context.Context, parentPath, name string, mode, uid, gid uint32, rdev uint64) (*Node, error) {
	ino, err := s.mintID(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	base := &Base{
		ParentPath: normalizeParent(parentPath),
		Name:       name,
		Type:       KindNode,
		Mode:       mode,
		Uid:        uid,
		Gid:        gid,
		Nlink:      1,
		Ino:        uint64(ino),
		Rdev:       rdev,
		Atime:      now,
		Mtime:      now,
		Ctime:      now,
		Extra:      map[string]interface{}{},
	}

	if err := s.meta.PutNew(ctx, metaKey(parentPath, name), base.toItem()); err != nil {
		return nil, err
	}
	return &Node{store: s, Base: base}, nil
}

// Major and Minor decompose st_rdev using the same bit layout as Linux's
// makedev (spec §9 SUPPLEMENTED FEATURES #3), restored from the Python
// original's os.makedev use.
func (n *Node) Major() uint32 {
	rdev := n.Base.Rdev
	return uint32(((rdev >> 8) & 0xfff) | ((rdev >> 32) &^ 0xfff))
}

func (n *Node) Minor() uint32 {
	rdev := n.Base.Rdev
	return uint32((rdev & 0xff) | ((rdev >> 12) &^ 0xff))
}

// Makedev combines major/minor into a Linux-style device number, the
// inverse of Major/Minor.
func Makedev(major, minor uint32) uint64 {
	return (uint64(major) & 0xfff) << 8 |
		(uint64(minor) & 0xff) |
		((uint64(major) &^ 0xfff) << 32) |
		((uint64(minor) &^ 0xff) << 12)
}
