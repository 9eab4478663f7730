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

// Symlink stores its target path directly in the metadata row; reading
// it never touches the blocks table.
type Symlink struct {
	store *Store
	Base  *Base
}

// CreateSymlink creates a symlink record. Permission bits are fixed at
// 0777 per spec §4.C.
func (s *Store) CreateSymlink(ctx context.Context, parentPath, name, target string, uid, gid uint32) (*Symlink, error) {
	ino, err := s.mintID(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	base := &Base{
		ParentPath:    normalizeParent(parentPath),
		Name:          name,
		Type:          KindSymlink,
		Mode:          0o777,
		Uid:           uid,
		Gid:           gid,
		Nlink:         1,
		Ino:           uint64(ino),
		SymlinkTarget: target,
		Atime:         now,
		Mtime:         now,
		Ctime:         now,
		Extra:         map[string]interface{}{},
	}

	if err := s.meta.PutNew(ctx, metaKey(parentPath, name), base.toItem()); err != nil {
		return nil, err
	}
	return &Symlink{store: s, Base: base}, nil
}

// Readlink returns the stored target path.
func (sl *Symlink) Readlink() string { return sl.Base.SymlinkTarget }
