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

import (
	"context"
	"fmt"
	"time"
)

// Chmod validates ownership against the caller once, then commits the
// mode change through the version-coupled save-with-retry helper so two
// concurrent chmod calls against the same file both converge (spec §8
// scenario 5): the mode bits applied on a lost-race retry are recomputed
// from the same (callerUid, newMode) pair, which is idempotent.
func (s *Store) Chmod(ctx context.Context, base *Base, callerUid uint32, callerGroups []uint32, newMode uint32) error {
	if err := base.Chmod(callerUid, callerGroups, newMode); err != nil {
		return err
	}
	now := s.clk.Now()
	return s.save(ctx, base, func(b *Base) {
		b.Chmod(callerUid, callerGroups, newMode)
		b.Ctime = now
	})
}

// Chown validates once, then commits the same way Chmod does.
func (s *Store) Chown(ctx context.Context, base *Base, callerUid uint32, callerGroups []uint32, newUid, newGid int32) error {
	if err := base.Chown(callerUid, callerGroups, newUid, newGid); err != nil {
		return err
	}
	now := s.clk.Now()
	return s.save(ctx, base, func(b *Base) {
		b.Chown(callerUid, callerGroups, newUid, newGid)
		b.Ctime = now
	})
}

// Utimens commits new atime/mtime values; a nil pointer leaves that field
// unchanged, distinguishing "not requested" from "set to the zero time".
func (s *Store) Utimens(ctx context.Context, base *Base, atime, mtime *time.Time) error {
	now := s.clk.Now()
	return s.save(ctx, base, func(b *Base) {
		if atime != nil {
			b.Atime = *atime
		}
		if mtime != nil {
			b.Mtime = *mtime
		}
		b.Ctime = now
	})
}

// TouchParent exports touchDirectoryMCTime for fsops: every directory
// mutation (mkdir, create, unlink, rmdir, link) must bump the parent's
// mtime/ctime per spec §4.C.
func (s *Store) TouchParent(ctx context.Context, parentPath string) error {
	return s.touchDirectoryMCTime(ctx, parentPath)
}

// RemoveEmptyDirectory deletes a directory's self-sentinel row and its
// own row, mirroring the two-row delete Directory.MoveTo already performs
// on rename (directory.go), but without re-creating either row elsewhere.
func (s *Store) RemoveEmptyDirectory(ctx context.Context, dir *Directory) error {
	selfPath := dir.Base.Path()
	if err := s.meta.DeleteItem(ctx, metaKey(selfPath, RootName)); err != nil {
		return fmt.Errorf("record: remove directory %s self row: %w", selfPath, err)
	}
	if err := s.meta.DeleteItem(ctx, metaKey(dir.Base.ParentPath, dir.Base.Name)); err != nil {
		return fmt.Errorf("record: remove directory %s: %w", selfPath, err)
	}
	return nil
}

// DeletePlain removes a Symlink or Node row outright: neither kind has a
// link count or a deleted-links tombstone, so the row is simply deleted.
func (s *Store) DeletePlain(ctx context.Context, base *Base) error {
	if err := s.meta.DeleteItem(ctx, metaKey(base.ParentPath, base.Name)); err != nil {
		return fmt.Errorf("record: delete %s: %w", base.Path(), err)
	}
	return nil
}

// Rename exports renameEntry for fsops: it dispatches to the right
// variant's MoveTo (File rewrites referring Links, Directory recurses,
// Symlink/Node move outright), per spec §4.E rename().
func (s *Store) Rename(ctx context.Context, oldParent, name, newParent, newName string) error {
	return s.renameEntry(ctx, oldParent, name, newParent, newName)
}
