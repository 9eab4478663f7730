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
	"errors"
	"fmt"

	"github.com/dynamofs/dynamofs/kv"
)

// File is a regular file: metadata plus a block partition keyed by
// Base.BlockID. fsops is expected to hold the appropriate lock (from the
// lock package) around Write/Truncate/Delete/MoveTo, per spec §4.C.
type File struct {
	store *Store
	Base  *Base
}

// CreateFile creates a new, empty regular file. parentPath must already
// exist as a Directory; the caller (fsops) is responsible for permission
// checks before calling this.
func (s *Store) CreateFile(ctx context.Context, parentPath, name string, mode, uid, gid uint32) (*File, error) {
	blockID, err := s.mintID(ctx)
	if err != nil {
		return nil, fmt.Errorf("record: mint blockId: %w", err)
	}
	ino, err := s.mintID(ctx)
	if err != nil {
		return nil, fmt.Errorf("record: mint inode: %w", err)
	}

	now := s.clk.Now()
	base := &Base{
		ParentPath: normalizeParent(parentPath),
		Name:       name,
		Type:       KindFile,
		Mode:       mode,
		Uid:        uid,
		Gid:        gid,
		Nlink:      1,
		Blksize:    blockSize(),
		Ino:        uint64(ino),
		BlockID:    fmt.Sprintf("%d", blockID),
		Atime:      now,
		Mtime:      now,
		Ctime:      now,
		Extra:      map[string]interface{}{},
	}

	if err := s.meta.PutNew(ctx, metaKey(parentPath, name), base.toItem()); err != nil {
		return nil, err
	}
	return &File{store: s, Base: base}, nil
}

// blockSize is the st_blksize given to new files: blockSizeOverride when it
// is non-zero, else 32768 (block.Size).
var blockSizeOverride int64

func blockSize() int64 {
	if blockSizeOverride != 0 {
		return blockSizeOverride
	}
	return 32768
}

// Read returns up to length bytes of file content starting at offset.
func (f *File) Read(ctx context.Context, offset int64, length int) ([]byte, error) {
	return f.store.blocks.Read(ctx, f.Base.BlockID, f.Base.Size, offset, length)
}

// Write stripes data into the block partition and updates st_size (the
// conservative max, since concurrent writers to disjoint blocks must not
// shrink it) and mtime/ctime, conditionally on version.
func (f *File) Write(ctx context.Context, offset int64, data []byte) (int, error) {
	if err := f.store.blocks.Write(ctx, f.Base.BlockID, offset, data); err != nil {
		return 0, err
	}

	newSize := offset + int64(len(data))
	now := f.store.clk.Now()
	err := f.store.save(ctx, f.Base, func(b *Base) {
		if newSize > b.Size {
			b.Size = newSize
		}
		b.Mtime = now
		b.Ctime = now
	})
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// Truncate resizes the file, deleting/trimming blocks past the new length.
func (f *File) Truncate(ctx context.Context, length int64) error {
	if err := f.store.blocks.Truncate(ctx, f.Base.BlockID, length); err != nil {
		return err
	}
	now := f.store.clk.Now()
	return f.store.save(ctx, f.Base, func(b *Base) {
		b.Size = length
		b.Mtime = now
		b.Ctime = now
	})
}

// LinkIncrement conditionally adds 1 to st_nlink and bumps ctime; called
// by Store.CreateLink when a new hard link is created against this file.
func (f *File) LinkIncrement(ctx context.Context) error {
	return f.store.incrementNlink(ctx, f.Base)
}

// LinkDecrement conditionally subtracts 1 from st_nlink and bumps ctime;
// called when a Link row referring to this file is deleted. The returned
// nlink is the value after decrement, used by the caller to decide
// whether reclamation is now possible.
func (f *File) LinkDecrement(ctx context.Context) (uint32, error) {
	return f.store.decrementNlink(ctx, f.Base)
}

// Delete implements spec §4.C's File.delete: this entry's own name
// counted for 1 of st_nlink, so unlinking it always decrements st_nlink.
// If that drops st_nlink to 0 and no Link rows refer to it, every block
// row is purged along with the metadata row; otherwise (other Link rows
// still reference this content) the row survives, relocated into
// /DELETED_LINKS/<uuid> with deleted=true, and every referring Link is
// rewritten to the new tombstone path. Caller must hold the file's
// exclusive lock.
func (f *File) Delete(ctx context.Context, newUUID func() string) error {
	nlink, err := f.LinkDecrement(ctx)
	if err != nil {
		return err
	}

	if nlink == 0 {
		hasLinks, err := f.store.hasReferringLinks(ctx, f.Base.Path())
		if err != nil {
			return err
		}
		if !hasLinks {
			return f.purge(ctx)
		}
	}

	return f.relocateToDeletedLinks(ctx, newUUID())
}

// purge removes every block row then the metadata row itself.
func (f *File) purge(ctx context.Context) error {
	if err := f.store.blocks.Truncate(ctx, f.Base.BlockID, 0); err != nil {
		return err
	}
	return f.store.meta.DeleteItem(ctx, metaKey(f.Base.ParentPath, f.Base.Name))
}

// relocateToDeletedLinks moves the metadata row under the hidden
// /DELETED_LINKS directory, tombstoned, so outstanding Link rows that
// still reference the old path keep resolving via the link-index rewrite
// Store.retargetLinks performs below.
func (f *File) relocateToDeletedLinks(ctx context.Context, tombstoneID string) error {
	oldPath := f.Base.Path()
	newParent := "/" + DeletedLinksName
	newName := tombstoneID

	clone := *f.Base
	clone.ParentPath = newParent
	clone.Name = newName
	clone.Deleted = true
	clone.Version = 0

	if err := f.store.meta.PutNew(ctx, metaKey(newParent, newName), clone.toItem()); err != nil {
		return err
	}
	if err := f.store.retargetLinks(ctx, oldPath, clone.Path()); err != nil {
		return err
	}
	if err := f.store.meta.DeleteItem(ctx, metaKey(f.Base.ParentPath, f.Base.Name)); err != nil {
		return err
	}

	*f.Base = clone
	return nil
}

// MoveTo implements File.moveTo: if st_nlink > 1 every Link's `link`
// attribute must be rewritten to the new path before the old row is
// removed.
func (f *File) MoveTo(ctx context.Context, newParentPath, newName string) error {
	oldPath := f.Base.Path()

	clone := *f.Base
	clone.ParentPath = normalizeParent(newParentPath)
	clone.Name = newName
	clone.Version = 0

	if err := f.store.meta.PutNew(ctx, metaKey(clone.ParentPath, clone.Name), clone.toItem()); err != nil {
		return err
	}

	if f.Base.Nlink > 1 {
		if err := f.store.retargetLinks(ctx, oldPath, clone.Path()); err != nil {
			return err
		}
	}

	if err := f.store.meta.DeleteItem(ctx, metaKey(f.Base.ParentPath, f.Base.Name)); err != nil {
		return err
	}

	*f.Base = clone
	return nil
}

// hasReferringLinks reports whether any Link row's target is targetPath,
// via the shadow link-index partition (see retargetLinks).
func (s *Store) hasReferringLinks(ctx context.Context, targetPath string) (bool, error) {
	page, err := s.meta.QueryPartition(ctx, linkIndexPartition(targetPath), kv.QueryOptions{Limit: 1})
	if err != nil {
		return false, err
	}
	return len(page.Items) > 0, nil
}

// retargetLinks rewrites every Link row pointing at oldPath to point at
// newPath instead, and moves the shadow index entries accordingly. This
// approximates the "(path, link) secondary index" spec.md describes: the
// kv.Gateway interface only exposes partition queries, so the index is a
// second shadow partition in the same table rather than a true GSI.
func (s *Store) retargetLinks(ctx context.Context, oldPath, newPath string) error {
	var token string
	for {
		page, err := s.meta.QueryPartition(ctx, linkIndexPartition(oldPath), kv.QueryOptions{
			ContinuationToken: token,
			Limit:             200,
		})
		if err != nil {
			return err
		}

		for _, item := range page.Items {
			linkPath, _ := item["linkPath"].(string)
			if linkPath == "" {
				continue
			}
			linkParent, linkName := splitPath(linkPath)
			base, err := s.loadBase(ctx, linkParent, linkName)
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := s.save(ctx, base, func(b *Base) { b.LinkTarget = newPath }); err != nil {
				return err
			}
			if err := s.meta.DeleteItem(ctx, kv.Key{Partition: linkIndexPartition(oldPath), Sort: linkPath}); err != nil {
				return err
			}
			if err := s.addLinkIndex(ctx, newPath, linkPath); err != nil {
				return err
			}
		}

		if page.ContinuationToken == "" {
			return nil
		}
		token = page.ContinuationToken
	}
}

func linkIndexPartition(targetPath string) string {
	return "\x00LINKS\x00" + targetPath
}

func (s *Store) addLinkIndex(ctx context.Context, targetPath, linkPath string) error {
	err := s.meta.PutNew(ctx, kv.Key{Partition: linkIndexPartition(targetPath), Sort: linkPath}, kv.Item{"linkPath": linkPath})
	if errors.Is(err, kv.ErrAlreadyExists) {
		return nil
	}
	return err
}

func (s *Store) removeLinkIndex(ctx context.Context, targetPath, linkPath string) error {
	return s.meta.DeleteItem(ctx, kv.Key{Partition: linkIndexPartition(targetPath), Sort: linkPath})
}
