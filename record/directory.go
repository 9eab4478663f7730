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

	"github.com/dynamofs/dynamofs/kv"
)

// Directory has no block partition; its children are whatever rows share
// its own full path as their parentPath.
type Directory struct {
	store *Store
	Base  *Base
}

// Entry is one child row surfaced by Directory.List, in enough detail for
// fsops to build a dirent without a second fetch.
type Entry struct {
	Name string
	Base *Base
}

// CreateDirectory creates a new, empty directory, plus its self-sentinel
// row ("/") so that List can be implemented as a plain partition query
// (spec §4.C: list() filters out name=="/" ).
func (s *Store) CreateDirectory(ctx context.Context, parentPath, name string, mode, uid, gid uint32) (*Directory, error) {
	ino, err := s.mintID(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	base := &Base{
		ParentPath: normalizeParent(parentPath),
		Name:       name,
		Type:       KindDirectory,
		Mode:       mode,
		Uid:        uid,
		Gid:        gid,
		Nlink:      1,
		Ino:        uint64(ino),
		Atime:      now,
		Mtime:      now,
		Ctime:      now,
		Extra:      map[string]interface{}{},
	}

	if err := s.meta.PutNew(ctx, metaKey(parentPath, name), base.toItem()); err != nil {
		return nil, err
	}

	selfPath := base.Path()
	self := &Base{ParentPath: selfPath, Name: RootName, Type: KindDirectory, Hidden: true, Extra: map[string]interface{}{}}
	if err := s.meta.PutNew(ctx, metaKey(selfPath, RootName), self.toItem()); err != nil {
		return nil, err
	}

	return &Directory{store: s, Base: base}, nil
}

// List enumerates visible children: the self-sentinel, deleted, and
// hidden rows are filtered out.
func (d *Directory) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	token := ""
	dirPath := d.Base.Path()

	for {
		page, err := d.store.meta.QueryPartition(ctx, dirPath, kv.QueryOptions{ContinuationToken: token, Limit: 200})
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			name, _ := item["name"].(string)
			if name == RootName {
				continue
			}
			base, err := baseFromItem(dirPath, name, item)
			if err != nil {
				return nil, err
			}
			if base.Deleted || base.Hidden {
				continue
			}
			entries = append(entries, Entry{Name: name, Base: base})
		}
		if page.ContinuationToken == "" {
			break
		}
		token = page.ContinuationToken
	}
	return entries, nil
}

// IsEmpty reports whether the directory has any visible children, without
// materialising the full listing.
func (d *Directory) IsEmpty(ctx context.Context) (bool, error) {
	token := ""
	dirPath := d.Base.Path()
	for {
		page, err := d.store.meta.QueryPartition(ctx, dirPath, kv.QueryOptions{ContinuationToken: token, Limit: 200})
		if err != nil {
			return false, err
		}
		for _, item := range page.Items {
			name, _ := item["name"].(string)
			if name == RootName {
				continue
			}
			if d, _ := item["deleted"].(bool); d {
				continue
			}
			if h, _ := item["hidden"].(bool); h {
				continue
			}
			return false, nil
		}
		if page.ContinuationToken == "" {
			return true, nil
		}
		token = page.ContinuationToken
	}
}

// MoveTo clones the directory record (preserving its stat identity, i.e.
// its inode number) under the new key, recursively renames every child,
// then deletes the old record and self-sentinel. This is intentionally
// not atomic (spec §9 Open Question: accepted limitation — a crash
// mid-move leaves a partially-moved tree).
func (d *Directory) MoveTo(ctx context.Context, newParentPath, newName string) error {
	oldPath := d.Base.Path()

	clone := *d.Base
	clone.ParentPath = normalizeParent(newParentPath)
	clone.Name = newName
	clone.Version = 0
	if err := d.store.meta.PutNew(ctx, metaKey(clone.ParentPath, clone.Name), clone.toItem()); err != nil {
		return err
	}
	newPath := clone.Path()

	selfClone := &Base{ParentPath: newPath, Name: RootName, Type: KindDirectory, Hidden: true, Extra: map[string]interface{}{}}
	if err := d.store.meta.PutNew(ctx, metaKey(newPath, RootName), selfClone.toItem()); err != nil {
		return err
	}

	entries, err := d.List(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := d.store.renameEntry(ctx, oldPath, entry.Name, newPath, entry.Name); err != nil {
			return err
		}
	}

	if err := d.store.meta.DeleteItem(ctx, metaKey(oldPath, RootName)); err != nil {
		return err
	}
	if err := d.store.meta.DeleteItem(ctx, metaKey(d.Base.ParentPath, d.Base.Name)); err != nil {
		return err
	}

	*d.Base = clone
	return nil
}

// renameEntry dispatches a single child rename to the right variant's
// MoveTo, used both by Operations.Rename and by Directory.MoveTo's
// recursive descent.
func (s *Store) renameEntry(ctx context.Context, oldParent, name, newParent, newName string) error {
	base, err := s.loadBase(ctx, oldParent, name)
	if err != nil {
		return err
	}
	switch base.Type {
	case KindFile:
		return (&File{store: s, Base: base}).MoveTo(ctx, newParent, newName)
	case KindDirectory:
		return (&Directory{store: s, Base: base}).MoveTo(ctx, newParent, newName)
	case KindLink:
		return (&Link{store: s, Base: base}).MoveTo(ctx, newParent, newName)
	default:
		return s.renamePlain(ctx, base, newParent, newName)
	}
}

// renamePlain handles Symlink and Node, which carry no cross-references
// that need updating beyond their own row.
func (s *Store) renamePlain(ctx context.Context, base *Base, newParent, newName string) error {
	clone := *base
	clone.ParentPath = normalizeParent(newParent)
	clone.Name = newName
	clone.Version = 0
	if err := s.meta.PutNew(ctx, metaKey(clone.ParentPath, clone.Name), clone.toItem()); err != nil {
		return err
	}
	return s.meta.DeleteItem(ctx, metaKey(base.ParentPath, base.Name))
}
