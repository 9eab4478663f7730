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

	"github.com/dynamofs/dynamofs/kv"
)

// EnsureRoot idempotently creates the three reserved rows spec §6 names:
// the root directory ("/","/"), the hidden "/DELETED_LINKS" directory,
// and the ("global","counter") row. Called by cmd's mount at daemon
// startup and, through bootstrap.CreateTable, by the createTable CLI
// subcommand.
func (s *Store) EnsureRoot(ctx context.Context, rootMode, dirMode uint32) error {
	now := s.clk.Now()

	root := &Base{
		ParentPath: "/", Name: "/", Type: KindDirectory,
		Mode: rootMode, Nlink: 1, Ino: 1,
		Atime: now, Mtime: now, Ctime: now,
		Extra: map[string]interface{}{},
	}
	if err := s.meta.PutNew(ctx, metaKey("/", "/"), root.toItem()); err != nil && !errors.Is(err, kv.ErrAlreadyExists) {
		return err
	}

	deletedLinks := &Base{
		ParentPath: "/", Name: DeletedLinksName, Type: KindDirectory,
		Mode: dirMode, Nlink: 1, Hidden: true,
		Atime: now, Mtime: now, Ctime: now,
		Extra: map[string]interface{}{},
	}
	if err := s.meta.PutNew(ctx, metaKey("/", DeletedLinksName), deletedLinks.toItem()); err != nil && !errors.Is(err, kv.ErrAlreadyExists) {
		return err
	}
	selfSentinel := &Base{ParentPath: "/" + DeletedLinksName, Name: RootName, Type: KindDirectory, Hidden: true, Extra: map[string]interface{}{}}
	if err := s.meta.PutNew(ctx, metaKey("/"+DeletedLinksName, RootName), selfSentinel.toItem()); err != nil && !errors.Is(err, kv.ErrAlreadyExists) {
		return err
	}

	if err := s.meta.PutNew(ctx, counterKey(), kv.Item{"value": int64(0)}); err != nil && !errors.Is(err, kv.ErrAlreadyExists) {
		return err
	}

	return nil
}

// Reapable reports whether a tombstoned File under /DELETED_LINKS no
// longer has any referring Link rows, and is therefore safe to purge.
// Used by bootstrap.Reaper.
func (s *Store) Reapable(ctx context.Context, tombstone *Base) (bool, error) {
	if !tombstone.Deleted {
		return false, nil
	}
	has, err := s.hasReferringLinks(ctx, tombstone.Path())
	if err != nil {
		return false, err
	}
	return !has, nil
}

// Purge deletes a File's blocks and metadata row outright. Used by
// bootstrap.Reaper once Reapable reports true.
func (s *Store) Purge(ctx context.Context, tombstone *Base) error {
	f := &File{store: s, Base: tombstone}
	return f.purge(ctx)
}

// WipeTree recursively deletes every entry under dirPath, leaving dirPath
// itself an empty directory. Used by the cleanup CLI subcommand to reset
// a table back to the three reserved rows EnsureRoot seeds, without a
// full-table scan (the KV Gateway offers no such primitive): it walks the
// live tree instead, the same traversal Directory.List already supports.
func (s *Store) WipeTree(ctx context.Context, dirPath string, newUUID func() string) error {
	dir := s.AsDirectory(&Base{ParentPath: parentOf(dirPath), Name: baseName(dirPath), Type: KindDirectory})
	entries, err := dir.List(ctx)
	if err != nil {
		return err
	}

	for _, e := range entries {
		switch e.Base.Type {
		case KindDirectory:
			if err := s.WipeTree(ctx, e.Base.Path(), newUUID); err != nil {
				return err
			}
			if err := s.RemoveEmptyDirectory(ctx, s.AsDirectory(e.Base)); err != nil {
				return err
			}
		case KindFile:
			if err := s.AsFile(e.Base).Delete(ctx, newUUID); err != nil {
				return err
			}
		case KindSymlink:
			if err := s.DeletePlain(ctx, e.Base); err != nil {
				return err
			}
		case KindLink:
			if err := s.AsLink(e.Base).Delete(ctx); err != nil {
				return err
			}
		case KindNode:
			if err := s.DeletePlain(ctx, e.Base); err != nil {
				return err
			}
		}
	}
	return nil
}

// parentOf and baseName mirror fsops' splitPathPublic for a path already
// known to be a directory; record keeps its own copy since fsops cannot
// export across the package boundary and WipeTree needs a *Base to call
// AsDirectory with.
func parentOf(p string) string {
	if p == "/" {
		return "/"
	}
	i := len(p) - 1
	for i > 0 && p[i] != '/' {
		i--
	}
	if i == 0 {
		return "/"
	}
	return p[:i]
}

func baseName(p string) string {
	if p == "/" {
		return "/"
	}
	i := len(p) - 1
	for i > 0 && p[i] != '/' {
		i--
	}
	return p[i+1:]
}

// ListDeletedLinks enumerates the hidden tombstone directory, for the
// reaper to scan. Unlike Directory.List this does not filter out
// deleted=true rows — every row here is a tombstone by construction.
func (s *Store) ListDeletedLinks(ctx context.Context) ([]Entry, error) {
	dirPath := "/" + DeletedLinksName
	var entries []Entry
	token := ""
	for {
		page, err := s.meta.QueryPartition(ctx, dirPath, kv.QueryOptions{ContinuationToken: token, Limit: 200})
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			name, _ := item["name"].(string)
			if name == "" || name == RootName {
				continue
			}
			base, err := baseFromItem(dirPath, name, item)
			if err != nil {
				return nil, err
			}
			entries = append(entries, Entry{Name: name, Base: base})
		}
		if page.ContinuationToken == "" {
			return entries, nil
		}
		token = page.ContinuationToken
	}
}
