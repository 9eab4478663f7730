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
)

const maxLinkResolutionHops = 8

// Link is a hard link: a separate metadata record carrying a path
// reference to its target. Read/Write/Getattr delegate to the resolved
// target.
type Link struct {
	store *Store
	Base  *Base
}

// resolveLinkTarget follows targetPath to its ultimate non-Link record,
// per spec §4.E's link() op ("if link, resolve"). Tombstoned
// (deleted=true) targets under /DELETED_LINKS are still valid resolution
// results, matching spec §3's "File remains reachable only via Link rows".
func (s *Store) resolveLinkTarget(ctx context.Context, targetPath string) (*Base, error) {
	path := targetPath
	for hop := 0; hop < maxLinkResolutionHops; hop++ {
		parent, name := splitPath(path)
		base, err := s.loadBase(ctx, parent, name)
		if err != nil {
			return nil, err
		}
		if base.Type != KindLink {
			return base, nil
		}
		path = base.LinkTarget
	}
	return nil, fmt.Errorf("record: link resolution exceeded %d hops at %s", maxLinkResolutionHops, targetPath)
}

// CreateLink creates a new hard link at parentPath/name pointing at the
// resolved target of targetPath, and increments the target's st_nlink.
func (s *Store) CreateLink(ctx context.Context, parentPath, name, targetPath string) (*Link, error) {
	resolved, err := s.resolveLinkTarget(ctx, targetPath)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	base := &Base{
		ParentPath: normalizeParent(parentPath),
		Name:       name,
		Type:       KindLink,
		Mode:       resolved.Mode,
		Uid:        resolved.Uid,
		Gid:        resolved.Gid,
		Nlink:      1,
		LinkTarget: resolved.Path(),
		Atime:      now,
		Mtime:      now,
		Ctime:      now,
		Extra:      map[string]interface{}{},
	}

	if err := s.meta.PutNew(ctx, metaKey(parentPath, name), base.toItem()); err != nil {
		return nil, err
	}
	if err := s.incrementNlink(ctx, resolved); err != nil {
		return nil, err
	}
	if err := s.addLinkIndex(ctx, resolved.Path(), base.Path()); err != nil {
		return nil, err
	}

	return &Link{store: s, Base: base}, nil
}

// Target resolves and returns the Link's referent.
func (l *Link) Target(ctx context.Context) (*Base, error) {
	return l.store.resolveLinkTarget(ctx, l.Base.LinkTarget)
}

// Delete decrements the target's st_nlink (which may make the target
// reapable) and removes the Link row and its shadow index entry.
func (l *Link) Delete(ctx context.Context) error {
	targetParent, targetName := splitPath(l.Base.LinkTarget)
	target, err := l.store.loadBase(ctx, targetParent, targetName)
	if err == nil {
		if _, err := l.store.decrementNlink(ctx, target); err != nil {
			return err
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if err := l.store.removeLinkIndex(ctx, l.Base.LinkTarget, l.Base.Path()); err != nil {
		return err
	}
	return l.store.meta.DeleteItem(ctx, metaKey(l.Base.ParentPath, l.Base.Name))
}

// MoveTo renames the Link row itself (not its target) and keeps the
// shadow link index consistent.
func (l *Link) MoveTo(ctx context.Context, newParentPath, newName string) error {
	oldPath := l.Base.Path()

	clone := *l.Base
	clone.ParentPath = normalizeParent(newParentPath)
	clone.Name = newName
	clone.Version = 0
	if err := l.store.meta.PutNew(ctx, metaKey(clone.ParentPath, clone.Name), clone.toItem()); err != nil {
		return err
	}

	if err := l.store.removeLinkIndex(ctx, l.Base.LinkTarget, oldPath); err != nil {
		return err
	}
	if err := l.store.addLinkIndex(ctx, clone.LinkTarget, clone.Path()); err != nil {
		return err
	}
	if err := l.store.meta.DeleteItem(ctx, metaKey(l.Base.ParentPath, l.Base.Name)); err != nil {
		return err
	}

	*l.Base = clone
	return nil
}
