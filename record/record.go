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

// Package record implements the Record Layer (component C): the sum type
// over {File, Directory, Symlink, Link, Node}, with a common base that
// handles metadata, optimistic save-with-retry, access checks, time
// updates, and soft-delete. Nothing here knows about FUSE; fsops drives
// this package.
package record

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dynamofs/dynamofs/clock"
	"github.com/dynamofs/dynamofs/kv"
)

// Kind names the five record variants, matching the "type" attribute.
type Kind string

const (
	KindFile      Kind = "File"
	KindDirectory Kind = "Directory"
	KindSymlink   Kind = "Symlink"
	KindLink      Kind = "Link"
	KindNode      Kind = "Node"
)

// Sentinel path components reserved by the layout (spec §6).
const (
	RootName         = "/"
	DeletedLinksName = "DELETED_LINKS"
)

const maxSaveRetries = 5

var (
	// ErrNotFound means the named entity does not exist.
	ErrNotFound = kv.ErrNotFound
	// ErrExists means a create collided with an existing entity.
	ErrExists = kv.ErrAlreadyExists
	// ErrRetryExhausted means an optimistic save lost 5 races in a row;
	// fsops turns this into EIO.
	ErrRetryExhausted = errors.New("record: optimistic save retries exhausted")
)

// Base is the metadata common to every record variant.
type Base struct {
	ParentPath string
	Name       string
	Type       Kind
	Version    int64

	Mode  uint32
	Uid   uint32
	Gid   uint32
	Nlink uint32

	Size    int64
	Blksize int64
	Ino     uint64

	Atime time.Time
	Mtime time.Time
	Ctime time.Time

	Deleted bool
	Hidden  bool

	// BlockID identifies the block partition (File only).
	BlockID string
	// SymlinkTarget is the target path (Symlink only).
	SymlinkTarget string
	// LinkTarget is the absolute path of the referent (Link only).
	LinkTarget string
	// Rdev is the device number (Node only).
	Rdev uint64

	// Extra carries any attribute this layer does not interpret,
	// preserved through clone/rename per spec §3.
	Extra map[string]interface{}
}

// Path returns the normalised absolute path this record is stored under.
func (b *Base) Path() string {
	if b.ParentPath == "/" && b.Name == "/" {
		return "/"
	}
	if b.ParentPath == "/" {
		return "/" + b.Name
	}
	return b.ParentPath + "/" + b.Name
}

// Attributes is the POSIX stat-like projection fsops hands to FUSE.
type Attributes struct {
	Mode    uint32
	Uid     uint32
	Gid     uint32
	Nlink   uint32
	Size    int64
	Blksize int64
	Blocks  int64
	Ino     uint64
	Rdev    uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// Attrs projects the common stat fields, with Blocks computed per spec
// §9 SUPPLEMENTED FEATURES #1.
func (b *Base) Attrs() Attributes {
	blksize := b.Blksize
	if blksize == 0 {
		blksize = 1
	}
	blocks := (b.Size + blksize - 1) / blksize
	return Attributes{
		Mode:    b.Mode,
		Uid:     b.Uid,
		Gid:     b.Gid,
		Nlink:   b.Nlink,
		Size:    b.Size,
		Blksize: b.Blksize,
		Blocks:  blocks,
		Ino:     b.Ino,
		Rdev:    b.Rdev,
		Atime:   b.Atime,
		Mtime:   b.Mtime,
		Ctime:   b.Ctime,
	}
}

const (
	modeISUID = 0o4000
	modeISGID = 0o2000
	modeISVTX = 0o1000
	modePerm  = 0o7777
)

// Chmod applies spec §4.C's common-base chmod rule: caller must own the
// file or be root; a non-privileged owner loses the setuid bit outright,
// and loses setgid too unless they belong to the file's group.
// callerGroups is the full supplementary group list (fsops resolves it).
func (b *Base) Chmod(callerUid uint32, callerGroups []uint32, newMode uint32) error {
	if callerUid != 0 && callerUid != b.Uid {
		return fmt.Errorf("%w: chmod requires ownership", errPermission)
	}
	mode := newMode & modePerm
	if callerUid != 0 {
		mode &^= modeISUID
		inGroup := false
		for _, g := range callerGroups {
			if g == b.Gid {
				inGroup = true
				break
			}
		}
		if !inGroup {
			mode &^= modeISGID
		}
	}
	b.Mode = (b.Mode &^ modePerm) | mode
	return nil
}

// Chown applies spec §4.C's chown rule: a non-privileged caller may not
// change uid at all, and may only change gid to one of their own groups.
// callerGroups is the full supplementary group list (fsops resolves it).
func (b *Base) Chown(callerUid uint32, callerGroups []uint32, newUid, newGid int32) error {
	if callerUid != 0 {
		if newUid >= 0 && uint32(newUid) != b.Uid {
			return fmt.Errorf("%w: chown requires root to change owner", errPermission)
		}
		if newGid >= 0 {
			allowed := false
			for _, g := range callerGroups {
				if g == uint32(newGid) {
					allowed = true
					break
				}
			}
			if !allowed {
				return fmt.Errorf("%w: chown to foreign group requires root", errPermission)
			}
		}
	}
	if newUid >= 0 {
		b.Uid = uint32(newUid)
	}
	if newGid >= 0 {
		b.Gid = uint32(newGid)
		if callerUid != 0 {
			b.Mode &^= modeISGID
		}
	}
	return nil
}

const (
	rOK = 0o4
	wOK = 0o2
	xOK = 0o1
)

// Access implements classical user/group/other permission evaluation.
// mode is a combination of rOK/wOK/xOK (F_OK is the zero value, always
// satisfied once the record exists).
func (b *Base) Access(callerUid, callerGid uint32, mode uint32) error {
	if mode == 0 {
		return nil
	}
	if callerUid == 0 {
		// Root passes every check here, execute included; no caller
		// applies a separate execute-bit rule for root.
		return nil
	}

	var bits uint32
	switch {
	case callerUid == b.Uid:
		bits = (b.Mode >> 6) & 0o7
	case callerGid == b.Gid:
		bits = (b.Mode >> 3) & 0o7
	default:
		bits = b.Mode & 0o7
	}

	if mode&^bits != 0 {
		return fmt.Errorf("%w: access denied", errPermission)
	}
	return nil
}

var errPermission = errors.New("record: permission denied")

// ErrPermission reports whether err denotes a permission failure
// (fsops maps it to EACCES/EPERM depending on context).
func ErrPermission(err error) bool { return errors.Is(err, errPermission) }

// NewPermissionError lets fsops raise the same permission-denied
// sentinel for checks it performs itself (the sticky-bit rule), so
// toErrno's translation stays in one place.
func NewPermissionError(reason string) error {
	return fmt.Errorf("%w: %s", errPermission, reason)
}

func normalizeParent(p string) string {
	if p == "" {
		return "/"
	}
	p = path.Clean(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Store is the Record Layer, bound to the metadata Gateway, the Block
// Store, and a clock for time stamping.
type Store struct {
	meta   kv.Gateway
	blocks blockStore
	clk    clock.Clock
}

// blockStore is the subset of *block.Store the record layer needs; kept
// as an interface so record tests can run without importing block.
type blockStore interface {
	Write(ctx context.Context, blockID string, offset int64, data []byte) error
	Read(ctx context.Context, blockID string, fileSize, offset int64, length int) ([]byte, error)
	Truncate(ctx context.Context, blockID string, length int64) error
}

// NewStore constructs the Record Layer.
func NewStore(meta kv.Gateway, blocks blockStore, clk clock.Clock) *Store {
	return &Store{meta: meta, blocks: blocks, clk: clk}
}

func metaKey(parentPath, name string) kv.Key {
	return kv.Key{Partition: normalizeParent(parentPath), Sort: name}
}

func counterKey() kv.Key { return kv.Key{Partition: "global", Sort: "counter"} }

// mintID mints a new monotonic integer from the global counter row, used
// both for blockId and st_ino (spec §6 reserved rows).
func (s *Store) mintID(ctx context.Context) (int64, error) {
	return s.meta.UpdateAttribute(ctx, counterKey(), "value", 1)
}

var knownAttrs = map[string]bool{
	"type": true, "version": true, "st_mode": true, "st_uid": true, "st_gid": true,
	"st_nlink": true, "st_size": true, "st_blksize": true, "st_ino": true,
	"st_atime": true, "st_mtime": true, "st_ctime": true, "blockId": true,
	"symlink": true, "link": true, "st_rdev": true, "deleted": true, "hidden": true,
	"readLock": true, "writeLock": true, "lockOwner": true,
}

func baseFromItem(parentPath, name string, item kv.Item) (*Base, error) {
	b := &Base{ParentPath: normalizeParent(parentPath), Name: name, Extra: map[string]interface{}{}}

	if t, ok := item["type"].(string); ok {
		b.Type = Kind(t)
	}
	b.Version = asInt64(item["version"])
	b.Mode = uint32(asInt64(item["st_mode"]))
	b.Uid = uint32(asInt64(item["st_uid"]))
	b.Gid = uint32(asInt64(item["st_gid"]))
	b.Nlink = uint32(asInt64(item["st_nlink"]))
	b.Size = asInt64(item["st_size"])
	b.Blksize = asInt64(item["st_blksize"])
	b.Ino = uint64(asInt64(item["st_ino"]))
	b.Atime = time.Unix(asInt64(item["st_atime"]), 0).UTC()
	b.Mtime = time.Unix(asInt64(item["st_mtime"]), 0).UTC()
	b.Ctime = time.Unix(asInt64(item["st_ctime"]), 0).UTC()
	if d, ok := item["deleted"].(bool); ok {
		b.Deleted = d
	}
	if h, ok := item["hidden"].(bool); ok {
		b.Hidden = h
	}
	if v, ok := item["blockId"].(string); ok {
		b.BlockID = v
	}
	if v, ok := item["symlink"].(string); ok {
		b.SymlinkTarget = v
	}
	if v, ok := item["link"].(string); ok {
		b.LinkTarget = v
	}
	b.Rdev = uint64(asInt64(item["st_rdev"]))

	for k, v := range item {
		if !knownAttrs[k] {
			b.Extra[k] = v
		}
	}
	return b, nil
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func (b *Base) toItem() kv.Item {
	item := kv.Item{}
	for k, v := range b.Extra {
		item[k] = v
	}
	item["type"] = string(b.Type)
	item["version"] = b.Version
	item["st_mode"] = int64(b.Mode)
	item["st_uid"] = int64(b.Uid)
	item["st_gid"] = int64(b.Gid)
	item["st_nlink"] = int64(b.Nlink)
	item["st_size"] = b.Size
	item["st_blksize"] = b.Blksize
	item["st_ino"] = int64(b.Ino)
	item["st_atime"] = b.Atime.Unix()
	item["st_mtime"] = b.Mtime.Unix()
	item["st_ctime"] = b.Ctime.Unix()
	if b.Deleted {
		item["deleted"] = true
	}
	if b.Hidden {
		item["hidden"] = true
	}
	if b.BlockID != "" {
		item["blockId"] = b.BlockID
	}
	if b.Type == KindSymlink {
		item["symlink"] = b.SymlinkTarget
	}
	if b.Type == KindLink {
		item["link"] = b.LinkTarget
	}
	if b.Type == KindNode {
		item["st_rdev"] = int64(b.Rdev)
	}
	return item
}

// loadBase fetches and decodes one metadata row.
func (s *Store) loadBase(ctx context.Context, parentPath, name string) (*Base, error) {
	item, err := s.meta.GetItem(ctx, metaKey(parentPath, name), true)
	if err != nil {
		return nil, err
	}
	return baseFromItem(parentPath, name, item)
}

// Lookup fetches the metadata row at parentPath/name, decoded but not
// wrapped in a variant type; fsops type-switches on the returned Type and
// wraps it with the matching As*/Load* helper when it needs variant
// behaviour.
func (s *Store) Lookup(ctx context.Context, parentPath, name string) (*Base, error) {
	return s.loadBase(ctx, parentPath, name)
}

// AsFile, AsDirectory, AsSymlink, AsLink and AsNode wrap an already-loaded
// Base in the matching variant type, without a second fetch.
func (s *Store) AsFile(b *Base) *File           { return &File{store: s, Base: b} }
func (s *Store) AsDirectory(b *Base) *Directory { return &Directory{store: s, Base: b} }
func (s *Store) AsSymlink(b *Base) *Symlink     { return &Symlink{store: s, Base: b} }
func (s *Store) AsLink(b *Base) *Link           { return &Link{store: s, Base: b} }
func (s *Store) AsNode(b *Base) *Node           { return &Node{store: s, Base: b} }

// incrementNlink and decrementNlink are the generic nlink bookkeeping
// helpers shared by File's own hard-link counting and Link creation
// against a non-File target (spec §4.C allows link()'s target to be a
// file, node, or another link to one of those).
func (s *Store) incrementNlink(ctx context.Context, base *Base) error {
	now := s.clk.Now()
	return s.save(ctx, base, func(b *Base) {
		b.Nlink++
		b.Ctime = now
	})
}

func (s *Store) decrementNlink(ctx context.Context, base *Base) (uint32, error) {
	now := s.clk.Now()
	err := s.save(ctx, base, func(b *Base) {
		if b.Nlink > 0 {
			b.Nlink--
		}
		b.Ctime = now
	})
	if err != nil {
		return 0, err
	}
	return base.Nlink, nil
}

// save performs a version-coupled save with bounded retry. apply mutates
// base (in place) to express the caller's *intended* absolute change;
// on a lost race, the row is reloaded and apply is invoked again against
// the fresh copy, so two concurrent idempotent mutations (e.g. chmod to a
// fixed mode) both eventually succeed per spec §8 scenario 5.
func (s *Store) save(ctx context.Context, base *Base, apply func(*Base)) error {
	apply(base)
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		item := base.toItem()
		item["version"] = base.Version + 1
		err := s.meta.SaveIfVersion(ctx, metaKey(base.ParentPath, base.Name), item, base.Version)
		if err == nil {
			base.Version++
			return nil
		}
		if !errors.Is(err, kv.ErrConditionFailed) {
			return fmt.Errorf("record: save %s: %w", base.Path(), err)
		}

		fresh, loadErr := s.loadBase(ctx, base.ParentPath, base.Name)
		if loadErr != nil {
			return fmt.Errorf("record: reload %s after conflict: %w", base.Path(), loadErr)
		}
		apply(fresh)
		*base = *fresh
	}
	return fmt.Errorf("record: save %s: %w", base.Path(), ErrRetryExhausted)
}

// touchDirectoryMCTime updates a directory's mtime/ctime, per spec §4.C's
// "every directory-affecting mutation calls updateDirectoryMCTime".
func (s *Store) touchDirectoryMCTime(ctx context.Context, parentPath string) error {
	dirParent, dirName := splitPath(parentPath)
	base, err := s.loadBase(ctx, dirParent, dirName)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	now := s.clk.Now()
	return s.save(ctx, base, func(b *Base) {
		b.Mtime = now
		b.Ctime = now
	})
}

// splitPath divides an absolute path into (parentPath, name), matching
// the root's own (ParentPath="/", Name="/") self-reference.
func splitPath(p string) (string, string) {
	p = normalizeParent(p)
	if p == "/" {
		return "/", "/"
	}
	parent, name := path.Split(p)
	parent = strings.TrimSuffix(parent, "/")
	if parent == "" {
		parent = "/"
	}
	return parent, name
}
