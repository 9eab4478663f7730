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

// Package block implements the fixed-size content-block engine (component
// B): block striping, partial-block read-modify-write, sparse truncation,
// and an optional short-lived read cache. It knows nothing about POSIX
// semantics or file metadata; the record package drives it and owns
// st_size/mtime bookkeeping.
package block

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dynamofs/dynamofs/clock"
	"github.com/dynamofs/dynamofs/kv"
)

// Size is the fixed block length in bytes, matching the metadata table's
// st_blksize value reported to callers.
const Size = 32768

// maxSaveRetries bounds the optimistic-save retry loop for a single block,
// per spec's global retry budget.
const maxSaveRetries = 5

// View is an in-memory copy of one block row, suitable for read-modify-write.
type View struct {
	BlockID string
	BlockNum int64

	// Data is nil for a metadata-only fetch (wantData=false) or for a
	// block whose data attribute was never written.
	Data []byte

	// Version is the version observed at fetch time (0 for a freshly
	// created, unsaved block).
	Version int64
}

func blockKey(blockID string, n int64) kv.Key {
	return kv.Key{Partition: blockID, Sort: strconv.FormatInt(n, 10)}
}

// Store is the Block Store, bound to the blocks-table Gateway.
type Store struct {
	gw    kv.Gateway
	clock clock.Clock

	cacheEnabled bool
	cacheTTL     time.Duration
	mu           sync.Mutex
	cache        map[string]cacheEntry
}

type cacheEntry struct {
	view      *View
	fetchedAt time.Time
}

// NewStore returns a Block Store over gw. cacheEnabled turns on the
// optional 2-second read cache described in spec §4.B; NewStore has no
// default, each caller chooses (the cmd entry points pass true). Cached
// entries are shared across filesystem operations until they expire or a
// Save/Truncate through this Store invalidates them; writes made through
// another Store are not seen until expiry.
func NewStore(gw kv.Gateway, clk clock.Clock, cacheEnabled bool) *Store {
	return &Store{
		gw:           gw,
		clock:        clk,
		cacheEnabled: cacheEnabled,
		cacheTTL:     2 * time.Second,
		cache:        make(map[string]cacheEntry),
	}
}

// ReadBlock fetches one block. wantData=false skips the data attribute,
// useful when only version/existence is needed. Returns kv.ErrNotFound if
// the block row does not exist.
func (s *Store) ReadBlock(ctx context.Context, blockID string, n int64, wantData bool) (*View, error) {
	cacheKey := fmt.Sprintf("%s/%d", blockID, n)
	if s.cacheEnabled && wantData {
		if v, ok := s.cacheGet(cacheKey); ok {
			return v, nil
		}
	}

	projection := []string{"version"}
	if wantData {
		projection = append(projection, "data")
	}

	item, err := s.gw.GetItem(ctx, blockKey(blockID, n), true, projection...)
	if err != nil {
		return nil, err
	}

	view := &View{BlockID: blockID, BlockNum: n}
	if v, ok := item["version"].(int64); ok {
		view.Version = v
	}
	if wantData {
		if d, ok := item["data"].([]byte); ok {
			view.Data = d
		}
	}

	if s.cacheEnabled && wantData {
		s.cachePutNewer(cacheKey, view)
	}
	return view, nil
}

// CreateBlock allocates a fresh, empty block row. Fails with
// kv.ErrAlreadyExists if the block already exists (the caller should fall
// back to ReadBlock + splice in that race).
func (s *Store) CreateBlock(ctx context.Context, blockID string, n int64) (*View, error) {
	err := s.gw.PutNew(ctx, blockKey(blockID, n), kv.Item{"version": int64(0)})
	if err != nil {
		return nil, err
	}
	return &View{BlockID: blockID, BlockNum: n}, nil
}

// WriteSliceInto splices bytes into view.Data at offsetInBlock, growing the
// backing slice as needed and preserving bytes outside the spliced range.
// It mutates view in place; callers still must call Save to persist it.
func (s *Store) WriteSliceInto(view *View, offsetInBlock int, data []byte) {
	needed := offsetInBlock + len(data)
	if needed > Size {
		// Callers compute slice lengths so this never happens; guard
		// anyway since a silent overflow would corrupt adjacent blocks.
		panic(fmt.Sprintf("block: slice [%d:%d) exceeds block size %d", offsetInBlock, needed, Size))
	}

	if len(view.Data) < needed {
		grown := make([]byte, needed)
		copy(grown, view.Data)
		view.Data = grown
	}
	copy(view.Data[offsetInBlock:needed], data)
}

// Save persists view with a version-coupled conditional write, retrying up
// to maxSaveRetries times against a freshly re-read copy if another writer
// won the race on the same block. On exhaustion it returns kv.ErrConditionFailed
// wrapped, for the caller to turn into EIO.
func (s *Store) Save(ctx context.Context, view *View, rewrite func(v *View)) error {
	current := view
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		err := s.gw.SaveIfVersion(ctx, blockKey(current.BlockID, current.BlockNum),
			kv.Item{"data": current.Data, "version": current.Version + 1}, current.Version)
		if err == nil {
			current.Version++
			*view = *current
			s.invalidate(fmt.Sprintf("%s/%d", current.BlockID, current.BlockNum))
			return nil
		}
		if !errors.Is(err, kv.ErrConditionFailed) {
			return err
		}

		fresh, readErr := s.ReadBlock(ctx, current.BlockID, current.BlockNum, true)
		if readErr != nil {
			return readErr
		}
		if rewrite != nil {
			rewrite(fresh)
		}
		current = fresh
	}
	return fmt.Errorf("block: save %s/%d: %w after %d retries", view.BlockID, view.BlockNum, kv.ErrConditionFailed, maxSaveRetries)
}

// Read returns up to length bytes of file content starting at offset,
// given the file's current st_size. A missing block inside st_size is a
// sparse hole and reads as zero bytes. A block with no data attribute, or
// whose data is shorter than the requested range, ends the read early; the
// returned slice is therefore sometimes shorter than requested.
func (s *Store) Read(ctx context.Context, blockID string, fileSize, offset int64, length int) ([]byte, error) {
	if offset >= fileSize || length <= 0 {
		return nil, nil
	}
	if remaining := fileSize - offset; int64(length) > remaining {
		length = int(remaining)
	}

	out := make([]byte, 0, length)
	remaining := length
	pos := offset

	for remaining > 0 {
		n := pos / Size
		start := int(pos % Size)
		want := Size - start
		if want > remaining {
			want = remaining
		}

		view, err := s.ReadBlock(ctx, blockID, n, true)
		if errors.Is(err, kv.ErrNotFound) {
			out = append(out, make([]byte, want)...)
			pos += int64(want)
			remaining -= want
			continue
		}
		if err != nil {
			return nil, err
		}
		if view.Data == nil || start >= len(view.Data) {
			break
		}

		end := start + want
		if end > len(view.Data) {
			end = len(view.Data)
		}
		out = append(out, view.Data[start:end]...)

		if end-start < want {
			break
		}
		pos += int64(want)
		remaining -= want
	}

	return out, nil
}

// Write stripes data across blocks starting at offset, per spec §4.B's
// algorithm: each touched block is read (or created if absent), spliced,
// and conditionally saved, with per-block retry on lost races.
func (s *Store) Write(ctx context.Context, blockID string, offset int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	first := offset / Size
	last := (offset + int64(len(data)) - 1) / Size

	remaining := data
	for b := first; b <= last; b++ {
		start := 0
		if b == first {
			start = int(offset % Size)
		}
		n := Size - start
		if n > len(remaining) {
			n = len(remaining)
		}
		slice := remaining[:n]
		remaining = remaining[n:]

		view, err := s.ReadBlock(ctx, blockID, b, true)
		if errors.Is(err, kv.ErrNotFound) {
			view, err = s.CreateBlock(ctx, blockID, b)
			if errors.Is(err, kv.ErrAlreadyExists) {
				view, err = s.ReadBlock(ctx, blockID, b, true)
			}
		}
		if err != nil {
			return err
		}

		s.WriteSliceInto(view, start, slice)
		if err := s.Save(ctx, view, func(fresh *View) {
			s.WriteSliceInto(fresh, start, slice)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Truncate deletes every block past the new length L and, if L leaves a
// partial final block, rewrites that block's data to its first L%Size
// bytes. An expanding truncate (L beyond the current blocks) allocates
// nothing, matching sparse-file semantics.
func (s *Store) Truncate(ctx context.Context, blockID string, L int64) error {
	lastKept := int64(-1)
	if L > 0 {
		lastKept = (L - 1) / Size
	}

	var token string
	for {
		page, err := s.gw.QueryPartition(ctx, blockID, kv.QueryOptions{
			Projection:        []string{"blockNum", "version"},
			ContinuationToken: token,
			Limit:             200,
		})
		if err != nil {
			return err
		}

		for _, item := range page.Items {
			n, ok := item["blockNum"].(int64)
			if !ok {
				continue
			}
			if n > lastKept {
				if err := s.gw.DeleteItem(ctx, blockKey(blockID, n)); err != nil {
					return err
				}
				s.invalidate(fmt.Sprintf("%s/%d", blockID, n))
			}
		}

		if page.ContinuationToken == "" {
			break
		}
		token = page.ContinuationToken
	}

	if L <= 0 {
		return nil
	}

	partialLen := int(L % Size)
	if partialLen == 0 {
		return nil
	}

	view, err := s.ReadBlock(ctx, blockID, lastKept, true)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(view.Data) <= partialLen {
		return nil
	}

	view.Data = bytes.Clone(view.Data[:partialLen])
	return s.Save(ctx, view, func(fresh *View) {
		if len(fresh.Data) > partialLen {
			fresh.Data = bytes.Clone(fresh.Data[:partialLen])
		}
	})
}

func (s *Store) cacheGet(key string) (*View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[key]
	if !ok || s.clock.Now().Sub(entry.fetchedAt) > s.cacheTTL {
		return nil, false
	}
	copyView := *entry.view
	return &copyView, true
}

func (s *Store) cachePutNewer(key string, view *View) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.cache[key]; ok && existing.view.Version > view.Version {
		return
	}
	copyView := *view
	s.cache[key] = cacheEntry{view: &copyView, fetchedAt: s.clock.Now()}
}

func (s *Store) invalidate(key string) {
	if !s.cacheEnabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, key)
}
