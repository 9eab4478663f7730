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

// Package lock implements the Lock Layer (component D): three KV-backed
// conditional-update primitives (exclusive, shared-read, exclusive-write)
// and the per-process in-memory registry that mediates POSIX advisory
// locks so the expensive KV round-trip only happens at reference-count
// transitions. Grounded on dynamofuse/lock.py's DynamoLock (UUID owner,
// bounded retry with sleep, reentrant depth counter).
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dynamofs/dynamofs/clock"
	"github.com/dynamofs/dynamofs/kv"
)

const (
	attrLockOwner = "lockOwner"
	attrReadLock  = "readLock"
	attrWriteLock = "writeLock"

	maxAcquireRetries = 5
	retryBackoff      = time.Second
)

// ErrWouldBlock is returned by a non-blocking acquire attempt that lost
// the race or found the resource held; fsops maps it to EAGAIN.
var ErrWouldBlock = errors.New("lock: would block")

// Primitives is the KV-backed lock layer, bound to the metadata Gateway.
// One instance serves every record in the filesystem; acquisitions are
// addressed by the record's metadata Key.
type Primitives struct {
	meta kv.Gateway
	clk  clock.Clock
}

func New(meta kv.Gateway, clk clock.Clock) *Primitives {
	return &Primitives{meta: meta, clk: clk}
}

// ExclusiveHandle represents one acquisition of the exclusive
// (lockOwner) lock, reentrant via an internal depth counter so nested
// internal critical sections (File.delete calling File.truncate) do not
// deadlock against themselves.
type ExclusiveHandle struct {
	p     *Primitives
	key   kv.Key
	owner string
	depth int
}

// AcquireExclusive blocks (sleeping retryBackoff between attempts, up to
// maxAcquireRetries) until lockOwner is absent and this handle has
// written its own UUID there. Exhaustion surfaces ErrWouldBlock, which
// fsops turns into EAGAIN per spec §4.D.
func (p *Primitives) AcquireExclusive(ctx context.Context, key kv.Key) (*ExclusiveHandle, error) {
	owner := uuid.NewString()
	for attempt := 0; attempt < maxAcquireRetries; attempt++ {
		err := p.meta.ConditionalUpdate(ctx, key, kv.Item{attrLockOwner: owner}, nil, kv.AttrAbsent(attrLockOwner))
		if err == nil {
			return &ExclusiveHandle{p: p, key: key, owner: owner, depth: 1}, nil
		}
		if !errors.Is(err, kv.ErrConditionFailed) {
			return nil, fmt.Errorf("lock: acquire exclusive %v: %w", key, err)
		}
		if err := sleep(ctx, p.clk, retryBackoff); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: exclusive lock on %v", ErrWouldBlock, key)
}

// Reacquire increments the reentrant depth counter for a handle already
// held by this process, without a further KV round-trip.
func (h *ExclusiveHandle) Reacquire() { h.depth++ }

// Release decrements the depth counter; on the 1->0 transition it
// conditionally clears lockOwner, matching its own UUID.
func (h *ExclusiveHandle) Release(ctx context.Context) error {
	h.depth--
	if h.depth > 0 {
		return nil
	}
	err := h.p.meta.ConditionalUpdate(ctx, h.key, nil, []string{attrLockOwner}, kv.AttrEquals(attrLockOwner, h.owner))
	if err != nil && !errors.Is(err, kv.ErrConditionFailed) {
		return fmt.Errorf("lock: release exclusive %v: %w", h.key, err)
	}
	return nil
}

// AcquireRead acquires the shared (read) lock: a conditional +1 on
// readLock, conditioned on writeLock being absent.
func (p *Primitives) AcquireRead(ctx context.Context, key kv.Key) error {
	for attempt := 0; attempt < maxAcquireRetries; attempt++ {
		err := p.meta.ConditionalUpdate(ctx, key, kv.Item{}, nil, kv.AttrAbsent(attrWriteLock))
		if err == nil {
			if _, err := p.meta.UpdateAttribute(ctx, key, attrReadLock, 1); err != nil {
				return fmt.Errorf("lock: increment readLock %v: %w", key, err)
			}
			return nil
		}
		if !errors.Is(err, kv.ErrConditionFailed) {
			return fmt.Errorf("lock: acquire read %v: %w", key, err)
		}
		if err := sleep(ctx, p.clk, retryBackoff); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: read lock on %v", ErrWouldBlock, key)
}

// ReleaseRead conditionally subtracts 1 from readLock. If the record has
// been deleted in the meantime (soft-delete tombstone), release is
// skipped per spec §4.D.
func (p *Primitives) ReleaseRead(ctx context.Context, key kv.Key) error {
	item, err := p.meta.GetItem(ctx, key, true, "deleted")
	if err == nil {
		if d, _ := item["deleted"].(bool); d {
			return nil
		}
	} else if !errors.Is(err, kv.ErrNotFound) {
		return err
	} else {
		return nil
	}

	_, err = p.meta.UpdateAttribute(ctx, key, attrReadLock, -1)
	if err != nil {
		return fmt.Errorf("lock: decrement readLock %v: %w", key, err)
	}
	return nil
}

// WriteHandle represents one acquisition of the exclusive write lock.
type WriteHandle struct {
	p     *Primitives
	key   kv.Key
	owner string
	depth int
}

// AcquireWrite acquires the exclusive write lock: a conditional put of a
// new UUID, conditioned on writeLock absent AND readLock == 0.
func (p *Primitives) AcquireWrite(ctx context.Context, key kv.Key) (*WriteHandle, error) {
	owner := uuid.NewString()
	for attempt := 0; attempt < maxAcquireRetries; attempt++ {
		item, err := p.meta.GetItem(ctx, key, true, attrReadLock, attrWriteLock)
		if err != nil {
			return nil, fmt.Errorf("lock: acquire write %v: %w", key, err)
		}
		if readers := asInt64(item[attrReadLock]); readers != 0 {
			if err := sleep(ctx, p.clk, retryBackoff); err != nil {
				return nil, err
			}
			continue
		}

		err = p.meta.ConditionalUpdate(ctx, key, kv.Item{attrWriteLock: owner}, nil, kv.AttrAbsent(attrWriteLock))
		if err == nil {
			return &WriteHandle{p: p, key: key, owner: owner, depth: 1}, nil
		}
		if !errors.Is(err, kv.ErrConditionFailed) {
			return nil, fmt.Errorf("lock: acquire write %v: %w", key, err)
		}
		if err := sleep(ctx, p.clk, retryBackoff); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: write lock on %v", ErrWouldBlock, key)
}

func (h *WriteHandle) Reacquire() { h.depth++ }

func (h *WriteHandle) Release(ctx context.Context) error {
	h.depth--
	if h.depth > 0 {
		return nil
	}
	err := h.p.meta.ConditionalUpdate(ctx, h.key, nil, []string{attrWriteLock}, kv.AttrEquals(attrWriteLock, h.owner))
	if err != nil && !errors.Is(err, kv.ErrConditionFailed) {
		return fmt.Errorf("lock: release write %v: %w", h.key, err)
	}
	return nil
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	select {
	case <-clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// This blank sync.Mutex guards nothing; it is kept to document that each
// registry entry's own mutex, not a package-global one, protects its state
// (spec §5: "no nested acquisitions across mutexes").
var _ = sync.Mutex{}
