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

package lock

import (
	"context"
	"errors"
	"sync"

	"github.com/dynamofs/dynamofs/kv"
)

// ErrBusy is returned by the registry when a different owner already
// holds a conflicting lock on the path, per spec §4.D's
// writeLock/readLock rejection rules. fsops maps it to EBUSY.
var ErrBusy = errors.New("lock: busy")

// Manager is FileLockManager (spec §4.D): the per-process registry
// fronting Primitives, keyed by path, with each path's table further
// keyed by lock-owner id (the FUSE lock_owner/pid for POSIX advisory
// locks, or a fresh id per call for internal critical sections). Only
// the first local holder of a given kind crosses into a KV round-trip;
// every other local acquisition/release is resolved against this table.
type Manager struct {
	prims *Primitives

	mu      sync.Mutex
	entries map[string]*entry
}

// entry is one path's FileLock: at most one exclusive-internal holder,
// at most one write holder, and any number of read holders, each tracked
// by owner so a second, distinct owner is rejected rather than treated
// as a reentrant re-acquisition of the first owner's hold.
type entry struct {
	mu sync.Mutex

	exclOwner string
	excl      *ExclusiveHandle

	writeOwner string
	write      *WriteHandle

	readOwners map[string]int
	readTotal  int
}

func (e *entry) empty() bool {
	return e.excl == nil && e.write == nil && e.readTotal == 0
}

func NewManager(prims *Primitives) *Manager {
	return &Manager{prims: prims, entries: map[string]*entry{}}
}

func (m *Manager) get(path string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[path]
	if !ok {
		e = &entry{readOwners: map[string]int{}}
		m.entries[path] = e
	}
	return e
}

func (m *Manager) release(path string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.empty() {
		delete(m.entries, path)
	}
}

// Exclusive acquires the internal-mutation lock (lockOwner) on path for
// owner, reentrant if owner already holds it. A different owner already
// holding any lock on path is rejected with ErrBusy rather than queued,
// since this path is used for short internal critical sections (file
// writes, deletes, truncates), not blocking waits. The returned release
// func must be deferred.
func (m *Manager) Exclusive(ctx context.Context, key kv.Key, path, owner string) (func(context.Context) error, error) {
	e := m.get(path)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.excl != nil && e.exclOwner == owner:
		e.excl.Reacquire()
	case !e.empty():
		return nil, ErrBusy
	default:
		h, err := m.prims.AcquireExclusive(ctx, key)
		if err != nil {
			return nil, err
		}
		e.excl = h
		e.exclOwner = owner
	}

	return func(ctx context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		err := e.excl.Release(ctx)
		if e.excl.depth == 0 {
			e.excl = nil
			e.exclOwner = ""
		}
		m.release(path, e)
		return err
	}, nil
}

// Read acquires a shared read lock on path for owner, per spec §4.D:
// granted locally unless owner already holds the exclusive lock (reject)
// or a different owner holds the write lock or the exclusive lock
// (ErrBusy). The KV round-trip only happens on the entry's 0->1 reader
// transition.
func (m *Manager) Read(ctx context.Context, key kv.Key, path, owner string) (func(context.Context) error, error) {
	e := m.get(path)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.excl != nil && e.exclOwner == owner {
		return nil, ErrBusy
	}
	if e.excl != nil && e.exclOwner != owner {
		return nil, ErrBusy
	}
	if e.write != nil && e.writeOwner != owner {
		return nil, ErrBusy
	}

	if e.readTotal == 0 {
		if err := m.prims.AcquireRead(ctx, key); err != nil {
			return nil, err
		}
	}
	e.readOwners[owner]++
	e.readTotal++

	return func(ctx context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.readOwners[owner]--
		if e.readOwners[owner] == 0 {
			delete(e.readOwners, owner)
		}
		e.readTotal--

		var err error
		if e.readTotal == 0 {
			err = m.prims.ReleaseRead(ctx, key)
		}
		m.release(path, e)
		return err
	}, nil
}

// Write acquires the exclusive write lock (POSIX advisory F_WRLCK) on
// path for owner, per spec §4.D: granted only if the local table is
// empty, or owner already holds it (reentrant); otherwise ErrBusy,
// which fsops surfaces as EBUSY (mandatory scenario: a second owner must
// not silently share or block forever, it must fail fast).
func (m *Manager) Write(ctx context.Context, key kv.Key, path, owner string) (func(context.Context) error, error) {
	e := m.get(path)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.write != nil && e.writeOwner == owner:
		e.write.Reacquire()
	case !e.empty():
		return nil, ErrBusy
	default:
		h, err := m.prims.AcquireWrite(ctx, key)
		if err != nil {
			return nil, err
		}
		e.write = h
		e.writeOwner = owner
	}

	return func(ctx context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		err := e.write.Release(ctx)
		if e.write.depth == 0 {
			e.write = nil
			e.writeOwner = ""
		}
		m.release(path, e)
		return err
	}, nil
}
