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

package lock_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynamofs/dynamofs/clock"
	"github.com/dynamofs/dynamofs/kv"
	"github.com/dynamofs/dynamofs/lock"
)

func TestExclusiveBlocksSecondAcquirer(t *testing.T) {
	ctx := context.Background()
	gw := kv.NewMetadataFake()
	key := kv.Key{Partition: "/", Sort: "f"}
	require.NoError(t, gw.PutNew(ctx, key, kv.Item{"path": "/"}))

	clk := &clock.FakeClock{}
	p := lock.New(gw, clk)

	h1, err := p.AcquireExclusive(ctx, key)
	require.NoError(t, err)

	_, err = p.AcquireExclusive(ctx, key)
	assert.ErrorIs(t, err, lock.ErrWouldBlock)

	require.NoError(t, h1.Release(ctx))

	h2, err := p.AcquireExclusive(ctx, key)
	require.NoError(t, err)
	require.NoError(t, h2.Release(ctx))
}

func TestManagerExclusiveIsReentrantForSameOwner(t *testing.T) {
	ctx := context.Background()
	gw := kv.NewMetadataFake()
	key := kv.Key{Partition: "/", Sort: "f"}
	require.NoError(t, gw.PutNew(ctx, key, kv.Item{"path": "/"}))

	m := lock.NewManager(lock.New(gw, &clock.FakeClock{}))

	release1, err := m.Exclusive(ctx, key, "/f", "owner-a")
	require.NoError(t, err)
	release2, err := m.Exclusive(ctx, key, "/f", "owner-a")
	require.NoError(t, err)

	require.NoError(t, release2(ctx))
	require.NoError(t, release1(ctx))
}

func TestManagerExclusiveRejectsDistinctOwner(t *testing.T) {
	ctx := context.Background()
	gw := kv.NewMetadataFake()
	key := kv.Key{Partition: "/", Sort: "f"}
	require.NoError(t, gw.PutNew(ctx, key, kv.Item{"path": "/"}))

	m := lock.NewManager(lock.New(gw, &clock.FakeClock{}))

	release, err := m.Exclusive(ctx, key, "/f", "owner-a")
	require.NoError(t, err)

	_, err = m.Exclusive(ctx, key, "/f", "owner-b")
	assert.ErrorIs(t, err, lock.ErrBusy)

	require.NoError(t, release(ctx))

	release2, err := m.Exclusive(ctx, key, "/f", "owner-b")
	require.NoError(t, err)
	require.NoError(t, release2(ctx))
}

func TestReadLocksShareAgainstEachOtherButNotWrite(t *testing.T) {
	ctx := context.Background()
	gw := kv.NewMetadataFake()
	key := kv.Key{Partition: "/", Sort: "f"}
	require.NoError(t, gw.PutNew(ctx, key, kv.Item{"path": "/"}))

	m := lock.NewManager(lock.New(gw, &clock.FakeClock{}))

	relA, err := m.Read(ctx, key, "/f", "owner-a")
	require.NoError(t, err)
	relB, err := m.Read(ctx, key, "/f", "owner-b")
	require.NoError(t, err)

	_, err = lock.New(gw, &clock.FakeClock{}).AcquireWrite(ctx, key)
	assert.ErrorIs(t, err, lock.ErrWouldBlock)

	require.NoError(t, relA(ctx))
	require.NoError(t, relB(ctx))

	wh, err := lock.New(gw, &clock.FakeClock{}).AcquireWrite(ctx, key)
	require.NoError(t, err)
	require.NoError(t, wh.Release(ctx))
}

func TestManagerWriteRejectsDistinctOwner(t *testing.T) {
	ctx := context.Background()
	gw := kv.NewMetadataFake()
	key := kv.Key{Partition: "/", Sort: "f"}
	require.NoError(t, gw.PutNew(ctx, key, kv.Item{"path": "/"}))

	m := lock.NewManager(lock.New(gw, &clock.FakeClock{}))

	release, err := m.Write(ctx, key, "/f", "owner-a")
	require.NoError(t, err)

	_, err = m.Write(ctx, key, "/f", "owner-b")
	assert.ErrorIs(t, err, lock.ErrBusy)

	require.NoError(t, release(ctx))
}
