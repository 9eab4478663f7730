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

package kv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynamofs/dynamofs/kv"
)

func TestFakePutNewRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	g := kv.NewMetadataFake()

	key := kv.Key{Partition: "/", Sort: "foo"}
	require.NoError(t, g.PutNew(ctx, key, kv.Item{"version": int64(0)}))

	err := g.PutNew(ctx, key, kv.Item{"version": int64(0)})
	assert.ErrorIs(t, err, kv.ErrAlreadyExists)
}

func TestFakeGetItemNotFound(t *testing.T) {
	ctx := context.Background()
	g := kv.NewMetadataFake()

	_, err := g.GetItem(ctx, kv.Key{Partition: "/", Sort: "missing"}, true)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestFakeSaveIfVersionDetectsLostRace(t *testing.T) {
	ctx := context.Background()
	g := kv.NewMetadataFake()
	key := kv.Key{Partition: "/", Sort: "foo"}

	require.NoError(t, g.PutNew(ctx, key, kv.Item{"version": int64(0), "size": int64(0)}))

	require.NoError(t, g.SaveIfVersion(ctx, key, kv.Item{"version": int64(1), "size": int64(10)}, 0))

	err := g.SaveIfVersion(ctx, key, kv.Item{"version": int64(1), "size": int64(20)}, 0)
	assert.ErrorIs(t, err, kv.ErrConditionFailed)

	item, err := g.GetItem(ctx, key, true)
	require.NoError(t, err)
	assert.Equal(t, int64(10), item["size"])
}

func TestFakeUpdateAttributeIsAnAtomicCounter(t *testing.T) {
	ctx := context.Background()
	g := kv.NewMetadataFake()
	key := kv.Key{Partition: "COUNTERS", Sort: "inode"}

	n, err := g.UpdateAttribute(ctx, key, "value", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = g.UpdateAttribute(ctx, key, "value", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFakeConditionalUpdateAbsent(t *testing.T) {
	ctx := context.Background()
	g := kv.NewMetadataFake()
	key := kv.Key{Partition: "/", Sort: "foo"}
	require.NoError(t, g.PutNew(ctx, key, kv.Item{"version": int64(0)}))

	err := g.ConditionalUpdate(ctx, key, kv.Item{"lockOwner": "owner-1"}, nil, kv.AttrAbsent("lockOwner"))
	require.NoError(t, err)

	err = g.ConditionalUpdate(ctx, key, kv.Item{"lockOwner": "owner-2"}, nil, kv.AttrAbsent("lockOwner"))
	assert.ErrorIs(t, err, kv.ErrConditionFailed)

	err = g.ConditionalUpdate(ctx, key, nil, []string{"lockOwner"}, kv.AttrEquals("lockOwner", "owner-1"))
	require.NoError(t, err)

	item, err := g.GetItem(ctx, key, true)
	require.NoError(t, err)
	_, present := item["lockOwner"]
	assert.False(t, present)
}

func TestFakeQueryPartitionOrdersAndPaginates(t *testing.T) {
	ctx := context.Background()
	g := kv.NewMetadataFake()

	names := []string{"a", "b", "c", "d"}
	for _, n := range names {
		require.NoError(t, g.PutNew(ctx, kv.Key{Partition: "/dir", Sort: n}, kv.Item{"version": int64(0)}))
	}

	page, err := g.QueryPartition(ctx, "/dir", kv.QueryOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.ContinuationToken)

	page2, err := g.QueryPartition(ctx, "/dir", kv.QueryOptions{Limit: 2, ContinuationToken: page.ContinuationToken})
	require.NoError(t, err)
	require.Len(t, page2.Items, 2)
	assert.Empty(t, page2.ContinuationToken)
}

func TestFakeDeleteItemIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g := kv.NewMetadataFake()
	key := kv.Key{Partition: "/", Sort: "foo"}

	assert.NoError(t, g.DeleteItem(ctx, key))

	require.NoError(t, g.PutNew(ctx, key, kv.Item{"version": int64(0)}))
	require.NoError(t, g.DeleteItem(ctx, key))
	assert.NoError(t, g.DeleteItem(ctx, key))

	_, err := g.GetItem(ctx, key, true)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}
