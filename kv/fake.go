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

package kv

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Fake is an in-memory Gateway used by every package's tests above kv. It
// implements the same consistency model the real backend gives us: reads
// and writes are linearizable per key (the spec's eventual-consistency
// clause is about cross-region replication lag, which the record/lock
// layers already compensate for with version checks; a fake that reordered
// writes would not help exercise that logic, only make tests flaky).
//
// Rows are stored under the same attribute names the real DynamoDB-backed
// Gateway uses (schema.partitionAttr/sortAttr), so a caller that inspects
// Page.Items for the sort-key attribute (the block-store truncation scan
// does, to recover blockNum) sees the same shape against either backend.
type Fake struct {
	table  string
	schema keySchema

	mu    sync.Mutex
	items map[string]Item
}

// NewFake returns an empty in-memory Gateway whose rows carry the given
// key attribute names. sortIsNumber mirrors the blocks table's blockNum,
// which sorts and compares numerically rather than lexicographically.
func NewFake(table, partitionAttr, sortAttr string, sortIsNumber bool) *Fake {
	return &Fake{
		table:  table,
		schema: keySchema{partitionAttr: partitionAttr, sortAttr: sortAttr, sortIsNumber: sortIsNumber},
		items:  make(map[string]Item),
	}
}

// NewMetadataFake returns a Fake keyed like the metadata table, (path, name).
func NewMetadataFake() *Fake { return NewFake("metadata", "path", "name", false) }

// NewBlocksFake returns a Fake keyed like the blocks table, (blockId, blockNum).
func NewBlocksFake() *Fake { return NewFake("blocks", "blockId", "blockNum", true) }

func encodeKey(key Key) string {
	return key.Partition + "\x00" + key.Sort
}

func (f *Fake) TableName() string { return f.table }

func (f *Fake) sortValue(key Key) interface{} {
	if f.schema.sortIsNumber {
		n, _ := strconv.ParseInt(key.Sort, 10, 64)
		return n
	}
	return key.Sort
}

func (f *Fake) sortOf(row Item) interface{} {
	return row[f.schema.sortAttr]
}

func (f *Fake) sortLess(a, b interface{}) bool {
	if f.schema.sortIsNumber {
		an, _ := a.(int64)
		bn, _ := b.(int64)
		return an < bn
	}
	as, _ := a.(string)
	bs, _ := b.(string)
	return as < bs
}

func (f *Fake) sortToken(v interface{}) string {
	if f.schema.sortIsNumber {
		n, _ := v.(int64)
		return strconv.FormatInt(n, 10)
	}
	s, _ := v.(string)
	return s
}

func (f *Fake) GetItem(ctx context.Context, key Key, consistent bool, projection ...string) (Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.items[encodeKey(key)]
	if !ok {
		return nil, ErrNotFound
	}
	if len(projection) == 0 {
		return item.Clone(), nil
	}

	out := make(Item, len(projection))
	for _, attr := range projection {
		if v, ok := item[attr]; ok {
			out[attr] = v
		}
	}
	return out, nil
}

func (f *Fake) withKeyAttrs(key Key, attrs Item) Item {
	row := attrs.Clone()
	row[f.schema.partitionAttr] = key.Partition
	row[f.schema.sortAttr] = f.sortValue(key)
	return row
}

func (f *Fake) PutNew(ctx context.Context, key Key, attrs Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := encodeKey(key)
	if _, ok := f.items[k]; ok {
		return ErrAlreadyExists
	}
	f.items[k] = f.withKeyAttrs(key, attrs)
	return nil
}

func (f *Fake) SaveIfVersion(ctx context.Context, key Key, attrs Item, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := encodeKey(key)
	existing, ok := f.items[k]
	current := int64(0)
	if ok {
		if v, ok := existing["version"].(int64); ok {
			current = v
		}
	}
	if current != expectedVersion {
		return ErrConditionFailed
	}

	f.items[k] = f.withKeyAttrs(key, attrs)
	return nil
}

func (f *Fake) UpdateAttribute(ctx context.Context, key Key, attr string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := encodeKey(key)
	row, ok := f.items[k]
	if !ok {
		row = f.withKeyAttrs(key, Item{})
		f.items[k] = row
	}

	var current int64
	if v, ok := row[attr]; ok {
		switch n := v.(type) {
		case int64:
			current = n
		case int:
			current = int64(n)
		default:
			return 0, fmt.Errorf("%w: attribute %q is not numeric", ErrTransient, attr)
		}
	}

	next := current + delta
	row[attr] = next
	return next, nil
}

func (f *Fake) ConditionalUpdate(ctx context.Context, key Key, sets Item, removes []string, cond Condition) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := encodeKey(key)
	row, ok := f.items[k]
	if !ok {
		row = f.withKeyAttrs(key, Item{})
	}

	if !cond.isZero() {
		val, present := row[cond.Attr]
		switch cond.Kind {
		case ConditionAbsent:
			if present {
				return ErrConditionFailed
			}
		case ConditionEquals:
			if !present || !valuesEqual(val, cond.Value) {
				return ErrConditionFailed
			}
		}
	}

	for attr, v := range sets {
		row[attr] = v
	}
	for _, attr := range removes {
		delete(row, attr)
	}
	f.items[k] = row
	return nil
}

func (f *Fake) QueryPartition(ctx context.Context, partition string, opts QueryOptions) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []Item
	for _, row := range f.items {
		if row[f.schema.partitionAttr] != partition {
			continue
		}
		if opts.SortPrefix != "" {
			sortStr, _ := f.sortOf(row).(string)
			if !strings.HasPrefix(sortStr, opts.SortPrefix) {
				continue
			}
		}
		matched = append(matched, row)
	}

	sort.Slice(matched, func(i, j int) bool {
		return f.sortLess(f.sortOf(matched[i]), f.sortOf(matched[j]))
	})

	start := 0
	if opts.ContinuationToken != "" {
		for i, row := range matched {
			if f.sortToken(f.sortOf(row)) == opts.ContinuationToken {
				start = i + 1
				break
			}
		}
	}
	matched = matched[start:]

	limit := len(matched)
	if opts.Limit > 0 && int(opts.Limit) < limit {
		limit = int(opts.Limit)
	}

	page := make([]Item, 0, limit)
	for _, row := range matched[:limit] {
		item := row.Clone()
		if len(opts.Projection) > 0 {
			projected := make(Item, len(opts.Projection)+2)
			for _, attr := range opts.Projection {
				if v, ok := item[attr]; ok {
					projected[attr] = v
				}
			}
			projected[f.schema.partitionAttr] = item[f.schema.partitionAttr]
			projected[f.schema.sortAttr] = item[f.schema.sortAttr]
			item = projected
		}
		page = append(page, item)
	}

	var token string
	if limit < len(matched) {
		token = f.sortToken(f.sortOf(matched[limit-1]))
	}

	return Page{Items: page, ContinuationToken: token}, nil
}

func (f *Fake) DeleteItem(ctx context.Context, key Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, encodeKey(key))
	return nil
}

func valuesEqual(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
