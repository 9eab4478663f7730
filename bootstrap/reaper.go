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

// Package bootstrap wires a Record Store up at daemon startup (creating
// the reserved rows the rest of the system assumes exist) and runs the
// background reaper that purges /DELETED_LINKS tombstones once their last
// referring Link row is gone.
package bootstrap

import (
	"context"
	"time"

	"github.com/dynamofs/dynamofs/clock"
	"github.com/dynamofs/dynamofs/internal/logger"
	"github.com/dynamofs/dynamofs/record"
)

// Reaper periodically scans /DELETED_LINKS and purges tombstones that no
// Link row references any more, per spec §4.C's deferred-reclamation
// design for unlink() under shared-nothing nlink bookkeeping.
type Reaper struct {
	records  *record.Store
	clk      clock.Clock
	interval time.Duration
}

// NewReaper constructs a Reaper bound to records, scanning every interval.
func NewReaper(records *record.Store, clk clock.Clock, interval time.Duration) *Reaper {
	return &Reaper{records: records, clk: clk, interval: interval}
}

// Run blocks, scanning on each tick until ctx is cancelled. Intended to be
// launched in its own goroutine by cmd's daemon entry point.
func (r *Reaper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.clk.After(r.interval):
			if err := r.sweep(ctx); err != nil {
				logger.Warnf("reaper: sweep failed: %v", err)
			}
		}
	}
}

// sweep runs a single pass, purging every reapable tombstone. Errors
// purging one tombstone do not stop the sweep; they are logged and the
// next tombstone is still attempted.
func (r *Reaper) sweep(ctx context.Context) error {
	entries, err := r.records.ListDeletedLinks(ctx)
	if err != nil {
		return err
	}

	purged := 0
	for _, e := range entries {
		reapable, err := r.records.Reapable(ctx, e.Base)
		if err != nil {
			logger.Warnf("reaper: checking %s: %v", e.Base.Path(), err)
			continue
		}
		if !reapable {
			continue
		}
		if err := r.records.Purge(ctx, e.Base); err != nil {
			logger.Warnf("reaper: purging %s: %v", e.Base.Path(), err)
			continue
		}
		purged++
	}
	if purged > 0 {
		logger.Infof("reaper: purged %d tombstone(s)", purged)
	}
	return nil
}
