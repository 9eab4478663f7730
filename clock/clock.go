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

// Package clock provides an injectable source of time, so that components
// touching wall-clock time (mtime/ctime stamping, lock retry backoff, the
// deleted-inode reaper) can be exercised deterministically in tests.
package clock

import "time"

// Clock is a source of time and of timers, abstracted so that tests can
// supply a fake or simulated implementation.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the time once the given
	// duration has elapsed, with the semantics of time.After.
	After(d time.Duration) <-chan time.Time
}

var _ Clock = RealClock{}
var _ Clock = &FakeClock{}
var _ Clock = &SimulatedClock{}
