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

package bootstrap

import (
	"golang.org/x/sys/unix"

	"github.com/dynamofs/dynamofs/internal/logger"
)

const defaultHandleCapacity = 512

// ChooseHandleCapacity sizes the hint fsops.New passes along for its
// fileHandles/dirHandles map preallocation: every open file/dir handle
// this process hands out is backed by nothing heavier than a Go map
// entry, but the process's own RLIMIT_NOFILE still bounds how many
// kernel-visible file descriptors the mount can plausibly serve
// concurrently, so that bound is a reasonable capacity hint.
func ChooseHandleCapacity() int {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		logger.Warnf("bootstrap: querying RLIMIT_NOFILE: %v, using default %d", err, defaultHandleCapacity)
		return defaultHandleCapacity
	}

	limit := rlimit.Cur/2 + rlimit.Cur/4
	const reasonableLimit = 1 << 15
	if limit > reasonableLimit {
		limit = reasonableLimit
	}
	if limit < 16 {
		limit = 16
	}
	return int(limit)
}
