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
	"context"

	"github.com/dynamofs/dynamofs/record"
)

// CreateTable idempotently provisions the reserved rows a fresh table
// needs before any mount can succeed: the root directory, the hidden
// /DELETED_LINKS directory, and the inode-minting counter row. Safe to
// call against an already-provisioned table (every row is a conditional
// put guarded against ErrAlreadyExists).
func CreateTable(ctx context.Context, records *record.Store, rootMode, dirMode uint32) error {
	return records.EnsureRoot(ctx, rootMode, dirMode)
}
