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

package cmd

import (
	"fmt"
	"strings"
)

// parseURI parses the "aws:<region>/<tableName>" mount URI spec.md §6
// names. tableName roots both tables: the metadata table is tableName
// itself, and the blocks table is tableName+"Blocks".
func parseURI(uri string) (region, metadataTable, blocksTable string, err error) {
	const prefix = "aws:"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", "", fmt.Errorf("cmd: uri %q must start with %q", uri, prefix)
	}
	rest := strings.TrimPrefix(uri, prefix)

	region, table, ok := strings.Cut(rest, "/")
	if !ok || region == "" || table == "" {
		return "", "", "", fmt.Errorf("cmd: uri %q must have the form aws:<region>/<tableName>", uri)
	}
	return region, table, table + "Blocks", nil
}
