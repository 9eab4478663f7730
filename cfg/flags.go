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

package cfg

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BindFlags registers every dynamofs flag on flagSet and binds it to viper
// under the matching key, so DYNAMOFS_<KEY> environment variables and an
// optional config file resolve the same way a flag would.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.String("kv.endpoint", "", "Override endpoint for the KV backend (for a local DynamoDB).")
	flagSet.Int("kv.retry-budget", 5, "Accepted but not read; a version-conflicted save retries a fixed 5 times.")
	flagSet.Int64("kv.block-size-bytes", 0, "Accepted but not read; blocks are always 32768 bytes.")

	flagSet.Uint32("file-system.uid", 0, "Uid this mount checks permissions as and gives to entries it creates.")
	flagSet.Uint32("file-system.gid", 0, "Gid this mount checks permissions as and gives to entries it creates.")
	flagSet.String("file-system.file-mode", "0644", "Accepted but not read; new files take the mode of the create request, octal.")
	flagSet.String("file-system.dir-mode", "0755", "Mode of the root and /DELETED_LINKS directories when first created, octal.")

	flagSet.Int("lock.max-retries", 5, "Accepted but not read; lock acquisition tries a fixed 5 times before EAGAIN.")
	flagSet.Duration("lock.backoff", time.Second, "Accepted but not read; lock attempts are a fixed 1s apart.")

	flagSet.String("log.format", "text", "Log encoding: text or json.")
	flagSet.String("log.severity", "info", "Minimum log severity: trace, debug, info, warning, error.")
	flagSet.String("log.path", "", "If set, write logs to this file (rotated) instead of stderr.")

	flagSet.Bool("foreground", false, "Accepted but not read; the mount process always runs in the foreground.")

	for _, name := range []string{
		"kv.endpoint", "kv.retry-budget", "kv.block-size-bytes",
		"file-system.uid", "file-system.gid", "file-system.file-mode", "file-system.dir-mode",
		"lock.max-retries", "lock.backoff",
		"log.format", "log.severity", "log.path",
		"foreground",
	} {
		if err := viper.BindPFlag(name, flagSet.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}
