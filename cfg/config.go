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

// Package cfg is dynamofs's analogue of gcsfuse's cfg package: a Config
// struct populated by cobra flags bound through viper, so flags,
// DYNAMOFS_* environment variables, and an optional YAML file all resolve
// into the same struct.
package cfg

import "time"

type Config struct {
	KV         KVConfig         `yaml:"kv" mapstructure:"kv"`
	FileSystem FileSystemConfig `yaml:"file-system" mapstructure:"file-system"`
	Lock       LockConfig       `yaml:"lock" mapstructure:"lock"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`

	// Foreground mirrors gcsfuse's --foreground. It is decoded but not read:
	// the mount process never daemonizes, so it always runs in the
	// foreground.
	Foreground bool `yaml:"foreground" mapstructure:"foreground"`
}

// KVConfig describes the KV Gateway's backing table and retry posture.
// Region/MetadataTable/BlocksTable are normally derived from the
// aws:<region>/<table> mount URI (see cmd), not bound as flags; Endpoint
// and the two retry/size overrides are the only fields a flag sets
// directly.
type KVConfig struct {
	Region        string `mapstructure:"-"`
	MetadataTable string `mapstructure:"-"`
	BlocksTable   string `mapstructure:"-"`

	// Endpoint overrides the default AWS endpoint resolution, for pointing
	// at a local DynamoDB for development/testing.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`

	// RetryBudget is decoded but not read: record.Store.save and
	// block.Store.Save retry a version conflict a fixed 5 times.
	RetryBudget int `yaml:"retry-budget" mapstructure:"retry-budget"`

	// BlockSizeBytes is decoded but not read: block.Store always stripes
	// at block.Size (32768 bytes).
	BlockSizeBytes int64 `yaml:"block-size-bytes" mapstructure:"block-size-bytes"`
}

type FileSystemConfig struct {
	Uid      uint32 `yaml:"uid" mapstructure:"uid"`
	Gid      uint32 `yaml:"gid" mapstructure:"gid"`
	FileMode Octal  `yaml:"file-mode" mapstructure:"file-mode"`
	DirMode  Octal  `yaml:"dir-mode" mapstructure:"dir-mode"`
}

// LockConfig is decoded but not read: lock.Primitives retries a fixed 5
// times with a fixed 1s backoff.
type LockConfig struct {
	MaxRetries int           `yaml:"max-retries" mapstructure:"max-retries"`
	Backoff    time.Duration `yaml:"backoff" mapstructure:"backoff"`
}

type LogConfig struct {
	Format   string `yaml:"format" mapstructure:"format"`
	Severity string `yaml:"severity" mapstructure:"severity"`
	Path     string `yaml:"path" mapstructure:"path"`
}
