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
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/spf13/cobra"

	"github.com/dynamofs/dynamofs/block"
	"github.com/dynamofs/dynamofs/bootstrap"
	"github.com/dynamofs/dynamofs/cfg"
	"github.com/dynamofs/dynamofs/clock"
	"github.com/dynamofs/dynamofs/fsops"
	"github.com/dynamofs/dynamofs/internal/logger"
	"github.com/dynamofs/dynamofs/kv"
	"github.com/dynamofs/dynamofs/lock"
	"github.com/dynamofs/dynamofs/record"
)

func newMountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dynamofs <uri> <mountpoint>",
		Short: "Mount a DynamoDB-backed filesystem at mountpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return runMount(c.Context(), activeConfig, args[0], args[1])
		},
	}
}

func runMount(ctx context.Context, mc cfg.Config, uri, mountPoint string) error {
	logger.Init(logger.Config{Format: mc.Log.Format, Severity: mc.Log.Severity, Path: mc.Log.Path})

	region, metaTable, blocksTable, err := parseURI(uri)
	if err != nil {
		return err
	}

	sess, err := session.NewSession(&aws.Config{
		Region:   aws.String(region),
		Endpoint: nonEmpty(mc.KV.Endpoint),
	})
	if err != nil {
		return fmt.Errorf("cmd: new AWS session: %w", err)
	}

	clk := clock.RealClock{}
	metaGw := kv.NewMetadataGateway(sess, metaTable)
	blocksGw := kv.NewBlocksGateway(sess, blocksTable)

	blocks := block.NewStore(blocksGw, clk, true)
	records := record.NewStore(metaGw, blocks, clk)

	if err := records.EnsureRoot(ctx, uint32(mc.FileSystem.DirMode), uint32(mc.FileSystem.DirMode)); err != nil {
		return fmt.Errorf("cmd: bootstrap: %w", err)
	}

	primitives := lock.New(metaGw, clk)
	locks := lock.NewManager(primitives)

	fs := fsops.New(records, locks, clk, fsops.Config{
		Uid:            mc.FileSystem.Uid,
		Gid:            mc.FileSystem.Gid,
		FileMode:       uint32(mc.FileSystem.FileMode),
		DirMode:        uint32(mc.FileSystem.DirMode),
		HandleCapacity: bootstrap.ChooseHandleCapacity(),
	})

	server := fuseutil.NewFileSystemServer(fs)

	logger.Infof("mounting %s at %s", uri, mountPoint)
	mfs, err := fuse.Mount(mountPoint, server, &fuse.MountConfig{
		FSName:  "dynamofs",
		Subtype: "dynamofs",
	})
	if err != nil {
		return fmt.Errorf("cmd: mount: %w", err)
	}

	reaper := bootstrap.NewReaper(records, clk, 5*time.Minute)
	go reaper.Run(ctx)

	return mfs.Join(ctx)
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
