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

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dynamofs/dynamofs/block"
	"github.com/dynamofs/dynamofs/clock"
	"github.com/dynamofs/dynamofs/internal/logger"
	"github.com/dynamofs/dynamofs/kv"
	"github.com/dynamofs/dynamofs/record"
)

func newCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <uri>",
		Short: "Delete every entry except the three reserved rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			mc := activeConfig
			region, metaTable, blocksTable, err := parseURI(args[0])
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

			if err := records.WipeTree(c.Context(), "/", uuid.NewString); err != nil {
				return fmt.Errorf("cmd: cleanup: %w", err)
			}

			deleted, err := records.ListDeletedLinks(c.Context())
			if err != nil {
				return fmt.Errorf("cmd: cleanup: list tombstones: %w", err)
			}
			for _, e := range deleted {
				if err := records.Purge(c.Context(), e.Base); err != nil {
					return fmt.Errorf("cmd: cleanup: purge %s: %w", e.Name, err)
				}
			}

			logger.Infof("cleanup: removed %d tombstones", len(deleted))
			return nil
		},
	}
}
