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
	"github.com/spf13/cobra"

	"github.com/dynamofs/dynamofs/block"
	"github.com/dynamofs/dynamofs/bootstrap"
	"github.com/dynamofs/dynamofs/clock"
	"github.com/dynamofs/dynamofs/kv"
	"github.com/dynamofs/dynamofs/record"
)

func newCreateTableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "createTable <uri>",
		Short: "Seed the root directory, /DELETED_LINKS and the counter row; the tables must already exist",
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

			return bootstrap.CreateTable(c.Context(), records, uint32(mc.FileSystem.DirMode), uint32(mc.FileSystem.DirMode))
		},
	}
}
