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

// Package cmd wires the dynamofs CLI: flags and an optional YAML config
// file resolve into a single cfg.Config, then dispatch to the mount,
// createTable, and cleanup subcommands.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dynamofs/dynamofs/cfg"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	activeConfig  cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "dynamofs",
	Short: "A POSIX filesystem backed entirely by a DynamoDB-shaped KV store",
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		return unmarshalErr
	},
	Args: cobra.ExactArgs(2),
	RunE: func(c *cobra.Command, args []string) error {
		switch args[1] {
		case "cleanup":
			return newCleanupCommand().RunE(c, args[:1])
		case "createTable":
			return newCreateTableCommand().RunE(c, args[:1])
		}
		return runMount(c.Context(), activeConfig, args[0], args[1])
	},
}

func Execute() {
	rootCmd.AddCommand(newMountCommand(), newCreateTableCommand(), newCleanupCommand())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	viper.SetEnvPrefix("DYNAMOFS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			configFileErr = fmt.Errorf("cmd: reading config file: %w", err)
			return
		}
	}
	unmarshalErr = viper.Unmarshal(&activeConfig, viper.DecodeHook(cfg.DecodeHook()))
}
