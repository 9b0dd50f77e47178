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

// Command agentfs mounts an AgentFS filesystem: a copy-on-write,
// snapshottable namespace exposed through FUSE, with its control file and
// interpose daemon wired to the same FsCore engine.
//
// Modeled on GoogleCloudPlatform-gcsfuse's cmd/root.go: a Cobra root command
// binds cfg.Config's flags, then an optional --config-file is unmarshalled
// over the flag-derived values using cfg.DecodeHook() for the custom scalar
// types (Octal, LogSeverity, BackstoreKind, AtimePolicy, ResolvedPath).
package main

import (
	"fmt"
	"os"

	"github.com/blocksense-network/agentfs/cfg"
	"github.com/blocksense-network/agentfs/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	mountConfig   cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "agentfs [flags] backstore-root mount-point",
	Short: "Mount a copy-on-write, snapshottable, per-process-branch-bindable filesystem",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		backstoreRoot, mountPoint, err := populateArgs(args)
		if err != nil {
			return err
		}
		return runMount(backstoreRoot, mountPoint, &mountConfig)
	},
}

func populateArgs(args []string) (backstoreRoot, mountPoint string, err error) {
	backstoreRoot, err = util.GetResolvedPath(args[0])
	if err != nil {
		return "", "", fmt.Errorf("canonicalizing backstore root: %w", err)
	}
	mountPoint, err = util.GetResolvedPath(args[1])
	if err != nil {
		return "", "", fmt.Errorf("canonicalizing mount point: %w", err)
	}
	return backstoreRoot, mountPoint, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&mountConfig, viper.DecodeHook(cfg.DecodeHook()))
		return
	}
	resolved, err := util.GetResolvedPath(cfgFile)
	if err != nil {
		configFileErr = fmt.Errorf("resolving --config-file: %w", err)
		return
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading --config-file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&mountConfig, viper.DecodeHook(cfg.DecodeHook()))
}

func main() {
	Execute()
}
