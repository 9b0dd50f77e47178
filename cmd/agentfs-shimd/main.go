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

// Command agentfs-shimd runs the interpose daemon on its own, against an
// engine it builds itself, without also mounting FUSE. This is the
// standalone configuration for a harness that only needs the data-plane
// socket (e.g. exercising an interpose shim against a branch with no kernel
// mount involved); cmd/agentfs can also start the same daemon.Server
// alongside its FUSE mount when --daemon-socket is set.
//
// Flag handling and daemonizing mirror cmd/agentfs/root.go and mount.go.
package main

import (
	"fmt"
	"os"

	"github.com/blocksense-network/agentfs/cfg"
	"github.com/blocksense-network/agentfs/internal/daemon"
	"github.com/blocksense-network/agentfs/internal/engineinit"
	"github.com/blocksense-network/agentfs/internal/logger"
	"github.com/blocksense-network/agentfs/internal/util"
	"github.com/jacobsa/daemonize"
	"github.com/kardianos/osext"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	shimConfig    cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "agentfs-shimd [flags]",
	Short: "Serve the AgentFS interpose protocol over a Unix socket",
	Args:  cobra.NoArgs,
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
		if shimConfig.Daemon.SocketPath == "" {
			return fmt.Errorf("--daemon-socket is required")
		}
		return runDaemon(&shimConfig)
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&shimConfig, viper.DecodeHook(cfg.DecodeHook()))
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
	unmarshalErr = viper.Unmarshal(&shimConfig, viper.DecodeHook(cfg.DecodeHook()))
}

// runDaemon daemonizes unless --foreground was given, the same pattern
// cmd/agentfs/mount.go's runMount uses.
func runDaemon(c *cfg.Config) error {
	if err := logger.InitLogFile(c.Logging); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer logger.Close()

	if !c.Daemon.Foreground {
		path, err := osext.Executable()
		if err != nil {
			return fmt.Errorf("osext.Executable: %w", err)
		}
		args := append([]string{"--foreground"}, os.Args[1:]...)
		env := []string{fmt.Sprintf("PATH=%s", os.Getenv("PATH"))}
		if wd, err := os.Getwd(); err == nil {
			env = append(env, fmt.Sprintf("%s=%s", util.AgentFSParentProcessDir, wd))
		}
		if err := daemonize.Run(path, args, env, os.Stdout); err != nil {
			return fmt.Errorf("daemonize.Run: %w", err)
		}
		logger.Infof("agentfs-shimd listening on %s", c.Daemon.SocketPath)
		return nil
	}

	built, err := engineinit.Build(c)
	if err != nil {
		logger.Errorf("building engine: %v", err)
		_ = daemonize.SignalOutcome(err)
		return err
	}

	s := daemon.New(built.Engine, string(c.Daemon.SocketPath))
	if err := s.Listen(); err != nil {
		logger.Errorf("listening on %s: %v", c.Daemon.SocketPath, err)
		_ = daemonize.SignalOutcome(err)
		return err
	}
	defer s.Close()

	logger.Infof("agentfs-shimd listening on %s", c.Daemon.SocketPath)
	if err2 := daemonize.SignalOutcome(nil); err2 != nil {
		logger.Errorf("Failed to signal success to parent process: %v", err2)
	}

	return s.Serve()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
