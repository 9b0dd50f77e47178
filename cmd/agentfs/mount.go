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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/blocksense-network/agentfs/cfg"
	"github.com/blocksense-network/agentfs/internal/daemon"
	"github.com/blocksense-network/agentfs/internal/engineinit"
	"github.com/blocksense-network/agentfs/internal/fusehost"
	"github.com/blocksense-network/agentfs/internal/logger"
	"github.com/blocksense-network/agentfs/internal/util"
	"github.com/blocksense-network/agentfs/internal/wire"
	"github.com/jacobsa/daemonize"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/kardianos/osext"
)

const (
	successfulMountMessage         = "AgentFS has been successfully mounted."
	unsuccessfulMountMessagePrefix = "Error while mounting agentfs"
)

// registerSIGINTHandler unmounts mountPoint when the process receives
// SIGINT; if the unmount fails, it is tried again on the next SIGINT.
// Grounded on
// GoogleCloudPlatform-gcsfuse's cmd/legacy_main.go registerSIGINTHandler.
func registerSIGINTHandler(mountPoint string) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)

	go func() {
		for range signalChan {
			logger.Infof("Received SIGINT, attempting to unmount %s...", mountPoint)
			if err := fuse.Unmount(mountPoint); err != nil {
				logger.Errorf("Failed to unmount in response to SIGINT: %v", err)
				continue
			}
			logger.Infof("Successfully unmounted in response to SIGINT.")
			return
		}
	}()
}

func getFuseMountConfig(fsName string, c *cfg.Config) *fuse.MountConfig {
	options := make(map[string]string)
	if c.Mount.ReadOnly {
		options["ro"] = ""
	}
	if c.Mount.AllowOther {
		options["allow_other"] = ""
	}
	return &fuse.MountConfig{
		FSName:     fsName,
		Subtype:    "agentfs",
		VolumeName: "agentfs",
		Options:    options,
	}
}

// mountWithConfig constructs FsCore, the FUSE host adapter, and (when a
// socket path is configured) the interpose daemon, then mounts and returns
// the live MountedFileSystem without blocking. The caller signals the
// daemonizing parent (if any) before calling Join itself.
func mountWithConfig(mountPoint string, c *cfg.Config) (*fuse.MountedFileSystem, error) {
	built, err := engineinit.Build(c)
	if err != nil {
		return nil, err
	}
	engine := built.Engine

	dispatcher := wire.NewDispatcher(engine)
	host := fusehost.New(engine, dispatcher)
	server := fuseutil.NewFileSystemServer(host)

	if c.Daemon.SocketPath != "" {
		shimd := daemon.New(engine, string(c.Daemon.SocketPath))
		if err := shimd.Listen(); err != nil {
			return nil, fmt.Errorf("starting interpose daemon: %w", err)
		}
		go func() {
			if err := shimd.Serve(); err != nil {
				logger.Errorf("interpose daemon stopped: %v", err)
			}
		}()
	}

	mfs, err := fuse.Mount(mountPoint, server, getFuseMountConfig("agentfs", c))
	if err != nil {
		return nil, fmt.Errorf("fuse.Mount: %w", err)
	}
	return mfs, nil
}

// runMount is rootCmd's RunE body: daemonizes unless --foreground was
// given, exactly as GoogleCloudPlatform-gcsfuse's cmd/legacy_main.go does
// via github.com/jacobsa/daemonize, then otherwise mounts in this process.
func runMount(backstoreRoot, mountPoint string, c *cfg.Config) error {
	if c.Backstore.Root == "" {
		c.Backstore.Root = cfg.ResolvedPath(backstoreRoot)
	}

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
		logger.Infof(successfulMountMessage)
		return nil
	}

	mfs, err := mountWithConfig(mountPoint, c)
	if err != nil {
		logger.Errorf("%s: %v", unsuccessfulMountMessagePrefix, err)
		if err2 := daemonize.SignalOutcome(err); err2 != nil {
			logger.Errorf("Failed to signal error to parent process: %v", err2)
		}
		return err
	}
	logger.Infof(successfulMountMessage)
	if err2 := daemonize.SignalOutcome(nil); err2 != nil {
		logger.Errorf("Failed to signal success to parent process: %v", err2)
	}

	registerSIGINTHandler(mfs.Dir())
	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("MountedFileSystem.Join: %w", err)
	}
	return nil
}
