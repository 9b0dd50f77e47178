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

// Command agentfs-control talks the control protocol against a mounted
// AgentFS's "<mount>/.agentfs/control" file: snapshot-create, snapshot-list,
// branch-create, branch-bind, fault-policy-set, and fault-policy-clear.
//
// Matches internal/fusehost's control-file handler for the transport:
// jacobsa/fuse exposes no FUSE_IOCTL hook, so the control file answers a
// plain write (request) with a plain read (response) on the same handle
// rather than a real ioctl(2) — this client speaks that same
// write-then-read protocol.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/blocksense-network/agentfs/internal/wire"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "agentfs-control",
		Short:         "Control an AgentFS mount's snapshots, branches, and fault policy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("control-file", "", "Path to <mount>/.agentfs/control.")
	root.MarkPersistentFlagRequired("control-file")

	root.AddCommand(
		newSnapshotCreateCmd(),
		newSnapshotListCmd(),
		newBranchCreateCmd(),
		newBranchBindCmd(),
		newFaultPolicySetCmd(),
		newFaultPolicyClearCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// roundTrip writes req's encoded SSZ payload to the control file and reads
// back the matching response, following internal/fusehost's write-then-read
// adaptation of the ioctl transport.
func roundTrip(controlFile string, req wire.Request) (wire.Response, error) {
	f, err := os.OpenFile(controlFile, os.O_RDWR, 0)
	if err != nil {
		return wire.Response{}, fmt.Errorf("opening control file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(wire.EncodeRequest(req)); err != nil {
		return wire.Response{}, fmt.Errorf("writing request: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return wire.Response{}, fmt.Errorf("seeking control file: %w", err)
	}

	buf := make([]byte, wire.ControlBufferSize)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return wire.Response{}, fmt.Errorf("reading response: %w", err)
	}

	resp, err := wire.DecodeResponse(buf[:n])
	if err != nil {
		return wire.Response{}, fmt.Errorf("decoding response: %w", err)
	}
	if resp.Kind == wire.RespError {
		return resp, controlError(resp)
	}
	return resp, nil
}

// controlError turns an Error response into an error whose message carries
// the errno code when the response has one; main prints it to stderr and
// exits with status 1.
func controlError(resp wire.Response) error {
	if resp.Error.HasCode {
		return fmt.Errorf("%s (errno %d)", resp.Error.Message, resp.Error.Code)
	}
	return fmt.Errorf("%s", resp.Error.Message)
}

func controlFileFlag(cmd *cobra.Command) (string, error) {
	return cmd.Flags().GetString("control-file")
}

func newSnapshotCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "snapshot-create",
		Short: "Create a snapshot of the caller's bound branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			controlFile, err := controlFileFlag(cmd)
			if err != nil {
				return err
			}
			req := wire.Request{Kind: wire.ReqSnapshotCreate}
			if name != "" {
				req.HasLabel, req.Label = true, name
			}
			resp, err := roundTrip(controlFile, req)
			if err != nil {
				return err
			}
			if resp.Snapshot.Label != "" {
				fmt.Printf("SNAPSHOT_ID=%s\tNAME=%s\n", resp.Snapshot.ID, resp.Snapshot.Label)
			} else {
				fmt.Printf("SNAPSHOT_ID=%s\n", resp.Snapshot.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Optional human-readable snapshot label.")
	return cmd
}

func newSnapshotListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot-list",
		Short: "List every snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			controlFile, err := controlFileFlag(cmd)
			if err != nil {
				return err
			}
			resp, err := roundTrip(controlFile, wire.Request{Kind: wire.ReqSnapshotList})
			if err != nil {
				return err
			}
			for _, s := range resp.Snapshots {
				label := s.Label
				if label == "" {
					label = "-"
				}
				fmt.Printf("SNAPSHOT\t%s\t%s\n", s.ID, label)
			}
			return nil
		},
	}
	return cmd
}

func newBranchCreateCmd() *cobra.Command {
	var snapshot, name string
	cmd := &cobra.Command{
		Use:   "branch-create",
		Short: "Create a branch from a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			controlFile, err := controlFileFlag(cmd)
			if err != nil {
				return err
			}
			req := wire.Request{Kind: wire.ReqBranchCreate, SnapshotID: snapshot}
			if name != "" {
				req.HasLabel, req.Label = true, name
			}
			resp, err := roundTrip(controlFile, req)
			if err != nil {
				return err
			}
			if resp.Branch.Label != "" {
				fmt.Printf("BRANCH_ID=%s\tNAME=%s\n", resp.Branch.ID, resp.Branch.Label)
			} else {
				fmt.Printf("BRANCH_ID=%s\n", resp.Branch.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "Snapshot id to branch from.")
	cmd.MarkFlagRequired("snapshot")
	cmd.Flags().StringVar(&name, "name", "", "Optional human-readable branch label.")
	return cmd
}

func newBranchBindCmd() *cobra.Command {
	var branch string
	var pid uint32
	cmd := &cobra.Command{
		Use:   "branch-bind",
		Short: "Bind a pid to a branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			controlFile, err := controlFileFlag(cmd)
			if err != nil {
				return err
			}
			req := wire.Request{Kind: wire.ReqBranchBind, BranchID: branch, HasPid: true, Pid: pid}
			_, err = roundTrip(controlFile, req)
			if err != nil {
				return err
			}
			fmt.Println("BRANCH_BIND_OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "Branch id to bind.")
	cmd.MarkFlagRequired("branch")
	cmd.Flags().Uint32Var(&pid, "pid", 0, "Process id to bind to the branch.")
	cmd.MarkFlagRequired("pid")
	return cmd
}

func newFaultPolicySetCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "fault-policy-set",
		Short: "Install a fault-injection policy document",
		RunE: func(cmd *cobra.Command, args []string) error {
			controlFile, err := controlFileFlag(cmd)
			if err != nil {
				return err
			}
			var doc []byte
			if file == "-" {
				doc, err = io.ReadAll(os.Stdin)
			} else {
				doc, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("reading policy document: %w", err)
			}
			resp, err := roundTrip(controlFile, wire.Request{Kind: wire.ReqFaultPolicySet, PolicyDocument: doc})
			if err != nil {
				return err
			}
			printFaultPolicyStatus(resp.FaultPolicy)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Path to the policy document, or - for stdin.")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newFaultPolicyClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fault-policy-clear",
		Short: "Remove the active fault-injection policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			controlFile, err := controlFileFlag(cmd)
			if err != nil {
				return err
			}
			resp, err := roundTrip(controlFile, wire.Request{Kind: wire.ReqFaultPolicyClear})
			if err != nil {
				return err
			}
			printFaultPolicyStatus(resp.FaultPolicy)
			return nil
		},
	}
	return cmd
}

func printFaultPolicyStatus(s wire.FaultPolicyStatus) {
	fmt.Printf("FAULT_POLICY enabled=%t active=%t rules=%d\n", s.Enabled, s.Active, s.RuleCount)
}
