package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"arenasync/recording"
)

type ReplayOptions struct {
	*RootOptions
	Path string
	JSON bool
}

func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a bot recording and verify prediction determinism",
		Long: `Feed a recorded session through a fresh netcode core twice.

Every recorded predicted state must be reproduced exactly and both passes
must produce the same digest.

Exit codes:
  0 - replay matches the recording
  1 - mismatches found or replay not deterministic
  2 - command error (file missing, corrupt recording)

Examples:
  arenasync replay --file bob.jsonl.zst
  arenasync replay --file bob.jsonl.zst --json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Path, "file", "", "recording to replay (required)")
	_ = cmd.MarkFlagRequired("file")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the result as JSON")
	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	entries, err := recording.ReadAll(opts.Path)
	if err != nil {
		return wrapExit(ExitCommandError, "read recording", err)
	}
	log := zap.NewNop()
	if opts.LogLevel == "debug" {
		if log, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}
	res, err := recording.Verify(entries, log)
	if err != nil {
		return wrapExit(ExitFailure, "replay", err)
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "inputs=%d snapshots=%d disconnects=%d digest=%s\n",
			res.Inputs, res.Snapshots, res.Disconnects, res.Digest)
		for _, m := range res.Mismatches {
			fmt.Fprintf(out, "mismatch #%d %s: %s (want %+v, got %+v)\n", m.Index, m.Kind, m.Detail, m.Want, m.Got)
		}
	}
	if len(res.Mismatches) > 0 {
		return wrapExit(ExitFailure, fmt.Sprintf("%d mismatches", len(res.Mismatches)), nil)
	}
	return nil
}
