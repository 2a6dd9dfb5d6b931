package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"arenasync/client"
	"arenasync/protocol"
	"arenasync/sim"
)

type BotOptions struct {
	*RootOptions
	URL           string
	Player        string
	Codec         string
	InputHz       int
	Duration      time.Duration
	HitEvery      int
	MaxViolations int
	Record        string
	Pattern       []string
	JSON          bool
}

func NewBotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Connect a predicting bot to a server",
		Long: `Connect to a server, walk a fixed direction pattern with client-side
prediction and print the netcode statistics when done.

With --record the session is written as zstd-compressed JSONL and can be
checked later with "arenasync replay".

Exit codes:
  0 - session finished
  1 - disconnected after repeated protocol violations, or connection lost
  2 - command error

Examples:
  arenasync bot --url ws://localhost:8080/ws?room=room-1 --player alice
  arenasync bot --player bob --codec msgpack --duration 10s --record bob.jsonl.zst
  arenasync bot --pattern right,right,up,up,left,left,down,down`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runBot(ctx, opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.URL, "url", "", "server websocket URL (overrides config)")
	f.StringVar(&opts.Player, "player", "", "player id (overrides config)")
	f.StringVar(&opts.Codec, "codec", "", "json|msgpack (overrides config)")
	f.IntVar(&opts.InputHz, "input-hz", 0, "input sampling rate (overrides config)")
	f.DurationVar(&opts.Duration, "duration", 0, "session length, 0 keeps the config value")
	f.IntVar(&opts.HitEvery, "hit-every", -1, "send a hit claim every N inputs, 0 disables")
	f.IntVar(&opts.MaxViolations, "max-violations", 0, "disconnect after N consecutive protocol violations (overrides config)")
	f.StringVar(&opts.Record, "record", "", "write the session recording to this path")
	f.StringSliceVar(&opts.Pattern, "pattern", nil, "comma separated directions (up|down|left|right|none)")
	f.BoolVar(&opts.JSON, "json", false, "print the summary as JSON")
	return cmd
}

func runBot(ctx context.Context, opts *BotOptions, cmd *cobra.Command) error {
	cfg, err := opts.load()
	if err != nil {
		return wrapExit(ExitCommandError, "invalid configuration", err)
	}
	b := cfg.Bot
	if opts.URL != "" {
		b.URL = opts.URL
	}
	if opts.Player != "" {
		b.Player = opts.Player
	}
	if opts.Codec != "" {
		b.Codec = opts.Codec
	}
	if opts.InputHz > 0 {
		b.InputHz = opts.InputHz
	}
	if opts.Duration > 0 {
		b.Duration = opts.Duration
	}
	if opts.HitEvery >= 0 {
		b.HitEvery = opts.HitEvery
	}
	if opts.MaxViolations > 0 {
		b.MaxViolations = opts.MaxViolations
	}
	if opts.Record != "" {
		b.Record = opts.Record
	}
	if b.URL == "" || b.Player == "" {
		return wrapExit(ExitCommandError, "bot needs --url and --player", nil)
	}
	if _, err := protocol.CodecByName(b.Codec); err != nil {
		return wrapExit(ExitCommandError, "invalid codec", err)
	}
	pattern, err := parsePattern(opts.Pattern)
	if err != nil {
		return wrapExit(ExitCommandError, "invalid pattern", err)
	}

	log, closeLog, err := opts.logger(cfg)
	if err != nil {
		return wrapExit(ExitCommandError, "invalid configuration", err)
	}
	defer closeLog()

	s, err := client.Connect(ctx, b.URL, protocol.HelloMsg{PlayerID: b.Player, Codec: b.Codec}, b.Record, log)
	if err != nil {
		return wrapExit(ExitFailure, "connect", err)
	}
	w := s.Welcome()
	log.Info("bot connected", zap.String("entity", w.EntityID), zap.Uint32("tick", w.Tick))

	sum, runErr := s.Run(ctx, client.Options{
		InputHz:       b.InputHz,
		Duration:      b.Duration,
		HitEvery:      b.HitEvery,
		MaxViolations: b.MaxViolations,
		Pattern:       pattern,
	})

	out := cmd.OutOrStdout()
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, sum.String())
		if b.Record != "" {
			fmt.Fprintf(out, "recording written to %s\n", b.Record)
		}
	}

	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, client.ErrTooManyViolations):
		return wrapExit(ExitFailure, "session reset", runErr)
	default:
		return wrapExit(ExitFailure, "connection lost", runErr)
	}
}

// parsePattern 空输入返回 nil，使用默认路线
func parsePattern(items []string) (func(int) sim.Direction, error) {
	if len(items) == 0 {
		return nil, nil
	}
	dirs := make([]sim.Direction, len(items))
	for i, s := range items {
		d := sim.ParseDirection(s)
		if d == sim.DirNone && !strings.EqualFold(s, "none") {
			return nil, fmt.Errorf("unknown direction %q", s)
		}
		dirs[i] = d
	}
	return func(i int) sim.Direction { return dirs[i%len(dirs)] }, nil
}
