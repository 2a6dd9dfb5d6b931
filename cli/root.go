package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"arenasync/config"
	"arenasync/logging"
)

// RootOptions 所有子命令共享的全局参数
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	Console    bool
}

// load 读取配置文件（未指定时使用默认值）并应用命令行覆盖
func (o *RootOptions) load() (config.Config, error) {
	cfg := config.Defaults()
	if o.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(o.ConfigPath); err != nil {
			return cfg, err
		}
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.Console {
		cfg.Log.Console = true
	}
	return cfg, cfg.Validate()
}

func (o *RootOptions) logger(cfg config.Config) (*zap.Logger, func(), error) {
	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return log, closeLog, nil
}

// NewRootCommand 构建 arenasync 命令树
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "arenasync",
		Short: "arenasync - predicted movement over an authoritative arena server",
		Long: `Authoritative arena server, headless prediction bot and recording verifier.

The server advances the world at a fixed tick rate and acknowledges each
client's inputs in its snapshots. The bot predicts its own movement locally,
reconciles against those snapshots and can record the session for replay.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config (defaults are used when empty)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&opts.Console, "console", false, "also log to stderr")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewBotCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	return cmd
}

// Execute 运行命令树并返回进程退出码
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

const (
	ExitSuccess      = 0
	ExitFailure      = 1 // 重放不一致、会话因违规断开
	ExitCommandError = 2 // 参数或文件错误
)

// ExitError 携带退出码的错误
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func wrapExit(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode 非 ExitError 一律视为 ExitFailure
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}
