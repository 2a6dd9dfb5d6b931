package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"arenasync/netcode"
	"arenasync/sim"
)

// Config 进程级配置，YAML 覆盖在 Defaults 之上
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	World      WorldConfig      `yaml:"world"`
	Netcode    NetcodeConfig    `yaml:"netcode"`
	Impairment ImpairmentConfig `yaml:"impairment"`
	Store      StoreConfig      `yaml:"store"`
	Log        LogConfig        `yaml:"log"`
	Bot        BotConfig        `yaml:"bot"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	Room string `yaml:"room"`
	// MaxInputsPerTick 每个玩家每 Tick 最多处理的输入数，其余留到下一 Tick
	MaxInputsPerTick int `yaml:"max_inputs_per_tick"`
	// InputRateLimit/InputBurst 每个连接的 INPUT 消息令牌桶
	InputRateLimit float64 `yaml:"input_rate_limit"`
	InputBurst     int     `yaml:"input_burst"`
	SendQueue      int     `yaml:"send_queue"`
	// HitRadius 命中判定半径
	HitRadius float64 `yaml:"hit_radius"`
}

type WorldConfig struct {
	TickRateHz int     `yaml:"tick_rate_hz"`
	Width      float64 `yaml:"width"`
	Height     float64 `yaml:"height"`
	Step       float64 `yaml:"step"`
}

type NetcodeConfig struct {
	HistoryCapacity         int           `yaml:"history_capacity"`
	InterpolationDelay      time.Duration `yaml:"interpolation_delay"`
	MaxExtrapolationHorizon time.Duration `yaml:"max_extrapolation_horizon"`
	MaxPendingInputs        int           `yaml:"max_pending_inputs"`
	InputBufferCapacity     int           `yaml:"input_buffer_capacity"`
	// InputRedundancy 每条 INPUT 携带的未确认输入个数
	InputRedundancy int `yaml:"input_redundancy"`
}

// ImpairmentConfig 服务端出站不可靠通道的模拟延迟与丢包
type ImpairmentConfig struct {
	DelayMinMs int     `yaml:"delay_min_ms"`
	DelayMaxMs int     `yaml:"delay_max_ms"`
	DropProb   float64 `yaml:"drop_prob"`
}

type StoreConfig struct {
	// Path 为空时不落盘命中判定
	Path      string `yaml:"path"`
	QueueSize int    `yaml:"queue_size"`
}

type LogConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	Console    bool   `yaml:"console"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type BotConfig struct {
	URL      string        `yaml:"url"`
	Player   string        `yaml:"player"`
	Codec    string        `yaml:"codec"`
	InputHz  int           `yaml:"input_hz"`
	Duration time.Duration `yaml:"duration"`
	// HitEvery 每 N 个输入发一次命中声明，0 为关闭
	HitEvery int `yaml:"hit_every"`
	// MaxViolations 连续协议违规达到该值即断开重连
	MaxViolations int    `yaml:"max_violations"`
	Record        string `yaml:"record"`
}

func Defaults() Config {
	nc := netcode.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:             ":8080",
			Room:             "room-1",
			MaxInputsPerTick: 4,
			InputRateLimit:   60,
			InputBurst:       30,
			SendQueue:        64,
			HitRadius:        2,
		},
		World: WorldConfig{TickRateHz: nc.TickRateHz, Width: 100, Height: 100, Step: 1},
		Netcode: NetcodeConfig{
			HistoryCapacity:         nc.HistoryCapacity,
			InterpolationDelay:      nc.InterpolationDelay,
			MaxExtrapolationHorizon: nc.MaxExtrapolationHorizon,
			MaxPendingInputs:        nc.MaxPendingInputs,
			InputBufferCapacity:     nc.InputBufferCapacity,
			InputRedundancy:         4,
		},
		Store: StoreConfig{QueueSize: 1024},
		Log: LogConfig{
			File:       "app.log",
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Bot: BotConfig{
			URL:           "ws://localhost:8080/ws",
			Player:        "bot-1",
			Codec:         "json",
			InputHz:       30,
			Duration:      30 * time.Second,
			HitEvery:      20,
			MaxViolations: 5,
		},
	}
}

// Load 读取 YAML；文件中未出现的字段保留默认值
func Load(path string) (Config, error) {
	cfg := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.NetcodeFor().Validate(); err != nil {
		return err
	}
	if c.World.Width <= 0 || c.World.Height <= 0 || c.World.Step <= 0 {
		return fmt.Errorf("config: world dimensions and step must be positive")
	}
	if c.Netcode.InputRedundancy <= 0 {
		return fmt.Errorf("config: input_redundancy must be positive, got %d", c.Netcode.InputRedundancy)
	}
	if c.Server.MaxInputsPerTick <= 0 {
		return fmt.Errorf("config: max_inputs_per_tick must be positive, got %d", c.Server.MaxInputsPerTick)
	}
	if c.Server.InputRateLimit <= 0 || c.Server.InputBurst <= 0 {
		return fmt.Errorf("config: input rate limit and burst must be positive")
	}
	if err := c.Impairment.Validate(); err != nil {
		return err
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	return nil
}

func (i ImpairmentConfig) Validate() error {
	if i.DelayMinMs < 0 || i.DelayMaxMs < i.DelayMinMs {
		return fmt.Errorf("config: impairment delay range [%d,%d] invalid", i.DelayMinMs, i.DelayMaxMs)
	}
	if i.DropProb < 0 || i.DropProb > 1 {
		return fmt.Errorf("config: drop_prob %v outside [0,1]", i.DropProb)
	}
	return nil
}

// NetcodeFor 组合世界 Tick 率与网络核心参数
func (c Config) NetcodeFor() netcode.Config {
	return netcode.Config{
		TickRateHz:              c.World.TickRateHz,
		HistoryCapacity:         c.Netcode.HistoryCapacity,
		InterpolationDelay:      c.Netcode.InterpolationDelay,
		MaxExtrapolationHorizon: c.Netcode.MaxExtrapolationHorizon,
		MaxPendingInputs:        c.Netcode.MaxPendingInputs,
		InputBufferCapacity:     c.Netcode.InputBufferCapacity,
	}
}

func (w WorldConfig) Sim() sim.World {
	return sim.World{Width: w.Width, Height: w.Height, Step: w.Step}
}
