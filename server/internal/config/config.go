package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	LongPoll LongPollConfig `yaml:"long_poll"`
	Stream   StreamConfig   `yaml:"stream"`
	Service  ServiceConfig  `yaml:"service"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins 为空时允许所有来源
	AllowedOrigins []string `yaml:"allowed_origins"`
	// StaticDir 非空时，未匹配的 GET 请求按静态文件处理（前端页面）
	StaticDir string `yaml:"static_dir"`
}

// StoreConfig 存储配置：driver 为 file | sqlite | memory
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type LongPollConfig struct {
	// MaxWait 是 Prefer: wait=N 允许的最大等待时长
	MaxWait time.Duration `yaml:"max_wait"`
}

type StreamConfig struct {
	// SSETimeout 为 0 表示 SSE 连接不超时
	SSETimeout    time.Duration `yaml:"sse_timeout"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	ReconnectTime time.Duration `yaml:"reconnect_time"`
}

type ServiceConfig struct {
	QueueCapacity  int           `yaml:"queue_capacity"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default 返回不依赖配置文件即可运行的默认值。
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			ReadTimeout: 15 * time.Second,
			// 长轮询与 SSE 的写超时由各自的等待上限控制
			WriteTimeout:    0,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver: "file",
			Path:   "./data/talks.json",
		},
		LongPoll: LongPollConfig{
			MaxWait: 90 * time.Second,
		},
		Stream: StreamConfig{
			SSETimeout:   0,
			PingInterval: 30 * time.Second,
		},
		Service: ServiceConfig{
			QueueCapacity:  100,
			CommandTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load 从文件加载配置；path 为空或文件不存在时使用默认值，然后应用环境变量覆盖。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		fmt.Printf("📋 Loading config from: %s\n", path)

		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			fmt.Printf("⚠️  Config file not found, using defaults\n")
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			fmt.Printf("✅ Config file read successfully (%d bytes)\n", len(data))
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
			fmt.Printf("✅ Config parsed successfully\n")
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	// 打印关键配置
	fmt.Printf("\n📊 Configuration Summary:\n")
	fmt.Printf("   Server: %s\n", cfg.Server.Addr())
	fmt.Printf("   Store: %s (%s)\n", cfg.Store.Driver, cfg.Store.Path)
	fmt.Printf("   Long poll max wait: %v\n", cfg.LongPoll.MaxWait)
	if cfg.Stream.SSETimeout > 0 {
		fmt.Printf("   SSE timeout: %v\n", cfg.Stream.SSETimeout)
	}
	fmt.Printf("\n")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	fmt.Printf("✅ Config validation passed\n\n")

	return &cfg, nil
}

// applyEnv 环境变量优先于配置文件。
func (c *Config) applyEnv() error {
	if name := os.Getenv("REPOSITORY_FILE_NAME"); name != "" {
		fmt.Printf("💾 Using REPOSITORY_FILE_NAME from environment: %s\n", name)
		c.Store.Path = name
	}
	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		fmt.Printf("💾 Using STORE_DRIVER from environment: %s\n", driver)
		c.Store.Driver = driver
	}
	if host := os.Getenv("HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		c.Server.Port = p
	}
	return nil
}

// Addr 返回 http.Server 的监听地址。
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store driver %q (want file, sqlite or memory)", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.Path == "" {
		return fmt.Errorf("store path is required for driver %q", c.Store.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if c.LongPoll.MaxWait < 0 {
		return fmt.Errorf("long_poll.max_wait must not be negative")
	}
	if c.Stream.SSETimeout < 0 || c.Stream.PingInterval < 0 || c.Stream.ReconnectTime < 0 {
		return fmt.Errorf("stream durations must not be negative")
	}
	if c.Service.QueueCapacity < 0 || c.Service.CommandTimeout < 0 {
		return fmt.Errorf("service settings must not be negative")
	}
	return nil
}
