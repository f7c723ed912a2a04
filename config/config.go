package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultConfigFile = "config.yaml"

	defaultAddr         = ":8080"
	defaultMode         = "release"
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 120 * time.Second
	defaultMaxBodyBytes = 64 << 20
	defaultContainer    = "checkpoints"
	defaultLoadTimeout  = 5 * time.Minute
	defaultHeartbeat    = "@every 5m"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Model   ModelConfig   `mapstructure:"model"`
	Monitor MonitorConfig `mapstructure:"monitor"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// StorageConfig 模型制品存储；连接串为空时服务以 mock 模式运行
type StorageConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	Container        string `mapstructure:"container"`
}

type ModelConfig struct {
	LoadTimeout    time.Duration `mapstructure:"load_timeout"`
	OnnxRuntimeLib string        `mapstructure:"onnxruntime_lib"`
	NumThreads     int           `mapstructure:"num_threads"`
}

type MonitorConfig struct {
	// Heartbeat cron 表达式，为空时不启动
	Heartbeat string `mapstructure:"heartbeat"`
}

// Load 加载配置：默认值 < YAML 文件 < 环境变量（含 .env）
//
// path 为空时尝试 config.yaml，文件不存在不算错误。
func Load(path string) (*Config, error) {
	// .env 可选
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SAM2")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("storage.connection_string", "BLOB_CONNECTION_STRING", "SAM2_STORAGE_CONNECTION_STRING"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindEnv("model.onnxruntime_lib", "ONNXRUNTIME_LIB", "SAM2_MODEL_ONNXRUNTIME_LIB"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Validate()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", defaultAddr)
	v.SetDefault("server.mode", defaultMode)
	v.SetDefault("server.read_timeout", defaultReadTimeout)
	v.SetDefault("server.write_timeout", defaultWriteTimeout)
	v.SetDefault("server.max_body_bytes", defaultMaxBodyBytes)

	v.SetDefault("storage.connection_string", "")
	v.SetDefault("storage.container", defaultContainer)

	v.SetDefault("model.load_timeout", defaultLoadTimeout)
	v.SetDefault("model.onnxruntime_lib", "")
	v.SetDefault("model.num_threads", 0)

	v.SetDefault("monitor.heartbeat", defaultHeartbeat)
}

// Validate 把非法取值改回默认值
func (c *Config) Validate() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		c.Server.Mode = defaultMode
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = defaultReadTimeout
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = defaultWriteTimeout
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.Storage.Container == "" {
		c.Storage.Container = defaultContainer
	}
	if c.Model.LoadTimeout <= 0 {
		c.Model.LoadTimeout = defaultLoadTimeout
	}
	if c.Model.NumThreads < 0 {
		c.Model.NumThreads = 0
	}
	c.Monitor.Heartbeat = strings.TrimSpace(c.Monitor.Heartbeat)
}
