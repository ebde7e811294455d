package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Upload      UploadConfig      `mapstructure:"upload"`
	Rembg       RembgConfig       `mapstructure:"rembg"`
	Render      RenderConfig      `mapstructure:"render"`
	Session     SessionConfig     `mapstructure:"session"`
	Backgrounds BackgroundsConfig `mapstructure:"backgrounds"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisConfig 抠图结果缓存，Enabled 为 false 时不连接
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	MaxDimension int      `mapstructure:"max_dimension"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

type RembgConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	FieldName string        `mapstructure:"field_name"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type RenderConfig struct {
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
	Scaler         string        `mapstructure:"scaler"`
	Affordance     bool          `mapstructure:"affordance"`
}

type SessionConfig struct {
	IdleTTL   time.Duration `mapstructure:"idle_ttl"`
	SweepSpec string        `mapstructure:"sweep_spec"`
}

// BackgroundsConfig 示例背景，本地路径或 http(s) 地址
type BackgroundsConfig struct {
	Samples []string `mapstructure:"samples"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置，失败时返回默认配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		return getDefaultConfig()
	}
	return cfg
}

func defaultSamples() []string {
	samples := make([]string, 0, 7)
	for i := 1; i <= 7; i++ {
		samples = append(samples, fmt.Sprintf("backgrounds/%d.jpg", i))
	}
	return samples
}

func setDefaults(v *viper.Viper) {
	d := getDefaultConfig()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.max_dimension", d.Upload.MaxDimension)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)

	v.SetDefault("rembg.endpoint", d.Rembg.Endpoint)
	v.SetDefault("rembg.field_name", d.Rembg.FieldName)
	v.SetDefault("rembg.timeout", d.Rembg.Timeout)

	v.SetDefault("render.debounce_window", d.Render.DebounceWindow)
	v.SetDefault("render.scaler", d.Render.Scaler)
	v.SetDefault("render.affordance", d.Render.Affordance)

	v.SetDefault("session.idle_ttl", d.Session.IdleTTL)
	v.SetDefault("session.sweep_spec", d.Session.SweepSpec)

	v.SetDefault("backgrounds.samples", d.Backgrounds.Samples)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
			TTL:     24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      10 * 1024 * 1024,
			MaxDimension: 4096,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/webp", "image/gif", "image/bmp"},
		},
		Rembg: RembgConfig{
			Endpoint:  "https://rembg.sj1.xyz/remove-bg/file/",
			FieldName: "file",
			Timeout:   60 * time.Second,
		},
		Render: RenderConfig{
			DebounceWindow: 200 * time.Millisecond,
			Scaler:         "catmull-rom",
			Affordance:     true,
		},
		Session: SessionConfig{
			IdleTTL:   30 * time.Minute,
			SweepSpec: "@every 5m",
		},
		Backgrounds: BackgroundsConfig{
			Samples: defaultSamples(),
		},
	}
}
