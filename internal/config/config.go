package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	RateLimit  RateLimitConfig `mapstructure:"ratelimit"`
	Identity   IdentityConfig
	Moderation ModerationConfig
	Chat       ChatConfig
	WebSocket  WebSocketConfig `mapstructure:"websocket"`
}

type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

type DatabaseConfig struct {
	Driver string // postgres, sqlite or memory
	DSN    string
}

// RedisConfig is optional: an empty Address disables the relay and the redis limiter.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

type RateLimitConfig struct {
	Backend       string // memory or redis
	Window        time.Duration
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Prefix        string
	KeyPrefix     string `mapstructure:"key_prefix"`
}

type IdentityConfig struct {
	AddressHeaders []string `mapstructure:"address_headers"`
}

type ModerationConfig struct {
	Endpoint  string
	Timeout   time.Duration
	AllowList []string      `mapstructure:"allow_list"`
	FailOpen  bool          `mapstructure:"fail_open"`
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	RPS       float64
	Burst     int
}

type ChatConfig struct {
	MaxMessageLength int `mapstructure:"max_message_length"`
	PageSize         int `mapstructure:"page_size"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// Load reads ./config/config.yaml when present, then environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// Names the compose files already use.
	v.BindEnv("server.addr", "ADDR")
	v.BindEnv("database.dsn", "DB_DSN")
	v.BindEnv("redis.address", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Env overrides for list keys arrive as a single comma separated string.
	cfg.Identity.AddressHeaders = splitList(v.GetStringSlice("identity.address_headers"))
	cfg.Moderation.AllowList = splitList(v.GetStringSlice("moderation.allow_list"))
	cfg.WebSocket.AllowedOrigins = splitList(v.GetStringSlice("websocket.allowed_origins"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "general-chat")
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.window", "2s")
	v.SetDefault("ratelimit.sweep_interval", "20s")
	v.SetDefault("ratelimit.prefix", "/chat")
	v.SetDefault("ratelimit.key_prefix", "chat:ratelimit:")
	v.SetDefault("identity.address_headers", []string{"CF-Connecting-IP", "X-Real-IP", "X-Forwarded-For"})
	v.SetDefault("moderation.endpoint", "https://vector.profanity.dev")
	v.SetDefault("moderation.timeout", "5s")
	v.SetDefault("moderation.allow_list", []string{"fuck", "shit", "bitch"})
	v.SetDefault("moderation.fail_open", false)
	v.SetDefault("moderation.cache_size", 1024)
	v.SetDefault("moderation.cache_ttl", "5m")
	v.SetDefault("moderation.rps", 10)
	v.SetDefault("moderation.burst", 20)
	v.SetDefault("chat.max_message_length", 300)
	v.SetDefault("chat.page_size", 10)
	v.SetDefault("websocket.ping_interval", "54s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.allowed_origins", []string{})
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			return fmt.Errorf("ratelimit.backend=redis requires redis.address")
		}
	default:
		return fmt.Errorf("unknown ratelimit.backend %q", c.RateLimit.Backend)
	}

	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit.window must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return fmt.Errorf("websocket.ping_interval must be shorter than websocket.pong_wait")
	}
	return nil
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
