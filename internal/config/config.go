package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/EthanQC/imsync/internal/application/session"
)

// Config 客户端配置，对应 configs/config.<APP_ENV>.yaml
type Config struct {
	UserID string `mapstructure:"user_id"`

	Transport struct {
		Kind    string        `mapstructure:"kind"` // ws|redis|kafka
		BaseURL string        `mapstructure:"base_url"`
		Token   string        `mapstructure:"token"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"transport"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`

	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`

	Coalesce struct {
		CursorDebounce time.Duration `mapstructure:"cursor_debounce"`
		TypingTTL      time.Duration `mapstructure:"typing_ttl"`
		TypingLeeway   time.Duration `mapstructure:"typing_leeway"`
	} `mapstructure:"coalesce"`

	MessageLimit int `mapstructure:"message_limit"`

	Admin struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"admin"`

	// File 实际读取的配置文件，日志配置从同一个文件加载
	File string `mapstructure:"-"`
}

// Env 当前环境，默认 dev
func Env() string {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	return env
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport.kind", "ws")
	v.SetDefault("transport.timeout", 10*time.Second)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("kafka.topic", "imsync.events")
	v.SetDefault("coalesce.cursor_debounce", 500*time.Millisecond)
	v.SetDefault("coalesce.typing_ttl", 1500*time.Millisecond)
	v.SetDefault("coalesce.typing_leeway", 500*time.Millisecond)
	v.SetDefault("message_limit", session.DefaultMessageLimit)
	v.SetDefault("admin.addr", ":9090")
}

// Load 按 APP_ENV 在 ./configs、../configs 下查找配置文件；
// IMSYNC_ 前缀的环境变量覆盖文件里的值（IMSYNC_TRANSPORT_TOKEN 对应 transport.token）
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		paths = []string{"./configs", "../configs", "../../configs"}
	}
	v := viper.New()
	v.SetConfigName(fmt.Sprintf("config.%s", Env()))
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("IMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	cfg.File, _ = filepath.Abs(v.ConfigFileUsed())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验必填项
func (c *Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("配置错误：user_id 不能为空")
	}
	switch c.Transport.Kind {
	case "ws":
		if c.Transport.BaseURL == "" {
			return fmt.Errorf("配置错误：transport.kind=ws 时 transport.base_url 不能为空")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("配置错误：transport.kind=redis 时 redis.addr 不能为空")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("配置错误：transport.kind=kafka 时 kafka.brokers 不能为空")
		}
	default:
		return fmt.Errorf("配置错误：transport.kind 只能是 ws/redis/kafka")
	}
	if c.Coalesce.TypingLeeway >= c.Coalesce.TypingTTL {
		return fmt.Errorf("配置错误：coalesce.typing_leeway 必须小于 coalesce.typing_ttl")
	}
	return nil
}

// SessionOptions 会话的时间参数
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		CursorDebounce: c.Coalesce.CursorDebounce,
		TypingTTL:      c.Coalesce.TypingTTL,
		TypingLeeway:   c.Coalesce.TypingLeeway,
		MessageLimit:   c.MessageLimit,
	}
}
