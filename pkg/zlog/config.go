package zlog

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// FileConfig 本地轮转文件
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size"`    // 单个文件上限（MB）
	MaxBackups int    `mapstructure:"max_backups"` // 保留的旧文件数
	MaxAgeDay  int    `mapstructure:"max_age"`     // 保留天数
	Compress   bool   `mapstructure:"compress"`
}

// Config 日志配置，位于客户端配置文件的 log 段
type Config struct {
	Service      string     `mapstructure:"service"`
	Level        string     `mapstructure:"level"`    // debug|info|warn|error
	Encoding     string     `mapstructure:"encoding"` // json|console
	Stdout       bool       `mapstructure:"stdout"`
	File         FileConfig `mapstructure:"file"`
	EnableMetric bool       `mapstructure:"enable_metric"`
}

// DefaultConfig 没有配置文件时使用：info 级别，console 输出到 stdout
func DefaultConfig(service string) Config {
	return Config{
		Service:      service,
		Level:        "info",
		Encoding:     "console",
		Stdout:       true,
		EnableMetric: true,
	}
}

// LoadConfig 从配置文件的 log 段加载，IMSYNC_LOG_ 前缀的环境变量可以覆盖（如 IMSYNC_LOG_LEVEL）
func LoadConfig(filePath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filePath)
	v.SetEnvPrefix("IMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.service", "imsync")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_backups", 10)
	v.SetDefault("log.file.max_age", 7)
	v.SetDefault("log.enable_metric", true)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取日志配置文件失败：%w", err)
	}

	var wrapper struct {
		Log Config `mapstructure:"log"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return nil, fmt.Errorf("加载日志配置失败：%w", err)
	}
	cfg := wrapper.Log
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Service == "" {
		return fmt.Errorf("配置错误：log.service 不能为空")
	}
	if !validLevel(cfg.Level) {
		return fmt.Errorf("配置错误：log.level 只能是 debug/info/warn/error")
	}
	switch cfg.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("配置错误：log.encoding 只能是 json/console")
	}
	if !cfg.Stdout && cfg.File.Path == "" {
		return fmt.Errorf("配置错误：log.stdout 为 false 时，log.file.path 不能为空")
	}
	if cfg.File.Path != "" && cfg.File.MaxSizeMB <= 0 {
		cfg.File.MaxSizeMB = 100
	}
	return nil
}
