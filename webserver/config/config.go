// Package config 定义 Web 模块配置
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/config"
	"github.com/ceyewan/genesis/connector"
)

// Config 定义 Web 模块配置
type Config struct {
	Service ServiceConfig `mapstructure:"service"`
	Log     clog.Config   `mapstructure:"log"`

	// 数据访问与令牌配置和 chat 模块共享同一套存储与密钥
	Postgres connector.PostgreSQLConfig `mapstructure:"postgres"`
	Redis    connector.RedisConfig      `mapstructure:"redis"`
	JWT      JWTConfig                  `mapstructure:"jwt"`

	// WorkerID 雪花 ID 生成器的节点标识（用于 trace_id 生成）
	WorkerID int64 `mapstructure:"worker_id"`
}

// ServiceConfig 基础服务配置
type ServiceConfig struct {
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	HTTPPort int    `mapstructure:"http_port"`
}

// JWTConfig 访问令牌配置
type JWTConfig struct {
	Secret string        `mapstructure:"secret"` // HS256 签名密钥
	TTL    time.Duration `mapstructure:"ttl"`    // 令牌有效期
}

// GetTTL 获取令牌有效期，默认 24 小时
func (c *JWTConfig) GetTTL() time.Duration {
	if c.TTL <= 0 {
		return 24 * time.Hour
	}
	return c.TTL
}

// GetHTTPAddr 返回监听地址，默认为 :4173
func (s *ServiceConfig) GetHTTPAddr() string {
	host := s.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := s.HTTPPort
	if port == 0 {
		port = 4173
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// GetWorkerID 获取雪花节点 ID，默认 2（和 chat 模块错开）
func (c *Config) GetWorkerID() int64 {
	if c.WorkerID <= 0 {
		return 2
	}
	return c.WorkerID
}

// Load 加载 web.yaml 配置
func Load() (*Config, error) {
	loader, err := config.New(&config.Config{
		Name:      "web",
		FileType:  "yaml",
		Paths:     []string{"./configs"},
		EnvPrefix: "WHISPER",
	})
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := loader.Load(ctx); err != nil {
		return nil, err
	}

	var cfg Config
	if err := loader.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if os.Getenv("DEBUG_CONFIG") == "true" || os.Getenv("WHISPER_DEBUG_CONFIG") == "true" {
		dumpConfig(&cfg)
	}

	return &cfg, nil
}

func dumpConfig(cfg *Config) {
	sanitized := *cfg
	if sanitized.Redis.Password != "" {
		sanitized.Redis.Password = "***"
	}
	if sanitized.Postgres.Password != "" {
		sanitized.Postgres.Password = "***"
	}
	if sanitized.JWT.Secret != "" {
		sanitized.JWT.Secret = "***"
	}

	data, _ := json.MarshalIndent(sanitized, "", "  ")
	fmt.Fprintf(os.Stderr, "\n=== Web Configuration ===\n%s\n=== End of Configuration ===\n\n", data)
}
