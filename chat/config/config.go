// Package config 定义聊天服务的配置结构与加载逻辑。
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
	"github.com/ceyewan/whisper/chat/observability"
	"github.com/ceyewan/whisper/chat/ws"
)

// Config 聊天服务配置
type Config struct {
	// 服务基础配置
	Service struct {
		Name     string `mapstructure:"name"`      // 服务名称
		Host     string `mapstructure:"host"`      // 服务主机名（环境变量 HOSTNAME）
		HTTPPort int    `mapstructure:"http_port"` // HTTP 服务端口
	} `mapstructure:"service"`

	// 基础组件配置
	Log      clog.Config                `mapstructure:"log"`      // 日志配置
	Postgres connector.PostgreSQLConfig `mapstructure:"postgres"` // PostgreSQL 配置
	Redis    connector.RedisConfig      `mapstructure:"redis"`    // Redis 配置

	// 访问令牌配置
	JWT JWTConfig `mapstructure:"jwt"`

	// WebSocket 配置
	WSConfig ws.Config `mapstructure:"ws_config"`

	// 可观测性配置
	Observability observability.Config `mapstructure:"observability"`

	// WorkerID 雪花 ID 生成器的节点标识
	WorkerID int64 `mapstructure:"worker_id"`
}

// JWTConfig 访问令牌配置
type JWTConfig struct {
	Secret string        `mapstructure:"secret"` // HS256 签名密钥
	TTL    time.Duration `mapstructure:"ttl"`    // 令牌有效期
}

// GetSecret 获取签名密钥
func (c *JWTConfig) GetSecret() string {
	return c.Secret
}

// GetTTL 获取令牌有效期，默认 24 小时
func (c *JWTConfig) GetTTL() time.Duration {
	if c.TTL <= 0 {
		return 24 * time.Hour
	}
	return c.TTL
}

// GetHost 获取服务主机名，优先使用配置，其次环境变量 HOSTNAME，最后 "localhost"
func (c *Config) GetHost() string {
	if c.Service.Host != "" {
		return c.Service.Host
	}
	if host := os.Getenv("HOSTNAME"); host != "" {
		return host
	}
	return "localhost"
}

// GetHTTPPort 获取 HTTP 端口
func (c *Config) GetHTTPPort() int {
	if c.Service.HTTPPort > 0 && c.Service.HTTPPort < 65536 {
		return c.Service.HTTPPort
	}
	return 8080
}

// GetHTTPAddr 获取 HTTP 绑定地址
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.GetHTTPPort())
}

// GetWorkerID 获取雪花节点 ID，默认 1
func (c *Config) GetWorkerID() int64 {
	if c.WorkerID <= 0 {
		return 1
	}
	return c.WorkerID
}

// Load 创建并加载聊天服务配置（无参数）
// 配置加载顺序：环境变量 > .env > chat.{env}.yaml > chat.yaml
func Load() (*Config, error) {
	loader, err := config.New(&config.Config{
		Name:      "chat",
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

// dumpConfig 以 JSON 格式打印配置（脱敏敏感字段）
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
	fmt.Fprintf(os.Stderr, "\n=== Chat Configuration ===\n%s\n=== End of Configuration ===\n\n", data)
}
