// Package bootstrap 提供数据库初始化能力：AutoMigrate 建表 + Seed 种子数据。
// 通过 `go run main.go -module init` 调用，幂等可重复执行。
package bootstrap

import (
	"context"
	"fmt"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/config"
	"github.com/ceyewan/genesis/connector"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/whisper/model"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Config 初始化所需的配置（复用 chat.yaml）
type Config struct {
	Log        clog.Config                `mapstructure:"log"`
	PostgreSQL connector.PostgreSQLConfig `mapstructure:"postgres"`
	Seed       SeedConfig                 `mapstructure:"seed"`
}

// SeedConfig 种子账号配置
type SeedConfig struct {
	Users []SeedUser `mapstructure:"users"`
}

// SeedUser 单个种子账号
type SeedUser struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Email    string `mapstructure:"email"`
}

// Run 执行数据库初始化：建表 + 种子数据
func Run() error {
	// 1. 加载配置（复用 chat.yaml）
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. 初始化日志
	logger, _ := clog.New(&cfg.Log)

	logger.Info("starting database initialization...")

	// 3. 连接 PostgreSQL
	postgresConn, err := connector.NewPostgreSQL(&cfg.PostgreSQL, connector.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("postgresql connector: %w", err)
	}
	defer postgresConn.Close()

	dbInstance, err := db.New(&db.Config{Driver: "postgresql"}, db.WithPostgreSQLConnector(postgresConn), db.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("db init: %w", err)
	}
	defer dbInstance.Close()

	ctx := context.Background()
	gormDB := dbInstance.DB(ctx)

	// 4. AutoMigrate 建表 + 索引
	logger.Info("running AutoMigrate...")
	if err := gormDB.AutoMigrate(model.AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("AutoMigrate completed")

	// 5. Seed 种子数据
	logger.Info("seeding initial data...")
	if err := seed(gormDB, &cfg.Seed, logger); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	logger.Info("seed completed")

	logger.Info("database initialization finished successfully")
	return nil
}

// seed 插入种子账号（幂等，按用户名判重）
func seed(gormDB *gorm.DB, seedCfg *SeedConfig, logger clog.Logger) error {
	if len(seedCfg.Users) == 0 {
		logger.Info("user seed skipped: no seed users in config")
		return nil
	}

	for _, su := range seedCfg.Users {
		if su.Username == "" || su.Password == "" {
			logger.Warn("seed user skipped: missing username or password")
			continue
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(su.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", su.Username, err)
		}

		user := &model.User{
			Username: su.Username,
			Email:    su.Email,
			Password: string(hashedPassword),
			IsActive: true,
		}
		result := gormDB.Where("username = ?", user.Username).FirstOrCreate(user)
		if result.Error != nil {
			return fmt.Errorf("seed user %s: %w", su.Username, result.Error)
		}
		logger.Info("seed user ready",
			clog.String("username", user.Username),
			clog.Int64("user_id", user.ID))
	}

	return nil
}

// loadConfig 加载配置（复用 chat.yaml）
func loadConfig() (*Config, error) {
	loader, err := config.New(&config.Config{
		Name:      "chat",
		FileType:  "yaml",
		Paths:     []string{"./configs"},
		EnvPrefix: "WHISPER",
	})
	if err != nil {
		return nil, err
	}

	if err := loader.Load(context.Background()); err != nil {
		return nil, err
	}

	var cfg Config
	if err := loader.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
