// Package webserver 实现 Web 边界：登录签发令牌与聊天页初始化接口。
package webserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/connector"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/genesis/idgen"
	"github.com/ceyewan/genesis/ratelimit"
	"github.com/ceyewan/whisper/chat/auth"
	"github.com/ceyewan/whisper/chat/service"
	"github.com/ceyewan/whisper/pkg/health"
	"github.com/ceyewan/whisper/repo"
	"github.com/ceyewan/whisper/webserver/api"
	webcfg "github.com/ceyewan/whisper/webserver/config"
	"github.com/ceyewan/whisper/webserver/middleware"
	"github.com/gin-gonic/gin"
)

// Web 托管登录与 bootstrap HTTP 接口
type Web struct {
	config *webcfg.Config
	logger clog.Logger
	server *http.Server
	health *health.Probe

	pgConn    connector.PostgreSQLConnector
	redisConn connector.RedisConnector
	database  db.DB
	presence  repo.PresenceRepo
}

// New 创建 Web 模块实例
func New() (*Web, error) {
	cfg, err := webcfg.Load()
	if err != nil {
		return nil, err
	}

	logger, _ := clog.New(&cfg.Log, clog.WithTraceContext())

	w := &Web{
		config: cfg,
		logger: logger,
		health: health.NewProbe(),
	}

	if err := w.initServer(); err != nil {
		w.Close()
		return nil, err
	}

	return w, nil
}

// initServer 初始化数据访问层与 HTTP 服务
func (w *Web) initServer() error {
	ctx := context.Background()

	// PostgreSQL
	pgConn, err := connector.NewPostgreSQL(&w.config.Postgres, connector.WithLogger(w.logger))
	if err != nil {
		return fmt.Errorf("postgres init: %w", err)
	}
	if err := pgConn.Connect(ctx); err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	w.pgConn = pgConn

	// Redis（在线状态读缓存）
	redisConn, err := connector.NewRedis(&w.config.Redis, connector.WithLogger(w.logger))
	if err != nil {
		return fmt.Errorf("redis init: %w", err)
	}
	if err := redisConn.Connect(ctx); err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	w.redisConn = redisConn

	database, err := db.New(&db.Config{
		Driver:         "postgresql",
		EnableSharding: false,
	}, db.WithPostgreSQLConnector(pgConn), db.WithLogger(w.logger))
	if err != nil {
		return fmt.Errorf("db init: %w", err)
	}
	w.database = database

	// 仓储层
	users, err := repo.NewUserRepo(database, repo.WithUserRepoLogger(w.logger))
	if err != nil {
		return fmt.Errorf("user repo init: %w", err)
	}
	presence, err := repo.NewPresenceRepo(database,
		repo.WithPresenceRepoLogger(w.logger),
		repo.WithPresenceCache(redisConn))
	if err != nil {
		return fmt.Errorf("presence repo init: %w", err)
	}
	w.presence = presence
	messages, err := repo.NewMessageRepo(database, repo.WithMessageRepoLogger(w.logger))
	if err != nil {
		return fmt.Errorf("message repo init: %w", err)
	}

	// 令牌签发器（和 chat 模块共享密钥，签发的令牌直接用于 WebSocket 握手）
	authn, err := auth.New(w.config.JWT.Secret, w.config.JWT.GetTTL(), users,
		auth.WithLogger(w.logger))
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}

	directory, err := service.NewDirectoryService(users, presence, messages, w.logger)
	if err != nil {
		return fmt.Errorf("directory service init: %w", err)
	}

	// 中间件依赖：限流器 + trace_id 生成器
	limiter, err := ratelimit.New(&ratelimit.Config{Driver: ratelimit.DriverStandalone}, ratelimit.WithLogger(w.logger))
	if err != nil {
		return fmt.Errorf("ratelimit init: %w", err)
	}
	idGen, err := idgen.NewGenerator(&idgen.GeneratorConfig{WorkerID: w.config.GetWorkerID()})
	if err != nil {
		return fmt.Errorf("create id generator: %w", err)
	}

	authCfg := middleware.NewAuthConfig(authn, w.logger)
	middlewares := api.NewMiddlewares(w.logger, limiter, idGen, authCfg)
	handler := api.NewHandler(authn, users, directory, w.logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	handler.RegisterRoutes(router, middlewares, w.health)

	w.server = &http.Server{
		Addr:         w.config.Service.GetHTTPAddr(),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return nil
}

// Run 启动 HTTP 服务
func (w *Web) Run() error {
	w.logger.Info("web server listening",
		clog.String("addr", w.server.Addr),
	)

	ln, err := net.Listen("tcp", w.server.Addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", w.server.Addr, err)
	}
	w.health.SetShutdown(false)
	w.health.SetReady(true)

	go func() {
		if err := w.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			w.logger.Error("web server stopped unexpectedly", clog.Error(err))
		}
	}()
	return nil
}

// Close 优雅退出
func (w *Web) Close() error {
	w.health.SetReady(false)
	w.health.SetShutdown(true)

	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			w.logger.Warn("web server shutdown", clog.Error(err))
		}
	}

	if w.presence != nil {
		w.presence.Close()
	}
	if w.database != nil {
		w.database.Close()
	}
	if w.redisConn != nil {
		w.redisConn.Close()
	}
	if w.pgConn != nil {
		w.pgConn.Close()
	}
	return nil
}
