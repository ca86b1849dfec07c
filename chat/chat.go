// Package chat 组装聊天服务：WebSocket 网关、会话管理与消息投递。
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/connector"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/genesis/idgen"
	"github.com/ceyewan/whisper/chat/auth"
	"github.com/ceyewan/whisper/chat/config"
	"github.com/ceyewan/whisper/chat/connection"
	"github.com/ceyewan/whisper/chat/observability"
	"github.com/ceyewan/whisper/chat/server"
	"github.com/ceyewan/whisper/chat/service"
	"github.com/ceyewan/whisper/chat/session"
	"github.com/ceyewan/whisper/chat/ws"
	"github.com/ceyewan/whisper/pkg/health"
	"github.com/ceyewan/whisper/repo"
)

// Chat 聊天服务生命周期管理器
type Chat struct {
	config *config.Config
	logger clog.Logger

	// 服务实例
	httpServer  *server.HTTPServer
	healthProbe *health.Probe

	// 核心资源
	resources *resources
	ctx       context.Context
	cancel    context.CancelFunc
}

// resources 内部资源聚合，方便统一管理
type resources struct {
	pgConn    connector.PostgreSQLConnector
	redisConn connector.RedisConnector
	database  db.DB
	connMgr   *connection.Manager
	users     repo.UserRepo
	presence  repo.PresenceRepo
	messages  repo.MessageRepo
}

// New 创建 Chat 实例
func New() (*Chat, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Chat{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	if err := c.initComponents(); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// initComponents 初始化所有组件
func (c *Chat) initComponents() error {
	// 1. 初始化可观测性（Trace + Metrics）
	if err := observability.Init(&c.config.Observability); err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	// 2. 初始化 Logger（带 Trace Context 支持）
	logger, err := observability.NewLogger(&c.config.Log)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	c.logger = logger

	// 3. 初始化基础资源 (PostgreSQL, Redis, 仓储层)
	res, err := c.initBaseResources()
	if err != nil {
		return err
	}
	c.resources = res

	// 4. 创建 ID 生成器 (连接 ID 使用雪花算法)
	idGen, err := idgen.NewGenerator(&idgen.GeneratorConfig{WorkerID: c.config.GetWorkerID()})
	if err != nil {
		return fmt.Errorf("create id generator: %w", err)
	}

	// 5. 初始化令牌校验器
	authn, err := auth.New(c.config.JWT.GetSecret(), c.config.JWT.GetTTL(), res.users,
		auth.WithLogger(c.logger))
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}

	// 6. 初始化会话注册表与连接管理器
	registry := session.NewRegistry(session.WithRegistryLogger(c.logger))
	connMgr := connection.NewManager(c.logger)
	c.resources.connMgr = connMgr

	// 7. 初始化业务服务
	presenceSvc, err := service.NewPresenceService(res.presence, res.users, connMgr, c.logger)
	if err != nil {
		return fmt.Errorf("presence service init: %w", err)
	}
	directorySvc, err := service.NewDirectoryService(res.users, res.presence, res.messages, c.logger)
	if err != nil {
		return fmt.Errorf("directory service init: %w", err)
	}
	messageSvc, err := service.NewMessageService(res.users, res.messages, registry, connMgr, c.logger)
	if err != nil {
		return fmt.Errorf("message service init: %w", err)
	}

	// 8. 初始化 WebSocket 分发器与网关
	dispatcher := ws.NewDispatcher(registry, authn, connMgr, directorySvc, messageSvc, c.logger)
	gateway := ws.NewGateway(authn, registry, connMgr, presenceSvc, dispatcher,
		&c.config.WSConfig, idGen, c.logger)

	// 9. 初始化服务接口 (Servers)
	c.healthProbe = health.NewProbe()
	c.httpServer = server.NewHTTPServer(c.config.GetHTTPAddr(), gateway, c.healthProbe, c.logger)

	return nil
}

// initBaseResources 初始化外部连接与仓储层 (PostgreSQL、Redis)
func (c *Chat) initBaseResources() (*resources, error) {
	// PostgreSQL
	pgConn, err := connector.NewPostgreSQL(&c.config.Postgres, connector.WithLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("postgres init: %w", err)
	}
	if err := pgConn.Connect(c.ctx); err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	// Redis
	redisConn, err := connector.NewRedis(&c.config.Redis, connector.WithLogger(c.logger))
	if err != nil {
		pgConn.Close()
		return nil, fmt.Errorf("redis init: %w", err)
	}
	if err := redisConn.Connect(c.ctx); err != nil {
		pgConn.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	// 数据库访问层
	database, err := db.New(&db.Config{
		Driver:         "postgresql",
		EnableSharding: false,
	}, db.WithPostgreSQLConnector(pgConn), db.WithLogger(c.logger))
	if err != nil {
		pgConn.Close()
		redisConn.Close()
		return nil, fmt.Errorf("db init: %w", err)
	}

	// 仓储层
	users, err := repo.NewUserRepo(database, repo.WithUserRepoLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("user repo init: %w", err)
	}
	presence, err := repo.NewPresenceRepo(database,
		repo.WithPresenceRepoLogger(c.logger),
		repo.WithPresenceCache(redisConn))
	if err != nil {
		return nil, fmt.Errorf("presence repo init: %w", err)
	}
	messages, err := repo.NewMessageRepo(database, repo.WithMessageRepoLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("message repo init: %w", err)
	}

	return &resources{
		pgConn:    pgConn,
		redisConn: redisConn,
		database:  database,
		users:     users,
		presence:  presence,
		messages:  messages,
	}, nil
}

// Run 启动 HTTP 服务并打开就绪探针
func (c *Chat) Run() error {
	c.logger.Info("starting chat server...",
		clog.String("addr", c.config.GetHTTPAddr()))
	c.healthProbe.SetReady(false)
	c.healthProbe.SetShutdown(false)

	go func() {
		if err := c.httpServer.Start(); err != nil {
			c.logger.Error("http server exited", clog.Error(err))
			c.cancel()
		}
	}()

	c.healthProbe.SetReady(true)
	return nil
}

// Done 返回服务退出信号
func (c *Chat) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close 优雅关闭资源
func (c *Chat) Close() error {
	if c.logger != nil {
		c.logger.Info("shutting down chat server...")
	}
	if c.healthProbe != nil {
		c.healthProbe.SetReady(false)
		c.healthProbe.SetShutdown(true)
	}
	c.cancel()

	// 1. 停止 HTTP 服务，不再接受新连接
	httpShutdownCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()

	if c.httpServer != nil {
		c.httpServer.Stop(httpShutdownCtx)
	}

	// 2. 释放核心资源（带超时控制）
	if c.resources != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		done := make(chan struct{})
		go func() {
			if c.resources.connMgr != nil {
				c.resources.connMgr.Close()
			}
			if c.resources.presence != nil {
				c.resources.presence.Close()
			}
			if c.resources.database != nil {
				c.resources.database.Close()
			}
			if c.resources.redisConn != nil {
				c.resources.redisConn.Close()
			}
			if c.resources.pgConn != nil {
				c.resources.pgConn.Close()
			}
			close(done)
		}()

		select {
		case <-done:
		case <-shutdownCtx.Done():
			if c.logger != nil {
				c.logger.Warn("resource shutdown timed out after 10s, some connections may not be closed cleanly")
			}
		}
	}

	// 3. 关闭可观测性组件
	if err := observability.Shutdown(context.Background()); err != nil && c.logger != nil {
		c.logger.Error("observability shutdown failed", clog.Error(err))
	}

	return nil
}
