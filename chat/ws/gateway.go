package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/idgen"
	"github.com/ceyewan/whisper/chat/auth"
	"github.com/ceyewan/whisper/chat/connection"
	"github.com/ceyewan/whisper/chat/observability"
	"github.com/ceyewan/whisper/chat/service"
	"github.com/ceyewan/whisper/chat/session"
	"github.com/gorilla/websocket"
)

// Config WebSocket 配置
type Config struct {
	ReadBufferSize  int   `mapstructure:"read_buffer_size"`
	WriteBufferSize int   `mapstructure:"write_buffer_size"`
	MaxMessageSize  int64 `mapstructure:"max_message_size"` // KB
	PingInterval    int   `mapstructure:"ping_interval"`    // 秒
	PongTimeout     int   `mapstructure:"pong_timeout"`     // 秒
}

// DefaultConfig 默认 WebSocket 配置
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		MaxMessageSize:  512, // 512KB
		PingInterval:    30,  // 30秒
		PongTimeout:     60,  // 60秒
	}
}

// Gateway 处理 WebSocket 握手与连接生命周期
type Gateway struct {
	verifier   auth.TokenVerifier
	registry   *session.Registry
	connMgr    *connection.Manager
	presence   *service.PresenceService
	dispatcher *Dispatcher
	logger     clog.Logger
	upgrader   *websocket.Upgrader
	config     *Config
	idgen      idgen.Generator
}

// NewGateway 创建 WebSocket 网关
func NewGateway(
	verifier auth.TokenVerifier,
	registry *session.Registry,
	connMgr *connection.Manager,
	presence *service.PresenceService,
	dispatcher *Dispatcher,
	cfg *Config,
	gen idgen.Generator,
	logger clog.Logger,
) *Gateway {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = clog.Discard()
	}

	upgrader := &websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			// 生产环境需要严格检查 Origin
			return true
		},
	}

	return &Gateway{
		verifier:   verifier,
		registry:   registry,
		connMgr:    connMgr,
		presence:   presence,
		dispatcher: dispatcher,
		logger:     logger.WithNamespace("ws"),
		upgrader:   upgrader,
		config:     cfg,
		idgen:      gen,
	}
}

// HandleWebSocket 处理 WebSocket 握手请求。
// 令牌经 URL 参数携带；缺失或非法时直接 401 拒绝，不泄露任何细节。
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		g.logger.Warn("websocket connection rejected: missing token",
			clog.String("remote_addr", r.RemoteAddr))
		observability.RecordAuthRejection(r.Context())
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := g.verifier.Verify(r.Context(), token)
	if err != nil {
		g.logger.Warn("websocket connection rejected: invalid token",
			clog.String("remote_addr", r.RemoteAddr))
		observability.RecordAuthRejection(r.Context())
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	connID := g.idgen.NextString()

	wsConn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("failed to upgrade websocket",
			clog.Int64("user_id", userID),
			clog.String("remote_addr", r.RemoteAddr),
			clog.Error(err))
		return
	}

	conn := connection.NewConn(
		connID,
		userID,
		wsConn,
		g.logger,
		g.dispatcher,
		g.onClose,
		g.config.MaxMessageSize*1024,
		time.Duration(g.config.PingInterval)*time.Second,
		time.Duration(g.config.PongTimeout)*time.Second,
	)

	g.connMgr.AddConnection(conn)
	g.registry.Register(&session.Session{
		ConnID: connID,
		UserID: userID,
		Token:  token,
	})
	g.connMgr.JoinRoom(connection.RoomActive, connID)

	ctx := context.Background()
	if err := g.presence.MarkOnline(ctx, userID); err != nil {
		g.logger.Error("failed to mark user online",
			clog.Int64("user_id", userID),
			clog.Error(err))
	}

	observability.RecordWebSocketConnectionEstablished(ctx)
	observability.SetWebSocketConnectionsActive(ctx, g.connMgr.OnlineCount())

	conn.Run()

	g.logger.Info("websocket connection established",
		clog.String("conn_id", connID),
		clog.Int64("user_id", userID),
		clog.String("remote_addr", r.RemoteAddr))
}

// onClose 连接关闭时的收尾：退出房间、注销会话、置为离线并广播。
// 多端在线时任意一端断开也会广播离线，剩余会话仍可正常收发。
func (g *Gateway) onClose(conn *connection.Conn) {
	ctx := context.Background()

	g.connMgr.LeaveRoom(connection.RoomActive, conn.ConnID())
	g.connMgr.RemoveConnection(conn.ConnID())

	sess, remaining := g.registry.Unregister(conn.ConnID())
	if sess != nil {
		if err := g.presence.MarkOffline(ctx, sess.UserID); err != nil {
			g.logger.Error("failed to mark user offline",
				clog.Int64("user_id", sess.UserID),
				clog.Int("remaining_sessions", remaining),
				clog.Error(err))
		}
	}

	observability.SetWebSocketConnectionsActive(ctx, g.connMgr.OnlineCount())
}
