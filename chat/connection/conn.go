package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/gorilla/websocket"
)

// FrameHandler 处理一条入站原始帧
type FrameHandler interface {
	HandleFrame(ctx context.Context, conn *Conn, raw []byte)
}

// Conn 表示一条 WebSocket 连接。出站帧经缓冲通道由 writePump 串行写出。
type Conn struct {
	connID     string
	userID     int64
	conn       *websocket.Conn
	send       chan []byte
	logger     clog.Logger
	handler    FrameHandler
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	onClose    func(c *Conn)
	remoteAddr string

	// 配置
	maxMessageSize int64
	pingInterval   time.Duration
	pongTimeout    time.Duration
}

// NewConn 创建新的连接
func NewConn(
	connID string,
	userID int64,
	conn *websocket.Conn,
	logger clog.Logger,
	handler FrameHandler,
	onClose func(c *Conn),
	maxMessageSize int64,
	pingInterval time.Duration,
	pongTimeout time.Duration,
) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		connID:         connID,
		userID:         userID,
		conn:           conn,
		send:           make(chan []byte, 256),
		logger:         logger,
		handler:        handler,
		ctx:            ctx,
		cancel:         cancel,
		onClose:        onClose,
		remoteAddr:     conn.RemoteAddr().String(),
		maxMessageSize: maxMessageSize,
		pingInterval:   pingInterval,
		pongTimeout:    pongTimeout,
	}
}

// ConnID 连接标识
func (c *Conn) ConnID() string {
	return c.connID
}

// UserID 连接所属用户
func (c *Conn) UserID() int64 {
	return c.userID
}

// RemoteAddr 对端地址
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Send 投递一帧出站数据。缓冲满或连接已关闭时丢弃并返回错误。
func (c *Conn) Send(raw []byte) error {
	select {
	case <-c.ctx.Done():
		return fmt.Errorf("connection closed")
	default:
	}

	select {
	case c.send <- raw:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("connection closed")
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Close 关闭连接，幂等
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return nil
}

// Run 启动连接的读写协程
func (c *Conn) Run() {
	go c.writePump()
	go c.readPump()
}

// readPump 从 WebSocket 读取消息
func (c *Conn) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error",
					clog.String("conn_id", c.connID),
					clog.Int64("user_id", c.userID),
					clog.Error(err))
			}
			break
		}

		c.handler.HandleFrame(c.ctx, c, message)
	}
}

// writePump 向 WebSocket 写入消息
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case raw := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.logger.Error("failed to write message",
					clog.String("conn_id", c.connID),
					clog.Int64("user_id", c.userID),
					clog.Error(err))
				return
			}

		case <-ticker.C:
			// 发送心跳
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
