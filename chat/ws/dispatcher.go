// Package ws 实现 WebSocket 入站事件的鉴权与分发。
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/whisper/chat/auth"
	"github.com/ceyewan/whisper/chat/connection"
	"github.com/ceyewan/whisper/chat/observability"
	"github.com/ceyewan/whisper/chat/protocol"
	"github.com/ceyewan/whisper/chat/service"
	"github.com/ceyewan/whisper/chat/session"
)

// Dispatcher 入站事件分发器。实现 connection.FrameHandler。
type Dispatcher struct {
	registry  *session.Registry
	verifier  auth.TokenVerifier
	connMgr   *connection.Manager
	directory *service.DirectoryService
	messages  *service.MessageService
	logger    clog.Logger
}

// NewDispatcher 创建事件分发器
func NewDispatcher(
	registry *session.Registry,
	verifier auth.TokenVerifier,
	connMgr *connection.Manager,
	directory *service.DirectoryService,
	messages *service.MessageService,
	logger clog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = clog.Discard()
	}
	return &Dispatcher{
		registry:  registry,
		verifier:  verifier,
		connMgr:   connMgr,
		directory: directory,
		messages:  messages,
		logger:    logger.WithNamespace("dispatcher"),
	}
}

// HandleFrame 处理一条入站帧：解析、会话鉴权、按事件名分发。
// 鉴权失败的事件静默丢弃，不给对端任何反馈。
func (d *Dispatcher) HandleFrame(ctx context.Context, conn *connection.Conn, raw []byte) {
	frame, err := protocol.DecodeClientFrame(raw)
	if err != nil {
		d.logger.DebugContext(ctx, "dropping malformed frame",
			clog.String("conn_id", conn.ConnID()),
			clog.Error(err))
		return
	}

	userID, ok := d.authorize(ctx, conn, frame)
	if !ok {
		observability.RecordAuthRejection(ctx)
		d.logger.WarnContext(ctx, "dropping unauthorized event",
			clog.String("conn_id", conn.ConnID()),
			clog.String("event", frame.Event))
		return
	}

	observability.RecordEventDispatched(ctx)
	start := time.Now()
	defer func() {
		observability.RecordEventHandleDuration(ctx, time.Since(start))
	}()

	switch frame.Event {
	case protocol.EventSearchUsers:
		d.handleSearchUsers(ctx, conn, userID, frame.Data)
	case protocol.EventGetChatHistory:
		d.handleGetChatHistory(ctx, conn, userID, frame.Data)
	case protocol.EventSendMessage:
		d.handleSendMessage(ctx, conn, userID, frame.Data)
	default:
		d.logger.DebugContext(ctx, "dropping unknown event",
			clog.String("conn_id", conn.ConnID()),
			clog.String("event", frame.Event))
	}
}

// authorize 校验事件归属的会话。优先使用握手时登记的令牌，
// 帧内随附的 token 字段作为兜底（供未走标准握手的客户端使用）。
func (d *Dispatcher) authorize(ctx context.Context, conn *connection.Conn, frame *protocol.ClientFrame) (int64, bool) {
	token, ok := d.registry.TokenFor(conn.ConnID())
	if !ok || token == "" {
		token = inlineToken(frame.Data)
	}
	if token == "" {
		return 0, false
	}

	userID, err := d.verifier.Verify(ctx, token)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) {
			d.logger.ErrorContext(ctx, "token verification failed",
				clog.String("conn_id", conn.ConnID()),
				clog.Error(err))
		}
		return 0, false
	}

	// 会话登记的用户与令牌不一致时拒绝
	if conn.UserID() != 0 && conn.UserID() != userID {
		return 0, false
	}
	return userID, true
}

// inlineToken 从事件载荷中提取随附令牌
func inlineToken(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return payload.Token
}

func (d *Dispatcher) handleSearchUsers(ctx context.Context, conn *connection.Conn, userID int64, data json.RawMessage) {
	req, fieldErr := protocol.DecodeSearchUsersRequest(data)
	if fieldErr != nil {
		d.emitError(conn, fieldErr)
		return
	}

	entries, err := d.directory.Search(ctx, userID, req.Search)
	if err != nil {
		d.handleServiceError(ctx, conn, protocol.EventSearchUsers, err)
		return
	}

	// users 事件的载荷是裸的联系人数组
	d.emit(conn, protocol.EventUsers, entries)
}

func (d *Dispatcher) handleGetChatHistory(ctx context.Context, conn *connection.Conn, userID int64, data json.RawMessage) {
	req, fieldErr := protocol.DecodeGetChatHistoryRequest(data)
	if fieldErr != nil {
		d.emitError(conn, fieldErr)
		return
	}

	payload, err := d.messages.History(ctx, userID, req)
	if err != nil {
		d.handleServiceError(ctx, conn, protocol.EventGetChatHistory, err)
		return
	}

	d.emit(conn, protocol.EventChatHistory, payload)
}

func (d *Dispatcher) handleSendMessage(ctx context.Context, conn *connection.Conn, userID int64, data json.RawMessage) {
	req, fieldErr := protocol.DecodeSendMessageRequest(data)
	if fieldErr != nil {
		d.emitError(conn, fieldErr)
		return
	}

	if err := d.messages.Send(ctx, userID, req); err != nil {
		d.handleServiceError(ctx, conn, protocol.EventSendMessage, err)
		return
	}

	observability.RecordMessageDelivered(ctx)
}

// handleServiceError 字段级错误回给客户端，内部错误只记录日志
func (d *Dispatcher) handleServiceError(ctx context.Context, conn *connection.Conn, event string, err error) {
	observability.RecordEventError(ctx)

	var fieldErr *protocol.FieldError
	if errors.As(err, &fieldErr) {
		d.emitError(conn, fieldErr)
		return
	}

	d.logger.ErrorContext(ctx, "event handling failed",
		clog.String("conn_id", conn.ConnID()),
		clog.String("event", event),
		clog.Error(err))
}

func (d *Dispatcher) emitError(conn *connection.Conn, fieldErr *protocol.FieldError) {
	d.emit(conn, protocol.EventError, fieldErr)
}

func (d *Dispatcher) emit(conn *connection.Conn, event string, data any) {
	if err := d.connMgr.Emit(conn.ConnID(), event, data); err != nil {
		d.logger.Warn("failed to emit response",
			clog.String("conn_id", conn.ConnID()),
			clog.String("event", event),
			clog.Error(err))
	}
}
