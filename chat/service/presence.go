// Package service 实现聊天核心的业务逻辑：
// 在线状态维护与广播、私聊消息路由、联系人目录检索。
package service

import (
	"context"
	"fmt"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/whisper/chat/connection"
	"github.com/ceyewan/whisper/chat/protocol"
	"github.com/ceyewan/whisper/model"
	"github.com/ceyewan/whisper/repo"
)

// Emitter 出站事件投递接口，由 connection.Manager 实现
type Emitter interface {
	EmitToConns(connIDs []string, event string, data any)
	BroadcastRoom(room, event string, data any)
}

// PresenceService 维护用户在线状态，并向所有活跃连接广播状态变更
type PresenceService struct {
	presence repo.PresenceRepo
	users    repo.UserRepo
	emitter  Emitter
	logger   clog.Logger
}

// NewPresenceService 创建 PresenceService
func NewPresenceService(presence repo.PresenceRepo, users repo.UserRepo, emitter Emitter, logger clog.Logger) (*PresenceService, error) {
	if presence == nil || users == nil || emitter == nil {
		return nil, fmt.Errorf("presence repo, user repo and emitter cannot be nil")
	}
	if logger == nil {
		logger = clog.Discard()
	}

	return &PresenceService{
		presence: presence,
		users:    users,
		emitter:  emitter,
		logger:   logger.WithNamespace("presence"),
	}, nil
}

// SetStatus 更新用户状态并向 active 房间广播 user_status 事件。
// 广播是尽力而为的：持久化成功后广播失败不回滚。
func (s *PresenceService) SetStatus(ctx context.Context, userID int64, status int) error {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user for status change: %w", err)
	}

	if _, err := s.presence.SetStatus(ctx, user.ID, status); err != nil {
		return err
	}

	s.emitter.BroadcastRoom(connection.RoomActive, protocol.EventUserStatus, &protocol.UserStatusPayload{
		UserID: user.ID,
		Status: status,
	})

	s.logger.InfoContext(ctx, "user status changed",
		clog.Int64("user_id", userID),
		clog.Int("status", status))
	return nil
}

// MarkOnline 将用户置为在线并广播
func (s *PresenceService) MarkOnline(ctx context.Context, userID int64) error {
	return s.SetStatus(ctx, userID, model.StatusOnline)
}

// MarkOffline 将用户置为离线并广播
func (s *PresenceService) MarkOffline(ctx context.Context, userID int64) error {
	return s.SetStatus(ctx, userID, model.StatusOffline)
}
