package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/whisper/chat/protocol"
	"github.com/ceyewan/whisper/model"
	"github.com/ceyewan/whisper/repo"
	"github.com/google/uuid"
)

// SessionIndex 按用户查询连接 ID 列表，由 session.Registry 实现
type SessionIndex interface {
	SessionsFor(userID int64) []string
}

// MessageService 私聊消息路由：持久化、已读回执、多端扇出
type MessageService struct {
	users    repo.UserRepo
	messages repo.MessageRepo
	sessions SessionIndex
	emitter  Emitter
	logger   clog.Logger
}

// NewMessageService 创建 MessageService
func NewMessageService(users repo.UserRepo, messages repo.MessageRepo, sessions SessionIndex, emitter Emitter, logger clog.Logger) (*MessageService, error) {
	if users == nil || messages == nil || sessions == nil || emitter == nil {
		return nil, fmt.Errorf("user repo, message repo, sessions and emitter cannot be nil")
	}
	if logger == nil {
		logger = clog.Discard()
	}

	return &MessageService{
		users:    users,
		messages: messages,
		sessions: sessions,
		emitter:  emitter,
		logger:   logger.WithNamespace("router"),
	}, nil
}

// Send 投递一条私聊消息：
//  1. 校验会话对端存在
//  2. 持久化消息
//  3. 向发送者与接收者的所有连接扇出 messages 事件
//  4. 将发给发送者本人的全部未读消息置为已读（发送即视为本人在场的粗粒度回执）
func (s *MessageService) Send(ctx context.Context, senderID int64, req *protocol.SendMessageRequest) error {
	partner, err := s.users.GetUser(ctx, req.PartnerID)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return protocol.NewFieldError("partner_id", "partner does not exist")
		}
		return fmt.Errorf("failed to load partner: %w", err)
	}

	sender, err := s.users.GetUser(ctx, senderID)
	if err != nil {
		return fmt.Errorf("failed to load sender: %w", err)
	}

	receiverID := partner.ID
	msg := &model.Message{
		ID:          uuid.NewString(),
		SenderID:    sender.ID,
		ReceiverID:  &receiverID,
		Content:     req.Content,
		MessageType: model.MessageTypeText,
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return err
	}

	// 实时投递的消息不携带 id
	delivered := buildMessagePayload(msg, sender.Username, partner.Username)
	delivered.ID = ""
	payload := &protocol.MessagesPayload{
		User:    protocol.UserSummary{ID: sender.ID, Username: sender.Username},
		Partner: protocol.UserSummary{ID: partner.ID, Username: partner.Username},
		Message: delivered,
	}

	connIDs := s.sessions.SessionsFor(sender.ID)
	if partner.ID != sender.ID {
		connIDs = append(connIDs, s.sessions.SessionsFor(partner.ID)...)
	}
	s.emitter.EmitToConns(connIDs, protocol.EventMessages, payload)

	if _, err := s.messages.MarkAllReceivedRead(ctx, sender.ID); err != nil {
		// 回执失败不阻断已完成的投递
		s.logger.WarnContext(ctx, "failed to mark received messages read",
			clog.Int64("user_id", sender.ID),
			clog.Error(err))
	}

	s.logger.InfoContext(ctx, "message routed",
		clog.String("msg_id", msg.ID),
		clog.Int64("sender_id", sender.ID),
		clog.Int64("receiver_id", partner.ID),
		clog.Int("fanout", len(connIDs)))
	return nil
}

// History 拉取与指定对端的会话窗口。
// 拉取即视为本人已读：返回的窗口保留拉取前的已读标记，
// 之后才把对端发来的全部消息置为已读，下一次拉取可见。
func (s *MessageService) History(ctx context.Context, userID int64, req *protocol.GetChatHistoryRequest) (*protocol.ChatHistoryPayload, error) {
	partner, err := s.users.GetUser(ctx, req.PartnerID)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return nil, protocol.NewFieldError("partner_id", "partner does not exist")
		}
		return nil, fmt.Errorf("failed to load partner: %w", err)
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	messages, err := s.messages.GetConversation(ctx, user.ID, partner.ID, 0)
	if err != nil {
		return nil, err
	}

	payload := &protocol.ChatHistoryPayload{
		User:     protocol.UserSummary{ID: user.ID, Username: user.Username},
		Partner:  protocol.UserSummary{ID: partner.ID, Username: partner.Username},
		Messages: make([]*protocol.MessagePayload, 0, len(messages)),
	}
	for _, msg := range messages {
		senderName, receiverName := user.Username, partner.Username
		if msg.SenderID == partner.ID {
			senderName, receiverName = partner.Username, user.Username
		}
		payload.Messages = append(payload.Messages, buildMessagePayload(msg, senderName, receiverName))
	}

	if _, err := s.messages.MarkConversationRead(ctx, partner.ID, user.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to mark conversation read",
			clog.Int64("user_id", user.ID),
			clog.Int64("partner_id", partner.ID),
			clog.Error(err))
	}

	return payload, nil
}

// buildMessagePayload 将持久化消息转换为线上表示
func buildMessagePayload(msg *model.Message, senderName, receiverName string) *protocol.MessagePayload {
	var receiverID int64
	if msg.ReceiverID != nil {
		receiverID = *msg.ReceiverID
	}
	return &protocol.MessagePayload{
		ID:           msg.ID,
		SenderID:     msg.SenderID,
		ReceiverID:   receiverID,
		Content:      msg.Content,
		CreatedAt:    msg.CreatedAt.Unix(),
		SenderName:   senderName,
		ReceiverName: receiverName,
		IsRead:       msg.IsRead,
	}
}
