package repo

import (
	"context"
	"fmt"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/whisper/model"
)

// MessageRepoOption 配置 MessageRepo 的选项
type MessageRepoOption func(*messageRepoOptions)

type messageRepoOptions struct {
	logger clog.Logger
}

// WithMessageRepoLogger 设置日志记录器
func WithMessageRepoLogger(logger clog.Logger) MessageRepoOption {
	return func(o *messageRepoOptions) {
		o.logger = logger
	}
}

// messageRepo 实现 MessageRepo 接口
type messageRepo struct {
	db     db.DB
	logger clog.Logger
}

// NewMessageRepo 创建 MessageRepo 实例
func NewMessageRepo(database db.DB, opts ...MessageRepoOption) (MessageRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}

	options := &messageRepoOptions{}
	for _, opt := range opts {
		opt(options)
	}

	logger := options.logger
	if logger == nil {
		logger = clog.Discard()
	}

	return &messageRepo{
		db:     database,
		logger: logger.WithNamespace("message_repo"),
	}, nil
}

// CreateMessage 持久化一条消息
func (r *messageRepo) CreateMessage(ctx context.Context, msg *model.Message) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if msg.ID == "" {
		return fmt.Errorf("message id cannot be empty")
	}
	if msg.SenderID <= 0 {
		return fmt.Errorf("sender_id must be positive")
	}
	// receiver 与 group 互斥，核心只会设置 receiver
	if (msg.ReceiverID == nil) == (msg.GroupID == nil) {
		return fmt.Errorf("exactly one of receiver_id and group_id must be set")
	}

	gormDB := r.db.DB(ctx)
	if err := gormDB.Create(msg).Error; err != nil {
		r.logger.Error("保存消息失败",
			clog.String("msg_id", msg.ID),
			clog.Int64("sender_id", msg.SenderID),
			clog.Error(err))
		return fmt.Errorf("failed to create message: %w", err)
	}

	r.logger.Debug("保存消息成功",
		clog.String("msg_id", msg.ID),
		clog.Int64("sender_id", msg.SenderID))
	return nil
}

// GetConversation 拉取双方会话窗口
// 为了高效拿“最近 limit 条”，先按 created_at 倒序取，再在内存反转为升序输出。
func (r *messageRepo) GetConversation(ctx context.Context, userID, partnerID int64, limit int) ([]*model.Message, error) {
	if userID <= 0 || partnerID <= 0 {
		return nil, fmt.Errorf("user_id and partner_id must be positive")
	}
	if limit <= 0 {
		limit = 50 // 默认拉取50条
	}
	if limit > 500 {
		limit = 500 // 最大拉取500条
	}

	var messages []*model.Message
	gormDB := r.db.DB(ctx)
	if err := gormDB.
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userID, partnerID, partnerID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		r.logger.Error("拉取会话消息失败",
			clog.Int64("user_id", userID),
			clog.Int64("partner_id", partnerID),
			clog.Int("limit", limit),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// MarkConversationRead 将 sender -> receiver 方向的全部消息置为已读
func (r *messageRepo) MarkConversationRead(ctx context.Context, senderID, receiverID int64) (int64, error) {
	if senderID <= 0 || receiverID <= 0 {
		return 0, fmt.Errorf("sender_id and receiver_id must be positive")
	}

	gormDB := r.db.DB(ctx)
	result := gormDB.Model(&model.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", senderID, receiverID, false).
		Update("is_read", true)
	if result.Error != nil {
		r.logger.Error("会话已读回执更新失败",
			clog.Int64("sender_id", senderID),
			clog.Int64("receiver_id", receiverID),
			clog.Error(result.Error))
		return 0, fmt.Errorf("failed to mark conversation read: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// MarkAllReceivedRead 将发给 receiver 的所有未读消息置为已读。
// 这是发送时触发的粗粒度“本人已活跃”回执，不限定会话对端。
func (r *messageRepo) MarkAllReceivedRead(ctx context.Context, receiverID int64) (int64, error) {
	if receiverID <= 0 {
		return 0, fmt.Errorf("receiver_id must be positive")
	}

	gormDB := r.db.DB(ctx)
	result := gormDB.Model(&model.Message{}).
		Where("receiver_id = ? AND is_read = ?", receiverID, false).
		Update("is_read", true)
	if result.Error != nil {
		r.logger.Error("批量已读回执更新失败",
			clog.Int64("receiver_id", receiverID),
			clog.Error(result.Error))
		return 0, fmt.Errorf("failed to mark received read: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// CountUnreadBySender 统计发给 receiver 的未读消息数，按发送者分组
func (r *messageRepo) CountUnreadBySender(ctx context.Context, receiverID int64) (map[int64]int64, error) {
	if receiverID <= 0 {
		return nil, fmt.Errorf("receiver_id must be positive")
	}

	type unreadRow struct {
		SenderID int64
		Total    int64
	}

	var rows []unreadRow
	gormDB := r.db.DB(ctx)
	if err := gormDB.Model(&model.Message{}).
		Select("sender_id, COUNT(*) AS total").
		Where("receiver_id = ? AND is_read = ?", receiverID, false).
		Group("sender_id").
		Scan(&rows).Error; err != nil {
		r.logger.Error("统计未读消息失败",
			clog.Int64("receiver_id", receiverID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to count unread messages: %w", err)
	}

	counts := make(map[int64]int64, len(rows))
	for _, row := range rows {
		counts[row.SenderID] = row.Total
	}

	return counts, nil
}

// Close 释放资源
func (r *messageRepo) Close() error {
	// db 实例由外部管理，这里不需要关闭
	return nil
}
