// Package repo 提供目录存储（Directory Store）的数据访问层：
// 用户、在线状态、消息三类仓储，全部以接口形式暴露，便于服务层注入与测试替身。
package repo

import (
	"context"
	"errors"

	"github.com/ceyewan/whisper/model"
)

// ErrUserNotFound 查询的用户不存在
var ErrUserNotFound = errors.New("user not found")

// UserRepo 用户仓储接口
type UserRepo interface {
	// CreateUser 创建用户
	CreateUser(ctx context.Context, user *model.User) error

	// GetUser 按 ID 获取用户，不存在时返回 ErrUserNotFound
	GetUser(ctx context.Context, userID int64) (*model.User, error)

	// GetActiveUser 按 ID 获取启用状态的用户，不存在或被禁用时返回 ErrUserNotFound
	GetActiveUser(ctx context.Context, userID int64) (*model.User, error)

	// GetUserByUsername 按用户名获取用户，不存在时返回 ErrUserNotFound
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)

	// SearchUsers 搜索用户：排除 excludeID 本人，search 非空时按用户名大小写不敏感子串过滤
	SearchUsers(ctx context.Context, excludeID int64, search string) ([]*model.User, error)

	// Close 释放资源
	Close() error
}

// PresenceRepo 在线状态仓储接口。数据库为权威存储，Redis 作为读缓存。
type PresenceRepo interface {
	// SetStatus get-or-create 状态记录并更新为指定状态
	SetStatus(ctx context.Context, userID int64, status int) (*model.UserStatus, error)

	// GetStatus 获取用户状态，无记录时返回 StatusOffline
	GetStatus(ctx context.Context, userID int64) (int, error)

	// GetStatuses 批量获取用户状态，无记录的用户填充 StatusOffline
	GetStatuses(ctx context.Context, userIDs []int64) (map[int64]int, error)

	// Close 释放资源
	Close() error
}

// MessageRepo 消息仓储接口
type MessageRepo interface {
	// CreateMessage 持久化一条消息
	CreateMessage(ctx context.Context, msg *model.Message) error

	// GetConversation 拉取双方会话窗口：两个方向的消息按 created_at 倒序取
	// limit 条，再反转为时间升序返回
	GetConversation(ctx context.Context, userID, partnerID int64, limit int) ([]*model.Message, error)

	// MarkConversationRead 将 sender -> receiver 方向的全部消息置为已读，返回影响行数
	MarkConversationRead(ctx context.Context, senderID, receiverID int64) (int64, error)

	// MarkAllReceivedRead 将发给 receiver 的所有未读消息置为已读，返回影响行数
	MarkAllReceivedRead(ctx context.Context, receiverID int64) (int64, error)

	// CountUnreadBySender 统计发给 receiver 的未读消息数，按发送者分组
	CountUnreadBySender(ctx context.Context, receiverID int64) (map[int64]int64, error)

	// Close 释放资源
	Close() error
}
