package model

import (
	"time"
)

// ============================================================================
// 持久化模型（PostgreSQL）
// 以下结构体的 GORM tag 是数据库表结构的唯一真相来源 (Single Source of Truth)。
// 表结构通过 `go run main.go -module init` 调用 GORM AutoMigrate 自动创建/更新。
//
// 索引总览：
//
//	表             索引名                    列                                类型     用途
//	────────────── ──────────────────────── ────────────────────────────────── ──────── ─────────────────────────────
//	t_user         PK                       id                                主键     按用户 ID 精确查询
//	t_user         uniq_username            username                          唯一     登录 / 按用户名搜索
//	t_user_status  PK                       id                                主键     —
//	t_user_status  uniq_status_user         user_id                           唯一     1:1 在线状态记录
//	t_chat_group   PK                       id                                主键     —
//	t_group_member PK                       (group_id, user_id)               复合主键 群成员资格判断
//	t_message      PK                       id (UUID)                         主键     按消息 ID 精确查询
//	t_message      idx_sender_receiver_read (sender_id, receiver_id, is_read) 复合     会话窗口查询 / 未读数统计
//	t_message      idx_receiver_read        (receiver_id, is_read)            复合     批量已读回执更新
//
// ============================================================================

// 在线状态枚举。数值即广播给客户端的 status 字段，也是排序的输入。
const (
	StatusOffline = 0
	StatusOnline  = 1
	StatusAway    = 2
	StatusBusy    = 3
)

// StatusSortKey 返回联系人列表的排序键：在线优先，离线其次，离开/忙碌最后。
// 仅用于排序，不构成状态机约束。
func StatusSortKey(status int) int {
	switch status {
	case StatusOnline:
		return 0
	case StatusOffline:
		return 1
	default:
		return 2
	}
}

// 消息类型枚举。核心只会产生 TEXT，其余为预留值。
const (
	MessageTypeText  = 1
	MessageTypeImage = 2
	MessageTypeFile  = 3
	MessageTypeAudio = 4
	MessageTypeVideo = 5
)

// User 用户表
// 索引：PK(id) + uniq_username(username)
type User struct {
	ID        int64  `gorm:"primaryKey;column:id;autoIncrement"`
	Username  string `gorm:"column:username;type:varchar(150);not null;uniqueIndex:uniq_username"`
	Email     string `gorm:"column:email;type:varchar(254)"`
	Password  string `gorm:"column:password;type:varchar(128);not null"`
	IsActive  bool   `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserStatus 在线状态表（与用户 1:1，首次状态变更时惰性创建）
// 索引：PK(id) + uniq_status_user(user_id)
type UserStatus struct {
	ID          int64     `gorm:"primaryKey;column:id;autoIncrement"`
	UserID      int64     `gorm:"column:user_id;not null;uniqueIndex:uniq_status_user"`
	Status      int       `gorm:"column:status;type:smallint;not null;default:0"`
	LastChanged time.Time `gorm:"column:last_changed;autoUpdateTime"`
}

// ChatGroup 群聊表。仅存在 schema，核心不实现群消息投递。
type ChatGroup struct {
	ID        int64  `gorm:"primaryKey;column:id;autoIncrement"`
	Name      string `gorm:"column:name;type:varchar(255);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GroupMember 群成员表
// 索引：PK(group_id, user_id)
type GroupMember struct {
	GroupID   int64 `gorm:"primaryKey;column:group_id;not null"`
	UserID    int64 `gorm:"primaryKey;column:user_id;not null"`
	CreatedAt time.Time
}

// Message 消息表
// 索引：PK(id) + idx_sender_receiver_read + idx_receiver_read
//   - receiver_id 与 group_id 互斥（XOR），核心只会写 receiver_id
//   - idx_sender_receiver_read：会话窗口查询
//     典型查询: WHERE (sender_id=? AND receiver_id=?) OR (sender_id=? AND receiver_id=?)
//     ORDER BY created_at DESC LIMIT ?
//   - idx_receiver_read：批量已读回执
//     典型更新: WHERE receiver_id=? AND is_read=false SET is_read=true
type Message struct {
	ID          string `gorm:"primaryKey;column:id;type:varchar(36)"`
	SenderID    int64  `gorm:"column:sender_id;not null;index:idx_sender_receiver_read,priority:1"`
	ReceiverID  *int64 `gorm:"column:receiver_id;index:idx_sender_receiver_read,priority:2;index:idx_receiver_read,priority:1"`
	GroupID     *int64 `gorm:"column:group_id"`
	Content     string `gorm:"column:content;type:text"`
	MessageType int    `gorm:"column:message_type;type:smallint;not null;default:1"`
	IsRead      bool   `gorm:"column:is_read;not null;default:false;index:idx_sender_receiver_read,priority:3;index:idx_receiver_read,priority:2"`
	IsDeleted   bool   `gorm:"column:is_deleted;not null;default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ============================================================================
// 表名映射
// ============================================================================

func (User) TableName() string        { return "t_user" }
func (UserStatus) TableName() string  { return "t_user_status" }
func (ChatGroup) TableName() string   { return "t_chat_group" }
func (GroupMember) TableName() string { return "t_group_member" }
func (Message) TableName() string     { return "t_message" }

// AllModels 返回所有需要 AutoMigrate 的模型列表
func AllModels() []any {
	return []any{
		&User{},
		&UserStatus{},
		&ChatGroup{},
		&GroupMember{},
		&Message{},
	}
}
