// Package protocol 定义 WebSocket 命名事件协议：
// 入站帧为 {"event": "...", "data": {...}}，出站为同构的事件 + JSON 载荷。
package protocol

import (
	"encoding/json"
	"fmt"
)

// 入站事件名
const (
	EventSearchUsers    = "search_users"
	EventGetChatHistory = "get_chat_history"
	EventSendMessage    = "send_message"
)

// 出站事件名
const (
	EventUserStatus  = "user_status"
	EventUsers       = "users"
	EventChatHistory = "chat_history"
	EventMessages    = "messages"
	EventError       = "error"
)

// ClientFrame 客户端入站帧。data 延迟解析，由各 handler 按需解码。
type ClientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerFrame 服务端出站帧
type ServerFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// DecodeClientFrame 解析入站帧
func DecodeClientFrame(raw []byte) (*ClientFrame, error) {
	var frame ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("failed to decode client frame: %w", err)
	}
	if frame.Event == "" {
		return nil, fmt.Errorf("client frame missing event name")
	}
	return &frame, nil
}

// EncodeServerFrame 编码出站帧
func EncodeServerFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(&ServerFrame{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode server frame: %w", err)
	}
	return raw, nil
}

// FieldError 携带字段级错误码的协议错误。code 即出错的字段名，
// 客户端据此在表单/输入框旁渲染错误信息。
type FieldError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewFieldError 构造字段级错误
func NewFieldError(code, message string) *FieldError {
	return &FieldError{Code: code, Message: message}
}

// UserSummary 用户摘要。Status 仅在联系人列表中携带。
type UserSummary struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Status   *int   `json:"status,omitempty"`
}

// UserStatusPayload user_status 广播载荷
type UserStatusPayload struct {
	UserID int64 `json:"user_id"`
	Status int   `json:"status"`
}

// ContactEntry 联系人列表条目：用户摘要 + 该用户发来的未读消息数
type ContactEntry struct {
	User        UserSummary `json:"user"`
	TotalUnread int64       `json:"total_unread"`
}

// MessagePayload 单条消息的线上表示。时间戳为 Unix 秒。
// id 仅在历史记录中出现，实时投递的消息不携带。
type MessagePayload struct {
	ID           string `json:"id,omitempty"`
	SenderID     int64  `json:"sender_id"`
	ReceiverID   int64  `json:"receiver_id"`
	Content      string `json:"content"`
	CreatedAt    int64  `json:"created_at"`
	SenderName   string `json:"sender_name"`
	ReceiverName string `json:"receiver_name"`
	IsRead       bool   `json:"is_read"`
}

// ChatHistoryPayload chat_history 事件载荷。
// user 固定为发起拉取的一方，partner 为会话对端。
type ChatHistoryPayload struct {
	User     UserSummary       `json:"user"`
	Partner  UserSummary       `json:"partner"`
	Messages []*MessagePayload `json:"messages"`
}

// MessagesPayload messages 事件载荷，一次投递一条。
// user 固定为发送者，partner 为接收者。
type MessagesPayload struct {
	User    UserSummary     `json:"user"`
	Partner UserSummary     `json:"partner"`
	Message *MessagePayload `json:"message"`
}

// SearchUsersRequest search_users 事件入参
type SearchUsersRequest struct {
	Search string `json:"search"`
}

// GetChatHistoryRequest get_chat_history 事件入参
type GetChatHistoryRequest struct {
	PartnerID int64 `json:"partner_id"`
}

// SendMessageRequest send_message 事件入参
type SendMessageRequest struct {
	PartnerID int64  `json:"partner_id"`
	Content   string `json:"content"`
}

// DecodeSearchUsersRequest 解析 search_users 入参。
// search 字段可缺省（视为空串），但类型错误要以字段级错误回给客户端。
func DecodeSearchUsersRequest(data json.RawMessage) (*SearchUsersRequest, *FieldError) {
	var raw struct {
		Search json.RawMessage `json:"search"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, NewFieldError("search", "search must be a string")
		}
	}

	req := &SearchUsersRequest{}
	if len(raw.Search) > 0 && string(raw.Search) != "null" {
		if err := json.Unmarshal(raw.Search, &req.Search); err != nil {
			return nil, NewFieldError("search", "search must be a string")
		}
	}
	return req, nil
}

// DecodeGetChatHistoryRequest 解析 get_chat_history 入参
func DecodeGetChatHistoryRequest(data json.RawMessage) (*GetChatHistoryRequest, *FieldError) {
	var raw struct {
		PartnerID json.RawMessage `json:"partner_id"`
	}
	if len(data) == 0 {
		return nil, NewFieldError("partner_id", "partner_id must be an integer")
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewFieldError("partner_id", "partner_id must be an integer")
	}

	partnerID, fieldErr := decodePartnerID(raw.PartnerID)
	if fieldErr != nil {
		return nil, fieldErr
	}
	return &GetChatHistoryRequest{PartnerID: partnerID}, nil
}

// DecodeSendMessageRequest 解析 send_message 入参
func DecodeSendMessageRequest(data json.RawMessage) (*SendMessageRequest, *FieldError) {
	var raw struct {
		PartnerID json.RawMessage `json:"partner_id"`
		Content   json.RawMessage `json:"content"`
	}
	if len(data) == 0 {
		return nil, NewFieldError("partner_id", "partner_id must be an integer")
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewFieldError("partner_id", "partner_id must be an integer")
	}

	partnerID, fieldErr := decodePartnerID(raw.PartnerID)
	if fieldErr != nil {
		return nil, fieldErr
	}

	req := &SendMessageRequest{PartnerID: partnerID}
	if len(raw.Content) == 0 || string(raw.Content) == "null" {
		return nil, NewFieldError("content", "content must be a string")
	}
	if err := json.Unmarshal(raw.Content, &req.Content); err != nil {
		return nil, NewFieldError("content", "content must be a string")
	}
	return req, nil
}

// decodePartnerID 按整数解析 partner_id。
// 只接受 JSON 整数，数字字符串（"42"）同样按类型错误拒绝。
func decodePartnerID(raw json.RawMessage) (int64, *FieldError) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, NewFieldError("partner_id", "partner_id must be an integer")
	}

	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, NewFieldError("partner_id", "partner_id must be an integer")
	}
	return id, nil
}
