// Package session 维护进程内的连接会话登记表。
// 一个用户可以同时持有多条 WebSocket 连接（多端登录），
// 登记表提供 连接ID -> 会话 与 用户ID -> 连接集合 两个方向的查询。
package session

import (
	"sync"

	"github.com/ceyewan/genesis/clog"
)

// Session 一条已认证连接的会话记录
type Session struct {
	ConnID string
	UserID int64
	Token  string
}

// Registry 会话登记表。并发安全，所有操作均为幂等。
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session          // connID -> session
	byUser   map[int64]map[string]struct{} // userID -> connID 集合
	logger   clog.Logger
}

// RegistryOption 配置选项
type RegistryOption func(*registryOptions)

type registryOptions struct {
	logger clog.Logger
}

// WithRegistryLogger 设置日志记录器
func WithRegistryLogger(logger clog.Logger) RegistryOption {
	return func(o *registryOptions) {
		o.logger = logger
	}
}

// NewRegistry 创建会话登记表
func NewRegistry(opts ...RegistryOption) *Registry {
	options := &registryOptions{}
	for _, opt := range opts {
		opt(options)
	}

	logger := options.logger
	if logger == nil {
		logger = clog.Discard()
	}

	return &Registry{
		sessions: make(map[string]*Session),
		byUser:   make(map[int64]map[string]struct{}),
		logger:   logger.WithNamespace("session"),
	}
}

// Register 登记会话。重复登记同一 connID 会覆盖旧记录。
func (r *Registry) Register(sess *Session) {
	if sess == nil || sess.ConnID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[sess.ConnID]; ok && old.UserID != sess.UserID {
		r.removeFromUserLocked(old.UserID, sess.ConnID)
	}

	r.sessions[sess.ConnID] = sess
	conns, ok := r.byUser[sess.UserID]
	if !ok {
		conns = make(map[string]struct{})
		r.byUser[sess.UserID] = conns
	}
	conns[sess.ConnID] = struct{}{}

	r.logger.Debug("session registered",
		clog.String("conn_id", sess.ConnID),
		clog.Int64("user_id", sess.UserID),
		clog.Int("user_sessions", len(conns)))
}

// Unregister 注销会话，返回被移除的会话与该用户剩余的连接数。
// connID 未登记时返回 (nil, 0)。
func (r *Registry) Unregister(connID string) (*Session, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[connID]
	if !ok {
		return nil, 0
	}
	delete(r.sessions, connID)
	remaining := r.removeFromUserLocked(sess.UserID, connID)

	r.logger.Debug("session unregistered",
		clog.String("conn_id", connID),
		clog.Int64("user_id", sess.UserID),
		clog.Int("remaining", remaining))
	return sess, remaining
}

// removeFromUserLocked 从用户索引中移除连接，返回剩余连接数。调用方需持有写锁。
func (r *Registry) removeFromUserLocked(userID int64, connID string) int {
	conns, ok := r.byUser[userID]
	if !ok {
		return 0
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, userID)
		return 0
	}
	return len(conns)
}

// Get 按连接 ID 获取会话
func (r *Registry) Get(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[connID]
	return sess, ok
}

// TokenFor 返回连接登记时携带的令牌，用于入站事件的会话级鉴权
func (r *Registry) TokenFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sess, ok := r.sessions[connID]; ok {
		return sess.Token, true
	}
	return "", false
}

// SessionsFor 返回用户的全部连接 ID，供多端扇出使用
func (r *Registry) SessionsFor(userID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(conns))
	for connID := range conns {
		ids = append(ids, connID)
	}
	return ids
}

// IsOnline 用户是否至少持有一条连接
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Len 当前登记的连接总数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
