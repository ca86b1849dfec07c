// Package connection 管理 WebSocket 连接的生命周期与出站投递。
// 连接以连接 ID 为主键，房间是连接 ID 的集合；presence 广播
// 投递到 active 房间，定向事件按连接 ID 列表扇出。
package connection

import (
	"fmt"
	"sync"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/whisper/chat/protocol"
)

// RoomActive 所有完成握手的连接都会加入的房间，presence 广播的目标
const RoomActive = "active"

// Manager 管理所有 WebSocket 连接
type Manager struct {
	connections sync.Map // connID -> *Conn
	logger      clog.Logger

	roomMu sync.RWMutex
	rooms  map[string]map[string]struct{} // room -> connID 集合
}

// NewManager 创建连接管理器
func NewManager(logger clog.Logger) *Manager {
	if logger == nil {
		logger = clog.Discard()
	}
	return &Manager{
		logger: logger.WithNamespace("connection"),
		rooms:  make(map[string]map[string]struct{}),
	}
}

// AddConnection 添加连接
func (m *Manager) AddConnection(conn *Conn) {
	m.connections.Store(conn.ConnID(), conn)
	m.logger.Info("connection added",
		clog.String("conn_id", conn.ConnID()),
		clog.Int64("user_id", conn.UserID()),
		clog.String("remote_addr", conn.RemoteAddr()))
}

// RemoveConnection 移除连接并退出所有房间
func (m *Manager) RemoveConnection(connID string) {
	if conn, ok := m.connections.LoadAndDelete(connID); ok {
		m.leaveAllRooms(connID)
		conn.(*Conn).Close()
		m.logger.Info("connection removed", clog.String("conn_id", connID))
	}
}

// GetConnection 获取连接
func (m *Manager) GetConnection(connID string) (*Conn, bool) {
	if conn, ok := m.connections.Load(connID); ok {
		return conn.(*Conn), true
	}
	return nil, false
}

// JoinRoom 将连接加入房间
func (m *Manager) JoinRoom(room, connID string) {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	members, ok := m.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		m.rooms[room] = members
	}
	members[connID] = struct{}{}
}

// LeaveRoom 将连接移出房间，幂等
func (m *Manager) LeaveRoom(room, connID string) {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	if members, ok := m.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(m.rooms, room)
		}
	}
}

// leaveAllRooms 将连接从所有房间移除
func (m *Manager) leaveAllRooms(connID string) {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	for room, members := range m.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(m.rooms, room)
		}
	}
}

// RoomSize 房间当前成员数
func (m *Manager) RoomSize(room string) int {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()
	return len(m.rooms[room])
}

// Emit 向指定连接发送一个命名事件
func (m *Manager) Emit(connID, event string, data any) error {
	conn, ok := m.GetConnection(connID)
	if !ok {
		return fmt.Errorf("connection not found: %s", connID)
	}

	raw, err := protocol.EncodeServerFrame(event, data)
	if err != nil {
		return err
	}
	return conn.Send(raw)
}

// EmitToConns 向一组连接扇出同一事件。单条连接投递失败只记录日志。
func (m *Manager) EmitToConns(connIDs []string, event string, data any) {
	if len(connIDs) == 0 {
		return
	}

	raw, err := protocol.EncodeServerFrame(event, data)
	if err != nil {
		m.logger.Error("failed to encode frame",
			clog.String("event", event),
			clog.Error(err))
		return
	}

	for _, connID := range connIDs {
		conn, ok := m.GetConnection(connID)
		if !ok {
			continue
		}
		if err := conn.Send(raw); err != nil {
			m.logger.Warn("failed to emit event",
				clog.String("conn_id", connID),
				clog.String("event", event),
				clog.Error(err))
		}
	}
}

// BroadcastRoom 向房间内所有连接广播事件
func (m *Manager) BroadcastRoom(room, event string, data any) {
	raw, err := protocol.EncodeServerFrame(event, data)
	if err != nil {
		m.logger.Error("failed to encode frame",
			clog.String("event", event),
			clog.Error(err))
		return
	}

	m.roomMu.RLock()
	connIDs := make([]string, 0, len(m.rooms[room]))
	for connID := range m.rooms[room] {
		connIDs = append(connIDs, connID)
	}
	m.roomMu.RUnlock()

	for _, connID := range connIDs {
		conn, ok := m.GetConnection(connID)
		if !ok {
			continue
		}
		if err := conn.Send(raw); err != nil {
			m.logger.Warn("failed to broadcast event",
				clog.String("conn_id", connID),
				clog.String("event", event),
				clog.Error(err))
		}
	}
}

// OnlineCount 当前连接总数
func (m *Manager) OnlineCount() int {
	count := 0
	m.connections.Range(func(key, value any) bool {
		count++
		return true
	})
	return count
}

// Close 关闭所有连接
func (m *Manager) Close() error {
	m.connections.Range(func(key, value any) bool {
		value.(*Conn).Close()
		return true
	})
	return nil
}
