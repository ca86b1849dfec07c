package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/whisper/chat/connection"
	"github.com/ceyewan/whisper/chat/protocol"
	"github.com/ceyewan/whisper/model"
	"github.com/ceyewan/whisper/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ----------------------------------------------------------------------------
// 内存测试替身
// ----------------------------------------------------------------------------

type fakeUserRepo struct {
	users map[int64]*model.User
}

func newFakeUserRepo(users ...*model.User) *fakeUserRepo {
	f := &fakeUserRepo{users: make(map[int64]*model.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUserRepo) CreateUser(ctx context.Context, user *model.User) error {
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	if u, ok := f.users[userID]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %d: %w", userID, repo.ErrUserNotFound)
}

func (f *fakeUserRepo) GetActiveUser(ctx context.Context, userID int64) (*model.User, error) {
	if u, ok := f.users[userID]; ok && u.IsActive {
		return u, nil
	}
	return nil, fmt.Errorf("active user %d: %w", userID, repo.ErrUserNotFound)
}

func (f *fakeUserRepo) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", username, repo.ErrUserNotFound)
}

func (f *fakeUserRepo) SearchUsers(ctx context.Context, excludeID int64, search string) ([]*model.User, error) {
	var result []*model.User
	for _, u := range f.users {
		if u.ID != excludeID {
			result = append(result, u)
		}
	}
	return result, nil
}

func (f *fakeUserRepo) Close() error { return nil }

type fakePresenceRepo struct {
	mu       sync.Mutex
	statuses map[int64]int
}

func newFakePresenceRepo() *fakePresenceRepo {
	return &fakePresenceRepo{statuses: make(map[int64]int)}
}

func (f *fakePresenceRepo) SetStatus(ctx context.Context, userID int64, status int) (*model.UserStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[userID] = status
	return &model.UserStatus{UserID: userID, Status: status, LastChanged: time.Now()}, nil
}

func (f *fakePresenceRepo) GetStatus(ctx context.Context, userID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[userID], nil
}

func (f *fakePresenceRepo) GetStatuses(ctx context.Context, userIDs []int64) (map[int64]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]int, len(userIDs))
	for _, id := range userIDs {
		out[id] = f.statuses[id]
	}
	return out, nil
}

func (f *fakePresenceRepo) Close() error { return nil }

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages []*model.Message
}

func (f *fakeMessageRepo) CreateMessage(ctx context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *msg
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	f.messages = append(f.messages, &stored)
	return nil
}

func (f *fakeMessageRepo) GetConversation(ctx context.Context, userID, partnerID int64, limit int) ([]*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Message
	for _, m := range f.messages {
		if m.ReceiverID == nil {
			continue
		}
		if (m.SenderID == userID && *m.ReceiverID == partnerID) ||
			(m.SenderID == partnerID && *m.ReceiverID == userID) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessageRepo) MarkConversationRead(ctx context.Context, senderID, receiverID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var affected int64
	for _, m := range f.messages {
		if m.ReceiverID != nil && m.SenderID == senderID && *m.ReceiverID == receiverID && !m.IsRead {
			m.IsRead = true
			affected++
		}
	}
	return affected, nil
}

func (f *fakeMessageRepo) MarkAllReceivedRead(ctx context.Context, receiverID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var affected int64
	for _, m := range f.messages {
		if m.ReceiverID != nil && *m.ReceiverID == receiverID && !m.IsRead {
			m.IsRead = true
			affected++
		}
	}
	return affected, nil
}

func (f *fakeMessageRepo) CountUnreadBySender(ctx context.Context, receiverID int64) (map[int64]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[int64]int64)
	for _, m := range f.messages {
		if m.ReceiverID != nil && *m.ReceiverID == receiverID && !m.IsRead {
			counts[m.SenderID]++
		}
	}
	return counts, nil
}

func (f *fakeMessageRepo) Close() error { return nil }

// emittedEvent 记录一次出站投递
type emittedEvent struct {
	connIDs []string
	room    string
	event   string
	data    any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emittedEvent
}

func (f *fakeEmitter) EmitToConns(connIDs []string, event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emittedEvent{connIDs: connIDs, event: event, data: data})
}

func (f *fakeEmitter) BroadcastRoom(room, event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emittedEvent{room: room, event: event, data: data})
}

func (f *fakeEmitter) last() emittedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[len(f.events)-1]
}

type fakeSessions struct {
	conns map[int64][]string
}

func (f *fakeSessions) SessionsFor(userID int64) []string {
	return f.conns[userID]
}

// ----------------------------------------------------------------------------
// PresenceService
// ----------------------------------------------------------------------------

func TestPresenceService_SetStatus(t *testing.T) {
	users := newFakeUserRepo(&model.User{ID: 1, Username: "alice", IsActive: true})
	presence := newFakePresenceRepo()
	emitter := &fakeEmitter{}

	svc, err := NewPresenceService(presence, users, emitter, clog.Discard())
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("上线持久化并广播user_status", func(t *testing.T) {
		require.NoError(t, svc.MarkOnline(ctx, 1))

		status, err := presence.GetStatus(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, model.StatusOnline, status)

		ev := emitter.last()
		assert.Equal(t, connection.RoomActive, ev.room)
		assert.Equal(t, protocol.EventUserStatus, ev.event)

		payload := ev.data.(*protocol.UserStatusPayload)
		assert.Equal(t, int64(1), payload.UserID)
		assert.Equal(t, model.StatusOnline, payload.Status)
	})

	t.Run("下线广播离线状态", func(t *testing.T) {
		require.NoError(t, svc.MarkOffline(ctx, 1))

		payload := emitter.last().data.(*protocol.UserStatusPayload)
		assert.Equal(t, model.StatusOffline, payload.Status)
	})

	t.Run("不存在的用户返回错误且不广播", func(t *testing.T) {
		before := len(emitter.events)
		err := svc.SetStatus(ctx, 99, model.StatusOnline)
		assert.Error(t, err)
		assert.Len(t, emitter.events, before)
	})
}

// ----------------------------------------------------------------------------
// MessageService
// ----------------------------------------------------------------------------

func newMessageService(t *testing.T, users *fakeUserRepo, messages *fakeMessageRepo, sessions *fakeSessions, emitter *fakeEmitter) *MessageService {
	t.Helper()
	svc, err := NewMessageService(users, messages, sessions, emitter, clog.Discard())
	require.NoError(t, err)
	return svc
}

func TestMessageService_Send(t *testing.T) {
	users := newFakeUserRepo(
		&model.User{ID: 1, Username: "alice", IsActive: true},
		&model.User{ID: 2, Username: "bob", IsActive: true},
		&model.User{ID: 3, Username: "carol", IsActive: true},
	)

	t.Run("持久化并向双方所有连接扇出", func(t *testing.T) {
		messages := &fakeMessageRepo{}
		emitter := &fakeEmitter{}
		sessions := &fakeSessions{conns: map[int64][]string{
			1: {"a1", "a2"},
			2: {"b1"},
		}}
		svc := newMessageService(t, users, messages, sessions, emitter)

		err := svc.Send(context.Background(), 1, &protocol.SendMessageRequest{PartnerID: 2, Content: "hello"})
		require.NoError(t, err)

		require.Len(t, messages.messages, 1)
		stored := messages.messages[0]
		assert.NotEmpty(t, stored.ID)
		assert.Equal(t, int64(1), stored.SenderID)
		require.NotNil(t, stored.ReceiverID)
		assert.Equal(t, int64(2), *stored.ReceiverID)
		assert.Equal(t, model.MessageTypeText, stored.MessageType)

		ev := emitter.last()
		assert.Equal(t, protocol.EventMessages, ev.event)
		assert.ElementsMatch(t, []string{"a1", "a2", "b1"}, ev.connIDs)

		payload := ev.data.(*protocol.MessagesPayload)
		assert.Equal(t, "alice", payload.User.Username)
		assert.Equal(t, "bob", payload.Partner.Username)
		assert.Equal(t, "hello", payload.Message.Content)
		assert.Equal(t, "alice", payload.Message.SenderName)
		assert.Equal(t, "bob", payload.Message.ReceiverName)
		// 实时投递的消息不携带 id
		assert.Empty(t, payload.Message.ID)
	})

	t.Run("发送时标记本人全部未读为已读", func(t *testing.T) {
		messages := &fakeMessageRepo{}
		emitter := &fakeEmitter{}
		sessions := &fakeSessions{conns: map[int64][]string{}}
		svc := newMessageService(t, users, messages, sessions, emitter)

		ctx := context.Background()
		// bob 和 carol 各发给 alice 一条未读
		require.NoError(t, svc.Send(ctx, 2, &protocol.SendMessageRequest{PartnerID: 1, Content: "ping"}))
		require.NoError(t, svc.Send(ctx, 3, &protocol.SendMessageRequest{PartnerID: 1, Content: "hey"}))
		counts, err := messages.CountUnreadBySender(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[2])
		assert.Equal(t, int64(1), counts[3])

		// alice 回复 bob 后，发给 alice 的未读全部清零，
		// 不限于会话对端：carol 那条也被置为已读
		require.NoError(t, svc.Send(ctx, 1, &protocol.SendMessageRequest{PartnerID: 2, Content: "pong"}))
		counts, err = messages.CountUnreadBySender(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, counts)
	})

	t.Run("对端不存在返回字段错误", func(t *testing.T) {
		messages := &fakeMessageRepo{}
		emitter := &fakeEmitter{}
		sessions := &fakeSessions{conns: map[int64][]string{}}
		svc := newMessageService(t, users, messages, sessions, emitter)

		err := svc.Send(context.Background(), 1, &protocol.SendMessageRequest{PartnerID: 99, Content: "hi"})
		var fieldErr *protocol.FieldError
		require.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, "partner_id", fieldErr.Code)
		assert.Equal(t, "partner does not exist", fieldErr.Message)
		assert.Empty(t, messages.messages)
		assert.Empty(t, emitter.events)
	})

	t.Run("给自己发送只扇出一次", func(t *testing.T) {
		messages := &fakeMessageRepo{}
		emitter := &fakeEmitter{}
		sessions := &fakeSessions{conns: map[int64][]string{1: {"a1"}}}
		svc := newMessageService(t, users, messages, sessions, emitter)

		err := svc.Send(context.Background(), 1, &protocol.SendMessageRequest{PartnerID: 1, Content: "note to self"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a1"}, emitter.last().connIDs)
	})
}

func TestMessageService_History(t *testing.T) {
	users := newFakeUserRepo(
		&model.User{ID: 1, Username: "alice", IsActive: true},
		&model.User{ID: 2, Username: "bob", IsActive: true},
		&model.User{ID: 3, Username: "carol", IsActive: true},
	)

	messages := &fakeMessageRepo{}
	emitter := &fakeEmitter{}
	sessions := &fakeSessions{conns: map[int64][]string{}}
	svc := newMessageService(t, users, messages, sessions, emitter)

	ctx := context.Background()
	require.NoError(t, svc.Send(ctx, 2, &protocol.SendMessageRequest{PartnerID: 1, Content: "hi alice"}))
	require.NoError(t, svc.Send(ctx, 1, &protocol.SendMessageRequest{PartnerID: 2, Content: "hi bob"}))
	require.NoError(t, svc.Send(ctx, 3, &protocol.SendMessageRequest{PartnerID: 1, Content: "other thread"}))

	t.Run("返回会话窗口并标注双方用户", func(t *testing.T) {
		payload, err := svc.History(ctx, 1, &protocol.GetChatHistoryRequest{PartnerID: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(1), payload.User.ID)
		assert.Equal(t, "alice", payload.User.Username)
		assert.Equal(t, int64(2), payload.Partner.ID)
		assert.Equal(t, "bob", payload.Partner.Username)
		require.Len(t, payload.Messages, 2)
		assert.Equal(t, "bob", payload.Messages[0].SenderName)
		assert.Equal(t, "alice", payload.Messages[0].ReceiverName)
		assert.Equal(t, "alice", payload.Messages[1].SenderName)
		// 历史记录携带消息 id
		assert.NotEmpty(t, payload.Messages[0].ID)
	})

	t.Run("拉取历史将对端发来的消息置为已读", func(t *testing.T) {
		counts, err := messages.CountUnreadBySender(ctx, 1)
		require.NoError(t, err)
		assert.NotContains(t, counts, int64(2))
		// 其他会话不受影响
		assert.Equal(t, int64(1), counts[3])
	})

	t.Run("窗口保留拉取前的已读标记", func(t *testing.T) {
		fresh := &fakeMessageRepo{}
		freshSvc := newMessageService(t, users, fresh, sessions, emitter)

		require.NoError(t, freshSvc.Send(ctx, 2, &protocol.SendMessageRequest{PartnerID: 1, Content: "unseen"}))

		// 第一次拉取看到未读，置读发生在窗口装配之后
		payload, err := freshSvc.History(ctx, 1, &protocol.GetChatHistoryRequest{PartnerID: 2})
		require.NoError(t, err)
		require.Len(t, payload.Messages, 1)
		assert.False(t, payload.Messages[0].IsRead)

		payload, err = freshSvc.History(ctx, 1, &protocol.GetChatHistoryRequest{PartnerID: 2})
		require.NoError(t, err)
		assert.True(t, payload.Messages[0].IsRead)
	})

	t.Run("对端不存在返回字段错误", func(t *testing.T) {
		_, err := svc.History(ctx, 1, &protocol.GetChatHistoryRequest{PartnerID: 99})
		var fieldErr *protocol.FieldError
		require.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, "partner does not exist", fieldErr.Message)
	})
}

// ----------------------------------------------------------------------------
// DirectoryService
// ----------------------------------------------------------------------------

func TestDirectoryService_Search(t *testing.T) {
	users := newFakeUserRepo(
		&model.User{ID: 1, Username: "me", IsActive: true},
		&model.User{ID: 2, Username: "zoe", IsActive: true},
		&model.User{ID: 3, Username: "adam", IsActive: true},
		&model.User{ID: 4, Username: "bella", IsActive: true},
		&model.User{ID: 5, Username: "carl", IsActive: true},
	)
	presence := newFakePresenceRepo()
	messages := &fakeMessageRepo{}

	svc, err := NewDirectoryService(users, presence, messages, clog.Discard())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = presence.SetStatus(ctx, 2, model.StatusOnline)
	require.NoError(t, err)
	_, err = presence.SetStatus(ctx, 3, model.StatusAway)
	require.NoError(t, err)
	_, err = presence.SetStatus(ctx, 4, model.StatusOffline)
	require.NoError(t, err)
	// 5 没有状态记录，视为离线

	rid := int64(1)
	require.NoError(t, messages.CreateMessage(ctx, &model.Message{ID: "m1", SenderID: 3, ReceiverID: &rid, Content: "x"}))
	require.NoError(t, messages.CreateMessage(ctx, &model.Message{ID: "m2", SenderID: 3, ReceiverID: &rid, Content: "y"}))

	t.Run("排除本人且按状态与用户名排序", func(t *testing.T) {
		entries, err := svc.Search(ctx, 1, "")
		require.NoError(t, err)
		require.Len(t, entries, 4)

		// 在线(zoe) -> 离线(bella, carl 按用户名) -> 离开(adam)
		assert.Equal(t, "zoe", entries[0].User.Username)
		assert.Equal(t, "bella", entries[1].User.Username)
		assert.Equal(t, "carl", entries[2].User.Username)
		assert.Equal(t, "adam", entries[3].User.Username)
	})

	t.Run("携带未读数与状态", func(t *testing.T) {
		entries, err := svc.Search(ctx, 1, "")
		require.NoError(t, err)

		for _, e := range entries {
			switch e.User.Username {
			case "adam":
				assert.Equal(t, int64(2), e.TotalUnread)
				assert.Equal(t, model.StatusAway, *e.User.Status)
			case "zoe":
				assert.Zero(t, e.TotalUnread)
				assert.Equal(t, model.StatusOnline, *e.User.Status)
			case "carl":
				assert.Equal(t, model.StatusOffline, *e.User.Status)
			}
		}
	})
}
