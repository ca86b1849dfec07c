package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/whisper/chat/protocol"
	"github.com/ceyewan/whisper/model"
	"github.com/ceyewan/whisper/repo"
)

// DirectoryService 联系人目录：搜索用户并装配在线状态与未读数
type DirectoryService struct {
	users    repo.UserRepo
	presence repo.PresenceRepo
	messages repo.MessageRepo
	logger   clog.Logger
}

// NewDirectoryService 创建 DirectoryService
func NewDirectoryService(users repo.UserRepo, presence repo.PresenceRepo, messages repo.MessageRepo, logger clog.Logger) (*DirectoryService, error) {
	if users == nil || presence == nil || messages == nil {
		return nil, fmt.Errorf("user repo, presence repo and message repo cannot be nil")
	}
	if logger == nil {
		logger = clog.Discard()
	}

	return &DirectoryService{
		users:    users,
		presence: presence,
		messages: messages,
		logger:   logger.WithNamespace("directory"),
	}, nil
}

// Search 搜索联系人。结果排除本人，携带在线状态与来自该联系人的未读数，
// 在线的排前面，离线其次，离开/忙碌最后，同组内按用户名升序。
func (s *DirectoryService) Search(ctx context.Context, userID int64, search string) ([]*protocol.ContactEntry, error) {
	users, err := s.users.SearchUsers(ctx, userID, search)
	if err != nil {
		return nil, err
	}

	userIDs := make([]int64, 0, len(users))
	for _, u := range users {
		userIDs = append(userIDs, u.ID)
	}

	statuses, err := s.presence.GetStatuses(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	unread, err := s.messages.CountUnreadBySender(ctx, userID)
	if err != nil {
		return nil, err
	}

	entries := make([]*protocol.ContactEntry, 0, len(users))
	for _, u := range users {
		status := statuses[u.ID]
		st := status
		entries = append(entries, &protocol.ContactEntry{
			User: protocol.UserSummary{
				ID:       u.ID,
				Username: u.Username,
				Status:   &st,
			},
			TotalUnread: unread[u.ID],
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ki := model.StatusSortKey(*entries[i].User.Status)
		kj := model.StatusSortKey(*entries[j].User.Status)
		if ki != kj {
			return ki < kj
		}
		return entries[i].User.Username < entries[j].User.Username
	})

	s.logger.DebugContext(ctx, "directory search",
		clog.Int64("user_id", userID),
		clog.String("search", search),
		clog.Int("results", len(entries)))
	return entries, nil
}
