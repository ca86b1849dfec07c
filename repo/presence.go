package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/ceyewan/genesis/cache"
	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/connector"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/whisper/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 确保 presenceRepo 实现了 PresenceRepo 接口
var _ PresenceRepo = (*presenceRepo)(nil)

// 缓存项过期时间。状态记录以数据库为准，缓存仅加速联系人列表的批量读。
const presenceCacheTTL = time.Hour

// presenceRepo PresenceRepo 的实现：PostgreSQL 权威存储 + Redis 读缓存。
// Redis 不可用时自动退化为纯数据库读写。
type presenceRepo struct {
	db     db.DB
	cache  cache.Cache // 可为 nil，表示未启用缓存
	logger clog.Logger
}

// PresenceRepoOption 配置选项
type PresenceRepoOption func(*presenceRepoOptions)

type presenceRepoOptions struct {
	logger    clog.Logger
	redisConn connector.RedisConnector
}

// WithPresenceRepoLogger 设置日志记录器
func WithPresenceRepoLogger(logger clog.Logger) PresenceRepoOption {
	return func(o *presenceRepoOptions) {
		o.logger = logger
	}
}

// WithPresenceCache 启用 Redis 读缓存
func WithPresenceCache(redisConn connector.RedisConnector) PresenceRepoOption {
	return func(o *presenceRepoOptions) {
		o.redisConn = redisConn
	}
}

// NewPresenceRepo 创建 PresenceRepo 实例
func NewPresenceRepo(database db.DB, opts ...PresenceRepoOption) (PresenceRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}

	options := &presenceRepoOptions{}
	for _, opt := range opts {
		opt(options)
	}

	logger := options.logger
	if logger == nil {
		logger = clog.Discard()
	}

	var cacheInstance cache.Cache
	if options.redisConn != nil {
		var err error
		cacheInstance, err = cache.New(&cache.Config{
			Driver:     cache.DriverRedis,
			Prefix:     "whisper:presence:",
			Serializer: "json",
		}, cache.WithRedisConnector(options.redisConn), cache.WithLogger(options.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create cache instance: %w", err)
		}
	}

	return &presenceRepo{
		db:     database,
		cache:  cacheInstance,
		logger: logger.WithNamespace("presence_repo"),
	}, nil
}

// SetStatus get-or-create 状态记录并更新为指定状态，随后写穿缓存
func (r *presenceRepo) SetStatus(ctx context.Context, userID int64, status int) (*model.UserStatus, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("user_id must be positive")
	}
	if status < model.StatusOffline || status > model.StatusBusy {
		return nil, fmt.Errorf("invalid status value: %d", status)
	}

	record := &model.UserStatus{
		UserID:      userID,
		Status:      status,
		LastChanged: time.Now(),
	}

	// upsert：user_id 冲突时仅刷新 status 与 last_changed
	gormDB := r.db.DB(ctx)
	if err := gormDB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "last_changed"}),
	}).Create(record).Error; err != nil {
		r.logger.Error("更新在线状态失败",
			clog.Int64("user_id", userID),
			clog.Int("status", status),
			clog.Error(err))
		return nil, fmt.Errorf("failed to set status: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, r.buildStatusKey(userID), status, presenceCacheTTL); err != nil {
			// 缓存失败只降级，不影响权威写入
			r.logger.Warn("在线状态写入缓存失败",
				clog.Int64("user_id", userID),
				clog.Error(err))
		}
	}

	r.logger.Debug("更新在线状态成功",
		clog.Int64("user_id", userID),
		clog.Int("status", status))
	return record, nil
}

// GetStatus 获取用户状态，无记录时返回 StatusOffline
func (r *presenceRepo) GetStatus(ctx context.Context, userID int64) (int, error) {
	if userID <= 0 {
		return 0, fmt.Errorf("user_id must be positive")
	}

	if r.cache != nil {
		var status int
		if err := r.cache.Get(ctx, r.buildStatusKey(userID), &status); err == nil {
			return status, nil
		}
	}

	var record model.UserStatus
	gormDB := r.db.DB(ctx)
	if err := gormDB.Where("user_id = ?", userID).First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			// 从未变更过状态的用户视为离线
			return model.StatusOffline, nil
		}
		r.logger.Error("查询在线状态失败",
			clog.Int64("user_id", userID),
			clog.Error(err))
		return 0, fmt.Errorf("failed to get status: %w", err)
	}

	r.fillCache(ctx, userID, record.Status)
	return record.Status, nil
}

// GetStatuses 批量获取用户状态，无记录的用户填充 StatusOffline。
// 先走缓存，缓存未命中的部分合并为一次数据库查询并回填。
func (r *presenceRepo) GetStatuses(ctx context.Context, userIDs []int64) (map[int64]int, error) {
	statuses := make(map[int64]int, len(userIDs))
	if len(userIDs) == 0 {
		return statuses, nil
	}

	missed := make([]int64, 0, len(userIDs))
	for _, userID := range userIDs {
		if r.cache != nil {
			var status int
			if err := r.cache.Get(ctx, r.buildStatusKey(userID), &status); err == nil {
				statuses[userID] = status
				continue
			}
		}
		missed = append(missed, userID)
	}

	if len(missed) > 0 {
		var records []*model.UserStatus
		gormDB := r.db.DB(ctx)
		if err := gormDB.Where("user_id IN ?", missed).Find(&records).Error; err != nil {
			r.logger.Error("批量查询在线状态失败",
				clog.Int("count", len(missed)),
				clog.Error(err))
			return nil, fmt.Errorf("failed to get statuses: %w", err)
		}

		for _, record := range records {
			statuses[record.UserID] = record.Status
			r.fillCache(ctx, record.UserID, record.Status)
		}
		for _, userID := range missed {
			if _, ok := statuses[userID]; !ok {
				statuses[userID] = model.StatusOffline
			}
		}
	}

	return statuses, nil
}

// fillCache 回填缓存，失败仅记录日志
func (r *presenceRepo) fillCache(ctx context.Context, userID int64, status int) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, r.buildStatusKey(userID), status, presenceCacheTTL); err != nil {
		r.logger.Warn("在线状态回填缓存失败",
			clog.Int64("user_id", userID),
			clog.Error(err))
	}
}

// buildStatusKey 构建用户状态在 Redis 中的 key
func (r *presenceRepo) buildStatusKey(userID int64) string {
	return fmt.Sprintf("status:%d", userID)
}

// Close 关闭资源
func (r *presenceRepo) Close() error {
	if r.cache != nil {
		return r.cache.Close()
	}
	return nil
}
