package repo

import (
	"context"
	"fmt"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/whisper/model"
	"gorm.io/gorm"
)

// UserRepoOption 配置 UserRepo 的选项
type UserRepoOption func(*userRepoOptions)

type userRepoOptions struct {
	logger clog.Logger
}

// WithUserRepoLogger 设置日志记录器
func WithUserRepoLogger(logger clog.Logger) UserRepoOption {
	return func(o *userRepoOptions) {
		o.logger = logger
	}
}

// userRepo 实现 UserRepo 接口
type userRepo struct {
	db     db.DB
	logger clog.Logger
}

// NewUserRepo 创建 UserRepo 实例
func NewUserRepo(database db.DB, opts ...UserRepoOption) (UserRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}

	options := &userRepoOptions{}
	for _, opt := range opts {
		opt(options)
	}

	logger := options.logger
	if logger == nil {
		logger = clog.Discard()
	}

	return &userRepo{
		db:     database,
		logger: logger.WithNamespace("user_repo"),
	}, nil
}

// CreateUser 创建用户
func (r *userRepo) CreateUser(ctx context.Context, user *model.User) error {
	if user == nil {
		return fmt.Errorf("user cannot be nil")
	}
	if user.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	gormDB := r.db.DB(ctx)
	if err := gormDB.Create(user).Error; err != nil {
		r.logger.Error("创建用户失败",
			clog.String("username", user.Username),
			clog.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	r.logger.Info("创建用户成功",
		clog.Int64("user_id", user.ID),
		clog.String("username", user.Username))
	return nil
}

// GetUser 按 ID 获取用户
func (r *userRepo) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("user_id must be positive")
	}

	var user model.User
	gormDB := r.db.DB(ctx)
	if err := gormDB.Where("id = ?", userID).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
		}
		r.logger.Error("获取用户失败",
			clog.Int64("user_id", userID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// GetActiveUser 按 ID 获取启用状态的用户。认证网关依赖该查询拒绝被禁用的账号。
func (r *userRepo) GetActiveUser(ctx context.Context, userID int64) (*model.User, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("user_id must be positive")
	}

	var user model.User
	gormDB := r.db.DB(ctx)
	if err := gormDB.Where("id = ? AND is_active = ?", userID, true).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("active user %d: %w", userID, ErrUserNotFound)
		}
		r.logger.Error("获取用户失败",
			clog.Int64("user_id", userID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get active user: %w", err)
	}

	return &user, nil
}

// GetUserByUsername 按用户名获取用户
func (r *userRepo) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}

	var user model.User
	gormDB := r.db.DB(ctx)
	if err := gormDB.Where("username = ?", username).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("user %s: %w", username, ErrUserNotFound)
		}
		r.logger.Error("获取用户失败",
			clog.String("username", username),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}

	return &user, nil
}

// SearchUsers 搜索用户（排除本人，可选用户名子串过滤）
func (r *userRepo) SearchUsers(ctx context.Context, excludeID int64, search string) ([]*model.User, error) {
	gormDB := r.db.DB(ctx)

	query := gormDB.Where("id != ?", excludeID)
	if search != "" {
		// Postgres ILIKE 实现大小写不敏感子串匹配
		query = query.Where("username ILIKE ?", "%"+search+"%")
	}

	var users []*model.User
	if err := query.Find(&users).Error; err != nil {
		r.logger.Error("搜索用户失败",
			clog.Int64("exclude_id", excludeID),
			clog.String("search", search),
			clog.Error(err))
		return nil, fmt.Errorf("failed to search users: %w", err)
	}

	return users, nil
}

// Close 释放资源
func (r *userRepo) Close() error {
	// db 实例由外部管理，这里不需要关闭
	return nil
}
