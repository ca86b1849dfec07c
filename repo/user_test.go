package repo

import (
	"context"
	"fmt"
	"testing"

	"github.com/ceyewan/whisper/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mustCreateUser 插入测试用户并返回其 ID
func mustCreateUser(t *testing.T, repo UserRepo, username string) *model.User {
	t.Helper()
	user := &model.User{
		Username: username,
		Email:    fmt.Sprintf("%s@example.com", username),
		Password: "hashed-password",
		IsActive: true,
	}
	require.NoError(t, repo.CreateUser(context.Background(), user))
	require.NotZero(t, user.ID)
	return user
}

func TestUserRepo_CreateUser(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	repo, err := NewUserRepo(database, WithUserRepoLogger(getTestLogger(t)))
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()

	t.Run("创建正常用户", func(t *testing.T) {
		user := mustCreateUser(t, repo, "alice")

		got, err := repo.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Username)
		assert.True(t, got.IsActive)
	})

	t.Run("重复用户名应失败", func(t *testing.T) {
		mustCreateUser(t, repo, "dup_user")

		err := repo.CreateUser(ctx, &model.User{
			Username: "dup_user",
			Password: "hashed-password",
			IsActive: true,
		})
		assert.Error(t, err)
	})

	t.Run("空用户名应失败", func(t *testing.T) {
		err := repo.CreateUser(ctx, &model.User{Password: "x"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "username cannot be empty")
	})

	t.Run("nil用户应失败", func(t *testing.T) {
		err := repo.CreateUser(ctx, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "user cannot be nil")
	})
}

func TestUserRepo_GetUser(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	repo, err := NewUserRepo(database, WithUserRepoLogger(getTestLogger(t)))
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()

	t.Run("按ID获取用户", func(t *testing.T) {
		user := mustCreateUser(t, repo, "bob")

		got, err := repo.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.Equal(t, "bob", got.Username)
	})

	t.Run("不存在的用户返回ErrUserNotFound", func(t *testing.T) {
		_, err := repo.GetUser(ctx, 99999)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("非法ID应返回错误", func(t *testing.T) {
		_, err := repo.GetUser(ctx, 0)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "user_id must be positive")
	})
}

func TestUserRepo_GetActiveUser(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	repo, err := NewUserRepo(database, WithUserRepoLogger(getTestLogger(t)))
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()

	t.Run("启用用户可获取", func(t *testing.T) {
		user := mustCreateUser(t, repo, "active_user")

		got, err := repo.GetActiveUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("禁用用户返回ErrUserNotFound", func(t *testing.T) {
		user := mustCreateUser(t, repo, "inactive_user")

		gormDB := database.DB(ctx)
		require.NoError(t, gormDB.Model(&model.User{}).
			Where("id = ?", user.ID).
			Update("is_active", false).Error)

		_, err := repo.GetActiveUser(ctx, user.ID)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestUserRepo_GetUserByUsername(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	repo, err := NewUserRepo(database, WithUserRepoLogger(getTestLogger(t)))
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()

	t.Run("按用户名获取用户", func(t *testing.T) {
		user := mustCreateUser(t, repo, "carol")

		got, err := repo.GetUserByUsername(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("不存在的用户名返回ErrUserNotFound", func(t *testing.T) {
		_, err := repo.GetUserByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("空用户名应返回错误", func(t *testing.T) {
		_, err := repo.GetUserByUsername(ctx, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "username cannot be empty")
	})
}

func TestUserRepo_SearchUsers(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	repo, err := NewUserRepo(database, WithUserRepoLogger(getTestLogger(t)))
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()

	me := mustCreateUser(t, repo, "search_me")
	mustCreateUser(t, repo, "Search_Alice")
	mustCreateUser(t, repo, "search_bob")
	mustCreateUser(t, repo, "other_user")

	t.Run("空过滤词返回除本人外的所有用户", func(t *testing.T) {
		users, err := repo.SearchUsers(ctx, me.ID, "")
		require.NoError(t, err)
		assert.Len(t, users, 3)
		for _, u := range users {
			assert.NotEqual(t, me.ID, u.ID)
		}
	})

	t.Run("过滤词大小写不敏感子串匹配", func(t *testing.T) {
		users, err := repo.SearchUsers(ctx, me.ID, "search_")
		require.NoError(t, err)
		assert.Len(t, users, 2)
	})

	t.Run("无匹配返回空列表", func(t *testing.T) {
		users, err := repo.SearchUsers(ctx, me.ID, "zzzzz")
		require.NoError(t, err)
		assert.Empty(t, users)
	})
}

func TestUserRepo_Options(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	t.Run("不提供logger应使用默认值", func(t *testing.T) {
		repo, err := NewUserRepo(database)
		require.NoError(t, err)
		assert.NotNil(t, repo)
		repo.Close()
	})

	t.Run("database为nil应返回错误", func(t *testing.T) {
		_, err := NewUserRepo(nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "database cannot be nil")
	})
}
