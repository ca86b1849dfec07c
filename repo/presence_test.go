package repo

import (
	"context"
	"testing"

	"github.com/ceyewan/whisper/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceRepo_SetStatus(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	repo, err := NewPresenceRepo(database, WithPresenceRepoLogger(getTestLogger(t)))
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()

	t.Run("首次设置惰性创建记录", func(t *testing.T) {
		record, err := repo.SetStatus(ctx, 1, model.StatusOnline)
		require.NoError(t, err)
		assert.Equal(t, int64(1), record.UserID)
		assert.Equal(t, model.StatusOnline, record.Status)

		status, err := repo.GetStatus(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, model.StatusOnline, status)
	})

	t.Run("再次设置更新已有记录", func(t *testing.T) {
		_, err := repo.SetStatus(ctx, 2, model.StatusOnline)
		require.NoError(t, err)
		_, err = repo.SetStatus(ctx, 2, model.StatusAway)
		require.NoError(t, err)

		status, err := repo.GetStatus(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, model.StatusAway, status)

		// 记录仍然是 1:1，不会产生重复行
		var count int64
		gormDB := database.DB(ctx)
		require.NoError(t, gormDB.Model(&model.UserStatus{}).
			Where("user_id = ?", 2).
			Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("非法状态值应失败", func(t *testing.T) {
		_, err := repo.SetStatus(ctx, 3, 42)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid status value")
	})

	t.Run("非法用户ID应失败", func(t *testing.T) {
		_, err := repo.SetStatus(ctx, 0, model.StatusOnline)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "user_id must be positive")
	})
}

func TestPresenceRepo_GetStatus(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	repo, err := NewPresenceRepo(database, WithPresenceRepoLogger(getTestLogger(t)))
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()

	t.Run("无记录的用户视为离线", func(t *testing.T) {
		status, err := repo.GetStatus(ctx, 777)
		require.NoError(t, err)
		assert.Equal(t, model.StatusOffline, status)
	})

	t.Run("读取已设置的状态", func(t *testing.T) {
		_, err := repo.SetStatus(ctx, 10, model.StatusBusy)
		require.NoError(t, err)

		status, err := repo.GetStatus(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, model.StatusBusy, status)
	})
}

func TestPresenceRepo_GetStatuses(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	repo, err := NewPresenceRepo(database, WithPresenceRepoLogger(getTestLogger(t)))
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()

	_, err = repo.SetStatus(ctx, 1, model.StatusOnline)
	require.NoError(t, err)
	_, err = repo.SetStatus(ctx, 2, model.StatusAway)
	require.NoError(t, err)

	t.Run("批量读取并填充离线默认值", func(t *testing.T) {
		statuses, err := repo.GetStatuses(ctx, []int64{1, 2, 3})
		require.NoError(t, err)
		assert.Equal(t, model.StatusOnline, statuses[1])
		assert.Equal(t, model.StatusAway, statuses[2])
		assert.Equal(t, model.StatusOffline, statuses[3])
	})

	t.Run("空ID列表返回空map", func(t *testing.T) {
		statuses, err := repo.GetStatuses(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, statuses)
	})
}

func TestPresenceRepo_WithCache(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	redisConn := getTestRedis(t)
	defer cleanupRedisData(t, redisConn)

	repo, err := NewPresenceRepo(database,
		WithPresenceRepoLogger(getTestLogger(t)),
		WithPresenceCache(redisConn))
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()

	t.Run("写穿后命中缓存", func(t *testing.T) {
		_, err := repo.SetStatus(ctx, 100, model.StatusOnline)
		require.NoError(t, err)

		status, err := repo.GetStatus(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, model.StatusOnline, status)

		// 直接改数据库绕过缓存，读取应仍命中缓存值
		gormDB := database.DB(ctx)
		require.NoError(t, gormDB.Model(&model.UserStatus{}).
			Where("user_id = ?", 100).
			Update("status", model.StatusBusy).Error)

		status, err = repo.GetStatus(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, model.StatusOnline, status)
	})

	t.Run("缓存未命中回源数据库并回填", func(t *testing.T) {
		// 直接写数据库，模拟缓存缺失
		gormDB := database.DB(ctx)
		require.NoError(t, gormDB.Create(&model.UserStatus{
			UserID: 101,
			Status: model.StatusAway,
		}).Error)

		status, err := repo.GetStatus(ctx, 101)
		require.NoError(t, err)
		assert.Equal(t, model.StatusAway, status)
	})

	t.Run("批量读取混合缓存命中与回源", func(t *testing.T) {
		_, err := repo.SetStatus(ctx, 102, model.StatusOnline)
		require.NoError(t, err)

		statuses, err := repo.GetStatuses(ctx, []int64{101, 102, 103})
		require.NoError(t, err)
		assert.Equal(t, model.StatusAway, statuses[101])
		assert.Equal(t, model.StatusOnline, statuses[102])
		assert.Equal(t, model.StatusOffline, statuses[103])
	})
}
