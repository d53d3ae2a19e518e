package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sellerwatch/crawl-cloud/pkg/testhelper"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	container, err := testhelper.SetupPostgres(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Teardown(context.Background()) })

	db, err := container.Open()
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&CrawlTask{}))
	return db
}

func seedTask(t *testing.T, db *gorm.DB, id int64, status TaskStatus, age time.Duration) {
	t.Helper()
	now := time.Now().UTC()
	stamp := now.Add(-age)
	task := CrawlTask{
		ID:        id,
		SellerID:  id,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch status {
	case TaskPublished:
		task.PublishedAt = &stamp
	case TaskRunning:
		task.PublishedAt = &stamp
		task.ClaimedAt = &stamp
	}
	require.NoError(t, db.Create(&task).Error)
}

func TestPublisher_RequeueStale_ReturnsCrashedTasksToPending(t *testing.T) {
	db := setupDB(t)
	p := &Publisher{db: db, logger: zap.NewNop(), requeueAfter: 10 * time.Minute}
	ctx := context.Background()

	// Message lost between push and any consumer claim.
	seedTask(t, db, 1, TaskPublished, time.Hour)
	// Consumer died mid-fetch after claiming.
	seedTask(t, db, 2, TaskRunning, time.Hour)
	// Still being worked on; must not be disturbed.
	seedTask(t, db, 3, TaskRunning, time.Second)
	// Terminal; out of scope.
	seedTask(t, db, 4, TaskDone, time.Hour)

	require.NoError(t, p.requeueStale(ctx))

	var pending []CrawlTask
	require.NoError(t, db.Where("status = ?", TaskPending).Order("id asc").Find(&pending).Error)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(1), pending[0].ID)
	assert.Equal(t, int64(2), pending[1].ID)
	for _, task := range pending {
		assert.Nil(t, task.PublishedAt)
		assert.Nil(t, task.ClaimedAt)
	}

	var fresh CrawlTask
	require.NoError(t, db.First(&fresh, "id = ?", int64(3)).Error)
	assert.Equal(t, TaskRunning, fresh.Status)

	var done CrawlTask
	require.NoError(t, db.First(&done, "id = ?", int64(4)).Error)
	assert.Equal(t, TaskDone, done.Status)
}
