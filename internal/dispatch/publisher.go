package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sellerwatch/crawl-cloud/internal/config"
	"github.com/sellerwatch/crawl-cloud/internal/domain/schedule"
	"github.com/sellerwatch/crawl-cloud/internal/monitoring"
	"github.com/sellerwatch/crawl-cloud/pkg/snowflake"
)

// QueueMessage is the payload pushed onto the crawl queue.
type QueueMessage struct {
	TaskID   int64 `json:"task_id,string"`
	SellerID int64 `json:"seller_id,string"`
}

// Publisher materializes due schedules into crawl task rows and pushes
// pending tasks to the Redis work queue. Both steps tolerate replays: task
// creation is fenced by a conditional bump of next_run_at, and publication
// flips a single status field conditionally.
type Publisher struct {
	db        *gorm.DB
	schedules schedule.Repository
	rdb       *redis.Client
	idNode    *snowflake.Node
	logger    *zap.Logger

	queueKey     string
	pollInterval time.Duration
	batchSize    int
	requeueAfter time.Duration
}

func NewPublisher(
	db *gorm.DB,
	schedules schedule.Repository,
	rdb *redis.Client,
	idNode *snowflake.Node,
	cfg *config.Config,
	logger *zap.Logger,
) *Publisher {
	return &Publisher{
		db:           db,
		schedules:    schedules,
		rdb:          rdb,
		idNode:       idNode,
		logger:       logger.Named("dispatch.publisher"),
		queueKey:     cfg.CrawlQueueKey,
		pollInterval: cfg.DispatchInterval,
		batchSize:    cfg.DispatchBatchSize,
		requeueAfter: cfg.DispatchRequeueAfter,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if err := p.tick(ctx); err != nil {
		p.logger.Error("dispatch_initial_poll_failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				p.logger.Error("dispatch_poll_failed", zap.Error(err))
			}
		}
	}
}

func (p *Publisher) tick(ctx context.Context) error {
	if err := p.requeueStale(ctx); err != nil {
		return err
	}
	if err := p.enqueueDue(ctx); err != nil {
		return err
	}
	if err := p.publishPending(ctx); err != nil {
		return err
	}

	depth, err := p.rdb.LLen(ctx, p.queueKey).Result()
	if err == nil {
		monitoring.CrawlQueueDepth.Set(float64(depth))
	}
	return nil
}

// requeueStale returns crashed-over tasks to PENDING so they are published
// again. A PUBLISHED row going stale means its queue message was lost before
// any consumer claimed it; a stale RUNNING row means the claiming consumer
// died mid-fetch. The consumer claim dedupes the replay either way.
func (p *Publisher) requeueStale(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-p.requeueAfter)

	result := p.db.WithContext(ctx).Model(&CrawlTask{}).
		Where("(status = ? AND published_at < ?) OR (status = ? AND claimed_at < ?)",
			TaskPublished, cutoff, TaskRunning, cutoff).
		Updates(map[string]any{
			"status":       TaskPending,
			"published_at": nil,
			"claimed_at":   nil,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("requeue stale crawl tasks: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		p.logger.Warn("stale_crawl_tasks_requeued", zap.Int64("count", result.RowsAffected))
	}
	return nil
}

// enqueueDue creates one pending task per due schedule. The conditional bump
// of next_run_at is the dedup fence: the loser of a race skips the insert.
func (p *Publisher) enqueueDue(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := p.schedules.FindDue(ctx, now, p.batchSize)
	if err != nil {
		return fmt.Errorf("scan due schedules: %w", err)
	}

	for _, sched := range due {
		if sched.NextRunAt == nil {
			continue
		}
		interval, err := schedule.ParseCadence(sched.Cadence)
		if err != nil {
			p.logger.Warn("schedule_cadence_invalid",
				zap.Int64("seller_id", sched.SellerID),
				zap.String("cadence", sched.Cadence),
			)
			continue
		}

		next := sched.NextRunAt.Add(interval)
		if next.Before(now) {
			next = now.Add(interval)
		}

		claimed, err := p.schedules.BumpNextRun(ctx, sched.ID, *sched.NextRunAt, next)
		if err != nil {
			p.logger.Error("bump_next_run_failed", zap.Int64("seller_id", sched.SellerID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}

		task := CrawlTask{
			ID:        p.idNode.GenerateID(),
			SellerID:  sched.SellerID,
			Status:    TaskPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := p.db.WithContext(ctx).Create(&task).Error; err != nil {
			p.logger.Error("create_crawl_task_failed", zap.Int64("seller_id", sched.SellerID), zap.Error(err))
		}
	}
	return nil
}

// publishPending pushes pending tasks to the queue, then conditionally flips
// them to published. A crash between push and flip republishes the task; the
// consumer dedupes on task id.
func (p *Publisher) publishPending(ctx context.Context) error {
	var tasks []CrawlTask
	err := p.db.WithContext(ctx).
		Where("status = ?", TaskPending).
		Order("created_at asc").
		Limit(p.batchSize).
		Find(&tasks).Error
	if err != nil {
		return fmt.Errorf("scan pending crawl tasks: %w", err)
	}

	now := time.Now().UTC()
	for _, task := range tasks {
		payload, err := json.Marshal(QueueMessage{TaskID: task.ID, SellerID: task.SellerID})
		if err != nil {
			p.logger.Error("encode_queue_message_failed", zap.Int64("task_id", task.ID), zap.Error(err))
			continue
		}

		if err := p.rdb.LPush(ctx, p.queueKey, payload).Err(); err != nil {
			p.logger.Error("queue_push_failed", zap.Int64("task_id", task.ID), zap.Error(err))
			continue
		}

		result := p.db.WithContext(ctx).Model(&CrawlTask{}).
			Where("id = ? AND status = ?", task.ID, TaskPending).
			Updates(map[string]any{
				"status":       TaskPublished,
				"published_at": now,
				"updated_at":   now,
			})
		if result.Error != nil {
			p.logger.Error("mark_published_failed", zap.Int64("task_id", task.ID), zap.Error(result.Error))
			continue
		}
		if result.RowsAffected > 0 {
			monitoring.CrawlTasksPublished.Inc()
		}
	}
	return nil
}
