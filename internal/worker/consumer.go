package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sellerwatch/crawl-cloud/internal/config"
	"github.com/sellerwatch/crawl-cloud/internal/dispatch"
	"github.com/sellerwatch/crawl-cloud/internal/monitoring"
)

// Fetcher retrieves one listing page. Satisfied by fetchgate.Gate.
type Fetcher interface {
	Fetch(ctx context.Context, target string) ([]byte, error)
}

// Consumer pops crawl tasks off the Redis queue and executes them through the
// fetch gate. A task is claimed by flipping its row PUBLISHED -> RUNNING, so
// a duplicate delivery (at-least-once queue) loses the flip and is dropped;
// a consumer crash mid-fetch leaves the row RUNNING for the requeue sweep.
type Consumer struct {
	db      *gorm.DB
	rdb     *redis.Client
	fetcher Fetcher
	logger  *zap.Logger

	queueKey    string
	popTimeout  time.Duration
	listingBase string
}

func NewConsumer(db *gorm.DB, rdb *redis.Client, fetcher Fetcher, cfg *config.Config, logger *zap.Logger) *Consumer {
	return &Consumer{
		db:          db,
		rdb:         rdb,
		fetcher:     fetcher,
		logger:      logger.Named("worker.consumer"),
		queueKey:    cfg.CrawlQueueKey,
		popTimeout:  5 * time.Second,
		listingBase: cfg.MarketplaceListingURL,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.processNext(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("crawl_task_processing_failed", zap.Error(err))
		}
	}
}

func (c *Consumer) processNext(ctx context.Context) error {
	vals, err := c.rdb.BRPop(ctx, c.popTimeout, c.queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Queue empty; normal state.
			return nil
		}
		return fmt.Errorf("pop crawl task: %w", err)
	}
	if len(vals) != 2 {
		return nil
	}

	var msg dispatch.QueueMessage
	if err := json.Unmarshal([]byte(vals[1]), &msg); err != nil {
		return fmt.Errorf("decode queue message: %w", err)
	}

	return c.execute(ctx, msg)
}

func (c *Consumer) execute(ctx context.Context, msg dispatch.QueueMessage) error {
	// Claim the task by flipping it RUNNING. A row that is no longer
	// PUBLISHED was already claimed or finished: duplicate delivery, drop it.
	now := time.Now().UTC()
	claim := c.db.WithContext(ctx).Model(&dispatch.CrawlTask{}).
		Where("id = ? AND status = ?", msg.TaskID, dispatch.TaskPublished).
		Updates(map[string]any{
			"status":     dispatch.TaskRunning,
			"claimed_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": now,
		})
	if claim.Error != nil {
		return claim.Error
	}
	if claim.RowsAffected == 0 {
		return nil
	}

	target := fmt.Sprintf("%s/%d", c.listingBase, msg.SellerID)
	start := time.Now()
	_, fetchErr := c.fetcher.Fetch(ctx, target)
	monitoring.CrawlFetchDuration.WithLabelValues(hostLabel(c.listingBase)).Observe(time.Since(start).Seconds())

	now = time.Now().UTC()
	updates := map[string]any{
		"finished_at": now,
		"updated_at":  now,
	}
	if fetchErr != nil {
		monitoring.CrawlFetchTotal.WithLabelValues("failure").Inc()
		updates["status"] = dispatch.TaskFailed
		updates["last_error"] = fetchErr.Error()
		c.logger.Warn("crawl_fetch_failed",
			zap.Int64("task_id", msg.TaskID),
			zap.Int64("seller_id", msg.SellerID),
			zap.Error(fetchErr),
		)
	} else {
		monitoring.CrawlFetchTotal.WithLabelValues("success").Inc()
		updates["status"] = dispatch.TaskDone
		updates["last_error"] = ""
	}

	return c.db.WithContext(ctx).Model(&dispatch.CrawlTask{}).
		Where("id = ? AND status = ?", msg.TaskID, dispatch.TaskRunning).
		Updates(updates).Error
}

// hostLabel keeps the metric cardinality bounded to the marketplace host.
func hostLabel(base string) string {
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	return parsed.Host
}
