package dispatch

import "time"

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskPublished TaskStatus = "published"
	TaskRunning   TaskStatus = "running"
	TaskDone      TaskStatus = "done"
	TaskFailed    TaskStatus = "failed"
)

// CrawlTask is a durable outbox entry for one crawl of one seller. Unlike the
// operations table it tracks a single status field: a consumer claims a row by
// flipping it PUBLISHED -> RUNNING, so at-least-once publication is enough,
// and rows stranded in PUBLISHED or RUNNING by a crash are returned to
// PENDING by the requeue sweep once their timestamp goes stale.
type CrawlTask struct {
	ID        int64      `gorm:"primaryKey"`
	SellerID  int64      `gorm:"not null;index"`
	Status    TaskStatus `gorm:"type:varchar(20);not null;index"`
	Attempts  int        `gorm:"not null;default:0"`
	LastError string     `gorm:"type:text"`

	PublishedAt *time.Time
	ClaimedAt   *time.Time
	FinishedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (CrawlTask) TableName() string {
	return "crawl_tasks"
}
