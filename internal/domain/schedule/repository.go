package schedule

import (
	"context"
	"time"
)

// Repository defines the interface for persisting seller schedules.
type Repository interface {
	// FindBySellerID retrieves a schedule by seller. Returns (nil, nil) when
	// no schedule exists.
	FindBySellerID(ctx context.Context, sellerID int64) (*SellerSchedule, error)

	// Save persists a schedule (create or update).
	Save(ctx context.Context, s *SellerSchedule) error

	// FindDue returns active schedules whose next run is at or before now.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*SellerSchedule, error)

	// BumpNextRun advances next_run_at, conditional on the previous value so
	// two dispatchers racing over the same schedule enqueue one task.
	BumpNextRun(ctx context.Context, id int64, from, to time.Time) (bool, error)
}
