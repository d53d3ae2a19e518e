package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sellerwatch/crawl-cloud/internal/domain/schedule"
)

// ScheduleModel is the database DTO with Gorm tags.
type ScheduleModel struct {
	ID       int64  `gorm:"primaryKey"`
	SellerID int64  `gorm:"uniqueIndex"`
	RuleName string `gorm:"type:varchar(255);not null"`
	Cadence  string `gorm:"type:varchar(100);not null"`
	Status   string `gorm:"type:varchar(20);not null"`

	NextRunAt    *time.Time `gorm:"index"`
	LastSyncedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ScheduleModel) TableName() string {
	return "seller_schedules"
}

type ScheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (r *ScheduleRepository) FindBySellerID(ctx context.Context, sellerID int64) (*schedule.SellerSchedule, error) {
	var model ScheduleModel
	if err := r.db.WithContext(ctx).Where("seller_id = ?", sellerID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toSchedule(model), nil
}

// Save upserts keyed on seller_id, not on the caller's primary key. A replayed
// executor step may carry a freshly minted id for a seller whose row already
// committed; the write must land on that row instead of colliding with the
// seller_id unique index.
func (r *ScheduleRepository) Save(ctx context.Context, s *schedule.SellerSchedule) error {
	model := toScheduleModel(s)

	result := r.db.WithContext(ctx).Model(&ScheduleModel{}).
		Where("seller_id = ?", s.SellerID).
		Updates(map[string]any{
			"rule_name":      model.RuleName,
			"cadence":        model.Cadence,
			"status":         model.Status,
			"next_run_at":    model.NextRunAt,
			"last_synced_at": model.LastSyncedAt,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return r.syncID(ctx, s)
	}

	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost an insert race; the row exists now. Rows are never
			// deleted, so the retry takes the update path.
			return r.Save(ctx, s)
		}
		return err
	}
	s.ID = model.ID
	return nil
}

func (r *ScheduleRepository) syncID(ctx context.Context, s *schedule.SellerSchedule) error {
	var model ScheduleModel
	if err := r.db.WithContext(ctx).Select("id").Where("seller_id = ?", s.SellerID).Take(&model).Error; err != nil {
		return err
	}
	s.ID = model.ID
	return nil
}

func (r *ScheduleRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*schedule.SellerSchedule, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", schedule.StatusActive, now).
		Order("next_run_at asc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []ScheduleModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	items := make([]*schedule.SellerSchedule, 0, len(models))
	for _, model := range models {
		items = append(items, toSchedule(model))
	}
	return items, nil
}

// BumpNextRun advances next_run_at conditional on the previous value, so two
// dispatchers racing over the same schedule enqueue exactly one task.
func (r *ScheduleRepository) BumpNextRun(ctx context.Context, id int64, from, to time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&ScheduleModel{}).
		Where("id = ? AND next_run_at = ?", id, from).
		Updates(map[string]any{
			"next_run_at": to,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Mappers

func toSchedule(m ScheduleModel) *schedule.SellerSchedule {
	return &schedule.SellerSchedule{
		ID:           m.ID,
		SellerID:     m.SellerID,
		RuleName:     m.RuleName,
		Cadence:      m.Cadence,
		Status:       schedule.Status(m.Status),
		NextRunAt:    m.NextRunAt,
		LastSyncedAt: m.LastSyncedAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func toScheduleModel(s *schedule.SellerSchedule) ScheduleModel {
	return ScheduleModel{
		ID:           s.ID,
		SellerID:     s.SellerID,
		RuleName:     s.RuleName,
		Cadence:      s.Cadence,
		Status:       string(s.Status),
		NextRunAt:    s.NextRunAt,
		LastSyncedAt: s.LastSyncedAt,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}
