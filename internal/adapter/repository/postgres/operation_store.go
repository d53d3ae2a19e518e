package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/sellerwatch/crawl-cloud/internal/domain/operation"
)

// OperationModel is the database DTO with Gorm tags.
type OperationModel struct {
	ID         int64   `gorm:"primaryKey"`
	OpID       *string `gorm:"column:correlation_id;uniqueIndex"`
	IdemKey    string  `gorm:"column:idem_key;type:varchar(255);uniqueIndex;not null"`
	Envelope   []byte  `gorm:"type:jsonb;not null"`
	State      string  `gorm:"column:operation_state;type:varchar(20);not null"`
	WALState   string  `gorm:"column:wal_state;type:varchar(20);not null"`
	WALOutcome []byte  `gorm:"column:wal_outcome;type:jsonb"`
	RetryCount int     `gorm:"not null;default:0"`
	MaxRetries int     `gorm:"not null"`
	LastError  string  `gorm:"type:text"`

	CreatedAt   time.Time
	CompletedAt *time.Time
}

func (OperationModel) TableName() string {
	return "operations"
}

// OperationStore implements operation.Store. Every mutation is a conditional
// update keyed on the row's expected prior state; RowsAffected decides whether
// this process won the transition or lost a harmless race.
type OperationStore struct {
	db *gorm.DB
}

func NewOperationStore(db *gorm.DB) *OperationStore {
	return &OperationStore{db: db}
}

func (s *OperationStore) Save(ctx context.Context, op *operation.Operation) error {
	model := toOperationModel(op)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return operation.ErrDuplicateIdemKey
		}
		return err
	}
	op.ID = model.ID
	return nil
}

func (s *OperationStore) FindByOpID(ctx context.Context, opID string) (*operation.Operation, error) {
	var model OperationModel
	if err := s.db.WithContext(ctx).Where("correlation_id = ?", opID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toOperation(model), nil
}

func (s *OperationStore) FindByIdemKey(ctx context.Context, idemKey string) (*operation.Operation, error) {
	var model OperationModel
	if err := s.db.WithContext(ctx).Where("idem_key = ?", idemKey).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toOperation(model), nil
}

func (s *OperationStore) UpdateOpID(ctx context.Context, id int64, opID string) error {
	result := s.db.WithContext(ctx).Model(&OperationModel{}).
		Where("id = ? AND operation_state = ?", id, operation.StatePending).
		Updates(map[string]any{
			"correlation_id":  opID,
			"operation_state": string(operation.StateInProgress),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return operation.ErrStaleTransition
	}
	return nil
}

func (s *OperationStore) MarkInProgress(ctx context.Context, opID string, outcome []byte) error {
	result := s.db.WithContext(ctx).Model(&OperationModel{}).
		Where("correlation_id = ? AND operation_state = ? AND wal_state IN ?",
			opID, operation.StateInProgress,
			[]string{string(operation.WALNone), string(operation.WALPending)}).
		Updates(map[string]any{
			"wal_state":   string(operation.WALPending),
			"wal_outcome": outcome,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return operation.ErrStaleTransition
	}
	return nil
}

func (s *OperationStore) MarkCompleted(ctx context.Context, opID string, final operation.OpState) error {
	if !operation.Terminal(final) {
		return operation.ErrStaleTransition
	}
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&OperationModel{}).
		Where("correlation_id = ? AND wal_state = ? AND operation_state = ?",
			opID, operation.WALPending, operation.StateInProgress).
		Updates(map[string]any{
			"operation_state": string(final),
			"wal_state":       string(operation.WALFinalized),
			"completed_at":    now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return operation.ErrStaleTransition
	}
	return nil
}

func (s *OperationStore) GetInProgressOutcome(ctx context.Context, opID string) ([]byte, error) {
	var model OperationModel
	err := s.db.WithContext(ctx).
		Select("wal_outcome").
		Where("correlation_id = ? AND wal_state = ?", opID, operation.WALPending).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.WALOutcome, nil
}

func (s *OperationStore) GetOperationEnvelope(ctx context.Context, opID string) ([]byte, error) {
	var model OperationModel
	err := s.db.WithContext(ctx).
		Select("envelope").
		Where("correlation_id = ?", opID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, operation.ErrNotFound
		}
		return nil, err
	}
	return model.Envelope, nil
}

func (s *OperationStore) GetOperationState(ctx context.Context, opID string) (operation.OpState, error) {
	var model OperationModel
	err := s.db.WithContext(ctx).
		Select("operation_state").
		Where("correlation_id = ?", opID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", operation.ErrNotFound
		}
		return "", err
	}
	return operation.OpState(model.State), nil
}

func (s *OperationStore) FindPendingOperations(ctx context.Context, limit int) ([]string, error) {
	return s.findOpIDs(ctx, s.db.WithContext(ctx).
		Where("wal_state = ?", operation.WALPending), limit)
}

func (s *OperationStore) FindTimeoutOperations(ctx context.Context, timeout time.Duration, limit int) ([]string, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	return s.findOpIDs(ctx, s.db.WithContext(ctx).
		Where("operation_state = ? AND wal_state = ? AND created_at < ?",
			operation.StateInProgress, operation.WALNone, cutoff), limit)
}

func (s *OperationStore) findOpIDs(ctx context.Context, query *gorm.DB, limit int) ([]string, error) {
	var models []OperationModel
	q := query.Model(&OperationModel{}).
		Select("correlation_id").
		Where("correlation_id IS NOT NULL").
		Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}

	opIDs := make([]string, 0, len(models))
	for _, m := range models {
		if m.OpID != nil {
			opIDs = append(opIDs, *m.OpID)
		}
	}
	return opIDs, nil
}

func (s *OperationStore) FindStalePending(ctx context.Context, timeout time.Duration, limit int) ([]*operation.Operation, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	var models []OperationModel
	q := s.db.WithContext(ctx).
		Where("operation_state = ? AND correlation_id IS NULL AND created_at < ?",
			operation.StatePending, cutoff).
		Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}

	ops := make([]*operation.Operation, 0, len(models))
	for _, m := range models {
		ops = append(ops, toOperation(m))
	}
	return ops, nil
}

func (s *OperationStore) IncrementRetry(ctx context.Context, opID string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&OperationModel{}).
		Where("correlation_id = ? AND operation_state = ? AND retry_count < max_retries",
			opID, operation.StateInProgress).
		Update("retry_count", gorm.Expr("retry_count + 1"))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *OperationStore) MarkFailed(ctx context.Context, opID string, reason string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&OperationModel{}).
		Where("correlation_id = ? AND operation_state IN ?",
			opID, []string{string(operation.StatePending), string(operation.StateInProgress)}).
		Updates(map[string]any{
			"operation_state": string(operation.StateFailed),
			"last_error":      reason,
			"completed_at":    now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return operation.ErrStaleTransition
	}
	return nil
}

func (s *OperationStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	// Postgres DELETE has no LIMIT; bound the batch through a subquery.
	result := s.db.WithContext(ctx).Exec(
		`DELETE FROM operations
		 WHERE id IN (
		   SELECT id FROM operations
		   WHERE operation_state IN (?, ?)
		     AND completed_at IS NOT NULL
		     AND completed_at < ?
		   ORDER BY completed_at ASC
		   LIMIT ?
		 )`,
		string(operation.StateCompleted),
		string(operation.StateFailed),
		cutoff,
		limit,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Mappers

func toOperation(m OperationModel) *operation.Operation {
	opID := ""
	if m.OpID != nil {
		opID = *m.OpID
	}
	return &operation.Operation{
		ID:          m.ID,
		OpID:        opID,
		IdemKey:     m.IdemKey,
		Envelope:    m.Envelope,
		State:       operation.OpState(m.State),
		WALState:    operation.WALState(m.WALState),
		WALOutcome:  m.WALOutcome,
		RetryCount:  m.RetryCount,
		MaxRetries:  m.MaxRetries,
		LastError:   m.LastError,
		CreatedAt:   m.CreatedAt,
		CompletedAt: m.CompletedAt,
	}
}

func toOperationModel(op *operation.Operation) OperationModel {
	var opID *string
	if op.OpID != "" {
		v := op.OpID
		opID = &v
	}
	return OperationModel{
		ID:          op.ID,
		OpID:        opID,
		IdemKey:     op.IdemKey,
		Envelope:    op.Envelope,
		State:       string(op.State),
		WALState:    string(op.WALState),
		WALOutcome:  op.WALOutcome,
		RetryCount:  op.RetryCount,
		MaxRetries:  op.MaxRetries,
		LastError:   op.LastError,
		CreatedAt:   op.CreatedAt,
		CompletedAt: op.CompletedAt,
	}
}

// isUniqueViolation matches the Postgres unique_violation error without
// binding the adapter to a specific driver error type.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") || strings.Contains(msg, "duplicate key value")
}
