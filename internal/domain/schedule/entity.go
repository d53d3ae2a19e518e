package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status represents whether a seller's crawl cadence is live.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

var (
	ErrInvalidCadence  = errors.New("invalid cadence expression")
	ErrAlreadyExists   = errors.New("schedule already exists for seller")
	ErrNotFound        = errors.New("schedule not found for seller")
	ErrAlreadyDisabled = errors.New("schedule already disabled")
)

// SellerSchedule is the local record of a seller's crawl cadence. The external
// scheduling service holds the authoritative rule; this row tracks what we
// last synced and drives crawl task dispatch.
type SellerSchedule struct {
	ID       int64  `json:"id,string"`
	SellerID int64  `json:"seller_id,string"`
	RuleName string `json:"rule_name"`
	Cadence  string `json:"cadence"`
	Status   Status `json:"status"`

	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an active schedule for a seller. The rule name is derived from
// the seller id so a retried create targets the same external rule.
func New(id, sellerID int64, cadence string) *SellerSchedule {
	now := time.Now().UTC()
	return &SellerSchedule{
		ID:        id,
		SellerID:  sellerID,
		RuleName:  RuleName(sellerID),
		Cadence:   cadence,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RuleName is the deterministic external rule name for a seller.
func RuleName(sellerID int64) string {
	return fmt.Sprintf("crawl-%d", sellerID)
}

// MarkSynced records a successful sync with the external scheduler and plans
// the next crawl run.
func (s *SellerSchedule) MarkSynced(now time.Time) {
	t := now.UTC()
	s.LastSyncedAt = &t
	if interval, err := ParseCadence(s.Cadence); err == nil {
		next := t.Add(interval)
		s.NextRunAt = &next
	}
	s.UpdatedAt = t
}

// Disable stops crawl dispatch for the seller.
func (s *SellerSchedule) Disable(now time.Time) {
	s.Status = StatusDisabled
	s.NextRunAt = nil
	s.UpdatedAt = now.UTC()
}

// ParseCadence parses a rate expression of the form "rate(N unit)" with unit
// one of minute(s), hour(s), day(s). This mirrors the expression grammar the
// external scheduling service accepts.
func ParseCadence(expr string) (time.Duration, error) {
	trimmed := strings.TrimSpace(expr)
	if !strings.HasPrefix(trimmed, "rate(") || !strings.HasSuffix(trimmed, ")") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCadence, expr)
	}

	inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, "rate("), ")")
	parts := strings.Fields(inner)
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCadence, expr)
	}

	n, err := strconv.Atoi(parts[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCadence, expr)
	}

	var unit time.Duration
	switch strings.TrimSuffix(parts[1], "s") {
	case "minute":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidCadence, expr)
	}

	return time.Duration(n) * unit, nil
}
