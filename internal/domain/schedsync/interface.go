// Package schedsync defines the port to the external, eventually-consistent
// scheduling service. Every call must be safe to repeat with the same
// correlation id; the service deduplicates on it.
package schedsync

import (
	"context"
	"errors"
)

// RuleState is the desired state of a scheduled rule on the external side.
type RuleState string

const (
	RuleEnabled  RuleState = "ENABLED"
	RuleDisabled RuleState = "DISABLED"
)

// RuleTarget describes what the external scheduler invokes when a rule fires.
type RuleTarget struct {
	QueueURL string `json:"queue_url"`
	SellerID int64  `json:"seller_id,string"`
}

// Syncer performs the actual create/update/disable calls against the
// third-party scheduling service. correlationID is passed as an idempotency
// token so a retried call (by the executor or by recovery) is safe to repeat.
type Syncer interface {
	CreateRule(ctx context.Context, correlationID, name, cadence string, target RuleTarget) error
	UpdateRule(ctx context.Context, correlationID, name, cadence string, target RuleTarget, state RuleState) error
	DisableRule(ctx context.Context, correlationID, name string) error
}

// ErrRejected marks a permanent business rejection by the scheduling service:
// the operation is invalid and retrying the same call cannot succeed.
var ErrRejected = errors.New("rule rejected by scheduling service")

// Transient reports whether an error from a Syncer call is worth retrying.
// Anything not marked as a permanent rejection is treated as transient
// infrastructure trouble (timeouts, 5xx, connection resets).
func Transient(err error) bool {
	return err != nil && !errors.Is(err, ErrRejected)
}
