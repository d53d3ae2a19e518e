package operation

import (
	"errors"
	"time"
)

// OpState represents the lifecycle state of an operation.
type OpState string

const (
	StatePending    OpState = "PENDING"
	StateInProgress OpState = "IN_PROGRESS"
	StateCompleted  OpState = "COMPLETED"
	StateFailed     OpState = "FAILED"
)

// WALState tracks whether an outcome has been durably recorded ahead of
// finalization. It is an axis independent of OpState: the finalizer sweeps
// on WALState while the reaper sweeps on OpState.
type WALState string

const (
	WALNone      WALState = "NONE"
	WALPending   WALState = "PENDING"
	WALFinalized WALState = "FINALIZED"
)

var (
	ErrDuplicateIdemKey  = errors.New("operation already exists for idempotency key")
	ErrNotFound          = errors.New("operation not found")
	ErrStaleTransition   = errors.New("operation state changed concurrently")
	ErrTerminalImmutable = errors.New("operation is in a terminal state")
)

// Operation is one durable record of an asynchronous, side-effecting unit of
// work against the external scheduler. The row is the single source of truth;
// Executor, Finalizer and Reaper communicate only through it.
type Operation struct {
	ID      int64  `json:"id,string"`
	OpID    string `json:"op_id"`
	IdemKey string `json:"idem_key"`

	// Envelope is the serialized command. Immutable once written.
	Envelope []byte `json:"-"`

	State      OpState  `json:"state"`
	WALState   WALState `json:"wal_state"`
	WALOutcome []byte   `json:"-"`

	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	LastError  string `json:"last_error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates an operation in PENDING state with no write-ahead record.
func New(idemKey string, envelope []byte, maxRetries int) *Operation {
	return &Operation{
		IdemKey:    idemKey,
		Envelope:   envelope,
		State:      StatePending,
		WALState:   WALNone,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().UTC(),
	}
}

// Terminal reports whether the operation reached a state no component may
// mutate again.
func (o *Operation) Terminal() bool {
	return o.State == StateCompleted || o.State == StateFailed
}

// Active reports whether the operation still occupies its idempotency key.
func (o *Operation) Active() bool {
	return o.State == StatePending || o.State == StateInProgress
}

// RetriesExhausted reports whether the retry budget is spent.
func (o *Operation) RetriesExhausted() bool {
	return o.RetryCount >= o.MaxRetries
}

// Terminal reports whether the given state is COMPLETED or FAILED.
func Terminal(s OpState) bool {
	return s == StateCompleted || s == StateFailed
}
