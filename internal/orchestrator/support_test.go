package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sellerwatch/crawl-cloud/internal/domain/operation"
	"github.com/sellerwatch/crawl-cloud/internal/domain/schedsync"
	"github.com/sellerwatch/crawl-cloud/internal/domain/schedule"
	"github.com/sellerwatch/crawl-cloud/pkg/snowflake"
)

// memStore is an in-memory operation.Store with the same conditional update
// semantics as the Postgres adapter, so the recovery logic is tested against
// the contract it actually relies on.
type memStore struct {
	mu   sync.Mutex
	seq  int64
	rows map[int64]*operation.Operation
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[int64]*operation.Operation)}
}

func cloneOp(op *operation.Operation) *operation.Operation {
	c := *op
	return &c
}

func (m *memStore) Save(_ context.Context, op *operation.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.IdemKey == op.IdemKey {
			return operation.ErrDuplicateIdemKey
		}
	}
	m.seq++
	op.ID = m.seq
	m.rows[op.ID] = cloneOp(op)
	return nil
}

func (m *memStore) FindByOpID(_ context.Context, opID string) (*operation.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row := m.byOpID(opID); row != nil {
		return cloneOp(row), nil
	}
	return nil, nil
}

func (m *memStore) FindByIdemKey(_ context.Context, idemKey string) (*operation.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.IdemKey == idemKey {
			return cloneOp(row), nil
		}
	}
	return nil, nil
}

func (m *memStore) byOpID(opID string) *operation.Operation {
	for _, row := range m.rows {
		if row.OpID == opID && opID != "" {
			return row
		}
	}
	return nil
}

func (m *memStore) UpdateOpID(_ context.Context, id int64, opID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.State != operation.StatePending {
		return operation.ErrStaleTransition
	}
	row.OpID = opID
	row.State = operation.StateInProgress
	return nil
}

func (m *memStore) MarkInProgress(_ context.Context, opID string, outcome []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.byOpID(opID)
	if row == nil || row.State != operation.StateInProgress || row.WALState == operation.WALFinalized {
		return operation.ErrStaleTransition
	}
	row.WALState = operation.WALPending
	row.WALOutcome = outcome
	return nil
}

func (m *memStore) MarkCompleted(_ context.Context, opID string, final operation.OpState) error {
	if !operation.Terminal(final) {
		return operation.ErrStaleTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.byOpID(opID)
	if row == nil || row.State != operation.StateInProgress || row.WALState != operation.WALPending {
		return operation.ErrStaleTransition
	}
	now := time.Now().UTC()
	row.State = final
	row.WALState = operation.WALFinalized
	row.CompletedAt = &now
	return nil
}

func (m *memStore) GetInProgressOutcome(_ context.Context, opID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.byOpID(opID)
	if row == nil || row.WALState != operation.WALPending {
		return nil, nil
	}
	return row.WALOutcome, nil
}

func (m *memStore) GetOperationEnvelope(_ context.Context, opID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.byOpID(opID)
	if row == nil {
		return nil, operation.ErrNotFound
	}
	return row.Envelope, nil
}

func (m *memStore) GetOperationState(_ context.Context, opID string) (operation.OpState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.byOpID(opID)
	if row == nil {
		return "", operation.ErrNotFound
	}
	return row.State, nil
}

func (m *memStore) FindPendingOperations(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []*operation.Operation
	for _, row := range m.rows {
		if row.WALState == operation.WALPending && row.OpID != "" {
			rows = append(rows, row)
		}
	}
	return opIDsOldestFirst(rows, limit), nil
}

func (m *memStore) FindTimeoutOperations(_ context.Context, timeout time.Duration, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-timeout)
	var rows []*operation.Operation
	for _, row := range m.rows {
		if row.State == operation.StateInProgress && row.WALState == operation.WALNone &&
			row.OpID != "" && row.CreatedAt.Before(cutoff) {
			rows = append(rows, row)
		}
	}
	return opIDsOldestFirst(rows, limit), nil
}

func (m *memStore) FindStalePending(_ context.Context, timeout time.Duration, limit int) ([]*operation.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-timeout)
	var rows []*operation.Operation
	for _, row := range m.rows {
		if row.State == operation.StatePending && row.OpID == "" && row.CreatedAt.Before(cutoff) {
			rows = append(rows, cloneOp(row))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *memStore) IncrementRetry(_ context.Context, opID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.byOpID(opID)
	if row == nil || row.State != operation.StateInProgress || row.RetryCount >= row.MaxRetries {
		return false, nil
	}
	row.RetryCount++
	return true, nil
}

func (m *memStore) MarkFailed(_ context.Context, opID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.byOpID(opID)
	if row == nil || row.Terminal() {
		return operation.ErrStaleTransition
	}
	now := time.Now().UTC()
	row.State = operation.StateFailed
	row.LastError = reason
	row.CompletedAt = &now
	return nil
}

func (m *memStore) DeleteCompletedBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, row := range m.rows {
		if limit > 0 && deleted >= int64(limit) {
			break
		}
		if row.Terminal() && row.CompletedAt != nil && row.CompletedAt.Before(cutoff) {
			delete(m.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

// mustGet returns the stored row for an idempotency key.
func (m *memStore) mustGet(t *testing.T, idemKey string) *operation.Operation {
	t.Helper()
	op, err := m.FindByIdemKey(context.Background(), idemKey)
	require.NoError(t, err)
	require.NotNil(t, op)
	return op
}

// backdate shifts a row's creation time so timeout scans pick it up.
func (m *memStore) backdate(id int64, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		row.CreatedAt = row.CreatedAt.Add(-d)
	}
}

func opIDsOldestFirst(rows []*operation.Operation, limit int) []string {
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.OpID)
	}
	return ids
}

// memSchedules is an in-memory schedule.Repository.
type memSchedules struct {
	mu   sync.Mutex
	rows map[int64]*schedule.SellerSchedule
}

func newMemSchedules() *memSchedules {
	return &memSchedules{rows: make(map[int64]*schedule.SellerSchedule)}
}

func (m *memSchedules) FindBySellerID(_ context.Context, sellerID int64) (*schedule.SellerSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[sellerID]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

// Save upserts keyed on seller id, mirroring the Postgres adapter: a row that
// already exists keeps its original primary key.
func (m *memSchedules) Save(_ context.Context, s *schedule.SellerSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	if prev, ok := m.rows[s.SellerID]; ok {
		c.ID = prev.ID
		s.ID = prev.ID
	}
	m.rows[s.SellerID] = &c
	return nil
}

func (m *memSchedules) FindDue(_ context.Context, now time.Time, limit int) ([]*schedule.SellerSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*schedule.SellerSchedule
	for _, s := range m.rows {
		if s.Status == schedule.StatusActive && s.NextRunAt != nil && !s.NextRunAt.After(now) {
			c := *s
			due = append(due, &c)
		}
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due, nil
}

func (m *memSchedules) BumpNextRun(_ context.Context, id int64, from, to time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.ID != id {
			continue
		}
		if s.NextRunAt == nil || !s.NextRunAt.Equal(from) {
			return false, nil
		}
		t := to
		s.NextRunAt = &t
		return true, nil
	}
	return false, nil
}

// mockSyncer records scheduler sync calls and serves scripted errors.
type mockSyncer struct {
	mu    sync.Mutex
	calls []string
	errs  []error
}

func (m *mockSyncer) failWith(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
}

func (m *mockSyncer) next(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	if len(m.errs) == 0 {
		return nil
	}
	err := m.errs[0]
	m.errs = m.errs[1:]
	return err
}

func (m *mockSyncer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockSyncer) CreateRule(_ context.Context, _, name, _ string, _ schedsync.RuleTarget) error {
	return m.next("create:" + name)
}

func (m *mockSyncer) UpdateRule(_ context.Context, _, name, _ string, _ schedsync.RuleTarget, _ schedsync.RuleState) error {
	return m.next("update:" + name)
}

func (m *mockSyncer) DisableRule(_ context.Context, _, name string) error {
	return m.next("disable:" + name)
}

var errSyncDown = errors.New("scheduler unreachable")

func testConfig() Config {
	return Config{
		MaxRetries:         3,
		CallTimeout:        5 * time.Second,
		FinalizerInterval:  time.Minute,
		FinalizerBatchSize: 50,
		ReaperInterval:     time.Minute,
		ReaperTimeout:      5 * time.Minute,
		ReaperBatchSize:    50,
		RetentionInterval:  time.Hour,
		RetentionMaxAge:    time.Hour,
		RetentionBatchSize: 100,
		CrawlQueueURL:      "redis://localhost:6379/crawl:tasks",
	}
}

type fixture struct {
	store     *memStore
	schedules *memSchedules
	syncer    *mockSyncer
	guard     *Guard
	executor  *Executor
	service   *Service
	finalizer *Finalizer
	reaper    *Reaper
	retention *Retention
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	node, err := snowflake.NewNode(snowflake.Config{NodeID: 1})
	require.NoError(t, err)

	store := newMemStore()
	schedules := newMemSchedules()
	syncer := &mockSyncer{}
	cfg := testConfig()
	logger := zap.NewNop()

	executor := NewExecutor(store, schedules, syncer, node, cfg, logger)
	guard := NewGuard(store, cfg, logger)

	return &fixture{
		store:     store,
		schedules: schedules,
		syncer:    syncer,
		guard:     guard,
		executor:  executor,
		service:   NewService(guard, executor, store, logger),
		finalizer: NewFinalizer(store, executor, cfg, logger),
		reaper:    NewReaper(store, executor, cfg, logger),
		retention: NewRetention(store, cfg, logger),
	}
}

func (f *fixture) submitAndExecute(t *testing.T, idemKey string, cmd operation.Command) *operation.Operation {
	t.Helper()
	ctx := context.Background()

	op, err := f.guard.Submit(ctx, idemKey, cmd)
	require.NoError(t, err)
	require.NoError(t, f.executor.Execute(ctx, op))
	return f.store.mustGet(t, idemKey)
}

func (f *fixture) seedSchedule(t *testing.T, sellerID int64, cadence string) *schedule.SellerSchedule {
	t.Helper()
	s := schedule.New(sellerID*100, sellerID, cadence)
	require.NoError(t, f.schedules.Save(context.Background(), s))
	return s
}
