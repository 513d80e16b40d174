package gotxn

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// recordingTransaction 记录事务边界对事务的调用顺序
type recordingTransaction struct {
	id string

	mux         sync.Mutex
	calls       []string
	failures    []error
	cancelled   bool
	interrupted bool

	phase1      bool
	phase1Err   error
	phase2Err   error
	rollbackErr error
	releaseErr  error
	// 调用到对应方法时 panic
	panicOn string
	// 每次调用时回调，用于观察调用时的外部状态
	onCall func(name string)
}

func newRecordingTransaction() *recordingTransaction {
	return &recordingTransaction{
		id:     uuid.NewString(),
		phase1: true,
	}
}

func (r *recordingTransaction) record(name string) {
	r.mux.Lock()
	r.calls = append(r.calls, name)
	onCall := r.onCall
	r.mux.Unlock()
	if onCall != nil {
		onCall(name)
	}
	if r.panicOn == name {
		panic(name + " panicked")
	}
}

func (r *recordingTransaction) Calls() []string {
	r.mux.Lock()
	defer r.mux.Unlock()
	calls := make([]string, len(r.calls))
	copy(calls, r.calls)
	return calls
}

func (r *recordingTransaction) ID() string {
	return r.id
}

func (r *recordingTransaction) Status() TXStatus {
	return TXActive
}

func (r *recordingTransaction) RegisterMember(member Member) error {
	r.record("registerMember")
	return nil
}

func (r *recordingTransaction) RegisterMemberIfAbsent(memberID string, producer func(memberID string) Member) (Member, error) {
	r.record("registerMember")
	return producer(memberID), nil
}

func (r *recordingTransaction) Member(memberID string) Member {
	return nil
}

func (r *recordingTransaction) UnregisterMember(member Member) {}

func (r *recordingTransaction) CommitPhase1(ctx context.Context) (bool, error) {
	r.record("commitPhase1")
	return r.phase1, r.phase1Err
}

func (r *recordingTransaction) CommitPhase2(ctx context.Context) error {
	r.record("commitPhase2")
	return r.phase2Err
}

func (r *recordingTransaction) Rollback(ctx context.Context) error {
	r.record("rollback")
	return r.rollbackErr
}

func (r *recordingTransaction) Release(ctx context.Context) error {
	r.record("release")
	return r.releaseErr
}

func (r *recordingTransaction) AddFailure(err error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.failures = append(r.failures, err)
}

func (r *recordingTransaction) HasFailures() bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	return len(r.failures) > 0
}

func (r *recordingTransaction) Failures() []error {
	r.mux.Lock()
	defer r.mux.Unlock()
	failures := make([]error, len(r.failures))
	copy(failures, r.failures)
	return failures
}

func (r *recordingTransaction) Cancel(interrupt bool) bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.cancelled {
		return false
	}
	r.cancelled, r.interrupted = true, interrupt
	return true
}

func (r *recordingTransaction) IsCancelled() bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.cancelled
}

// mockMember 记录两阶段提交的各个动作
type mockMember struct {
	id            string
	needsCommit   bool
	vote          bool
	phase1Err     error
	phase2Err     error
	rollbackErr   error
	releaseErr    error
	panicOnCancel bool

	mux   sync.Mutex
	calls []string
}

func newMockMember(id string) *mockMember {
	return &mockMember{
		id:          id,
		needsCommit: true,
		vote:        true,
	}
}

func (m *mockMember) record(name string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.calls = append(m.calls, name)
}

func (m *mockMember) Calls() []string {
	m.mux.Lock()
	defer m.mux.Unlock()
	calls := make([]string, len(m.calls))
	copy(calls, m.calls)
	return calls
}

func (m *mockMember) MemberID() string {
	return m.id
}

func (m *mockMember) NeedsCommit() bool {
	return m.needsCommit
}

func (m *mockMember) CommitPhase1(ctx context.Context) (bool, error) {
	m.record("commitPhase1")
	return m.vote, m.phase1Err
}

func (m *mockMember) CommitPhase2(ctx context.Context) error {
	m.record("commitPhase2")
	return m.phase2Err
}

func (m *mockMember) Rollback(ctx context.Context) error {
	m.record("rollback")
	return m.rollbackErr
}

func (m *mockMember) Release(ctx context.Context) error {
	m.record("release")
	return m.releaseErr
}

func (m *mockMember) Cancel(ctx context.Context) {
	m.record("cancel")
	if m.panicOnCancel {
		panic("cancel member panicked")
	}
}

// mockOutcomeStore 内存版 OutcomeStore
type mockOutcomeStore struct {
	mutex    sync.Mutex
	outcomes map[string]*Outcome
	locked   bool
	lockErr  error
	saveErr  error
	saves    int

	// 非 nil 时，首次写入关闭该 channel 并阻塞到 ctx 结束
	entered chan struct{}
}

func newMockOutcomeStore() *mockOutcomeStore {
	return &mockOutcomeStore{
		outcomes: make(map[string]*Outcome),
	}
}

func (m *mockOutcomeStore) SaveOutcomes(ctx context.Context, outcomes ...*Outcome) error {
	m.mutex.Lock()
	m.saves++
	if entered := m.entered; entered != nil {
		m.entered = nil
		m.mutex.Unlock()
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}
	defer m.mutex.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	for _, outcome := range outcomes {
		m.outcomes[outcome.TXID] = outcome
	}
	return nil
}

func (m *mockOutcomeStore) GetOutcome(ctx context.Context, txID string) (*Outcome, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	outcome, ok := m.outcomes[txID]
	if !ok {
		return nil, ErrOutcomeNotFound
	}
	return outcome, nil
}

func (m *mockOutcomeStore) Lock(ctx context.Context, expireDuration time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.lockErr != nil {
		return m.lockErr
	}
	m.locked = true
	return nil
}

func (m *mockOutcomeStore) Unlock(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.locked = false
	return nil
}

func (m *mockOutcomeStore) setErrs(lockErr, saveErr error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.lockErr, m.saveErr = lockErr, saveErr
}

func (m *mockOutcomeStore) isLocked() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.locked
}

func (m *mockOutcomeStore) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.outcomes)
}
