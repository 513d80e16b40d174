package gotxn

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/xiaoxuxiansheng/gotxn/log"
)

// Transaction 代表一次工作单元的资源协调范围.
//
// 同一个 Transaction 只被一个 job 的事务边界独占，但可能被其他 goroutine 通过
// ActiveTransactionRegistry 找到并取消，因此实现需要保证 Cancel 与其他方法并发安全.
type Transaction interface {
	// 事务唯一 id
	ID() string
	// 当前生命周期状态
	Status() TXStatus

	// 注册事务成员，成员 id 重复时覆盖旧成员
	RegisterMember(member Member) error
	// 成员不存在时通过 producer 创建并注册，存在时返回已有成员
	RegisterMemberIfAbsent(memberID string, producer func(memberID string) Member) (Member, error)
	// 获取指定 id 的成员，不存在时返回 nil
	Member(memberID string) Member
	// 注销事务成员
	UnregisterMember(member Member)

	// 第一阶段，返回 false 表示事务不能提交
	CommitPhase1(ctx context.Context) (bool, error)
	// 第二阶段，只有第一阶段返回 true 时才会调用
	CommitPhase2(ctx context.Context) error
	Rollback(ctx context.Context) error
	// 释放事务资源，每个事务只会调用一次
	Release(ctx context.Context) error

	// 记录一次失败，存在失败的事务不允许提交
	AddFailure(err error)
	HasFailures() bool
	Failures() []error

	// 取消事务，只有首次取消返回 true
	Cancel(interrupt bool) bool
	IsCancelled() bool
}

type txCtxKey struct{}

// WithTransaction 将事务挂载到 ctx 上，作为业务逻辑的当前事务
func WithTransaction(ctx context.Context, tx Transaction) context.Context {
	return context.WithValue(ctx, txCtxKey{}, tx)
}

// CurrentTransaction 返回 ctx 上的当前事务，没有时返回 nil
func CurrentTransaction(ctx context.Context) Transaction {
	tx, _ := ctx.Value(txCtxKey{}).(Transaction)
	return tx
}

// BasicTransaction 是 Transaction 的默认实现，把两阶段提交分发给所有注册的成员.
type BasicTransaction struct {
	id string

	mux       sync.Mutex
	status    TXStatus
	members   map[string]Member
	order     []string
	failures  []error
	cancelled bool
}

func NewBasicTransaction() *BasicTransaction {
	return &BasicTransaction{
		id:      uuid.NewString(),
		status:  TXActive,
		members: make(map[string]Member),
	}
}

func (b *BasicTransaction) ID() string {
	return b.id
}

func (b *BasicTransaction) Status() TXStatus {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.status
}

func (b *BasicTransaction) setStatus(status TXStatus) {
	b.mux.Lock()
	defer b.mux.Unlock()
	b.status = status
}

func (b *BasicTransaction) RegisterMember(member Member) error {
	if member == nil {
		return errors.New("nil transaction member")
	}
	b.mux.Lock()
	defer b.mux.Unlock()
	if b.cancelled {
		return newExecutionError(kindCancelled, "transaction cancelled, tx id: "+b.id, nil)
	}
	b.putMember(member)
	return nil
}

// putMember 需要在持有锁时调用
func (b *BasicTransaction) putMember(member Member) {
	id := member.MemberID()
	if _, ok := b.members[id]; !ok {
		b.order = append(b.order, id)
	}
	b.members[id] = member
}

// RegisterMemberIfAbsent 成员不存在时通过 producer 创建并注册，事务已取消时返回 ExecutionError.
// producer 在锁外执行，可以回调事务的其他方法；并发注册同一个 id 时以先注册的成员为准.
func (b *BasicTransaction) RegisterMemberIfAbsent(memberID string, producer func(memberID string) Member) (Member, error) {
	b.mux.Lock()
	if b.cancelled {
		b.mux.Unlock()
		return nil, newExecutionError(kindCancelled, "transaction cancelled, tx id: "+b.id, nil)
	}
	if member, ok := b.members[memberID]; ok {
		b.mux.Unlock()
		return member, nil
	}
	b.mux.Unlock()

	member := producer(memberID)
	if member == nil {
		return nil, nil
	}

	b.mux.Lock()
	defer b.mux.Unlock()
	if b.cancelled {
		return nil, newExecutionError(kindCancelled, "transaction cancelled, tx id: "+b.id, nil)
	}
	if existing, ok := b.members[memberID]; ok {
		return existing, nil
	}
	b.putMember(member)
	return member, nil
}

// RegisterMemberIfAbsentAndNotCancelled 与 RegisterMemberIfAbsent 相同，但事务已取消时直接返回 nil，不调用 producer.
func (b *BasicTransaction) RegisterMemberIfAbsentAndNotCancelled(memberID string, producer func(memberID string) Member) Member {
	if b.IsCancelled() {
		return nil
	}
	member, err := b.RegisterMemberIfAbsent(memberID, producer)
	if err != nil {
		return nil
	}
	return member
}

func (b *BasicTransaction) Member(memberID string) Member {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.members[memberID]
}

func (b *BasicTransaction) UnregisterMember(member Member) {
	if member == nil {
		return
	}
	b.mux.Lock()
	defer b.mux.Unlock()
	id := member.MemberID()
	if _, ok := b.members[id]; !ok {
		return
	}
	delete(b.members, id)
	for i, memberID := range b.order {
		if memberID == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// snapshot 按注册顺序返回成员
func (b *BasicTransaction) snapshot() []Member {
	b.mux.Lock()
	defer b.mux.Unlock()
	members := make([]Member, 0, len(b.order))
	for _, id := range b.order {
		members = append(members, b.members[id])
	}
	return members
}

func (b *BasicTransaction) CommitPhase1(ctx context.Context) (bool, error) {
	if b.IsCancelled() {
		return false, nil
	}
	b.setStatus(TXCommitting)

	// 所有成员都投票通过才允许提交
	allSuccessful := true
	for _, member := range b.snapshot() {
		if !member.NeedsCommit() {
			continue
		}
		ok, err := member.CommitPhase1(ctx)
		if err != nil {
			log.ErrorContextf(ctx, "commit phase1 failed, tx id: %s, member id: %s, err: %v", b.id, member.MemberID(), err)
			b.AddFailure(err)
			allSuccessful = false
			continue
		}
		if !ok {
			log.WarnContextf(ctx, "commit phase1 rejected, tx id: %s, member id: %s", b.id, member.MemberID())
			allSuccessful = false
		}
	}
	return allSuccessful, nil
}

func (b *BasicTransaction) CommitPhase2(ctx context.Context) error {
	var firstErr error
	for _, member := range b.snapshot() {
		if !member.NeedsCommit() {
			continue
		}
		if err := member.CommitPhase2(ctx); err != nil {
			log.ErrorContextf(ctx, "commit phase2 failed, tx id: %s, member id: %s, err: %v", b.id, member.MemberID(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr == nil {
		b.setStatus(TXCommitted)
	}
	return firstErr
}

func (b *BasicTransaction) Rollback(ctx context.Context) error {
	var firstErr error
	for _, member := range b.snapshot() {
		if !member.NeedsCommit() {
			continue
		}
		if err := member.Rollback(ctx); err != nil {
			log.ErrorContextf(ctx, "rollback failed, tx id: %s, member id: %s, err: %v", b.id, member.MemberID(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	b.setStatus(TXRolledBack)
	return firstErr
}

func (b *BasicTransaction) Release(ctx context.Context) error {
	var firstErr error
	for _, member := range b.snapshot() {
		if err := member.Release(ctx); err != nil {
			log.ErrorContextf(ctx, "release failed, tx id: %s, member id: %s, err: %v", b.id, member.MemberID(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	b.mux.Lock()
	defer b.mux.Unlock()
	b.members = make(map[string]Member)
	b.order = nil
	b.status = TXReleased
	return firstErr
}

func (b *BasicTransaction) AddFailure(err error) {
	if err == nil {
		return
	}
	b.mux.Lock()
	defer b.mux.Unlock()
	b.failures = append(b.failures, err)
}

func (b *BasicTransaction) HasFailures() bool {
	b.mux.Lock()
	defer b.mux.Unlock()
	return len(b.failures) > 0
}

func (b *BasicTransaction) Failures() []error {
	b.mux.Lock()
	defer b.mux.Unlock()
	failures := make([]error, len(b.failures))
	copy(failures, b.failures)
	return failures
}

func (b *BasicTransaction) Cancel(interrupt bool) bool {
	b.mux.Lock()
	if b.cancelled {
		b.mux.Unlock()
		return false
	}
	b.cancelled = true
	b.mux.Unlock()

	ctx := log.WithFields(context.Background(), "tx", b.id)
	for _, member := range b.snapshot() {
		b.cancelMember(ctx, member)
	}
	log.InfoContextf(ctx, "transaction cancelled, interrupt: %t", interrupt)
	return true
}

func (b *BasicTransaction) cancelMember(ctx context.Context, member Member) {
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContextf(ctx, "cancel member panicked, member id: %s, panic: %v", member.MemberID(), r)
		}
	}()
	member.Cancel(ctx)
}

func (b *BasicTransaction) IsCancelled() bool {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.cancelled
}
