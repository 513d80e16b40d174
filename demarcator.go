package gotxn

import (
	"context"
	"time"

	"github.com/xiaoxuxiansheng/gotxn/log"
)

// TwoPhaseBoundary 是事务边界的核心状态机.
//
// 执行工作单元后，对事务进行两阶段提交或回滚，然后无条件释放事务并从注册表中移除.
// 工作单元返回的错误在所有收尾工作完成后原样返回给调用方；
// commit / rollback / release 中的错误只记录日志，不会覆盖业务错误.
type TwoPhaseBoundary struct {
	tx         Transaction
	registry   *ActiveTransactionRegistry
	collector  *Collector
	onComplete func(ctx context.Context, outcome *Outcome)
}

type BoundaryOption func(*TwoPhaseBoundary)

// WithCollector 统计事务边界的执行情况
func WithCollector(collector *Collector) BoundaryOption {
	return func(t *TwoPhaseBoundary) {
		t.collector = collector
	}
}

// WithCompletionHook 事务释放后回调，用于记录执行结果
func WithCompletionHook(hook func(ctx context.Context, outcome *Outcome)) BoundaryOption {
	return func(t *TwoPhaseBoundary) {
		t.onComplete = hook
	}
}

func NewTwoPhaseBoundary(tx Transaction, registry *ActiveTransactionRegistry, opts ...BoundaryOption) *TwoPhaseBoundary {
	boundary := TwoPhaseBoundary{
		tx:       tx,
		registry: registry,
	}
	for _, opt := range opts {
		opt(&boundary)
	}
	return &boundary
}

// invocation 记录工作单元的执行结果
type invocation struct {
	result   interface{}
	err      error
	panicked *PanicError
}

func (t *TwoPhaseBoundary) Invoke(ctx context.Context, next Callable) (interface{}, error) {
	// 前置条件校验，此时尚未触碰事务
	if t.tx == nil {
		return nil, newAssertionError("transaction must not be nil")
	}
	job, ok := JobFromContext(ctx)
	if !ok {
		return nil, newAssertionError("job must not be nil, transaction cancellation requires an execution context")
	}
	if t.registry == nil {
		return nil, newAssertionError("active transaction registry must not be nil")
	}

	ctx = log.WithFields(ctx, "job", job.Identifier(), "tx", t.tx.ID())

	// 1 注册到活跃事务表中，使得其他 goroutine 能够取消该事务；无论如何退出都要移除
	t.registry.Register(job, t.tx)
	defer t.registry.Unregister(job, t.tx)

	// 2 - 5 执行工作单元，提交或回滚，释放
	inv := t.demarcate(ctx, job, next)

	// 7 收尾完成后，把原始的 panic / 错误交还给调用方
	if inv.panicked != nil {
		panic(inv.panicked.Value)
	}
	return inv.result, inv.err
}

func (t *TwoPhaseBoundary) demarcate(ctx context.Context, job *Job, next Callable) (inv invocation) {
	safeTx := newSafeTransaction(t.tx)
	outcome := &Outcome{
		TXID:      t.tx.ID(),
		JobID:     job.Identifier(),
		JobName:   job.Name,
		Status:    TXRolledBack,
		StartedAt: time.Now(),
	}
	t.collector.enter()
	// 5 release 必须在提交或回滚之后执行，且无论上面的步骤是否 panic 都要执行
	defer t.release(ctx, safeTx, outcome)

	inv = t.call(WithTransaction(ctx, t.tx), next)
	switch {
	case inv.panicked != nil:
		t.tx.AddFailure(inv.panicked)
	case inv.err != nil:
		t.tx.AddFailure(failureOf(inv.err))
	}

	// 3 存在失败时不允许提交
	if t.tx.HasFailures() {
		for _, failure := range t.tx.Failures() {
			log.WarnContextf(ctx, "transaction is rolled back because of failure, job: %s, reason: %v", job, failure)
		}
	} else if t.commit(ctx, safeTx) {
		outcome.Status = TXCommitted
		return inv
	}

	// 4 提交未成功，回滚
	if err := safeTx.Rollback(ctx); err != nil {
		t.collector.cleanupFailed("rollback")
	}
	return inv
}

func (t *TwoPhaseBoundary) call(ctx context.Context, next Callable) (inv invocation) {
	defer func() {
		if r := recover(); r != nil {
			inv = invocation{panicked: &PanicError{Value: r}}
		}
	}()
	inv.result, inv.err = next(ctx)
	return inv
}

// commit 执行两阶段提交，第一阶段投票不通过或任一阶段出错时返回 false
func (t *TwoPhaseBoundary) commit(ctx context.Context, safeTx *safeTransaction) bool {
	ok, err := safeTx.CommitPhase1(ctx)
	if err != nil {
		t.collector.cleanupFailed("commit_phase1")
		return false
	}
	if !ok {
		log.WarnContextf(ctx, "transaction commit phase1 rejected, tx id: %s", t.tx.ID())
		return false
	}
	if err = safeTx.CommitPhase2(ctx); err != nil {
		t.collector.cleanupFailed("commit_phase2")
		return false
	}
	return true
}

func (t *TwoPhaseBoundary) release(ctx context.Context, safeTx *safeTransaction, outcome *Outcome) {
	if err := safeTx.Release(ctx); err != nil {
		t.collector.cleanupFailed("release")
	}

	outcome.FinishedAt = time.Now()
	for _, failure := range t.tx.Failures() {
		outcome.Failures = append(outcome.Failures, failure.Error())
	}
	t.collector.exit(outcome)
	if t.onComplete != nil {
		t.onComplete(ctx, outcome)
	}
}

// failureOf 带有 cause 的 ProcessingError 只记录其 cause，避免重复包装
func failureOf(err error) error {
	switch e := err.(type) {
	case *ProcessingError:
		if e.Cause() != nil {
			return e.Cause()
		}
	case *ExecutionError:
		if e.Cause() != nil {
			return e.Cause()
		}
	}
	return err
}
