package gotxn

import (
	"context"

	"github.com/xiaoxuxiansheng/gotxn/log"
)

// safeTransaction 包装事务，commit / rollback / release 过程中的错误与 panic 只记录日志，不会向外抛出.
// 返回的 error 只用于事务边界判断是否需要回滚，不会传递给调用方.
type safeTransaction struct {
	Transaction
}

func newSafeTransaction(tx Transaction) *safeTransaction {
	if safe, ok := tx.(*safeTransaction); ok {
		return safe
	}
	return &safeTransaction{Transaction: tx}
}

func (s *safeTransaction) CommitPhase1(ctx context.Context) (ok bool, err error) {
	err = s.guard(ctx, "commit phase1", func() error {
		var _err error
		ok, _err = s.Transaction.CommitPhase1(ctx)
		return _err
	})
	return ok && err == nil, err
}

func (s *safeTransaction) CommitPhase2(ctx context.Context) error {
	return s.guard(ctx, "commit phase2", func() error {
		return s.Transaction.CommitPhase2(ctx)
	})
}

func (s *safeTransaction) Rollback(ctx context.Context) error {
	return s.guard(ctx, "rollback", func() error {
		return s.Transaction.Rollback(ctx)
	})
}

func (s *safeTransaction) Release(ctx context.Context) error {
	return s.guard(ctx, "release", func() error {
		return s.Transaction.Release(ctx)
	})
}

func (s *safeTransaction) guard(ctx context.Context, phase string, do func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
		if err != nil {
			log.ErrorContextf(ctx, "transaction %s failed, tx id: %s, err: %v", phase, s.Transaction.ID(), err)
		}
	}()
	return do()
}
