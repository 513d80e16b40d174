package gotxn

import (
	"context"

	"github.com/xiaoxuxiansheng/gotxn/log"
)

// TransactionProcessor 根据事务范围决定加入调用方事务还是开启新事务.
// 只有新开启的事务才由本 Processor 负责提交、回滚与释放.
type TransactionProcessor struct {
	registry       *ActiveTransactionRegistry
	scope          TransactionScope
	callerTx       Transaction
	callerTxSet    bool
	newTransaction func() Transaction
	members        []Member
	boundaryOpts   []BoundaryOption
}

type ProcessorOption func(*TransactionProcessor)

func WithTransactionScope(scope TransactionScope) ProcessorOption {
	return func(p *TransactionProcessor) {
		p.scope = scope
	}
}

// WithCallerTransaction 显式指定调用方事务，未指定时使用 ctx 上的当前事务
func WithCallerTransaction(tx Transaction) ProcessorOption {
	return func(p *TransactionProcessor) {
		p.callerTx = tx
		p.callerTxSet = true
	}
}

// WithNewTransactionSupplier 指定新事务的构造方法，为 nil 时使用 BasicTransaction
func WithNewTransactionSupplier(supplier func() Transaction) ProcessorOption {
	return func(p *TransactionProcessor) {
		if supplier != nil {
			p.newTransaction = supplier
		}
	}
}

// WithTransactionMembers 新事务开启时注册的成员，只能用于新事务
func WithTransactionMembers(members ...Member) ProcessorOption {
	return func(p *TransactionProcessor) {
		p.members = append(p.members, members...)
	}
}

// WithBoundaryOptions 透传给 TwoPhaseBoundary 的选项
func WithBoundaryOptions(opts ...BoundaryOption) ProcessorOption {
	return func(p *TransactionProcessor) {
		p.boundaryOpts = append(p.boundaryOpts, opts...)
	}
}

func NewTransactionProcessor(registry *ActiveTransactionRegistry, opts ...ProcessorOption) *TransactionProcessor {
	processor := TransactionProcessor{
		registry:       registry,
		scope:          Required,
		newTransaction: defaultTransaction,
	}
	for _, opt := range opts {
		opt(&processor)
	}
	return &processor
}

func defaultTransaction() Transaction {
	return NewBasicTransaction()
}

func (p *TransactionProcessor) Invoke(ctx context.Context, next Callable) (interface{}, error) {
	callerTx := p.callerTx
	if !p.callerTxSet {
		callerTx = CurrentTransaction(ctx)
	}

	switch p.scope {
	case RequiresNew:
		return p.runInNewTransaction(ctx, next)
	case Mandatory:
		if callerTx == nil {
			return nil, TransactionRequiredError{}
		}
		return p.runInCallerTransaction(ctx, callerTx, next)
	case Required:
		if callerTx == nil {
			return p.runInNewTransaction(ctx, next)
		}
		return p.runInCallerTransaction(ctx, callerTx, next)
	default:
		return nil, newAssertionError("unsupported transaction scope: %d", int(p.scope))
	}
}

// runInCallerTransaction 在调用方事务中执行，不负责提交，失败只记录到调用方事务上
func (p *TransactionProcessor) runInCallerTransaction(ctx context.Context, callerTx Transaction, next Callable) (result interface{}, err error) {
	if len(p.members) > 0 {
		return nil, newAssertionError("transaction members can only be registered on a new transaction, scope: %s", p.scope)
	}

	defer func() {
		if r := recover(); r != nil {
			callerTx.AddFailure(&PanicError{Value: r})
			panic(r)
		}
	}()

	result, err = next(WithTransaction(ctx, callerTx))
	if err != nil {
		callerTx.AddFailure(err)
	}
	return result, err
}

func (p *TransactionProcessor) runInNewTransaction(ctx context.Context, next Callable) (interface{}, error) {
	tx := p.newTransaction()
	if tx == nil {
		return nil, newAssertionError("new transaction supplier returned nil")
	}

	for _, member := range p.members {
		if err := tx.RegisterMember(member); err != nil {
			log.ErrorContextf(ctx, "register transaction member failed, tx id: %s, member id: %s, err: %v", tx.ID(), member.MemberID(), err)
			_ = newSafeTransaction(tx).Release(ctx)
			return nil, err
		}
	}

	return NewTwoPhaseBoundary(tx, p.registry, p.boundaryOpts...).Invoke(ctx, next)
}
