package gotxn

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// 事务执行结果存储模块，用于审计已结束的事务边界
type OutcomeStore interface {
	// 批量保存执行结果
	SaveOutcomes(ctx context.Context, outcomes ...*Outcome) error
	// 获取指定事务的执行结果
	GetOutcome(ctx context.Context, txID string) (*Outcome, error)
	// 锁住整个 OutcomeStore 模块（要求为分布式锁），避免多个节点并发写入
	Lock(ctx context.Context, expireDuration time.Duration) error
	// 解锁 OutcomeStore 模块
	Unlock(ctx context.Context) error
}

// ErrOutcomeNotFound 指定事务的执行结果不存在
var ErrOutcomeNotFound = errors.New("outcome not found")
