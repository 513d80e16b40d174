package gotxn

import "context"

// 事务成员，代表参与两阶段提交的一项资源，例如数据库连接、分布式锁
type Member interface {
	// 返回成员在事务内的唯一 id
	MemberID() string
	// 是否有需要提交的变更，为 false 时不参与 commit / rollback
	NeedsCommit() bool
	// 执行第一阶段的投票操作，返回 false 表示拒绝提交
	CommitPhase1(ctx context.Context) (bool, error)
	// 执行第二阶段的提交操作
	CommitPhase2(ctx context.Context) error
	// 回滚变更
	Rollback(ctx context.Context) error
	// 释放资源，无论提交还是回滚都会调用
	Release(ctx context.Context) error
	// 事务被取消时调用，用于中断正在进行的操作
	Cancel(ctx context.Context)
}
