package gotxn

import (
	"time"
)

// 事务状态
type TXStatus string

const (
	// 事务执行中
	TXActive TXStatus = "active"
	// 事务提交中
	TXCommitting TXStatus = "committing"
	// 事务已提交
	TXCommitted TXStatus = "committed"
	// 事务已回滚
	TXRolledBack TXStatus = "rolledback"
	// 事务资源已释放
	TXReleased TXStatus = "released"
)

func (t TXStatus) String() string {
	return string(t)
}

// 事务边界范围
type TransactionScope int

const (
	// 调用方存在事务时加入，否则开启新事务
	Required TransactionScope = iota
	// 总是开启新事务
	RequiresNew
	// 必须运行在调用方事务中
	Mandatory
)

func (t TransactionScope) String() string {
	switch t {
	case Required:
		return "REQUIRED"
	case RequiresNew:
		return "REQUIRES_NEW"
	case Mandatory:
		return "MANDATORY"
	default:
		return "UNKNOWN"
	}
}

// 一次事务边界执行完成后的结果记录
type Outcome struct {
	TXID    string `json:"txID"`
	JobID   string `json:"jobID"`
	JobName string `json:"jobName"`
	// 最终状态，committed 或 rolledback
	Status     TXStatus  `json:"status"`
	Failures   []string  `json:"failures"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Duration 事务边界的执行耗时
func (o *Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Committed 事务是否成功提交
func (o *Outcome) Committed() bool {
	return o.Status == TXCommitted
}
