package gotxn

import (
	"sync"
	"time"
)

// ActiveTransactionRegistry 记录正在执行中的事务，供其他 goroutine 按 job 定位并取消事务.
// 条目只在一次事务边界执行期间存在.
type ActiveTransactionRegistry struct {
	mux     sync.RWMutex
	entries map[string]map[string]*RegistryEntry
	closed  bool
}

// 注册表中的一条记录
type RegistryEntry struct {
	JobID        string
	Transaction  Transaction
	RegisteredAt time.Time
}

func NewActiveTransactionRegistry() *ActiveTransactionRegistry {
	return &ActiveTransactionRegistry{
		entries: make(map[string]map[string]*RegistryEntry),
	}
}

// Register 将事务关联到 job 上，重复注册同一事务不会产生新的条目.
func (r *ActiveTransactionRegistry) Register(job *Job, tx Transaction) {
	if job == nil || tx == nil {
		return
	}
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.closed {
		return
	}
	txs, ok := r.entries[job.ID]
	if !ok {
		txs = make(map[string]*RegistryEntry)
		r.entries[job.ID] = txs
	}
	if _, ok := txs[tx.ID()]; ok {
		return
	}
	txs[tx.ID()] = &RegistryEntry{
		JobID:        job.ID,
		Transaction:  tx,
		RegisteredAt: time.Now(),
	}
}

// Unregister 移除关联，条目不存在时什么也不做.
func (r *ActiveTransactionRegistry) Unregister(job *Job, tx Transaction) {
	if job == nil || tx == nil {
		return
	}
	r.mux.Lock()
	defer r.mux.Unlock()
	txs, ok := r.entries[job.ID]
	if !ok {
		return
	}
	delete(txs, tx.ID())
	if len(txs) == 0 {
		delete(r.entries, job.ID)
	}
}

// Transactions 返回 job 下正在执行的事务
func (r *ActiveTransactionRegistry) Transactions(jobID string) []Transaction {
	r.mux.RLock()
	defer r.mux.RUnlock()
	txs := make([]Transaction, 0, len(r.entries[jobID]))
	for _, entry := range r.entries[jobID] {
		txs = append(txs, entry.Transaction)
	}
	return txs
}

// Cancel 取消 job 下所有正在执行的事务，至少有一笔事务被首次取消时返回 true.
func (r *ActiveTransactionRegistry) Cancel(jobID string, interrupt bool) bool {
	// 在锁外取消，避免事务成员的 Cancel 阻塞注册表
	var cancelled bool
	for _, tx := range r.Transactions(jobID) {
		if tx.Cancel(interrupt) {
			cancelled = true
		}
	}
	return cancelled
}

// Expired 返回注册时间早于 deadline 的条目
func (r *ActiveTransactionRegistry) Expired(deadline time.Time) []*RegistryEntry {
	r.mux.RLock()
	defer r.mux.RUnlock()
	var expired []*RegistryEntry
	for _, txs := range r.entries {
		for _, entry := range txs {
			if entry.RegisteredAt.Before(deadline) {
				expired = append(expired, entry)
			}
		}
	}
	return expired
}

// Len 正在执行中的事务总数
func (r *ActiveTransactionRegistry) Len() int {
	r.mux.RLock()
	defer r.mux.RUnlock()
	var n int
	for _, txs := range r.entries {
		n += len(txs)
	}
	return n
}

// Close 清空注册表，之后的 Register 不再生效.
func (r *ActiveTransactionRegistry) Close() {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.closed = true
	r.entries = make(map[string]map[string]*RegistryEntry)
}
