package gotxn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/xiaoxuxiansheng/gotxn/log"
)

// 待落库的执行结果上限，超出时丢弃最早的记录
const maxPendingOutcomes = 4096

var ErrManagerStopped = errors.New("transaction manager stopped")

// 1. worker 池，按 ThreadNameDecorator -> ExceptionTranslator -> TransactionProcessor 的顺序执行 job
// 2. 活跃事务注册表，支持按 job 取消事务
// 3. 监控任务，取消超时的事务并把执行结果写入 OutcomeStore
type Manager struct {
	ctx       context.Context
	stop      context.CancelFunc
	opts      *Options
	registry  *ActiveTransactionRegistry
	collector *Collector
	tasks     chan *task
	wg        sync.WaitGroup
	stopOnce  sync.Once

	// 监控任务退出时关闭
	monitorDone chan struct{}

	mux      sync.Mutex
	jobs     map[string]*Future
	outcomes []*Outcome
}

// JobInput 描述一次提交的 job
type JobInput struct {
	// job id，为空时生成 uuid
	ID        string
	Name      string
	Principal string
	// 事务范围，默认 Required
	Scope TransactionScope
	// 调用方事务，为 nil 时视为没有调用方事务
	Transaction Transaction
	// 新事务开启时注册的成员
	Members []Member
}

type task struct {
	ctx      context.Context
	input    *JobInput
	callable Callable
	future   *Future
}

// Future 是已提交 job 的执行结果
type Future struct {
	manager *Manager
	job     *Job
	done    chan struct{}
	result  interface{}
	err     error
}

func (f *Future) Job() *Job {
	return f.job
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await 等待 job 执行完成. ctx 结束时不会取消 job 本身
func (f *Future) Await(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, TranslateTimeout(ctx.Err(), "timed out while waiting for job "+f.job.Identifier())
		}
		return nil, TranslateInterrupted(ctx.Err(), "interrupted while waiting for job "+f.job.Identifier())
	}
}

// Cancel 取消 job 及其正在执行中的事务
func (f *Future) Cancel(interrupt bool) bool {
	return f.manager.Cancel(f.job.ID, interrupt)
}

func (f *Future) complete(result interface{}, err error) {
	f.result, f.err = result, err
	close(f.done)
}

func NewManager(opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	manager := Manager{
		ctx:       ctx,
		stop:      cancel,
		opts:      &Options{},
		registry:  NewActiveTransactionRegistry(),
		collector: NewCollector(),
		tasks:     make(chan *task),
		jobs:      make(map[string]*Future),

		monitorDone: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(manager.opts)
	}

	repair(manager.opts)

	if manager.opts.Registerer != nil {
		if err := manager.opts.Registerer.Register(manager.collector); err != nil {
			log.Warnf("register transaction collector failed, err: %v", err)
		}
	}

	for i := 0; i < manager.opts.Workers; i++ {
		manager.wg.Add(1)
		go manager.work(NewWorker(fmt.Sprintf("%s-%d", manager.opts.WorkerPrefix, i)))
	}

	go manager.run()
	return &manager
}

func (m *Manager) Registry() *ActiveTransactionRegistry {
	return m.registry
}

func (m *Manager) Collector() *Collector {
	return m.collector
}

// Stop 停止接收 job，等待执行中的 job 与监控任务结束后把剩余结果写入 OutcomeStore.
// 监控任务中被中断的写入会放回队列，由这里的最后一次写入负责落库.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.stop()
		m.wg.Wait()
		<-m.monitorDone

		if err := m.flushOutcomes(context.Background()); err != nil {
			log.Errorf("flush outcomes on stop failed, err: %v", err)
		}
		m.registry.Close()
		if m.opts.Registerer != nil {
			m.opts.Registerer.Unregister(m.collector)
		}
	})
}

// Submit 把 job 交给 worker 池异步执行，没有空闲 worker 时阻塞直到 ctx 结束
func (m *Manager) Submit(ctx context.Context, input *JobInput, callable Callable) (*Future, error) {
	if callable == nil {
		return nil, newAssertionError("callable must not be nil")
	}
	if input == nil {
		input = &JobInput{}
	}
	if m.ctx.Err() != nil {
		return nil, ErrManagerStopped
	}

	job := NewJob(input.ID, input.Name, input.Principal)
	future := &Future{
		manager: m,
		job:     job,
		done:    make(chan struct{}),
	}

	m.mux.Lock()
	if _, ok := m.jobs[job.ID]; ok {
		m.mux.Unlock()
		return nil, fmt.Errorf("repeat job: %s", job.ID)
	}
	m.jobs[job.ID] = future
	m.mux.Unlock()

	// job 的生命周期不受提交方 ctx 的影响，只通过 Cancel 或超时结束
	t := &task{
		ctx:      WithJob(context.WithoutCancel(ctx), job),
		input:    input,
		callable: callable,
		future:   future,
	}

	select {
	case m.tasks <- t:
		return future, nil
	case <-m.ctx.Done():
		m.forget(job, nil)
		return nil, ErrManagerStopped
	case <-ctx.Done():
		m.forget(job, ctx.Err())
		return nil, ctx.Err()
	}
}

// Run 提交 job 并等待其执行完成
func (m *Manager) Run(ctx context.Context, input *JobInput, callable Callable) (interface{}, error) {
	future, err := m.Submit(ctx, input, callable)
	if err != nil {
		return nil, err
	}
	return future.Await(ctx)
}

// Cancel 取消 job. interrupt 为 true 时以中断的方式取消，job 存在或有事务被取消时返回 true
func (m *Manager) Cancel(jobID string, interrupt bool) bool {
	cause := ErrCancelled
	if interrupt {
		cause = ErrInterrupted
	}

	// 先取消事务成员，再结束 job ctx，保证成员在事务边界收尾前感知到取消
	cancelled := m.registry.Cancel(jobID, interrupt)
	if cancelled {
		m.collector.cancelled(1)
	}

	m.mux.Lock()
	future, ok := m.jobs[jobID]
	m.mux.Unlock()
	if ok {
		future.job.Cancel(cause)
	}
	return ok || cancelled
}

func (m *Manager) forget(job *Job, cause error) {
	m.mux.Lock()
	delete(m.jobs, job.ID)
	m.mux.Unlock()
	job.Cancel(cause)
}

func (m *Manager) work(worker *Worker) {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case t := <-m.tasks:
			m.execute(worker, t)
		}
	}
}

func (m *Manager) execute(worker *Worker, t *task) {
	ctx := WithWorker(t.ctx, worker)
	var (
		result interface{}
		err    error
	)
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContextf(ctx, "job panicked outside of transaction boundary, worker: %s, panic: %v", worker.Name(), r)
			result, err = nil, Translate(ctx, &PanicError{Value: r})
		}
		m.forget(t.future.job, nil)
		t.future.complete(result, err)
	}()

	result, err = m.chain(t.input).Call(ctx, t.callable)
}

func (m *Manager) chain(input *JobInput) *Chain {
	return NewChain(
		ThreadNameDecorator{},
		ExceptionTranslator{},
		NewTransactionProcessor(m.registry,
			WithTransactionScope(input.Scope),
			WithCallerTransaction(input.Transaction),
			WithNewTransactionSupplier(m.opts.TransactionSupplier),
			WithTransactionMembers(input.Members...),
			WithBoundaryOptions(WithCollector(m.collector), WithCompletionHook(m.record)),
		),
	)
}

// record 暂存执行结果，由监控任务批量写入 OutcomeStore
func (m *Manager) record(ctx context.Context, outcome *Outcome) {
	if m.opts.OutcomeStore == nil {
		return
	}
	m.mux.Lock()
	defer m.mux.Unlock()
	if len(m.outcomes) >= maxPendingOutcomes {
		log.WarnContextf(ctx, "too many pending outcomes, drop tx: %s", m.outcomes[0].TXID)
		m.outcomes = m.outcomes[1:]
	}
	m.outcomes = append(m.outcomes, outcome)
}

func (m *Manager) backOffTick(tick time.Duration) time.Duration {
	tick <<= 1
	if threshold := m.opts.MonitorTick << 3; tick > threshold {
		return threshold
	}
	return tick
}

func (m *Manager) run() {
	defer close(m.monitorDone)
	var tick time.Duration
	var err error
	for {
		// 如果出现了失败，tick 需要避让，遵循退避策略增大 tick 间隔时长
		if err == nil {
			tick = m.opts.MonitorTick
		} else {
			tick = m.backOffTick(tick)
		}
		select {
		case <-m.ctx.Done():
			return

		case <-time.After(tick):
			m.reapExpired()
			err = m.flushOutcomes(m.ctx)
		}
	}
}

// reapExpired 取消执行时长超过 Timeout 的事务
func (m *Manager) reapExpired() {
	expired := m.registry.Expired(time.Now().Add(-m.opts.Timeout))
	var cancelled int
	for _, entry := range expired {
		m.mux.Lock()
		future, ok := m.jobs[entry.JobID]
		m.mux.Unlock()
		if ok {
			future.job.Cancel(context.DeadlineExceeded)
		}
		if entry.Transaction.Cancel(true) {
			cancelled++
			log.Warnf("transaction timed out, job: %s, tx id: %s, registered at: %s",
				entry.JobID, entry.Transaction.ID(), entry.RegisteredAt.Format(time.RFC3339))
		}
	}
	m.collector.cancelled(cancelled)
}

// flushOutcomes 把暂存的执行结果写入 OutcomeStore，写入失败时放回队列等待下次重试
func (m *Manager) flushOutcomes(ctx context.Context) error {
	if m.opts.OutcomeStore == nil {
		return nil
	}

	m.mux.Lock()
	batch := m.outcomes
	m.outcomes = nil
	m.mux.Unlock()
	if len(batch) == 0 {
		return nil
	}

	// 加锁，避免多个分布式节点重复写入
	if err := m.opts.OutcomeStore.Lock(ctx, m.opts.MonitorTick); err != nil {
		// 取锁失败时（大概率被其他节点占有），不对 tick 进行退避升级
		log.Warnf("lock outcome store failed, err: %v", err)
		m.requeue(batch)
		return nil
	}
	defer func() {
		// ctx 可能已被 Stop 取消，解锁不受影响
		if err := m.opts.OutcomeStore.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warnf("unlock outcome store failed, err: %v", err)
		}
	}()

	if err := m.opts.OutcomeStore.SaveOutcomes(ctx, batch...); err != nil {
		log.Errorf("save outcomes failed, count: %d, err: %v", len(batch), err)
		m.requeue(batch)
		return err
	}
	return nil
}

func (m *Manager) requeue(batch []*Outcome) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.outcomes = append(batch, m.outcomes...)
	if overflow := len(m.outcomes) - maxPendingOutcomes; overflow > 0 {
		m.outcomes = m.outcomes[overflow:]
	}
}
