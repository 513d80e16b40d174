package gotxn

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Options struct {
	// 事务执行时长限制，超时的事务会被监控任务取消
	Timeout time.Duration
	// 轮询监控任务间隔时长
	MonitorTick time.Duration
	// worker 数量
	Workers int
	// worker 名称前缀
	WorkerPrefix string
	// 事务执行结果存储，为 nil 时不记录
	OutcomeStore OutcomeStore
	// 指标注册中心，为 nil 时不注册
	Registerer prometheus.Registerer
	// 新事务的构造方法
	TransactionSupplier func() Transaction
}

type Option func(*Options)

func WithTimeout(timeout time.Duration) Option {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return func(o *Options) {
		o.Timeout = timeout
	}
}

func WithMonitorTick(tick time.Duration) Option {
	if tick <= 0 {
		tick = 10 * time.Second
	}

	return func(o *Options) {
		o.MonitorTick = tick
	}
}

func WithWorkers(workers int) Option {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return func(o *Options) {
		o.Workers = workers
	}
}

func WithWorkerPrefix(prefix string) Option {
	return func(o *Options) {
		o.WorkerPrefix = prefix
	}
}

func WithOutcomeStore(store OutcomeStore) Option {
	return func(o *Options) {
		o.OutcomeStore = store
	}
}

func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(o *Options) {
		o.Registerer = registerer
	}
}

func WithTransactionSupplier(supplier func() Transaction) Option {
	return func(o *Options) {
		o.TransactionSupplier = supplier
	}
}

func repair(o *Options) {
	if o.MonitorTick <= 0 {
		o.MonitorTick = 10 * time.Second
	}

	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}

	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}

	if o.WorkerPrefix == "" {
		o.WorkerPrefix = "gotxn-worker"
	}

	if o.TransactionSupplier == nil {
		o.TransactionSupplier = defaultTransaction
	}
}
