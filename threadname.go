package gotxn

import (
	"context"
	"runtime/pprof"
	"strings"
	"sync"
)

// jobNameSeparator 分隔 worker 原始名称与 job id
const jobNameSeparator = ";"

// Worker 是执行 job 的工作协程，名称可在执行期间被修改，用于观测与排障.
type Worker struct {
	mux  sync.RWMutex
	name string
}

// NewWorker 创建 worker，名称中的分隔符会被替换为 "-"，保证去掉 job 后缀后能还原原始名称
func NewWorker(name string) *Worker {
	return &Worker{name: strings.ReplaceAll(name, jobNameSeparator, "-")}
}

func (w *Worker) Name() string {
	w.mux.RLock()
	defer w.mux.RUnlock()
	return w.name
}

func (w *Worker) SetName(name string) {
	w.mux.Lock()
	defer w.mux.Unlock()
	w.name = name
}

type workerCtxKey struct{}

func WithWorker(ctx context.Context, worker *Worker) context.Context {
	return context.WithValue(ctx, workerCtxKey{}, worker)
}

// WorkerFromContext 获取执行当前 job 的 worker，没有时返回 nil
func WorkerFromContext(ctx context.Context) *Worker {
	worker, _ := ctx.Value(workerCtxKey{}).(*Worker)
	return worker
}

// ThreadNameDecorator 在执行期间把 job id 追加到 worker 名称上，退出时恢复原名称.
// 名称同时作为 pprof 标签挂到当前 goroutine 上.
type ThreadNameDecorator struct{}

func (ThreadNameDecorator) Invoke(ctx context.Context, next Callable) (result interface{}, err error) {
	worker := WorkerFromContext(ctx)
	if worker == nil {
		return next(ctx)
	}

	job := CurrentJob(ctx)
	original := worker.Name()
	name := DecorateName(original, job)
	worker.SetName(name)
	defer worker.SetName(original)

	pprof.Do(ctx, pprof.Labels("worker", name, "job", job.Identifier()), func(ctx context.Context) {
		result, err = next(ctx)
	})
	return result, err
}

// DecorateName 去掉外层 job 留下的后缀，再追加当前 job id；job 未知时只去掉后缀
func DecorateName(name string, job *Job) string {
	base := StripJobSuffix(name)
	if job.Identifier() == unknownJob {
		return base
	}
	return base + jobNameSeparator + job.Identifier()
}

// StripJobSuffix 返回未被 job 装饰过的名称
func StripJobSuffix(name string) string {
	if i := strings.Index(name, jobNameSeparator); i >= 0 {
		return name[:i]
	}
	return name
}
