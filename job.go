package gotxn

import (
	"context"

	"github.com/google/uuid"
)

const unknownJob = "unknown"

// Job 是事务边界所绑定的执行上下文
type Job struct {
	// 全局唯一的 job id
	ID string
	// job 名称，用于日志
	Name string
	// 调用者身份，为空时视为匿名
	Principal string

	cancel context.CancelCauseFunc
}

// NewJob 创建 job，id 为空时生成 uuid
func NewJob(id, name, principal string) *Job {
	if id == "" {
		id = uuid.NewString()
	}
	return &Job{
		ID:        id,
		Name:      name,
		Principal: principal,
	}
}

// Identifier 返回 job id，未知时返回 unknown
func (j *Job) Identifier() string {
	if j == nil || j.ID == "" {
		return unknownJob
	}
	return j.ID
}

// Identity 返回调用者身份，匿名时返回 anonymous
func (j *Job) Identity() string {
	if j == nil || j.Principal == "" {
		return "anonymous"
	}
	return j.Principal
}

func (j *Job) String() string {
	if j == nil {
		return unknownJob
	}
	if j.Name == "" {
		return j.Identifier()
	}
	return j.Name + "(" + j.Identifier() + ")"
}

// Cancel 中断 job 的执行上下文，业务逻辑通过 ctx.Done() 感知
func (j *Job) Cancel(cause error) {
	if j == nil || j.cancel == nil {
		return
	}
	j.cancel(cause)
}

type jobCtxKey struct{}

// WithJob 把 job 绑定到 ctx 上，返回的 ctx 可被 job.Cancel 取消
func WithJob(ctx context.Context, job *Job) context.Context {
	ctx, cancel := context.WithCancelCause(ctx)
	job.cancel = cancel
	return context.WithValue(ctx, jobCtxKey{}, job)
}

// JobFromContext 获取 ctx 上的 job
func JobFromContext(ctx context.Context) (*Job, bool) {
	job, ok := ctx.Value(jobCtxKey{}).(*Job)
	return job, ok && job != nil
}

// CurrentJob 获取 ctx 上的 job，没有时返回 nil
func CurrentJob(ctx context.Context) *Job {
	job, _ := JobFromContext(ctx)
	return job
}
