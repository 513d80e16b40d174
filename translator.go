package gotxn

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInterrupted 作为 job ctx 的取消原因，表示 job 被中断
	ErrInterrupted = errors.New("job interrupted")
	// ErrCancelled 作为 job ctx 的取消原因，表示 job 被取消
	ErrCancelled = errors.New("job cancelled")
)

// ExceptionTranslator 把工作单元的任意错误或 panic 转换为 ProcessingError，并附带身份与 job id.
type ExceptionTranslator struct{}

func (ExceptionTranslator) Invoke(ctx context.Context, next Callable) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, Translate(ctx, &PanicError{Value: r})
		}
	}()

	result, err = next(ctx)
	if err != nil {
		return nil, Translate(ctx, err)
	}
	return result, nil
}

type contextualError interface {
	error
	WithContextInfo(name string, value interface{}) *ProcessingError
	ContextInfos() []string
}

// Translate 转换错误，结果为 *ProcessingError 或 *ExecutionError
func Translate(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	cause := unwrapInvocation(err)

	var translated contextualError
	switch e := cause.(type) {
	case *ExecutionError:
		translated = e
	case *ProcessingError:
		translated = e
	default:
		switch {
		case errors.Is(cause, ErrInterrupted):
			translated = TranslateInterrupted(cause, "")
		case errors.Is(cause, context.DeadlineExceeded):
			translated = TranslateTimeout(cause, "")
		case errors.Is(cause, context.Canceled):
			// job ctx 被取消时，按取消原因区分中断、超时与普通取消
			switch ctxCause := context.Cause(ctx); {
			case errors.Is(ctxCause, ErrInterrupted):
				translated = TranslateInterrupted(cause, "")
			case errors.Is(ctxCause, context.DeadlineExceeded):
				translated = TranslateTimeout(cause, "")
			default:
				translated = TranslateCancellation(cause, "")
			}
		case errors.Is(cause, ErrCancelled):
			translated = TranslateCancellation(cause, "")
		default:
			translated = NewProcessingError("", cause)
		}
	}

	job := CurrentJob(ctx)
	addContextInfo(translated, "identity", job.Identity())
	addContextInfo(translated, "job", job.Identifier())
	return translated
}

// unwrapInvocation 逐层剥掉 InvocationError，直到真正的原因
func unwrapInvocation(err error) error {
	for {
		invocationErr, ok := err.(*InvocationError)
		if !ok || invocationErr.Cause() == nil {
			return err
		}
		err = invocationErr.Cause()
	}
}

// addContextInfo 相同的信息只追加一次，嵌套的 job 不会重复追加
func addContextInfo(err contextualError, name string, value interface{}) {
	info := fmt.Sprintf("%s=%v", name, value)
	for _, existing := range err.ContextInfos() {
		if existing == info {
			return
		}
	}
	err.WithContextInfo(name, value)
}

// TranslateInterrupted 中断引起的失败
func TranslateInterrupted(err error, msg string) *ExecutionError {
	if msg == "" {
		msg = "interrupted while executing job"
	}
	return newExecutionError(kindInterrupted, msg, err)
}

// TranslateTimeout 超时引起的失败
func TranslateTimeout(err error, msg string) *ExecutionError {
	if msg == "" {
		msg = "timed out while executing job"
	}
	return newExecutionError(kindTimedOut, msg, err)
}

// TranslateCancellation 取消引起的失败
func TranslateCancellation(err error, msg string) *ExecutionError {
	if msg == "" {
		msg = "job was cancelled"
	}
	return newExecutionError(kindCancelled, msg, err)
}
