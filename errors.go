package gotxn

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// ProcessingError 是 pipeline 对外暴露的统一错误类型.
// 它包装原始错误并携带诊断上下文，例如调用者身份与 job id.
type ProcessingError struct {
	msg         string
	cause       error
	contextInfo []string
	stack       errors.StackTrace
}

// NewProcessingError 构造一个包装 cause 的 ProcessingError，msg 为空时使用 cause 的描述.
func NewProcessingError(msg string, cause error) *ProcessingError {
	if msg == "" && cause != nil {
		msg = describe(cause)
	}
	return &ProcessingError{
		msg:   msg,
		cause: cause,
		stack: callers(),
	}
}

func (p *ProcessingError) Error() string {
	if len(p.contextInfo) == 0 {
		return p.msg
	}
	return fmt.Sprintf("%s [%s]", p.msg, strings.Join(p.contextInfo, ", "))
}

// Message 返回不带上下文信息的原始描述.
func (p *ProcessingError) Message() string {
	return p.msg
}

func (p *ProcessingError) Unwrap() error {
	return p.cause
}

// Cause 兼容 github.com/pkg/errors 的 causer 接口.
func (p *ProcessingError) Cause() error {
	return p.cause
}

// WithContextInfo 追加一条 name=value 形式的诊断信息.
func (p *ProcessingError) WithContextInfo(name string, value interface{}) *ProcessingError {
	p.contextInfo = append(p.contextInfo, fmt.Sprintf("%s=%v", name, value))
	return p
}

// ContextInfos 返回已追加的诊断信息.
func (p *ProcessingError) ContextInfos() []string {
	infos := make([]string, len(p.contextInfo))
	copy(infos, p.contextInfo)
	return infos
}

// Format 支持 %+v 打印构造时的调用栈.
func (p *ProcessingError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s%+v", p.Error(), p.stack)
			if p.cause != nil {
				fmt.Fprintf(s, "\ncaused by: %+v", p.cause)
			}
			return
		}
		fallthrough
	case 's':
		_, _ = fmt.Fprint(s, p.Error())
	case 'q':
		fmt.Fprintf(s, "%q", p.Error())
	}
}

type executionKind int

const (
	kindInterrupted executionKind = iota + 1
	kindTimedOut
	kindCancelled
)

// ExecutionError 标识由中断、超时、取消引起的失败，调用方可以通过标志位区分原因.
type ExecutionError struct {
	*ProcessingError
	kind executionKind
}

func newExecutionError(kind executionKind, msg string, cause error) *ExecutionError {
	return &ExecutionError{
		ProcessingError: NewProcessingError(msg, cause),
		kind:            kind,
	}
}

// As 使 errors.As 能够从 ExecutionError 中取出 ProcessingError.
func (e *ExecutionError) As(target interface{}) bool {
	if p, ok := target.(**ProcessingError); ok {
		*p = e.ProcessingError
		return true
	}
	return false
}

func (e *ExecutionError) Interrupted() bool { return e.kind == kindInterrupted }
func (e *ExecutionError) TimedOut() bool    { return e.kind == kindTimedOut }
func (e *ExecutionError) Cancelled() bool   { return e.kind == kindCancelled }

// InvocationError 是间接调用（反射、代理）产生的包装错误，真正的原因在 Cause 中.
type InvocationError struct {
	Target string
	cause  error
}

func NewInvocationError(target string, cause error) *InvocationError {
	return &InvocationError{Target: target, cause: cause}
}

func (i *InvocationError) Error() string {
	if i.cause == nil {
		return fmt.Sprintf("invocation of %s failed", i.Target)
	}
	return fmt.Sprintf("invocation of %s failed: %v", i.Target, i.cause)
}

func (i *InvocationError) Unwrap() error { return i.cause }
func (i *InvocationError) Cause() error  { return i.cause }

// AssertionError 表示前置条件不满足，属于致命错误，不会重试.
type AssertionError struct {
	msg string
}

func newAssertionError(format string, args ...interface{}) *AssertionError {
	return &AssertionError{msg: fmt.Sprintf(format, args...)}
}

func (a *AssertionError) Error() string {
	return "assertion error: " + a.msg
}

// TransactionRequiredError 在 Mandatory 范围下没有调用方事务时返回.
type TransactionRequiredError struct{}

func (TransactionRequiredError) Error() string {
	return "transaction required: no transaction present in calling context"
}

// PanicError 记录业务逻辑或事务成员 panic 的值.
type PanicError struct {
	Value interface{}
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// Unwrap 当 panic 的值本身是 error 时暴露它.
func (p *PanicError) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// callers 记录构造错误时的调用栈，去掉 callers 与构造函数自身两层.
func callers() errors.StackTrace {
	st := errors.New("").(stackTracer).StackTrace()
	if len(st) > 2 {
		return st[2:]
	}
	return st
}

// describe 返回错误的描述文本，空描述时退化为错误的类型名.
func describe(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return reflect.TypeOf(err).String()
}

// IsInterrupted, IsTimedOut, IsCancelled 判断错误链中是否存在对应标志的 ExecutionError.
func IsInterrupted(err error) bool {
	var e *ExecutionError
	return errors.As(err, &e) && e.Interrupted()
}

func IsTimedOut(err error) bool {
	var e *ExecutionError
	return errors.As(err, &e) && e.TimedOut()
}

func IsCancelled(err error) bool {
	var e *ExecutionError
	return errors.As(err, &e) && e.Cancelled()
}
