package gotxn

import (
	"context"
	"fmt"
	"reflect"
	"runtime"

	"github.com/pkg/errors"
)

// Callable 是一次工作单元
type Callable func(ctx context.Context) (interface{}, error)

// Processor 是责任链上的一环，处理完横切逻辑后调用 next
type Processor interface {
	Invoke(ctx context.Context, next Callable) (interface{}, error)
}

// ProcessorFunc 函数适配为 Processor
type ProcessorFunc func(ctx context.Context, next Callable) (interface{}, error)

func (f ProcessorFunc) Invoke(ctx context.Context, next Callable) (interface{}, error) {
	return f(ctx, next)
}

// Chain 按添加顺序组合 Processor，先添加的在最外层
type Chain struct {
	processors []Processor
}

func NewChain(processors ...Processor) *Chain {
	return (&Chain{}).AddAll(processors...)
}

func (c *Chain) Add(processor Processor) *Chain {
	if processor != nil {
		c.processors = append(c.processors, processor)
	}
	return c
}

func (c *Chain) AddAll(processors ...Processor) *Chain {
	for _, processor := range processors {
		c.Add(processor)
	}
	return c
}

// Processors 返回链上 Processor 的副本
func (c *Chain) Processors() []Processor {
	processors := make([]Processor, len(c.processors))
	copy(processors, c.processors)
	return processors
}

// Compose 把链和 callable 组合成一个 Callable
func (c *Chain) Compose(callable Callable) Callable {
	composed := callable
	for i := len(c.processors) - 1; i >= 0; i-- {
		processor, next := c.processors[i], composed
		composed = func(ctx context.Context) (interface{}, error) {
			return processor.Invoke(ctx, next)
		}
	}
	return composed
}

func (c *Chain) Call(ctx context.Context, callable Callable) (interface{}, error) {
	if callable == nil {
		return nil, newAssertionError("callable must not be nil")
	}
	return c.Compose(callable)(ctx)
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Reflect 通过反射间接调用任意函数.
// fn 的第一个参数可以是 context.Context，最后一个返回值可以是 error，至多返回一个结果值.
// fn 返回的错误或 panic 都会被包装为 InvocationError.
func Reflect(fn interface{}, args ...interface{}) (Callable, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		return nil, errors.Errorf("reflect target must be a func, got %T", fn)
	}
	ft := fv.Type()
	withCtx := ft.NumIn() > 0 && ft.In(0) == contextType

	numArgs := len(args)
	if withCtx {
		numArgs++
	}
	if !ft.IsVariadic() && ft.NumIn() != numArgs {
		return nil, errors.Errorf("reflect target %s expects %d args, got %d", ft, ft.NumIn(), numArgs)
	}

	numOut := ft.NumOut()
	withErr := numOut > 0 && ft.Out(numOut-1) == errorType
	if withErr {
		numOut--
	}
	if numOut > 1 {
		return nil, errors.Errorf("reflect target %s returns too many values", ft)
	}

	name := funcName(fv)
	return func(ctx context.Context) (result interface{}, err error) {
		in := make([]reflect.Value, 0, ft.NumIn())
		if withCtx {
			in = append(in, reflect.ValueOf(ctx))
		}
		for i, arg := range args {
			idx := i
			if withCtx {
				idx++
			}
			in = append(in, argValue(ft, idx, arg))
		}

		defer func() {
			if r := recover(); r != nil {
				result, err = nil, NewInvocationError(name, &PanicError{Value: r})
			}
		}()

		out := fv.Call(in)
		if withErr {
			if e, _ := out[len(out)-1].Interface().(error); e != nil {
				return nil, NewInvocationError(name, e)
			}
		}
		if numOut == 1 {
			return out[0].Interface(), nil
		}
		return nil, nil
	}, nil
}

func argValue(ft reflect.Type, idx int, arg interface{}) reflect.Value {
	var t reflect.Type
	if ft.IsVariadic() && idx >= ft.NumIn()-1 {
		t = ft.In(ft.NumIn() - 1).Elem()
	} else {
		t = ft.In(idx)
	}
	if arg == nil {
		return reflect.Zero(t)
	}
	return reflect.ValueOf(arg)
}

func funcName(fv reflect.Value) string {
	if f := runtime.FuncForPC(fv.Pointer()); f != nil {
		return f.Name()
	}
	return fmt.Sprintf("%v", fv.Type())
}
