package gotxn

import (
	"context"
	"errors"
	"runtime/pprof"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_decorate_name(t *testing.T) {
	tests := []struct {
		name string
		base string
		job  *Job
		want string
	}{
		{name: "append job id", base: "worker-1", job: NewJob("42", "", ""), want: "worker-1;42"},
		{name: "replace outer job id", base: "worker-1;41", job: NewJob("42", "", ""), want: "worker-1;42"},
		{name: "unknown job", base: "worker-1;41", job: nil, want: "worker-1"},
		{name: "empty job id", base: "worker-1", job: &Job{}, want: "worker-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecorateName(tt.base, tt.job))
		})
	}
}

func Test_strip_job_suffix(t *testing.T) {
	assert.Equal(t, "worker", StripJobSuffix("worker;1;2"))
	assert.Equal(t, "worker", StripJobSuffix("worker"))
	assert.Equal(t, "", StripJobSuffix(";1"))
}

func Test_worker_name_with_separator(t *testing.T) {
	worker := NewWorker("pool;a-0")
	assert.Equal(t, "pool-a-0", worker.Name())

	ctx := WithJob(WithWorker(context.Background(), worker), NewJob("42", "", ""))
	_, err := ThreadNameDecorator{}.Invoke(ctx, func(ctx context.Context) (interface{}, error) {
		assert.Equal(t, "pool-a-0;42", worker.Name())
		assert.Equal(t, "pool-a-0", StripJobSuffix(worker.Name()))
		return nil, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "pool-a-0", worker.Name())
}

func Test_thread_name_decorator(t *testing.T) {
	bizErr := errors.New("business failed")
	tests := []struct {
		name string
		work Callable
	}{
		{
			name: "success",
			work: func(ctx context.Context) (interface{}, error) {
				return nil, nil
			},
		},
		{
			name: "error",
			work: func(ctx context.Context) (interface{}, error) {
				return nil, bizErr
			},
		},
		{
			name: "panic",
			work: func(ctx context.Context) (interface{}, error) {
				panic("boom")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			worker := NewWorker("worker-0")
			ctx := WithWorker(newJobCtx("job-name"), worker)

			var during, label string
			work := func(ctx context.Context) (interface{}, error) {
				during = worker.Name()
				label, _ = pprof.Label(ctx, "job")
				return tt.work(ctx)
			}

			func() {
				defer func() { _ = recover() }()
				_, _ = ThreadNameDecorator{}.Invoke(ctx, work)
			}()

			assert.Equal(t, "worker-0;job-name", during)
			assert.Equal(t, "job-name", label)
			assert.Equal(t, "worker-0", worker.Name())
		})
	}
}

func Test_thread_name_decorator_without_worker(t *testing.T) {
	result, err := ThreadNameDecorator{}.Invoke(newJobCtx("job-name"), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func Test_thread_name_decorator_returns_same_error(t *testing.T) {
	bizErr := errors.New("business failed")
	ctx := WithWorker(newJobCtx("job-name"), NewWorker("worker-0"))
	result, err := ThreadNameDecorator{}.Invoke(ctx, func(ctx context.Context) (interface{}, error) {
		return "partial", bizErr
	})
	assert.Same(t, bizErr, err)
	assert.Equal(t, "partial", result)
}

func Test_thread_name_decorator_nested(t *testing.T) {
	worker := NewWorker("worker-0")
	outer := WithWorker(newJobCtx("outer"), worker)

	var inner string
	_, err := ThreadNameDecorator{}.Invoke(outer, func(ctx context.Context) (interface{}, error) {
		nested := WithJob(ctx, NewJob("inner", "", ""))
		return ThreadNameDecorator{}.Invoke(nested, func(ctx context.Context) (interface{}, error) {
			inner = worker.Name()
			return nil, nil
		})
	})
	assert.NoError(t, err)
	assert.Equal(t, "worker-0;inner", inner)
	assert.Equal(t, "worker-0", worker.Name())
}
