package gotxn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_job(t *testing.T) {
	job := NewJob("", "report", "")
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "anonymous", job.Identity())
	assert.Equal(t, "report("+job.ID+")", job.String())

	var missing *Job
	assert.Equal(t, "unknown", missing.Identifier())
	assert.Equal(t, "anonymous", missing.Identity())
	assert.Equal(t, "unknown", missing.String())
	missing.Cancel(ErrCancelled)
}

func Test_job_context(t *testing.T) {
	_, ok := JobFromContext(context.Background())
	assert.False(t, ok)
	assert.Nil(t, CurrentJob(context.Background()))

	job := NewJob("job-1", "", "bob")
	ctx := WithJob(context.Background(), job)
	got, ok := JobFromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, job, got)

	job.Cancel(ErrInterrupted)
	<-ctx.Done()
	assert.ErrorIs(t, context.Cause(ctx), ErrInterrupted)
}
