package gotxn

import (
	"sync"
	"testing"
	"time"

	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
)

func Test_registry_register_unregister(t *testing.T) {
	registry := NewActiveTransactionRegistry()
	job := NewJob("job-1", "", "")
	tx := newRecordingTransaction()

	registry.Register(job, tx)
	registry.Register(job, tx)
	assert.Equal(t, 1, registry.Len())
	assert.Len(t, registry.Transactions("job-1"), 1)

	registry.Unregister(job, tx)
	assert.Equal(t, 0, registry.Len())
	// 重复移除不会报错
	registry.Unregister(job, tx)
	registry.Unregister(NewJob("missing", "", ""), tx)
	registry.Unregister(nil, tx)
	assert.Equal(t, 0, registry.Len())
}

func Test_registry_nested_transactions(t *testing.T) {
	registry := NewActiveTransactionRegistry()
	job := NewJob("job-1", "", "")
	outer, inner := newRecordingTransaction(), newRecordingTransaction()

	registry.Register(job, outer)
	registry.Register(job, inner)
	assert.Len(t, registry.Transactions("job-1"), 2)

	assert.True(t, registry.Cancel("job-1", false))
	assert.True(t, outer.IsCancelled())
	assert.True(t, inner.IsCancelled())
	assert.False(t, inner.interrupted)
	// 已经取消过的事务不会再次取消
	assert.False(t, registry.Cancel("job-1", false))
	assert.False(t, registry.Cancel("unknown-job", true))

	registry.Unregister(job, inner)
	assert.Len(t, registry.Transactions("job-1"), 1)
}

func Test_registry_concurrent(t *testing.T) {
	registry := NewActiveTransactionRegistry()
	concurrent := 100
	var wg sync.WaitGroup
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job := NewJob(cast.ToString(i%10), "", "")
			tx := newRecordingTransaction()
			registry.Register(job, tx)
			_ = registry.Transactions(job.ID)
			registry.Cancel(job.ID, true)
			registry.Unregister(job, tx)
			registry.Unregister(job, tx)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, registry.Len())
}

func Test_registry_expired(t *testing.T) {
	registry := NewActiveTransactionRegistry()
	job := NewJob("job-1", "", "")
	tx := newRecordingTransaction()
	registry.Register(job, tx)

	assert.Empty(t, registry.Expired(time.Now().Add(-time.Minute)))
	expired := registry.Expired(time.Now().Add(time.Minute))
	if assert.Len(t, expired, 1) {
		assert.Equal(t, "job-1", expired[0].JobID)
		assert.Equal(t, tx.ID(), expired[0].Transaction.ID())
	}
}

func Test_registry_close(t *testing.T) {
	registry := NewActiveTransactionRegistry()
	job := NewJob("job-1", "", "")
	registry.Register(job, newRecordingTransaction())
	registry.Close()
	assert.Equal(t, 0, registry.Len())

	registry.Register(job, newRecordingTransaction())
	assert.Equal(t, 0, registry.Len())
}
