package example

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/agiledragon/gomonkey/v2"
	"github.com/stretchr/testify/assert"
	"github.com/xiaoxuxiansheng/redis_lock"

	"github.com/xiaoxuxiansheng/gotxn"
	expdao "github.com/xiaoxuxiansheng/gotxn/example/dao"
)

type mockOutcomeRecordDAO struct {
	records []*expdao.OutcomeRecordPO
	getErr  error
}

func newMockOutcomeRecordDAO() *mockOutcomeRecordDAO {
	return &mockOutcomeRecordDAO{}
}

func (m *mockOutcomeRecordDAO) GetOutcomeRecords(ctx context.Context, opts ...expdao.QueryOption) ([]*expdao.OutcomeRecordPO, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.records, nil
}

func (m *mockOutcomeRecordDAO) CreateOutcomeRecords(ctx context.Context, records ...*expdao.OutcomeRecordPO) error {
	for _, record := range records {
		if record.TXID == "" {
			return errors.New("empty tx id")
		}
	}
	m.records = append(m.records, records...)
	return nil
}

func Test_OutcomeStore_Lock(t *testing.T) {
	lockErr := "lockErr"
	lockErrCtxKey := &lockErr
	patch := gomonkey.ApplyMethod(reflect.TypeOf(&redis_lock.RedisLock{}), "Lock", func(_ *redis_lock.RedisLock, ctx context.Context) error {
		lockErr, _ := ctx.Value(lockErrCtxKey).(bool)
		if lockErr {
			return errors.New("lock err")
		}
		return nil
	})
	patch = patch.ApplyMethod(reflect.TypeOf(&redis_lock.RedisLock{}), "Unlock", func(_ *redis_lock.RedisLock, ctx context.Context) error {
		return nil
	})
	defer patch.Reset()

	ctx := context.Background()
	outcomeStore := NewOutcomeStore(newMockOutcomeRecordDAO(), &redis_lock.Client{})
	err := outcomeStore.Lock(ctx, time.Second)
	assert.Equal(t, nil, err)
	err = outcomeStore.Unlock(ctx)
	assert.Equal(t, nil, err)

	err = outcomeStore.Lock(context.WithValue(ctx, lockErrCtxKey, true), 100*time.Millisecond)
	assert.Equal(t, true, err != nil)
}

func Test_OutcomeStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	dao := newMockOutcomeRecordDAO()
	outcomeStore := NewOutcomeStore(dao, &redis_lock.Client{})

	now := time.Now()
	err := outcomeStore.SaveOutcomes(ctx, &gotxn.Outcome{
		TXID:       "tx",
		JobID:      "job",
		JobName:    "transfer",
		Status:     gotxn.TXRolledBack,
		Failures:   []string{"insufficient balance"},
		StartedAt:  now,
		FinishedAt: now,
	})
	assert.Equal(t, nil, err)
	if assert.Equal(t, 1, len(dao.records)) {
		assert.Equal(t, `["insufficient balance"]`, dao.records[0].Failures)
		assert.Equal(t, gotxn.TXRolledBack.String(), dao.records[0].Status)
	}

	outcome, err := outcomeStore.GetOutcome(ctx, "tx")
	assert.Equal(t, nil, err)
	assert.Equal(t, "job", outcome.JobID)
	assert.Equal(t, gotxn.TXRolledBack, outcome.Status)
	assert.Equal(t, []string{"insufficient balance"}, outcome.Failures)
	assert.False(t, outcome.Committed())

	err = outcomeStore.SaveOutcomes(ctx, &gotxn.Outcome{})
	assert.Equal(t, true, err != nil)
}

func Test_OutcomeStore_GetOutcome(t *testing.T) {
	ctx := context.Background()
	dao := newMockOutcomeRecordDAO()
	outcomeStore := NewOutcomeStore(dao, &redis_lock.Client{})

	_, err := outcomeStore.GetOutcome(ctx, "missing")
	assert.ErrorIs(t, err, gotxn.ErrOutcomeNotFound)

	dao.getErr = errors.New("db down")
	_, err = outcomeStore.GetOutcome(ctx, "tx")
	assert.Equal(t, dao.getErr, err)
}
