package example

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xiaoxuxiansheng/redis_lock"

	"github.com/xiaoxuxiansheng/gotxn"
	expdao "github.com/xiaoxuxiansheng/gotxn/example/dao"
	"github.com/xiaoxuxiansheng/gotxn/example/pkg"
)

type OutcomeRecordDAO interface {
	GetOutcomeRecords(ctx context.Context, opts ...expdao.QueryOption) ([]*expdao.OutcomeRecordPO, error)
	CreateOutcomeRecords(ctx context.Context, records ...*expdao.OutcomeRecordPO) error
}

// OutcomeStore 基于 mysql 存储执行结果，基于 redis 分布式锁避免多节点并发写入
type OutcomeStore struct {
	client *redis_lock.Client
	dao    OutcomeRecordDAO
}

func NewOutcomeStore(dao OutcomeRecordDAO, client *redis_lock.Client) *OutcomeStore {
	return &OutcomeStore{
		dao:    dao,
		client: client,
	}
}

func (o *OutcomeStore) SaveOutcomes(ctx context.Context, outcomes ...*gotxn.Outcome) error {
	records := make([]*expdao.OutcomeRecordPO, 0, len(outcomes))
	for _, outcome := range outcomes {
		failures, _ := json.Marshal(outcome.Failures)
		records = append(records, &expdao.OutcomeRecordPO{
			TXID:       outcome.TXID,
			JobID:      outcome.JobID,
			JobName:    outcome.JobName,
			Status:     outcome.Status.String(),
			Failures:   string(failures),
			StartedAt:  outcome.StartedAt,
			FinishedAt: outcome.FinishedAt,
		})
	}
	return o.dao.CreateOutcomeRecords(ctx, records...)
}

func (o *OutcomeStore) GetOutcome(ctx context.Context, txID string) (*gotxn.Outcome, error) {
	records, err := o.dao.GetOutcomeRecords(ctx, expdao.WithTXID(txID))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, gotxn.ErrOutcomeNotFound
	}

	record := records[0]
	var failures []string
	_ = json.Unmarshal([]byte(record.Failures), &failures)
	return &gotxn.Outcome{
		TXID:       record.TXID,
		JobID:      record.JobID,
		JobName:    record.JobName,
		Status:     gotxn.TXStatus(record.Status),
		Failures:   failures,
		StartedAt:  record.StartedAt,
		FinishedAt: record.FinishedAt,
	}, nil
}

func (o *OutcomeStore) Lock(ctx context.Context, expireDuration time.Duration) error {
	expireSeconds := int64(expireDuration.Seconds())
	if expireSeconds <= 0 {
		expireSeconds = 1
	}
	lock := redis_lock.NewRedisLock(pkg.BuildOutcomeLockKey(), o.client, redis_lock.WithExpireSeconds(expireSeconds))
	return lock.Lock(ctx)
}

func (o *OutcomeStore) Unlock(ctx context.Context) error {
	lock := redis_lock.NewRedisLock(pkg.BuildOutcomeLockKey(), o.client)
	return lock.Unlock(ctx)
}
