package dao

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 事务边界执行结果的落库记录
type OutcomeRecordPO struct {
	gorm.Model
	TXID    string `gorm:"column:tx_id;uniqueIndex"`
	JobID   string `gorm:"column:job_id;index"`
	JobName string `gorm:"column:job_name"`
	Status  string `gorm:"column:status"`
	// json 数组
	Failures   string    `gorm:"column:failures"`
	StartedAt  time.Time `gorm:"column:started_at"`
	FinishedAt time.Time `gorm:"column:finished_at"`
}

func (o OutcomeRecordPO) TableName() string {
	return "tx_outcome"
}

type OutcomeRecordDAO struct {
	db *gorm.DB
}

func NewOutcomeRecordDAO(db *gorm.DB) *OutcomeRecordDAO {
	return &OutcomeRecordDAO{
		db: db,
	}
}

func (o *OutcomeRecordDAO) GetOutcomeRecords(ctx context.Context, opts ...QueryOption) ([]*OutcomeRecordPO, error) {
	db := o.db.WithContext(ctx).Model(&OutcomeRecordPO{})
	for _, opt := range opts {
		db = opt(db)
	}

	var records []*OutcomeRecordPO
	return records, db.Scan(&records).Error
}

// CreateOutcomeRecords 批量写入，tx_id 已存在的记录直接忽略，重试写入时不会报错
func (o *OutcomeRecordDAO) CreateOutcomeRecords(ctx context.Context, records ...*OutcomeRecordPO) error {
	if len(records) == 0 {
		return nil
	}
	return o.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(records).Error
}
