package dao

import (
	"gorm.io/gorm"

	"github.com/xiaoxuxiansheng/gotxn"
)

type QueryOption func(db *gorm.DB) *gorm.DB

func WithTXID(txID string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tx_id = ?", txID)
	}
}

func WithJobID(jobID string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("job_id = ?", jobID)
	}
}

func WithStatus(status gotxn.TXStatus) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ?", status.String())
	}
}
