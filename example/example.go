package example

import (
	"context"
	"fmt"

	"github.com/spf13/cast"
	"github.com/xiaoxuxiansheng/redis_lock"
	"gorm.io/gorm"

	"github.com/xiaoxuxiansheng/gotxn"
	expdao "github.com/xiaoxuxiansheng/gotxn/example/dao"
)

const (
	// mysql 账户表所在的事务成员
	AccountMemberID = "account"
	// redis 余额变更记录所在的事务成员
	ChangeLogMemberID = "change_log"
)

// Setup 构造使用 mysql 记录执行结果的 Manager
func Setup(db *gorm.DB, client *redis_lock.Client, opts ...gotxn.Option) *gotxn.Manager {
	store := NewOutcomeStore(expdao.NewOutcomeRecordDAO(db), client)
	return gotxn.NewManager(append([]gotxn.Option{gotxn.WithOutcomeStore(store)}, opts...)...)
}

type TransferReq struct {
	// 发起人，作为 job 的调用者身份
	Principal string
	From      uint
	To        uint
	Amount    int64
}

// Transfer 在同一个事务边界内扣减、增加 mysql 账户余额，并在 redis 中记录最近一次变更.
// 任意一步失败，mysql 事务回滚，redis 暂存的写入被丢弃.
func Transfer(ctx context.Context, manager *gotxn.Manager, db *gorm.DB, client *redis_lock.Client, req *TransferReq) error {
	if req.Amount <= 0 {
		return fmt.Errorf("invalid amount: %d", req.Amount)
	}

	_, err := manager.Run(ctx, &gotxn.JobInput{
		Name:      "transfer",
		Principal: req.Principal,
	}, func(ctx context.Context) (interface{}, error) {
		account, err := JoinGorm(ctx, AccountMemberID, db)
		if err != nil {
			return nil, err
		}
		tx, err := account.DB(ctx)
		if err != nil {
			return nil, err
		}

		res := tx.Exec("UPDATE `account` SET `balance` = `balance` - ? WHERE `id` = ? AND `balance` >= ?", req.Amount, req.From, req.Amount)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected != 1 {
			return nil, fmt.Errorf("insufficient balance, account: %d", req.From)
		}
		if err = tx.Exec("UPDATE `account` SET `balance` = `balance` + ? WHERE `id` = ?", req.Amount, req.To).Error; err != nil {
			return nil, err
		}

		changeLog, err := JoinRedis(ctx, ChangeLogMemberID, AccountMemberID, client)
		if err != nil {
			return nil, err
		}
		if err = changeLog.Stage(cast.ToString(req.From), -req.Amount); err != nil {
			return nil, err
		}
		return nil, changeLog.Stage(cast.ToString(req.To), req.Amount)
	})
	return err
}
