package example

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/xiaoxuxiansheng/gotxn"
	"github.com/xiaoxuxiansheng/gotxn/log"
)

// GormMember 把一个 mysql 事务作为成员加入事务边界.
// 首次调用 DB 时开启 mysql 事务，由事务边界统一提交或回滚.
type GormMember struct {
	id string
	db *gorm.DB

	mux       sync.Mutex
	tx        *gorm.DB
	cancelled bool
}

func NewGormMember(id string, db *gorm.DB) *GormMember {
	return &GormMember{
		id: id,
		db: db,
	}
}

// JoinGorm 获取当前事务中 id 对应的 GormMember，不存在时创建并注册
func JoinGorm(ctx context.Context, id string, db *gorm.DB) (*GormMember, error) {
	tx := gotxn.CurrentTransaction(ctx)
	if tx == nil {
		return nil, gotxn.TransactionRequiredError{}
	}
	member, err := tx.RegisterMemberIfAbsent(id, func(memberID string) gotxn.Member {
		return NewGormMember(memberID, db)
	})
	if err != nil {
		return nil, err
	}
	gormMember, ok := member.(*GormMember)
	if !ok {
		return nil, errors.Errorf("member: %s is not a gorm member", id)
	}
	return gormMember, nil
}

func (g *GormMember) MemberID() string {
	return g.id
}

// DB 返回 mysql 事务对应的 gorm.DB
func (g *GormMember) DB(ctx context.Context) (*gorm.DB, error) {
	g.mux.Lock()
	defer g.mux.Unlock()
	if g.cancelled {
		return nil, gotxn.TranslateCancellation(nil, "transaction member cancelled: "+g.id)
	}
	if g.tx != nil {
		return g.tx.WithContext(ctx), nil
	}

	tx := g.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	g.tx = tx
	return tx, nil
}

// NeedsCommit 只有开启过 mysql 事务才需要提交
func (g *GormMember) NeedsCommit() bool {
	g.mux.Lock()
	defer g.mux.Unlock()
	return g.tx != nil
}

// CommitPhase1 确认 mysql 连接仍然可用
func (g *GormMember) CommitPhase1(ctx context.Context) (bool, error) {
	g.mux.Lock()
	defer g.mux.Unlock()
	if g.cancelled {
		return false, nil
	}
	if g.tx == nil {
		return true, nil
	}
	if err := g.tx.WithContext(ctx).Exec("SELECT 1").Error; err != nil {
		return false, err
	}
	return true, nil
}

func (g *GormMember) CommitPhase2(ctx context.Context) error {
	g.mux.Lock()
	defer g.mux.Unlock()
	if g.tx == nil {
		return nil
	}
	err := g.tx.Commit().Error
	g.tx = nil
	return err
}

func (g *GormMember) Rollback(ctx context.Context) error {
	g.mux.Lock()
	defer g.mux.Unlock()
	if g.tx == nil {
		return nil
	}
	err := g.tx.Rollback().Error
	g.tx = nil
	return err
}

// Release 兜底回滚仍未结束的 mysql 事务
func (g *GormMember) Release(ctx context.Context) error {
	g.mux.Lock()
	defer g.mux.Unlock()
	if g.tx == nil {
		return nil
	}
	log.WarnContextf(ctx, "gorm member released with open transaction, member id: %s", g.id)
	err := g.tx.Rollback().Error
	g.tx = nil
	return err
}

// Cancel 之后不能再开启 mysql 事务，已开启的事务在第一阶段投票失败
func (g *GormMember) Cancel(ctx context.Context) {
	g.mux.Lock()
	defer g.mux.Unlock()
	g.cancelled = true
}
