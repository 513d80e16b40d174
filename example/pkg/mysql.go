package pkg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xiaoxuxiansheng/gotxn/log"
)

const (
	dsn = ""
	// 超过该时长的 sql 记为慢查询
	slowThreshold = 200 * time.Millisecond
)

var (
	db     *gorm.DB
	dbonce sync.Once
)

func NewDB(dsn string, opts ...gorm.Option) (*gorm.DB, error) {
	return gorm.Open(mysql.Open(dsn), opts...)
}

func GetDB() *gorm.DB {
	dbonce.Do(func() {
		var err error
		if db, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
			Logger: NewGormLogger(logger.Warn, slowThreshold),
		}); err != nil {
			panic(fmt.Errorf("failed to connect database, err: %w", err))
		}
	})
	return db
}

// GormLogger 把 gorm 的日志输出到 gotxn/log，日志会带上 ctx 中的 job 与事务字段
type GormLogger struct {
	level         logger.LogLevel
	slowThreshold time.Duration
}

func NewGormLogger(level logger.LogLevel, slowThreshold time.Duration) *GormLogger {
	return &GormLogger{
		level:         level,
		slowThreshold: slowThreshold,
	}
}

func (g *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *g
	newLogger.level = level
	return &newLogger
}

func (g *GormLogger) Info(ctx context.Context, format string, args ...interface{}) {
	if g.level >= logger.Info {
		log.InfoContextf(ctx, format, args...)
	}
}

func (g *GormLogger) Warn(ctx context.Context, format string, args ...interface{}) {
	if g.level >= logger.Warn {
		log.WarnContextf(ctx, format, args...)
	}
}

func (g *GormLogger) Error(ctx context.Context, format string, args ...interface{}) {
	if g.level >= logger.Error {
		log.ErrorContextf(ctx, format, args...)
	}
}

func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if g.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && g.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		log.ErrorContextf(ctx, "sql failed, elapsed: %s, rows: %d, sql: %s, err: %v", elapsed, rows, sql, err)
	case g.slowThreshold > 0 && elapsed > g.slowThreshold && g.level >= logger.Warn:
		sql, rows := fc()
		log.WarnContextf(ctx, "slow sql, elapsed: %s, rows: %d, sql: %s", elapsed, rows, sql)
	case g.level >= logger.Info:
		sql, rows := fc()
		log.DebugContextf(ctx, "sql, elapsed: %s, rows: %d, sql: %s", elapsed, rows, sql)
	}
}
