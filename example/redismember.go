package example

import (
	"context"
	"errors"
	"sync"

	"github.com/demdxx/gocast"
	"github.com/xiaoxuxiansheng/redis_lock"

	"github.com/xiaoxuxiansheng/gotxn"
	"github.com/xiaoxuxiansheng/gotxn/example/pkg"
)

// 资源锁的默认过期时长
const resourceLockExpireSeconds = 30

// RedisMember 在事务中暂存对某个 redis 资源的写入，第二阶段才真正写入 redis.
// 第一阶段抢占资源锁，事务释放时解锁.
type RedisMember struct {
	id       string
	resource string
	client   *redis_lock.Client

	mux       sync.Mutex
	lock      *redis_lock.RedisLock
	keys      []string
	staged    map[string]string
	cancelled bool
}

func NewRedisMember(id, resource string, client *redis_lock.Client) *RedisMember {
	return &RedisMember{
		id:       id,
		resource: resource,
		client:   client,
		staged:   make(map[string]string),
	}
}

// JoinRedis 获取当前事务中 id 对应的 RedisMember，不存在时创建并注册
func JoinRedis(ctx context.Context, id, resource string, client *redis_lock.Client) (*RedisMember, error) {
	tx := gotxn.CurrentTransaction(ctx)
	if tx == nil {
		return nil, gotxn.TransactionRequiredError{}
	}
	member, err := tx.RegisterMemberIfAbsent(id, func(memberID string) gotxn.Member {
		return NewRedisMember(memberID, resource, client)
	})
	if err != nil {
		return nil, err
	}
	redisMember, ok := member.(*RedisMember)
	if !ok {
		return nil, errors.New("member: " + id + " is not a redis member")
	}
	return redisMember, nil
}

func (r *RedisMember) MemberID() string {
	return r.id
}

// Stage 暂存一次写入，同一个 key 以最后一次写入为准
func (r *RedisMember) Stage(key string, value interface{}) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.cancelled {
		return gotxn.TranslateCancellation(nil, "transaction member cancelled: "+r.id)
	}
	if _, ok := r.staged[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.staged[key] = gocast.ToString(value)
	return nil
}

// Get 优先读取本事务暂存的值，key 不存在时返回空串
func (r *RedisMember) Get(ctx context.Context, key string) (string, error) {
	r.mux.Lock()
	value, ok := r.staged[key]
	r.mux.Unlock()
	if ok {
		return value, nil
	}

	value, err := r.client.Get(ctx, pkg.BuildDataKey(r.resource, key))
	if err != nil && !errors.Is(err, redis_lock.ErrNil) {
		return "", err
	}
	return value, nil
}

func (r *RedisMember) NeedsCommit() bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	return len(r.keys) > 0
}

// CommitPhase1 抢占资源锁，抢占失败时投票不通过
func (r *RedisMember) CommitPhase1(ctx context.Context) (bool, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.cancelled {
		return false, nil
	}
	if r.lock != nil {
		return true, nil
	}

	lock := redis_lock.NewRedisLock(pkg.BuildResourceLockKey(r.resource), r.client, redis_lock.WithExpireSeconds(resourceLockExpireSeconds))
	if err := lock.Lock(ctx); err != nil {
		return false, err
	}
	r.lock = lock
	return true, nil
}

func (r *RedisMember) CommitPhase2(ctx context.Context) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	for _, key := range r.keys {
		if _, err := r.client.Set(ctx, pkg.BuildDataKey(r.resource, key), r.staged[key]); err != nil {
			return err
		}
	}
	r.reset()
	return nil
}

func (r *RedisMember) Rollback(ctx context.Context) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.reset()
	return nil
}

// Release 释放资源锁
func (r *RedisMember) Release(ctx context.Context) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.reset()
	if r.lock == nil {
		return nil
	}
	err := r.lock.Unlock(ctx)
	r.lock = nil
	return err
}

func (r *RedisMember) Cancel(ctx context.Context) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.cancelled = true
}

// reset 需要在持有锁时调用
func (r *RedisMember) reset() {
	r.keys = nil
	r.staged = make(map[string]string)
}
