package pkg

import (
	"fmt"
	"sync"

	"github.com/xiaoxuxiansheng/redis_lock"
)

const (
	network  = "tcp"
	address  = ""
	password = ""
)

var (
	redisClient *redis_lock.Client
	once        sync.Once
)

func NewRedisClient(network, address, password string) *redis_lock.Client {
	return redis_lock.NewClient(network, address, password)
}

func GetRedisClient() *redis_lock.Client {
	once.Do(func() {
		redisClient = redis_lock.NewClient(network, address, password)
	})
	return redisClient
}

// 构造业务数据 key
func BuildDataKey(resource, key string) string {
	return fmt.Sprintf("gotxn:data:%s:%s", resource, key)
}

// 构造资源锁 key，事务持有期间独占该资源
func BuildResourceLockKey(resource string) string {
	return fmt.Sprintf("gotxn:resource:lock:%s", resource)
}

// 构造执行结果存储模块的分布式锁 key
func BuildOutcomeLockKey() string {
	return "gotxn:outcome:lock"
}
