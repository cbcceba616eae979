// Package sweeplock не даёт нескольким экземплярам сервиса одновременно выполнять одну фоновую задачу.
package sweeplock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker захватывает именованную блокировку без ожидания.
// Если блокировка занята, возвращается ok=false без ошибки.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

const keyPrefix = "marketplace:lock:"

// снимаем блокировку, только если она всё ещё принадлежит нам
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker реализует Locker через SET NX с TTL.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker создаёт блокировку поверх клиента Redis.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryLock захватывает блокировку name на время ttl.
func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := keyPrefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}

// LocalLocker реализует Locker в пределах одного процесса.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLocker создаёт блокировку для одного экземпляра сервиса.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

// TryLock захватывает блокировку name. ttl не используется.
func (l *LocalLocker) TryLock(_ context.Context, name string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, true, nil
}
