package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	appLog "doorcal/internal/log"
)

// ErrNotOwner is returned when releasing a lock held by someone else, or one
// that already expired.
var ErrNotOwner = errors.New("lock not owned by this client")

// Locker serializes sync runs. TryLock returns ok=false without error when
// the lock is held elsewhere; the returned token must be passed to Unlock.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// Store is the subset of key/value operations the redis locker needs.
type Store interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Release deletes key only while it still holds value, in one step.
	Release(ctx context.Context, key, value string) (ReleaseResult, error)
}

// ReleaseResult is the outcome of Store.Release.
type ReleaseResult int

const (
	ReleaseMissing  ReleaseResult = -1
	ReleaseNotOwner ReleaseResult = 0
	ReleaseDeleted  ReleaseResult = 1
)

// RedisLocker holds the lock as a redis key whose value is a random owner
// token. The key expires after the TTL, so a crashed run releases it.
type RedisLocker struct {
	store Store
}

func NewRedisLocker(store Store) *RedisLocker {
	return &RedisLocker{store: store}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return "", false, errors.Wrapf(err, "acquire lock %s", key)
	}
	if !ok {
		appLog.Info("lock not acquired", "key", key)
		return "", false, nil
	}
	appLog.Debug("lock acquired", "key", key, "token", token, "ttl", ttl)
	return token, true, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	res, err := l.store.Release(ctx, key, token)
	if err != nil {
		return errors.Wrapf(err, "release lock %s", key)
	}
	switch res {
	case ReleaseMissing:
		appLog.Warn("lock already expired", "key", key)
		return nil
	case ReleaseNotOwner:
		return errors.Wrapf(ErrNotOwner, "key %s", key)
	}
	appLog.Debug("lock released", "key", key)
	return nil
}

// RedisStore adapts a go-redis client to Store.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// DialRedis connects and pings the server.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", addr)
	}
	return client, nil
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

// releaseScript returns -1 when the key is gone, 0 when another owner holds
// it and 1 after deleting it.
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then
	return -1
end
if v ~= ARGV[1] then
	return 0
end
return redis.call("DEL", KEYS[1])
`)

func (s *RedisStore) Release(ctx context.Context, key, value string) (ReleaseResult, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{key}, value).Int64()
	if err != nil {
		return ReleaseNotOwner, err
	}
	return ReleaseResult(n), nil
}

// LocalLocker is an in-process Locker for single-instance deployments.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localEntry
	now  func() time.Time
}

type localEntry struct {
	token   string
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry), now: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.held[key]; ok && l.now().Before(e.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = localEntry{token: token, expires: l.now().Add(ttl)}
	return token, true, nil
}

func (l *LocalLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.held[key]
	if !ok {
		return nil
	}
	if e.token != token {
		return errors.Wrapf(ErrNotOwner, "key %s", key)
	}
	delete(l.held, key)
	return nil
}
