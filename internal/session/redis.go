package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/chatrelay/types"
)

// DefaultTTL Redis 后端默认的滑动过期时间.
const DefaultTTL = 2 * time.Hour

// 每个会话两个键：meta 标记会话存在，list 按顺序保存 JSON 编码的消息.
// 所有修改都刷新两个键的过期时间.
var (
	appendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('RPUSH', KEYS[2], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return 1
`)

	replaceScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('DEL', KEYS[2])
for i = 2, #ARGV do
  redis.call('RPUSH', KEYS[2], ARGV[i])
end
redis.call('PEXPIRE', KEYS[1], ARGV[1])
if #ARGV > 1 then redis.call('PEXPIRE', KEYS[2], ARGV[1]) end
return 1
`)

	readScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return false end
redis.call('PEXPIRE', KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return redis.call('LRANGE', KEYS[2], 0, -1)
`)
)

// KeyFunc 拼接 Redis 键，由 *cache.Manager 的 Key 方法提供.
type KeyFunc func(parts ...string) string

// RedisBackend 把会话保存在 Redis 中.
type RedisBackend struct {
	client redis.UniversalClient
	key    KeyFunc
	ttl    time.Duration
}

// NewRedisBackend 创建 Redis 后端. ttl <= 0 时使用 DefaultTTL.
func NewRedisBackend(client redis.UniversalClient, key KeyFunc, ttl time.Duration) *RedisBackend {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if key == nil {
		key = func(parts ...string) string { return strings.Join(parts, ":") }
	}
	return &RedisBackend{client: client, key: key, ttl: ttl}
}

func (b *RedisBackend) keys(id string) []string {
	return []string{b.key("session", id, "meta"), b.key("session", id, "history")}
}

func (b *RedisBackend) ttlArg() string {
	return strconv.FormatInt(b.ttl.Milliseconds(), 10)
}

func (b *RedisBackend) Create(ctx context.Context, id string) error {
	ok, err := b.client.SetNX(ctx, b.keys(id)[0], time.Now().UTC().Format(time.RFC3339Nano), b.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis create session: %w", err)
	}
	if !ok {
		return types.NewError(types.ErrDuplicateSession, fmt.Sprintf("session %s already exists", id))
	}
	return nil
}

func (b *RedisBackend) Append(ctx context.Context, id string, msg types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	res, err := appendScript.Run(ctx, b.client, b.keys(id), b.ttlArg(), string(data)).Int()
	if err != nil {
		return fmt.Errorf("redis append: %w", err)
	}
	if res < 0 {
		return unknownSession(id)
	}
	return nil
}

func (b *RedisBackend) Get(ctx context.Context, id string) ([]types.Message, error) {
	raw, err := readScript.Run(ctx, b.client, b.keys(id), b.ttlArg()).StringSlice()
	if err == redis.Nil {
		return nil, unknownSession(id)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get history: %w", err)
	}

	history := make([]types.Message, 0, len(raw))
	for _, item := range raw {
		var msg types.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		history = append(history, msg)
	}
	return history, nil
}

func (b *RedisBackend) Replace(ctx context.Context, id string, history []types.Message) error {
	args := make([]any, 0, len(history)+1)
	args = append(args, b.ttlArg())
	for _, msg := range history {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		args = append(args, string(data))
	}

	res, err := replaceScript.Run(ctx, b.client, b.keys(id), args...).Int()
	if err != nil {
		return fmt.Errorf("redis replace history: %w", err)
	}
	if res < 0 {
		return unknownSession(id)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, id string) (bool, error) {
	keys := b.keys(id)
	n, err := b.client.Del(ctx, keys...).Result()
	if err != nil {
		return false, fmt.Errorf("redis delete session: %w", err)
	}
	return n > 0, nil
}
