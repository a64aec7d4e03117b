package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// takeScript purges and checks every window of one subject atomically, and
// records the request in all of them only when none is exceeded. Scores and
// durations are in milliseconds.
//
// KEYS[i]           sorted-set key of window i
// ARGV[1]           now (ms)
// ARGV[2]           unique member for this request
// ARGV[2i+1], [2i+2] window duration (ms) and limit of window i
//
// Returns {1, 0, 0} when allowed, otherwise {0, i, retry_after_seconds}
// for the first exceeded window.
const takeScript = `
local now = tonumber(ARGV[1])
local member = ARGV[2]
local n = #KEYS

for i = 1, n do
    local window = tonumber(ARGV[2*i+1])
    local limit = tonumber(ARGV[2*i+2])
    redis.call("ZREMRANGEBYSCORE", KEYS[i], 0, now - window)
    local count = redis.call("ZCARD", KEYS[i])
    if count >= limit then
        local retry = 1
        local oldest = redis.call("ZRANGE", KEYS[i], 0, 0, "WITHSCORES")
        if oldest[2] then
            retry = math.ceil((tonumber(oldest[2]) + window - now) / 1000)
            if retry < 1 then
                retry = 1
            end
        end
        return {0, i, retry}
    end
end

for i = 1, n do
    local window = tonumber(ARGV[2*i+1])
    redis.call("ZADD", KEYS[i], now, member)
    redis.call("PEXPIRE", KEYS[i], window)
end
return {1, 0, 0}
`

// RedisStore shares sliding windows across instances; the Lua script makes
// the purge-check-record sequence atomic on the server.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStore{
		client: client,
		script: redis.NewScript(takeScript),
	}
}

func (s *RedisStore) Take(ctx context.Context, subject string, now time.Time, windows []Window) (*Decision, error) {
	keys := make([]string, len(windows))
	argv := make([]interface{}, 0, 2+2*len(windows))
	argv = append(argv, now.UnixMilli(), uuid.New().String())
	for i, w := range windows {
		keys[i] = windowKey(subject, w)
		argv = append(argv, w.Duration.Milliseconds(), w.Limit)
	}

	res, err := s.script.Run(ctx, s.client, keys, argv...).Slice()
	if err != nil {
		return nil, err
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected script reply of length %d", len(res))
	}

	if res[0].(int64) == 1 {
		return &Decision{Allowed: true}, nil
	}
	idx := int(res[1].(int64))
	return &Decision{
		Allowed:    false,
		Window:     windows[idx-1].Name,
		RetryAfter: int(res[2].(int64)),
	}, nil
}

func (s *RedisStore) Reset(ctx context.Context, subject string, windows []Window) error {
	keys := make([]string, len(windows))
	for i, w := range windows {
		keys[i] = windowKey(subject, w)
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func windowKey(subject string, w Window) string {
	return "rate:" + subject + ":" + w.Name
}
