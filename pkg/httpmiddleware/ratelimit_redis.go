package httpmiddleware

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// allowScript counts a request in the current window unless the weighted
// count already reached the limit.
//
// KEYS[1] current window, KEYS[2] previous window.
// ARGV[1] previous window weight, ARGV[2] limit, ARGV[3] key TTL in ms.
// Returns {allowed, current, previous}.
var allowScript = redis.NewScript(`
local curr = tonumber(redis.call('GET', KEYS[1]) or '0')
local prev = tonumber(redis.call('GET', KEYS[2]) or '0')
if prev * tonumber(ARGV[1]) + curr >= tonumber(ARGV[2]) then
	return {0, curr, prev}
end
curr = redis.call('INCR', KEYS[1])
if curr == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return {1, curr, prev}
`)

// RedisLimiter shares request counts between API replicas. Each window is a
// counter key that expires after two windows.
type RedisLimiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter allows limit requests per key and window.
func NewRedisLimiter(client redis.UniversalClient, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "ratelimit:",
		now:    time.Now,
	}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	start := now.Truncate(l.window)
	idx := start.UnixMilli() / l.window.Milliseconds()
	weight := slidingCount(1, 0, now.Sub(start), l.window)

	res, err := allowScript.Run(ctx, l.client,
		[]string{l.windowKey(key, idx), l.windowKey(key, idx-1)},
		strconv.FormatFloat(weight, 'f', 6, 64),
		l.limit,
		(2 * l.window).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, errors.Wrap(err, "rate limit script")
	}
	if len(res) != 3 {
		return Decision{}, errors.Errorf("rate limit script returned %d values", len(res))
	}

	resetAt := start.Add(l.window)
	if res[0] == 0 {
		return Decision{ResetAt: resetAt}, nil
	}
	// res[1] already includes this request.
	return decide(l.limit, slidingCount(float64(res[2]), float64(res[1]-1), now.Sub(start), l.window), resetAt), nil
}

func (l *RedisLimiter) windowKey(key string, idx int64) string {
	return l.prefix + key + ":" + strconv.FormatInt(idx, 10)
}
