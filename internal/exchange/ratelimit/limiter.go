// Package ratelimit coordinates exchange request budgets. The Redis-backed
// limiter shares one token bucket per endpoint across every process; the
// local limiter covers single-process deployments and tests.
package ratelimit

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sawpanic/ridgeradar/internal/metrics"
)

// maxWait bounds how long Wait blocks before proceeding anyway. Starving a
// job forever is worse than briefly exceeding the budget.
const maxWait = 10 * time.Second

// Limiter gates exchange calls per endpoint.
type Limiter interface {
	// Acquire takes one token. It returns whether the call may proceed and,
	// if not, a hint for how long to wait before asking again.
	Acquire(ctx context.Context, endpoint string) (bool, time.Duration)
	// Wait blocks until a token is available, the wait cap is hit, or ctx is
	// done.
	Wait(ctx context.Context, endpoint string) error
}

// bucketScript is a token bucket in Redis. KEYS[1] is the bucket, ARGV are
// rate (tokens/sec), burst, and now (fractional seconds). Returns
// {allowed, wait_ms}.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local refill = 1.0 / rate

local data = redis.call('HMGET', key, 'tokens', 'last_update')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = burst end
if last == nil then last = now end

local elapsed = now - last
if elapsed < 0 then elapsed = 0 end
tokens = math.min(burst, tokens + elapsed * rate)

if tokens >= 1 then
  redis.call('HMSET', key, 'tokens', tokens - 1, 'last_update', now)
  redis.call('EXPIRE', key, 60)
  return {1, 0}
end

local wait = refill - (elapsed % refill)
return {0, math.ceil(wait * 1000)}
`)

// RedisLimiter shares token buckets across processes. Redis failures fail
// open: losing rate limiting briefly beats halting ingestion.
type RedisLimiter struct {
	client *redis.Client
	rate   float64
	burst  int
	logger zerolog.Logger
}

// NewRedisLimiter builds a limiter at rate tokens/sec with the given burst.
func NewRedisLimiter(client *redis.Client, ratePerSec float64, burst int, logger zerolog.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		rate:   ratePerSec,
		burst:  burst,
		logger: logger.With().Str("component", "rate_limiter").Logger(),
	}
}

func (l *RedisLimiter) key(endpoint string) string {
	return "ratelimit:exchange:" + endpoint
}

// Acquire takes one token from the endpoint's bucket.
func (l *RedisLimiter) Acquire(ctx context.Context, endpoint string) (bool, time.Duration) {
	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := bucketScript.Run(ctx, l.client,
		[]string{l.key(endpoint)}, l.rate, l.burst, now).Int64Slice()
	if err != nil || len(res) != 2 {
		l.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("rate_limiter_error")
		return true, 0
	}
	if res[0] == 1 {
		return true, 0
	}
	return false, time.Duration(res[1]) * time.Millisecond
}

// Wait blocks until a token is acquired. After maxWait it logs and lets the
// call through rather than starving the job.
func (l *RedisLimiter) Wait(ctx context.Context, endpoint string) error {
	deadline := time.Now().Add(maxWait)
	blocked := false
	for {
		allowed, hint := l.Acquire(ctx, endpoint)
		if allowed {
			return nil
		}
		if !blocked {
			blocked = true
			metrics.AddRateLimitWait()
		}
		if time.Now().After(deadline) {
			l.logger.Warn().Str("endpoint", endpoint).Msg("rate_limiter_max_wait_exceeded")
			return nil
		}
		sleep := hint
		if sleep <= 0 || sleep > 100*time.Millisecond {
			sleep = 100 * time.Millisecond
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// LocalLimiter is an in-process limiter for deployments without Redis.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rate    rate.Limit
	burst   int
}

// NewLocalLimiter builds a per-endpoint in-process limiter.
func NewLocalLimiter(ratePerSec float64, burst int) *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*rate.Limiter),
		rate:    rate.Limit(ratePerSec),
		burst:   burst,
	}
}

func (l *LocalLimiter) bucket(endpoint string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[endpoint]
	if !ok {
		b = rate.NewLimiter(l.rate, l.burst)
		l.buckets[endpoint] = b
	}
	return b
}

// Acquire takes one token without blocking.
func (l *LocalLimiter) Acquire(_ context.Context, endpoint string) (bool, time.Duration) {
	b := l.bucket(endpoint)
	if b.Allow() {
		return true, 0
	}
	if l.rate <= 0 {
		return false, 100 * time.Millisecond
	}
	return false, time.Duration(float64(time.Second) / float64(l.rate))
}

// Wait blocks until a token is available or ctx is done.
func (l *LocalLimiter) Wait(ctx context.Context, endpoint string) error {
	b := l.bucket(endpoint)
	if b.Tokens() < 1 {
		metrics.AddRateLimitWait()
	}
	return b.Wait(ctx)
}
