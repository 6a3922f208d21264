package middleware

import (
    "context"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"

    "github.com/iliyamo/gauge-set-tracker/internal/config"
)

// takeToken runs against one bucket hash {n, t}: n tokens left, t the
// millisecond timestamp of the last whole refill step.
// ARGV: now_ms, capacity, step_tokens, step_ms, ttl_s.
// Returns {granted, left, wait_ms}.
var takeToken = redis.NewScript(`
local now = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
local step_tokens = tonumber(ARGV[3])
local step_ms = tonumber(ARGV[4])

local n = tonumber(redis.call('HGET', KEYS[1], 'n') or cap)
local t = tonumber(redis.call('HGET', KEYS[1], 't') or now)

if step_ms > 0 and step_tokens > 0 and now > t then
    local steps = math.floor((now - t) / step_ms)
    n = math.min(cap, n + steps * step_tokens)
    t = t + steps * step_ms
end

local granted, wait = 0, 0
if n >= 1 then
    granted, n = 1, n - 1
elseif step_ms > 0 then
    wait = step_ms - (now - t)
    if wait < 0 then wait = 0 end
end

redis.call('HSET', KEYS[1], 'n', n, 't', t)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[5]))
return {granted, n, wait}
`)

// decision is one bucket lookup.
type decision struct {
    granted bool
    left    int64
    wait    time.Duration
}

// retryAfter rounds wait up to whole seconds, never below one.
func (d decision) retryAfter() int {
    secs := int((d.wait + time.Second - 1) / time.Second)
    if secs < 1 {
        secs = 1
    }
    return secs
}

type limiter struct {
    cfg    config.RateLimitConfig
    rdb    *redis.Client
    logger *zap.Logger
}

func (l *limiter) take(ctx context.Context, key string) (decision, error) {
    vals, err := takeToken.Run(ctx, l.rdb, []string{key},
        time.Now().UnixMilli(),
        l.cfg.Capacity,
        l.cfg.RefillTokens,
        l.cfg.RefillInterval.Milliseconds(),
        int64(l.cfg.TTL/time.Second),
    ).Int64Slice()
    if err != nil {
        return decision{}, err
    }
    if len(vals) != 3 {
        return decision{}, redis.Nil
    }
    return decision{granted: vals[0] == 1, left: vals[1], wait: time.Duration(vals[2]) * time.Millisecond}, nil
}

// NewTokenBucket limits how fast one actor can hit one mutating route.  It is
// a pass-through when disabled or without Redis, and fails open when Redis
// errors.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, logger *zap.Logger) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    if logger == nil {
        logger = zap.NewNop()
    }
    l := &limiter{cfg: cfg, rdb: rdb, logger: logger}

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := rateKey(cfg, c)
            d, err := l.take(c.Request().Context(), key)
            if err != nil {
                l.logger.Warn("rate limiter unavailable, letting request through", zap.String("key", key), zap.Error(err))
                return next(c)
            }

            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
            h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.left, 10))
            if cfg.Debug {
                h.Set("X-RateLimit-Key", key)
            }
            if d.granted {
                return next(c)
            }

            secs := d.retryAfter()
            h.Set("Retry-After", strconv.Itoa(secs))
            l.logger.Debug("rate limited", zap.String("key", key), zap.Duration("wait", d.wait))
            return c.JSON(http.StatusTooManyRequests, echo.Map{
                "error":   "too_many_requests",
                "kind":    "rate_limited",
                "details": echo.Map{"retry_after": secs},
            })
        }
    }
}

// rateKey is prefix:actor:<id>, prefix:route:<method path> or both.
func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
    route := c.Request().Method + " " + c.Path()
    var b strings.Builder
    b.WriteString(cfg.Prefix)
    strategy := strings.ToLower(cfg.KeyStrategy)
    if strategy != "route" {
        b.WriteString(":actor:")
        b.WriteString(actorKey(c))
    }
    if strategy != "actor" {
        b.WriteString(":route:")
        b.WriteString(route)
    }
    return b.String()
}
