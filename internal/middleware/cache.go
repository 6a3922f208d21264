package middleware

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"

    "github.com/iliyamo/gauge-set-tracker/internal/config"
)

// ResponseCache serves repeated reads of sets, spares and gauges from Redis.
// Every entry lives under one prefix; a successful mutation drops them all
// through InvalidateOnSuccess, so a read never returns pairing state older
// than the last committed write made through this API.
type ResponseCache struct {
    cfg    config.CacheConfig
    rdb    *redis.Client
    logger *zap.Logger
}

// NewResponseCache returns a cache that is a no-op when disabled or when rdb
// is nil.
func NewResponseCache(cfg config.CacheConfig, rdb *redis.Client, logger *zap.Logger) *ResponseCache {
    if logger == nil {
        logger = zap.NewNop()
    }
    if cfg.TTL <= 0 {
        cfg.TTL = 30 * time.Second
    }
    return &ResponseCache{cfg: cfg, rdb: rdb, logger: logger}
}

func (rc *ResponseCache) active() bool { return rc != nil && rc.cfg.Enabled && rc.rdb != nil }

// bodyRecorder tees the response to the client and keeps up to max bytes of
// it for the cache.  truncated is set once the body outgrows max.
type bodyRecorder struct {
    http.ResponseWriter
    code      int
    body      []byte
    max       int
    truncated bool
}

func (br *bodyRecorder) WriteHeader(code int) {
    br.code = code
    br.ResponseWriter.WriteHeader(code)
}

func (br *bodyRecorder) Write(p []byte) (int, error) {
    if !br.truncated {
        if br.max > 0 && len(br.body)+len(p) > br.max {
            br.truncated, br.body = true, nil
        } else {
            br.body = append(br.body, p...)
        }
    }
    return br.ResponseWriter.Write(p)
}

// key is prefix:METHOD:/path, plus ?query under the path_query strategy.
// The concrete path is used, not the route pattern, so /v1/gauges/1 and
// /v1/gauges/2 never share an entry.
func (rc *ResponseCache) key(c echo.Context) string {
    r := c.Request()
    k := rc.cfg.Prefix + ":" + r.Method + ":" + r.URL.Path
    if !strings.EqualFold(rc.cfg.KeyStrategy, "path") && r.URL.RawQuery != "" {
        k += "?" + r.URL.RawQuery
    }
    return k
}

// cachedResponse is the stored form of one response.
type cachedResponse struct {
    Status      int    `json:"status"`
    ContentType string `json:"content_type"`
    Body        []byte `json:"body"`
}

func encodePayload(res cachedResponse) ([]byte, error) {
    return json.Marshal(res)
}

func decodePayload(bs []byte) (cachedResponse, bool) {
    var res cachedResponse
    if err := json.Unmarshal(bs, &res); err != nil || res.Status == 0 {
        return cachedResponse{}, false
    }
    return res, true
}

// Middleware caches 200 responses of the configured methods.
func (rc *ResponseCache) Middleware() echo.MiddlewareFunc {
    if !rc.active() {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if !rc.cfg.Methods[strings.ToUpper(c.Request().Method)] {
                return next(c)
            }
            ctx := c.Request().Context()
            key := rc.key(c)

            raw, err := rc.rdb.Get(ctx, key).Bytes()
            if err != nil && !errors.Is(err, redis.Nil) {
                rc.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
            }
            if res, ok := decodePayload(raw); err == nil && ok {
                c.Response().Header().Set("X-Cache", "HIT")
                return c.Blob(res.Status, res.ContentType, res.Body)
            }

            rec := &bodyRecorder{ResponseWriter: c.Response().Writer, code: http.StatusOK, max: rc.cfg.MaxBodyBytes}
            c.Response().Writer = rec
            c.Response().Header().Set("X-Cache", "MISS")
            if err := next(c); err != nil {
                return err
            }
            if rec.code != http.StatusOK || rec.truncated {
                return nil
            }

            payload, err := encodePayload(cachedResponse{
                Status:      rec.code,
                ContentType: c.Response().Header().Get(echo.HeaderContentType),
                Body:        rec.body,
            })
            if err != nil {
                return nil
            }
            if err := rc.rdb.Set(context.WithoutCancel(ctx), key, payload, rc.cfg.TTL).Err(); err != nil {
                rc.logger.Warn("cache store failed", zap.String("key", key), zap.Error(err))
            }
            return nil
        }
    }
}

// Invalidate deletes every entry under the cache prefix.
func (rc *ResponseCache) Invalidate(ctx context.Context) error {
    if !rc.active() {
        return nil
    }
    const batchSize = 200
    var cursor uint64
    for {
        keys, next, err := rc.rdb.Scan(ctx, cursor, rc.cfg.Prefix+":*", batchSize).Result()
        if err != nil {
            return err
        }
        if len(keys) > 0 {
            if err := rc.rdb.Unlink(ctx, keys...).Err(); err != nil {
                return err
            }
        }
        if next == 0 {
            return nil
        }
        cursor = next
    }
}

// InvalidateOnSuccess drops the cache after a mutating handler answered with
// a 2xx status.
func (rc *ResponseCache) InvalidateOnSuccess() echo.MiddlewareFunc {
    if !rc.active() {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            err := next(c)
            if status := c.Response().Status; err == nil && status >= 200 && status < 300 {
                if ierr := rc.Invalidate(context.WithoutCancel(c.Request().Context())); ierr != nil {
                    rc.logger.Warn("cache invalidation failed", zap.Error(ierr))
                }
            }
            return err
        }
    }
}
