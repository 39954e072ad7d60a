package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig bounds management API calls per client IP in a fixed
// window.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 100,
		Window:      time.Minute,
		KeyPrefix:   "ratelimit:api",
	}
}

// windowCounter increments the caller's counter, starts the window on the
// first hit and returns the count with the milliseconds left in the window.
var windowCounter = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// RateLimit rejects callers over the limit with 429. Redis failures let the
// request through.
func RateLimit(rdb redis.Cmdable, cfg RateLimitConfig, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	limit := strconv.Itoa(cfg.MaxRequests)
	windowMS := cfg.Window.Milliseconds()

	return func(c *fiber.Ctx) error {
		key := cfg.KeyPrefix + ":" + c.IP()

		res, err := windowCounter.Run(c.Context(), rdb, []string{key}, windowMS).Int64Slice()
		if err != nil || len(res) != 2 {
			log.Warn("rate limit check failed, allowing request", zap.String("key", key), zap.Error(err))
			return c.Next()
		}
		count, ttl := res[0], res[1]
		if ttl < 0 {
			ttl = windowMS
		}

		c.Set("X-RateLimit-Limit", limit)
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(max(0, int64(cfg.MaxRequests)-count), 10))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Duration(ttl)*time.Millisecond).Unix(), 10))

		if count > int64(cfg.MaxRequests) {
			c.Set(fiber.HeaderRetryAfter, strconv.FormatInt((ttl+999)/1000, 10))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
		}
		return c.Next()
	}
}
