package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const loginRateKeyPrefix = "rl:login:"

// LoginRateLimit limits login attempts per phone or IP. Counters live in Redis
// when a client is given so every instance shares them, otherwise in a
// process-local token bucket.
func LoginRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	local := NewKeyedLimiter(maxPerMin, 10*time.Minute)

	return func(c *fiber.Ctx) error {
		key := loginKey(c)
		if cache == nil {
			if !local.Allow(key, time.Now()) {
				return tooManyAttempts()
			}
			return c.Next()
		}

		redisKey := loginRateKeyPrefix + key
		cnt, err := cache.Incr(c.UserContext(), redisKey).Result()
		if err != nil {
			// Fall back to the local bucket rather than locking everyone out.
			if !local.Allow(key, time.Now()) {
				return tooManyAttempts()
			}
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), redisKey, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return tooManyAttempts()
		}
		return c.Next()
	}
}

func loginKey(c *fiber.Ctx) string {
	var req struct {
		Phone string `json:"phone"`
	}
	_ = c.BodyParser(&req)
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		return phone
	}
	return c.IP()
}

func tooManyAttempts() error {
	return fiber.NewError(http.StatusTooManyRequests, "too many login attempts, try again later")
}
