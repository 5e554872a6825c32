package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RateLimiter: окно фиксированной длины на пользователя и маршрут, счётчик в Redis
type RateLimiter struct {
	redis  *redis.Client
	prefix string
	limit  int
	window time.Duration
	log    *zap.Logger
}

func NewRateLimiter(rdb *redis.Client, prefix string, limit int, window time.Duration, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{redis: rdb, prefix: prefix, limit: limit, window: window, log: log}
}

func (r *RateLimiter) key(c *gin.Context) string {
	actor := ActorID(c).String()
	return fmt.Sprintf("%s:%s:%s:%s", r.prefix, c.Request.Method, c.FullPath(), actor)
}

// hit увеличивает счётчик окна. Ключ без срока жизни получает его здесь же,
// а если выставить срок не вышло, ключ удаляется.
func (r *RateLimiter) hit(ctx context.Context, key string) (int64, error) {
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if ttl.Val() < 0 {
		if err := r.redis.PExpire(ctx, key, r.window).Err(); err != nil {
			if delErr := r.redis.Del(ctx, key).Err(); delErr != nil {
				r.log.Error("drop rate limit key without ttl", zap.String("key", key), zap.Error(delErr))
			}
			return 0, fmt.Errorf("set rate limit window: %w", err)
		}
	}
	return incr.Val(), nil
}

func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := r.key(c)

		count, err := r.hit(ctx, key)
		if err != nil {
			// Лимитер недоступен, запрос пропускаем
			r.log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(r.limit))
		remaining := int64(r.limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(r.limit) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "message": "Too many requests, slow down"})
			return
		}
		c.Next()
	}
}
