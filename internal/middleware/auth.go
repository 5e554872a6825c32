package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/thereayou/voxus/pkg/auth"
)

const UserIDKey = "userID"

// TokenVerifier проверяет токен и возвращает claims
type TokenVerifier interface {
	Verify(accessToken string) (*auth.Claims, error)
}

// Blacklist сообщает, отозван ли токен (logout)
type Blacklist interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// RedisBlacklist хранит отозванные токены в Redis до их истечения
type RedisBlacklist struct {
	rdb *redis.Client
}

func NewRedisBlacklist(rdb *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{rdb: rdb}
}

// Revoke хранит токен в черном списке до его истечения
func (b *RedisBlacklist) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return b.rdb.Set(ctx, "blacklist:"+token, 1, ttl).Err()
}

func (b *RedisBlacklist) IsRevoked(ctx context.Context, token string) (bool, error) {
	exists, err := b.rdb.Exists(ctx, "blacklist:"+token).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// AuthMiddleware проверяет JWT токен из заголовка, а для WebSocket ещё и из ?token=
func AuthMiddleware(verifier TokenVerifier, blacklist Blacklist) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			authHeader := c.GetHeader("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
				token = parts[1]
			}
		}

		if token == "" {
			unauthenticated(c, "missing or invalid token")
			return
		}

		// Проверяем, не в черном списке ли токен
		if blacklist != nil {
			revoked, err := blacklist.IsRevoked(c.Request.Context(), token)
			if err != nil || revoked {
				unauthenticated(c, "token is revoked")
				return
			}
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			unauthenticated(c, "invalid token")
			return
		}

		userID, err := auth.UserID(claims)
		if err != nil {
			unauthenticated(c, "invalid user id")
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// ActorID возвращает текущего пользователя или uuid.Nil, если запрос не аутентифицирован
func ActorID(c *gin.Context) uuid.UUID {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return uuid.Nil
	}
	id, _ := v.(uuid.UUID)
	return id
}

func unauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": msg})
}
