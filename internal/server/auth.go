package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rcliao/ryos-memory/internal/logging"
)

const (
	usernameHeader = "X-Username"
	usernameKey    = "username"
)

// Authenticator validates a username and bearer token pair.
type Authenticator interface {
	Authenticate(ctx context.Context, username, token string) (bool, error)
}

// RedisAuthenticator accepts a token when it equals the value stored at
// chat:token:{username}.
type RedisAuthenticator struct {
	client redis.UniversalClient
}

// NewRedisAuthenticator creates an authenticator reading from client.
func NewRedisAuthenticator(client redis.UniversalClient) *RedisAuthenticator {
	return &RedisAuthenticator{client: client}
}

// TokenKey is the Redis key holding a user's chat token.
func TokenKey(username string) string {
	return "chat:token:" + username
}

// Authenticate implements Authenticator.
func (a *RedisAuthenticator) Authenticate(ctx context.Context, username, token string) (bool, error) {
	stored, err := a.client.Get(ctx, TokenKey(username)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to read auth token", goerr.V("username", username))
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(token)) == 1, nil
}

// StaticAuthenticator checks tokens against a fixed username to token map.
type StaticAuthenticator map[string]string

// Authenticate implements Authenticator.
func (a StaticAuthenticator) Authenticate(_ context.Context, username, token string) (bool, error) {
	want, ok := a[username]
	if !ok || want == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1, nil
}

func requireAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := strings.ToLower(strings.TrimSpace(c.GetHeader(usernameHeader)))
		token := bearerToken(c.GetHeader("Authorization"))
		if username == "" || token == "" || auth == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		ok, err := auth.Authenticate(c.Request.Context(), username, token)
		if err != nil {
			logging.From(c.Request.Context()).Error("authentication failed", logging.ErrAttr(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication unavailable"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(usernameKey, username)
		c.Next()
	}
}

func bearerToken(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
