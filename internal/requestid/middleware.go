package requestid

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// Header carries the request identifier in both directions.
const Header = "X-Request-ID"

const maxIncomingLength = 128

// Get retrieves the request identifier from context.
func Get(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(requestIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// With returns a copy of ctx carrying id.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// Middleware reuses a sane incoming X-Request-ID or assigns a new UUID, and
// echoes it on the response.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(Header))
		if id == "" || len(id) > maxIncomingLength || strings.ContainsAny(id, "\r\n") {
			id = uuid.NewString()
		}

		c.Request = c.Request.WithContext(With(c.Request.Context(), id))
		c.Set(string(requestIDKey), id)
		c.Header(Header, id)

		c.Next()
	}
}
