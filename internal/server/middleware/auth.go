package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tma-auth/internal/security"
)

const bearerPrefix = "bearer "

// AccessVerifier validates access tokens. *security.Issuer implements it.
type AccessVerifier interface {
	VerifyAccessToken(token string, now time.Time) (*security.Claims, error)
}

// RequireAccessToken returns middleware that rejects requests without a valid Bearer access token
// and stores principal_id, session_id and expiry in the request context for downstream handlers.
// Only the token is consulted; the session store is not.
func RequireAccessToken(tokens AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}
		claims, err := tokens.VerifyAccessToken(token, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}
		var exp time.Time
		if claims.ExpiresAt != nil {
			exp = claims.ExpiresAt.Time
		}
		ctx := WithIdentity(c.Request.Context(), claims.PrincipalID(), claims.SessionID, exp)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ExtractBearer returns the token from an Authorization header value, or "" if missing or malformed.
func ExtractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
