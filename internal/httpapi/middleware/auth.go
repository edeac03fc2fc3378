package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mindgrove/companion/internal/common"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "auth.user_id"

// AuthRequired validates the bearer token and stashes the user id on the
// context. Tokens carry the user id in the "sub" claim.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			common.Fail(c, http.StatusUnauthorized, 40101, "missing bearer token")
			c.Abort()
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		claims := jwt.MapClaims{}
		tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !tok.Valid {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			c.Abort()
			return
		}

		uid, ok := subjectID(claims["sub"])
		if !ok {
			common.Fail(c, http.StatusUnauthorized, 40103, "invalid token subject")
			c.Abort()
			return
		}

		c.Set(UserIDKey, uid)
		c.Next()
	}
}

// subjectID reads the sub claim as either a JSON number or a numeric string,
// the two encodings issuers actually use.
func subjectID(v any) (uint64, bool) {
	switch sub := v.(type) {
	case float64:
		if sub <= 0 {
			return 0, false
		}
		return uint64(sub), true
	case string:
		n, err := strconv.ParseUint(sub, 10, 64)
		if err != nil || n == 0 {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
