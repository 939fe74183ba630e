package middleware

import (
	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/autoenrol/pkg/errors"
	"github.com/noah-isme/autoenrol/pkg/response"
)

// RequireScope allows the request when the token carries any of scopes.
func RequireScope(scopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		for _, scope := range scopes {
			if claims.HasScope(scope) {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
