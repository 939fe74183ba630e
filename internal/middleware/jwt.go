package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/autoenrol/internal/service"
	appErrors "github.com/noah-isme/autoenrol/pkg/errors"
	"github.com/noah-isme/autoenrol/pkg/response"
)

// ContextClaimsKey is the gin context key storing service token claims.
const ContextClaimsKey = "serviceClaims"

type tokenValidator interface {
	Validate(token string) (*service.ServiceClaims, error)
}

// JWT protects routes by requiring a valid service token.
func JWT(tokens tokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := tokens.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Next()
	}
}

// Claims returns the validated claims stored by JWT, if any.
func Claims(c *gin.Context) *service.ServiceClaims {
	value, exists := c.Get(ContextClaimsKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*service.ServiceClaims)
	return claims
}
