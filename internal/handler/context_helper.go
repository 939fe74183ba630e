package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/autoenrol/internal/middleware"
	"github.com/noah-isme/autoenrol/pkg/middleware/requestid"
)

// callerFields identifies the token subject and request for log lines.
func callerFields(c *gin.Context) []zap.Field {
	fields := []zap.Field{zap.String("request_id", requestid.Value(c))}
	if claims := middleware.Claims(c); claims != nil {
		fields = append(fields, zap.String("caller", claims.Subject))
	}
	return fields
}
