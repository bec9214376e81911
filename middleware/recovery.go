package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/AnTengye/contractsign/model"
	"github.com/AnTengye/contractsign/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Recovery turns a panic in a handler into a 500 with the generic message
// the pages show for any unexplained failure.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID := GetRequestID(c)

				logger.Error(c.Request.Context(), "panic recovered",
					"error", err,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      model.GenericErrorMessage,
					"request_id": requestID,
				})
			}
		}()

		c.Next()
	}
}
