package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/fieldtrace/mediasync/internal/common"
	"github.com/gin-gonic/gin"
)

const deviceIDKey = "deviceID"

// RequireAuth extracts the bearer token, resolves it to a device id and
// stores the id in the request context. Expired tokens get a distinct body
// so agents re-login instead of treating the failure as fatal.
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(common.AuthorizationHeaderName)
		token, ok := strings.CutPrefix(header, common.BearerPrefix)
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		deviceID, err := h.devices.Authenticate(token)
		if err != nil {
			if errors.Is(err, common.ErrTokenExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": common.ErrTokenExpired.Error()})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(deviceIDKey, deviceID)
		c.Next()
	}
}

func deviceID(c *gin.Context) string {
	return c.GetString(deviceIDKey)
}
