package ws

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"association-chat/internal/middleware"
)

func newConnID() string {
	return uuid.NewString()
}

// tokenFromRequest accepts either an Authorization header or a token query
// parameter, since browsers cannot set headers on websocket handshakes.
func tokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		token, err := middleware.BearerToken(header)
		if err != nil {
			return ""
		}
		return token
	}
	return c.Query("token")
}
