package middleware

import (
	"github.com/gin-gonic/gin"
)

// CORS allows cross-origin requests from any origin. The realtime surface
// is consumed by the same frontends as the CRUD API sitting in front of
// it, which already enforces its own origin policy at the edge.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
