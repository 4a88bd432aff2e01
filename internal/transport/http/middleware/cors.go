package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AllowRequestedHeaders answers a CORS preflight from an allowed origin with the
// headers the browser asked for. With credentials enabled browsers treat "*" as a
// literal header name, so allowing every header means echoing the request. It
// must run before cors.New, which then adds the origin and method headers.
func AllowRequestedHeaders(allowOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowOrigins))
	for _, origin := range allowOrigins {
		allowed[origin] = struct{}{}
	}

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}
		if _, ok := allowed[c.GetHeader("Origin")]; ok {
			if requested := c.GetHeader("Access-Control-Request-Headers"); requested != "" {
				c.Header("Access-Control-Allow-Headers", requested)
				c.Writer.Header().Add("Vary", "Access-Control-Request-Headers")
			}
		}
		c.Next()
	}
}
