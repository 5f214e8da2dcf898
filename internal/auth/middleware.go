package auth

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Middleware authenticates API requests. When the authenticator has no
// tokens every request passes through without a Caller.
//
// A request without a valid bearer token is rejected with 401 and the
// envelope the API uses for errors.
func Middleware(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" && c.Query("access_token") != "" {
			// Browsers cannot set headers on websocket upgrades.
			header = "Bearer " + c.Query("access_token")
		}
		caller, err := a.Authenticate(header)
		if err != nil {
			slog.WarnContext(c.Request.Context(), "authentication failed",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"error", err,
			)
			c.Header("WWW-Authenticate", `Bearer realm="reportbuilder"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "authentication required",
			})
			return
		}

		c.Request = c.Request.WithContext(WithCaller(c.Request.Context(), caller))
		c.Next()
	}
}
