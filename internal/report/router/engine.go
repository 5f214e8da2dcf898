package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OpenNSW/reportbuilder/internal/auth"
	"github.com/OpenNSW/reportbuilder/internal/config"
	"github.com/OpenNSW/reportbuilder/internal/middleware"
)

// HealthFunc reports whether the service's dependencies are reachable.
type HealthFunc func() error

// NewEngine assembles the gin engine. Health and metrics stay public; the API
// routes sit behind authn.
func NewEngine(cors *config.CORSConfig, authn *auth.Authenticator, rr *ReportRouter, health HealthFunc, metrics http.Handler) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestLogger(), middleware.CORS(cors))

	engine.GET("/health", func(c *gin.Context) {
		if health != nil {
			if err := health(); err != nil {
				c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"status": "ok"}})
	})
	if metrics != nil {
		engine.GET("/metrics", gin.WrapH(metrics))
	}

	rr.Register(engine.Group("", auth.Middleware(authn)))
	return engine
}
