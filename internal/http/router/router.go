package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"phoneagent_backend/internal/config"
	"phoneagent_backend/platform/httpkit"
	"phoneagent_backend/platform/logger"
)

// Routable is implemented by modules that mount HTTP endpoints.
type Routable interface {
	RegisterRoutes(r gin.IRouter)
}

// New builds the Gin engine with the shared middleware chain and
// mounts every module's routes.
func New(cfg *config.Config, log *logger.Logger, modules ...Routable) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestID())
	engine.Use(httpkit.SecurityHeaders())
	engine.Use(httpkit.RequestLogger(log))
	engine.Use(cors.New(corsConfig(cfg)))

	engine.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for _, m := range modules {
		m.RegisterRoutes(engine)
	}

	return engine
}

func corsConfig(cfg *config.Config) cors.Config {
	corsCfg := cors.DefaultConfig()
	if cfg.CORSAllowAll {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORSOrigins
		corsCfg.AllowCredentials = cfg.CORSAllowCreds
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Request-Id")
	corsCfg.MaxAge = 12 * time.Hour
	return corsCfg
}
