package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Harsh-BH/brewgate/internal/delivery/http/middleware"
)

// multipartOverhead is allowed on top of the file size for form framing.
const multipartOverhead = 64 << 10

// RouterDeps holds everything the router wires into handlers.
type RouterDeps struct {
	Pipeline          Obfuscator
	Checker           DependencyChecker
	Logger            *zap.Logger
	RateLimitPerMin   int
	MaxInputBytes     int64
	MaxConcurrentJobs int64
	// InFlight tracks obfuscation requests so shutdown can wait for their
	// cleanup. Optional.
	InFlight *middleware.InFlight
}

// NewRouter creates and configures the Gin router with all routes and middleware.
func NewRouter(deps *RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(deps.Logger))

	// Metrics endpoint (no rate limiting)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := NewHealthHandler(deps.Checker, deps.Logger)
	router.GET("/", healthHandler.Health)
	router.GET("/health", healthHandler.Health)

	maxJobs := deps.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = 1
	}
	slots := semaphore.NewWeighted(maxJobs)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthHandler.Health)

		inFlight := deps.InFlight
		if inFlight == nil {
			inFlight = middleware.NewInFlight()
		}
		limited := v1.Group("", middleware.RateLimiter(deps.RateLimitPerMin), inFlight.Track())

		obfHandler := NewObfuscateHandler(deps.Pipeline, slots, deps.MaxInputBytes, deps.Logger)
		limited.POST("/obfuscate", middleware.BodySizeLimit(deps.MaxInputBytes+multipartOverhead), obfHandler.Obfuscate)

		wsHandler := NewWebSocketHandler(deps.Pipeline, slots, deps.MaxInputBytes, deps.Logger)
		limited.GET("/obfuscate/stream", wsHandler.Stream)
	}

	return router
}
