package app

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ridedispatch/internal/handler"
	"ridedispatch/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RideHandler      *handler.RideHandler
	DriverHandler    *handler.DriverHandler
	SessionHandler   *handler.SessionHandler
	IdempotencyStore middleware.IdempotencyStore
	NewRelicApp      *newrelic.Application
	Logger           *slog.Logger
	HealthCheck      func(*gin.Context) error
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.ErrorLogger(deps.Logger))

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.GET("/health", func(c *gin.Context) {
		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(c); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	idempotent := middleware.IdempotencyMiddleware(deps.IdempotencyStore, deps.Logger)

	// Unversioned alias kept for existing clients.
	router.POST("/rides/match", idempotent, deps.RideHandler.MatchRide)

	v1 := router.Group("/v1")
	{
		rides := v1.Group("/rides")
		{
			rides.POST("/match", idempotent, deps.RideHandler.MatchRide)
			rides.GET("", deps.RideHandler.ListRides)
			rides.GET("/:id", deps.RideHandler.GetRide)
			rides.POST("/:id/cancel", idempotent, deps.RideHandler.CancelRide)
		}

		drivers := v1.Group("/drivers")
		{
			drivers.POST("/:id/online", deps.DriverHandler.GoOnline)
			drivers.POST("/:id/offline", deps.DriverHandler.GoOffline)
			drivers.GET("/:id/availability", deps.DriverHandler.GetAvailability)
		}

		if deps.SessionHandler != nil {
			v1.GET("/ws/passengers/:id", deps.SessionHandler.Connect)
		}
	}

	return router
}
