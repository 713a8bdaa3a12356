package api

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fileshare/internal/server/config"
)

// multipartOverhead is headroom above the aggregate size limit for form
// boundaries and non-file fields.
const multipartOverhead = 10 * 1024 * 1024

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg *config.Config, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type"},
		ExposeHeaders: []string{echo.HeaderContentDisposition},
	}))
	e.Use(RequestLogger())

	// Upload and single-file downloads share one per-IP budget
	limiter := NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	bodyLimit := middleware.BodyLimit(strconv.FormatInt(cfg.MaxTotalSize+multipartOverhead, 10))

	// Health, stats & metrics
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)
	e.GET("/api/config", handler.HandleConfig)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Upload (rate-limited)
	e.POST("/upload", handler.HandleUpload, bodyLimit, limiter.Middleware())

	// Download
	e.GET("/download/:id", handler.HandleListing)
	e.GET("/download/:id/bundle", handler.HandleBundle)
	e.GET("/download/:id/file/*", handler.HandleFile, limiter.Middleware())

	return e
}
