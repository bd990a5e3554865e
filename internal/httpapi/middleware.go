// Package httpapi is the thin HTTP adapter surface: health, symbol
// subscribe/unsubscribe, runtime config, token refresh, and the /ws
// upgrade route (SPEC_FULL.md §3), built on Echo the way the teacher's
// routes.SetupRoutes and internal/middleware package do.
package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"orderflow-engine/internal/config"
)

// CORS configures permissive Cross-Origin Resource Sharing for the
// adapter surface, adapted from the teacher's internal/middleware/cors.go.
// Origins are wildcarded and no credentials (cookies, Authorization
// headers) are read cross-origin, since browsers refuse to honor
// Access-Control-Allow-Credentials alongside a wildcard origin.
func CORS(cfg *config.Config) echo.MiddlewareFunc {
	return echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Requested-With"},
		ExposeHeaders: []string{"Content-Length"},
	})
}

// RateLimit gates the adapter surface (not the market-data path), adapted
// from the teacher's internal/middleware/ratelimit.go.
func RateLimit(cfg *config.Config) echo.MiddlewareFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiter.Allow() {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error":   "rate limit exceeded",
					"message": "too many requests, please try again later",
				})
			}
			return next(c)
		}
	}
}
