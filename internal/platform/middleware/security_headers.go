package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// SecurityConfig controls SecurityHeaders.
type SecurityConfig struct {
	// HSTSMaxAge is the Strict-Transport-Security max-age in seconds. Zero
	// omits the header, for plain-HTTP development servers.
	HSTSMaxAge int
}

// SecurityHeaders sets response headers for a JSON API that carries
// payment and notification data. WebSocket upgrades are skipped: the
// hijacked connection never writes these headers.
func SecurityHeaders(cfg SecurityConfig) echo.MiddlewareFunc {
	var hsts string
	if cfg.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.Itoa(cfg.HSTSMaxAge) + "; includeSubDomains"
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isWebSocketPath(c.Request().URL.Path) {
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			// Snap tokens and redirect URLs must not land in shared caches.
			h.Set("Cache-Control", "no-store")
			if hsts != "" {
				h.Set("Strict-Transport-Security", hsts)
			}
			return next(c)
		}
	}
}
