package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists route paths that bypass bearer authentication. The
// WebSocket endpoint authenticates in-band, and the payment webhook is
// authenticated by the gateway signature instead of a JWT.
var publicPaths = map[string]bool{
	"/health":                  true,
	"/health/db":               true,
	"/metrics":                 true,
	"/ws":                      true,
	"/api/v1/payments/webhook": true,
}

// AuthSkipper returns true for requests whose path should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}
