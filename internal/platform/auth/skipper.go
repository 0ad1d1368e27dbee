package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// Probes and the Prometheus scrape run without a token. Everything under
// /api requires one.
var publicRoutes = []string{"/health", "/health/db", "/metrics"}

// AuthSkipper is the JWTConfig.Skipper for the server. It matches the
// registered route when echo found one and the raw path otherwise, so an
// unknown path under /api still answers 401 rather than 404.
func AuthSkipper(c echo.Context) bool {
	route := c.Path()
	if route == "" {
		route = c.Request().URL.Path
	}
	return IsPublicPath(route)
}

func IsPublicPath(path string) bool {
	path = strings.TrimSuffix(path, "/")
	for _, r := range publicRoutes {
		if path == r {
			return true
		}
	}
	return false
}
