package mockserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// AuthMiddleware rejects requests whose bearer token does not match apiKey.
// An empty apiKey allows every request. Paths in skipPaths are public.
func AuthMiddleware(apiKey string, skipPaths []string) echo.MiddlewareFunc {
	public := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		public[p] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiKey == "" || public[c.Request().URL.Path] {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return errorJSON(c, http.StatusUnauthorized, "Missing Authorization header")
			}

			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				return errorJSON(c, http.StatusUnauthorized, "Invalid Authorization header, expected 'Bearer <token>'")
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				return errorJSON(c, http.StatusUnauthorized, "Invalid API key")
			}

			return next(c)
		}
	}
}
