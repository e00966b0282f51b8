package middlewares

import (
	"crypto/subtle"
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/crmkit/broadcast-service/pkg/logger"
	"github.com/crmkit/broadcast-service/pkg/response"
)

const (
	APIKeyHeader = "x-crm-auth-key"
)

// secureCompare compares two strings in a way that is safer against timing attacks.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// APIKeyAuth guards one endpoint group with a shared operator key. Campaign
// management and processor control carry separate keys, so the group name
// identifies which key a rejected caller should be using.
func APIKeyAuth(group, apiKey string) echo.MiddlewareFunc {
	// An unconfigured key is a server-side misconfiguration; fail closed and
	// say which endpoint group needs its key set.
	if apiKey == "" {
		logger.Warnf("No API key configured for the %s endpoints; rejecting all requests", group)
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				return response.InternalServerError(
					c,
					fmt.Errorf("API key is not configured for the %s endpoints", group),
				)
			}
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := c.Request().Header.Get(APIKeyHeader)
			if token == "" || !secureCompare(token, apiKey) {
				return response.Unauthorized(c)
			}

			return next(c)
		}
	}
}
