package middleware // middleware provides shared request processing for handlers

import (
    "net/http"

    "github.com/labstack/echo/v4"
)

// Roles carried in the access token's role claim.
const (
    RoleInventoryManager = "INVENTORY_MANAGER" // pairing operations
    RoleCalibrationTech  = "CALIBRATION_TECH"  // calibration workflow
    RoleAdmin            = "ADMIN"             // everything
)

// RequireRole returns a middleware that only lets through actors whose role
// claim is one of roles.  ADMIN is always accepted.  It must run after
// JWTAuth; a request without a role is rejected with 403.
func RequireRole(roles ...string) echo.MiddlewareFunc {
    allowed := make(map[string]bool, len(roles)+1)
    for _, r := range roles {
        allowed[r] = true
    }
    allowed[RoleAdmin] = true
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if !allowed[Role(c)] {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "kind": "forbidden"})
            }
            return next(c)
        }
    }
}
