package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "net/http"
    "strings"

    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the actor id (sub claim) and role claim into the request context.
// Authentication itself is owned by the identity provider; this service only
// verifies the signature and reads who is acting.  Handlers read the values
// back through ActorID and Role.
func JWTAuth(secret string) echo.MiddlewareFunc {
    keyFunc := func(t *jwt.Token) (interface{}, error) {
        return []byte(secret), nil
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token", "kind": "unauthorized"})
            }
            raw := strings.TrimPrefix(auth, "Bearer ")

            // only HS256 tokens are accepted; anything else fails parsing
            tok, err := jwt.Parse(raw, keyFunc, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
            if err != nil || !tok.Valid {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token", "kind": "unauthorized"})
            }
            claims, ok := tok.Claims.(jwt.MapClaims)
            if !ok {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims", "kind": "unauthorized"})
            }
            actorID, ok := subjectID(claims["sub"])
            if !ok {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid subject", "kind": "unauthorized"})
            }

            c.Set(ctxActorID, actorID)
            if role, ok := claims["role"].(string); ok {
                c.Set(ctxRole, role)
            }
            return next(c)
        }
    }
}
