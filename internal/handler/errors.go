package handler // handler defines http handlers

import (
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/gauge-set-tracker/internal/middleware"
    "github.com/iliyamo/gauge-set-tracker/internal/model"
)

// busyRetryAfter is the Retry-After hint, in seconds, sent with 503s caused
// by lock contention.
const busyRetryAfter = 1

// statusFor maps an error kind to its HTTP status.
func statusFor(kind model.Kind) int {
    switch kind {
    case model.KindValidation:
        return http.StatusUnprocessableEntity
    case model.KindConflict:
        return http.StatusConflict
    case model.KindNotFound:
        return http.StatusNotFound
    case model.KindBusy:
        return http.StatusServiceUnavailable
    }
    return http.StatusInternalServerError
}

// writeError renders err as {"error": code, "kind": kind, "details": {...}}.
// Internal errors are logged and their message is never sent to the client.
func writeError(c echo.Context, logger *zap.Logger, err error) error {
    kind := model.KindOf(err)
    code, details := model.CodeOf(err)
    status := statusFor(kind)
    if kind == model.KindBusy {
        c.Response().Header().Set("Retry-After", strconv.Itoa(busyRetryAfter))
    }
    if kind == model.KindInternal {
        logger.Error("request failed",
            zap.String("method", c.Request().Method), zap.String("path", c.Path()), zap.Error(err))
    }
    body := echo.Map{"error": code, "kind": kind}
    if details != nil {
        body["details"] = details
    }
    return c.JSON(status, body)
}

// badRequest rejects a request that could not be decoded at all.
func badRequest(c echo.Context, msg string) error {
    return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad_request", "kind": "bad_request", "details": echo.Map{"message": msg}})
}

// actor returns the authenticated actor set by JWTAuth.
func actor(c echo.Context) (uint64, bool) {
    id, ok := middleware.ActorID(c)
    return id, ok
}

func unauthorized(c echo.Context) error {
    return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "kind": "unauthorized"})
}

// pathID parses the :id path parameter.
func pathID(c echo.Context) (uint64, bool) {
    id, err := strconv.ParseUint(c.Param("id"), 10, 64)
    return id, err == nil && id != 0
}

// queryID parses an optional numeric query parameter; absent means 0.
func queryID(c echo.Context, name string) (uint64, bool) {
    v := c.QueryParam(name)
    if v == "" {
        return 0, true
    }
    id, err := strconv.ParseUint(v, 10, 64)
    return id, err == nil
}
