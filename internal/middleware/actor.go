package middleware

// actor.go holds the context keys JWTAuth fills and the helpers handlers and
// other middleware use to read them back.

import (
    "strconv"

    "github.com/labstack/echo/v4"
)

const (
    ctxActorID = "actor_id"
    ctxRole    = "role"
)

// ActorID returns the authenticated actor, or false when JWTAuth did not run
// or the token carried no usable subject.
func ActorID(c echo.Context) (uint64, bool) {
    id, ok := c.Get(ctxActorID).(uint64)
    return id, ok && id != 0
}

// Role returns the authenticated actor's role claim.
func Role(c echo.Context) string {
    r, _ := c.Get(ctxRole).(string)
    return r
}

// actorKey identifies the caller for rate limiting: the actor id when
// authenticated, otherwise "anon".
func actorKey(c echo.Context) string {
    if id, ok := ActorID(c); ok {
        return strconv.FormatUint(id, 10)
    }
    return "anon"
}

// subjectID converts a sub claim into an actor id.  Tokens minted by
// utils.NewAccessToken carry a number; other issuers may use a string.
func subjectID(v any) (uint64, bool) {
    switch t := v.(type) {
    case float64:
        if t <= 0 || t != float64(uint64(t)) {
            return 0, false
        }
        return uint64(t), true
    case string:
        n, err := strconv.ParseUint(t, 10, 64)
        return n, err == nil && n != 0
    }
    return 0, false
}
