package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/gauge-set-tracker/internal/handler"
	"github.com/iliyamo/gauge-set-tracker/internal/middleware"
)

// Handlers bundles everything the routes dispatch to.
type Handlers struct {
	Pair        *handler.PairHandler
	Calibration *handler.CalibrationHandler
	DB          handler.Pinger // nil reports liveness only
}

// Options carries the cross-cutting middleware.  A nil Limiter or Cache
// disables that concern.
type Options struct {
	JWTSecret string
	Limiter   echo.MiddlewareFunc
	Cache     *middleware.ResponseCache
}

// RegisterRoutes mounts the health check and the /v1 API.
//
// Reads are open to every operational role and served through the response
// cache.  Pairing mutations need INVENTORY_MANAGER, calibration mutations
// need CALIBRATION_TECH; ADMIN passes both gates.  Every mutation is rate
// limited per actor and route and drops the read cache once it succeeds.
func RegisterRoutes(e *echo.Echo, h Handlers, opts Options) {
	e.GET("/healthz", handler.Health(h.DB))

	auth := middleware.JWTAuth(opts.JWTSecret)
	limit := opts.Limiter
	if limit == nil {
		limit = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	// ---- Reads ----
	reads := e.Group("/v1",
		auth,
		middleware.RequireRole(middleware.RoleInventoryManager, middleware.RoleCalibrationTech),
		opts.Cache.Middleware(),
	)
	reads.GET("/gauge-sets/:base_id", h.Pair.GetSet)
	reads.GET("/gauge-sets/:base_id/history", h.Pair.History)
	reads.GET("/gauges/compatibility", h.Pair.Compatibility)
	reads.GET("/gauges/:id", h.Pair.GetAsset)
	reads.GET("/spares", h.Pair.FindSpares)

	// ---- Pairing ----
	pairing := e.Group("/v1",
		auth,
		middleware.RequireRole(middleware.RoleInventoryManager),
		limit,
		opts.Cache.InvalidateOnSuccess(),
	)
	pairing.POST("/gauge-sets", h.Pair.CreateSet)
	pairing.POST("/gauge-sets/pair", h.Pair.PairSpares)
	pairing.POST("/gauges/:id/replace-companion", h.Pair.ReplaceCompanion)
	pairing.POST("/gauges/:id/unpair", h.Pair.Unpair)
	pairing.POST("/spares", h.Pair.CreateSpare)

	// ---- Calibration ----
	cal := e.Group("/v1/gauges/:id/calibration",
		auth,
		middleware.RequireRole(middleware.RoleCalibrationTech),
		limit,
		opts.Cache.InvalidateOnSuccess(),
	)
	cal.POST("/send", h.Calibration.Send)
	cal.POST("/receive", h.Calibration.Receive)
	cal.POST("/verify-certificate", h.Calibration.VerifyCertificate)
	cal.POST("/release", h.Calibration.Release)
}
