package handler

import (
    "context"
    "net/http"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/gauge-set-tracker/internal/model"
    "github.com/iliyamo/gauge-set-tracker/internal/service"
)

// CalibrationOperations is the workflow surface the handlers call.
// *service.CalibrationService implements it.
type CalibrationOperations interface {
    SendToCalibration(ctx context.Context, id, actorID uint64) (*model.Asset, error)
    ReceiveFromCalibration(ctx context.Context, in service.ReceiveInput, actorID uint64) (*model.Asset, error)
    VerifyCertificate(ctx context.Context, id, actorID uint64) (*service.TransitionResult, error)
    VerifyLocationAndRelease(ctx context.Context, in service.ReleaseInput, actorID uint64) (*service.TransitionResult, error)
}

// CalibrationHandler serves /v1/gauges/:id/calibration/*.
type CalibrationHandler struct {
    svc    CalibrationOperations
    logger *zap.Logger
}

func NewCalibrationHandler(svc CalibrationOperations, logger *zap.Logger) *CalibrationHandler {
    if svc == nil {
        panic("nil service passed to NewCalibrationHandler")
    }
    if logger == nil {
        logger = zap.NewNop()
    }
    return &CalibrationHandler{svc: svc, logger: logger}
}

// Send handles POST /v1/gauges/:id/calibration/send.
func (h *CalibrationHandler) Send(c echo.Context) error {
    actorID, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    id, ok := pathID(c)
    if !ok {
        return badRequest(c, "invalid gauge id")
    }
    a, err := h.svc.SendToCalibration(c.Request().Context(), id, actorID)
    if err != nil {
        return writeError(c, h.logger, err)
    }
    return c.JSON(http.StatusOK, a)
}

type receiveRequest struct {
    Passed *bool  `json:"passed"`
    Reason string `json:"reason"`
}

// Receive handles POST /v1/gauges/:id/calibration/receive with
// {"passed": bool, "reason": "..."}.  passed is required.
func (h *CalibrationHandler) Receive(c echo.Context) error {
    actorID, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    id, ok := pathID(c)
    if !ok {
        return badRequest(c, "invalid gauge id")
    }
    var req receiveRequest
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid request body")
    }
    if req.Passed == nil {
        return badRequest(c, "passed is required")
    }
    a, err := h.svc.ReceiveFromCalibration(c.Request().Context(), service.ReceiveInput{
        ID: id, Passed: *req.Passed, Reason: req.Reason,
    }, actorID)
    if err != nil {
        return writeError(c, h.logger, err)
    }
    return c.JSON(http.StatusOK, a)
}

// VerifyCertificate handles POST /v1/gauges/:id/calibration/verify-certificate.
// A paired gauge whose companion is not ready yet answers 202 with outcome
// waiting_on_companion; retry once the companion's certificate is in.
func (h *CalibrationHandler) VerifyCertificate(c echo.Context) error {
    actorID, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    id, ok := pathID(c)
    if !ok {
        return badRequest(c, "invalid gauge id")
    }
    res, err := h.svc.VerifyCertificate(c.Request().Context(), id, actorID)
    if err != nil {
        return writeError(c, h.logger, err)
    }
    status := http.StatusOK
    if res.Outcome == service.OutcomeWaitingOnCompanion {
        status = http.StatusAccepted
    }
    return c.JSON(status, res)
}

type releaseRequest struct {
    StorageLocation *string `json:"storage_location"`
}

// Release handles POST /v1/gauges/:id/calibration/release.  Omitting
// storage_location keeps the stored location.
func (h *CalibrationHandler) Release(c echo.Context) error {
    actorID, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    id, ok := pathID(c)
    if !ok {
        return badRequest(c, "invalid gauge id")
    }
    var req releaseRequest
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid request body")
    }
    res, err := h.svc.VerifyLocationAndRelease(c.Request().Context(), service.ReleaseInput{
        ID: id, Location: req.StorageLocation,
    }, actorID)
    if err != nil {
        return writeError(c, h.logger, err)
    }
    return c.JSON(http.StatusOK, res)
}
