package handler

import (
    "context"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/gauge-set-tracker/internal/model"
    "github.com/iliyamo/gauge-set-tracker/internal/service"
)

// PairOperations is the pairing surface the handlers call.
// *service.PairService implements it.
type PairOperations interface {
    CreateGaugeSet(ctx context.Context, spec model.SetSpec, actorID uint64) (*model.GaugeSet, error)
    CreateSpare(ctx context.Context, a model.Asset, actorID uint64) (*model.Asset, error)
    PairSpareGauges(ctx context.Context, in service.PairInput, actorID uint64) (*model.GaugeSet, error)
    ReplaceCompanion(ctx context.Context, in service.ReplaceInput, actorID uint64) (*service.ReplaceResult, error)
    UnpairGauges(ctx context.Context, in service.UnpairInput, actorID uint64) (*service.UnpairResult, error)
    ValidateCompatibility(ctx context.Context, goID, noGoID uint64) (*service.CompatibilityReport, error)
    GetAsset(ctx context.Context, id uint64) (*model.Asset, error)
    GetSet(ctx context.Context, baseID string) (*model.GaugeSet, error)
    History(ctx context.Context, baseID string) ([]model.PairHistory, error)
    FindSpares(ctx context.Context, f model.SpareFilter) ([]model.Asset, error)
}

// PairHandler serves the gauge set and spare endpoints.  All methods assume
// JWTAuth and the role gate already ran.
type PairHandler struct {
    svc    PairOperations
    logger *zap.Logger
}

// NewPairHandler panics when svc is nil.
func NewPairHandler(svc PairOperations, logger *zap.Logger) *PairHandler {
    if svc == nil {
        panic("nil service passed to NewPairHandler")
    }
    if logger == nil {
        logger = zap.NewNop()
    }
    return &PairHandler{svc: svc, logger: logger}
}

type createSetRequest struct {
    BaseID         string            `json:"base_id"`
    Classification string            `json:"classification"`
    CategoryID     uint64            `json:"category_id"`
    Thread         *model.ThreadSpec `json:"thread"`
    GoLocation     string            `json:"go_location"`
    NoGoLocation   string            `json:"nogo_location"`
}

// CreateSet handles POST /v1/gauge-sets.  It creates both members of a new
// set and returns 201 with the linked set.
func (h *PairHandler) CreateSet(c echo.Context) error {
    actorID, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    var req createSetRequest
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid request body")
    }
    set, err := h.svc.CreateGaugeSet(c.Request().Context(), model.SetSpec{
        BaseID:         req.BaseID,
        Classification: model.Classification(strings.TrimSpace(req.Classification)),
        CategoryID:     req.CategoryID,
        Thread:         req.Thread,
        GoLocation:     strings.TrimSpace(req.GoLocation),
        NoGoLocation:   strings.TrimSpace(req.NoGoLocation),
    }, actorID)
    if err != nil {
        return writeError(c, h.logger, err)
    }
    return c.JSON(http.StatusCreated, set)
}

// GetSet handles GET /v1/gauge-sets/:base_id.
func (h *PairHandler) GetSet(c echo.Context) error {
    set, err := h.svc.GetSet(c.Request().Context(), c.Param("base_id"))
    if err != nil {
        return writeError(c, h.logger, err)
    }
    return c.JSON(http.StatusOK, set)
}

// History handles GET /v1/gauge-sets/:base_id/history.  An unknown base
// identifier yields an empty list.
func (h *PairHandler) History(c echo.Context) error {
    rows, err := h.svc.History(c.Request().Context(), c.Param("base_id"))
    if err != nil {
        return writeError(c, h.logger, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"base_id": c.Param("base_id"), "history": rows})
}

type pairRequest struct {
    BaseID string `json:"base_id"`
    GoID   uint64 `json:"go_id"`
    NoGoID uint64 `json:"nogo_id"`
    Reason string `json:"reason"`
}

// PairSpares handles POST /v1/gauge-sets/pair: two spares become a set
// under base_id.
func (h *PairHandler) PairSpares(c echo.Context) error {
    actorID, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    var req pairRequest
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid request body")
    }
    if req.GoID == 0 || req.NoGoID == 0 {
        return badRequest(c, "go_id and nogo_id are required")
    }
    set, err := h.svc.PairSpareGauges(c.Request().Context(), service.PairInput{
        BaseID: req.BaseID, GoID: req.GoID, NoGoID: req.NoGoID, Reason: req.Reason,
    }, actorID)
    if err != nil {
        return writeError(c, h.logger, err)
    }
    return c.JSON(http.StatusCreated, set)
}

type replaceRequest struct {
    ReplacementID   uint64  `json:"replacement_id"`
    Reason          string  `json:"reason"`
    ExpectedVersion *uint32 `json:"expected_version"`
}

// ReplaceCompanion handles POST /v1/gauges/:id/replace-companion.
func (h *PairHandler) ReplaceCompanion(c echo.Context) error {
    actorID, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    id, ok := pathID(c)
    if !ok {
        return badRequest(c, "invalid gauge id")
    }
    var req replaceRequest
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid request body")
    }
    if req.ReplacementID == 0 {
        return badRequest(c, "replacement_id is required")
    }
    res, err := h.svc.ReplaceCompanion(c.Request().Context(), service.ReplaceInput{
        ExistingID: id, ReplacementID: req.ReplacementID, Reason: req.Reason, ExpectedVersion: req.ExpectedVersion,
    }, actorID)
    if err != nil {
        return writeError(c, h.logger, err)
    }
    return c.JSON(http.StatusOK, res)
}

type unpairRequest struct {
    Reason          string  `json:"reason"`
    ExpectedVersion *uint32 `json:"expected_version"`
}

// Unpair handles POST /v1/gauges/:id/unpair.  An empty body is accepted.
func (h *PairHandler) Unpair(c echo.Context) error {
    actorID, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    id, ok := pathID(c)
    if !ok {
        return badRequest(c, "invalid gauge id")
    }
    var req unpairRequest
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid request body")
    }
    res, err := h.svc.UnpairGauges(c.Request().Context(), service.UnpairInput{
        ID: id, Reason: req.Reason, ExpectedVersion: req.ExpectedVersion,
    }, actorID)
    if err != nil {
        return writeError(c, h.logger, err)
    }
    return c.JSON(http.StatusOK, res)
}

// Compatibility handles GET /v1/gauges/compatibility?go_id=&nogo_id=.  An
// incompatible pair is still a 200; the report names the violated rule.
func (h *PairHandler) Compatibility(c echo.Context) error {
    goID, ok1 := queryID(c, "go_id")
    noGoID, ok2 := queryID(c, "nogo_id")
    if !ok1 || !ok2 || goID == 0 || noGoID == 0 {
        return badRequest(c, "go_id and nogo_id are required")
    }
    rep, err := h.svc.ValidateCompatibility(c.Request().Context(), goID, noGoID)
    if err != nil {
        return writeError(c, h.logger, err)
    }
    return c.JSON(http.StatusOK, rep)
}

// FindSpares handles GET /v1/spares?category_id=&suffix=&status=&classification=.
func (h *PairHandler) FindSpares(c echo.Context) error {
    cat, ok := queryID(c, "category_id")
    if !ok {
        return badRequest(c, "invalid category_id")
    }
    spares, err := h.svc.FindSpares(c.Request().Context(), model.SpareFilter{
        CategoryID:     cat,
        Suffix:         model.Suffix(strings.ToUpper(strings.TrimSpace(c.QueryParam("suffix")))),
        Status:         model.Status(strings.TrimSpace(c.QueryParam("status"))),
        Classification: model.Classification(strings.TrimSpace(c.QueryParam("classification"))),
    })
    if err != nil {
        return writeError(c, h.logger, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"spares": spares, "count": len(spares)})
}

type createSpareRequest struct {
    GaugeID         string            `json:"gauge_id"`
    Classification  string            `json:"classification"`
    CategoryID      uint64            `json:"category_id"`
    Suffix          *string           `json:"suffix"`
    Thread          *model.ThreadSpec `json:"thread"`
    Status          string            `json:"status"`
    StorageLocation string            `json:"storage_location"`
}

// CreateSpare handles POST /v1/spares.
func (h *PairHandler) CreateSpare(c echo.Context) error {
    actorID, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    var req createSpareRequest
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid request body")
    }
    a := model.Asset{
        GaugeID:         strings.TrimSpace(req.GaugeID),
        Classification:  model.Classification(strings.TrimSpace(req.Classification)),
        CategoryID:      req.CategoryID,
        Thread:          req.Thread,
        Status:          model.Status(strings.TrimSpace(req.Status)),
        StorageLocation: strings.TrimSpace(req.StorageLocation),
    }
    if req.Suffix != nil {
        s := model.Suffix(strings.TrimSpace(*req.Suffix))
        a.Suffix = &s
    }
    out, err := h.svc.CreateSpare(c.Request().Context(), a, actorID)
    if err != nil {
        return writeError(c, h.logger, err)
    }
    return c.JSON(http.StatusCreated, out)
}

// GetAsset handles GET /v1/gauges/:id.
func (h *PairHandler) GetAsset(c echo.Context) error {
    id, ok := pathID(c)
    if !ok {
        return badRequest(c, "invalid gauge id")
    }
    a, err := h.svc.GetAsset(c.Request().Context(), id)
    if err != nil {
        return writeError(c, h.logger, err)
    }
    return c.JSON(http.StatusOK, a)
}
