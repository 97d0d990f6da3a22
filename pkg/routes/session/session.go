package session

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	ctxmiddleware "github.com/zlovtnik/clm-ingest/pkg/context"
	"github.com/zlovtnik/clm-ingest/pkg/models"
	"github.com/zlovtnik/clm-ingest/pkg/sessionmgr"
	"github.com/zlovtnik/clm-ingest/pkg/tracing"
)

var validate = validator.New()

// Register registers ingestion session routes
func Register(g *echo.Group) {
	g.POST("", Open)
	g.GET("/:id", Get)
	g.POST("/:id/advance", Advance)
	g.POST("/:id/cancel", Cancel)
}

// OpenSessionRequest is the batch submission payload.
type OpenSessionRequest struct {
	SourceSystem string                   `json:"source_system" validate:"required"`
	EntityKind   string                   `json:"entity_kind" validate:"required,oneof=contract customer"`
	Records      []sessionmgr.RecordInput `json:"records" validate:"required,min=1,dive"`
}

// OpenSessionResponse carries the new session id.
type OpenSessionResponse struct {
	SessionID string `json:"session_id"`
}

// Open accepts a batch and stages it under a new session
func Open(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "session_handler.Open")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	var req OpenSessionRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, manager, err := ectoinject.GetContext[*sessionmgr.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get session manager")
	}

	sessionID, err := manager.Open(ctx, tenantID, req.SourceSystem, models.EntityKind(req.EntityKind), req.Records)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, OpenSessionResponse{SessionID: sessionID})
}

// Get returns a read-only session snapshot with counts and outcomes
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "session_handler.Get")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	ctx, manager, err := ectoinject.GetContext[*sessionmgr.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get session manager")
	}

	session, err := manager.Status(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, session)
}

// Advance drives a staged session through the pipeline to a terminal state
func Advance(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "session_handler.Advance")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	ctx, manager, err := ectoinject.GetContext[*sessionmgr.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get session manager")
	}

	session, err := manager.Advance(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, session)
}

// Cancel marks a session FAILED on operator request
func Cancel(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "session_handler.Cancel")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	ctx, manager, err := ectoinject.GetContext[*sessionmgr.Manager](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get session manager")
	}

	if err := manager.Cancel(ctx, tenantID, c.Param("id")); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
