package message

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	ctxmiddleware "github.com/zlovtnik/clm-ingest/pkg/context"
	"github.com/zlovtnik/clm-ingest/pkg/models"
	"github.com/zlovtnik/clm-ingest/pkg/router"
	"github.com/zlovtnik/clm-ingest/pkg/tracing"
)

var validate = validator.New()

// Register registers integration message routes
func Register(g *echo.Group) {
	g.POST("", Submit)
}

// Submit routes one inbound integration message and returns the routing
// outcome. Duplicate submissions are expected and return the no-op outcome.
func Submit(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "message_handler.Submit")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)

	var msg models.IntegrationMessage
	if err := c.Bind(&msg); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if msg.TenantID == "" {
		msg.TenantID = tenantID
	}
	if err := validate.Struct(msg); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, r, err := ectoinject.GetContext[*router.Router](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get router")
	}

	out, err := r.Route(ctx, msg)
	if err != nil {
		return err
	}

	switch out.Result {
	case router.ResultUnroutable:
		return c.JSON(http.StatusUnprocessableEntity, out)
	case router.ResultConflict:
		return c.JSON(http.StatusConflict, out)
	case router.ResultBuffered:
		return c.JSON(http.StatusAccepted, out)
	default:
		return c.JSON(http.StatusOK, out)
	}
}
