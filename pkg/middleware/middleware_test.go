package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appcontext "github.com/zlovtnik/clm-ingest/pkg/context"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestContextMiddlewarePropagatesHeaders(t *testing.T) {
	e := echo.New()
	e.Use(Context())

	var tenantID, userID, requestID string
	e.GET("/", func(c echo.Context) error {
		ctx := c.Request().Context()
		tenantID = appcontext.GetTenantID(ctx)
		userID = appcontext.GetUserID(ctx)
		requestID = appcontext.GetRequestID(ctx)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderTenantID, "t1")
	req.Header.Set(HeaderUserID, "u1")
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", tenantID)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, "req-1", requestID)
}

func TestContextMiddlewareGeneratesRequestID(t *testing.T) {
	e := echo.New()
	e.Use(Context())

	var requestID string
	e.GET("/", func(c echo.Context) error {
		requestID = appcontext.GetRequestID(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, requestID)
}

func TestErrorHandlerMapsHTTPError(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = Error(testLogger())
	e.Use(Context())
	e.GET("/", func(c echo.Context) error {
		return httperror.NewHTTPError(http.StatusConflict, "contract status changed while promoting")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Message, "contract status changed")
	assert.Equal(t, "req-1", body.RequestID)
}

func TestErrorHandlerDefaultsToInternalServerError(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = Error(testLogger())
	e.GET("/", func(c echo.Context) error {
		return assert.AnError
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Internal Server Error", body.Message)
}

func TestErrorHandlerEchoNotFound(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = Error(testLogger())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
