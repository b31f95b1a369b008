package hiddenusers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/AccessMirror/AccessMirror/internal/config"
	"github.com/AccessMirror/AccessMirror/internal/hidden"
)

func setupApp(t *testing.T) (*fiber.App, *hidden.Registry) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)

	registry, err := hidden.Open(filepath.Join(t.TempDir(), "hidden.json"))
	require.NoError(t, err)

	app := fiber.New()

	service := &Service{}
	service.Init(app, &config.Config{}, gdb, registry)

	return app, registry
}

func postHide(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/hidden-users", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func TestHideListUnhide(t *testing.T) {
	app, registry := setupApp(t)

	resp := postHide(t, app, `{"stable_id": "B"}`)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.True(t, registry.IsHidden("B"))

	resp2, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/hidden-users", nil))
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()

	var listing struct {
		Hidden []string `json:"hidden"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&listing))
	assert.Equal(t, []string{"B"}, listing.Hidden)

	resp3, err := app.Test(httptest.NewRequest(http.MethodDelete, "/api/hidden-users/B", nil))
	require.NoError(t, err)
	defer func() { _ = resp3.Body.Close() }()
	assert.Equal(t, fiber.StatusNoContent, resp3.StatusCode)
	assert.False(t, registry.IsHidden("B"))

	// unhiding an unknown identity still succeeds
	resp4, err := app.Test(httptest.NewRequest(http.MethodDelete, "/api/hidden-users/B", nil))
	require.NoError(t, err)
	defer func() { _ = resp4.Body.Close() }()
	assert.Equal(t, fiber.StatusNoContent, resp4.StatusCode)
}

func TestHideRejectsBadRequests(t *testing.T) {
	app, _ := setupApp(t)

	resp := postHide(t, app, `{not json`)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = postHide(t, app, `{"stable_id": ""}`)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = postHide(t, app, `{"stable_id": "`+strings.Repeat("x", 65)+`"}`)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
