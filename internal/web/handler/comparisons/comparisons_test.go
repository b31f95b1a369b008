package comparisons

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/AccessMirror/AccessMirror/internal/config"
	"github.com/AccessMirror/AccessMirror/internal/db"
	"github.com/AccessMirror/AccessMirror/internal/db/controller/run"
	"github.com/AccessMirror/AccessMirror/internal/db/models"
	"github.com/AccessMirror/AccessMirror/internal/hidden"
	syncsvc "github.com/AccessMirror/AccessMirror/internal/sync"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	return gdb
}

func setupApp(t *testing.T, gdb *gorm.DB) *fiber.App {
	t.Helper()

	registry, err := hidden.Open(filepath.Join(t.TempDir(), "hidden.json"))
	require.NoError(t, err)

	cfg := &config.Config{
		Sync: config.Sync{RunTimeoutS: 60},
	}

	app := fiber.New()

	service := &Service{}
	service.Init(app, cfg, gdb, syncsvc.New(gdb, cfg, registry))

	return app
}

// seedSnapshots records a succeeded run of each source plus one mirrored
// user so a comparison has something to report.
func seedSnapshots(t *testing.T, gdb *gorm.DB) {
	t.Helper()

	dirID := "B"
	email := "bo@x"
	user := models.User{
		DirectoryID:  &dirID,
		DisplayName:  "Bo",
		Email:        &email,
		Enabled:      false,
		SourceSystem: models.UserSourceDirectory,
	}
	require.NoError(t, gdb.Create(&user).Error)

	for _, kind := range []models.SyncKind{models.SyncKindDirectory, models.SyncKindAppDB} {
		r, err := run.Open(gdb, kind, "")
		require.NoError(t, err)
		require.NoError(t, run.Finish(gdb, r, models.RunStatusSucceeded, models.SyncStats{}, ""))
	}
}

func TestRunCreatesResult(t *testing.T) {
	gdb := setupTestDB(t)
	app := setupApp(t, gdb)
	seedSnapshots(t, gdb)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/compare", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var body struct {
		Result ResultView `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotZero(t, body.Result.ID)
	require.Len(t, body.Result.Sets.DirectoryOnly, 1)
	assert.Equal(t, "B", body.Result.Sets.DirectoryOnly[0].StableID)
	require.Len(t, body.Result.Sets.DisabledInDirectory, 1)
}

func TestRunWithoutSnapshotsConflicts(t *testing.T) {
	gdb := setupTestDB(t)
	app := setupApp(t, gdb)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/compare", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestLatestAndGet(t *testing.T) {
	gdb := setupTestDB(t)
	app := setupApp(t, gdb)
	seedSnapshots(t, gdb)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/compare", nil))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/compare/latest", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var latest ResultView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&latest))
	assert.NotZero(t, latest.ID)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/compare/1", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestLatestWithoutResults(t *testing.T) {
	gdb := setupTestDB(t)
	app := setupApp(t, gdb)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/compare/latest", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestGetInvalidID(t *testing.T) {
	gdb := setupTestDB(t)
	app := setupApp(t, gdb)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/compare/0", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
