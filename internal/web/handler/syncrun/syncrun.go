// Package syncrun exposes the sync trigger and run ledger endpoints.
package syncrun

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/AccessMirror/AccessMirror/internal/appdb"
	"github.com/AccessMirror/AccessMirror/internal/config"
	store "github.com/AccessMirror/AccessMirror/internal/db"
	"github.com/AccessMirror/AccessMirror/internal/db/controller/run"
	"github.com/AccessMirror/AccessMirror/internal/db/models"
	syncsvc "github.com/AccessMirror/AccessMirror/internal/sync"
	"github.com/AccessMirror/AccessMirror/internal/web/handler"
)

const (
	// Path is the base path for sync handlers.
	Path = handler.APIBase + "/sync"

	// DefaultListLimit is the default number of ledger rows returned.
	DefaultListLimit = 20

	// MaxListLimit bounds the ledger listing.
	MaxListLimit = 200
)

// Service is the sync handler service.
type Service struct {
	handler.Service
	cfg       *config.Config
	db        *gorm.DB
	sync      *syncsvc.Service
	validator *validator.Validate
}

// startAppDBRequest is the optional body of a sync trigger.
type startAppDBRequest struct {
	Environment string `json:"environment" validate:"omitempty,max=50"`
}

// cancelRequest names the run to abort.
type cancelRequest struct {
	Kind        string `json:"kind" validate:"required,oneof=directory appdb compare"`
	Environment string `json:"environment" validate:"omitempty,max=50"`
}

// RunView is the JSON shape of one ledger row.
type RunView struct {
	ID          uint64            `json:"id"`
	Kind        models.SyncKind   `json:"kind"`
	Environment string            `json:"environment,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	Status      models.RunStatus  `json:"status"`
	Stats       *models.SyncStats `json:"stats,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Handler is the sync handler.
var Handler = Service{}

// Init initializes the sync handler and registers its routes.
func (s *Service) Init(app *fiber.App, cfg *config.Config, db *gorm.DB, sync *syncsvc.Service) {
	if app == nil || cfg == nil || db == nil {
		log.Fatal().Msg(handler.ErrNilACDFatalLogMsg)
		return
	}

	s.cfg = cfg
	s.db = db
	s.sync = sync
	s.validator = validator.New()

	app.Post(Path+"/directory", s.StartDirectory)
	app.Post(Path+"/appdb", s.StartAppDB)
	app.Post(Path+"/cancel", s.Cancel)
	app.Get(Path+"/runs", s.ListRuns)
	app.Get(Path+"/runs/latest", s.LatestRun)
	app.Get(Path+"/runs/:id", s.GetRun)
	app.Get(Path+"/touched", s.Touched)
}

// StartDirectory launches a background directory sync and answers with the
// started ledger row.
func (s *Service) StartDirectory(c *fiber.Ctx) error {
	r, err := s.sync.StartDirectorySync()
	if err != nil {
		return startError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(NewRunView(r))
}

// StartAppDB launches a background application-database sync against the
// requested environment, defaulting to the configured active one.
func (s *Service) StartAppDB(c *fiber.Ctx) error {
	var req startAppDBRequest

	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "malformed request body",
			})
		}

		if err := s.validator.Struct(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}

	r, err := s.sync.StartAppDBSync(req.Environment)
	if err != nil {
		return startError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(NewRunView(r))
}

// ListRuns returns recent ledger rows, newest first. The kind query
// parameter narrows the listing to one pipeline.
func (s *Service) ListRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", DefaultListLimit)
	if limit < 1 || limit > MaxListLimit {
		limit = DefaultListLimit
	}

	kind := models.SyncKind(c.Query("kind", ""))

	runs, err := run.ListRecent(s.db, kind, limit)
	if err != nil {
		log.Error().Err(err).Msg("listing sync runs failed")

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "listing sync runs failed",
		})
	}

	views := make([]RunView, 0, len(runs))
	for i := range runs {
		views = append(views, NewRunView(&runs[i]))
	}

	return c.JSON(fiber.Map{"runs": views})
}

// LatestRun returns the most recent ledger row of a kind, regardless of its
// status. The env query parameter narrows application-database runs.
func (s *Service) LatestRun(c *fiber.Ctx) error {
	kind := models.SyncKind(c.Query("kind", string(models.SyncKindDirectory)))

	r, err := run.Latest(s.db, kind, c.Query("env", ""))
	if err != nil {
		if errors.Is(err, run.ErrRunNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "no runs recorded for this kind",
			})
		}

		log.Error().Err(err).Msg("loading latest sync run failed")

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "loading latest sync run failed",
		})
	}

	return c.JSON(NewRunView(r))
}

// Cancel aborts the active run named by the body. The run still finishes
// through the ledger with a terminal status.
func (s *Service) Cancel(c *fiber.Ctx) error {
	var req cancelRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "malformed request body",
		})
	}

	if err := s.validator.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := s.sync.Cancel(models.SyncKind(req.Kind), req.Environment); err != nil {
		if errors.Is(err, syncsvc.ErrNoActiveRun) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		log.Error().Err(err).Msg("canceling sync failed")

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "canceling sync failed",
		})
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// GetRun returns one ledger row by id.
func (s *Service) GetRun(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid run id",
		})
	}

	r, err := run.Get(s.db, uint64(id))
	if err != nil {
		if errors.Is(err, run.ErrRunNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "sync run not found",
			})
		}

		log.Error().Err(err).Int("id", id).Msg("loading sync run failed")

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "loading sync run failed",
		})
	}

	return c.JSON(NewRunView(r))
}

// touchedUserView is the JSON shape of one touched user row.
type touchedUserView struct {
	ID           uint64            `json:"id"`
	DisplayName  string            `json:"display_name"`
	SourceSystem models.UserSource `json:"source_system"`
}

// touchedGroupView is the JSON shape of one touched group row.
type touchedGroupView struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// Touched lists the mirror rows whose sync stamps moved at or after the
// since query parameter (RFC 3339).
func (s *Service) Touched(c *fiber.Ctx) error {
	since, err := time.Parse(time.RFC3339, c.Query("since", ""))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "since must be an RFC 3339 timestamp",
		})
	}

	touched, err := store.TouchedSince(s.db, since)
	if err != nil {
		log.Error().Err(err).Msg("loading touched rows failed")

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "loading touched rows failed",
		})
	}

	users := make([]touchedUserView, 0, len(touched.Users))
	for _, u := range touched.Users {
		users = append(users, touchedUserView{
			ID:           u.ID,
			DisplayName:  u.DisplayName,
			SourceSystem: u.SourceSystem,
		})
	}

	groups := make([]touchedGroupView, 0, len(touched.Groups))
	for _, g := range touched.Groups {
		groups = append(groups, touchedGroupView{ID: g.ID, Name: g.Name})
	}

	return c.JSON(fiber.Map{
		"since":  since,
		"users":  users,
		"groups": groups,
	})
}

// startError maps sync trigger failures to HTTP statuses.
func startError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, syncsvc.ErrSyncAlreadyRunning):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, appdb.ErrUnknownEnvironment):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	default:
		log.Error().Err(err).Msg("starting sync failed")

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "starting sync failed",
		})
	}
}

// NewRunView maps a ledger row to its JSON shape.
func NewRunView(r *models.SyncRun) RunView {
	view := RunView{
		ID:         r.ID,
		Kind:       r.Kind,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Status:     r.Status,
	}

	if r.Environment != nil {
		view.Environment = *r.Environment
	}

	if r.Error != nil {
		view.Error = *r.Error
	}

	if stats, err := r.DecodeStats(); err == nil && r.Stats != nil {
		view.Stats = &stats
	}

	return view
}
