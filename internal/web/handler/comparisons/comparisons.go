// Package comparisons exposes the reconciliation endpoints.
package comparisons

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/AccessMirror/AccessMirror/internal/compare"
	"github.com/AccessMirror/AccessMirror/internal/config"
	"github.com/AccessMirror/AccessMirror/internal/db/controller/comparison"
	"github.com/AccessMirror/AccessMirror/internal/db/models"
	syncsvc "github.com/AccessMirror/AccessMirror/internal/sync"
	"github.com/AccessMirror/AccessMirror/internal/web/handler"
	"github.com/AccessMirror/AccessMirror/internal/web/handler/syncrun"
)

const (
	// Path is the base path for comparison handlers.
	Path = handler.APIBase + "/compare"

	defaultTimeout = 60 * time.Second
)

// Service is the comparison handler service.
type Service struct {
	handler.Service
	cfg  *config.Config
	db   *gorm.DB
	sync *syncsvc.Service
}

// ResultView is the JSON shape of one comparison result.
type ResultView struct {
	ID             uint64               `json:"id"`
	RunID          uint64               `json:"run_id"`
	ProducedAt     time.Time            `json:"produced_at"`
	DirectoryRunID uint64               `json:"directory_run_id"`
	AppDBRunID     uint64               `json:"appdb_run_id"`
	Sets           models.Discrepancies `json:"sets"`
}

// Handler is the comparison handler.
var Handler = Service{}

// Init initializes the comparison handler and registers its routes.
func (s *Service) Init(app *fiber.App, cfg *config.Config, db *gorm.DB, sync *syncsvc.Service) {
	if app == nil || cfg == nil || db == nil {
		log.Fatal().Msg(handler.ErrNilACDFatalLogMsg)
		return
	}

	s.cfg = cfg
	s.db = db
	s.sync = sync

	app.Post(Path, s.Run)
	app.Get(Path+"/latest", s.Latest)
	app.Get(Path+"/:id", s.Get)
}

// Run executes one reconciliation pass and answers with the new result.
func (s *Service) Run(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	r, result, err := s.sync.Compare(ctx)
	if err != nil {
		switch {
		case errors.Is(err, compare.ErrComparisonUnavailable):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		case errors.Is(err, syncsvc.ErrSyncAlreadyRunning):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		default:
			log.Error().Err(err).Msg("comparison failed")

			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "comparison failed",
			})
		}
	}

	view, err := newResultView(result)
	if err != nil {
		log.Error().Err(err).Msg("decoding comparison result failed")

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "decoding comparison result failed",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"run":    syncrun.NewRunView(r),
		"result": view,
	})
}

// Latest returns the most recent comparison result.
func (s *Service) Latest(c *fiber.Ctx) error {
	result, err := comparison.Latest(s.db)

	return s.respond(c, result, err)
}

// Get returns one comparison result by id.
func (s *Service) Get(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid comparison id",
		})
	}

	result, err := comparison.Get(s.db, uint64(id))

	return s.respond(c, result, err)
}

func (s *Service) respond(c *fiber.Ctx, result *models.ComparisonResult, err error) error {
	if err != nil {
		if errors.Is(err, comparison.ErrComparisonNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "comparison result not found",
			})
		}

		log.Error().Err(err).Msg("loading comparison result failed")

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "loading comparison result failed",
		})
	}

	view, err := newResultView(result)
	if err != nil {
		log.Error().Err(err).Msg("decoding comparison result failed")

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "decoding comparison result failed",
		})
	}

	return c.JSON(view)
}

func newResultView(result *models.ComparisonResult) (ResultView, error) {
	sets, err := result.DecodeSets()
	if err != nil {
		return ResultView{}, err
	}

	return ResultView{
		ID:             result.ID,
		RunID:          result.RunID,
		ProducedAt:     result.ProducedAt,
		DirectoryRunID: result.DirectoryRunID,
		AppDBRunID:     result.AppDBRunID,
		Sets:           sets,
	}, nil
}
