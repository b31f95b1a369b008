// Package status exposes the redacted configuration status endpoint.
package status

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/AccessMirror/AccessMirror/internal/config"
	"github.com/AccessMirror/AccessMirror/internal/web/handler"
)

// Path is the configuration status endpoint path.
const Path = handler.APIBase + "/config/status"

// Service is the status handler service.
type Service struct {
	handler.Service
	cfg *config.Config
	db  *gorm.DB
}

// Handler is the status handler.
var Handler = Service{}

// Init initializes the status handler and registers its route.
func (s *Service) Init(app *fiber.App, cfg *config.Config, db *gorm.DB) {
	if app == nil || cfg == nil || db == nil {
		log.Fatal().Msg(handler.ErrNilACDFatalLogMsg)
		return
	}

	s.cfg = cfg
	s.db = db

	app.Get(Path, s.Get)
}

// Get returns which integrations are configured. Secrets never leave the
// process; only presence flags and short prefixes are exposed.
func (s *Service) Get(c *fiber.Ctx) error {
	return c.JSON(s.cfg.GetStatus())
}
