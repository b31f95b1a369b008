// Package hiddenusers exposes the hidden-user registry endpoints. Hidden
// users stay in the mirror but are excluded from comparison reports.
package hiddenusers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/AccessMirror/AccessMirror/internal/config"
	"github.com/AccessMirror/AccessMirror/internal/hidden"
	"github.com/AccessMirror/AccessMirror/internal/web/handler"
)

// Path is the base path for hidden-user handlers.
const Path = handler.APIBase + "/hidden-users"

// Service is the hidden-user handler service.
type Service struct {
	handler.Service
	cfg       *config.Config
	db        *gorm.DB
	registry  *hidden.Registry
	validator *validator.Validate
}

// hideRequest is the body of a hide call.
type hideRequest struct {
	StableID string `json:"stable_id" validate:"required,max=64"`
}

// Handler is the hidden-user handler.
var Handler = Service{}

// Init initializes the hidden-user handler and registers its routes.
func (s *Service) Init(app *fiber.App, cfg *config.Config, db *gorm.DB, registry *hidden.Registry) {
	if app == nil || cfg == nil || db == nil {
		log.Fatal().Msg(handler.ErrNilACDFatalLogMsg)
		return
	}

	s.cfg = cfg
	s.db = db
	s.registry = registry
	s.validator = validator.New()

	app.Get(Path, s.List)
	app.Post(Path, s.Hide)
	app.Delete(Path+"/:id", s.Unhide)
}

// List returns the hidden identities in sorted order.
func (s *Service) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"hidden": s.registry.List()})
}

// Hide adds a user to the registry.
func (s *Service) Hide(c *fiber.Ctx) error {
	var req hideRequest

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

	if err := s.registry.Hide(req.StableID); err != nil {
		log.Error().Err(err).Str("stable_id", req.StableID).Msg("hiding user failed")

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "hiding user failed",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"hidden": req.StableID})
}

// Unhide removes a user from the registry. Unhiding an unknown identity is
// not an error.
func (s *Service) Unhide(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing identity",
		})
	}

	if err := s.registry.Unhide(id); err != nil {
		log.Error().Err(err).Str("stable_id", id).Msg("unhiding user failed")

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unhiding user failed",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}
