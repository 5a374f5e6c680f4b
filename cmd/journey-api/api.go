// Package main provides the read-only journeys API server.
package main

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/moogar0880/problems"

	"github.com/pumba68/qatering-journeys/pkg/models"
	"github.com/pumba68/qatering-journeys/pkg/persistence"
)

const defaultParticipantLimit = 100

// API serves the operational read surface: journey definitions,
// participant runs and per-journey funnel counts. Authoring and
// execution live elsewhere.
type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
}

func NewAPI(logger *slog.Logger, store persistence.Persistence) *API {
	return &API{
		logger:      logger,
		persistence: store,
	}
}

func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Qatering Journeys API")
	})

	j := app.Group("/journeys")
	j.Get("/", a.GetJourneys)
	j.Get("/:id", a.GetJourney)
	j.Get("/:id/participants", a.GetParticipants)
	j.Get("/:id/stats", a.GetStats)

	app.Get("/health", a.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}

func (a *API) GetJourneys(c fiber.Ctx) error {
	journeys, err := a.persistence.Journeys().ActiveJourneys(c.Context())
	if err != nil {
		return a.internalError(c, err)
	}

	return c.JSON(journeys)
}

func (a *API) GetJourney(c fiber.Ctx) error {
	journey, err := a.persistence.Journeys().JourneyByID(c.Context(), c.Params("id"))
	if errors.Is(err, persistence.ErrJourneyNotFound) {
		return notFound(c, "journey not found")
	}

	if err != nil {
		return a.internalError(c, err)
	}

	return c.JSON(journey)
}

func (a *API) GetParticipants(c fiber.Ctx) error {
	journeyID := c.Params("id")

	if _, err := a.persistence.Journeys().JourneyByID(c.Context(), journeyID); err != nil {
		if errors.Is(err, persistence.ErrJourneyNotFound) {
			return notFound(c, "journey not found")
		}

		return a.internalError(c, err)
	}

	status := models.ParticipantStatus(c.Query("status"))

	limit := defaultParticipantLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return badRequest(c, "limit must be a positive integer")
		}

		limit = parsed
	}

	participants, err := a.persistence.Participants().ListByJourney(c.Context(), journeyID, status, limit)
	if err != nil {
		return a.internalError(c, err)
	}

	return c.JSON(participants)
}

func (a *API) GetStats(c fiber.Ctx) error {
	journeyID := c.Params("id")

	if _, err := a.persistence.Journeys().JourneyByID(c.Context(), journeyID); err != nil {
		if errors.Is(err, persistence.ErrJourneyNotFound) {
			return notFound(c, "journey not found")
		}

		return a.internalError(c, err)
	}

	counts, err := a.persistence.Participants().CountByStatus(c.Context(), journeyID)
	if err != nil {
		return a.internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"journey_id": journeyID,
		"counts":     counts,
	})
}

func (a *API) HealthCheck(c fiber.Ctx) error {
	if err := a.persistence.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "healthy"})
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func (a *API) internalError(c fiber.Ctx, err error) error {
	a.logger.Error("Request failed", "path", c.Path(), "error", err)

	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}
