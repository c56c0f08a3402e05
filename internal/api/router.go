// Package api serves the engine's outbound interface over HTTP.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"arb-radar/internal/engine"
	"arb-radar/internal/opportunity"
	"arb-radar/internal/ranking"
)

// Engine is the read side of the engine used by the handlers.
type Engine interface {
	GetRanked(kind opportunity.Kind, f ranking.Filter, s ranking.Sort) (engine.Ranked, error)
	Recent(kind opportunity.Kind, limit int) []engine.RecentEntry
	GetVenueHealth() []engine.VenueHealth
	ExchangeVolumes() []engine.ExchangeVolume
	Status() engine.Status
}

// Config holds HTTP server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server wraps the fiber app.
type Server struct {
	app    *fiber.App
	addr   string
	logger zerolog.Logger
}

// NewServer builds the app and registers every route.
func NewServer(eng Engine, cfg Config, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "arbradar",
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	logger = logger.With().Str("component", "api").Logger()
	SetupRoutes(app, eng, logger)
	return &Server{app: app, addr: cfg.Addr, logger: logger}
}

// SetupRoutes registers the v1 routes on app.
func SetupRoutes(app *fiber.App, eng Engine, logger zerolog.Logger) {
	h := &handler{engine: eng, logger: logger}

	app.Get("/healthz", h.healthz)

	v1 := app.Group("/v1")
	v1.Get("/opportunities/recent", h.recent)
	v1.Get("/opportunities/:kind", h.opportunities)
	v1.Get("/venues/health", h.venueHealth)
	v1.Get("/venues/volume", h.venueVolume)
	v1.Get("/status", h.status)
}

// App exposes the fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			s.logger.Error().Err(err).Msg("error during shutdown")
		}
	}()

	s.logger.Info().Str("addr", s.addr).Msg("starting http server")
	return s.app.Listen(s.addr, fiber.ListenConfig{DisableStartupMessage: true})
}
