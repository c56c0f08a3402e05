package api

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"arb-radar/internal/opportunity"
	"arb-radar/internal/ranking"
)

const maxLimit = 1000

type handler struct {
	engine Engine
	logger zerolog.Logger
}

func badRequest(c fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
	})
}

// Handles GET /v1/opportunities/:kind.
func (h *handler) opportunities(c fiber.Ctx) error {
	kind, err := opportunity.ParseKind(c.Params("kind"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	filter := ranking.Filter{
		Query:     c.Query("q"),
		FromVenue: c.Query("from"),
		ToVenue:   c.Query("to"),
	}
	if raw := c.Query("min"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return badRequest(c, "min must be a number")
		}
		filter.MinMetric = threshold
	}
	if raw := c.Query("venue"); raw != "" {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				filter.Venues = append(filter.Venues, v)
			}
		}
	}

	order, err := ranking.ParseSort(c.Query("sort"), c.Query("order"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	ranked, err := h.engine.GetRanked(kind, filter, order)
	if err != nil {
		h.logger.Error().Err(err).Str("kind", string(kind)).Msg("ranking failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "ranking failed",
		})
	}
	ranked.Items = ranking.Top(ranked.Items, limit)
	return c.Status(fiber.StatusOK).JSON(ranked)
}

// Handles GET /v1/opportunities/recent.
func (h *handler) recent(c fiber.Ctx) error {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	if limit == 0 {
		limit = 50
	}

	var kind opportunity.Kind
	if raw := c.Query("kind"); raw != "" {
		if kind, err = opportunity.ParseKind(raw); err != nil {
			return badRequest(c, err.Error())
		}
	}

	entries := h.engine.Recent(kind, limit)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"count":   len(entries),
		"entries": entries,
	})
}

// Handles GET /v1/venues/health.
func (h *handler) venueHealth(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"venues": h.engine.GetVenueHealth(),
	})
}

// Handles GET /v1/venues/volume.
func (h *handler) venueVolume(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"venues": h.engine.ExchangeVolumes(),
	})
}

// Handles GET /v1/status.
func (h *handler) status(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.engine.Status())
}

// Handles GET /healthz. Unhealthy until the first publication.
func (h *handler) healthz(c fiber.Ctx) error {
	st := h.engine.Status()
	if st.Generation == 0 {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "starting",
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":     "ok",
		"generation": st.Generation,
		"stale":      st.Stale,
	})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "limit must be a non-negative integer")
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}
