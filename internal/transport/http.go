package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang-wa-dispatch/internal/app"
	"golang-wa-dispatch/internal/domain"
	"golang-wa-dispatch/internal/ports"

	"github.com/gofiber/fiber/v2"
)

// Handler holds the HTTP handlers of the dispatch API.
type Handler struct {
	engine  *app.DispatchEngine
	logbook ports.OutcomeLog
	newRun  func() (domain.RunContext, error)
	log     *slog.Logger
}

// NewHandler wires up a Handler. newRun builds a fresh RunContext per
// triggered dispatch.
func NewHandler(engine *app.DispatchEngine, logbook ports.OutcomeLog, newRun func() (domain.RunContext, error), log *slog.Logger) *Handler {
	return &Handler{engine: engine, logbook: logbook, newRun: newRun, log: log}
}

// Register mounts all routes onto the given Fiber router.
func (h *Handler) Register(router fiber.Router) {
	router.Post("/dispatch", h.TriggerDispatch)
	router.Get("/outcomes", h.ListOutcomes)
}

// ── Dispatch trigger ──────────────────────────────────────────────────────────

type triggerResponse struct {
	RunID string `json:"run_id"`
}

// TriggerDispatch starts a dispatch run. The lock is taken before the
// response is written, so the caller can tell a denied run (409) from an
// accepted one (202). The batch itself runs in the background and its
// per-recipient outcomes surface through the outcome log, not through
// this endpoint.
//
// POST /dispatch
func (h *Handler) TriggerDispatch(c *fiber.Ctx) error {
	run, err := h.newRun()
	if err != nil {
		h.log.Error("build run context", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "could not prepare run"})
	}

	// Batches run minutes at the paced send rate; the run must not die
	// with the HTTP request, so Start detaches after acquisition.
	if err := h.engine.Start(context.Background(), run); err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "a dispatch run is already in progress"})
		}
		h.log.Error("start dispatch run", "run_id", run.RunID, "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.Status(fiber.StatusAccepted).JSON(triggerResponse{RunID: run.RunID.String()})
}

// ── Outcome log ───────────────────────────────────────────────────────────────

type outcomeRow struct {
	RunLabel     string    `json:"run_label"`
	RunRange     string    `json:"run_range"`
	Phone        string    `json:"phone"`
	DisplayName  string    `json:"display_name"`
	MessageBody  string    `json:"message_body"`
	Status       string    `json:"status"`
	GatewayReply string    `json:"gateway_reply"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListOutcomes returns the tail of the outcome log, newest first.
//
// GET /outcomes?limit=50
func (h *Handler) ListOutcomes(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}

	recs, err := h.logbook.Recent(c.Context(), limit)
	if err != nil {
		h.log.Error("read outcome log", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	rows := make([]outcomeRow, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, outcomeRow{
			RunLabel:     r.RunLabel,
			RunRange:     r.RunRange,
			Phone:        r.Phone,
			DisplayName:  r.DisplayName,
			MessageBody:  r.MessageBody,
			Status:       string(r.Status),
			GatewayReply: r.GatewayReply,
			CreatedAt:    r.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"outcomes": rows})
}
