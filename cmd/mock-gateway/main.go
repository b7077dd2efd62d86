package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// mockSendResponse mimics the shape of a gateway acknowledgement.
type mockSendResponse struct {
	Status bool   `json:"status"`
	ID     string `json:"id"`
	Detail string `json:"detail"`
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	addr := getenv("HTTP_ADDR", ":9090")

	fiberApp := fiber.New(fiber.Config{AppName: "mock-gateway"})

	// POST /send — accepts the multipart submission and echoes back a generated ID.
	fiberApp.Post("/send", func(c *fiber.Ctx) error {
		if c.Get("Authorization") == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"status": false,
				"reason": "missing token",
			})
		}

		target := c.FormValue("target")
		message := c.FormValue("message")
		if target == "" || message == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"status": false,
				"reason": "target and message are required",
			})
		}

		attachment := c.FormValue("url")
		if attachment == "" {
			if fh, err := c.FormFile("file"); err == nil {
				attachment = fh.Filename
			}
		}

		id := uuid.New().String()
		log.Info("mock gateway received message",
			"target", target,
			"bytes", len(message),
			"attachment", attachment,
			"id", id,
		)

		return c.JSON(mockSendResponse{Status: true, ID: id, Detail: "success"})
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("mock-gateway listening", "addr", addr)
		if err := fiberApp.Listen(addr); err != nil {
			log.Error("fiber listen", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down mock-gateway")
	_ = fiberApp.Shutdown()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
