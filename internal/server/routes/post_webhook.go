package routes

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/triage/internal/gateway"
	"github.com/OFFIS-RIT/triage/internal/queue"
	"github.com/OFFIS-RIT/triage/internal/server/middleware"
	"github.com/OFFIS-RIT/triage/internal/tickets"
	"github.com/OFFIS-RIT/triage/pkg/logger"

	"github.com/labstack/echo/v4"
)

const (
	maxWebhookSize = 1 << 20
	webhookTimeout = 5 * time.Minute
)

// WebhookHandler receives messaging gateway events. The gateway only needs
// an acknowledgement, so reports are queued or handled in the background.
func WebhookHandler(c echo.Context) error {
	type webhookResponse struct {
		Status string `json:"status"`
		ID     string `json:"id,omitempty"`
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookSize))
	if err != nil {
		return c.JSON(http.StatusBadRequest, webhookResponse{Status: "invalid"})
	}
	msg, ok, err := gateway.ParseWebhook(body)
	if err != nil {
		logger.Warn("[Server] Invalid webhook payload", "err", err)
		return c.JSON(http.StatusBadRequest, webhookResponse{Status: "invalid"})
	}
	if !ok {
		return c.JSON(http.StatusOK, webhookResponse{Status: "ignored"})
	}

	app := c.(*middleware.AppContext).App
	if app.Queue != nil {
		job := queue.ClassifyJob{
			CorrelationID: msg.ID,
			Reporter:      tickets.Reporter{Phone: msg.Phone, Channel: gateway.ChannelWhatsApp},
			Message:       &msg,
		}
		if err := queue.PublishJob(c.Request().Context(), app.Queue, queue.ClassifyQueue, job); err != nil {
			logger.Error("[Server] Failed to queue webhook message", "id", msg.ID, "err", err)
			return c.JSON(http.StatusServiceUnavailable, webhookResponse{Status: "unavailable"})
		}
		return c.JSON(http.StatusAccepted, webhookResponse{Status: "queued", ID: msg.ID})
	}

	if app.Gateway == nil {
		return c.JSON(http.StatusServiceUnavailable, webhookResponse{Status: "unavailable"})
	}
	ctx := context.WithoutCancel(c.Request().Context())
	app.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
		defer cancel()
		if _, err := app.Gateway.Handle(ctx, msg); err != nil {
			logger.Error("[Server] Failed to handle webhook message", "id", msg.ID, "err", err)
		}
	})
	return c.JSON(http.StatusAccepted, webhookResponse{Status: "accepted", ID: msg.ID})
}
