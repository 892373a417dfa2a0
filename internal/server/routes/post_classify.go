package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/triage/internal/queue"
	"github.com/OFFIS-RIT/triage/internal/server/middleware"
	"github.com/OFFIS-RIT/triage/internal/tickets"
	"github.com/OFFIS-RIT/triage/internal/util"
	"github.com/OFFIS-RIT/triage/pkg/logger"
	"github.com/OFFIS-RIT/triage/pkg/triage"

	"github.com/labstack/echo/v4"
)

const ChannelAPI = "api"

// ClassifyHandler classifies a report and stores it as a ticket. With
// "async" set and a queue configured the report is queued instead.
func ClassifyHandler(c echo.Context) error {
	type classifyBody struct {
		Report string `json:"report" validate:"required,max=20000"`
		Phone  string `json:"phone" validate:"omitempty,max=32"`
		Async  bool   `json:"async"`
	}

	type classifyResponse struct {
		Message       string          `json:"message"`
		CorrelationID string          `json:"correlation_id,omitempty"`
		Ticket        *tickets.Ticket `json:"ticket,omitempty"`
		Reply         string          `json:"reply,omitempty"`
	}

	data := new(classifyBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, classifyResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, classifyResponse{Message: "Invalid request body"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App
	reporter := tickets.Reporter{Phone: data.Phone, Channel: ChannelAPI}

	if data.Async && app.Queue != nil {
		id := util.NewID()
		job := queue.ClassifyJob{CorrelationID: id, Report: data.Report, Reporter: reporter}
		if err := queue.PublishJob(ctx, app.Queue, queue.ClassifyQueue, job); err != nil {
			logger.Error("[Server] Failed to queue report", "err", err)
			return c.JSON(http.StatusServiceUnavailable, classifyResponse{Message: "Queue unavailable"})
		}
		return c.JSON(http.StatusAccepted, classifyResponse{Message: "Report queued", CorrelationID: id})
	}

	result, err := app.Engine.Classify(ctx, data.Report)
	if err != nil {
		status, msg := statusOf(err)
		return c.JSON(status, classifyResponse{Message: msg})
	}
	ticket, err := app.Tickets.Create(ctx, result, reporter)
	if err != nil {
		logger.Error("[Server] Failed to store ticket", "id", result.ID, "err", err)
		status, msg := statusOf(err)
		return c.JSON(status, classifyResponse{Message: msg})
	}

	return c.JSON(http.StatusOK, classifyResponse{
		Message: "Report classified",
		Ticket:  &ticket,
		Reply:   triage.Reply(result),
	})
}
