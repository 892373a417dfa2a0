package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/triage/internal/server/middleware"
	"github.com/OFFIS-RIT/triage/internal/tickets"
	"github.com/OFFIS-RIT/triage/pkg/logger"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// UpdateTicketStatusHandler moves a ticket to OPEN, DISPATCHED or CLOSED.
func UpdateTicketStatusHandler(c echo.Context) error {
	type updateTicketBody struct {
		Status string `json:"status" validate:"required"`
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ticketResponse{Message: "Invalid ticket id"})
	}

	data := new(updateTicketBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, ticketResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, ticketResponse{Message: "Invalid request body"})
	}
	status, err := tickets.ParseStatus(data.Status)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ticketResponse{Message: "Invalid status"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App
	if err := app.Tickets.UpdateStatus(ctx, id, status); err != nil {
		code, msg := statusOf(err)
		return c.JSON(code, ticketResponse{Message: msg})
	}
	ticket, err := app.Tickets.Get(ctx, id)
	if err != nil {
		code, msg := statusOf(err)
		return c.JSON(code, ticketResponse{Message: msg})
	}
	logger.Info("[Server] Ticket status updated", "id", id, "status", status)
	return c.JSON(http.StatusOK, ticketResponse{Message: "Ticket updated", Ticket: &ticket})
}
