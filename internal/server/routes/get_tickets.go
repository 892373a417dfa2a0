package routes

import (
	"net/http"
	"strconv"

	"github.com/OFFIS-RIT/triage/internal/server/middleware"
	"github.com/OFFIS-RIT/triage/internal/tickets"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type ticketResponse struct {
	Message string          `json:"message,omitempty"`
	Ticket  *tickets.Ticket `json:"ticket,omitempty"`
}

func GetTicketHandler(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ticketResponse{Message: "Invalid ticket id"})
	}

	app := c.(*middleware.AppContext).App
	ticket, err := app.Tickets.Get(c.Request().Context(), id)
	if err != nil {
		status, msg := statusOf(err)
		return c.JSON(status, ticketResponse{Message: msg})
	}
	return c.JSON(http.StatusOK, ticketResponse{Ticket: &ticket})
}

// ListTicketsHandler lists tickets, most urgent first. Query parameters:
// status, needs_review and limit.
func ListTicketsHandler(c echo.Context) error {
	type listTicketsQuery struct {
		Status      string `query:"status" validate:"omitempty,oneof=OPEN DISPATCHED CLOSED open dispatched closed"`
		NeedsReview string `query:"needs_review" validate:"omitempty,oneof=true false"`
		Limit       int    `query:"limit" validate:"gte=0,lte=500"`
	}

	type listTicketsResponse struct {
		Message string           `json:"message,omitempty"`
		Tickets []tickets.Ticket `json:"tickets"`
	}

	query := new(listTicketsQuery)
	if err := c.Bind(query); err != nil {
		return c.JSON(http.StatusBadRequest, listTicketsResponse{Message: "Invalid query", Tickets: []tickets.Ticket{}})
	}
	if err := c.Validate(query); err != nil {
		return c.JSON(http.StatusBadRequest, listTicketsResponse{Message: "Invalid query", Tickets: []tickets.Ticket{}})
	}

	params := tickets.ListParams{Limit: query.Limit}
	if query.Status != "" {
		params.Status, _ = tickets.ParseStatus(query.Status)
	}
	if query.NeedsReview != "" {
		v, _ := strconv.ParseBool(query.NeedsReview)
		params.NeedsReview = &v
	}

	app := c.(*middleware.AppContext).App
	list, err := app.Tickets.List(c.Request().Context(), params)
	if err != nil {
		status, msg := statusOf(err)
		return c.JSON(status, listTicketsResponse{Message: msg, Tickets: []tickets.Ticket{}})
	}
	if list == nil {
		list = []tickets.Ticket{}
	}
	return c.JSON(http.StatusOK, listTicketsResponse{Tickets: list})
}
