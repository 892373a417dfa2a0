package server

import (
	"github.com/OFFIS-RIT/triage/internal/server/middleware"
	"github.com/OFFIS-RIT/triage/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, apiKey string) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	// Messaging gateway events
	e.POST("/webhook", routes.WebhookHandler)

	apiRoutes := e.Group("/api", middleware.APIKeyMiddleware(apiKey))

	// Classification
	apiRoutes.POST("/classify", routes.ClassifyHandler)

	// Knowledge base
	apiRoutes.POST("/documents", routes.AddDocumentHandler)
	apiRoutes.DELETE("/documents/:source_id", routes.DeleteDocumentHandler)
	apiRoutes.GET("/index/stats", routes.GetIndexStatsHandler)
	apiRoutes.DELETE("/index", routes.ClearIndexHandler)

	// Tickets
	apiRoutes.GET("/tickets", routes.ListTicketsHandler)
	apiRoutes.GET("/tickets/:id", routes.GetTicketHandler)
	apiRoutes.PATCH("/tickets/:id", routes.UpdateTicketStatusHandler)
}
