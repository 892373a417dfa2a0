package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/triage/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

func GetIndexStatsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	stats, err := app.Engine.Stats(c.Request().Context())
	if err != nil {
		status, msg := statusOf(err)
		return c.JSON(status, map[string]string{"message": msg})
	}
	return c.JSON(http.StatusOK, stats)
}
