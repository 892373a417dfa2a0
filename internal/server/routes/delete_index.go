package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/triage/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

// ClearIndexHandler drops the whole knowledge base. The caller has to pass
// confirm=true; archived originals are kept.
func ClearIndexHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App

	var confirm bool
	if err := echo.QueryParamsBinder(c).Bool("confirm", &confirm).BindError(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "confirm must be a boolean"})
	}
	if !confirm {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Pass confirm=true to clear the knowledge base"})
	}

	n, err := app.Engine.ClearIndex(c.Request().Context())
	if err != nil {
		status, msg := statusOf(err)
		return c.JSON(status, map[string]string{"message": msg})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message": "Knowledge base cleared",
		"chunks":  n,
	})
}
