package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/triage/internal/queue"
	"github.com/OFFIS-RIT/triage/internal/server/middleware"
	"github.com/OFFIS-RIT/triage/pkg/logger"

	"github.com/labstack/echo/v4"
)

// DeleteDocumentHandler removes every chunk of a document and its archived
// originals.
func DeleteDocumentHandler(c echo.Context) error {
	type deleteDocumentParams struct {
		SourceID string `param:"source_id" validate:"required"`
	}

	params := new(deleteDocumentParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, documentResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, documentResponse{Message: "Invalid request"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	if app.Archive != nil {
		if _, err := app.Archive.Delete(ctx, params.SourceID); err != nil {
			logger.Warn("[Server] Failed to delete archived originals", "source_id", params.SourceID, "err", err)
		}
	}

	if app.Queue != nil {
		return queueIngest(c, queue.IngestJob{SourceID: params.SourceID, Remove: true})
	}

	n, err := app.Engine.RemoveDocument(ctx, params.SourceID)
	if err != nil {
		status, msg := statusOf(err)
		return c.JSON(status, documentResponse{Message: msg, SourceID: params.SourceID})
	}
	if n == 0 {
		return c.JSON(http.StatusNotFound, documentResponse{Message: "Document not found", SourceID: params.SourceID})
	}
	return c.JSON(http.StatusOK, documentResponse{Message: "Document removed", SourceID: params.SourceID, Chunks: n})
}
