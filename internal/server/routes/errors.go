package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/triage/internal/tickets"
	"github.com/OFFIS-RIT/triage/pkg/common"
)

// statusOf maps engine and store errors to HTTP status codes.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, tickets.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Request canceled"
	case errors.Is(err, common.ErrConfiguration):
		return http.StatusServiceUnavailable, "Service not configured"
	case errors.Is(err, common.ErrEmbeddingService), errors.Is(err, common.ErrModelService):
		return http.StatusBadGateway, "Model service unavailable"
	case errors.Is(err, common.ErrIngestionPartialFailure):
		return http.StatusBadGateway, "Document partially ingested"
	}
	return http.StatusInternalServerError, "Internal server error"
}
