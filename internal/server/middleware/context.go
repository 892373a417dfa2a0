package middleware

import (
	"context"
	"sync"

	"github.com/OFFIS-RIT/triage/internal/gateway"
	"github.com/OFFIS-RIT/triage/internal/queue"
	"github.com/OFFIS-RIT/triage/internal/storage"
	"github.com/OFFIS-RIT/triage/internal/tickets"
	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/index"
	"github.com/OFFIS-RIT/triage/pkg/loader/auto"

	"github.com/labstack/echo/v4"
)

// Engine is the part of *triage.Engine the handlers use.
type Engine interface {
	IngestDocument(ctx context.Context, doc common.Document) (int, error)
	RemoveDocument(ctx context.Context, sourceID string) (int, error)
	Stats(ctx context.Context) (index.Stats, error)
	ClearIndex(ctx context.Context) (int, error)
	Classify(ctx context.Context, report string) (common.ClassificationResult, error)
}

// App holds the collaborators of the handlers. Archive, Gateway and Queue
// are optional.
type App struct {
	Engine  Engine
	Tickets tickets.Repository
	Archive *storage.Archive
	Gateway *gateway.Service
	Queue   queue.Channel
	Loaders auto.Params

	background sync.WaitGroup
}

// Go runs fn detached from the request. Wait blocks until every such call
// returned.
func (a *App) Go(fn func()) {
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		fn()
	}()
}

func (a *App) Wait() {
	a.background.Wait()
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{c, app})
		}
	}
}
