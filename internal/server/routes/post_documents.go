package routes

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/OFFIS-RIT/triage/internal/queue"
	"github.com/OFFIS-RIT/triage/internal/server/middleware"
	"github.com/OFFIS-RIT/triage/internal/util"
	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/loader"
	"github.com/OFFIS-RIT/triage/pkg/loader/auto"
	"github.com/OFFIS-RIT/triage/pkg/logger"

	"github.com/gabriel-vasile/mimetype"
	"github.com/labstack/echo/v4"
)

const maxUploadSize = 64 << 20

var errUnsupportedUpload = errors.New("unsupported file type")

type documentResponse struct {
	Message  string `json:"message"`
	SourceID string `json:"source_id,omitempty"`
	Chunks   int    `json:"chunks"`
	Key      string `json:"key,omitempty"`
	Queued   bool   `json:"queued,omitempty"`
}

// AddDocumentHandler ingests a knowledge base document, either as JSON text
// or as a multipart upload in field "file".
func AddDocumentHandler(c echo.Context) error {
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		return uploadDocument(c)
	}

	type addDocumentBody struct {
		SourceID string `json:"source_id" validate:"required,max=200"`
		Title    string `json:"title" validate:"max=500"`
		Category string `json:"category" validate:"max=100"`
		Text     string `json:"text" validate:"required"`
	}

	data := new(addDocumentBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, documentResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, documentResponse{Message: "Invalid request body"})
	}

	doc := common.Document{
		SourceID: data.SourceID,
		Title:    data.Title,
		Category: data.Category,
		Text:     util.NormalizeText(util.SanitizePostgresText(data.Text)),
	}
	if doc.Title == "" {
		doc.Title = doc.SourceID
	}

	app := c.(*middleware.AppContext).App
	if app.Queue != nil {
		job := queue.IngestJob{SourceID: doc.SourceID, Title: doc.Title, Category: doc.Category, Text: doc.Text}
		return queueIngest(c, job)
	}
	return ingest(c, doc)
}

func uploadDocument(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, documentResponse{Message: "Missing file"})
	}
	if file.Size > maxUploadSize {
		return c.JSON(http.StatusRequestEntityTooLarge, documentResponse{Message: "File too large"})
	}
	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, documentResponse{Message: "Invalid file"})
	}
	defer src.Close()
	content, err := io.ReadAll(io.LimitReader(src, maxUploadSize))
	if err != nil {
		return c.JSON(http.StatusBadRequest, documentResponse{Message: "Invalid file"})
	}

	fileType, err := uploadType(file.Filename, content)
	if err != nil {
		return c.JSON(http.StatusUnsupportedMediaType, documentResponse{Message: "Unsupported file type"})
	}

	name := filepath.Base(file.Filename)
	sourceID := strings.TrimSpace(c.FormValue("source_id"))
	if sourceID == "" {
		sourceID = strings.TrimSuffix(name, filepath.Ext(name))
	}
	title := strings.TrimSpace(c.FormValue("title"))
	if title == "" {
		title = sourceID
	}
	category := strings.TrimSpace(c.FormValue("category"))

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	var key string
	if app.Archive != nil {
		key, err = app.Archive.Put(ctx, sourceID, name, content)
		if err != nil {
			logger.Error("[Server] Failed to archive upload", "source_id", sourceID, "err", err)
			return c.JSON(http.StatusBadGateway, documentResponse{Message: "Storage unavailable"})
		}
	}
	if app.Queue != nil && key != "" {
		return queueIngest(c, queue.IngestJob{SourceID: sourceID, Title: title, Category: category, Key: key})
	}

	sf := loader.SourceFile{
		ID:       sourceID,
		Path:     name,
		Type:     fileType,
		Title:    title,
		Category: category,
		Loader:   auto.NewLoader(loader.Bytes(content), app.Loaders),
	}
	doc, err := sf.Document(ctx)
	if err != nil {
		logger.Warn("[Server] Failed to parse upload", "name", name, "err", err)
		return c.JSON(http.StatusUnprocessableEntity, documentResponse{Message: "Could not read document"})
	}
	resp := documentResponse{SourceID: sourceID, Key: key}
	return ingestResponse(c, doc, resp)
}

// uploadType accepts the formats the loaders parse. Text is only accepted
// when the content sniffs as text.
func uploadType(name string, content []byte) (loader.FileType, error) {
	t := loader.DetectContent(name, content)
	switch t {
	case loader.FileTypeWeb:
		return "", errUnsupportedUpload
	case loader.FileTypeText, loader.FileTypeCSV:
		if !strings.HasPrefix(mimetype.Detect(content).String(), "text/") {
			return "", errUnsupportedUpload
		}
	}
	return t, nil
}

func ingest(c echo.Context, doc common.Document) error {
	return ingestResponse(c, doc, documentResponse{SourceID: doc.SourceID})
}

func ingestResponse(c echo.Context, doc common.Document, resp documentResponse) error {
	app := c.(*middleware.AppContext).App
	n, err := app.Engine.IngestDocument(c.Request().Context(), doc)
	resp.Chunks = n
	if err != nil {
		logger.Error("[Server] Failed to ingest document", "source_id", doc.SourceID, "err", err)
		status, msg := statusOf(err)
		resp.Message = msg
		return c.JSON(status, resp)
	}
	resp.Message = "Document ingested"
	return c.JSON(http.StatusCreated, resp)
}

func queueIngest(c echo.Context, job queue.IngestJob) error {
	app := c.(*middleware.AppContext).App
	if err := queue.PublishJob(c.Request().Context(), app.Queue, queue.IngestQueue, job); err != nil {
		logger.Error("[Server] Failed to queue document", "source_id", job.SourceID, "err", err)
		return c.JSON(http.StatusServiceUnavailable, documentResponse{Message: "Queue unavailable"})
	}
	return c.JSON(http.StatusAccepted, documentResponse{
		Message:  "Document queued",
		SourceID: job.SourceID,
		Key:      job.Key,
		Queued:   true,
	})
}
