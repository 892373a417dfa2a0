// Package loader reads knowledge base sources of various formats and turns
// them into plain text documents.
//
// A FileLoader fetches bytes (local disk, S3, HTTP); format loaders wrap a
// FileLoader and convert what it returns into text.
package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/triage/internal/util"
	"github.com/OFFIS-RIT/triage/pkg/common"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/singleflight"
)

type FileType string

const (
	FileTypeText  FileType = "text"
	FileTypeCSV   FileType = "csv"
	FileTypeExcel FileType = "excel"
	FileTypePDF   FileType = "pdf"
	FileTypeDocx  FileType = "docx"
	FileTypeWeb   FileType = "web"
)

// SourceFile is a knowledge base source. Version changes whenever the
// content changes (modification time, etag) and is part of the cache key.
type SourceFile struct {
	ID       string
	Path     string
	Type     FileType
	Title    string
	Category string
	Version  string
	Loader   FileLoader
}

// FileLoader returns the content of a file, already converted to text for
// format loaders.
type FileLoader interface {
	GetFileText(ctx context.Context, file SourceFile) ([]byte, error)
}

// DetectType guesses the format of path from its scheme and extension.
// Unknown extensions are read as text.
func DetectType(path string) FileType {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return FileTypeWeb
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv":
		return FileTypeCSV
	case ".xlsx", ".xls", ".ods":
		return FileTypeExcel
	case ".pdf":
		return FileTypePDF
	case ".docx":
		return FileTypeDocx
	}
	return FileTypeText
}

// DetectContent prefers the signature of content over the extension of
// name, so that uploads with a wrong or missing extension still parse.
func DetectContent(name string, content []byte) FileType {
	m := mimetype.Detect(content)
	switch {
	case m.Is("application/pdf"):
		return FileTypePDF
	case m.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document"):
		return FileTypeDocx
	case m.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"),
		m.Is("application/vnd.ms-excel"),
		m.Is("application/vnd.oasis.opendocument.spreadsheet"):
		return FileTypeExcel
	}
	return DetectType(name)
}

// Bytes serves the same content for every file. It backs uploads that are
// held in memory.
type Bytes []byte

func (b Bytes) GetFileText(ctx context.Context, file SourceFile) ([]byte, error) {
	return b, nil
}

// Supported reports whether path has an extension LoadDir style scanners
// should pick up.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".csv", ".tsv", ".xlsx", ".xls", ".ods", ".pdf", ".docx", ".html", ".htm":
		return true
	}
	return false
}

// NewSourceFile builds a SourceFile for path with the type detected from its
// extension. The id defaults to the file name without extension.
func NewSourceFile(path string, l FileLoader) SourceFile {
	base := filepath.Base(path)
	id := strings.TrimSuffix(base, filepath.Ext(base))
	return SourceFile{
		ID:     id,
		Path:   path,
		Type:   DetectType(path),
		Title:  id,
		Loader: l,
	}
}

// Document loads f and returns it as a knowledge base document with
// normalized text.
func (f SourceFile) Document(ctx context.Context) (common.Document, error) {
	if f.Loader == nil {
		return common.Document{}, common.ConfigError("no loader for %s", f.Path)
	}
	raw, err := f.Loader.GetFileText(ctx, f)
	if err != nil {
		return common.Document{}, fmt.Errorf("load %s: %w", f.Path, err)
	}
	title := f.Title
	if title == "" {
		title = f.ID
	}
	return common.Document{
		SourceID:   f.ID,
		Title:      title,
		Category:   f.Category,
		Text:       util.NormalizeText(util.SanitizePostgresText(string(raw))),
		IngestedAt: time.Now().UTC(),
	}, nil
}

// CacheKey identifies one version of a file.
func CacheKey(file SourceFile) string {
	return string(file.Type) + "|" + file.ID + "|" + file.Path + "|" + file.Version
}

// Cache memoizes converted file content. Concurrent loads of the same key
// are collapsed into one.
type Cache struct {
	mu    sync.RWMutex
	items map[string][]byte
	group singleflight.Group
}

func NewCache() *Cache {
	return &Cache{items: make(map[string][]byte)}
}

// Load returns the cached content for key or computes it with fn.
func (c *Cache) Load(key string, fn func() ([]byte, error)) ([]byte, error) {
	c.mu.RLock()
	if cached, ok := c.items[key]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		if cached, ok := c.items[key]; ok {
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()

		content, err := fn()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.items[key] = content
		c.mu.Unlock()
		return content, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Forget drops every cached version of files with the given id.
func (c *Cache) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.items {
		if parts := strings.SplitN(key, "|", 3); len(parts) > 1 && parts[1] == id {
			delete(c.items, key)
		}
	}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
