package io

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/OFFIS-RIT/triage/pkg/loader"
)

// FileLoader reads sources from the local filesystem, optionally below a
// root directory. Results are cached per file version.
type FileLoader struct {
	root  string
	cache *loader.Cache
}

func NewFileLoader(root string) *FileLoader {
	return &FileLoader{root: root, cache: loader.NewCache()}
}

func (l *FileLoader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.cache.Load(loader.CacheKey(file), func() ([]byte, error) {
		path := file.Path
		if l.root != "" && !filepath.IsAbs(path) {
			path = filepath.Join(l.root, path)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return content, nil
	})
}

// Forget drops cached content for a source id.
func (l *FileLoader) Forget(id string) {
	l.cache.Forget(id)
}

// Version returns a version string for path built from its size and
// modification time.
func Version(info os.FileInfo) string {
	return fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano())
}
