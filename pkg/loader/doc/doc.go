// Package doc extracts text from Word (.docx) documents.
package doc

import (
	"context"
	"io"

	"github.com/OFFIS-RIT/triage/pkg/loader"
)

const docXMLMax = 50 << 20

// Loader extracts text from .docx sources.
type Loader struct {
	loader loader.FileLoader
	cache  *loader.Cache
}

func NewLoader(base loader.FileLoader) *Loader {
	return &Loader{loader: base, cache: loader.NewCache()}
}

func (l *Loader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return l.cache.Load(loader.CacheKey(file), func() ([]byte, error) {
		content, err := l.loader.GetFileText(ctx, file)
		if err != nil {
			return nil, err
		}
		return parseDocx(content)
	})
}

// FromReader extracts text from a .docx read from input, for uploads that do
// not go through a FileLoader.
func FromReader(input io.Reader) ([]byte, error) {
	content, err := io.ReadAll(io.LimitReader(input, docXMLMax))
	if err != nil {
		return nil, err
	}
	return parseDocx(content)
}
