package pdf

import (
	"context"

	"github.com/OFFIS-RIT/triage/pkg/loader"
)

// Params configures PDF extraction. CropTop and CropBottom remove running
// headers and footers, in points, before text is extracted.
type Params struct {
	CropTop    float64
	CropBottom float64
}

// Loader extracts text from PDF sources with pdftotext.
type Loader struct {
	loader loader.FileLoader
	params Params
	cache  *loader.Cache
}

func NewLoader(base loader.FileLoader, params Params) *Loader {
	return &Loader{loader: base, params: params, cache: loader.NewCache()}
}

func (l *Loader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return l.cache.Load(loader.CacheKey(file), func() ([]byte, error) {
		content, err := l.loader.GetFileText(ctx, file)
		if err != nil {
			return nil, err
		}
		return parsePDF(ctx, content, l.params)
	})
}
