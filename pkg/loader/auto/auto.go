// Package auto routes a SourceFile to the format loader for its type.
package auto

import (
	"context"
	"fmt"
	"net/http"

	"github.com/OFFIS-RIT/triage/pkg/loader"
	"github.com/OFFIS-RIT/triage/pkg/loader/csv"
	"github.com/OFFIS-RIT/triage/pkg/loader/doc"
	"github.com/OFFIS-RIT/triage/pkg/loader/excel"
	"github.com/OFFIS-RIT/triage/pkg/loader/pdf"
	"github.com/OFFIS-RIT/triage/pkg/loader/web"
)

// Loader dispatches on SourceFile.Type. Raw bytes come from base.
type Loader struct {
	base    loader.FileLoader
	formats map[loader.FileType]loader.FileLoader
}

type Params struct {
	PDF  pdf.Params
	HTTP *http.Client
}

func NewLoader(base loader.FileLoader, params Params) *Loader {
	return &Loader{
		base: base,
		formats: map[loader.FileType]loader.FileLoader{
			loader.FileTypeText:  base,
			loader.FileTypeCSV:   csv.NewLoader(base),
			loader.FileTypeExcel: excel.NewLoader(base),
			loader.FileTypePDF:   pdf.NewLoader(base, params.PDF),
			loader.FileTypeDocx:  doc.NewLoader(base),
			loader.FileTypeWeb:   web.NewLoader(params.HTTP),
		},
	}
}

func (l *Loader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	t := file.Type
	if t == "" {
		t = loader.DetectType(file.Path)
	}
	format, ok := l.formats[t]
	if !ok {
		return nil, fmt.Errorf("unsupported file type %q", t)
	}
	return format.GetFileText(ctx, file)
}

// Source builds a SourceFile for path that loads through l.
func (l *Loader) Source(path string) loader.SourceFile {
	return loader.NewSourceFile(path, l)
}
