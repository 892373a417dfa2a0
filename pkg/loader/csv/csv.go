package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/OFFIS-RIT/triage/pkg/loader"
)

// Loader turns CSV sources into one labelled line per row.
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
		comma := ','
		if strings.HasSuffix(strings.ToLower(file.Path), ".tsv") {
			comma = '\t'
		}
		return ParseCSV(content, comma)
	})
}

// ParseCSV reads CSV content with a header row and renders every data row as
// "column: value; column: value". Rows that are entirely blank are skipped
// and malformed rows are dropped.
func ParseCSV(content []byte, comma rune) ([]byte, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var header []string
	var out strings.Builder
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}
		if blank(record) {
			continue
		}
		if header == nil {
			header = record
			continue
		}

		fields := make([]string, 0, len(record))
		for i, value := range record {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			name := ""
			if i < len(header) {
				name = strings.TrimSpace(header[i])
			}
			if name == "" {
				name = fmt.Sprintf("column %d", i+1)
			}
			fields = append(fields, name+": "+value)
		}
		out.WriteString(strings.Join(fields, "; "))
		out.WriteByte('\n')
	}

	if header == nil {
		return nil, fmt.Errorf("CSV file is empty or contains no valid data")
	}
	return []byte(out.String()), nil
}

func blank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
