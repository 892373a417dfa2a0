// Package excel converts spreadsheets to text through unoconv.
package excel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/OFFIS-RIT/triage/pkg/loader"
	"github.com/OFFIS-RIT/triage/pkg/loader/csv"
)

const convertTimeout = 5 * time.Minute

// Loader converts .xlsx, .xls and .ods sources to CSV and renders every
// sheet as labelled rows, each sheet under its own heading.
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

		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(file.Path)), ".")
		sheets, err := TransformToCSV(ctx, content, ext)
		if err != nil {
			return nil, err
		}
		return RenderSheets(sheets), nil
	})
}

// RenderSheets joins parsed sheets in name order. Sheets that fail to parse
// are skipped.
func RenderSheets(sheets map[string][]byte) []byte {
	names := make([]string, 0, len(sheets))
	for name := range sheets {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []byte
	for _, name := range names {
		parsed, err := csv.ParseCSV(sheets[name], ',')
		if err != nil {
			continue
		}
		if len(out) > 0 {
			out = append(out, '\n')
		}
		if len(sheets) > 1 {
			out = append(out, "## "+name+"\n"...)
		}
		out = append(out, parsed...)
	}
	return out
}

// TransformToCSV converts a spreadsheet to CSV with unoconv and returns the
// CSV content per sheet name.
func TransformToCSV(ctx context.Context, input []byte, ext string) (map[string][]byte, error) {
	if _, err := exec.LookPath("unoconv"); err != nil {
		return nil, fmt.Errorf("unoconv not found in PATH: %w", err)
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("nanoid: %w", err)
	}
	tmpDir := filepath.Join(os.TempDir(), "triage-sheet-"+id)
	if err := os.MkdirAll(tmpDir, 0o700); err != nil {
		return nil, fmt.Errorf("mkdir tmp: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	inputPath := filepath.Join(tmpDir, "input."+ext)
	if err := os.WriteFile(inputPath, input, 0o600); err != nil {
		return nil, fmt.Errorf("write sheet: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, convertTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "unoconv", "-f", "csv", inputPath)
	cmd.Dir = tmpDir
	cmd.Env = append(os.Environ(), "LANG=C.UTF-8", "LC_ALL=C.UTF-8")
	out, err := cmd.CombinedOutput()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("unoconv timed out")
	}
	if err != nil {
		return nil, fmt.Errorf("unoconv failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	matches, err := filepath.Glob(filepath.Join(tmpDir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("glob csv: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no CSV files produced")
	}

	result := make(map[string][]byte, len(matches))
	for _, f := range matches {
		content, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read csv %s: %w", f, err)
		}
		result[sheetName(filepath.Base(f))] = content
	}
	return result, nil
}

// sheetName maps unoconv output names (input.csv, input-Units.csv) to sheet
// names.
func sheetName(file string) string {
	base := strings.TrimSuffix(file, ".csv")
	if base == "input" {
		return "Sheet1"
	}
	return strings.TrimPrefix(base, "input-")
}
