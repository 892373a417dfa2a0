package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/OFFIS-RIT/triage/pkg/logger"
)

const extractTimeout = 30 * time.Second

var reNewlines = regexp.MustCompile(`\n{3,}`)

func parsePDF(ctx context.Context, input []byte, params Params) ([]byte, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return nil, fmt.Errorf("pdftotext not found in PATH: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "triage-pdf-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(pdfPath, input, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write temp PDF: %w", err)
	}

	pages, err := api.PageCountFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("invalid PDF: %w", err)
	}
	if pages == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	args := []string{"-enc", "UTF-8", "-eol", "unix", "-nopgbrk", "-q"}
	if params.CropTop > 0 || params.CropBottom > 0 {
		croppedPath := filepath.Join(tmpDir, "cropped.pdf")
		if err := cropHeaderFooter(pdfPath, croppedPath, params.CropTop, params.CropBottom); err != nil {
			logger.Warn("[PDF] Crop failed, extracting full pages", "err", err)
		} else {
			pdfPath = croppedPath
			args = append(args, "-cropbox")
		}
	}
	args = append(args, pdfPath, "-")

	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "pdftotext", args...)
	cmd.Env = append(os.Environ(), "LANG=C.UTF-8", "LC_ALL=C.UTF-8")

	out, err := cmd.Output()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("pdftotext timed out")
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("pdftotext failed: %w: %s", err, bytes.TrimSpace(exitErr.Stderr))
		}
		return nil, fmt.Errorf("pdftotext failed: %w", err)
	}

	logger.Debug("[PDF] Extracted text", "pages", pages, "bytes", len(out))
	return []byte(cleanText(string(out))), nil
}

// cropHeaderFooter sets a crop box on every page that cuts top and bottom
// points off each page.
func cropHeaderFooter(inputPath, outputPath string, top, bottom float64) error {
	box, err := model.ParseBox(fmt.Sprintf("%.2f 0 %.2f 0", top, bottom), types.POINTS)
	if err != nil {
		return fmt.Errorf("failed to parse crop box: %w", err)
	}
	if err := api.CropFile(inputPath, outputPath, []string{"1-"}, box, model.NewDefaultConfiguration()); err != nil {
		return fmt.Errorf("failed to crop PDF: %w", err)
	}
	return nil
}

func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\f", "\n")
	text = strings.TrimSpace(text)
	text = reNewlines.ReplaceAllString(text, "\n\n")
	if text != "" {
		text += "\n"
	}
	return text
}
