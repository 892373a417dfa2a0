package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrConfiguration is fatal and reported at startup: invalid chunk
	// parameters, mismatched embedding dimensions, missing settings.
	ErrConfiguration = errors.New("configuration error")
	// ErrEmbeddingService marks a transient embedding transport or model failure.
	ErrEmbeddingService = errors.New("embedding service error")
	// ErrModelService marks a transient language model transport failure.
	ErrModelService = errors.New("model service error")
	// ErrMalformedResponse marks structured model output that violates the expected schema.
	ErrMalformedResponse = errors.New("malformed model response")
	// ErrIngestionPartialFailure marks a document whose ingestion was rolled back.
	ErrIngestionPartialFailure = errors.New("ingestion partial failure")
)

func ConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}

// EmbeddingError wraps err as an embedding service failure unless it is
// already part of the taxonomy or a context error.
func EmbeddingError(err error) error {
	return wrapService(ErrEmbeddingService, err)
}

// ModelError wraps err as a model service failure unless it is already part
// of the taxonomy or a context error.
func ModelError(err error) error {
	return wrapService(ErrModelService, err)
}

func wrapService(kind error, err error) error {
	if err == nil {
		return nil
	}
	if IsContextErr(err) || errors.Is(err, kind) || errors.Is(err, ErrConfiguration) || errors.Is(err, ErrMalformedResponse) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// IngestionError reports a rolled back ingestion of sourceID.
func IngestionError(sourceID string, err error) error {
	return fmt.Errorf("%w: document %q: %w", ErrIngestionPartialFailure, sourceID, err)
}

func IsContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
