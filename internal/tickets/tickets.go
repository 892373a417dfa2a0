// Package tickets records classified reports as occurrences that dispatchers
// work through.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/triage/pkg/common"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("occurrence not found")

type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusDispatched Status = "DISPATCHED"
	StatusClosed     Status = "CLOSED"
)

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusOpen, StatusDispatched, StatusClosed:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Urgency bands used for dispatch queues.
const (
	BandCritical = "CRITICAL"
	BandHigh     = "HIGH"
	BandMedium   = "MEDIUM"
	BandLow      = "LOW"
)

// UrgencyBand groups the five urgency levels into four dispatch bands.
func UrgencyBand(level int) string {
	switch {
	case level >= 5:
		return BandCritical
	case level == 4:
		return BandHigh
	case level == 3:
		return BandMedium
	}
	return BandLow
}

// Reporter identifies who sent a report and over which channel.
type Reporter struct {
	Phone   string `json:"phone,omitempty"`
	Channel string `json:"channel,omitempty"`
}

type Ticket struct {
	common.ClassificationResult
	Reporter
	UrgencyBand string    `json:"urgency_band"`
	Status      Status    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewTicket builds an open ticket for result.
func NewTicket(result common.ClassificationResult, reporter Reporter) Ticket {
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	return Ticket{
		ClassificationResult: result,
		Reporter:             reporter,
		UrgencyBand:          UrgencyBand(result.UrgencyLevel),
		Status:               StatusOpen,
		UpdatedAt:            result.CreatedAt,
	}
}

type ListParams struct {
	Status      Status
	NeedsReview *bool
	Limit       int
}

const defaultListLimit = 50

func (p ListParams) limit() int {
	if p.Limit <= 0 || p.Limit > 500 {
		return defaultListLimit
	}
	return p.Limit
}

// Repository stores tickets. List orders by urgency, most urgent first, then
// by age, oldest first.
type Repository interface {
	Create(ctx context.Context, result common.ClassificationResult, reporter Reporter) (Ticket, error)
	Get(ctx context.Context, id uuid.UUID) (Ticket, error)
	List(ctx context.Context, params ListParams) ([]Ticket, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
}
