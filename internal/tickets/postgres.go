package tickets

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/triage/internal/util"
	"github.com/OFFIS-RIT/triage/pkg/common"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store keeps tickets in the occurrences table.
type Store struct {
	db DB
}

var _ Repository = (*Store)(nil)

func NewStore(db DB) *Store {
	return &Store{db: db}
}

const columns = `id, phone, channel, report, emergency_types, urgency_level, urgency_band,
	confidence_score, situation_summary, rationale, urgency_rationale, suggested_actions,
	response_time, context_chunks, needs_review, state, failed_stage, status, created_at, updated_at`

const insertSQL = `INSERT INTO occurrences (` + columns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

const getSQL = `SELECT ` + columns + ` FROM occurrences WHERE id = $1`

const listSQL = `SELECT ` + columns + ` FROM occurrences
WHERE ($1 = '' OR status = $1)
  AND ($2::boolean IS NULL OR needs_review = $2)
ORDER BY urgency_level DESC, created_at ASC
LIMIT $3`

const updateStatusSQL = `UPDATE occurrences SET status = $2, updated_at = now() WHERE id = $1`

func (s *Store) Create(ctx context.Context, result common.ClassificationResult, reporter Reporter) (Ticket, error) {
	t := NewTicket(result, reporter)
	_, err := s.db.Exec(ctx, insertSQL,
		t.ID,
		t.Phone,
		t.Channel,
		util.SanitizePostgresText(t.SourceReport),
		typeLabels(t.EmergencyTypes),
		t.UrgencyLevel,
		t.UrgencyBand,
		t.ConfidenceScore,
		util.SanitizePostgresText(t.SituationSummary),
		util.SanitizePostgresText(t.Rationale),
		util.SanitizePostgresText(t.UrgencyRationale),
		nonNil(t.SuggestedActions),
		t.ResponseTime,
		t.ContextUsed,
		t.NeedsReview,
		string(t.State),
		string(t.FailedStage),
		string(t.Status),
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return Ticket{}, fmt.Errorf("insert occurrence: %w", err)
	}
	return t, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (Ticket, error) {
	t, err := scanTicket(s.db.QueryRow(ctx, getSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Ticket{}, ErrNotFound
	}
	if err != nil {
		return Ticket{}, fmt.Errorf("get occurrence: %w", err)
	}
	return t, nil
}

func (s *Store) List(ctx context.Context, params ListParams) ([]Ticket, error) {
	rows, err := s.db.Query(ctx, listSQL, string(params.Status), params.NeedsReview, params.limit())
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := s.db.Exec(ctx, updateStatusSQL, id, string(status))
	if err != nil {
		return fmt.Errorf("update occurrence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTicket(row pgx.Row) (Ticket, error) {
	var (
		t                     Ticket
		types                 []string
		state, failed, status string
	)
	err := row.Scan(
		&t.ID,
		&t.Phone,
		&t.Channel,
		&t.SourceReport,
		&types,
		&t.UrgencyLevel,
		&t.UrgencyBand,
		&t.ConfidenceScore,
		&t.SituationSummary,
		&t.Rationale,
		&t.UrgencyRationale,
		&t.SuggestedActions,
		&t.ResponseTime,
		&t.ContextUsed,
		&t.NeedsReview,
		&state,
		&failed,
		&status,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return Ticket{}, err
	}
	t.EmergencyTypes = make([]common.EmergencyType, 0, len(types))
	for _, label := range types {
		t.EmergencyTypes = append(t.EmergencyTypes, common.EmergencyType(label))
	}
	t.State = common.Stage(state)
	t.FailedStage = common.Stage(failed)
	t.Status = Status(status)
	return t, nil
}

func typeLabels(types []common.EmergencyType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
