package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-procurement-cases/internal/common/errors"
)

// CaseEventRepository appends and reads immutable case history entries.
type CaseEventRepository struct {
	q Querier
}

// NewCaseEventRepository creates a new CaseEventRepository.
func NewCaseEventRepository(q Querier) *CaseEventRepository {
	return &CaseEventRepository{q: q}
}

// AppendEvent inserts one history entry. The table has an update and delete
// prevention trigger so this is the only mutation operation exposed.
func (r *CaseEventRepository) AppendEvent(ctx context.Context, e *CaseEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	detail := e.Detail
	if detail == nil {
		detail = map[string]interface{}{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal event detail")
	}

	query := `
		INSERT INTO case_events (id, case_id, actor_user_id, type, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`
	err = r.q.QueryRow(ctx, query,
		e.ID,
		e.CaseID,
		e.ActorUserID,
		e.Type,
		detailJSON,
		e.CreatedAt,
	).Scan(&e.Seq)
	return storageError(err, "failed to append case event")
}

// ListEvents returns the full history of a case ordered oldest-first.
func (r *CaseEventRepository) ListEvents(ctx context.Context, caseID string) ([]*CaseEvent, error) {
	query := `
		SELECT id, seq, case_id, actor_user_id, type, detail, created_at
		FROM case_events
		WHERE case_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.q.Query(ctx, query, caseID)
	if err != nil {
		return nil, storageError(err, "failed to list case events")
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanEvents(rows pgx.Rows) ([]*CaseEvent, error) {
	events := make([]*CaseEvent, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(sc scanner) (*CaseEvent, error) {
	e := &CaseEvent{}
	var detailJSON []byte

	err := sc.Scan(
		&e.ID,
		&e.Seq,
		&e.CaseID,
		&e.ActorUserID,
		&e.Type,
		&detailJSON,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan case event")
	}

	if len(detailJSON) > 0 {
		if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal event detail")
		}
	}
	return e, nil
}
