package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// QuoteRepository handles supplier quote persistence.
type QuoteRepository struct {
	q Querier
}

// NewQuoteRepository creates a new quote repository.
func NewQuoteRepository(q Querier) *QuoteRepository {
	return &QuoteRepository{q: q}
}

// CreateQuote inserts a quote.
func (r *QuoteRepository) CreateQuote(ctx context.Context, quote *Quote) error {
	if quote.ID == "" {
		quote.ID = uuid.NewString()
	}
	if quote.ReceivedAt.IsZero() {
		quote.ReceivedAt = time.Now().UTC()
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO quotes (id, case_id, supplier_id, amount, currency, received_at, file_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		quote.ID,
		quote.CaseID,
		quote.SupplierID,
		quote.Amount,
		quote.Currency,
		quote.ReceivedAt,
		quote.FileID,
		quote.Notes,
	)
	return storageError(err, "failed to create quote")
}

// ListQuotes returns the quotes of a case, oldest first.
func (r *QuoteRepository) ListQuotes(ctx context.Context, caseID string) ([]*Quote, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, case_id, supplier_id, amount, currency, received_at, file_id, notes
		FROM quotes
		WHERE case_id = $1
		ORDER BY received_at ASC, id ASC
	`, caseID)
	if err != nil {
		return nil, storageError(err, "failed to list quotes")
	}
	defer rows.Close()

	quotes := make([]*Quote, 0)
	for rows.Next() {
		q := &Quote{}
		err := rows.Scan(
			&q.ID,
			&q.CaseID,
			&q.SupplierID,
			&q.Amount,
			&q.Currency,
			&q.ReceivedAt,
			&q.FileID,
			&q.Notes,
		)
		if err != nil {
			return nil, storageError(err, "failed to scan quote")
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// CountQuotes returns the number of quotes recorded for a case.
func (r *QuoteRepository) CountQuotes(ctx context.Context, caseID string) (int, error) {
	var n int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM quotes WHERE case_id = $1`, caseID).Scan(&n); err != nil {
		return 0, storageError(err, "failed to count quotes")
	}
	return n, nil
}
