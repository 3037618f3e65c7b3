package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CaseRepository handles case persistence.
type CaseRepository struct {
	q Querier
}

// NewCaseRepository creates a new case repository.
func NewCaseRepository(q Querier) *CaseRepository {
	return &CaseRepository{q: q}
}

const caseColumns = `
	id, pr_number, subject, requester_name, requester_email, department,
	priority, needed_by, cost_center, delivery_location, budget_estimate,
	status, assigned_buyer_id,
	exception_approved_by_id, exception_approved_at, exception_reason,
	summary_for_procurement, created_at, updated_at`

// CreateCase inserts a case. ID and timestamps are filled when empty.
func (r *CaseRepository) CreateCase(ctx context.Context, c *Case) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	query := `
		INSERT INTO cases (` + caseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9, $10, $11,
		        $12, $13,
		        $14, $15, $16,
		        $17, $18, $19)
	`

	_, err := r.q.Exec(ctx, query,
		c.ID,
		c.PRNumber,
		c.Subject,
		c.RequesterName,
		c.RequesterEmail,
		c.Department,
		c.Priority,
		c.NeededBy,
		c.CostCenter,
		c.DeliveryLocation,
		c.BudgetEstimate,
		c.Status,
		c.AssignedBuyerID,
		c.ExceptionApprovedByID,
		c.ExceptionApprovedAt,
		c.ExceptionReason,
		c.SummaryForProcurement,
		c.CreatedAt,
		c.UpdatedAt,
	)
	return storageError(err, "failed to create case")
}

// GetCase returns a case by ID.
func (r *CaseRepository) GetCase(ctx context.Context, id string) (*Case, error) {
	return r.getCase(ctx, id, "")
}

// GetCaseForUpdate returns a case by ID and locks its row.
func (r *CaseRepository) GetCaseForUpdate(ctx context.Context, id string) (*Case, error) {
	return r.getCase(ctx, id, " FOR UPDATE")
}

func (r *CaseRepository) getCase(ctx context.Context, id, lock string) (*Case, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = $1` + lock

	c, err := scanCase(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, storageError(err, "failed to get case")
	}
	return c, nil
}

// UpdateCase applies patch and returns the updated case.
func (r *CaseRepository) UpdateCase(ctx context.Context, id string, patch CasePatch, updatedAt time.Time) (*Case, error) {
	sets := []string{}
	args := []interface{}{}
	argCount := 1

	set := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argCount))
		args = append(args, value)
		argCount++
	}

	if patch.Subject != nil {
		set("subject", *patch.Subject)
	}
	if patch.RequesterName != nil {
		set("requester_name", *patch.RequesterName)
	}
	if patch.RequesterEmail != nil {
		set("requester_email", *patch.RequesterEmail)
	}
	if patch.Department != nil {
		set("department", *patch.Department)
	}
	if patch.Priority != nil {
		set("priority", *patch.Priority)
	}
	if patch.NeededBy != nil {
		set("needed_by", *patch.NeededBy)
	}
	if patch.CostCenter != nil {
		set("cost_center", *patch.CostCenter)
	}
	if patch.DeliveryLocation != nil {
		set("delivery_location", *patch.DeliveryLocation)
	}
	if patch.BudgetEstimate != nil {
		set("budget_estimate", *patch.BudgetEstimate)
	}
	if patch.Status != nil {
		set("status", *patch.Status)
	}
	if patch.AssignedBuyerID != nil {
		set("assigned_buyer_id", *patch.AssignedBuyerID)
	}
	if patch.Exception != nil {
		set("exception_approved_by_id", patch.Exception.ApprovedByID)
		set("exception_approved_at", patch.Exception.ApprovedAt)
		set("exception_reason", patch.Exception.Reason)
	}
	if patch.SummaryForProcurement != nil {
		set("summary_for_procurement", *patch.SummaryForProcurement)
	}
	set("updated_at", updatedAt)

	query := fmt.Sprintf(`UPDATE cases SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), argCount, caseColumns)
	args = append(args, id)

	c, err := scanCase(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, storageError(err, "failed to update case")
	}
	return c, nil
}

// ListCases returns a filtered page of cases, newest first, and the total
// number of matches.
func (r *CaseRepository) ListCases(ctx context.Context, filter CaseFilter) ([]*Case, int64, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		where += fmt.Sprintf(" AND status = ANY($%d)", argCount)
		args = append(args, statuses)
		argCount++
	}

	if filter.Priority != nil {
		where += fmt.Sprintf(" AND priority = $%d", argCount)
		args = append(args, *filter.Priority)
		argCount++
	}

	if filter.RequesterEmail != "" {
		where += fmt.Sprintf(" AND requester_email ILIKE $%d", argCount)
		args = append(args, "%"+filter.RequesterEmail+"%")
		argCount++
	}

	if filter.AssignedBuyerID != "" {
		where += fmt.Sprintf(" AND assigned_buyer_id::text = $%d", argCount)
		args = append(args, filter.AssignedBuyerID)
		argCount++
	}

	if filter.CreatedFrom != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filter.CreatedFrom)
		argCount++
	}

	if filter.CreatedTo != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filter.CreatedTo)
		argCount++
	}

	if filter.Search != "" {
		where += fmt.Sprintf(" AND (pr_number ILIKE $%d OR subject ILIKE $%d OR requester_name ILIKE $%d)",
			argCount, argCount, argCount)
		args = append(args, "%"+filter.Search+"%")
		argCount++
	}

	var total int64
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM cases`+where, args...).Scan(&total); err != nil {
		return nil, 0, storageError(err, "failed to count cases")
	}

	query := `SELECT ` + caseColumns + ` FROM cases` + where + ` ORDER BY created_at DESC, id DESC`
	queryArgs := args
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
		queryArgs = append(queryArgs, filter.Limit, filter.Offset)
	}

	rows, err := r.q.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, storageError(err, "failed to list cases")
	}
	defer rows.Close()

	cases := make([]*Case, 0)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, storageError(err, "failed to scan case")
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storageError(err, "failed to list cases")
	}
	return cases, total, nil
}

// CountCases counts cases matching filter.
func (r *CaseRepository) CountCases(ctx context.Context, filter CaseCountFilter) (int64, error) {
	query := `SELECT COUNT(*) FROM cases WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, *filter.Status)
		argCount++
	}
	if len(filter.StatusNotIn) > 0 {
		statuses := make([]string, len(filter.StatusNotIn))
		for i, s := range filter.StatusNotIn {
			statuses[i] = string(s)
		}
		query += fmt.Sprintf(" AND status <> ALL($%d)", argCount)
		args = append(args, statuses)
	}

	var count int64
	if err := r.q.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, storageError(err, "failed to count cases")
	}
	return count, nil
}

// CountCasesByStatus returns the number of cases per status, for statuses
// that have at least one case.
func (r *CaseRepository) CountCasesByStatus(ctx context.Context) ([]StatusCount, error) {
	rows, err := r.q.Query(ctx, `SELECT status, COUNT(*) FROM cases GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, storageError(err, "failed to count cases by status")
	}
	defer rows.Close()

	counts := make([]StatusCount, 0)
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, storageError(err, "failed to scan status count")
		}
		counts = append(counts, sc)
	}
	return counts, rows.Err()
}

// NextPRNumber takes a transaction-scoped advisory lock for the year and
// returns the number following the highest existing one.
func (r *CaseRepository) NextPRNumber(ctx context.Context, year int) (string, error) {
	if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`,
		fmt.Sprintf("pr_number:%d", year)); err != nil {
		return "", storageError(err, "failed to lock PR sequence")
	}

	prefix := PRNumberPrefix(year)
	query := `
		SELECT COALESCE(MAX(CAST(SUBSTRING(pr_number FROM $2) AS BIGINT)), 0)
		FROM cases
		WHERE pr_number ~ $1
	`
	var maxSeq int64
	if err := r.q.QueryRow(ctx, query, "^"+prefix+"[0-9]+$", len(prefix)+1).Scan(&maxSeq); err != nil {
		return "", storageError(err, "failed to read PR sequence")
	}
	return FormatPRNumber(year, NextPRSequence(int(maxSeq))), nil
}

// OpenCaseCountsByBuyer counts cases not in SENT or CLOSED per buyer.
func (r *CaseRepository) OpenCaseCountsByBuyer(ctx context.Context, buyerIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(buyerIDs))
	if len(buyerIDs) == 0 {
		return counts, nil
	}

	closed := make([]string, len(ClosedStatuses))
	for i, s := range ClosedStatuses {
		closed[i] = string(s)
	}

	query := `
		SELECT assigned_buyer_id::text, COUNT(*)
		FROM cases
		WHERE assigned_buyer_id::text = ANY($1)
		  AND status <> ALL($2)
		GROUP BY assigned_buyer_id
	`
	rows, err := r.q.Query(ctx, query, buyerIDs, closed)
	if err != nil {
		return nil, storageError(err, "failed to count open cases")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, storageError(err, "failed to scan open case count")
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanCase(sc scanner) (*Case, error) {
	c := &Case{}
	err := sc.Scan(
		&c.ID,
		&c.PRNumber,
		&c.Subject,
		&c.RequesterName,
		&c.RequesterEmail,
		&c.Department,
		&c.Priority,
		&c.NeededBy,
		&c.CostCenter,
		&c.DeliveryLocation,
		&c.BudgetEstimate,
		&c.Status,
		&c.AssignedBuyerID,
		&c.ExceptionApprovedByID,
		&c.ExceptionApprovedAt,
		&c.ExceptionReason,
		&c.SummaryForProcurement,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
