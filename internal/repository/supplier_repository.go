package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-procurement-cases/internal/common/errors"
)

// SupplierRepository handles supplier persistence.
type SupplierRepository struct {
	q Querier
}

// NewSupplierRepository creates a new supplier repository.
func NewSupplierRepository(q Querier) *SupplierRepository {
	return &SupplierRepository{q: q}
}

const supplierColumns = `id, name, email, categories, is_active, created_at`

// CreateSupplier inserts a supplier.
func (r *SupplierRepository) CreateSupplier(ctx context.Context, s *Supplier) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	categoriesJSON, err := marshalStrings(s.Categories)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal supplier categories")
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO suppliers (`+supplierColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.Name, s.Email, categoriesJSON, s.IsActive, s.CreatedAt)
	return storageError(err, "failed to create supplier")
}

// GetSupplier returns a supplier by ID.
func (r *SupplierRepository) GetSupplier(ctx context.Context, id string) (*Supplier, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	s, err := scanSupplier(r.q.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, storageError(err, "failed to get supplier")
	}
	return s, nil
}

// GetSuppliersByIDs returns the suppliers among ids that exist. Malformed
// IDs are ignored.
func (r *SupplierRepository) GetSuppliersByIDs(ctx context.Context, ids []string) ([]*Supplier, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return []*Supplier{}, nil
	}

	rows, err := r.q.Query(ctx, `
		SELECT `+supplierColumns+`
		FROM suppliers
		WHERE id::text = ANY($1)
		ORDER BY name, id
	`, valid)
	if err != nil {
		return nil, storageError(err, "failed to get suppliers")
	}
	defer rows.Close()
	return collectSuppliers(rows)
}

// ListSuppliers returns suppliers ordered by name.
func (r *SupplierRepository) ListSuppliers(ctx context.Context, activeOnly bool) ([]*Supplier, error) {
	query := `SELECT ` + supplierColumns + ` FROM suppliers`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name, id`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, storageError(err, "failed to list suppliers")
	}
	defer rows.Close()
	return collectSuppliers(rows)
}

// UpdateSupplier applies patch and returns the updated supplier.
func (r *SupplierRepository) UpdateSupplier(ctx context.Context, id string, patch SupplierPatch) (*Supplier, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	sets := []string{}
	args := []interface{}{}
	argCount := 1

	if patch.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", argCount))
		args = append(args, *patch.Name)
		argCount++
	}
	if patch.Email != nil {
		sets = append(sets, fmt.Sprintf("email = $%d", argCount))
		args = append(args, *patch.Email)
		argCount++
	}
	if patch.Categories != nil {
		categoriesJSON, err := marshalStrings(patch.Categories)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal supplier categories")
		}
		sets = append(sets, fmt.Sprintf("categories = $%d", argCount))
		args = append(args, categoriesJSON)
		argCount++
	}
	if patch.IsActive != nil {
		sets = append(sets, fmt.Sprintf("is_active = $%d", argCount))
		args = append(args, *patch.IsActive)
		argCount++
	}
	if len(sets) == 0 {
		return r.GetSupplier(ctx, id)
	}

	query := fmt.Sprintf(`UPDATE suppliers SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), argCount, supplierColumns)
	args = append(args, id)

	s, err := scanSupplier(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, storageError(err, "failed to update supplier")
	}
	return s, nil
}

func collectSuppliers(rows pgx.Rows) ([]*Supplier, error) {
	suppliers := make([]*Supplier, 0)
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, storageError(err, "failed to scan supplier")
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}

func scanSupplier(sc scanner) (*Supplier, error) {
	s := &Supplier{}
	var categoriesJSON []byte
	if err := sc.Scan(&s.ID, &s.Name, &s.Email, &categoriesJSON, &s.IsActive, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Categories = []string{}
	if len(categoriesJSON) > 0 {
		if err := json.Unmarshal(categoriesJSON, &s.Categories); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// marshalStrings encodes a string list as a JSON array, never null.
func marshalStrings(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}
