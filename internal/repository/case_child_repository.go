package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CaseChildRepository handles items, checklist entries, notes and file
// metadata attached to a case.
type CaseChildRepository struct {
	q Querier
}

// NewCaseChildRepository creates a new case child repository.
func NewCaseChildRepository(q Querier) *CaseChildRepository {
	return &CaseChildRepository{q: q}
}

// CreateCaseItems inserts items in order.
func (r *CaseChildRepository) CreateCaseItems(ctx context.Context, items []*CaseItem) error {
	if len(items) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		batch.Queue(`
			INSERT INTO case_items (id, case_id, description, qty, uom, specs)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, item.ID, item.CaseID, item.Description, item.Qty, item.UOM, item.Specs)
	}

	br := r.q.SendBatch(ctx, batch)
	defer br.Close()

	for range items {
		if _, err := br.Exec(); err != nil {
			return storageError(err, "failed to create case item")
		}
	}
	return nil
}

// ListCaseItems returns the items of a case.
func (r *CaseChildRepository) ListCaseItems(ctx context.Context, caseID string) ([]*CaseItem, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, case_id, description, qty, uom, specs
		FROM case_items
		WHERE case_id = $1
		ORDER BY description, id
	`, caseID)
	if err != nil {
		return nil, storageError(err, "failed to list case items")
	}
	defer rows.Close()

	items := make([]*CaseItem, 0)
	for rows.Next() {
		item := &CaseItem{}
		if err := rows.Scan(&item.ID, &item.CaseID, &item.Description, &item.Qty, &item.UOM, &item.Specs); err != nil {
			return nil, storageError(err, "failed to scan case item")
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreateChecklistItem inserts a checklist entry.
func (r *CaseChildRepository) CreateChecklistItem(ctx context.Context, item *ChecklistItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO checklist_items (id, case_id, title, status, owner_role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.CaseID, item.Title, item.Status, item.OwnerRole, item.CreatedAt)
	return storageError(err, "failed to create checklist item")
}

// GetChecklistItem returns a checklist entry by ID.
func (r *CaseChildRepository) GetChecklistItem(ctx context.Context, id string) (*ChecklistItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	item, err := scanChecklistItem(r.q.QueryRow(ctx, `
		SELECT id, case_id, title, status, owner_role, created_at
		FROM checklist_items
		WHERE id = $1
	`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, storageError(err, "failed to get checklist item")
	}
	return item, nil
}

// UpdateChecklistItemStatus sets the status of a checklist entry.
func (r *CaseChildRepository) UpdateChecklistItemStatus(ctx context.Context, id string, status ChecklistStatus) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	tag, err := r.q.Exec(ctx, `UPDATE checklist_items SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return false, storageError(err, "failed to update checklist item")
	}
	return tag.RowsAffected() > 0, nil
}

// ListChecklistItems returns the checklist of a case, oldest first.
func (r *CaseChildRepository) ListChecklistItems(ctx context.Context, caseID string) ([]*ChecklistItem, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, case_id, title, status, owner_role, created_at
		FROM checklist_items
		WHERE case_id = $1
		ORDER BY created_at ASC, id ASC
	`, caseID)
	if err != nil {
		return nil, storageError(err, "failed to list checklist items")
	}
	defer rows.Close()

	items := make([]*ChecklistItem, 0)
	for rows.Next() {
		item, err := scanChecklistItem(rows)
		if err != nil {
			return nil, storageError(err, "failed to scan checklist item")
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreateNote inserts a note.
func (r *CaseChildRepository) CreateNote(ctx context.Context, note *Note) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = note.CreatedAt
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO notes (id, case_id, author_user_id, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, note.ID, note.CaseID, note.AuthorID, note.Body, note.CreatedAt, note.UpdatedAt)
	return storageError(err, "failed to create note")
}

// ListNotes returns the notes of a case, newest first.
func (r *CaseChildRepository) ListNotes(ctx context.Context, caseID string) ([]*Note, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, case_id, author_user_id, body, created_at, updated_at
		FROM notes
		WHERE case_id = $1
		ORDER BY created_at DESC, id DESC
	`, caseID)
	if err != nil {
		return nil, storageError(err, "failed to list notes")
	}
	defer rows.Close()

	notes := make([]*Note, 0)
	for rows.Next() {
		n := &Note{}
		if err := rows.Scan(&n.ID, &n.CaseID, &n.AuthorID, &n.Body, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, storageError(err, "failed to scan note")
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// CreateFile inserts file metadata.
func (r *CaseChildRepository) CreateFile(ctx context.Context, f *FileRecord) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO files (id, case_id, type, filename, mime_type, size, storage_key, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, f.ID, f.CaseID, f.Type, f.Filename, f.MimeType, f.Size, f.StorageKey, f.UploadedBy, f.CreatedAt)
	return storageError(err, "failed to create file record")
}

// GetFile returns file metadata by ID.
func (r *CaseChildRepository) GetFile(ctx context.Context, id string) (*FileRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	f, err := scanFile(r.q.QueryRow(ctx, `
		SELECT id, case_id, type, filename, mime_type, size, storage_key, uploaded_by, created_at
		FROM files
		WHERE id = $1
	`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, storageError(err, "failed to get file")
	}
	return f, nil
}

// ListFiles returns the files of a case, newest first.
func (r *CaseChildRepository) ListFiles(ctx context.Context, caseID string) ([]*FileRecord, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, case_id, type, filename, mime_type, size, storage_key, uploaded_by, created_at
		FROM files
		WHERE case_id = $1
		ORDER BY created_at DESC, id DESC
	`, caseID)
	if err != nil {
		return nil, storageError(err, "failed to list files")
	}
	defer rows.Close()

	files := make([]*FileRecord, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, storageError(err, "failed to scan file")
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func scanChecklistItem(sc scanner) (*ChecklistItem, error) {
	item := &ChecklistItem{}
	if err := sc.Scan(&item.ID, &item.CaseID, &item.Title, &item.Status, &item.OwnerRole, &item.CreatedAt); err != nil {
		return nil, err
	}
	return item, nil
}

func scanFile(sc scanner) (*FileRecord, error) {
	f := &FileRecord{}
	err := sc.Scan(&f.ID, &f.CaseID, &f.Type, &f.Filename, &f.MimeType, &f.Size, &f.StorageKey, &f.UploadedBy, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}
