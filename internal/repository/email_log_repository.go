package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pesio-ai/be-procurement-cases/internal/common/errors"
)

// EmailLogRepository records outbound emails. Delivery is out of scope; the
// log is the system of record for what would have been sent.
type EmailLogRepository struct {
	q Querier
}

// NewEmailLogRepository creates a new email log repository.
func NewEmailLogRepository(q Querier) *EmailLogRepository {
	return &EmailLogRepository{q: q}
}

// LogOutboundEmail inserts an outbound email record.
func (r *EmailLogRepository) LogOutboundEmail(ctx context.Context, e *OutboundEmail) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	to, err := marshalStrings(e.To)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal recipients")
	}
	cc, err := marshalStrings(e.CC)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal cc")
	}
	attachments, err := marshalStrings(e.AttachmentFileIDs)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal attachments")
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO outbound_email_logs
		    (id, case_id, type, recipients, cc, subject, body, attachment_file_ids, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.CaseID, e.Type, to, cc, e.Subject, e.Body, attachments, e.CreatedBy, e.CreatedAt)
	return storageError(err, "failed to log outbound email")
}

// ListOutboundEmails returns the emails logged for a case, oldest first.
func (r *EmailLogRepository) ListOutboundEmails(ctx context.Context, caseID string) ([]*OutboundEmail, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, case_id, type, recipients, cc, subject, body, attachment_file_ids, created_by, created_at
		FROM outbound_email_logs
		WHERE case_id = $1
		ORDER BY created_at ASC, id ASC
	`, caseID)
	if err != nil {
		return nil, storageError(err, "failed to list outbound emails")
	}
	defer rows.Close()

	emails := make([]*OutboundEmail, 0)
	for rows.Next() {
		e := &OutboundEmail{}
		var to, cc, attachments []byte
		err := rows.Scan(&e.ID, &e.CaseID, &e.Type, &to, &cc, &e.Subject, &e.Body, &attachments, &e.CreatedBy, &e.CreatedAt)
		if err != nil {
			return nil, storageError(err, "failed to scan outbound email")
		}
		for _, f := range []struct {
			raw []byte
			dst *[]string
		}{{to, &e.To}, {cc, &e.CC}, {attachments, &e.AttachmentFileIDs}} {
			*f.dst = []string{}
			if len(f.raw) > 0 {
				if err := json.Unmarshal(f.raw, f.dst); err != nil {
					return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal outbound email")
				}
			}
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}
