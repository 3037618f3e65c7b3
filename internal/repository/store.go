package repository

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pesio-ai/be-procurement-cases/internal/common/database"
	"github.com/pesio-ai/be-procurement-cases/internal/common/errors"
)

// CaseStore persists cases.
//
// Lookups return nil without an error when the row does not exist, and
// row-targeted mutations report whether a row was touched. Mapping absence to
// a not-found failure is the caller's decision.
type CaseStore interface {
	CreateCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, id string) (*Case, error)
	// GetCaseForUpdate reads a case and holds a row lock on it until the
	// surrounding transaction ends.
	GetCaseForUpdate(ctx context.Context, id string) (*Case, error)
	UpdateCase(ctx context.Context, id string, patch CasePatch, updatedAt time.Time) (*Case, error)
	ListCases(ctx context.Context, filter CaseFilter) ([]*Case, int64, error)
	CountCases(ctx context.Context, filter CaseCountFilter) (int64, error)
	CountCasesByStatus(ctx context.Context) ([]StatusCount, error)
	// NextPRNumber allocates the next PR number for year. Callers inside a
	// transaction are serialized per year until commit.
	NextPRNumber(ctx context.Context, year int) (string, error)
	// OpenCaseCountsByBuyer counts non-closed cases per buyer. Buyers with no
	// open case are absent from the result.
	OpenCaseCountsByBuyer(ctx context.Context, buyerIDs []string) (map[string]int, error)
}

// CaseChildStore persists the records hanging off a case.
type CaseChildStore interface {
	CreateCaseItems(ctx context.Context, items []*CaseItem) error
	ListCaseItems(ctx context.Context, caseID string) ([]*CaseItem, error)
	CreateChecklistItem(ctx context.Context, item *ChecklistItem) error
	GetChecklistItem(ctx context.Context, id string) (*ChecklistItem, error)
	UpdateChecklistItemStatus(ctx context.Context, id string, status ChecklistStatus) (bool, error)
	ListChecklistItems(ctx context.Context, caseID string) ([]*ChecklistItem, error)
	CreateNote(ctx context.Context, note *Note) error
	ListNotes(ctx context.Context, caseID string) ([]*Note, error)
	CreateFile(ctx context.Context, file *FileRecord) error
	GetFile(ctx context.Context, id string) (*FileRecord, error)
	ListFiles(ctx context.Context, caseID string) ([]*FileRecord, error)
}

// QuoteStore persists supplier quotes.
type QuoteStore interface {
	CreateQuote(ctx context.Context, q *Quote) error
	ListQuotes(ctx context.Context, caseID string) ([]*Quote, error)
	CountQuotes(ctx context.Context, caseID string) (int, error)
}

// SupplierStore persists suppliers.
type SupplierStore interface {
	CreateSupplier(ctx context.Context, s *Supplier) error
	GetSupplier(ctx context.Context, id string) (*Supplier, error)
	// GetSuppliersByIDs returns the suppliers that exist among ids.
	GetSuppliersByIDs(ctx context.Context, ids []string) ([]*Supplier, error)
	ListSuppliers(ctx context.Context, activeOnly bool) ([]*Supplier, error)
	UpdateSupplier(ctx context.Context, id string, patch SupplierPatch) (*Supplier, error)
}

// UserStore persists staff users.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// ListUsersByRole returns users ordered by (created_at, id).
	ListUsersByRole(ctx context.Context, role UserRole) ([]*User, error)
	CountUsers(ctx context.Context) (int64, error)
	UpdateUserMFA(ctx context.Context, id string, at time.Time) (bool, error)
}

// EventStore persists the append-only case history.
type EventStore interface {
	AppendEvent(ctx context.Context, e *CaseEvent) error
	// ListEvents returns the history of a case in append order.
	ListEvents(ctx context.Context, caseID string) ([]*CaseEvent, error)
}

// NotificationStore persists user notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotificationsByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*Notification, error)
	ListNotificationsByCase(ctx context.Context, caseID string) ([]*Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string) (bool, error)
}

// EmailLogStore persists outbound email records.
type EmailLogStore interface {
	LogOutboundEmail(ctx context.Context, e *OutboundEmail) error
	ListOutboundEmails(ctx context.Context, caseID string) ([]*OutboundEmail, error)
}

// Tx is the full set of storage operations available inside a unit of work.
type Tx interface {
	CaseStore
	CaseChildStore
	QuoteStore
	SupplierStore
	UserStore
	EventStore
	NotificationStore
	EmailLogStore
}

// Store is a Tx that can also open transactions. Calls made directly on a
// Store run outside any transaction.
type Store interface {
	Tx
	InTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// Querier is satisfied by both the pool and a pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Queries bundles the PostgreSQL repositories over one Querier.
type Queries struct {
	*CaseRepository
	*CaseChildRepository
	*QuoteRepository
	*SupplierRepository
	*UserRepository
	*CaseEventRepository
	*NotificationRepository
	*EmailLogRepository
}

// NewQueries binds every repository to q.
func NewQueries(q Querier) *Queries {
	return &Queries{
		CaseRepository:         NewCaseRepository(q),
		CaseChildRepository:    NewCaseChildRepository(q),
		QuoteRepository:        NewQuoteRepository(q),
		SupplierRepository:     NewSupplierRepository(q),
		UserRepository:         NewUserRepository(q),
		CaseEventRepository:    NewCaseEventRepository(q),
		NotificationRepository: NewNotificationRepository(q),
		EmailLogRepository:     NewEmailLogRepository(q),
	}
}

// PGStore is the PostgreSQL Store.
type PGStore struct {
	*Queries
	db *database.DB
}

// NewPGStore creates a Store backed by db.
func NewPGStore(db *database.DB) *PGStore {
	return &PGStore{Queries: NewQueries(db), db: db}
}

// InTransaction runs fn with repositories bound to a single transaction.
// Begin and commit failures are mapped like any other storage error.
func (s *PGStore) InTransaction(ctx context.Context, fn func(tx Tx) error) error {
	var fnFailed bool
	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := fn(NewQueries(tx)); err != nil {
			fnFailed = true
			return err
		}
		return nil
	})
	if err == nil || fnFailed {
		return err
	}
	return storageError(err, "transaction failed")
}

// Ping checks database connectivity.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// storageError maps driver errors to coded errors. Unique violations and
// serialization failures become Conflict so callers can retry.
func storageError(err error, message string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return errors.Wrap(err, errors.ErrCodeConflict, message)
		case "23503", "23514":
			return errors.Wrap(err, errors.ErrCodeInvalidInput, message)
		}
	}
	return errors.Wrap(err, errors.ErrCodeInternal, message)
}

type scanner interface {
	Scan(dest ...any) error
}
