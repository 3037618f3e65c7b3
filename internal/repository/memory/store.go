// Package memory is an in-process repository.Store. Transactions run one at a
// time against a copy of the data that replaces the live copy on commit, so a
// failed unit of work leaves no trace.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pesio-ai/be-procurement-cases/internal/common/errors"
	"github.com/pesio-ai/be-procurement-cases/internal/repository"
)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for defaulted timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a repository.Store held in memory.
type Store struct {
	// mu is held for the whole of a transaction and for every direct call.
	mu  sync.Mutex
	now func() time.Time
	d   *data
	*view
}

var _ repository.Store = (*Store)(nil)

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{now: func() time.Time { return time.Now().UTC() }, d: newData()}
	for _, opt := range opts {
		opt(s)
	}
	s.view = &view{d: s.d, now: s.now, locker: &s.mu}
	return s
}

// InTransaction runs fn against a private copy of the data. The copy becomes
// the live data only if fn returns nil.
func (s *Store) InTransaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.d.clone()
	if err := fn(&view{d: working, now: s.now, locker: noLock{}}); err != nil {
		return err
	}
	*s.d = *working
	return nil
}

type noLock struct{}

func (noLock) Lock()   {}
func (noLock) Unlock() {}

type data struct {
	cases         map[string]*repository.Case
	items         []*repository.CaseItem
	checklist     []*repository.ChecklistItem
	notes         []*repository.Note
	files         []*repository.FileRecord
	quotes        []*repository.Quote
	suppliers     map[string]*repository.Supplier
	users         map[string]*repository.User
	events        []*repository.CaseEvent
	notifications []*repository.Notification
	emails        []*repository.OutboundEmail
	eventSeq      int64
}

func newData() *data {
	return &data{
		cases:     map[string]*repository.Case{},
		suppliers: map[string]*repository.Supplier{},
		users:     map[string]*repository.User{},
	}
}

// clone copies every record. Records are replaced rather than mutated in
// place, so copying the pointers held by a record is enough.
func (d *data) clone() *data {
	c := newData()
	for k, v := range d.cases {
		cp := *v
		c.cases[k] = &cp
	}
	for k, v := range d.suppliers {
		cp := *v
		cp.Categories = append([]string(nil), v.Categories...)
		c.suppliers[k] = &cp
	}
	for k, v := range d.users {
		cp := *v
		c.users[k] = &cp
	}
	c.items = cloneAll(d.items)
	c.checklist = cloneAll(d.checklist)
	c.notes = cloneAll(d.notes)
	c.files = cloneAll(d.files)
	c.quotes = cloneAll(d.quotes)
	c.events = cloneAll(d.events)
	c.notifications = cloneAll(d.notifications)
	c.emails = cloneAll(d.emails)
	c.eventSeq = d.eventSeq
	return c
}

func cloneAll[T any](in []*T) []*T {
	out := make([]*T, len(in))
	for i, v := range in {
		cp := *v
		out[i] = &cp
	}
	return out
}

func copyOf[T any](v *T) *T {
	cp := *v
	return &cp
}

// view implements repository.Tx over one data set.
type view struct {
	d      *data
	now    func() time.Time
	locker sync.Locker
}

func (v *view) lock() func() {
	v.locker.Lock()
	return v.locker.Unlock
}

func (v *view) stamp(t *time.Time) {
	if t.IsZero() {
		*t = v.now()
	}
}

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// ── cases ────────────────────────────────────────────────────────────────────

func (v *view) CreateCase(_ context.Context, c *repository.Case) error {
	defer v.lock()()
	newID(&c.ID)
	v.stamp(&c.CreatedAt)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	if _, ok := v.d.cases[c.ID]; ok {
		return errors.New(errors.ErrCodeConflict, "case already exists: "+c.ID)
	}
	for _, existing := range v.d.cases {
		if existing.PRNumber == c.PRNumber {
			return errors.New(errors.ErrCodeConflict, "duplicate PR number: "+c.PRNumber)
		}
	}
	v.d.cases[c.ID] = copyOf(c)
	return nil
}

func (v *view) GetCase(_ context.Context, id string) (*repository.Case, error) {
	defer v.lock()()
	c, ok := v.d.cases[id]
	if !ok {
		return nil, nil
	}
	return copyOf(c), nil
}

func (v *view) GetCaseForUpdate(ctx context.Context, id string) (*repository.Case, error) {
	return v.GetCase(ctx, id)
}

func (v *view) UpdateCase(_ context.Context, id string, patch repository.CasePatch, updatedAt time.Time) (*repository.Case, error) {
	defer v.lock()()
	c, ok := v.d.cases[id]
	if !ok {
		return nil, nil
	}
	updated := copyOf(c)
	patch.Apply(updated)
	updated.UpdatedAt = updatedAt
	v.d.cases[id] = updated
	return copyOf(updated), nil
}

func (v *view) ListCases(_ context.Context, f repository.CaseFilter) ([]*repository.Case, int64, error) {
	defer v.lock()()
	matched := make([]*repository.Case, 0)
	for _, c := range v.d.cases {
		if matchCase(c, f) {
			matched = append(matched, copyOf(c))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	if f.Limit > 0 {
		start := min(f.Offset, len(matched))
		end := min(start+f.Limit, len(matched))
		matched = matched[start:end]
	}
	return matched, total, nil
}

func matchCase(c *repository.Case, f repository.CaseFilter) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, c.Status) {
		return false
	}
	if f.Priority != nil && c.Priority != *f.Priority {
		return false
	}
	if f.RequesterEmail != "" && !containsFold(c.RequesterEmail, f.RequesterEmail) {
		return false
	}
	if f.AssignedBuyerID != "" && (c.AssignedBuyerID == nil || *c.AssignedBuyerID != f.AssignedBuyerID) {
		return false
	}
	if f.CreatedFrom != nil && c.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && c.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	if f.Search != "" && !containsFold(c.PRNumber, f.Search) &&
		!containsFold(c.Subject, f.Search) && !containsFold(c.RequesterName, f.Search) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func containsStatus(list []repository.CaseStatus, s repository.CaseStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (v *view) CountCases(_ context.Context, f repository.CaseCountFilter) (int64, error) {
	defer v.lock()()
	var n int64
	for _, c := range v.d.cases {
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		if containsStatus(f.StatusNotIn, c.Status) {
			continue
		}
		n++
	}
	return n, nil
}

func (v *view) CountCasesByStatus(_ context.Context) ([]repository.StatusCount, error) {
	defer v.lock()()
	byStatus := map[repository.CaseStatus]int64{}
	for _, c := range v.d.cases {
		byStatus[c.Status]++
	}
	counts := make([]repository.StatusCount, 0, len(byStatus))
	for s, n := range byStatus {
		counts = append(counts, repository.StatusCount{Status: s, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Status < counts[j].Status })
	return counts, nil
}

func (v *view) NextPRNumber(_ context.Context, year int) (string, error) {
	defer v.lock()()
	maxSeq := 0
	for _, c := range v.d.cases {
		if seq, ok := repository.ParsePRSequence(c.PRNumber, year); ok && seq > maxSeq {
			maxSeq = seq
		}
	}
	return repository.FormatPRNumber(year, repository.NextPRSequence(maxSeq)), nil
}

func (v *view) OpenCaseCountsByBuyer(_ context.Context, buyerIDs []string) (map[string]int, error) {
	defer v.lock()()
	wanted := make(map[string]bool, len(buyerIDs))
	for _, id := range buyerIDs {
		wanted[id] = true
	}
	counts := make(map[string]int, len(buyerIDs))
	for _, c := range v.d.cases {
		if c.AssignedBuyerID == nil || !wanted[*c.AssignedBuyerID] || c.Status.IsClosed() {
			continue
		}
		counts[*c.AssignedBuyerID]++
	}
	return counts, nil
}

// ── case children ────────────────────────────────────────────────────────────

func (v *view) CreateCaseItems(_ context.Context, items []*repository.CaseItem) error {
	defer v.lock()()
	for _, item := range items {
		if _, ok := v.d.cases[item.CaseID]; !ok {
			return errors.InvalidInput("caseId", "case does not exist")
		}
	}
	for _, item := range items {
		newID(&item.ID)
		v.d.items = append(v.d.items, copyOf(item))
	}
	return nil
}

func (v *view) ListCaseItems(_ context.Context, caseID string) ([]*repository.CaseItem, error) {
	defer v.lock()()
	return filterCopies(v.d.items, func(i *repository.CaseItem) bool { return i.CaseID == caseID }), nil
}

func (v *view) CreateChecklistItem(_ context.Context, item *repository.ChecklistItem) error {
	defer v.lock()()
	if _, ok := v.d.cases[item.CaseID]; !ok {
		return errors.InvalidInput("caseId", "case does not exist")
	}
	newID(&item.ID)
	v.stamp(&item.CreatedAt)
	v.d.checklist = append(v.d.checklist, copyOf(item))
	return nil
}

func (v *view) GetChecklistItem(_ context.Context, id string) (*repository.ChecklistItem, error) {
	defer v.lock()()
	for _, item := range v.d.checklist {
		if item.ID == id {
			return copyOf(item), nil
		}
	}
	return nil, nil
}

func (v *view) UpdateChecklistItemStatus(_ context.Context, id string, status repository.ChecklistStatus) (bool, error) {
	defer v.lock()()
	for i, item := range v.d.checklist {
		if item.ID == id {
			updated := copyOf(item)
			updated.Status = status
			v.d.checklist[i] = updated
			return true, nil
		}
	}
	return false, nil
}

func (v *view) ListChecklistItems(_ context.Context, caseID string) ([]*repository.ChecklistItem, error) {
	defer v.lock()()
	return filterCopies(v.d.checklist, func(i *repository.ChecklistItem) bool { return i.CaseID == caseID }), nil
}

func (v *view) CreateNote(_ context.Context, note *repository.Note) error {
	defer v.lock()()
	if _, ok := v.d.cases[note.CaseID]; !ok {
		return errors.InvalidInput("caseId", "case does not exist")
	}
	newID(&note.ID)
	v.stamp(&note.CreatedAt)
	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = note.CreatedAt
	}
	v.d.notes = append(v.d.notes, copyOf(note))
	return nil
}

func (v *view) ListNotes(_ context.Context, caseID string) ([]*repository.Note, error) {
	defer v.lock()()
	notes := filterCopies(v.d.notes, func(n *repository.Note) bool { return n.CaseID == caseID })
	reverse(notes)
	return notes, nil
}

func (v *view) CreateFile(_ context.Context, f *repository.FileRecord) error {
	defer v.lock()()
	if _, ok := v.d.cases[f.CaseID]; !ok {
		return errors.InvalidInput("caseId", "case does not exist")
	}
	newID(&f.ID)
	v.stamp(&f.CreatedAt)
	v.d.files = append(v.d.files, copyOf(f))
	return nil
}

func (v *view) GetFile(_ context.Context, id string) (*repository.FileRecord, error) {
	defer v.lock()()
	for _, f := range v.d.files {
		if f.ID == id {
			return copyOf(f), nil
		}
	}
	return nil, nil
}

func (v *view) ListFiles(_ context.Context, caseID string) ([]*repository.FileRecord, error) {
	defer v.lock()()
	files := filterCopies(v.d.files, func(f *repository.FileRecord) bool { return f.CaseID == caseID })
	reverse(files)
	return files, nil
}

// ── quotes ───────────────────────────────────────────────────────────────────

func (v *view) CreateQuote(_ context.Context, q *repository.Quote) error {
	defer v.lock()()
	if _, ok := v.d.cases[q.CaseID]; !ok {
		return errors.InvalidInput("caseId", "case does not exist")
	}
	newID(&q.ID)
	v.stamp(&q.ReceivedAt)
	v.d.quotes = append(v.d.quotes, copyOf(q))
	return nil
}

func (v *view) ListQuotes(_ context.Context, caseID string) ([]*repository.Quote, error) {
	defer v.lock()()
	return filterCopies(v.d.quotes, func(q *repository.Quote) bool { return q.CaseID == caseID }), nil
}

func (v *view) CountQuotes(_ context.Context, caseID string) (int, error) {
	defer v.lock()()
	n := 0
	for _, q := range v.d.quotes {
		if q.CaseID == caseID {
			n++
		}
	}
	return n, nil
}

// ── suppliers ────────────────────────────────────────────────────────────────

func (v *view) CreateSupplier(_ context.Context, s *repository.Supplier) error {
	defer v.lock()()
	newID(&s.ID)
	v.stamp(&s.CreatedAt)
	if s.Categories == nil {
		s.Categories = []string{}
	}
	v.d.suppliers[s.ID] = copyOf(s)
	return nil
}

func (v *view) GetSupplier(_ context.Context, id string) (*repository.Supplier, error) {
	defer v.lock()()
	s, ok := v.d.suppliers[id]
	if !ok {
		return nil, nil
	}
	return copyOf(s), nil
}

func (v *view) GetSuppliersByIDs(_ context.Context, ids []string) ([]*repository.Supplier, error) {
	defer v.lock()()
	seen := map[string]bool{}
	out := make([]*repository.Supplier, 0, len(ids))
	for _, id := range ids {
		if s, ok := v.d.suppliers[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, copyOf(s))
		}
	}
	sortSuppliers(out)
	return out, nil
}

func (v *view) ListSuppliers(_ context.Context, activeOnly bool) ([]*repository.Supplier, error) {
	defer v.lock()()
	out := make([]*repository.Supplier, 0, len(v.d.suppliers))
	for _, s := range v.d.suppliers {
		if activeOnly && !s.IsActive {
			continue
		}
		out = append(out, copyOf(s))
	}
	sortSuppliers(out)
	return out, nil
}

func sortSuppliers(list []*repository.Supplier) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
}

func (v *view) UpdateSupplier(_ context.Context, id string, patch repository.SupplierPatch) (*repository.Supplier, error) {
	defer v.lock()()
	s, ok := v.d.suppliers[id]
	if !ok {
		return nil, nil
	}
	updated := copyOf(s)
	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	if patch.Email != nil {
		updated.Email = *patch.Email
	}
	if patch.Categories != nil {
		updated.Categories = append([]string{}, patch.Categories...)
	}
	if patch.IsActive != nil {
		updated.IsActive = *patch.IsActive
	}
	v.d.suppliers[id] = updated
	return copyOf(updated), nil
}

// ── users ────────────────────────────────────────────────────────────────────

func (v *view) CreateUser(_ context.Context, u *repository.User) error {
	defer v.lock()()
	newID(&u.ID)
	for _, existing := range v.d.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return errors.New(errors.ErrCodeConflict, "duplicate user email: "+u.Email)
		}
	}
	v.stamp(&u.CreatedAt)
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	v.d.users[u.ID] = copyOf(u)
	return nil
}

func (v *view) GetUser(_ context.Context, id string) (*repository.User, error) {
	defer v.lock()()
	u, ok := v.d.users[id]
	if !ok {
		return nil, nil
	}
	return copyOf(u), nil
}

func (v *view) GetUserByEmail(_ context.Context, email string) (*repository.User, error) {
	defer v.lock()()
	for _, u := range v.d.users {
		if strings.EqualFold(u.Email, email) {
			return copyOf(u), nil
		}
	}
	return nil, nil
}

func (v *view) ListUsersByRole(_ context.Context, role repository.UserRole) ([]*repository.User, error) {
	defer v.lock()()
	out := make([]*repository.User, 0)
	for _, u := range v.d.users {
		if u.Role == role {
			out = append(out, copyOf(u))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) CountUsers(_ context.Context) (int64, error) {
	defer v.lock()()
	return int64(len(v.d.users)), nil
}

func (v *view) UpdateUserMFA(_ context.Context, id string, at time.Time) (bool, error) {
	defer v.lock()()
	u, ok := v.d.users[id]
	if !ok {
		return false, nil
	}
	updated := copyOf(u)
	updated.LastMFAAt = &at
	updated.UpdatedAt = at
	v.d.users[id] = updated
	return true, nil
}

// ── events ───────────────────────────────────────────────────────────────────

func (v *view) AppendEvent(_ context.Context, e *repository.CaseEvent) error {
	defer v.lock()()
	newID(&e.ID)
	v.stamp(&e.CreatedAt)
	if e.Detail == nil {
		e.Detail = map[string]interface{}{}
	}
	v.d.eventSeq++
	e.Seq = v.d.eventSeq
	v.d.events = append(v.d.events, copyOf(e))
	return nil
}

func (v *view) ListEvents(_ context.Context, caseID string) ([]*repository.CaseEvent, error) {
	defer v.lock()()
	return filterCopies(v.d.events, func(e *repository.CaseEvent) bool { return e.CaseID == caseID }), nil
}

// ── notifications ────────────────────────────────────────────────────────────

func (v *view) CreateNotification(_ context.Context, n *repository.Notification) error {
	defer v.lock()()
	newID(&n.ID)
	v.stamp(&n.CreatedAt)
	v.d.notifications = append(v.d.notifications, copyOf(n))
	return nil
}

func (v *view) ListNotificationsByUser(_ context.Context, userID string, unreadOnly bool, limit int) ([]*repository.Notification, error) {
	defer v.lock()()
	out := filterCopies(v.d.notifications, func(n *repository.Notification) bool {
		return n.UserID == userID && (!unreadOnly || !n.IsRead)
	})
	reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v *view) ListNotificationsByCase(_ context.Context, caseID string) ([]*repository.Notification, error) {
	defer v.lock()()
	return filterCopies(v.d.notifications, func(n *repository.Notification) bool {
		return n.CaseID != nil && *n.CaseID == caseID
	}), nil
}

func (v *view) MarkNotificationRead(_ context.Context, id, userID string) (bool, error) {
	defer v.lock()()
	for i, n := range v.d.notifications {
		if n.ID == id && n.UserID == userID {
			updated := copyOf(n)
			updated.IsRead = true
			v.d.notifications[i] = updated
			return true, nil
		}
	}
	return false, nil
}

// ── email log ────────────────────────────────────────────────────────────────

func (v *view) LogOutboundEmail(_ context.Context, e *repository.OutboundEmail) error {
	defer v.lock()()
	newID(&e.ID)
	v.stamp(&e.CreatedAt)
	cp := copyOf(e)
	cp.To = append([]string{}, e.To...)
	cp.CC = append([]string{}, e.CC...)
	cp.AttachmentFileIDs = append([]string{}, e.AttachmentFileIDs...)
	v.d.emails = append(v.d.emails, cp)
	return nil
}

func (v *view) ListOutboundEmails(_ context.Context, caseID string) ([]*repository.OutboundEmail, error) {
	defer v.lock()()
	return filterCopies(v.d.emails, func(e *repository.OutboundEmail) bool {
		return e.CaseID != nil && *e.CaseID == caseID
	}), nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func filterCopies[T any](in []*T, keep func(*T) bool) []*T {
	out := make([]*T, 0)
	for _, v := range in {
		if keep(v) {
			out = append(out, copyOf(v))
		}
	}
	return out
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
