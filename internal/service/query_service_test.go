package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pesio-ai/be-procurement-cases/internal/common/auth"
	"github.com/pesio-ai/be-procurement-cases/internal/common/errors"
	"github.com/pesio-ai/be-procurement-cases/internal/notify"
	"github.com/pesio-ai/be-procurement-cases/internal/repository"
)

func TestGetCaseDetail(t *testing.T) {
	f := newFixture(t)
	buyer := f.addUser(t, repository.RoleBuyer, 0)
	s1 := f.addSupplier(t, "acme")
	actor := Actor{UserID: buyer.ID, Role: repository.RoleBuyer}

	c, err := f.svc.CreateCase(f.ctx, actor, createRequest())
	require.NoError(t, err)
	_, err = f.svc.AssignBuyer(f.ctx, actor, c.ID, buyer.ID)
	require.NoError(t, err)
	_, err = f.svc.RequestQuotes(f.ctx, actor, c.ID, &RequestQuotesRequest{SupplierIDs: []string{s1.ID}})
	require.NoError(t, err)
	_, err = f.svc.RecordQuote(f.ctx, actor, c.ID, &RecordQuoteRequest{SupplierID: s1.ID, Amount: 99, Currency: "EUR"})
	require.NoError(t, err)
	_, err = f.svc.AddNote(f.ctx, actor, c.ID, "Looks good")
	require.NoError(t, err)

	q := NewCaseQueryService(f.store, nil)
	detail, err := q.GetCaseDetail(f.ctx, c.ID)
	require.NoError(t, err)

	assert.Equal(t, repository.StatusReadyForReview, detail.Case.Status)
	assert.Len(t, detail.Items, 1)
	require.Len(t, detail.Quotes, 1)
	require.NotNil(t, detail.Quotes[0].Supplier)
	assert.Equal(t, "acme", detail.Quotes[0].Supplier.Name)
	assert.Len(t, detail.Emails, 1)
	assert.Len(t, detail.Notes, 1)
	assert.Len(t, detail.Notifications, 1)

	types := make([]repository.EventType, len(detail.Events))
	for i, e := range detail.Events {
		types[i] = e.Type
	}
	assert.Equal(t, []repository.EventType{
		repository.EventCreated,
		repository.EventStatusChange,
		repository.EventAssignment,
		repository.EventStatusChange,
		repository.EventRFQSent,
		repository.EventQuoteReceived,
		repository.EventStatusChange,
		repository.EventNoteAdded,
	}, types)

	_, err = q.GetCaseDetail(f.ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestListCases(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.addCase(t, repository.StatusNew)
	}
	f.addCase(t, repository.StatusClosed)

	q := NewCaseQueryService(f.store, nil)

	page, err := q.ListCases(f.ctx, ListCasesRequest{Statuses: []string{"new"}, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Cases, 2)
	assert.Equal(t, 1, page.Page)

	page, err = q.ListCases(f.ctx, ListCasesRequest{Statuses: []string{"NEW"}, Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, page.Cases, 1)

	_, err = q.ListCases(f.ctx, ListCasesRequest{Statuses: []string{"DONE"}})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = q.ListCases(f.ctx, ListCasesRequest{Priority: "soon"})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	from := f.now
	to := f.now.Add(-time.Hour)
	_, err = q.ListCases(f.ctx, ListCasesRequest{CreatedFrom: &from, CreatedTo: &to})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	f.addCase(t, repository.StatusNew)
	f.addCase(t, repository.StatusWaitingQuotes)
	f.addCase(t, repository.StatusWaitingQuotes)
	f.addCase(t, repository.StatusReadyForReview)
	f.addCase(t, repository.StatusSent)
	f.addCase(t, repository.StatusClosed)

	sum, err := NewCaseQueryService(f.store, nil).Summary(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), sum.Total)
	assert.Equal(t, int64(4), sum.Open)
	assert.Equal(t, int64(1), sum.ReadyToReview)
	assert.Equal(t, int64(2), sum.QuotesPending)

	byStatus := make(map[repository.CaseStatus]int64)
	for _, sc := range sum.ByStatus {
		byStatus[sc.Status] = sc.Count
	}
	assert.Equal(t, int64(2), byStatus[repository.StatusWaitingQuotes])
	assert.Equal(t, int64(1), byStatus[repository.StatusClosed])
}

func TestSupplierService(t *testing.T) {
	f := newFixture(t)
	svc := NewSupplierService(f.store, nil)

	created, err := svc.CreateSupplier(f.ctx, &CreateSupplierRequest{
		Name: " Acme ", Email: "sales@acme.test", Categories: []string{"it", " it ", ""},
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme", created.Name)
	assert.Equal(t, []string{"it"}, created.Categories)
	assert.True(t, created.IsActive)

	_, err = svc.CreateSupplier(f.ctx, &CreateSupplierRequest{Name: "x", Email: "nope"})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	updated, err := svc.UpdateSupplier(f.ctx, created.ID, &UpdateSupplierRequest{IsActive: ptr(false)})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, []string{"it"}, updated.Categories)

	active, err := svc.ListSuppliers(f.ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = svc.UpdateSupplier(f.ctx, created.ID, &UpdateSupplierRequest{})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = svc.UpdateSupplier(f.ctx, "missing", &UpdateSupplierRequest{Name: ptr("y")})
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestNotificationService(t *testing.T) {
	f := newFixture(t)
	hub := notify.NewHub(4, nil)
	f.svc = NewWorkflowService(f.store, hub, WorkflowOptions{Now: func() time.Time { return f.now }}, nil)
	svc := NewNotificationService(f.store, hub, nil)

	buyer := f.addUser(t, repository.RoleBuyer, 0)
	c := f.addCase(t, repository.StatusNew)

	sub, err := svc.Subscribe(buyer.ID)
	require.NoError(t, err)
	defer sub.Close()

	_, err = f.svc.AssignBuyer(f.ctx, System, c.ID, buyer.ID)
	require.NoError(t, err)

	select {
	case n := <-sub.C():
		assert.Equal(t, repository.NotificationAssignment, n.Type)
	case <-time.After(time.Second):
		t.Fatal("no notification delivered")
	}

	list, err := svc.List(f.ctx, buyer.ID, true, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, svc.MarkRead(f.ctx, buyer.ID, list[0].ID))
	list, err = svc.List(f.ctx, buyer.ID, true, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	err = svc.MarkRead(f.ctx, "someone-else", "missing")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	_, err = NewNotificationService(f.store, nil, nil).Subscribe(buyer.ID)
	assert.True(t, errors.Is(err, errors.ErrCodePreconditionFailed))
}

func TestUserService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	user := &repository.User{Name: "Bea", Email: "bea@example.com", Role: repository.RoleBuyer, PasswordHash: string(hash)}
	require.NoError(t, f.store.CreateUser(ctx, user))

	svc := NewUserService(f.store, TokenConfig{Secret: []byte("k"), Issuer: "test", TTL: time.Hour}, nil)
	svc.now = func() time.Time { return f.now }

	_, err = svc.Login(ctx, &LoginRequest{Email: "bea@example.com", Password: "wrong"})
	assert.True(t, errors.Is(err, errors.ErrCodeUnauthorized))

	res, err := svc.Login(ctx, &LoginRequest{Email: "BEA@example.com", Password: "s3cret"})
	require.NoError(t, err)
	assert.True(t, res.RequiresMFA)

	uc, err := svc.ParseToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, uc.UserID)
	assert.Equal(t, "BUYER", uc.Role)

	uc, err = auth.ParseToken([]byte("k"), "test", res.Token, func() time.Time { return f.now })
	require.NoError(t, err)
	assert.Equal(t, user.ID, uc.UserID)

	clock := svc.now
	svc.now = func() time.Time { return f.now.Add(2 * time.Hour) }
	_, err = svc.ParseToken(res.Token)
	assert.True(t, errors.Is(err, errors.ErrCodeUnauthorized), "token expires on the service clock")
	svc.now = clock

	_, err = svc.Resolve(ctx, user.ID, true)
	assert.True(t, errors.Is(err, errors.ErrCodeForbidden))

	require.NoError(t, svc.RecordMFA(ctx, user.ID))
	actor, err := svc.Resolve(ctx, user.ID, true)
	require.NoError(t, err)
	assert.Equal(t, repository.RoleBuyer, actor.Role)

	svc.now = func() time.Time { return f.now.Add(4 * 24 * time.Hour) }
	_, err = svc.Resolve(ctx, user.ID, true)
	assert.True(t, errors.Is(err, errors.ErrCodeForbidden), "MFA goes stale after the validity window")

	_, err = svc.Resolve(ctx, "ghost", false)
	assert.True(t, errors.Is(err, errors.ErrCodeUnauthorized))

	assert.True(t, errors.Is(svc.RecordMFA(ctx, "ghost"), errors.ErrCodeNotFound))
}

func TestUserService_CreateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewUserService(f.store, TokenConfig{Secret: []byte("k"), TTL: time.Hour}, nil)

	u, err := svc.CreateUser(ctx, &CreateUserRequest{Name: " Ada ", Email: "ada@example.com", Role: repository.RoleAdmin, Password: "long-enough"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.Name)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("long-enough")))

	_, err = svc.CreateUser(ctx, &CreateUserRequest{Name: "Ada 2", Email: "ADA@example.com", Role: repository.RoleBuyer, Password: "long-enough"})
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))

	_, err = svc.CreateUser(ctx, &CreateUserRequest{Name: "Eve", Email: "eve@example.com", Role: "OWNER", Password: "long-enough"})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	found, err := svc.FindByEmail(ctx, "Ada@Example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)
	_, err = svc.FindByEmail(ctx, "nobody@example.com")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	n, err := svc.CountUsers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestUserService_StaffEmails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewUserService(f.store, TokenConfig{Secret: []byte("k"), Issuer: "test", TTL: time.Hour}, nil)
	svc.now = func() time.Time { return f.now }

	u, err := svc.CreateUser(ctx, &CreateUserRequest{Name: "Buyer 1", Email: "buyer1@local", Role: repository.RoleBuyer, Password: "Password123!"})
	require.NoError(t, err)
	assert.Equal(t, "buyer1@local", u.Email)

	res, err := svc.Login(ctx, &LoginRequest{Email: "buyer1@local", Password: "Password123!"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, res.User.ID)

	for _, bad := range []string{"buyer1", "@local", "buyer1@", "Buyer <buyer1@local>", "a b@local"} {
		_, err := svc.CreateUser(ctx, &CreateUserRequest{Name: "X", Email: bad, Role: repository.RoleBuyer, Password: "Password123!"})
		assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput), bad)
	}
}
