package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-procurement-cases/internal/common/errors"
	"github.com/pesio-ai/be-procurement-cases/internal/common/logger"
	"github.com/pesio-ai/be-procurement-cases/internal/repository"
	"github.com/pesio-ai/be-procurement-cases/internal/repository/memory"
)

type recorder struct {
	mu  sync.Mutex
	got []*repository.Notification
}

func (r *recorder) Publish(_ context.Context, n *repository.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recorder) published() []*repository.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*repository.Notification(nil), r.got...)
}

type fixture struct {
	ctx   context.Context
	store *memory.Store
	pub   *recorder
	svc   *WorkflowService
	now   time.Time
	seq   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := memory.New(memory.WithClock(clock))
	pub := &recorder{}
	return &fixture{
		ctx:   context.Background(),
		store: store,
		pub:   pub,
		svc:   NewWorkflowService(store, pub, WorkflowOptions{Now: clock}, logger.Nop()),
		now:   now,
		seq:   repository.FirstPRSequence,
	}
}

func (f *fixture) addUser(t *testing.T, role repository.UserRole, offset time.Duration) *repository.User {
	t.Helper()
	u := &repository.User{
		Name:      string(role),
		Email:     fmt.Sprintf("%s-%d@example.com", role, offset),
		Role:      role,
		CreatedAt: f.now.Add(offset),
	}
	require.NoError(t, f.store.CreateUser(f.ctx, u))
	return u
}

func (f *fixture) admin(t *testing.T) Actor {
	t.Helper()
	u := f.addUser(t, repository.RoleAdmin, -time.Hour)
	return Actor{UserID: u.ID, Role: repository.RoleAdmin}
}

func (f *fixture) addCase(t *testing.T, status repository.CaseStatus) *repository.Case {
	t.Helper()
	c := &repository.Case{
		PRNumber:         repository.FormatPRNumber(2026, f.seq),
		Subject:          "Laptops",
		RequesterName:    "Ana",
		RequesterEmail:   "ana@example.com",
		Department:       "IT",
		Priority:         repository.PriorityMedium,
		NeededBy:         f.now.AddDate(0, 1, 0),
		CostCenter:       "CC-1",
		DeliveryLocation: "HQ",
		Status:           status,
	}
	f.seq++
	require.NoError(t, f.store.CreateCase(f.ctx, c))
	return c
}

func (f *fixture) addSupplier(t *testing.T, name string) *repository.Supplier {
	t.Helper()
	s := &repository.Supplier{Name: name, Email: name + "@supplier.test", Categories: []string{}, IsActive: true}
	require.NoError(t, f.store.CreateSupplier(f.ctx, s))
	return s
}

func (f *fixture) addQuote(t *testing.T, caseID string) {
	t.Helper()
	sup := f.addSupplier(t, fmt.Sprintf("direct-%d", f.seq))
	require.NoError(t, f.store.CreateQuote(f.ctx, &repository.Quote{
		CaseID: caseID, SupplierID: sup.ID, Amount: 10, Currency: "EUR", ReceivedAt: f.now,
	}))
}

func (f *fixture) getCase(t *testing.T, id string) *repository.Case {
	t.Helper()
	c, err := f.store.GetCase(f.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func (f *fixture) events(t *testing.T, caseID string, typ repository.EventType) []*repository.CaseEvent {
	t.Helper()
	all, err := f.store.ListEvents(f.ctx, caseID)
	require.NoError(t, err)
	var out []*repository.CaseEvent
	for _, e := range all {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (f *fixture) allEvents(t *testing.T, caseID string) []*repository.CaseEvent {
	t.Helper()
	all, err := f.store.ListEvents(f.ctx, caseID)
	require.NoError(t, err)
	return all
}

func createRequest() *CreateCaseRequest {
	return &CreateCaseRequest{
		Subject:          "Office chairs",
		RequesterName:    "Ana",
		RequesterEmail:   "ana@example.com",
		Department:       "Facilities",
		Priority:         repository.PriorityMedium,
		NeededBy:         time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		CostCenter:       "CC-7",
		DeliveryLocation: "HQ",
		Items: []CaseItemInput{
			{Description: "Chair", Qty: 12, UOM: "pcs"},
		},
	}
}

func ptr[T any](v T) *T { return &v }

// ── CreateCase ───────────────────────────────────────────────────────────────

func TestCreateCase_NumbersStrictlyIncreaseAboveExistingMax(t *testing.T) {
	f := newFixture(t)
	f.seq = 1041
	f.addCase(t, repository.StatusClosed)

	var numbers []string
	for i := 0; i < 3; i++ {
		c, err := f.svc.CreateCase(f.ctx, System, createRequest())
		require.NoError(t, err)
		assert.Equal(t, repository.StatusNew, c.Status)
		numbers = append(numbers, c.PRNumber)

		created := f.events(t, c.ID, repository.EventCreated)
		require.Len(t, created, 1)
		assert.Equal(t, c.PRNumber, created[0].Detail["prNumber"])
	}
	assert.Equal(t, []string{"PR-2026-1042", "PR-2026-1043", "PR-2026-1044"}, numbers)
}

func TestCreateCase_StoresItems(t *testing.T) {
	f := newFixture(t)
	req := createRequest()
	req.Items = append(req.Items, CaseItemInput{Description: "Desk", Qty: 3, UOM: "pcs", Specs: "oak"})

	c, err := f.svc.CreateCase(f.ctx, System, req)
	require.NoError(t, err)

	items, err := f.store.ListCaseItems(f.ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Chair", items[0].Description)
	assert.Equal(t, "oak", items[1].Specs)
}

func TestCreateCase_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateCaseRequest)
		field  string
	}{
		{"missing subject", func(r *CreateCaseRequest) { r.Subject = "" }, "subject"},
		{"bad email", func(r *CreateCaseRequest) { r.RequesterEmail = "nope" }, "requesterEmail"},
		{"unknown priority", func(r *CreateCaseRequest) { r.Priority = "SOON" }, "priority"},
		{"negative budget", func(r *CreateCaseRequest) { r.BudgetEstimate = -1 }, "budgetEstimate"},
		{"zero quantity", func(r *CreateCaseRequest) { r.Items[0].Qty = 0 }, "items[0].qty"},
		{"unknown source", func(r *CreateCaseRequest) { r.Source = "email" }, "source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := createRequest()
			tt.mutate(req)

			_, err := f.svc.CreateCase(f.ctx, System, req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

			var appErr *errors.Error
			require.True(t, stderrors.As(err, &appErr))
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}

func TestCreateCase_IntakeNotifiesBuyersAndAdmins(t *testing.T) {
	f := newFixture(t)
	b1 := f.addUser(t, repository.RoleBuyer, 0)
	b2 := f.addUser(t, repository.RoleBuyer, time.Minute)
	a1 := f.addUser(t, repository.RoleAdmin, 0)

	req := createRequest()
	req.Source = SourceIntake
	c, err := f.svc.CreateCase(f.ctx, System, req)
	require.NoError(t, err)

	got := f.pub.published()
	require.Len(t, got, 3)
	assert.Equal(t, []string{b1.ID, b2.ID, a1.ID}, []string{got[0].UserID, got[1].UserID, got[2].UserID})
	for _, n := range got {
		assert.Equal(t, repository.NotificationNewPR, n.Type)
		assert.Equal(t, "New PR submitted", n.Title)
		assert.Equal(t, c.PRNumber+" submitted for intake review", n.Body)
		require.NotNil(t, n.CaseID)
		assert.Equal(t, c.ID, *n.CaseID)
	}

	stored, err := f.store.ListNotificationsByCase(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestCreateCase_DirectDoesNotNotify(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, repository.RoleBuyer, 0)

	_, err := f.svc.CreateCase(f.ctx, System, createRequest())
	require.NoError(t, err)
	assert.Empty(t, f.pub.published())
}

// ── AssignBuyer ──────────────────────────────────────────────────────────────

func TestAssignBuyer_StatusAfterAssignment(t *testing.T) {
	tests := []struct {
		from repository.CaseStatus
		want repository.CaseStatus
	}{
		{repository.StatusNew, repository.StatusAssigned},
		{repository.StatusMissingInfo, repository.StatusAssigned},
		{repository.StatusAssigned, repository.StatusAssigned},
		{repository.StatusWaitingQuotes, repository.StatusWaitingQuotes},
		{repository.StatusReadyForReview, repository.StatusReadyForReview},
		{repository.StatusReadyToSend, repository.StatusReadyToSend},
		{repository.StatusSent, repository.StatusSent},
		{repository.StatusClosed, repository.StatusClosed},
	}

	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			f := newFixture(t)
			buyer := f.addUser(t, repository.RoleBuyer, 0)
			c := f.addCase(t, tt.from)

			got, err := f.svc.AssignBuyer(f.ctx, System, c.ID, buyer.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			require.NotNil(t, got.AssignedBuyerID)
			assert.Equal(t, buyer.ID, *got.AssignedBuyerID)

			changes := f.events(t, c.ID, repository.EventStatusChange)
			if tt.from == tt.want {
				assert.Empty(t, changes)
			} else {
				require.Len(t, changes, 1)
				assert.Equal(t, string(tt.from), changes[0].Detail["from"])
				assert.Equal(t, string(tt.want), changes[0].Detail["to"])
			}

			assignments := f.events(t, c.ID, repository.EventAssignment)
			require.Len(t, assignments, 1)
			assert.Equal(t, buyer.ID, assignments[0].Detail["buyerId"])
			assert.Nil(t, assignments[0].Detail["previousBuyerId"])
			assert.Equal(t, false, assignments[0].Detail["auto"])
		})
	}
}

func TestAssignBuyer_EventsInOrderAndBuyerNotified(t *testing.T) {
	f := newFixture(t)
	buyer := f.addUser(t, repository.RoleBuyer, 0)
	c := f.addCase(t, repository.StatusNew)

	_, err := f.svc.AssignBuyer(f.ctx, System, c.ID, buyer.ID)
	require.NoError(t, err)

	all := f.allEvents(t, c.ID)
	require.Len(t, all, 2)
	assert.Equal(t, repository.EventStatusChange, all[0].Type)
	assert.Equal(t, repository.EventAssignment, all[1].Type)

	got := f.pub.published()
	require.Len(t, got, 1)
	assert.Equal(t, buyer.ID, got[0].UserID)
	assert.Equal(t, repository.NotificationAssignment, got[0].Type)
	assert.Equal(t, "New PR assigned", got[0].Title)
	assert.Equal(t, c.PRNumber+" assigned to you", got[0].Body)
}

func TestAssignBuyer_AutoPicksLeastLoadedInCreationOrder(t *testing.T) {
	f := newFixture(t)
	a := f.addUser(t, repository.RoleBuyer, 0)
	b := f.addUser(t, repository.RoleBuyer, time.Minute)
	cBuyer := f.addUser(t, repository.RoleBuyer, 2*time.Minute)

	load := func(buyerID string, n int) {
		for i := 0; i < n; i++ {
			c := f.addCase(t, repository.StatusAssigned)
			_, err := f.store.UpdateCase(f.ctx, c.ID, repository.CasePatch{AssignedBuyerID: &buyerID}, f.now)
			require.NoError(t, err)
		}
	}
	load(a.ID, 4)
	load(b.ID, 2)
	load(cBuyer.ID, 2)

	// Closed work does not count.
	closed := f.addCase(t, repository.StatusClosed)
	_, err := f.store.UpdateCase(f.ctx, closed.ID, repository.CasePatch{AssignedBuyerID: &cBuyer.ID}, f.now)
	require.NoError(t, err)

	target := f.addCase(t, repository.StatusNew)
	got, err := f.svc.AssignBuyer(f.ctx, System, target.ID, "")
	require.NoError(t, err)
	assert.Equal(t, b.ID, *got.AssignedBuyerID)

	assignments := f.events(t, target.ID, repository.EventAssignment)
	require.Len(t, assignments, 1)
	assert.Equal(t, true, assignments[0].Detail["auto"])
}

func TestAssignBuyer_RecordsPreviousBuyer(t *testing.T) {
	f := newFixture(t)
	first := f.addUser(t, repository.RoleBuyer, 0)
	second := f.addUser(t, repository.RoleBuyer, time.Minute)
	c := f.addCase(t, repository.StatusNew)

	_, err := f.svc.AssignBuyer(f.ctx, System, c.ID, first.ID)
	require.NoError(t, err)
	_, err = f.svc.AssignBuyer(f.ctx, System, c.ID, second.ID)
	require.NoError(t, err)

	assignments := f.events(t, c.ID, repository.EventAssignment)
	require.Len(t, assignments, 2)
	assert.Equal(t, first.ID, assignments[1].Detail["previousBuyerId"])
	assert.Len(t, f.events(t, c.ID, repository.EventStatusChange), 1)
}

func TestAssignBuyer_NotEnoughBuyersLeavesCaseUnchanged(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, repository.RoleBuyer, 0)
	c := f.addCase(t, repository.StatusNew)

	_, err := f.svc.AssignBuyer(f.ctx, System, c.ID, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	assert.Contains(t, err.Error(), "not enough buyers")

	after := f.getCase(t, c.ID)
	assert.Equal(t, repository.StatusNew, after.Status)
	assert.Nil(t, after.AssignedBuyerID)
	assert.Empty(t, f.allEvents(t, c.ID))
	assert.Empty(t, f.pub.published())
}

func TestAssignBuyer_ExplicitBuyerChecks(t *testing.T) {
	f := newFixture(t)
	admin := f.addUser(t, repository.RoleAdmin, 0)
	c := f.addCase(t, repository.StatusNew)

	_, err := f.svc.AssignBuyer(f.ctx, System, c.ID, "ghost")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	_, err = f.svc.AssignBuyer(f.ctx, System, c.ID, admin.ID)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = f.svc.AssignBuyer(f.ctx, System, "missing-case", admin.ID)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

// ── Quotes and the review gate ───────────────────────────────────────────────

func TestScenario_RequestQuotesThenFirstQuoteAdvances(t *testing.T) {
	f := newFixture(t)
	req := createRequest()
	req.Items = nil
	c, err := f.svc.CreateCase(f.ctx, System, req)
	require.NoError(t, err)

	s1 := f.addSupplier(t, "acme")
	s2 := f.addSupplier(t, "globex")

	res, err := f.svc.RequestQuotes(f.ctx, System, c.ID, &RequestQuotesRequest{SupplierIDs: []string{s1.ID, s2.ID}})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusWaitingQuotes, res.Case.Status)
	require.Len(t, res.Emails, 2)
	for _, e := range res.Emails {
		assert.Equal(t, repository.EmailRFQ, e.Type)
		assert.Equal(t, "RFQ for case "+c.PRNumber, e.Subject)
		assert.Equal(t, DefaultRFQBody, e.Body)
	}

	emails, err := f.store.ListOutboundEmails(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, emails, 2)

	rfq := f.events(t, c.ID, repository.EventRFQSent)
	require.Len(t, rfq, 1)
	assert.Equal(t, []string{s1.ID, s2.ID}, rfq[0].Detail["supplierIds"])

	recorded, err := f.svc.RecordQuote(f.ctx, System, c.ID, &RecordQuoteRequest{
		SupplierID: s1.ID, Amount: 1200, Currency: "eur",
	})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusReadyForReview, recorded.Case.Status)
	assert.Equal(t, "EUR", recorded.Quote.Currency)

	quoteEvents := f.events(t, c.ID, repository.EventQuoteReceived)
	require.Len(t, quoteEvents, 1)
	assert.Equal(t, recorded.Quote.ID, quoteEvents[0].Detail["quoteId"])

	changes := f.events(t, c.ID, repository.EventStatusChange)
	require.Len(t, changes, 2)
	assert.Equal(t, "WAITING_QUOTES", changes[1].Detail["from"])
	assert.Equal(t, "READY_FOR_REVIEW", changes[1].Detail["to"])
}

func TestRequestQuotes_UnknownSuppliersSkipped(t *testing.T) {
	f := newFixture(t)
	c := f.addCase(t, repository.StatusAssigned)
	s1 := f.addSupplier(t, "acme")

	res, err := f.svc.RequestQuotes(f.ctx, System, c.ID, &RequestQuotesRequest{
		SupplierIDs:     []string{s1.ID, "ghost"},
		MessageTemplate: "Need 10 units",
	})
	require.NoError(t, err)
	require.Len(t, res.Emails, 1)
	assert.Equal(t, []string{s1.Email}, res.Emails[0].To)
	assert.Equal(t, "Need 10 units", res.Emails[0].Body)

	rfq := f.events(t, c.ID, repository.EventRFQSent)
	require.Len(t, rfq, 1)
	assert.Equal(t, []string{s1.ID, "ghost"}, rfq[0].Detail["supplierIds"])
}

func TestRequestQuotes_AlreadyWaitingEmitsNoStatusChange(t *testing.T) {
	f := newFixture(t)
	c := f.addCase(t, repository.StatusWaitingQuotes)
	s1 := f.addSupplier(t, "acme")

	_, err := f.svc.RequestQuotes(f.ctx, System, c.ID, &RequestQuotesRequest{SupplierIDs: []string{s1.ID}})
	require.NoError(t, err)
	assert.Empty(t, f.events(t, c.ID, repository.EventStatusChange))
	assert.Len(t, f.events(t, c.ID, repository.EventRFQSent), 1)
}

func TestRecordQuote_DoesNotReopenSentOrClosed(t *testing.T) {
	for _, st := range []repository.CaseStatus{repository.StatusSent, repository.StatusClosed} {
		t.Run(string(st), func(t *testing.T) {
			f := newFixture(t)
			c := f.addCase(t, st)
			s1 := f.addSupplier(t, "acme")

			res, err := f.svc.RecordQuote(f.ctx, System, c.ID, &RecordQuoteRequest{SupplierID: s1.ID, Amount: 5, Currency: "USD"})
			require.NoError(t, err)
			assert.Equal(t, st, res.Case.Status)
			assert.Empty(t, f.events(t, c.ID, repository.EventStatusChange))
		})
	}
}

func TestRecordQuote_Checks(t *testing.T) {
	f := newFixture(t)
	c := f.addCase(t, repository.StatusWaitingQuotes)
	other := f.addCase(t, repository.StatusWaitingQuotes)
	s1 := f.addSupplier(t, "acme")

	foreign := &repository.FileRecord{CaseID: other.ID, Type: "QUOTE", Filename: "q.pdf", MimeType: "application/pdf", StorageKey: "k", UploadedBy: "u"}
	require.NoError(t, f.store.CreateFile(f.ctx, foreign))

	_, err := f.svc.RecordQuote(f.ctx, System, c.ID, &RecordQuoteRequest{SupplierID: "ghost", Amount: 1, Currency: "USD"})
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	_, err = f.svc.RecordQuote(f.ctx, System, c.ID, &RecordQuoteRequest{SupplierID: s1.ID, Amount: 1, Currency: "US"})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = f.svc.RecordQuote(f.ctx, System, c.ID, &RecordQuoteRequest{SupplierID: s1.ID, Amount: 1, Currency: "USD", FileID: &foreign.ID})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	count, err := f.store.CountQuotes(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRecordQuote_HigherThresholdHoldsStatus(t *testing.T) {
	f := newFixture(t)
	f.svc = NewWorkflowService(f.store, f.pub, WorkflowOptions{MinQuotesForReview: 2, Now: func() time.Time { return f.now }}, nil)
	c := f.addCase(t, repository.StatusWaitingQuotes)
	s1 := f.addSupplier(t, "acme")

	res, err := f.svc.RecordQuote(f.ctx, System, c.ID, &RecordQuoteRequest{SupplierID: s1.ID, Amount: 1, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusWaitingQuotes, res.Case.Status)

	_, err = f.svc.UpdateCase(f.ctx, System, c.ID, &UpdateCaseRequest{Status: ptr(repository.StatusReadyForReview)})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput), "both paths apply the same threshold")

	res, err = f.svc.RecordQuote(f.ctx, System, c.ID, &RecordQuoteRequest{SupplierID: s1.ID, Amount: 2, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusReadyForReview, res.Case.Status)
}

func TestUpdateCase_ReviewGate(t *testing.T) {
	t.Run("no quotes and no exception", func(t *testing.T) {
		f := newFixture(t)
		c := f.addCase(t, repository.StatusWaitingQuotes)

		_, err := f.svc.UpdateCase(f.ctx, System, c.ID, &UpdateCaseRequest{
			Subject: ptr("Renamed"),
			Status:  ptr(repository.StatusReadyForReview),
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

		after := f.getCase(t, c.ID)
		assert.Equal(t, repository.StatusWaitingQuotes, after.Status)
		assert.Equal(t, "Laptops", after.Subject, "a rejected update writes nothing")
		assert.Empty(t, f.allEvents(t, c.ID))
	})

	t.Run("with a quote", func(t *testing.T) {
		f := newFixture(t)
		c := f.addCase(t, repository.StatusWaitingQuotes)
		f.addQuote(t, c.ID)

		got, err := f.svc.UpdateCase(f.ctx, System, c.ID, &UpdateCaseRequest{Status: ptr(repository.StatusReadyForReview)})
		require.NoError(t, err)
		assert.Equal(t, repository.StatusReadyForReview, got.Status)
		assert.Len(t, f.events(t, c.ID, repository.EventStatusChange), 1)
	})

	t.Run("with an approved exception", func(t *testing.T) {
		f := newFixture(t)
		admin := f.admin(t)
		c := f.addCase(t, repository.StatusAssigned)

		_, err := f.svc.ApproveException(f.ctx, admin, c.ID, "sole source")
		require.NoError(t, err)

		got, err := f.svc.UpdateCase(f.ctx, System, c.ID, &UpdateCaseRequest{Status: ptr(repository.StatusReadyForReview)})
		require.NoError(t, err)
		assert.Equal(t, repository.StatusReadyForReview, got.Status)
	})
}

func TestUpdateCase_ReviewGateRecheckedInReview(t *testing.T) {
	f := newFixture(t)
	c := f.addCase(t, repository.StatusReadyForReview)
	f.addQuote(t, c.ID)

	_, err := f.svc.UpdateCase(f.ctx, System, c.ID, &UpdateCaseRequest{Status: ptr(repository.StatusReadyForReview)})
	require.NoError(t, err, "one quote meets the default threshold")

	f.svc = NewWorkflowService(f.store, f.pub, WorkflowOptions{MinQuotesForReview: 3, Now: func() time.Time { return f.now }}, nil)
	_, err = f.svc.UpdateCase(f.ctx, System, c.ID, &UpdateCaseRequest{
		Subject: ptr("Renamed"),
		Status:  ptr(repository.StatusReadyForReview),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	after := f.getCase(t, c.ID)
	assert.Equal(t, repository.StatusReadyForReview, after.Status)
	assert.Equal(t, "Laptops", after.Subject, "a rejected update writes nothing")
	assert.Empty(t, f.events(t, c.ID, repository.EventStatusChange))

	_, err = f.svc.UpdateCase(f.ctx, System, c.ID, &UpdateCaseRequest{Subject: ptr("Renamed")})
	require.NoError(t, err, "field-only updates leave the status alone")
}

func TestUpdateCase_TransitionPolicy(t *testing.T) {
	tests := []struct {
		name string
		from repository.CaseStatus
		to   repository.CaseStatus
		code errors.ErrCode
	}{
		{"closed is immutable", repository.StatusClosed, repository.StatusNew, errors.ErrCodePreconditionFailed},
		{"sent only by final response", repository.StatusReadyToSend, repository.StatusSent, errors.ErrCodeInvalidInput},
		{"sent cannot reopen", repository.StatusSent, repository.StatusReadyToSend, errors.ErrCodePreconditionFailed},
		{"unknown status", repository.StatusNew, "DONE", errors.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.addCase(t, tt.from)

			_, err := f.svc.UpdateCase(f.ctx, System, c.ID, &UpdateCaseRequest{Status: ptr(tt.to)})
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
			assert.Equal(t, tt.from, f.getCase(t, c.ID).Status)
		})
	}
}

func TestUpdateCase_FieldsAndAllowedMoves(t *testing.T) {
	f := newFixture(t)
	c := f.addCase(t, repository.StatusSent)

	got, err := f.svc.UpdateCase(f.ctx, System, c.ID, &UpdateCaseRequest{
		Priority: ptr(repository.PriorityUrgent),
		Status:   ptr(repository.StatusClosed),
	})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusClosed, got.Status)
	assert.Equal(t, repository.PriorityUrgent, got.Priority)
	assert.Equal(t, f.now, got.UpdatedAt)

	changes := f.events(t, c.ID, repository.EventStatusChange)
	require.Len(t, changes, 1)
	assert.Equal(t, "SENT", changes[0].Detail["from"])
	assert.Equal(t, "CLOSED", changes[0].Detail["to"])

	_, err = f.svc.UpdateCase(f.ctx, System, c.ID, &UpdateCaseRequest{})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestUpdateCase_SameStatusEmitsNothing(t *testing.T) {
	f := newFixture(t)
	c := f.addCase(t, repository.StatusAssigned)

	_, err := f.svc.UpdateCase(f.ctx, System, c.ID, &UpdateCaseRequest{
		Subject: ptr("Monitors"),
		Status:  ptr(repository.StatusAssigned),
	})
	require.NoError(t, err)
	assert.Equal(t, "Monitors", f.getCase(t, c.ID).Subject)
	assert.Empty(t, f.events(t, c.ID, repository.EventStatusChange))
}

// ── Exception and final response ─────────────────────────────────────────────

func TestApproveException(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	buyer := f.addUser(t, repository.RoleBuyer, 0)
	c := f.addCase(t, repository.StatusWaitingQuotes)

	_, err := f.svc.ApproveException(f.ctx, Actor{UserID: buyer.ID, Role: repository.RoleBuyer}, c.ID, "urgent")
	assert.True(t, errors.Is(err, errors.ErrCodeForbidden))

	_, err = f.svc.ApproveException(f.ctx, admin, c.ID, "   ")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	assert.False(t, f.getCase(t, c.ID).HasException())

	got, err := f.svc.ApproveException(f.ctx, admin, c.ID, " sole source ")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusWaitingQuotes, got.Status)
	require.NotNil(t, got.ExceptionApprovedByID)
	require.NotNil(t, got.ExceptionApprovedAt)
	require.NotNil(t, got.ExceptionReason)
	assert.Equal(t, admin.UserID, *got.ExceptionApprovedByID)
	assert.Equal(t, "sole source", *got.ExceptionReason)

	approved := f.events(t, c.ID, repository.EventExceptionApproved)
	require.Len(t, approved, 1)
	assert.Equal(t, "sole source", approved[0].Detail["reason"])
	require.NotNil(t, approved[0].ActorUserID)
	assert.Equal(t, admin.UserID, *approved[0].ActorUserID)
}

func TestSendFinal_RequiresReadyToSend(t *testing.T) {
	for _, st := range []repository.CaseStatus{
		repository.StatusNew, repository.StatusReadyForReview, repository.StatusSent, repository.StatusClosed,
	} {
		t.Run(string(st), func(t *testing.T) {
			f := newFixture(t)
			c := f.addCase(t, st)

			_, err := f.svc.SendFinal(f.ctx, System, c.ID, &SendFinalRequest{Subject: "Done", Body: "Ordered"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodePreconditionFailed))
			assert.Equal(t, "case not ready to send", err.Error())

			assert.Equal(t, st, f.getCase(t, c.ID).Status)
			assert.Empty(t, f.allEvents(t, c.ID))
			emails, err := f.store.ListOutboundEmails(f.ctx, c.ID)
			require.NoError(t, err)
			assert.Empty(t, emails)
			assert.Empty(t, f.pub.published())
		})
	}
}

func TestSendFinal(t *testing.T) {
	f := newFixture(t)
	buyer := f.addUser(t, repository.RoleBuyer, 0)
	c := f.addCase(t, repository.StatusReadyToSend)
	_, err := f.store.UpdateCase(f.ctx, c.ID, repository.CasePatch{AssignedBuyerID: &buyer.ID}, f.now)
	require.NoError(t, err)

	file := &repository.FileRecord{CaseID: c.ID, Type: "PO", Filename: "po.pdf", MimeType: "application/pdf", StorageKey: "k", UploadedBy: buyer.ID}
	require.NoError(t, f.store.CreateFile(f.ctx, file))

	got, err := f.svc.SendFinal(f.ctx, Actor{UserID: buyer.ID, Role: repository.RoleBuyer}, c.ID, &SendFinalRequest{
		Subject:           "Your order",
		Body:              "Placed with ACME",
		AttachmentFileIDs: []string{file.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusSent, got.Status)

	emails, err := f.store.ListOutboundEmails(f.ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, repository.EmailFinalResponse, emails[0].Type)
	assert.Equal(t, []string{"ana@example.com"}, emails[0].To)
	assert.Equal(t, []string{file.ID}, emails[0].AttachmentFileIDs)

	changes := f.events(t, c.ID, repository.EventStatusChange)
	require.Len(t, changes, 1)
	assert.Equal(t, "SENT", changes[0].Detail["to"])
	final := f.events(t, c.ID, repository.EventFinalSent)
	require.Len(t, final, 1)
	assert.Equal(t, "Your order", final[0].Detail["subject"])

	published := f.pub.published()
	require.Len(t, published, 1)
	assert.Equal(t, buyer.ID, published[0].UserID)
	assert.Equal(t, "Final response sent", published[0].Title)
	assert.Equal(t, c.PRNumber+" final response delivered", published[0].Body)
}

func TestSendFinal_RejectsForeignAttachment(t *testing.T) {
	f := newFixture(t)
	c := f.addCase(t, repository.StatusReadyToSend)

	_, err := f.svc.SendFinal(f.ctx, System, c.ID, &SendFinalRequest{
		Subject: "x", Body: "y", AttachmentFileIDs: []string{"not-a-file"},
	})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	assert.Equal(t, repository.StatusReadyToSend, f.getCase(t, c.ID).Status)
}

// ── Audit completeness ───────────────────────────────────────────────────────

func TestStatusChangeEventsMatchActualTransitions(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	buyer := f.addUser(t, repository.RoleBuyer, 0)
	s1 := f.addSupplier(t, "acme")

	c, err := f.svc.CreateCase(f.ctx, System, createRequest())
	require.NoError(t, err)

	steps := []func() (*repository.Case, error){
		func() (*repository.Case, error) { return f.svc.AssignBuyer(f.ctx, admin, c.ID, buyer.ID) },
		func() (*repository.Case, error) { return f.svc.AssignBuyer(f.ctx, admin, c.ID, buyer.ID) },
		func() (*repository.Case, error) {
			r, err := f.svc.RequestQuotes(f.ctx, admin, c.ID, &RequestQuotesRequest{SupplierIDs: []string{s1.ID}})
			if err != nil {
				return nil, err
			}
			return r.Case, nil
		},
		func() (*repository.Case, error) {
			r, err := f.svc.RecordQuote(f.ctx, admin, c.ID, &RecordQuoteRequest{SupplierID: s1.ID, Amount: 1, Currency: "EUR"})
			if err != nil {
				return nil, err
			}
			return r.Case, nil
		},
		func() (*repository.Case, error) {
			r, err := f.svc.RecordQuote(f.ctx, admin, c.ID, &RecordQuoteRequest{SupplierID: s1.ID, Amount: 2, Currency: "EUR"})
			if err != nil {
				return nil, err
			}
			return r.Case, nil
		},
		func() (*repository.Case, error) {
			return f.svc.UpdateCase(f.ctx, admin, c.ID, &UpdateCaseRequest{Status: ptr(repository.StatusReadyToSend)})
		},
		func() (*repository.Case, error) {
			return f.svc.SendFinal(f.ctx, admin, c.ID, &SendFinalRequest{Subject: "s", Body: "b"})
		},
	}

	prev := repository.StatusNew
	expected := 0
	for i, step := range steps {
		got, err := step()
		require.NoError(t, err, "step %d", i)
		if got.Status != prev {
			expected++
		}
		changes := f.events(t, c.ID, repository.EventStatusChange)
		require.Len(t, changes, expected, "step %d", i)
		if got.Status != prev {
			last := changes[len(changes)-1]
			assert.Equal(t, string(prev), last.Detail["from"])
			assert.Equal(t, string(got.Status), last.Detail["to"])
		}
		prev = got.Status
	}
	assert.Equal(t, repository.StatusSent, prev)
	assert.Equal(t, 5, expected)
}

// ── Notes, checklist, files ──────────────────────────────────────────────────

func TestAddNote(t *testing.T) {
	f := newFixture(t)
	buyer := f.addUser(t, repository.RoleBuyer, 0)
	c := f.addCase(t, repository.StatusAssigned)
	actor := Actor{UserID: buyer.ID, Role: repository.RoleBuyer}

	_, err := f.svc.AddNote(f.ctx, actor, c.ID, " \n ")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	note, err := f.svc.AddNote(f.ctx, actor, c.ID, "Called supplier")
	require.NoError(t, err)
	require.NotNil(t, note.AuthorID)
	assert.Equal(t, buyer.ID, *note.AuthorID)

	added := f.events(t, c.ID, repository.EventNoteAdded)
	require.Len(t, added, 1)
	assert.Equal(t, note.ID, added[0].Detail["noteId"])

	_, err = f.svc.AddNote(f.ctx, actor, "missing", "hello")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestChecklist(t *testing.T) {
	f := newFixture(t)
	c := f.addCase(t, repository.StatusAssigned)
	other := f.addCase(t, repository.StatusAssigned)

	item, err := f.svc.AddChecklistItem(f.ctx, System, c.ID, &ChecklistItemRequest{Title: "Collect specs", OwnerRole: "BUYER"})
	require.NoError(t, err)
	assert.Equal(t, repository.ChecklistOpen, item.Status)

	updated, err := f.svc.SetChecklistItemStatus(f.ctx, System, c.ID, item.ID, repository.ChecklistDone)
	require.NoError(t, err)
	assert.Equal(t, repository.ChecklistDone, updated.Status)

	_, err = f.svc.SetChecklistItemStatus(f.ctx, System, c.ID, item.ID, repository.ChecklistDone)
	require.NoError(t, err)
	assert.Len(t, f.events(t, c.ID, repository.EventChecklistUpdated), 2, "a no-op change is not recorded")

	_, err = f.svc.SetChecklistItemStatus(f.ctx, System, other.ID, item.ID, repository.ChecklistBlocked)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	_, err = f.svc.SetChecklistItemStatus(f.ctx, System, c.ID, item.ID, "LATER")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	assert.Equal(t, repository.StatusAssigned, f.getCase(t, c.ID).Status)
}

func TestRegisterFile(t *testing.T) {
	f := newFixture(t)
	c := f.addCase(t, repository.StatusAssigned)

	file, err := f.svc.RegisterFile(f.ctx, System, c.ID, &RegisterFileRequest{
		Type: "QUOTE", Filename: "quote.pdf", MimeType: "application/pdf", Size: 2048, StorageKey: "cases/q.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "system", file.UploadedBy)

	_, err = f.svc.RegisterFile(f.ctx, System, c.ID, &RegisterFileRequest{Type: "QUOTE"})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

// ── Unit of work ─────────────────────────────────────────────────────────────

var errCommit = stderrors.New("commit failed")

// failingCommit runs every transaction body and then reports a commit
// failure, so nothing is kept.
type failingCommit struct {
	*memory.Store
}

func (s failingCommit) InTransaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.Store.InTransaction(ctx, func(tx repository.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errCommit
	})
}

func TestNotificationsPublishedOnlyAfterCommit(t *testing.T) {
	f := newFixture(t)
	buyer := f.addUser(t, repository.RoleBuyer, 0)
	c := f.addCase(t, repository.StatusNew)

	svc := NewWorkflowService(failingCommit{f.store}, f.pub, WorkflowOptions{Now: func() time.Time { return f.now }}, nil)
	_, err := svc.AssignBuyer(f.ctx, System, c.ID, buyer.ID)
	assert.ErrorIs(t, err, errCommit)

	assert.Empty(t, f.pub.published())
	assert.Empty(t, f.allEvents(t, c.ID))
	list, err := f.store.ListNotificationsByUser(f.ctx, buyer.ID, false, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Nil(t, f.getCase(t, c.ID).AssignedBuyerID)
}

func TestCreateCase_RetriesOnConflict(t *testing.T) {
	f := newFixture(t)
	calls := 0
	store := &conflictOnce{Store: f.store, calls: &calls}
	svc := NewWorkflowService(store, f.pub, WorkflowOptions{Now: func() time.Time { return f.now }}, nil)

	c, err := svc.CreateCase(f.ctx, System, createRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "PR-2026-1001", c.PRNumber)
}

// conflictOnce fails the first transaction with a conflict.
type conflictOnce struct {
	*memory.Store
	calls *int
}

func (s *conflictOnce) InTransaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	*s.calls++
	if *s.calls == 1 {
		return errors.New(errors.ErrCodeConflict, "duplicate PR number")
	}
	return s.Store.InTransaction(ctx, fn)
}

// ── Backfill ─────────────────────────────────────────────────────────────────

func TestBackfillReadyForReview(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)

	quoted := f.addCase(t, repository.StatusWaitingQuotes)
	f.addQuote(t, quoted.ID)
	excepted := f.addCase(t, repository.StatusAssigned)
	_, err := f.svc.ApproveException(f.ctx, admin, excepted.ID, "framework contract")
	require.NoError(t, err)
	bare := f.addCase(t, repository.StatusNew)
	sent := f.addCase(t, repository.StatusSent)
	f.addQuote(t, sent.ID)

	res, err := f.svc.BackfillReadyForReview(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, 2, res.Advanced)

	assert.Equal(t, repository.StatusReadyForReview, f.getCase(t, quoted.ID).Status)
	assert.Equal(t, repository.StatusReadyForReview, f.getCase(t, excepted.ID).Status)
	assert.Equal(t, repository.StatusNew, f.getCase(t, bare.ID).Status)
	assert.Equal(t, repository.StatusSent, f.getCase(t, sent.ID).Status)

	changes := f.events(t, quoted.ID, repository.EventStatusChange)
	require.Len(t, changes, 1)
	assert.Nil(t, changes[0].ActorUserID)
}
