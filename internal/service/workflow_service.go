package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pesio-ai/be-procurement-cases/internal/common/errors"
	"github.com/pesio-ai/be-procurement-cases/internal/common/logger"
	"github.com/pesio-ai/be-procurement-cases/internal/notify"
	"github.com/pesio-ai/be-procurement-cases/internal/repository"
	"github.com/pesio-ai/be-procurement-cases/internal/rules"
)

const (
	// createCaseAttempts bounds retries when a PR number collides.
	createCaseAttempts = 3

	// DefaultRFQBody is used when RequestQuotes gets no message template.
	DefaultRFQBody = "Please provide your best quote."

	backfillConcurrency = 4
)

// WorkflowOptions tunes the workflow engine.
type WorkflowOptions struct {
	// MinQuotesForReview overrides rules.MinQuotesForReview when positive.
	MinQuotesForReview int
	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

// WorkflowService runs the case state machine. Every operation is one
// transaction: the case row is locked, validated, written together with its
// events and notifications, and committed. Notifications reach the
// publisher only after commit.
type WorkflowService struct {
	store     repository.Store
	publisher notify.Publisher
	minQuotes int
	now       func() time.Time
	log       *logger.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(
	store repository.Store,
	publisher notify.Publisher,
	opts WorkflowOptions,
	log *logger.Logger,
) *WorkflowService {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	minQuotes := opts.MinQuotesForReview
	if minQuotes <= 0 {
		minQuotes = rules.MinQuotesForReview
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if log == nil {
		log = logger.Nop()
	}
	return &WorkflowService{
		store:     store,
		publisher: publisher,
		minQuotes: minQuotes,
		now:       now,
		log:       log.With("workflow"),
	}
}

// MinQuotesForReview returns the quote threshold the engine applies.
func (s *WorkflowService) MinQuotesForReview() int {
	return s.minQuotes
}

// run executes fn as one unit of work and publishes its notifications after
// a successful commit.
func (s *WorkflowService) run(ctx context.Context, actor Actor, fn func(u *unitOfWork) error) error {
	var u *unitOfWork
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		u = &unitOfWork{tx: tx, actor: actor, now: s.now()}
		return fn(u)
	})
	if err != nil {
		return err
	}
	for _, n := range u.outbox {
		s.publisher.Publish(ctx, n)
	}
	return nil
}

// ── CreateCase ────────────────────────────────────────────────────────────────

// CaseSource tells how a case entered the system.
type CaseSource string

const (
	// SourceDirect is a case created by staff.
	SourceDirect CaseSource = "direct"
	// SourceIntake is a case submitted through the intake form. Buyers and
	// admins are notified.
	SourceIntake CaseSource = "intake"
)

// CreateCaseRequest represents a create case request.
type CreateCaseRequest struct {
	Subject               string              `json:"subject" validate:"required,max=255"`
	RequesterName         string              `json:"requesterName" validate:"required,max=255"`
	RequesterEmail        string              `json:"requesterEmail" validate:"required,email"`
	Department            string              `json:"department" validate:"required"`
	Priority              repository.Priority `json:"priority" validate:"required,oneof=LOW MEDIUM HIGH URGENT"`
	NeededBy              time.Time           `json:"neededBy" validate:"required"`
	CostCenter            string              `json:"costCenter" validate:"required"`
	DeliveryLocation      string              `json:"deliveryLocation" validate:"required"`
	BudgetEstimate        float64             `json:"budgetEstimate" validate:"gte=0"`
	SummaryForProcurement string              `json:"summaryForProcurement"`
	Items                 []CaseItemInput     `json:"items" validate:"dive"`
	Source                CaseSource          `json:"source" validate:"omitempty,oneof=direct intake"`
}

// CaseItemInput is one requested line.
type CaseItemInput struct {
	Description string  `json:"description" validate:"required,max=255"`
	Qty         float64 `json:"qty" validate:"gt=0"`
	UOM         string  `json:"uom" validate:"required"`
	Specs       string  `json:"specs"`
}

// CreateCase creates a NEW case with the next PR number for the current year.
func (s *WorkflowService) CreateCase(ctx context.Context, actor Actor, req *CreateCaseRequest) (*repository.Case, error) {
	if req == nil {
		return nil, errors.InvalidInput("body", "is required")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	var created *repository.Case
	var err error
	for attempt := 1; attempt <= createCaseAttempts; attempt++ {
		created, err = s.createCase(ctx, actor, req)
		if !errors.Is(err, errors.ErrCodeConflict) {
			break
		}
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("PR number collision, retrying")
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("case_id", created.ID).
		Str("pr_number", created.PRNumber).
		Str("source", string(req.Source)).
		Msg("Case created")

	return created, nil
}

func (s *WorkflowService) createCase(ctx context.Context, actor Actor, req *CreateCaseRequest) (*repository.Case, error) {
	var c *repository.Case
	err := s.run(ctx, actor, func(u *unitOfWork) error {
		prNumber, err := u.tx.NextPRNumber(ctx, u.now.Year())
		if err != nil {
			return err
		}

		c = &repository.Case{
			PRNumber:              prNumber,
			Subject:               strings.TrimSpace(req.Subject),
			RequesterName:         strings.TrimSpace(req.RequesterName),
			RequesterEmail:        strings.TrimSpace(req.RequesterEmail),
			Department:            req.Department,
			Priority:              req.Priority,
			NeededBy:              req.NeededBy,
			CostCenter:            req.CostCenter,
			DeliveryLocation:      req.DeliveryLocation,
			BudgetEstimate:        req.BudgetEstimate,
			Status:                repository.StatusNew,
			SummaryForProcurement: req.SummaryForProcurement,
			CreatedAt:             u.now,
			UpdatedAt:             u.now,
		}
		if err := u.tx.CreateCase(ctx, c); err != nil {
			return err
		}

		items := make([]*repository.CaseItem, len(req.Items))
		for i, in := range req.Items {
			items[i] = &repository.CaseItem{
				CaseID:      c.ID,
				Description: in.Description,
				Qty:         in.Qty,
				UOM:         in.UOM,
				Specs:       in.Specs,
			}
		}
		if err := u.tx.CreateCaseItems(ctx, items); err != nil {
			return err
		}

		if err := u.appendEvent(ctx, c.ID, repository.EventCreated, map[string]interface{}{
			"prNumber": c.PRNumber,
		}); err != nil {
			return err
		}

		if req.Source != SourceIntake {
			return nil
		}
		for _, role := range []repository.UserRole{repository.RoleBuyer, repository.RoleAdmin} {
			users, err := u.tx.ListUsersByRole(ctx, role)
			if err != nil {
				return err
			}
			for _, user := range users {
				if err := u.notify(ctx, user.ID, repository.NotificationNewPR,
					"New PR submitted",
					fmt.Sprintf("%s submitted for intake review", c.PRNumber),
					c.ID,
				); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ── AssignBuyer ───────────────────────────────────────────────────────────────

// AssignBuyer assigns buyerID to the case, or the least-loaded buyer when
// buyerID is empty.
func (s *WorkflowService) AssignBuyer(ctx context.Context, actor Actor, caseID, buyerID string) (*repository.Case, error) {
	var result *repository.Case
	err := s.run(ctx, actor, func(u *unitOfWork) error {
		c, err := u.lockCase(ctx, caseID)
		if err != nil {
			return err
		}

		auto := buyerID == ""
		chosen := buyerID
		if auto {
			chosen, err = s.pickBuyer(ctx, u)
		} else {
			err = s.checkBuyer(ctx, u, buyerID)
		}
		if err != nil {
			return err
		}

		var previous interface{}
		if c.AssignedBuyerID != nil {
			previous = *c.AssignedBuyerID
		}
		from := c.Status
		to := statusAfterAssignment(from)

		patch := repository.CasePatch{AssignedBuyerID: &chosen}
		if to != from {
			patch.Status = &to
		}
		c, err = u.update(ctx, c, patch)
		if err != nil {
			return err
		}

		if to != from {
			if err := u.appendEvent(ctx, c.ID, repository.EventStatusChange, map[string]interface{}{
				"from": string(from),
				"to":   string(to),
			}); err != nil {
				return err
			}
		}
		if err := u.appendEvent(ctx, c.ID, repository.EventAssignment, map[string]interface{}{
			"buyerId":         chosen,
			"previousBuyerId": previous,
			"auto":            auto,
		}); err != nil {
			return err
		}
		if err := u.notify(ctx, chosen, repository.NotificationAssignment,
			"New PR assigned",
			fmt.Sprintf("%s assigned to you", c.PRNumber),
			c.ID,
		); err != nil {
			return err
		}

		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("case_id", result.ID).
		Str("buyer_id", *result.AssignedBuyerID).
		Bool("auto", buyerID == "").
		Msg("Buyer assigned")

	return result, nil
}

// checkBuyer verifies that an explicitly chosen buyer exists and holds the
// BUYER role.
func (s *WorkflowService) checkBuyer(ctx context.Context, u *unitOfWork, buyerID string) error {
	user, err := u.tx.GetUser(ctx, buyerID)
	if err != nil {
		return err
	}
	if user == nil {
		return errors.NotFound("user", buyerID)
	}
	if user.Role != repository.RoleBuyer {
		return errors.InvalidInput("buyerId", "user is not a buyer")
	}
	return nil
}

// pickBuyer returns the buyer with the fewest open cases. Buyers are
// considered in (createdAt, id) order so ties resolve deterministically.
func (s *WorkflowService) pickBuyer(ctx context.Context, u *unitOfWork) (string, error) {
	buyers, err := u.tx.ListUsersByRole(ctx, repository.RoleBuyer)
	if err != nil {
		return "", err
	}
	if len(buyers) < 2 {
		return "", errors.InvalidInput("buyerId", "not enough buyers")
	}

	ids := make([]string, len(buyers))
	for i, b := range buyers {
		ids[i] = b.ID
	}
	counts, err := u.tx.OpenCaseCountsByBuyer(ctx, ids)
	if err != nil {
		return "", err
	}

	workloads := make([]rules.Workload, len(ids))
	for i, id := range ids {
		workloads[i] = rules.Workload{BuyerID: id, Count: counts[id]}
	}
	chosen, ok := rules.SelectBuyerRoundRobin(workloads)
	if !ok {
		return "", errors.InvalidInput("buyerId", "not enough buyers")
	}
	return chosen, nil
}

// ── RequestQuotes ─────────────────────────────────────────────────────────────

// RequestQuotesRequest represents a request for supplier quotes.
type RequestQuotesRequest struct {
	SupplierIDs     []string `json:"supplierIds" validate:"required,min=1"`
	MessageTemplate string   `json:"messageTemplate"`
}

// RequestQuotesResult is the case after the request and the RFQ emails logged.
type RequestQuotesResult struct {
	Case   *repository.Case           `json:"case"`
	Emails []*repository.OutboundEmail `json:"emails"`
}

// RequestQuotes logs one RFQ email per known supplier and moves the case to
// WAITING_QUOTES. Unknown supplier IDs are skipped.
func (s *WorkflowService) RequestQuotes(ctx context.Context, actor Actor, caseID string, req *RequestQuotesRequest) (*RequestQuotesResult, error) {
	if req == nil {
		return nil, errors.InvalidInput("body", "is required")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	body := req.MessageTemplate
	if strings.TrimSpace(body) == "" {
		body = DefaultRFQBody
	}

	result := &RequestQuotesResult{}
	err := s.run(ctx, actor, func(u *unitOfWork) error {
		c, err := u.lockCase(ctx, caseID)
		if err != nil {
			return err
		}

		suppliers, err := u.tx.GetSuppliersByIDs(ctx, req.SupplierIDs)
		if err != nil {
			return err
		}
		for _, sup := range suppliers {
			email := &repository.OutboundEmail{
				CaseID:    &c.ID,
				Type:      repository.EmailRFQ,
				To:        []string{sup.Email},
				CC:        []string{},
				Subject:   fmt.Sprintf("RFQ for case %s", c.PRNumber),
				Body:      body,
				CreatedBy: actor.id(),
				CreatedAt: u.now,
			}
			if err := u.tx.LogOutboundEmail(ctx, email); err != nil {
				return err
			}
			result.Emails = append(result.Emails, email)
		}

		c, err = u.setStatus(ctx, c, repository.StatusWaitingQuotes)
		if err != nil {
			return err
		}
		if err := u.appendEvent(ctx, c.ID, repository.EventRFQSent, map[string]interface{}{
			"supplierIds": req.SupplierIDs,
		}); err != nil {
			return err
		}

		result.Case = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("case_id", caseID).
		Int("requested", len(req.SupplierIDs)).
		Int("sent", len(result.Emails)).
		Msg("Quotes requested")

	return result, nil
}

// ── RecordQuote ───────────────────────────────────────────────────────────────

// RecordQuoteRequest represents a received supplier quote.
type RecordQuoteRequest struct {
	SupplierID string  `json:"supplierId" validate:"required"`
	Amount     float64 `json:"amount" validate:"gte=0"`
	Currency   string  `json:"currency" validate:"required,len=3"`
	FileID     *string `json:"fileId"`
	Notes      *string `json:"notes"`
}

// RecordQuoteResult is the stored quote and the case after any advance.
type RecordQuoteResult struct {
	Quote *repository.Quote `json:"quote"`
	Case  *repository.Case  `json:"case"`
}

// RecordQuote stores a quote and advances the case to READY_FOR_REVIEW when
// the review gate allows it. Each call creates a new quote.
func (s *WorkflowService) RecordQuote(ctx context.Context, actor Actor, caseID string, req *RecordQuoteRequest) (*RecordQuoteResult, error) {
	if req == nil {
		return nil, errors.InvalidInput("body", "is required")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	result := &RecordQuoteResult{}
	err := s.run(ctx, actor, func(u *unitOfWork) error {
		c, err := u.lockCase(ctx, caseID)
		if err != nil {
			return err
		}

		supplier, err := u.tx.GetSupplier(ctx, req.SupplierID)
		if err != nil {
			return err
		}
		if supplier == nil {
			return errors.NotFound("supplier", req.SupplierID)
		}
		if req.FileID != nil {
			if err := checkCaseFile(ctx, u.tx, c.ID, *req.FileID, "fileId"); err != nil {
				return err
			}
		}

		quote := &repository.Quote{
			CaseID:     c.ID,
			SupplierID: supplier.ID,
			Amount:     req.Amount,
			Currency:   strings.ToUpper(req.Currency),
			ReceivedAt: u.now,
			FileID:     req.FileID,
			Notes:      req.Notes,
		}
		if err := u.tx.CreateQuote(ctx, quote); err != nil {
			return err
		}
		if err := u.appendEvent(ctx, c.ID, repository.EventQuoteReceived, map[string]interface{}{
			"quoteId":    quote.ID,
			"supplierId": supplier.ID,
		}); err != nil {
			return err
		}

		c, _, err = s.tryAdvanceToReview(ctx, u, c)
		if err != nil {
			return err
		}

		result.Quote = quote
		result.Case = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("case_id", caseID).
		Str("quote_id", result.Quote.ID).
		Str("status", string(result.Case.Status)).
		Msg("Quote recorded")

	return result, nil
}

// checkCaseFile verifies that fileID names a file attached to caseID.
func checkCaseFile(ctx context.Context, tx repository.Tx, caseID, fileID, field string) error {
	f, err := tx.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if f == nil || f.CaseID != caseID {
		return errors.InvalidInput(field, "file does not belong to this case")
	}
	return nil
}

// ── UpdateCase ────────────────────────────────────────────────────────────────

// UpdateCaseRequest is a field-sparse case update. Omitted fields keep their
// value.
type UpdateCaseRequest struct {
	Subject               *string                `json:"subject" validate:"omitempty,max=255"`
	RequesterName         *string                `json:"requesterName" validate:"omitempty,max=255"`
	RequesterEmail        *string                `json:"requesterEmail" validate:"omitempty,email"`
	Department            *string                `json:"department"`
	Priority              *repository.Priority   `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	NeededBy              *time.Time             `json:"neededBy"`
	CostCenter            *string                `json:"costCenter"`
	DeliveryLocation      *string                `json:"deliveryLocation"`
	BudgetEstimate        *float64               `json:"budgetEstimate" validate:"omitempty,gte=0"`
	Status                *repository.CaseStatus `json:"status"`
	SummaryForProcurement *string                `json:"summaryForProcurement"`
}

func (r *UpdateCaseRequest) fieldPatch() repository.CasePatch {
	return repository.CasePatch{
		Subject:               r.Subject,
		RequesterName:         r.RequesterName,
		RequesterEmail:        r.RequesterEmail,
		Department:            r.Department,
		Priority:              r.Priority,
		NeededBy:              r.NeededBy,
		CostCenter:            r.CostCenter,
		DeliveryLocation:      r.DeliveryLocation,
		BudgetEstimate:        r.BudgetEstimate,
		SummaryForProcurement: r.SummaryForProcurement,
	}
}

// UpdateCase applies a field-sparse update. A status change to
// READY_FOR_REVIEW passes through the review gate and fails when it is not
// met; the whole update is then discarded.
func (s *WorkflowService) UpdateCase(ctx context.Context, actor Actor, caseID string, req *UpdateCaseRequest) (*repository.Case, error) {
	if req == nil {
		return nil, errors.InvalidInput("body", "is required")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	fields := req.fieldPatch()
	if fields.IsEmpty() && req.Status == nil {
		return nil, errors.InvalidInput("body", "no fields to update")
	}

	var result *repository.Case
	err := s.run(ctx, actor, func(u *unitOfWork) error {
		c, err := u.lockCase(ctx, caseID)
		if err != nil {
			return err
		}
		if c.Status == repository.StatusClosed {
			return errors.Precondition("case is closed")
		}

		target := c.Status
		if req.Status != nil {
			target = *req.Status
			if err := checkPatchTransition(c.Status, target); err != nil {
				return err
			}
		}

		if !fields.IsEmpty() {
			if c, err = u.update(ctx, c, fields); err != nil {
				return err
			}
		}

		switch {
		case target == repository.StatusReadyForReview:
			// Asking for review re-checks the gate even when already there.
			var passed bool
			if c.Status == target {
				passed, err = s.reviewGate(ctx, u, c)
			} else {
				c, passed, err = s.tryAdvanceToReview(ctx, u, c)
			}
			if err != nil {
				return err
			}
			if !passed {
				return s.gateError()
			}
		case target == c.Status:
		default:
			if c, err = u.setStatus(ctx, c, target); err != nil {
				return err
			}
		}

		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("case_id", caseID).
		Str("status", string(result.Status)).
		Msg("Case updated")

	return result, nil
}

// ── ApproveException ──────────────────────────────────────────────────────────

// ApproveException waives the quote requirement for a case. ADMIN only. The
// status is not changed.
func (s *WorkflowService) ApproveException(ctx context.Context, actor Actor, caseID, reason string) (*repository.Case, error) {
	if actor.Role != repository.RoleAdmin {
		return nil, errors.Forbidden("only admins can approve exceptions")
	}
	if actor.UserID == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "approver identity is required")
	}
	if err := notBlank("reason", reason); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)

	var result *repository.Case
	err := s.run(ctx, actor, func(u *unitOfWork) error {
		c, err := u.lockCase(ctx, caseID)
		if err != nil {
			return err
		}
		if c.Status == repository.StatusClosed {
			return errors.Precondition("case is closed")
		}

		c, err = u.update(ctx, c, repository.CasePatch{Exception: &repository.ExceptionApproval{
			ApprovedByID: actor.UserID,
			ApprovedAt:   u.now,
			Reason:       reason,
		}})
		if err != nil {
			return err
		}
		if err := u.appendEvent(ctx, c.ID, repository.EventExceptionApproved, map[string]interface{}{
			"reason": reason,
		}); err != nil {
			return err
		}

		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("case_id", caseID).
		Str("approved_by", actor.UserID).
		Msg("Exception approved")

	return result, nil
}

// ── SendFinal ─────────────────────────────────────────────────────────────────

// SendFinalRequest represents the final response to the requester.
type SendFinalRequest struct {
	Subject           string   `json:"subject" validate:"required,max=255"`
	Body              string   `json:"body" validate:"required"`
	AttachmentFileIDs []string `json:"attachmentFileIds"`
}

// SendFinal logs the final response email to the requester and moves the
// case to SENT. The case must be READY_TO_SEND.
func (s *WorkflowService) SendFinal(ctx context.Context, actor Actor, caseID string, req *SendFinalRequest) (*repository.Case, error) {
	if req == nil {
		return nil, errors.InvalidInput("body", "is required")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	attachments := req.AttachmentFileIDs
	if attachments == nil {
		attachments = []string{}
	}

	var result *repository.Case
	err := s.run(ctx, actor, func(u *unitOfWork) error {
		c, err := u.lockCase(ctx, caseID)
		if err != nil {
			return err
		}
		if c.Status != repository.StatusReadyToSend {
			return errors.Precondition("case not ready to send")
		}
		for _, fileID := range attachments {
			if err := checkCaseFile(ctx, u.tx, c.ID, fileID, "attachmentFileIds"); err != nil {
				return err
			}
		}

		if err := u.tx.LogOutboundEmail(ctx, &repository.OutboundEmail{
			CaseID:            &c.ID,
			Type:              repository.EmailFinalResponse,
			To:                []string{c.RequesterEmail},
			CC:                []string{},
			Subject:           req.Subject,
			Body:              req.Body,
			AttachmentFileIDs: attachments,
			CreatedBy:         actor.id(),
			CreatedAt:         u.now,
		}); err != nil {
			return err
		}

		if c, err = u.setStatus(ctx, c, repository.StatusSent); err != nil {
			return err
		}
		if err := u.appendEvent(ctx, c.ID, repository.EventFinalSent, map[string]interface{}{
			"subject":           req.Subject,
			"attachmentFileIds": attachments,
		}); err != nil {
			return err
		}

		if c.AssignedBuyerID != nil {
			if err := u.notify(ctx, *c.AssignedBuyerID, repository.NotificationFinalSent,
				"Final response sent",
				fmt.Sprintf("%s final response delivered", c.PRNumber),
				c.ID,
			); err != nil {
				return err
			}
		}

		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("case_id", caseID).Msg("Final response sent")
	return result, nil
}

// ── Notes, checklist, files ───────────────────────────────────────────────────

// AddNote appends a note authored by the actor. Each call creates a new note.
func (s *WorkflowService) AddNote(ctx context.Context, actor Actor, caseID, body string) (*repository.Note, error) {
	if err := notBlank("body", body); err != nil {
		return nil, err
	}

	var note *repository.Note
	err := s.run(ctx, actor, func(u *unitOfWork) error {
		c, err := u.lockCase(ctx, caseID)
		if err != nil {
			return err
		}
		note = &repository.Note{
			CaseID:    c.ID,
			AuthorID:  actor.id(),
			Body:      body,
			CreatedAt: u.now,
			UpdatedAt: u.now,
		}
		if err := u.tx.CreateNote(ctx, note); err != nil {
			return err
		}
		return u.appendEvent(ctx, c.ID, repository.EventNoteAdded, map[string]interface{}{
			"noteId": note.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// ChecklistItemRequest represents a new checklist entry.
type ChecklistItemRequest struct {
	Title     string `json:"title" validate:"required,max=255"`
	OwnerRole string `json:"ownerRole" validate:"required"`
}

// AddChecklistItem adds an OPEN checklist entry to a case. Checklists are
// informational and never gate a transition.
func (s *WorkflowService) AddChecklistItem(ctx context.Context, actor Actor, caseID string, req *ChecklistItemRequest) (*repository.ChecklistItem, error) {
	if req == nil {
		return nil, errors.InvalidInput("body", "is required")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	var item *repository.ChecklistItem
	err := s.run(ctx, actor, func(u *unitOfWork) error {
		c, err := u.lockCase(ctx, caseID)
		if err != nil {
			return err
		}
		item = &repository.ChecklistItem{
			CaseID:    c.ID,
			Title:     strings.TrimSpace(req.Title),
			Status:    repository.ChecklistOpen,
			OwnerRole: req.OwnerRole,
			CreatedAt: u.now,
		}
		if err := u.tx.CreateChecklistItem(ctx, item); err != nil {
			return err
		}
		return u.appendEvent(ctx, c.ID, repository.EventChecklistUpdated, map[string]interface{}{
			"checklistItemId": item.ID,
			"title":           item.Title,
			"to":              string(item.Status),
		})
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// SetChecklistItemStatus changes the status of a checklist entry on a case.
func (s *WorkflowService) SetChecklistItemStatus(ctx context.Context, actor Actor, caseID, itemID string, status repository.ChecklistStatus) (*repository.ChecklistItem, error) {
	if !status.Valid() {
		return nil, errors.InvalidInput("status", "must be one of OPEN DONE BLOCKED")
	}

	var item *repository.ChecklistItem
	err := s.run(ctx, actor, func(u *unitOfWork) error {
		c, err := u.lockCase(ctx, caseID)
		if err != nil {
			return err
		}
		item, err = u.tx.GetChecklistItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item == nil || item.CaseID != c.ID {
			return errors.NotFound("checklist item", itemID)
		}
		if item.Status == status {
			return nil
		}

		from := item.Status
		found, err := u.tx.UpdateChecklistItemStatus(ctx, item.ID, status)
		if err != nil {
			return err
		}
		if !found {
			return errors.NotFound("checklist item", itemID)
		}
		item.Status = status
		return u.appendEvent(ctx, c.ID, repository.EventChecklistUpdated, map[string]interface{}{
			"checklistItemId": item.ID,
			"from":            string(from),
			"to":              string(status),
		})
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// RegisterFileRequest is metadata for a file already placed in storage.
type RegisterFileRequest struct {
	Type       string `json:"type" validate:"required"`
	Filename   string `json:"filename" validate:"required,max=255"`
	MimeType   string `json:"mimeType" validate:"required"`
	Size       int64  `json:"size" validate:"gte=0"`
	StorageKey string `json:"storageKey" validate:"required"`
}

// RegisterFile records file metadata against a case so quotes and final
// responses can reference it.
func (s *WorkflowService) RegisterFile(ctx context.Context, actor Actor, caseID string, req *RegisterFileRequest) (*repository.FileRecord, error) {
	if req == nil {
		return nil, errors.InvalidInput("body", "is required")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	var file *repository.FileRecord
	err := s.run(ctx, actor, func(u *unitOfWork) error {
		c, err := u.lockCase(ctx, caseID)
		if err != nil {
			return err
		}
		uploadedBy := actor.UserID
		if uploadedBy == "" {
			uploadedBy = "system"
		}
		file = &repository.FileRecord{
			CaseID:     c.ID,
			Type:       req.Type,
			Filename:   req.Filename,
			MimeType:   req.MimeType,
			Size:       req.Size,
			StorageKey: req.StorageKey,
			UploadedBy: uploadedBy,
			CreatedAt:  u.now,
		}
		return u.tx.CreateFile(ctx, file)
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// ── Backfill ──────────────────────────────────────────────────────────────────

// BackfillResult summarizes a backfill run.
type BackfillResult struct {
	Scanned  int `json:"scanned"`
	Advanced int `json:"advanced"`
}

// backfillStatuses are the statuses a backfill may advance from.
var backfillStatuses = []repository.CaseStatus{
	repository.StatusNew,
	repository.StatusAssigned,
	repository.StatusWaitingQuotes,
}

// BackfillReadyForReview routes every early-stage case through the review
// gate, one transaction per case.
func (s *WorkflowService) BackfillReadyForReview(ctx context.Context) (*BackfillResult, error) {
	candidates, _, err := s.store.ListCases(ctx, repository.CaseFilter{Statuses: backfillStatuses})
	if err != nil {
		return nil, err
	}

	advanced := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(backfillConcurrency)
	for i, candidate := range candidates {
		g.Go(func() error {
			return s.run(gctx, System, func(u *unitOfWork) error {
				c, err := u.lockCase(gctx, candidate.ID)
				if err != nil {
					return err
				}
				if c.Status == repository.StatusReadyForReview {
					return nil
				}
				updated, _, err := s.tryAdvanceToReview(gctx, u, c)
				if err != nil {
					return err
				}
				advanced[i] = updated.Status != c.Status
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &BackfillResult{Scanned: len(candidates)}
	for _, a := range advanced {
		if a {
			result.Advanced++
		}
	}

	s.log.Info().
		Int("scanned", result.Scanned).
		Int("advanced", result.Advanced).
		Msg("Ready-for-review backfill complete")

	return result, nil
}
