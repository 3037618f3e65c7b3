package service

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-procurement-cases/internal/common/errors"
	"github.com/pesio-ai/be-procurement-cases/internal/repository"
	"github.com/pesio-ai/be-procurement-cases/internal/rules"
)

// inFlightStatuses survive a buyer re-assignment.
var inFlightStatuses = map[repository.CaseStatus]bool{
	repository.StatusWaitingQuotes:  true,
	repository.StatusReadyForReview: true,
	repository.StatusReadyToSend:    true,
	repository.StatusSent:           true,
	repository.StatusClosed:         true,
}

// statusAfterAssignment is the status a case takes when a buyer is assigned.
func statusAfterAssignment(current repository.CaseStatus) repository.CaseStatus {
	if inFlightStatuses[current] {
		return current
	}
	return repository.StatusAssigned
}

// checkPatchTransition enforces the status moves allowed through a generic
// update. CLOSED admits nothing, SENT only moves to CLOSED, and SENT itself is
// reached only by sending the final response. Entry to READY_FOR_REVIEW is
// gated separately.
func checkPatchTransition(from, to repository.CaseStatus) error {
	if from == to {
		return nil
	}
	if !to.Valid() {
		return errors.InvalidInput("status", fmt.Sprintf("unknown status %q", to))
	}
	switch {
	case from == repository.StatusClosed:
		return errors.Precondition("case is closed")
	case to == repository.StatusSent:
		return errors.InvalidInput("status", "SENT is reached only by sending the final response")
	case from == repository.StatusSent && to != repository.StatusClosed:
		return errors.Precondition("a sent case can only be closed")
	}
	return nil
}

// setStatus moves c to status and records STATUS_CHANGE when it differs.
func (u *unitOfWork) setStatus(ctx context.Context, c *repository.Case, status repository.CaseStatus) (*repository.Case, error) {
	if c.Status == status {
		return c, nil
	}
	from := c.Status
	updated, err := u.update(ctx, c, repository.CasePatch{Status: &status})
	if err != nil {
		return nil, err
	}
	if err := u.appendEvent(ctx, c.ID, repository.EventStatusChange, map[string]interface{}{
		"from": string(from),
		"to":   string(status),
	}); err != nil {
		return nil, err
	}
	return updated, nil
}

// reviewGate reports whether c may be in READY_FOR_REVIEW given its live
// quote count and exception flag.
func (s *WorkflowService) reviewGate(ctx context.Context, u *unitOfWork, c *repository.Case) (bool, error) {
	quotes, err := u.tx.CountQuotes(ctx, c.ID)
	if err != nil {
		return false, err
	}
	return rules.CanMoveToReadyForReview(rules.ReviewGate{
		QuotesCount:  quotes,
		HasException: c.HasException(),
	}, s.minQuotes), nil
}

// tryAdvanceToReview is the only path into READY_FOR_REVIEW. Cases that are
// SENT or CLOSED are left alone. The returned flag is false when the gate
// refused the move.
func (s *WorkflowService) tryAdvanceToReview(ctx context.Context, u *unitOfWork, c *repository.Case) (*repository.Case, bool, error) {
	if c.Status.IsClosed() {
		return c, false, nil
	}
	if c.Status == repository.StatusReadyForReview {
		return c, true, nil
	}
	ok, err := s.reviewGate(ctx, u, c)
	if err != nil || !ok {
		return c, false, err
	}
	updated, err := u.setStatus(ctx, c, repository.StatusReadyForReview)
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

func (s *WorkflowService) gateError() error {
	return errors.InvalidInput("status", fmt.Sprintf(
		"case needs at least %d quote(s) or an approved exception before review", s.minQuotes))
}
