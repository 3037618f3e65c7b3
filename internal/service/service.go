package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/mail"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pesio-ai/be-procurement-cases/internal/common/errors"
	"github.com/pesio-ai/be-procurement-cases/internal/repository"
)

// Actor is the resolved identity performing an operation. A zero Actor is
// the system.
type Actor struct {
	UserID string
	Role   repository.UserRole
}

// System is the actor used by batch jobs.
var System = Actor{}

func (a Actor) id() *string {
	if a.UserID == "" {
		return nil
	}
	id := a.UserID
	return &id
}

// ── Request validation ────────────────────────────────────────────────────────

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("staffemail", staffEmail)
	return v
}

// staffEmail accepts a bare addr-spec. Unlike the stock email rule it allows
// single-label domains such as "buyer1@local".
func staffEmail(fl validator.FieldLevel) bool {
	raw := strings.TrimSpace(fl.Field().String())
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw || addr.Name != "" {
		return false
	}
	at := strings.LastIndexByte(raw, '@')
	return at > 0 && at < len(raw)-1
}

// validateRequest runs struct tag validation and reports the first failure as
// an InvalidInput error naming the offending field.
func validateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return errors.InvalidInput(fieldPath(fe), validationMessage(fe))
	}
	return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request")
}

// fieldPath drops the struct name from the validator namespace, turning
// "CreateCaseRequest.items[0].qty" into "items[0].qty".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email", "staffemail":
		return "must be a valid email address"
	case "oneof":
		return "must be one of " + fe.Param()
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " entries or characters"
	case "max":
		return "must have at most " + fe.Param() + " entries or characters"
	case "uuid":
		return "must be a UUID"
	}
	return "is invalid (" + fe.Tag() + ")"
}

// notBlank reports a whitespace-only value as missing.
func notBlank(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.InvalidInput(field, "must not be blank")
	}
	return nil
}

// ── Unit of work ──────────────────────────────────────────────────────────────

// unitOfWork is the state of one workflow operation inside its transaction.
// Notifications are collected in outbox and published only after commit.
type unitOfWork struct {
	tx     repository.Tx
	actor  Actor
	now    time.Time
	outbox []*repository.Notification
}

// lockCase loads and row-locks a case, mapping absence to NotFound.
func (u *unitOfWork) lockCase(ctx context.Context, id string) (*repository.Case, error) {
	c, err := u.tx.GetCaseForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.NotFound("case", id)
	}
	return c, nil
}

// update writes patch to the case and returns the stored result.
func (u *unitOfWork) update(ctx context.Context, c *repository.Case, patch repository.CasePatch) (*repository.Case, error) {
	updated, err := u.tx.UpdateCase(ctx, c.ID, patch, u.now)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, errors.NotFound("case", c.ID)
	}
	return updated, nil
}

func (u *unitOfWork) appendEvent(ctx context.Context, caseID string, typ repository.EventType, detail map[string]interface{}) error {
	return u.tx.AppendEvent(ctx, &repository.CaseEvent{
		CaseID:      caseID,
		ActorUserID: u.actor.id(),
		Type:        typ,
		Detail:      detail,
		CreatedAt:   u.now,
	})
}

// notify stores a notification and queues it for publishing.
func (u *unitOfWork) notify(ctx context.Context, userID, typ, title, body, caseID string) error {
	n := &repository.Notification{
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Body:      body,
		Severity:  repository.SeverityInfo,
		CreatedAt: u.now,
	}
	if caseID != "" {
		n.CaseID = &caseID
	}
	if err := u.tx.CreateNotification(ctx, n); err != nil {
		return err
	}
	u.outbox = append(u.outbox, n)
	return nil
}
