package service

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pesio-ai/be-procurement-cases/internal/common/errors"
	"github.com/pesio-ai/be-procurement-cases/internal/common/logger"
	"github.com/pesio-ai/be-procurement-cases/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CaseQueryService serves read models over cases. It never writes.
type CaseQueryService struct {
	store repository.Store
	log   *logger.Logger
}

// NewCaseQueryService creates a new CaseQueryService.
func NewCaseQueryService(store repository.Store, log *logger.Logger) *CaseQueryService {
	if log == nil {
		log = logger.Nop()
	}
	return &CaseQueryService{store: store, log: log.With("case_query")}
}

// QuoteWithSupplier is a quote joined with its supplier.
type QuoteWithSupplier struct {
	*repository.Quote
	Supplier *repository.Supplier `json:"supplier"`
}

// CaseDetail is a case with every child record.
type CaseDetail struct {
	Case          *repository.Case            `json:"case"`
	Items         []*repository.CaseItem      `json:"items"`
	Checklist     []*repository.ChecklistItem `json:"checklist"`
	Quotes        []*QuoteWithSupplier        `json:"quotes"`
	Files         []*repository.FileRecord    `json:"files"`
	Emails        []*repository.OutboundEmail `json:"emails"`
	Notes         []*repository.Note          `json:"notes"`
	Events        []*repository.CaseEvent     `json:"events"`
	Notifications []*repository.Notification  `json:"notifications"`
}

// GetCaseDetail loads a case and its children.
func (s *CaseQueryService) GetCaseDetail(ctx context.Context, id string) (*CaseDetail, error) {
	c, err := s.store.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.NotFound("case", id)
	}

	detail := &CaseDetail{Case: c}
	var quotes []*repository.Quote

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		detail.Items, err = s.store.ListCaseItems(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		detail.Checklist, err = s.store.ListChecklistItems(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		quotes, err = s.store.ListQuotes(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		detail.Files, err = s.store.ListFiles(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		detail.Emails, err = s.store.ListOutboundEmails(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		detail.Notes, err = s.store.ListNotes(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		detail.Events, err = s.store.ListEvents(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		detail.Notifications, err = s.store.ListNotificationsByCase(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	detail.Quotes, err = s.withSuppliers(ctx, quotes)
	if err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *CaseQueryService) withSuppliers(ctx context.Context, quotes []*repository.Quote) ([]*QuoteWithSupplier, error) {
	out := make([]*QuoteWithSupplier, len(quotes))
	if len(quotes) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(quotes))
	seen := make(map[string]bool, len(quotes))
	for _, q := range quotes {
		if !seen[q.SupplierID] {
			seen[q.SupplierID] = true
			ids = append(ids, q.SupplierID)
		}
	}
	suppliers, err := s.store.GetSuppliersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*repository.Supplier, len(suppliers))
	for _, sup := range suppliers {
		byID[sup.ID] = sup
	}
	for i, q := range quotes {
		out[i] = &QuoteWithSupplier{Quote: q, Supplier: byID[q.SupplierID]}
	}
	return out, nil
}

// ListCasesRequest holds list filters as received from the transport.
type ListCasesRequest struct {
	Statuses        []string
	Priority        string
	RequesterEmail  string
	AssignedBuyerID string
	CreatedFrom     *time.Time
	CreatedTo       *time.Time
	Search          string
	Page            int
	PageSize        int
}

// CaseList is one page of cases.
type CaseList struct {
	Cases    []*repository.Case `json:"cases"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"pageSize"`
}

// ListCases returns cases matching req, newest first.
func (s *CaseQueryService) ListCases(ctx context.Context, req ListCasesRequest) (*CaseList, error) {
	filter := repository.CaseFilter{
		RequesterEmail:  strings.TrimSpace(req.RequesterEmail),
		AssignedBuyerID: req.AssignedBuyerID,
		CreatedFrom:     req.CreatedFrom,
		CreatedTo:       req.CreatedTo,
		Search:          strings.TrimSpace(req.Search),
	}
	for _, raw := range req.Statuses {
		st := repository.CaseStatus(strings.ToUpper(strings.TrimSpace(raw)))
		if !st.Valid() {
			return nil, errors.InvalidInput("status", "unknown status "+raw)
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	if req.Priority != "" {
		p := repository.Priority(strings.ToUpper(req.Priority))
		if !p.Valid() {
			return nil, errors.InvalidInput("priority", "unknown priority "+req.Priority)
		}
		filter.Priority = &p
	}
	if req.CreatedFrom != nil && req.CreatedTo != nil && req.CreatedTo.Before(*req.CreatedFrom) {
		return nil, errors.InvalidInput("createdTo", "must not be before createdFrom")
	}

	page, pageSize := req.Page, req.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	cases, total, err := s.store.ListCases(ctx, filter)
	if err != nil {
		return nil, err
	}
	if cases == nil {
		cases = []*repository.Case{}
	}
	return &CaseList{Cases: cases, Total: total, Page: page, PageSize: pageSize}, nil
}

// Summary is the dashboard view of the case backlog.
type Summary struct {
	Total         int64                    `json:"total"`
	Open          int64                    `json:"open"`
	ReadyToReview int64                    `json:"readyToReview"`
	QuotesPending int64                    `json:"quotesPending"`
	ByStatus      []repository.StatusCount `json:"byStatus"`
}

// Summary counts cases overall and per status.
func (s *CaseQueryService) Summary(ctx context.Context) (*Summary, error) {
	sum := &Summary{}
	ready := repository.StatusReadyForReview
	waiting := repository.StatusWaitingQuotes

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		sum.Total, err = s.store.CountCases(gctx, repository.CaseCountFilter{})
		return err
	})
	g.Go(func() (err error) {
		sum.Open, err = s.store.CountCases(gctx, repository.CaseCountFilter{StatusNotIn: repository.ClosedStatuses})
		return err
	})
	g.Go(func() (err error) {
		sum.ReadyToReview, err = s.store.CountCases(gctx, repository.CaseCountFilter{Status: &ready})
		return err
	})
	g.Go(func() (err error) {
		sum.QuotesPending, err = s.store.CountCases(gctx, repository.CaseCountFilter{Status: &waiting})
		return err
	})
	g.Go(func() (err error) {
		sum.ByStatus, err = s.store.CountCasesByStatus(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sum, nil
}
