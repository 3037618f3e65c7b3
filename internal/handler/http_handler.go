package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pesio-ai/be-procurement-cases/internal/common/auth"
	"github.com/pesio-ai/be-procurement-cases/internal/common/errors"
	"github.com/pesio-ai/be-procurement-cases/internal/common/logger"
	"github.com/pesio-ai/be-procurement-cases/internal/common/middleware"
	"github.com/pesio-ai/be-procurement-cases/internal/repository"
	"github.com/pesio-ai/be-procurement-cases/internal/service"
)

// Services bundles the services the HTTP layer calls.
type Services struct {
	Workflow      *service.WorkflowService
	Cases         *service.CaseQueryService
	Suppliers     *service.SupplierService
	Notifications *service.NotificationService
	Users         *service.UserService
}

// Options tunes the HTTP handler.
type Options struct {
	// RequireMFA rejects callers whose last MFA is older than the validity
	// window.
	RequireMFA bool
	// KeepAlive is the interval between comment frames on the notification
	// stream.
	KeepAlive time.Duration
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	svc  Services
	opts Options
	log  *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(svc Services, opts Options, log *logger.Logger) *HTTPHandler {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPHandler{svc: svc, opts: opts, log: log.With("http")}
}

// PublicPaths are served without a caller identity.
var PublicPaths = []string{"/health", "/api/v1/auth/login"}

// Register mounts every route on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /api/v1/auth/login", h.Login)
	mux.HandleFunc("GET /api/v1/me", h.Me)
	mux.HandleFunc("GET /api/v1/users", h.ListUsers)

	mux.HandleFunc("GET /api/v1/cases", h.ListCases)
	mux.HandleFunc("POST /api/v1/cases", h.CreateCase)
	mux.HandleFunc("GET /api/v1/cases/{id}", h.GetCase)
	mux.HandleFunc("PATCH /api/v1/cases/{id}", h.UpdateCase)
	mux.HandleFunc("POST /api/v1/cases/{id}/assign", h.AssignBuyer)
	mux.HandleFunc("POST /api/v1/cases/{id}/rfq", h.RequestQuotes)
	mux.HandleFunc("POST /api/v1/cases/{id}/quotes", h.RecordQuote)
	mux.HandleFunc("POST /api/v1/cases/{id}/exception", h.ApproveException)
	mux.HandleFunc("POST /api/v1/cases/{id}/send-final", h.SendFinal)
	mux.HandleFunc("POST /api/v1/cases/{id}/notes", h.AddNote)
	mux.HandleFunc("POST /api/v1/cases/{id}/checklist", h.AddChecklistItem)
	mux.HandleFunc("PATCH /api/v1/cases/{id}/checklist/{itemId}", h.SetChecklistItemStatus)
	mux.HandleFunc("POST /api/v1/cases/{id}/files", h.RegisterFile)

	mux.HandleFunc("GET /api/v1/metrics/summary", h.Summary)

	mux.HandleFunc("GET /api/v1/suppliers", h.ListSuppliers)
	mux.HandleFunc("POST /api/v1/suppliers", h.CreateSupplier)
	mux.HandleFunc("PATCH /api/v1/suppliers/{id}", h.UpdateSupplier)

	mux.HandleFunc("GET /api/v1/notifications", h.ListNotifications)
	mux.HandleFunc("POST /api/v1/notifications/{id}/read", h.MarkNotificationRead)
	mux.HandleFunc("GET /api/v1/notifications/stream", h.StreamNotifications)
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ── auth ─────────────────────────────────────────────────────────────────────

// Login handles password login requests
func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Users.Login(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Me returns the caller.
func (h *HTTPHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	user, err := h.svc.Users.GetUser(r.Context(), actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ListUsers lists users of the role given by ?role= (default BUYER).
func (h *HTTPHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	role := repository.RoleBuyer
	if v := r.URL.Query().Get("role"); v != "" {
		role = repository.UserRole(strings.ToUpper(v))
	}
	users, err := h.svc.Users.ListUsers(r.Context(), role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// actor resolves the caller stored by the auth middleware.
func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (service.Actor, bool) {
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, r, errors.New(errors.ErrCodeUnauthorized, "authentication required"))
		return service.Actor{}, false
	}
	actor, err := h.svc.Users.Resolve(r.Context(), uc.UserID, h.opts.RequireMFA)
	if err != nil {
		h.writeError(w, r, err)
		return service.Actor{}, false
	}
	return actor, true
}

// ── cases ────────────────────────────────────────────────────────────────────

// ListCases handles list cases HTTP requests
func (h *HTTPHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	q := r.URL.Query()

	req := service.ListCasesRequest{
		Priority:        q.Get("priority"),
		RequesterEmail:  q.Get("requesterEmail"),
		AssignedBuyerID: q.Get("buyerId"),
		Search:          q.Get("q"),
	}
	for _, v := range q["status"] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				req.Statuses = append(req.Statuses, s)
			}
		}
	}

	var err error
	if req.CreatedFrom, err = parseTimeParam(q.Get("createdFrom"), "createdFrom"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.CreatedTo, err = parseTimeParam(q.Get("createdTo"), "createdTo"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Page, err = parseIntParam(q.Get("page"), "page"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.PageSize, err = parseIntParam(q.Get("pageSize"), "pageSize"); err != nil {
		h.writeError(w, r, err)
		return
	}

	list, err := h.svc.Cases.ListCases(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// CreateCase handles create case HTTP requests
func (h *HTTPHandler) CreateCase(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req service.CreateCaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.svc.Workflow.CreateCase(r.Context(), actor, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GetCase returns a case with all of its children.
func (h *HTTPHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	detail, err := h.svc.Cases.GetCaseDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// UpdateCase handles sparse case updates
func (h *HTTPHandler) UpdateCase(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req service.UpdateCaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.svc.Workflow.UpdateCase(r.Context(), actor, r.PathValue("id"), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type assignRequest struct {
	BuyerID string `json:"buyerId"`
}

// AssignBuyer assigns the given buyer, or the least loaded one when the body
// names none.
func (h *HTTPHandler) AssignBuyer(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	c, err := h.svc.Workflow.AssignBuyer(r.Context(), actor, r.PathValue("id"), strings.TrimSpace(req.BuyerID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// RequestQuotes handles RFQ requests
func (h *HTTPHandler) RequestQuotes(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req service.RequestQuotesRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Workflow.RequestQuotes(r.Context(), actor, r.PathValue("id"), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RecordQuote handles received supplier quotes
func (h *HTTPHandler) RecordQuote(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req service.RecordQuoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Workflow.RecordQuote(r.Context(), actor, r.PathValue("id"), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type exceptionRequest struct {
	Reason string `json:"reason"`
}

// ApproveException handles quote exception approvals
func (h *HTTPHandler) ApproveException(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req exceptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.svc.Workflow.ApproveException(r.Context(), actor, r.PathValue("id"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// SendFinal handles the final response to the requester
func (h *HTTPHandler) SendFinal(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req service.SendFinalRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.svc.Workflow.SendFinal(r.Context(), actor, r.PathValue("id"), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type noteRequest struct {
	Body string `json:"body"`
}

// AddNote handles note creation
func (h *HTTPHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if !h.decode(w, r, &req) {
		return
	}
	note, err := h.svc.Workflow.AddNote(r.Context(), actor, r.PathValue("id"), req.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// AddChecklistItem handles checklist entry creation
func (h *HTTPHandler) AddChecklistItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req service.ChecklistItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.svc.Workflow.AddChecklistItem(r.Context(), actor, r.PathValue("id"), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

type checklistStatusRequest struct {
	Status repository.ChecklistStatus `json:"status"`
}

// SetChecklistItemStatus handles checklist status changes
func (h *HTTPHandler) SetChecklistItemStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req checklistStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.svc.Workflow.SetChecklistItemStatus(r.Context(), actor, r.PathValue("id"), r.PathValue("itemId"), req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// RegisterFile records file metadata on a case
func (h *HTTPHandler) RegisterFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req service.RegisterFileRequest
	if !h.decode(w, r, &req) {
		return
	}
	file, err := h.svc.Workflow.RegisterFile(r.Context(), actor, r.PathValue("id"), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

// Summary returns dashboard counters.
func (h *HTTPHandler) Summary(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	sum, err := h.svc.Cases.Summary(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ── suppliers ────────────────────────────────────────────────────────────────

// ListSuppliers lists suppliers. ?active=true hides inactive ones.
func (h *HTTPHandler) ListSuppliers(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	list, err := h.svc.Suppliers.ListSuppliers(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// CreateSupplier handles supplier creation
func (h *HTTPHandler) CreateSupplier(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	var req service.CreateSupplierRequest
	if !h.decode(w, r, &req) {
		return
	}
	supplier, err := h.svc.Suppliers.CreateSupplier(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, supplier)
}

// UpdateSupplier handles sparse supplier updates
func (h *HTTPHandler) UpdateSupplier(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	var req service.UpdateSupplierRequest
	if !h.decode(w, r, &req) {
		return
	}
	supplier, err := h.svc.Suppliers.UpdateSupplier(r.Context(), r.PathValue("id"), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, supplier)
}

// ── notifications ────────────────────────────────────────────────────────────

// ListNotifications lists the caller's notifications, newest first.
func (h *HTTPHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	unreadOnly, _ := strconv.ParseBool(q.Get("unread"))
	limit, err := parseIntParam(q.Get("limit"), "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.svc.Notifications.List(r.Context(), actor.UserID, unreadOnly, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// MarkNotificationRead flags one of the caller's notifications as read.
func (h *HTTPHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.svc.Notifications.MarkRead(r.Context(), actor.UserID, r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

type errorResponse struct {
	Code      errors.ErrCode `json:"code"`
	Message   string         `json:"message"`
	Field     string         `json:"field,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	resp := errorResponse{
		Code:      errors.CodeOf(err),
		Message:   err.Error(),
		RequestID: middleware.GetRequestID(r.Context()),
	}
	var appErr *errors.Error
	if stderrors.As(err, &appErr) {
		resp.Message = appErr.Message
		resp.Field = appErr.Field
	}
	if status >= http.StatusInternalServerError {
		h.log.Error().
			Err(err).
			Str("request_id", resp.RequestID).
			Str("path", r.URL.Path).
			Msg("Request failed")
		resp.Message = "internal error"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseIntParam(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.InvalidInput(name, "must be a non-negative integer")
	}
	return n, nil
}

// parseTimeParam accepts RFC 3339 timestamps or plain dates.
func parseTimeParam(v, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, errors.InvalidInput(name, "must be an RFC 3339 timestamp or a YYYY-MM-DD date")
}
