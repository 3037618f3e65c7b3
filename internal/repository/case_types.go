package repository

import "time"

// ── Enumerations ─────────────────────────────────────────────────────────────

// CaseStatus is the workflow state of a procurement case.
type CaseStatus string

const (
	StatusNew            CaseStatus = "NEW"
	StatusMissingInfo    CaseStatus = "MISSING_INFO"
	StatusAssigned       CaseStatus = "ASSIGNED"
	StatusWaitingQuotes  CaseStatus = "WAITING_QUOTES"
	StatusReadyForReview CaseStatus = "READY_FOR_REVIEW"
	StatusReadyToSend    CaseStatus = "READY_TO_SEND"
	StatusSent           CaseStatus = "SENT"
	StatusClosed         CaseStatus = "CLOSED"
)

// AllStatuses lists every status in workflow order.
var AllStatuses = []CaseStatus{
	StatusNew,
	StatusMissingInfo,
	StatusAssigned,
	StatusWaitingQuotes,
	StatusReadyForReview,
	StatusReadyToSend,
	StatusSent,
	StatusClosed,
}

// ClosedStatuses are the statuses that no longer count toward buyer workload
// and that quotes no longer advance.
var ClosedStatuses = []CaseStatus{StatusClosed, StatusSent}

// Valid reports whether s is a known status.
func (s CaseStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsClosed reports whether s is SENT or CLOSED.
func (s CaseStatus) IsClosed() bool {
	return s == StatusSent || s == StatusClosed
}

// Priority is the business priority of a case.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// UserRole is the role of a staff user.
type UserRole string

const (
	RoleAdmin UserRole = "ADMIN"
	RoleBuyer UserRole = "BUYER"
)

// ChecklistStatus is the state of a checklist entry.
type ChecklistStatus string

const (
	ChecklistOpen    ChecklistStatus = "OPEN"
	ChecklistDone    ChecklistStatus = "DONE"
	ChecklistBlocked ChecklistStatus = "BLOCKED"
)

// Valid reports whether s is a known checklist status.
func (s ChecklistStatus) Valid() bool {
	return s == ChecklistOpen || s == ChecklistDone || s == ChecklistBlocked
}

// EventType classifies a case history entry.
type EventType string

const (
	EventCreated           EventType = "CREATED"
	EventStatusChange      EventType = "STATUS_CHANGE"
	EventAssignment        EventType = "ASSIGNMENT"
	EventRFQSent           EventType = "RFQ_SENT"
	EventQuoteReceived     EventType = "QUOTE_RECEIVED"
	EventExceptionApproved EventType = "EXCEPTION_APPROVED"
	EventFinalSent         EventType = "FINAL_SENT"
	EventNoteAdded         EventType = "NOTE_ADDED"
	EventChecklistUpdated  EventType = "CHECKLIST_UPDATED"
)

// EmailType classifies an outbound email record.
type EmailType string

const (
	EmailRFQ           EmailType = "RFQ"
	EmailFinalResponse EmailType = "FINAL_RESPONSE"
)

// Notification types and severities.
const (
	NotificationNewPR      = "NEW_PR"
	NotificationAssignment = "ASSIGNMENT"
	NotificationFinalSent  = "FINAL_SENT"

	SeverityInfo = "INFO"
)

// ── Entities ─────────────────────────────────────────────────────────────────

// Case is a procurement request tracked through its lifecycle.
type Case struct {
	ID                    string     `json:"id"`
	PRNumber              string     `json:"prNumber"`
	Subject               string     `json:"subject"`
	RequesterName         string     `json:"requesterName"`
	RequesterEmail        string     `json:"requesterEmail"`
	Department            string     `json:"department"`
	Priority              Priority   `json:"priority"`
	NeededBy              time.Time  `json:"neededBy"`
	CostCenter            string     `json:"costCenter"`
	DeliveryLocation      string     `json:"deliveryLocation"`
	BudgetEstimate        float64    `json:"budgetEstimate"`
	Status                CaseStatus `json:"status"`
	AssignedBuyerID       *string    `json:"assignedBuyerId"`
	ExceptionApprovedByID *string    `json:"exceptionApprovedById"`
	ExceptionApprovedAt   *time.Time `json:"exceptionApprovedAt"`
	ExceptionReason       *string    `json:"exceptionReason"`
	SummaryForProcurement string     `json:"summaryForProcurement"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// HasException reports whether an admin has waived the quote gate.
func (c *Case) HasException() bool {
	return c.ExceptionApprovedAt != nil
}

// ExceptionApproval sets all three exception fields together.
type ExceptionApproval struct {
	ApprovedByID string
	ApprovedAt   time.Time
	Reason       string
}

// CasePatch is a field-sparse case update. Nil fields are left untouched.
type CasePatch struct {
	Subject               *string
	RequesterName         *string
	RequesterEmail        *string
	Department            *string
	Priority              *Priority
	NeededBy              *time.Time
	CostCenter            *string
	DeliveryLocation      *string
	BudgetEstimate        *float64
	Status                *CaseStatus
	AssignedBuyerID       *string
	Exception             *ExceptionApproval
	SummaryForProcurement *string
}

// IsEmpty reports whether the patch touches no field.
func (p CasePatch) IsEmpty() bool {
	return p.Subject == nil && p.RequesterName == nil && p.RequesterEmail == nil &&
		p.Department == nil && p.Priority == nil && p.NeededBy == nil &&
		p.CostCenter == nil && p.DeliveryLocation == nil && p.BudgetEstimate == nil &&
		p.Status == nil && p.AssignedBuyerID == nil && p.Exception == nil &&
		p.SummaryForProcurement == nil
}

// Apply copies the patched fields onto c.
func (p CasePatch) Apply(c *Case) {
	if p.Subject != nil {
		c.Subject = *p.Subject
	}
	if p.RequesterName != nil {
		c.RequesterName = *p.RequesterName
	}
	if p.RequesterEmail != nil {
		c.RequesterEmail = *p.RequesterEmail
	}
	if p.Department != nil {
		c.Department = *p.Department
	}
	if p.Priority != nil {
		c.Priority = *p.Priority
	}
	if p.NeededBy != nil {
		c.NeededBy = *p.NeededBy
	}
	if p.CostCenter != nil {
		c.CostCenter = *p.CostCenter
	}
	if p.DeliveryLocation != nil {
		c.DeliveryLocation = *p.DeliveryLocation
	}
	if p.BudgetEstimate != nil {
		c.BudgetEstimate = *p.BudgetEstimate
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.AssignedBuyerID != nil {
		id := *p.AssignedBuyerID
		c.AssignedBuyerID = &id
	}
	if p.Exception != nil {
		by, at, reason := p.Exception.ApprovedByID, p.Exception.ApprovedAt, p.Exception.Reason
		c.ExceptionApprovedByID = &by
		c.ExceptionApprovedAt = &at
		c.ExceptionReason = &reason
	}
	if p.SummaryForProcurement != nil {
		c.SummaryForProcurement = *p.SummaryForProcurement
	}
}

// CaseFilter narrows ListCases. Zero values are ignored.
type CaseFilter struct {
	Statuses        []CaseStatus
	Priority        *Priority
	RequesterEmail  string // substring match
	AssignedBuyerID string
	CreatedFrom     *time.Time
	CreatedTo       *time.Time
	Search          string // PR number, subject or requester name substring
	Limit           int
	Offset          int
}

// CaseCountFilter narrows CountCases.
type CaseCountFilter struct {
	Status      *CaseStatus
	StatusNotIn []CaseStatus
}

// StatusCount is one row of a per-status breakdown.
type StatusCount struct {
	Status CaseStatus `json:"status"`
	Count  int64      `json:"count"`
}

// CaseItem is one requested line on a case.
type CaseItem struct {
	ID          string  `json:"id"`
	CaseID      string  `json:"caseId"`
	Description string  `json:"description"`
	Qty         float64 `json:"qty"`
	UOM         string  `json:"uom"`
	Specs       string  `json:"specs"`
}

// Quote is a supplier price received for a case.
type Quote struct {
	ID         string    `json:"id"`
	CaseID     string    `json:"caseId"`
	SupplierID string    `json:"supplierId"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	ReceivedAt time.Time `json:"receivedAt"`
	FileID     *string   `json:"fileId"`
	Notes      *string   `json:"notes"`
}

// Supplier can be asked for quotes.
type Supplier struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Categories []string  `json:"categories"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SupplierPatch is a field-sparse supplier update. A nil Categories slice
// leaves categories untouched.
type SupplierPatch struct {
	Name       *string
	Email      *string
	Categories []string
	IsActive   *bool
}

// ChecklistItem is an informational to-do on a case.
type ChecklistItem struct {
	ID        string          `json:"id"`
	CaseID    string          `json:"caseId"`
	Title     string          `json:"title"`
	Status    ChecklistStatus `json:"status"`
	OwnerRole string          `json:"ownerRole"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Note is a free-text comment on a case.
type Note struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"caseId"`
	AuthorID  *string   `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FileRecord is metadata for an uploaded file. Content lives elsewhere.
type FileRecord struct {
	ID         string    `json:"id"`
	CaseID     string    `json:"caseId"`
	Type       string    `json:"type"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	StorageKey string    `json:"storageKey"`
	UploadedBy string    `json:"uploadedBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

// OutboundEmail records an email the workflow asked to send.
type OutboundEmail struct {
	ID                string    `json:"id"`
	CaseID            *string   `json:"caseId"`
	Type              EmailType `json:"type"`
	To                []string  `json:"to"`
	CC                []string  `json:"cc"`
	Subject           string    `json:"subject"`
	Body              string    `json:"body"`
	AttachmentFileIDs []string  `json:"attachmentFileIds"`
	CreatedBy         *string   `json:"createdBy"`
	CreatedAt         time.Time `json:"createdAt"`
}

// CaseEvent is one immutable case history entry.
type CaseEvent struct {
	ID          string                 `json:"id"`
	Seq         int64                  `json:"seq"`
	CaseID      string                 `json:"caseId"`
	ActorUserID *string                `json:"actorUserId"`
	Type        EventType              `json:"type"`
	Detail      map[string]interface{} `json:"detail"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// Notification is a user-facing message. Only IsRead ever changes.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CaseID    *string   `json:"caseId"`
	Severity  string    `json:"severity"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is a staff member.
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Role         UserRole   `json:"role"`
	PasswordHash string     `json:"-"`
	LastMFAAt    *time.Time `json:"lastMfaAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}
