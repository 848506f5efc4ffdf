package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Letter statuses.
const (
	LetterDraft           = "draft"
	LetterPendingApproval = "pending_approval"
	LetterApproved        = "approved"
	LetterRendering       = "rendering"
	LetterQueued          = "queued"
	LetterSent            = "sent"
	LetterInTransit       = "in_transit"
	LetterDelivered       = "delivered"
	LetterReturned        = "returned"
	LetterFailed          = "failed"
)

// Mail types accepted from the API; mapped to provider mail classes by the
// mail client.
const (
	MailFirstClass             = "first_class"
	MailCertified              = "certified"
	MailCertifiedReturnReceipt = "certified_return_receipt"
)

// Address is the postal address shape stored in the JSONB columns.
type Address struct {
	Name  string `json:"name,omitempty"`
	Line1 string `json:"line1" validate:"required"`
	Line2 string `json:"line2,omitempty"`
	City  string `json:"city" validate:"required"`
	State string `json:"state" validate:"required"`
	Zip   string `json:"zip" validate:"required"`
}

// Letter is a rendered-and-mailed document for a dispute.
type Letter struct {
	Id        string `json:"id" gorm:"primaryKey"`
	DisputeId string `json:"dispute_id" gorm:"not null;index"`

	// Content
	Type     string `json:"type" gorm:"size:50"`
	Subject  string `json:"subject" gorm:"size:255"`
	BodyHTML string `json:"body_html"`
	BodyText string `json:"body_text"`

	// Rendered output. RenderVersion only ever increases.
	PdfURL        string     `json:"pdf_url" gorm:"size:500"`
	PdfHash       string     `json:"pdf_hash" gorm:"size:64"`
	RenderVersion uint       `json:"render_version" gorm:"default:0"`
	RenderedAt    *time.Time `json:"rendered_at"`

	// Recipient / return addresses
	RecipientType    string         `json:"recipient_type" gorm:"size:20"`
	RecipientName    string         `json:"recipient_name" gorm:"size:255"`
	RecipientAddress datatypes.JSON `json:"recipient_address" gorm:"type:jsonb"`
	ReturnAddress    datatypes.JSON `json:"return_address" gorm:"type:jsonb"`

	// Mail provider integration
	ProviderId     string `json:"provider_id" gorm:"size:100;index"`
	ProviderURL    string `json:"provider_url" gorm:"size:500"`
	MailType       string `json:"mail_type" gorm:"size:50"`
	TrackingNumber string `json:"tracking_number" gorm:"size:100"`
	Carrier        string `json:"carrier" gorm:"size:50"`

	// Costs
	CostPrinting float64 `json:"cost_printing" gorm:"type:numeric(8,2)"`
	CostPostage  float64 `json:"cost_postage" gorm:"type:numeric(8,2)"`
	CostTotal    float64 `json:"cost_total" gorm:"type:numeric(8,2)"`

	// Workflow
	Status           string     `json:"status" gorm:"size:20;index;default:draft"`
	LastError        string     `json:"last_error"`
	ApprovedBy       string     `json:"approved_by" gorm:"size:128"`
	ApprovedAt       *time.Time `json:"approved_at"`
	SentAt           *time.Time `json:"sent_at" gorm:"index"`
	ExpectedDelivery *time.Time `json:"expected_delivery"`
	DeliveredAt      *time.Time `json:"delivered_at"`
	ReturnedAt       *time.Time `json:"returned_at"`
	ReturnReason     string     `json:"return_reason" gorm:"size:100"`

	CreatedBy string    `json:"created_by" gorm:"size:128"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (l *Letter) BeforeCreate(tx *gorm.DB) (err error) {
	if l.Id == "" {
		l.Id = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = LetterDraft
	}
	return
}

// LetterEvent sources.
const (
	EventSourceSystem          = "system"
	EventSourceUser            = "user"
	EventSourceProviderWebhook = "provider-webhook"
)

// LetterEvent is an append-only audit entry for a letter. Rows are never
// updated or deleted.
type LetterEvent struct {
	Id       string `json:"id" gorm:"primaryKey"`
	LetterId string `json:"letter_id" gorm:"not null;index:idx_letter_events_letter_type,priority:1"`

	EventType string         `json:"event_type" gorm:"size:50;not null;index:idx_letter_events_letter_type,priority:2"`
	EventData datatypes.JSON `json:"event_data" gorm:"type:jsonb"`

	Source   string `json:"source" gorm:"size:50;not null"`
	SourceId string `json:"source_id" gorm:"size:100"`

	CreatedAt time.Time `json:"created_at"`
}

func (e *LetterEvent) BeforeCreate(tx *gorm.DB) (err error) {
	if e.Id == "" {
		e.Id = uuid.NewString()
	}
	return
}
