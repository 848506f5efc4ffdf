package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Dispute statuses. Transitions between them are owned by services.DisputeFlow;
// nothing else may write Status.
const (
	DisputeDraft            = "draft"
	DisputePendingReview    = "pending_review"
	DisputeApproved         = "approved"
	DisputeMailed           = "mailed"
	DisputeAwaitingResponse = "awaiting_response"
	DisputeResponded        = "responded"
	DisputeResolved         = "resolved"
	DisputeEscalated        = "escalated"
	DisputeClosed           = "closed"
)

// Dispute outcomes.
const (
	OutcomeDeleted           = "deleted"
	OutcomeCorrected         = "corrected"
	OutcomeVerified          = "verified"
	OutcomeNoResponse        = "no_response"
	OutcomePartialCorrection = "partial_correction"
	OutcomeRejected          = "rejected"
	OutcomeEscalated         = "escalated"
)

// Bureaus.
const (
	BureauEquifax    = "equifax"
	BureauExperian   = "experian"
	BureauTransUnion = "transunion"
)

// Dispute is a credit dispute against one bureau, optionally tied to a tradeline.
type Dispute struct {
	Id         string `json:"id" gorm:"primaryKey"`
	ConsumerId string `json:"consumer_id" gorm:"not null;index:idx_disputes_consumer_bureau,priority:1"`

	// Identification. DisputeNumber is assigned once in BeforeCreate and never changes.
	DisputeNumber string `json:"dispute_number" gorm:"size:20;uniqueIndex"`
	Bureau        string `json:"bureau" gorm:"size:20;not null;index:idx_disputes_consumer_bureau,priority:2"`

	// Classification
	Type        string         `json:"type" gorm:"size:50;not null"`
	ReasonCodes datatypes.JSON `json:"reason_codes" gorm:"type:jsonb"` // ["INACCURATE_BALANCE", ...]

	// Content
	Narrative string `json:"narrative"`

	Status string `json:"status" gorm:"size:20;index;default:draft"`

	// Timeline. DueAt is set when the dispute enters mailed and is only ever
	// moved by an explicit extension (ExtendedDueAt).
	SubmittedAt   *time.Time `json:"submitted_at"`
	DueAt         *time.Time `json:"due_at" gorm:"index"`
	ExtendedDueAt *time.Time `json:"extended_due_at"`
	RespondedAt   *time.Time `json:"responded_at"`
	ClosedAt      *time.Time `json:"closed_at"`

	// Outcome
	Outcome        string         `json:"outcome" gorm:"size:50"`
	OutcomeDetails datatypes.JSON `json:"outcome_details" gorm:"type:jsonb"`
	BureauResponse string         `json:"bureau_response"`

	// Assignment
	CreatedBy  string `json:"created_by" gorm:"size:128"`
	AssignedTo string `json:"assigned_to" gorm:"size:128;index"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (d *Dispute) BeforeCreate(tx *gorm.DB) (err error) {
	if d.Id == "" {
		d.Id = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = DisputeDraft
	}
	if d.DisputeNumber == "" {
		d.DisputeNumber, err = nextDisputeNumber(tx)
	}
	return
}

// nextDisputeNumber issues DSP-%08d sequence numbers per tenant schema.
func nextDisputeNumber(tx *gorm.DB) (string, error) {
	var last Dispute
	err := tx.Unscoped().Order("created_at DESC").Select("dispute_number").First(&last).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "DSP-00000001", nil
		}
		return "", err
	}
	n, convErr := strconv.Atoi(strings.TrimPrefix(last.DisputeNumber, "DSP-"))
	if convErr != nil {
		return "DSP-00000001", nil
	}
	return fmt.Sprintf("DSP-%08d", n+1), nil
}

// EffectiveDueAt is the deadline SLA checks run against: the extended due
// date when an extension was granted, the original due date otherwise.
func (d *Dispute) EffectiveDueAt() *time.Time {
	if d.ExtendedDueAt != nil {
		return d.ExtendedDueAt
	}
	return d.DueAt
}
