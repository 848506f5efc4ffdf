package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DisputeTask types created by the SLA scheduler or by users.
const (
	TaskReviewLetter    = "review_letter"
	TaskSendLetter      = "send_letter"
	TaskFollowUp        = "follow_up"
	TaskCheckResponse   = "check_response"
	TaskEscalate        = "escalate"
	TaskGatherEvidence  = "gather_evidence"
	TaskContactConsumer = "contact_consumer"
)

// DisputeTask statuses. A task counts as "open" while pending or in progress;
// the scheduler's duplicate check relies on that definition.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskCancelled  = "cancelled"
)

// DisputeTask priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// DisputeTask is a derived work item for a dispute.
type DisputeTask struct {
	Id        string `json:"id" gorm:"primaryKey"`
	DisputeId string `json:"dispute_id" gorm:"not null;index:idx_tasks_dispute_type,priority:1"`

	Type        string `json:"type" gorm:"size:50;not null;index:idx_tasks_dispute_type,priority:2"`
	Title       string `json:"title" gorm:"size:255;not null"`
	Description string `json:"description"`

	DueAt      time.Time  `json:"due_at" gorm:"index"`
	ReminderAt *time.Time `json:"reminder_at"`

	Status   string `json:"status" gorm:"size:20;index;default:pending"`
	Priority string `json:"priority" gorm:"size:20;default:normal"`

	AssignedTo string `json:"assigned_to" gorm:"size:128;index"`

	CompletedAt     *time.Time `json:"completed_at"`
	CompletedBy     string     `json:"completed_by" gorm:"size:128"`
	CompletionNotes string     `json:"completion_notes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *DisputeTask) BeforeCreate(tx *gorm.DB) (err error) {
	if t.Id == "" {
		t.Id = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}
	return
}

// Open reports whether the task still blocks creation of another task of the
// same type for the same dispute.
func (t *DisputeTask) Open() bool {
	return t.Status == TaskPending || t.Status == TaskInProgress
}
