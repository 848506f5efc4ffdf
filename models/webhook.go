package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Webhook providers.
const (
	ProviderLob         = "lob"
	ProviderSmartCredit = "smartcredit"
)

// InboundWebhook processing statuses.
const (
	WebhookPending    = "pending"
	WebhookProcessing = "processing"
	WebhookCompleted  = "completed"
	WebhookFailed     = "failed"
	WebhookSkipped    = "skipped-duplicate"
)

// InboundWebhook is the durable ledger row for one external delivery.
// The unique index on (provider, idempotency_key) is what serializes
// concurrent deliveries of the same event; it is created in
// MigrateTenantSchema and must never be dropped.
type InboundWebhook struct {
	Id string `json:"id" gorm:"primaryKey"`

	Provider  string `json:"provider" gorm:"size:50;not null;index:idx_inbound_webhooks_provider_key,unique,priority:1"`
	EventType string `json:"event_type" gorm:"size:100"`

	Payload datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	Headers datatypes.JSON `json:"headers" gorm:"type:jsonb"`

	IdempotencyKey string `json:"idempotency_key" gorm:"size:255;not null;index:idx_inbound_webhooks_provider_key,unique,priority:2"`

	ReceivedAt   time.Time  `json:"received_at"`
	ProcessedAt  *time.Time `json:"processed_at"`
	Status       string     `json:"status" gorm:"size:20;index;default:pending"`
	ErrorMessage string     `json:"error_message"`
	RetryCount   uint       `json:"retry_count" gorm:"default:0"`
}

func (w *InboundWebhook) BeforeCreate(tx *gorm.DB) (err error) {
	if w.Id == "" {
		w.Id = uuid.NewString()
	}
	if w.ReceivedAt.IsZero() {
		w.ReceivedAt = time.Now().UTC()
	}
	if w.Status == "" {
		w.Status = WebhookPending
	}
	return
}
