package services

import (
	"context"
	"encoding/json"
	"time"

	"disputeflow-backend/models"
)

// Narrow persistence interfaces consumed by the core services. The gorm
// implementations live in the store package; tests substitute in-memory
// fakes. Methods named *ForUpdate must lock the row for the enclosing
// transaction so read-then-check-then-write transitions don't lose updates.

type DisputeStore interface {
	DisputeByID(id string) (*models.Dispute, error)
	DisputeForUpdate(id string) (*models.Dispute, error)
	SaveDispute(d *models.Dispute) error
	DisputesByStatus(statuses []string) ([]models.Dispute, error)
}

type LetterStore interface {
	LetterByID(id string) (*models.Letter, error)
	LetterForUpdate(id string) (*models.Letter, error)
	LetterByProviderId(providerId string) (*models.Letter, error)
	SaveLetter(l *models.Letter) error
	AppendLetterEvent(e *models.LetterEvent) error
}

type TaskStore interface {
	HasOpenTask(disputeId, taskType string) (bool, error)
	CreateTask(t *models.DisputeTask) error
}

type WebhookStore interface {
	// FindWebhook returns (nil, nil) when no ledger row exists.
	FindWebhook(provider, idempotencyKey string) (*models.InboundWebhook, error)
	// InsertWebhook returns a ConflictError when the (provider, key) row
	// already exists; this is the concurrency guard for duplicate deliveries.
	InsertWebhook(w *models.InboundWebhook) error
	UpdateWebhook(w *models.InboundWebhook) error
	DeleteWebhooksBefore(cutoff time.Time, statuses []string) (int64, error)
}

type ConnectionStore interface {
	ConnectionByID(id string) (*models.OAuthConnection, error)
	ConnectionForUpdate(id string) (*models.OAuthConnection, error)
	PendingConnection(consumerId, provider string) (*models.OAuthConnection, error)
	ActiveConnection(consumerId, provider string) (*models.OAuthConnection, error)
	CreateConnection(c *models.OAuthConnection) error
	SaveConnection(c *models.OAuthConnection) error
	ConnectionsExpiringBetween(from, to time.Time) ([]models.OAuthConnection, error)
	CreateReport(r *models.CreditReport) error
	ConsumerByID(id string) (*models.Consumer, error)
}

// External collaborators. The core owns none of their mechanics; failures
// surface as RenderError-class ExternalServiceErrors.

// DocumentRenderer turns letter HTML plus template context into a document.
// Returns the rendered bytes and their SHA-256 hex digest.
type DocumentRenderer interface {
	Render(ctx context.Context, bodyHTML string, tc TemplateContext) ([]byte, string, error)
}

// BlobStore persists rendered documents and returns a fetchable URL.
type BlobStore interface {
	Store(ctx context.Context, data []byte, key string) (string, error)
}

// MailProvider prints and mails letters and verifies addresses.
type MailProvider interface {
	SendLetter(ctx context.Context, req SendLetterRequest) (*SendLetterResult, error)
	VerifyAddress(ctx context.Context, addr models.Address) (*AddressVerification, error)
	CancelLetter(ctx context.Context, providerId string) (bool, error)
}

// CreditProvider is the OAuth2 credit-data service.
type CreditProvider interface {
	AuthorizeURL(redirectURI, state string, scopes []string, consumerId string) string
	ExchangeCode(ctx context.Context, code string) (*TokenGrant, error)
	RefreshGrant(ctx context.Context, refreshToken string) (*TokenGrant, error)
	FetchReport(ctx context.Context, accessToken, bureau string) (json.RawMessage, error)
}

// ReportParser extracts the stored summary from a raw bureau report.
type ReportParser interface {
	Parse(raw json.RawMessage) (*ReportSummary, error)
}

type SendLetterRequest struct {
	Description string
	To          models.Address
	From        models.Address
	FileURL     string
	MailType    string
	Metadata    map[string]string
}

type SendLetterResult struct {
	ProviderId       string
	ProviderURL      string
	TrackingNumber   string
	Carrier          string
	ExpectedDelivery *time.Time
	CostPrinting     float64
	CostPostage      float64
}

type AddressVerification struct {
	Deliverable    bool
	Deliverability string
	Normalized     models.Address
}

type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int // seconds
}

type ReportSummary struct {
	ReportDate        *time.Time
	Score             *uint
	ScoreFactors      []string
	TradelineCount    uint
	InquiryCount      uint
	PublicRecordCount uint
}
