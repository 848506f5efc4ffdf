package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OAuth connection statuses.
const (
	ConnectionPending = "pending"
	ConnectionActive  = "active"
	ConnectionExpired = "expired"
	ConnectionRevoked = "revoked"
	ConnectionError   = "error"
)

// OAuthConnection holds a consumer's credentials for a credit-data provider.
// Tokens are stored AES-GCM encrypted; only services.TokenVault reads or
// writes them. At most one active connection may exist per
// (consumer, provider) pair, enforced by a partial unique index in
// MigrateTenantSchema.
type OAuthConnection struct {
	Id         string `json:"id" gorm:"primaryKey"`
	ConsumerId string `json:"consumer_id" gorm:"not null;index:idx_connections_consumer_status,priority:1"`
	Provider   string `json:"provider" gorm:"size:50;not null"`

	AccessToken    string     `json:"-"` // encrypted
	RefreshToken   string     `json:"-"` // encrypted
	TokenExpiresAt *time.Time `json:"token_expires_at"`

	Scopes datatypes.JSON `json:"scopes" gorm:"type:jsonb"`

	Status string `json:"status" gorm:"size:20;index:idx_connections_consumer_status,priority:2;default:pending"`

	// Transient OAuth state; single-use, cleared on completion or expiry.
	OAuthState        string     `json:"-" gorm:"size:64"`
	OAuthStateExpires *time.Time `json:"-"`

	// Usage tracking
	LastPullAt *time.Time `json:"last_pull_at"`
	PullCount  uint       `json:"pull_count" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *OAuthConnection) BeforeCreate(tx *gorm.DB) (err error) {
	if c.Id == "" {
		c.Id = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = ConnectionPending
	}
	return
}

// CreditReport is one bureau report pulled through an OAuth connection.
// RawJSON keeps the provider payload verbatim; RawJSONHash is its SHA-256.
type CreditReport struct {
	Id           string `json:"id" gorm:"primaryKey"`
	ConsumerId   string `json:"consumer_id" gorm:"not null;index:idx_reports_consumer_bureau,priority:1"`
	ConnectionId string `json:"connection_id" gorm:"index"`

	Bureau     string     `json:"bureau" gorm:"size:20;not null;index:idx_reports_consumer_bureau,priority:2"`
	PulledAt   time.Time  `json:"pulled_at"`
	ReportDate *time.Time `json:"report_date"`

	RawJSON     datatypes.JSON `json:"-" gorm:"type:jsonb"`
	RawJSONHash string         `json:"raw_json_hash" gorm:"size:64"`

	Score             *uint          `json:"score"`
	ScoreFactors      datatypes.JSON `json:"score_factors" gorm:"type:jsonb"`
	TradelineCount    uint           `json:"tradeline_count" gorm:"default:0"`
	InquiryCount      uint           `json:"inquiry_count" gorm:"default:0"`
	PublicRecordCount uint           `json:"public_record_count" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at"`
}

func (r *CreditReport) BeforeCreate(tx *gorm.DB) (err error) {
	if r.Id == "" {
		r.Id = uuid.NewString()
	}
	return
}
