package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Tenant is a credit-repair organization. It lives in the public schema;
// all dispute data lives in the tenant's own schema (SchemaName).
type Tenant struct {
	Id   string `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"not null;unique"`
	Slug string `json:"slug" gorm:"size:100;unique"`

	// Branding: logo_url, letterhead_url, return_address
	Branding datatypes.JSON `json:"branding" gorm:"type:jsonb"`

	// Per-tenant provider configuration (API keys resolved at runtime,
	// env fallback when absent).
	LobConfig         datatypes.JSON `json:"-" gorm:"type:jsonb"`
	SmartCreditConfig datatypes.JSON `json:"-" gorm:"type:jsonb"`

	OwnerId    string `json:"-"`
	Owner      User   `json:"owner" gorm:"foreignKey:OwnerId;references:Id"`
	SchemaName string `json:"-" gorm:"unique"`
}

func (t *Tenant) BeforeCreate(tx *gorm.DB) (err error) {
	if t.Id == "" {
		t.Id = uuid.NewString()
	}
	return
}
