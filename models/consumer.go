package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Consumer is the person whose credit is being disputed. SSN is stored
// AES-GCM encrypted with only the last four digits in the clear.
type Consumer struct {
	Id string `json:"id" gorm:"primaryKey"`

	FirstName  string     `json:"first_name" gorm:"size:100;not null;index:idx_consumers_name,priority:2"`
	MiddleName string     `json:"middle_name" gorm:"size:100"`
	LastName   string     `json:"last_name" gorm:"size:100;not null;index:idx_consumers_name,priority:1"`
	Suffix     string     `json:"suffix" gorm:"size:20"`
	DOB        *time.Time `json:"dob"`

	SSNEncrypted string `json:"-"`
	SSNLast4     string `json:"ssn_last4" gorm:"size:4;index"`

	// JSON arrays: [{type, line1, line2, city, state, zip}], [{type, number}], ...
	Addresses datatypes.JSON `json:"addresses" gorm:"type:jsonb"`
	Phones    datatypes.JSON `json:"phones" gorm:"type:jsonb"`
	Emails    datatypes.JSON `json:"emails" gorm:"type:jsonb"`

	Notes string `json:"notes"`

	CreatedBy string    `json:"created_by" gorm:"size:128"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Consumer) BeforeCreate(tx *gorm.DB) (err error) {
	if c.Id == "" {
		c.Id = uuid.NewString()
	}
	return
}

// FullName joins the populated name parts.
func (c *Consumer) FullName() string {
	out := c.FirstName
	for _, p := range []string{c.MiddleName, c.LastName, c.Suffix} {
		if p != "" {
			out += " " + p
		}
	}
	return out
}
