package services

import (
	"encoding/json"
	"time"

	"disputeflow-backend/models"
)

// TemplateContext carries the variables a letter template may reference.
// Field names match the template placeholder vocabulary.
type TemplateContext struct {
	ConsumerName    string         `json:"consumer_name"`
	ConsumerAddress models.Address `json:"consumer_address"`
	SSNLast4        string         `json:"ssn_last4,omitempty"`
	DateOfBirth     string         `json:"date_of_birth,omitempty"`

	DisputeNumber string   `json:"dispute_number"`
	Bureau        string   `json:"bureau"`
	DisputeType   string   `json:"dispute_type"`
	ReasonCodes   []string `json:"reason_codes,omitempty"`
	Narrative     string   `json:"narrative,omitempty"`

	RecipientName    string         `json:"recipient_name"`
	RecipientAddress models.Address `json:"recipient_address"`
	ReturnAddress    models.Address `json:"return_address"`

	Today string `json:"today"`
}

// ConsumerStore is the slice of persistence the context builder needs.
type ConsumerStore interface {
	ConsumerByID(id string) (*models.Consumer, error)
}

// TemplateContextBuilder assembles the render context for a letter.
type TemplateContextBuilder interface {
	Build(l *models.Letter) (TemplateContext, error)
}

// BureauAddress returns the dispute-department mailing address for a bureau.
// Falls back to false for unknown bureau codes so callers can require an
// explicit recipient address instead.
func BureauAddress(bureau string) (models.Address, bool) {
	switch bureau {
	case models.BureauEquifax:
		return models.Address{
			Name:  "Equifax Information Services LLC",
			Line1: "P.O. Box 740256",
			City:  "Atlanta",
			State: "GA",
			Zip:   "30374",
		}, true
	case models.BureauExperian:
		return models.Address{
			Name:  "Experian",
			Line1: "P.O. Box 4500",
			City:  "Allen",
			State: "TX",
			Zip:   "75013",
		}, true
	case models.BureauTransUnion:
		return models.Address{
			Name:  "TransUnion LLC Consumer Dispute Center",
			Line1: "P.O. Box 2000",
			City:  "Chester",
			State: "PA",
			Zip:   "19016",
		}, true
	}
	return models.Address{}, false
}

// ContextBuilder is the default TemplateContextBuilder backed by the stores.
type ContextBuilder struct {
	Disputes  DisputeStore
	Consumers ConsumerStore
	Clock     func() time.Time
}

func (b *ContextBuilder) now() time.Time {
	if b.Clock != nil {
		return b.Clock()
	}
	return time.Now()
}

func (b *ContextBuilder) Build(l *models.Letter) (TemplateContext, error) {
	var tc TemplateContext

	d, err := b.Disputes.DisputeByID(l.DisputeId)
	if err != nil {
		return tc, err
	}
	c, err := b.Consumers.ConsumerByID(d.ConsumerId)
	if err != nil {
		return tc, err
	}

	tc.ConsumerName = c.FullName()
	tc.SSNLast4 = c.SSNLast4
	if c.DOB != nil {
		tc.DateOfBirth = c.DOB.Format("01/02/2006")
	}
	tc.ConsumerAddress = primaryAddress(c)

	tc.DisputeNumber = d.DisputeNumber
	tc.Bureau = d.Bureau
	tc.DisputeType = d.Type
	tc.Narrative = d.Narrative
	if len(d.ReasonCodes) > 0 {
		_ = json.Unmarshal(d.ReasonCodes, &tc.ReasonCodes)
	}

	tc.RecipientName = l.RecipientName
	if len(l.RecipientAddress) > 0 {
		_ = json.Unmarshal(l.RecipientAddress, &tc.RecipientAddress)
	}
	if tc.RecipientAddress.Line1 == "" {
		if addr, ok := BureauAddress(d.Bureau); ok {
			tc.RecipientAddress = addr
			if tc.RecipientName == "" {
				tc.RecipientName = addr.Name
			}
		}
	}
	if len(l.ReturnAddress) > 0 {
		_ = json.Unmarshal(l.ReturnAddress, &tc.ReturnAddress)
	}
	if tc.ReturnAddress.Line1 == "" {
		tc.ReturnAddress = tc.ConsumerAddress
		tc.ReturnAddress.Name = tc.ConsumerName
	}

	tc.Today = b.now().Format("January 2, 2006")
	return tc, nil
}

// primaryAddress picks the first stored address for the consumer.
func primaryAddress(c *models.Consumer) models.Address {
	var addrs []models.Address
	if len(c.Addresses) > 0 {
		_ = json.Unmarshal(c.Addresses, &addrs)
	}
	if len(addrs) > 0 {
		return addrs[0]
	}
	return models.Address{}
}
