package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"disputeflow-backend/models"
	"disputeflow-backend/services"
)

// smartCreditEnvelope is the outer shape of SmartCredit webhook deliveries.
type smartCreditEnvelope struct {
	EventId   string `json:"event_id"`
	EventType string `json:"event_type"`
	Data      struct {
		ConnectionId string `json:"connection_id"`
		ConsumerId   string `json:"consumer_id"`
		Bureau       string `json:"bureau"`
		AlertType    string `json:"alert_type"`
		Description  string `json:"description"`
	} `json:"data"`
}

// SmartCreditExtractor implements the SmartCredit envelope and signature
// scheme (plain HMAC over the raw body, no timestamp salt).
type SmartCreditExtractor struct {
	Secret string
}

func (SmartCreditExtractor) Provider() string { return models.ProviderSmartCredit }

func (SmartCreditExtractor) Extract(rawBody []byte, headers map[string]string) (string, string, error) {
	var env smartCreditEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return "", "", services.Validationf("malformed smartcredit webhook payload: %v", err)
	}
	key := env.EventId
	if key == "" {
		key = headers["X-Smartcredit-Event-Id"]
	}
	return env.EventType, key, nil
}

func (e SmartCreditExtractor) VerifySignature(rawBody []byte, headers map[string]string, _ time.Time) error {
	return services.VerifySmartCreditSignature(e.Secret, rawBody, headers["X-Smartcredit-Signature"])
}

// SmartCreditDeps are the collaborators the SmartCredit handlers drive.
type SmartCreditDeps struct {
	Vault *services.TokenVault
	// EnqueuePull schedules an asynchronous report fetch; the webhook
	// response must not wait on a 60s provider call.
	EnqueuePull func(connectionId, bureau string)
	// NotifyAlert surfaces a new credit alert to the tenant (task, email,
	// whatever the caller wires). Optional.
	NotifyAlert func(consumerId, alertType, description string)
}

// SmartCreditHandlers maps the credit-data provider's event vocabulary.
func SmartCreditHandlers(deps SmartCreditDeps) map[string]Handler {
	parse := func(payload []byte) (*smartCreditEnvelope, error) {
		var env smartCreditEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, services.Validationf("malformed smartcredit webhook payload: %v", err)
		}
		return &env, nil
	}

	return map[string]Handler{
		"report.ready": func(ctx context.Context, payload []byte) error {
			env, err := parse(payload)
			if err != nil {
				return err
			}
			if env.Data.ConnectionId == "" {
				return services.Validationf("report.ready event carries no connection id")
			}
			deps.EnqueuePull(env.Data.ConnectionId, env.Data.Bureau)
			return nil
		},
		"connection.expired": func(ctx context.Context, payload []byte) error {
			env, err := parse(payload)
			if err != nil {
				return err
			}
			if env.Data.ConnectionId == "" {
				return services.Validationf("connection.expired event carries no connection id")
			}
			return deps.Vault.MarkExpired(env.Data.ConnectionId)
		},
		"alert.new": func(ctx context.Context, payload []byte) error {
			env, err := parse(payload)
			if err != nil {
				return err
			}
			if deps.NotifyAlert != nil && env.Data.ConsumerId != "" {
				deps.NotifyAlert(env.Data.ConsumerId, env.Data.AlertType, env.Data.Description)
			}
			return nil
		},
	}
}
