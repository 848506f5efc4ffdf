package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"disputeflow-backend/models"
	"disputeflow-backend/services"
)

// lobEnvelope is the outer shape of every Lob webhook delivery.
type lobEnvelope struct {
	Id        string `json:"id"`
	EventType struct {
		Id string `json:"id"`
	} `json:"event_type"`
	Body json.RawMessage `json:"body"`
}

// lobLetterBody is the letter resource embedded in letter.* events.
type lobLetterBody struct {
	Id             string `json:"id"`
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
	TrackingEvents []struct {
		Name string `json:"name"`
		Time string `json:"time"`
	} `json:"tracking_events"`
	ReturnReason string `json:"return_reason"`
}

// LobExtractor implements the Lob envelope and signature scheme.
type LobExtractor struct {
	Secret string
}

func (LobExtractor) Provider() string { return models.ProviderLob }

func (LobExtractor) Extract(rawBody []byte, headers map[string]string) (string, string, error) {
	var env lobEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return "", "", services.Validationf("malformed lob webhook payload: %v", err)
	}
	key := env.Id
	if key == "" {
		key = headers["Lob-Event-Id"]
	}
	return env.EventType.Id, key, nil
}

func (e LobExtractor) VerifySignature(rawBody []byte, headers map[string]string, now time.Time) error {
	return services.VerifyLobSignature(e.Secret,
		headers["Lob-Signature-Timestamp"], rawBody, headers["Lob-Signature"], now)
}

// LobHandlers maps Lob's letter event vocabulary onto the letter pipeline.
// Every handler looks the local letter up by Lob's letter id; events for
// letters we never sent are acknowledged and dropped.
func LobHandlers(letters services.LetterStore, pipeline *services.LetterPipeline, clock func() time.Time) map[string]Handler {
	now := func() time.Time {
		if clock != nil {
			return clock()
		}
		return time.Now()
	}

	withLetter := func(fn func(l *models.Letter, body lobLetterBody, sourceId string) error) Handler {
		return func(ctx context.Context, payload []byte) error {
			var env lobEnvelope
			if err := json.Unmarshal(payload, &env); err != nil {
				return services.Validationf("malformed lob webhook payload: %v", err)
			}
			var body lobLetterBody
			if err := json.Unmarshal(env.Body, &body); err != nil {
				return services.Validationf("malformed lob letter body: %v", err)
			}
			if body.Id == "" {
				return services.Validationf("lob event %s carries no letter id", env.Id)
			}
			l, err := letters.LetterByProviderId(body.Id)
			if err != nil {
				return err
			}
			if l == nil {
				// not one of ours (other environment, deleted tenant data)
				return nil
			}
			return fn(l, body, env.Id)
		}
	}

	return map[string]Handler{
		"letter.created": withLetter(func(l *models.Letter, body lobLetterBody, sourceId string) error {
			// confirmation only, the send call already stored the ids
			return nil
		}),
		"letter.rendered_pdf": withLetter(func(l *models.Letter, body lobLetterBody, sourceId string) error {
			return nil
		}),
		"letter.in_transit": withLetter(func(l *models.Letter, body lobLetterBody, sourceId string) error {
			return pipeline.MarkInTransit(l, sourceId)
		}),
		"letter.in_local_area": withLetter(func(l *models.Letter, body lobLetterBody, sourceId string) error {
			return pipeline.MarkInTransit(l, sourceId)
		}),
		"letter.processed_for_delivery": withLetter(func(l *models.Letter, body lobLetterBody, sourceId string) error {
			return pipeline.MarkInTransit(l, sourceId)
		}),
		"letter.re_routed": withLetter(func(l *models.Letter, body lobLetterBody, sourceId string) error {
			return pipeline.MarkInTransit(l, sourceId)
		}),
		"letter.delivered": withLetter(func(l *models.Letter, body lobLetterBody, sourceId string) error {
			return pipeline.MarkDelivered(l, sourceId, now())
		}),
		"letter.returned_to_sender": withLetter(func(l *models.Letter, body lobLetterBody, sourceId string) error {
			reason := body.ReturnReason
			if reason == "" {
				reason = "returned to sender"
			}
			return pipeline.MarkReturned(l, reason, sourceId, now())
		}),
		"letter.deleted": withLetter(func(l *models.Letter, body lobLetterBody, sourceId string) error {
			// Lob cancelled the piece before handoff; terminal on our side too.
			if l.Status == models.LetterFailed {
				return nil
			}
			return pipeline.MarkProviderCancelled(l, sourceId)
		}),
	}
}
