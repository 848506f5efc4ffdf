package webhooks

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"gorm.io/datatypes"

	"disputeflow-backend/models"
	"disputeflow-backend/services"
)

// Extractor pulls the provider-specific envelope apart: which event this is
// and the key that makes redelivery detectable. It also owns the provider's
// signature scheme.
type Extractor interface {
	Provider() string
	Extract(rawBody []byte, headers map[string]string) (eventType, idempotencyKey string, err error)
	VerifySignature(rawBody []byte, headers map[string]string, now time.Time) error
}

// A processing row older than this is presumed orphaned by a crash between
// the ledger insert and the completion mark; the next redelivery reprocesses
// it instead of skipping it as a duplicate.
const processingStaleAfter = 15 * time.Minute

// Handler applies one event type's side effects. Returning an error drives
// the ledger row to failed; the transport layer then tells the provider to
// redeliver.
type Handler func(ctx context.Context, payload []byte) error

// IngestResult reports what one delivery did.
type IngestResult struct {
	WebhookId string
	Status    string // completed | failed | skipped-duplicate
	Handled   bool   // false for unknown event types and duplicates
}

// Reconciler turns untrusted, possibly-duplicate provider deliveries into
// state transitions. The InboundWebhook ledger with its unique
// (provider, idempotency_key) index is the at-most-once guard: the row is
// inserted with status processing before any side effect, so a concurrent
// duplicate loses the insert race and short-circuits.
type Reconciler struct {
	Store      services.WebhookStore
	Extractors map[string]Extractor
	Handlers   map[string]map[string]Handler // provider -> event type -> handler
	Clock      func() time.Time
}

func NewReconciler(store services.WebhookStore) *Reconciler {
	return &Reconciler{
		Store:      store,
		Extractors: make(map[string]Extractor),
		Handlers:   make(map[string]map[string]Handler),
	}
}

// Register wires an extractor and its event handlers for one provider.
func (r *Reconciler) Register(e Extractor, handlers map[string]Handler) {
	r.Extractors[e.Provider()] = e
	r.Handlers[e.Provider()] = handlers
}

func (r *Reconciler) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

// Ingest runs the full reconciliation protocol for one delivery:
// parse, dedupe, verify, ledger-insert, dispatch, mark.
func (r *Reconciler) Ingest(ctx context.Context, provider string, rawBody []byte, headers map[string]string) (IngestResult, error) {
	var res IngestResult

	extractor, ok := r.Extractors[provider]
	if !ok {
		return res, services.Validationf("unknown webhook provider %q", provider)
	}
	eventType, key, err := extractor.Extract(rawBody, headers)
	if err != nil {
		return res, err
	}
	if key == "" {
		return res, services.Validationf("%s webhook carries no idempotency key", provider)
	}

	// Dedupe before signature work: a completed key is acknowledged without
	// re-verification so providers retrying old deliveries get a fast 200.
	existing, err := r.Store.FindWebhook(provider, key)
	if err != nil {
		return res, err
	}
	if existing != nil {
		inFlight := existing.Status == models.WebhookProcessing &&
			r.now().Sub(existing.ReceivedAt) < processingStaleAfter
		if existing.Status == models.WebhookCompleted || inFlight {
			res.WebhookId = existing.Id
			res.Status = models.WebhookSkipped
			return res, nil
		}
	}

	if err := extractor.VerifySignature(rawBody, headers, r.now()); err != nil {
		return res, err
	}

	record := existing
	if record == nil {
		headerJSON, _ := json.Marshal(headers)
		record = &models.InboundWebhook{
			Provider:       provider,
			EventType:      eventType,
			Payload:        datatypes.JSON(rawBody),
			Headers:        headerJSON,
			IdempotencyKey: key,
			Status:         models.WebhookProcessing,
		}
		if err := r.Store.InsertWebhook(record); err != nil {
			if services.IsConflict(err) {
				// lost the insert race to a concurrent duplicate
				res.Status = models.WebhookSkipped
				return res, nil
			}
			return res, err
		}
	} else {
		// A failed delivery being retried, or a processing row orphaned by a
		// crash. ReceivedAt is re-stamped so staleness tracks the latest attempt.
		record.Status = models.WebhookProcessing
		record.ReceivedAt = r.now().UTC()
		if err := r.Store.UpdateWebhook(record); err != nil {
			return res, err
		}
	}
	res.WebhookId = record.Id

	handler := r.Handlers[provider][eventType]
	if handler == nil {
		// Unknown event types are acknowledged, never errored: providers add
		// vocabulary without coordination.
		log.Printf("webhook %s/%s: no handler for event %q, acknowledging", provider, key, eventType)
		return res, r.complete(record, &res, false)
	}

	if err := handler(ctx, rawBody); err != nil {
		record.Status = models.WebhookFailed
		record.ErrorMessage = err.Error()
		record.RetryCount++
		if updErr := r.Store.UpdateWebhook(record); updErr != nil {
			log.Printf("webhook %s/%s: marking failed: %v", provider, key, updErr)
		}
		res.Status = models.WebhookFailed
		return res, err
	}
	return res, r.complete(record, &res, true)
}

func (r *Reconciler) complete(record *models.InboundWebhook, res *IngestResult, handled bool) error {
	now := r.now().UTC()
	record.Status = models.WebhookCompleted
	record.ProcessedAt = &now
	record.ErrorMessage = ""
	if err := r.Store.UpdateWebhook(record); err != nil {
		return err
	}
	res.Status = models.WebhookCompleted
	res.Handled = handled
	return nil
}

// Cleanup deletes completed and skipped ledger rows older than the retention
// cutoff. Failed rows are kept for manual review.
func (r *Reconciler) Cleanup(retention time.Duration) (int64, error) {
	cutoff := r.now().UTC().Add(-retention)
	return r.Store.DeleteWebhooksBefore(cutoff, []string{models.WebhookCompleted, models.WebhookSkipped})
}
