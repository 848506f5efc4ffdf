package controllers

import (
	"net/textproto"
	"strings"

	"disputeflow-backend/database"
	"disputeflow-backend/models"
	"disputeflow-backend/services"
	"disputeflow-backend/store"
	"disputeflow-backend/webhooks"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Webhook routes are unauthenticated (providers can't send JWTs); the tenant
// is addressed by slug in the URL and authenticity comes from the provider's
// HMAC signature.

// POST /api/webhooks/:tenant/lob
func IngestLobWebhook(c *fiber.Ctx) error {
	return ingestWebhook(c, models.ProviderLob)
}

// POST /api/webhooks/:tenant/smartcredit
func IngestSmartCreditWebhook(c *fiber.Ctx) error {
	return ingestWebhook(c, models.ProviderSmartCredit)
}

func ingestWebhook(c *fiber.Ctx, provider string) error {
	schema, err := tenantSchemaBySlug(c.Params("tenant"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "unknown tenant")
	}

	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(k, v []byte) {
		headers[textproto.CanonicalMIMEHeaderKey(string(k))] = string(v)
	})

	body := make([]byte, len(c.Body()))
	copy(body, c.Body())

	// The whole ingest runs inside one tenant-pinned transaction. WithTenant
	// commits even on handler failure, so the failed ledger row survives and
	// the provider's retry finds it.
	var res webhooks.IngestResult
	err = database.WithTenant(schema, func(tx *gorm.DB) error {
		s := store.New(tx)

		rec := webhooks.NewReconciler(s)
		rec.Register(webhooks.LobExtractor{Secret: LobWebhookSecret},
			webhooks.LobHandlers(s, webhookPipeline(s), nil))
		rec.Register(webhooks.SmartCreditExtractor{Secret: SmartCreditWebhookSecret},
			webhooks.SmartCreditHandlers(webhooks.SmartCreditDeps{
				Vault: Tasks.Vault(schema, s),
				EnqueuePull: func(connectionId, bureau string) {
					Tasks.EnqueuePull(schema, connectionId, bureau)
				},
			}))

		var ingErr error
		res, ingErr = rec.Ingest(c.UserContext(), provider, body, headers)
		return ingErr
	})
	if err != nil {
		// Signature and parse failures map through the error handler (401/422);
		// handler failures surface as 500 so the provider retries.
		return err
	}
	return c.JSON(fiber.Map{
		"status":     res.Status,
		"webhook_id": res.WebhookId,
	})
}

// webhookPipeline builds a letter pipeline for webhook-driven transitions.
// No renderer or mail client is needed; tracking events only move state.
func webhookPipeline(s *store.Store) *services.LetterPipeline {
	return &services.LetterPipeline{
		Letters:  s,
		Disputes: s,
	}
}

func tenantSchemaBySlug(slug string) (string, error) {
	slug = strings.TrimSpace(slug)
	var tenant models.Tenant
	if err := database.DB.Table("public.tenants").Where("slug = ?", slug).First(&tenant).Error; err != nil {
		return "", err
	}
	return tenant.SchemaName, nil
}
