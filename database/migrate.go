package database

import (
	"fmt"

	"gorm.io/gorm"

	"disputeflow-backend/models"
)

// MigrateTenantSchema applies (idempotent) schema migrations for a single
// tenant schema:
// - AutoMigrate (tables/columns/index tags)
// - Cost column types (NUMERIC(8,2))
// - The load-bearing unique index on inbound_webhooks(provider, idempotency_key)
// - Partial unique index: one active connection per (consumer, provider)
// - Foreign keys and basic CHECK constraints
func MigrateTenantSchema(schema string) error {
	if schema == "" {
		return fmt.Errorf("schema name is empty")
	}

	return DB.Transaction(func(tx *gorm.DB) error {
		// Pin the tenant schema for this transaction
		if err := tx.Exec(`CREATE SCHEMA IF NOT EXISTS "` + schema + `"`).Error; err != nil {
			return fmt.Errorf("create schema failed: %w", err)
		}
		if err := tx.Exec(`SET LOCAL search_path = "` + schema + `", public`).Error; err != nil {
			return fmt.Errorf("set search_path failed: %w", err)
		}

		// --- AutoMigrate tables/columns/index tags (non-destructive) ---
		if err := tx.AutoMigrate(
			&models.Consumer{},
			&models.Dispute{},
			&models.Letter{},
			&models.LetterEvent{},
			&models.OAuthConnection{},
			&models.CreditReport{},
			&models.InboundWebhook{},
			&models.DisputeTask{},
			&models.IdempotencyKey{},
		); err != nil {
			return fmt.Errorf("tenant automigrate failed: %w", err)
		}

		// --- Enforce cost columns as NUMERIC(8,2) (idempotent ALTERs) ---
		alters := []string{
			`ALTER TABLE letters ALTER COLUMN cost_printing TYPE numeric(8,2)`,
			`ALTER TABLE letters ALTER COLUMN cost_postage  TYPE numeric(8,2)`,
			`ALTER TABLE letters ALTER COLUMN cost_total    TYPE numeric(8,2)`,
		}
		for _, stmt := range alters {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("cost type migration failed on: %s - %w", stmt, err)
			}
		}

		// --- Composite / helpful indexes (idempotent) ---
		// The inbound_webhooks index is the webhook dedupe guard; it must be
		// unique or replayed deliveries double-apply side effects.
		indexes := []string{
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_inbound_webhooks_provider_key ON inbound_webhooks (provider, idempotency_key)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_disputes_dispute_number ON disputes (dispute_number)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_connections_one_active ON o_auth_connections (consumer_id, provider) WHERE status = 'active'`,
			`CREATE INDEX IF NOT EXISTS idx_letter_events_letter_type ON letter_events (letter_id, event_type)`,
			`CREATE INDEX IF NOT EXISTS idx_tasks_dispute_type ON dispute_tasks (dispute_id, type)`,
			`CREATE INDEX IF NOT EXISTS idx_disputes_due_at ON disputes (due_at)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_idempotency_keys_key ON idempotency_keys (key)`,
		}
		for _, stmt := range indexes {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("index migration failed on: %s - %w", stmt, err)
			}
		}

		// --- Foreign keys (idempotent) ---
		fks := []string{
			`DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_constraint
		WHERE conrelid = 'disputes'::regclass
		  AND conname  = 'fk_disputes_consumer'
	) THEN
		ALTER TABLE disputes
		ADD CONSTRAINT fk_disputes_consumer
		FOREIGN KEY (consumer_id)
		REFERENCES consumers(id)
		ON UPDATE RESTRICT
		ON DELETE RESTRICT;
	END IF;
END $$;`,
			`DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_constraint
		WHERE conrelid = 'letters'::regclass
		  AND conname  = 'fk_letters_dispute'
	) THEN
		ALTER TABLE letters
		ADD CONSTRAINT fk_letters_dispute
		FOREIGN KEY (dispute_id)
		REFERENCES disputes(id)
		ON UPDATE RESTRICT
		ON DELETE RESTRICT;
	END IF;
END $$;`,
			`DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_constraint
		WHERE conrelid = 'letter_events'::regclass
		  AND conname  = 'fk_letter_events_letter'
	) THEN
		ALTER TABLE letter_events
		ADD CONSTRAINT fk_letter_events_letter
		FOREIGN KEY (letter_id)
		REFERENCES letters(id)
		ON UPDATE RESTRICT
		ON DELETE CASCADE;
	END IF;
END $$;`,
		}
		for _, stmt := range fks {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("foreign key migration failed: %w", err)
			}
		}

		// --- Basic CHECK constraints (idempotent) ---
		checks := []string{
			`DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_constraint
		WHERE conrelid = 'letters'::regclass
		  AND conname  = 'chk_letters_costs_nonneg'
	) THEN
		ALTER TABLE letters
		ADD CONSTRAINT chk_letters_costs_nonneg
		CHECK (cost_printing >= 0 AND cost_postage >= 0 AND cost_total >= 0);
	END IF;
END $$;`,
			`DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_constraint
		WHERE conrelid = 'inbound_webhooks'::regclass
		  AND conname  = 'chk_inbound_webhooks_key_nonempty'
	) THEN
		ALTER TABLE inbound_webhooks
		ADD CONSTRAINT chk_inbound_webhooks_key_nonempty
		CHECK (idempotency_key <> '');
	END IF;
END $$;`,
		}
		for _, stmt := range checks {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("check constraint migration failed: %w", err)
			}
		}

		return nil
	})
}
