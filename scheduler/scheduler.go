package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"disputeflow-backend/jobs"
	"disputeflow-backend/models"
	"disputeflow-backend/services"
	"disputeflow-backend/store"
	"disputeflow-backend/webhooks"
)

const (
	// Tokens entering this window get proactively refreshed by the daily
	// sweep instead of waiting for a request to hit the expiry.
	tokenRefreshWindow = 7 * 24 * time.Hour

	// Completed webhook ledger rows older than this are deleted.
	webhookRetention = 90 * 24 * time.Hour
)

// Scheduler runs the periodic sweeps across all tenants. Each sweep iterates
// the tenant list fresh so newly provisioned tenants are picked up without a
// restart; one tenant's failure is logged and does not stop the others.
type Scheduler struct {
	Tenants  func() ([]models.Tenant, error)
	InTenant func(schema string, fn func(tx *gorm.DB) error) error
	Tasks    *jobs.Tasks

	cron *cron.Cron
}

// Start registers the cron entries and launches the runner.
func (s *Scheduler) Start() {
	s.cron = cron.New()
	s.cron.AddFunc("@hourly", s.SweepSLA)
	s.cron.AddFunc("15 6 * * *", s.RefreshTokens)
	s.cron.AddFunc("45 3 * * *", s.CleanupWebhooks)
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// SweepSLA partitions each tenant's open disputes into approaching and
// overdue and creates the deadline tasks. Safe to run repeatedly.
func (s *Scheduler) SweepSLA() {
	s.eachTenant("sla sweep", func(tenant *models.Tenant, st *store.Store) error {
		sweeper := &services.SLASweeper{Disputes: st, Tasks: st}
		res, err := sweeper.Sweep()
		if err != nil {
			return err
		}
		if res.FollowUps > 0 || res.Escalations > 0 {
			log.Printf("sla sweep [%s]: %d scanned, %d follow-ups, %d escalations",
				tenant.Slug, res.Scanned, res.FollowUps, res.Escalations)
		}
		return nil
	})
}

// RefreshTokens renews active connections whose tokens expire within the
// refresh window. Failures mark the connection expired via the vault; the
// consumer then has to reconnect.
func (s *Scheduler) RefreshTokens() {
	now := time.Now().UTC()
	tenants, err := s.Tenants()
	if err != nil {
		log.Printf("token refresh: listing tenants: %v", err)
		return
	}
	for i := range tenants {
		tenant := &tenants[i]
		var ids []string
		err := s.InTenant(tenant.SchemaName, func(tx *gorm.DB) error {
			conns, err := store.New(tx).ConnectionsExpiringBetween(now, now.Add(tokenRefreshWindow))
			if err != nil {
				return err
			}
			for i := range conns {
				ids = append(ids, conns[i].Id)
			}
			return nil
		})
		if err != nil {
			log.Printf("token refresh [%s]: %v", tenant.Slug, err)
			continue
		}
		for _, id := range ids {
			// One transaction per connection: tokens renewed for the others
			// are already committed when one refresh goes wrong.
			err := s.InTenant(tenant.SchemaName, func(tx *gorm.DB) error {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return s.Tasks.Vault(tenant.SchemaName, store.New(tx)).Refresh(ctx, id)
			})
			if err != nil {
				log.Printf("token refresh [%s]: connection %s: %v", tenant.Slug, id, err)
			}
		}
	}
}

// CleanupWebhooks drops completed ledger rows past retention. Failed rows
// stay for manual review.
func (s *Scheduler) CleanupWebhooks() {
	s.eachTenant("webhook cleanup", func(tenant *models.Tenant, st *store.Store) error {
		n, err := (&webhooks.Reconciler{Store: st}).Cleanup(webhookRetention)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Printf("webhook cleanup [%s]: deleted %d rows", tenant.Slug, n)
		}
		return nil
	})
}

func (s *Scheduler) eachTenant(label string, fn func(t *models.Tenant, st *store.Store) error) {
	tenants, err := s.Tenants()
	if err != nil {
		log.Printf("%s: listing tenants: %v", label, err)
		return
	}
	for i := range tenants {
		t := &tenants[i]
		err := s.InTenant(t.SchemaName, func(tx *gorm.DB) error {
			return fn(t, store.New(tx))
		})
		if err != nil {
			log.Printf("%s [%s]: %v", label, t.Slug, err)
		}
	}
}
