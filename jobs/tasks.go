package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"disputeflow-backend/services"
	"disputeflow-backend/store"
)

// Tasks builds and enqueues the asynchronous job types. Every job carries
// its tenant schema and opens a fresh tenant-pinned transaction when it
// runs, so a job retried minutes later still lands in the right schema.
type Tasks struct {
	Runner   *Runner
	InTenant func(schema string, fn func(tx *gorm.DB) error) error

	Renderer services.DocumentRenderer
	Blobs    services.BlobStore
	Mail     services.MailProvider
	Credit   services.CreditProvider
	Crypto   *services.Encryptor
	Parser   services.ReportParser

	// locks are per tenant schema so the single-flight refresh lock is
	// shared by every vault touching that tenant's connections. The vaults
	// themselves are built per call, bound to the caller's transaction.
	mu    sync.Mutex
	locks map[string]*services.ConnLocks
}

func (t *Tasks) pipeline(schema string, s *store.Store) *services.LetterPipeline {
	return &services.LetterPipeline{
		Letters:  s,
		Disputes: s,
		Renderer: t.Renderer,
		Blobs:    t.Blobs,
		Mail:     t.Mail,
		Contexts: &services.ContextBuilder{Disputes: s, Consumers: s},
		EnqueueRender: func(letterId string) {
			t.EnqueueRender(schema, letterId)
		},
	}
}

// Vault builds a token vault bound to the given store. The returned vault is
// owned by the caller; only the tenant's refresh-lock registry is shared, so
// concurrent refreshes still single-flight without any goroutine ever seeing
// another caller's store.
func (t *Tasks) Vault(schema string, s services.ConnectionStore) *services.TokenVault {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*services.ConnLocks)
	}
	locks, ok := t.locks[schema]
	if !ok {
		locks = services.NewConnLocks()
		t.locks[schema] = locks
	}
	t.mu.Unlock()

	return &services.TokenVault{
		Store:    s,
		Provider: t.Credit,
		Crypto:   t.Crypto,
		Locks:    locks,
	}
}

func (t *Tasks) EnqueueRender(schema, letterId string) {
	t.Runner.Enqueue(&Job{
		Id:    fmt.Sprintf("render/%s/%s", schema, letterId),
		Class: ClassRender,
		Run: func(ctx context.Context) error {
			return t.withStore(schema, func(s *store.Store) error {
				l, err := s.LetterByID(letterId)
				if err != nil {
					return err
				}
				return t.pipeline(schema, s).Render(ctx, l, time.Now())
			})
		},
	})
}

func (t *Tasks) EnqueueSend(schema, letterId string) {
	t.Runner.Enqueue(&Job{
		Id:    fmt.Sprintf("send/%s/%s", schema, letterId),
		Class: ClassSend,
		Run: func(ctx context.Context) error {
			return t.withStore(schema, func(s *store.Store) error {
				l, err := s.LetterByID(letterId)
				if err != nil {
					return err
				}
				return t.pipeline(schema, s).Send(ctx, l, time.Now())
			})
		},
	})
}

func (t *Tasks) EnqueuePull(schema, connectionId, bureau string) {
	t.Runner.Enqueue(&Job{
		Id:    fmt.Sprintf("pull/%s/%s/%s", schema, connectionId, bureau),
		Class: ClassPull,
		Run: func(ctx context.Context) error {
			return t.withStore(schema, func(s *store.Store) error {
				puller := &services.CreditPuller{
					Store:    s,
					Vault:    t.Vault(schema, s),
					Provider: t.Credit,
					Parser:   t.Parser,
				}
				if bureau == "" {
					_, err := puller.PullAll(ctx, connectionId)
					return err
				}
				_, err := puller.Pull(ctx, connectionId, bureau)
				return err
			})
		},
	})
}

// withStore runs fn with a store bound to a tenant-pinned transaction. The
// transaction commits even when fn fails so failure-state writes survive.
func (t *Tasks) withStore(schema string, fn func(s *store.Store) error) error {
	return t.InTenant(schema, func(tx *gorm.DB) error {
		return fn(store.New(tx))
	})
}
