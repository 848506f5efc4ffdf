package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"disputeflow-backend/models"
	"disputeflow-backend/services"
)

// Store is the gorm-backed implementation of the services store interfaces.
// It is built per request (or per job) on a tenant-scoped *gorm.DB so every
// query runs against the right schema. The *ForUpdate methods only lock when
// the wrapped DB is inside a transaction; gorm issues FOR UPDATE regardless
// and Postgres scopes it to the surrounding transaction.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that need a transaction.
func (s *Store) DB() *gorm.DB { return s.db }

// WithTx returns a Store bound to tx. Used inside gorm Transaction closures.
func (s *Store) WithTx(tx *gorm.DB) *Store { return &Store{db: tx} }

func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &services.ConflictError{Msg: "duplicate key"}
	}
	return err
}

// Disputes

const disputeNumberAttempts = 3

// CreateDispute inserts a dispute. Two concurrent creates can read the same
// last row in BeforeCreate and collide on the dispute-number unique index, so
// each attempt runs in a nested transaction (a savepoint inside a request tx)
// and a collision clears the number and retries with the next one.
func (s *Store) CreateDispute(d *models.Dispute) error {
	return services.RetryOnConflict(disputeNumberAttempts,
		func() { d.DisputeNumber = "" },
		func() error {
			return translate(s.db.Transaction(func(tx *gorm.DB) error {
				return tx.Create(d).Error
			}))
		})
}

func (s *Store) DisputeByID(id string) (*models.Dispute, error) {
	var d models.Dispute
	if err := s.db.First(&d, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) DisputeForUpdate(id string) (*models.Dispute, error) {
	var d models.Dispute
	err := s.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&d, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) SaveDispute(d *models.Dispute) error {
	return translate(s.db.Save(d).Error)
}

func (s *Store) DisputesByStatus(statuses []string) ([]models.Dispute, error) {
	var out []models.Dispute
	err := s.db.Where("status IN ?", statuses).Order("due_at ASC").Find(&out).Error
	return out, err
}

// Letters

func (s *Store) LetterByID(id string) (*models.Letter, error) {
	var l models.Letter
	if err := s.db.First(&l, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) LetterForUpdate(id string) (*models.Letter, error) {
	var l models.Letter
	err := s.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&l, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// LetterByProviderId returns (nil, nil) when no letter carries the id;
// webhook events for unknown letters are dropped, not errored.
func (s *Store) LetterByProviderId(providerId string) (*models.Letter, error) {
	var l models.Letter
	err := s.db.First(&l, "provider_id = ?", providerId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) SaveLetter(l *models.Letter) error {
	return translate(s.db.Save(l).Error)
}

func (s *Store) AppendLetterEvent(e *models.LetterEvent) error {
	return translate(s.db.Create(e).Error)
}

func (s *Store) LetterEvents(letterId string) ([]models.LetterEvent, error) {
	var out []models.LetterEvent
	err := s.db.Where("letter_id = ?", letterId).Order("created_at ASC").Find(&out).Error
	return out, err
}

func (s *Store) LettersByDispute(disputeId string) ([]models.Letter, error) {
	var out []models.Letter
	err := s.db.Where("dispute_id = ?", disputeId).Order("created_at ASC").Find(&out).Error
	return out, err
}

// Tasks

func (s *Store) HasOpenTask(disputeId, taskType string) (bool, error) {
	var n int64
	err := s.db.Model(&models.DisputeTask{}).
		Where("dispute_id = ? AND type = ? AND status IN ?",
			disputeId, taskType, []string{models.TaskPending, models.TaskInProgress}).
		Count(&n).Error
	return n > 0, err
}

func (s *Store) CreateTask(t *models.DisputeTask) error {
	return translate(s.db.Create(t).Error)
}

// Webhooks

func (s *Store) FindWebhook(provider, idempotencyKey string) (*models.InboundWebhook, error) {
	var w models.InboundWebhook
	err := s.db.First(&w, "provider = ? AND idempotency_key = ?", provider, idempotencyKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// InsertWebhook creates the ledger row in a nested transaction, so a lost
// insert race rolls back to a savepoint instead of aborting the caller's
// tenant transaction.
func (s *Store) InsertWebhook(w *models.InboundWebhook) error {
	return translate(s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(w).Error
	}))
}

func (s *Store) UpdateWebhook(w *models.InboundWebhook) error {
	return translate(s.db.Save(w).Error)
}

func (s *Store) DeleteWebhooksBefore(cutoff time.Time, statuses []string) (int64, error) {
	res := s.db.Where("received_at < ? AND status IN ?", cutoff, statuses).
		Delete(&models.InboundWebhook{})
	return res.RowsAffected, res.Error
}

// Connections and reports

func (s *Store) ConnectionByID(id string) (*models.OAuthConnection, error) {
	var c models.OAuthConnection
	if err := s.db.First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ConnectionForUpdate(id string) (*models.OAuthConnection, error) {
	var c models.OAuthConnection
	err := s.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) PendingConnection(consumerId, provider string) (*models.OAuthConnection, error) {
	return s.connectionByStatus(consumerId, provider, models.ConnectionPending)
}

func (s *Store) ActiveConnection(consumerId, provider string) (*models.OAuthConnection, error) {
	return s.connectionByStatus(consumerId, provider, models.ConnectionActive)
}

func (s *Store) connectionByStatus(consumerId, provider, status string) (*models.OAuthConnection, error) {
	var c models.OAuthConnection
	err := s.db.Where("consumer_id = ? AND provider = ? AND status = ?", consumerId, provider, status).
		Order("created_at DESC").First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateConnection(c *models.OAuthConnection) error {
	return translate(s.db.Create(c).Error)
}

func (s *Store) SaveConnection(c *models.OAuthConnection) error {
	return translate(s.db.Save(c).Error)
}

func (s *Store) ConnectionsExpiringBetween(from, to time.Time) ([]models.OAuthConnection, error) {
	var out []models.OAuthConnection
	err := s.db.Where("status = ? AND token_expires_at BETWEEN ? AND ?",
		models.ConnectionActive, from, to).Find(&out).Error
	return out, err
}

func (s *Store) CreateReport(r *models.CreditReport) error {
	return translate(s.db.Create(r).Error)
}

// Consumers

func (s *Store) ConsumerByID(id string) (*models.Consumer, error) {
	var c models.Consumer
	if err := s.db.First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}
