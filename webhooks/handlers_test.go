package webhooks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"disputeflow-backend/models"
	"disputeflow-backend/services"
)

type memLetterStore struct {
	mu      sync.Mutex
	letters map[string]*models.Letter
	events  []models.LetterEvent
}

func newMemLetterStore(letters ...*models.Letter) *memLetterStore {
	s := &memLetterStore{letters: make(map[string]*models.Letter)}
	for _, l := range letters {
		s.letters[l.Id] = l
	}
	return s
}

func (s *memLetterStore) LetterByID(id string) (*models.Letter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.letters[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *memLetterStore) LetterForUpdate(id string) (*models.Letter, error) { return s.LetterByID(id) }

func (s *memLetterStore) LetterByProviderId(providerId string) (*models.Letter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.letters {
		if l.ProviderId == providerId {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memLetterStore) SaveLetter(l *models.Letter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.letters[l.Id] = &cp
	return nil
}

func (s *memLetterStore) AppendLetterEvent(e *models.LetterEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

type memDisputeStore struct {
	mu       sync.Mutex
	disputes map[string]*models.Dispute
}

func newMemDisputeStore(disputes ...*models.Dispute) *memDisputeStore {
	s := &memDisputeStore{disputes: make(map[string]*models.Dispute)}
	for _, d := range disputes {
		s.disputes[d.Id] = d
	}
	return s
}

func (s *memDisputeStore) DisputeByID(id string) (*models.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *memDisputeStore) DisputeForUpdate(id string) (*models.Dispute, error) {
	return s.DisputeByID(id)
}

func (s *memDisputeStore) SaveDispute(d *models.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.disputes[d.Id] = &cp
	return nil
}

func (s *memDisputeStore) DisputesByStatus(statuses []string) ([]models.Dispute, error) {
	return nil, nil
}

func TestLobExtractor(t *testing.T) {
	e := LobExtractor{Secret: "whsec"}

	eventType, key, err := e.Extract([]byte(`{"id":"evt_9","event_type":{"id":"letter.delivered"},"body":{}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "letter.delivered", eventType)
	assert.Equal(t, "evt_9", key)

	// header fallback when the body carries no id
	_, key, err = e.Extract([]byte(`{"event_type":{"id":"letter.created"}}`),
		map[string]string{"Lob-Event-Id": "evt_hdr"})
	require.NoError(t, err)
	assert.Equal(t, "evt_hdr", key)

	_, _, err = e.Extract([]byte(`{{`), nil)
	assert.True(t, services.IsValidation(err))
}

func TestSmartCreditExtractor(t *testing.T) {
	e := SmartCreditExtractor{Secret: "sc"}

	eventType, key, err := e.Extract([]byte(`{"event_id":"evt_1","event_type":"report.ready","data":{}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "report.ready", eventType)
	assert.Equal(t, "evt_1", key)

	_, key, err = e.Extract([]byte(`{"event_type":"alert.new"}`),
		map[string]string{"X-Smartcredit-Event-Id": "evt_hdr"})
	require.NoError(t, err)
	assert.Equal(t, "evt_hdr", key)
}

func lobDeliveredPayload(providerLetterId string) []byte {
	return []byte(`{"id":"evt_1","event_type":{"id":"letter.delivered"},"body":{"id":"` + providerLetterId + `"}}`)
}

func TestLobDeliveredAdvancesLetterAndDispute(t *testing.T) {
	disputes := newMemDisputeStore(&models.Dispute{Id: "d1", Status: models.DisputeMailed})
	letters := newMemLetterStore(&models.Letter{
		Id: "l1", DisputeId: "d1", Status: models.LetterInTransit, ProviderId: "ltr_abc",
	})
	pipeline := &services.LetterPipeline{Letters: letters, Disputes: disputes}
	now := time.Date(2026, 8, 10, 15, 0, 0, 0, time.UTC)
	handlers := LobHandlers(letters, pipeline, func() time.Time { return now })

	err := handlers["letter.delivered"](context.Background(), lobDeliveredPayload("ltr_abc"))
	require.NoError(t, err)

	l, _ := letters.LetterByID("l1")
	assert.Equal(t, models.LetterDelivered, l.Status)
	require.NotNil(t, l.DeliveredAt)
	assert.Equal(t, now, *l.DeliveredAt)

	d, _ := disputes.DisputeByID("d1")
	assert.Equal(t, models.DisputeAwaitingResponse, d.Status)
}

func TestLobEventForForeignLetterDropped(t *testing.T) {
	letters := newMemLetterStore()
	pipeline := &services.LetterPipeline{Letters: letters, Disputes: newMemDisputeStore()}
	handlers := LobHandlers(letters, pipeline, nil)

	err := handlers["letter.delivered"](context.Background(), lobDeliveredPayload("ltr_not_ours"))
	assert.NoError(t, err, "events for letters we never sent are acknowledged and dropped")
}

func TestLobReturnedDefaultReason(t *testing.T) {
	letters := newMemLetterStore(&models.Letter{
		Id: "l1", DisputeId: "d1", Status: models.LetterInTransit, ProviderId: "ltr_abc",
	})
	pipeline := &services.LetterPipeline{Letters: letters, Disputes: newMemDisputeStore()}
	handlers := LobHandlers(letters, pipeline, nil)

	payload := []byte(`{"id":"evt_2","event_type":{"id":"letter.returned_to_sender"},"body":{"id":"ltr_abc"}}`)
	require.NoError(t, handlers["letter.returned_to_sender"](context.Background(), payload))

	l, _ := letters.LetterByID("l1")
	assert.Equal(t, models.LetterReturned, l.Status)
	assert.Equal(t, "returned to sender", l.ReturnReason)
}

func TestLobDeletedIdempotentOnFailedLetter(t *testing.T) {
	letters := newMemLetterStore(&models.Letter{
		Id: "l1", DisputeId: "d1", Status: models.LetterFailed, ProviderId: "ltr_abc",
	})
	pipeline := &services.LetterPipeline{Letters: letters, Disputes: newMemDisputeStore()}
	handlers := LobHandlers(letters, pipeline, nil)

	payload := []byte(`{"id":"evt_3","event_type":{"id":"letter.deleted"},"body":{"id":"ltr_abc"}}`)
	assert.NoError(t, handlers["letter.deleted"](context.Background(), payload))
}

func TestSmartCreditReportReadyEnqueuesPull(t *testing.T) {
	type pull struct{ conn, bureau string }
	var pulls []pull
	handlers := SmartCreditHandlers(SmartCreditDeps{
		EnqueuePull: func(connectionId, bureau string) {
			pulls = append(pulls, pull{connectionId, bureau})
		},
	})

	payload := []byte(`{"event_id":"evt_1","event_type":"report.ready","data":{"connection_id":"conn-1","bureau":"equifax"}}`)
	require.NoError(t, handlers["report.ready"](context.Background(), payload))
	require.Len(t, pulls, 1)
	assert.Equal(t, pull{"conn-1", "equifax"}, pulls[0])

	// missing connection id is the provider's bug, surfaced as a failure
	err := handlers["report.ready"](context.Background(), []byte(`{"event_id":"evt_2","event_type":"report.ready","data":{}}`))
	assert.True(t, services.IsValidation(err))
}

func TestSmartCreditAlertNotifies(t *testing.T) {
	var got []string
	handlers := SmartCreditHandlers(SmartCreditDeps{
		NotifyAlert: func(consumerId, alertType, description string) {
			got = []string{consumerId, alertType, description}
		},
	})

	payload := []byte(`{"event_id":"evt_1","event_type":"alert.new","data":{"consumer_id":"c1","alert_type":"new_inquiry","description":"Hard inquiry from Acme Bank"}}`)
	require.NoError(t, handlers["alert.new"](context.Background(), payload))
	assert.Equal(t, []string{"c1", "new_inquiry", "Hard inquiry from Acme Bank"}, got)

	// without a notifier the alert is simply acknowledged
	bare := SmartCreditHandlers(SmartCreditDeps{})
	assert.NoError(t, bare["alert.new"](context.Background(), payload))
}
