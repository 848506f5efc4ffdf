package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gorm.io/gorm"

	"disputeflow-backend/models"
)

// In-memory store fakes. They implement the narrow store interfaces the
// services consume so the state machines are tested without a database.

type fakeDisputeStore struct {
	mu       sync.Mutex
	disputes map[string]*models.Dispute
}

func newFakeDisputeStore(disputes ...*models.Dispute) *fakeDisputeStore {
	s := &fakeDisputeStore{disputes: make(map[string]*models.Dispute)}
	for _, d := range disputes {
		s.disputes[d.Id] = d
	}
	return s
}

func (s *fakeDisputeStore) DisputeByID(id string) (*models.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *fakeDisputeStore) DisputeForUpdate(id string) (*models.Dispute, error) {
	return s.DisputeByID(id)
}

func (s *fakeDisputeStore) SaveDispute(d *models.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.disputes[d.Id] = &cp
	return nil
}

func (s *fakeDisputeStore) DisputesByStatus(statuses []string) ([]models.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Dispute
	for _, d := range s.disputes {
		for _, st := range statuses {
			if d.Status == st {
				out = append(out, *d)
				break
			}
		}
	}
	return out, nil
}

type fakeLetterStore struct {
	mu      sync.Mutex
	letters map[string]*models.Letter
	events  []models.LetterEvent
}

func newFakeLetterStore(letters ...*models.Letter) *fakeLetterStore {
	s := &fakeLetterStore{letters: make(map[string]*models.Letter)}
	for _, l := range letters {
		s.letters[l.Id] = l
	}
	return s
}

func (s *fakeLetterStore) LetterByID(id string) (*models.Letter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.letters[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *fakeLetterStore) LetterForUpdate(id string) (*models.Letter, error) {
	return s.LetterByID(id)
}

func (s *fakeLetterStore) LetterByProviderId(providerId string) (*models.Letter, error) {
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

func (s *fakeLetterStore) SaveLetter(l *models.Letter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.letters[l.Id] = &cp
	return nil
}

func (s *fakeLetterStore) AppendLetterEvent(e *models.LetterEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

func (s *fakeLetterStore) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakeTaskStore struct {
	mu    sync.Mutex
	tasks []models.DisputeTask
}

func (s *fakeTaskStore) HasOpenTask(disputeId, taskType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		t := &s.tasks[i]
		if t.DisputeId == disputeId && t.Type == taskType && t.Open() {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeTaskStore) CreateTask(t *models.DisputeTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, *t)
	return nil
}

type fakeConnectionStore struct {
	mu      sync.Mutex
	conns   map[string]*models.OAuthConnection
	reports []models.CreditReport
}

func newFakeConnectionStore(conns ...*models.OAuthConnection) *fakeConnectionStore {
	s := &fakeConnectionStore{conns: make(map[string]*models.OAuthConnection)}
	for _, c := range conns {
		s.conns[c.Id] = c
	}
	return s
}

func (s *fakeConnectionStore) ConnectionByID(id string) (*models.OAuthConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeConnectionStore) ConnectionForUpdate(id string) (*models.OAuthConnection, error) {
	return s.ConnectionByID(id)
}

func (s *fakeConnectionStore) PendingConnection(consumerId, provider string) (*models.OAuthConnection, error) {
	return s.byStatus(consumerId, provider, models.ConnectionPending)
}

func (s *fakeConnectionStore) ActiveConnection(consumerId, provider string) (*models.OAuthConnection, error) {
	return s.byStatus(consumerId, provider, models.ConnectionActive)
}

func (s *fakeConnectionStore) byStatus(consumerId, provider, status string) (*models.OAuthConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		if c.ConsumerId == consumerId && c.Provider == provider && c.Status == status {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeConnectionStore) CreateConnection(c *models.OAuthConnection) error {
	if c.Id == "" {
		c.Id = "conn-" + time.Now().Format("150405.000000000")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.conns[c.Id] = &cp
	return nil
}

func (s *fakeConnectionStore) SaveConnection(c *models.OAuthConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.conns[c.Id] = &cp
	return nil
}

func (s *fakeConnectionStore) ConnectionsExpiringBetween(from, to time.Time) ([]models.OAuthConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OAuthConnection
	for _, c := range s.conns {
		if c.Status != models.ConnectionActive || c.TokenExpiresAt == nil {
			continue
		}
		if c.TokenExpiresAt.After(from) && c.TokenExpiresAt.Before(to) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *fakeConnectionStore) CreateReport(r *models.CreditReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, *r)
	return nil
}

func (s *fakeConnectionStore) ConsumerByID(id string) (*models.Consumer, error) {
	return &models.Consumer{Id: id, FirstName: "Jane", LastName: "Doe"}, nil
}

// Collaborator fakes

type fakeMailProvider struct {
	mu        sync.Mutex
	sendCalls []SendLetterRequest
	sendErr   error
	result    *SendLetterResult
	cancelled []string
	cancelOK  bool
}

func (m *fakeMailProvider) SendLetter(_ context.Context, req SendLetterRequest) (*SendLetterResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls = append(m.sendCalls, req)
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	if m.result != nil {
		return m.result, nil
	}
	return &SendLetterResult{ProviderId: "ltr_123", TrackingNumber: "9400100000000000000000"}, nil
}

func (m *fakeMailProvider) VerifyAddress(_ context.Context, addr models.Address) (*AddressVerification, error) {
	return &AddressVerification{Deliverable: true, Deliverability: "deliverable", Normalized: addr}, nil
}

func (m *fakeMailProvider) CancelLetter(_ context.Context, providerId string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, providerId)
	return m.cancelOK, nil
}

type fakeRenderer struct {
	data []byte
	hash string
	err  error
}

func (r *fakeRenderer) Render(_ context.Context, _ string, _ TemplateContext) ([]byte, string, error) {
	if r.err != nil {
		return nil, "", r.err
	}
	return r.data, r.hash, nil
}

type fakeBlobStore struct {
	err  error
	keys []string
}

func (b *fakeBlobStore) Store(_ context.Context, _ []byte, key string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	b.keys = append(b.keys, key)
	return "https://blobs.test/" + key, nil
}

type fakeCreditProvider struct {
	mu           sync.Mutex
	refreshCalls int
	refreshErr   error
	exchangeErr  error
	grant        *TokenGrant
	report       json.RawMessage
	reportErr    error
}

func (p *fakeCreditProvider) AuthorizeURL(redirectURI, state string, scopes []string, consumerId string) string {
	return "https://auth.test/authorize?state=" + state
}

func (p *fakeCreditProvider) ExchangeCode(_ context.Context, code string) (*TokenGrant, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return p.grantOrDefault(), nil
}

func (p *fakeCreditProvider) RefreshGrant(_ context.Context, refreshToken string) (*TokenGrant, error) {
	p.mu.Lock()
	p.refreshCalls++
	p.mu.Unlock()
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return p.grantOrDefault(), nil
}

func (p *fakeCreditProvider) FetchReport(_ context.Context, accessToken, bureau string) (json.RawMessage, error) {
	if p.reportErr != nil {
		return nil, p.reportErr
	}
	if p.report != nil {
		return p.report, nil
	}
	return json.RawMessage(`{"report_date":"2026-08-01","score":640,"tradelines":[{},{}],"inquiries":[{}],"public_records":[]}`), nil
}

func (p *fakeCreditProvider) refreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

func (p *fakeCreditProvider) grantOrDefault() *TokenGrant {
	if p.grant != nil {
		cp := *p.grant
		return &cp
	}
	return &TokenGrant{AccessToken: "at-new", RefreshToken: "rt-new", ExpiresIn: 3600}
}

func mustAddr(t interface{ Fatalf(string, ...any) }, a models.Address) []byte {
	blob, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal address: %v", err)
	}
	return blob
}

func testEncryptor(t interface{ Fatalf(string, ...any) }) *Encryptor {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}
	return enc
}
