package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"disputeflow-backend/models"
)

const (
	// OAuth state tokens are single-use and expire quickly.
	oauthStateTTL = 10 * time.Minute

	// Refresh slack: a token is treated as expired slightly before the
	// provider's deadline so in-flight requests don't race the expiry.
	tokenExpirySlack = 30 * time.Second
)

// ConnLocks is a registry of per-connection mutexes single-flighting token
// refreshes. One registry is shared per tenant, so every vault instance built
// for that tenant serializes on the same locks while keeping its own store.
type ConnLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func NewConnLocks() *ConnLocks {
	return &ConnLocks{m: make(map[string]*sync.Mutex)}
}

func (c *ConnLocks) get(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.m[id]
	if !ok {
		l = &sync.Mutex{}
		c.m[id] = l
	}
	return l
}

// TokenVault stores provider OAuth tokens encrypted at rest and hands back
// valid access tokens, refreshing transparently. Refreshes for one connection
// are single-flighted through the per-connection mutexes in Locks; the winner
// re-reads the row after acquiring so a refresh completed by another caller
// is observed instead of repeated. A vault is bound to one store and must not
// be shared across transactions; share the ConnLocks instead.
type TokenVault struct {
	Store    ConnectionStore
	Provider CreditProvider
	Crypto   *Encryptor
	Locks    *ConnLocks
	Clock    func() time.Time

	mu sync.Mutex
}

func NewTokenVault(store ConnectionStore, provider CreditProvider, crypto *Encryptor) *TokenVault {
	return &TokenVault{
		Store:    store,
		Provider: provider,
		Crypto:   crypto,
		Locks:    NewConnLocks(),
	}
}

func (v *TokenVault) now() time.Time {
	if v.Clock != nil {
		return v.Clock()
	}
	return time.Now()
}

func (v *TokenVault) connLock(id string) *sync.Mutex {
	v.mu.Lock()
	if v.Locks == nil {
		v.Locks = NewConnLocks()
	}
	locks := v.Locks
	v.mu.Unlock()
	return locks.get(id)
}

// Initiate starts the authorization-code flow for a consumer. An existing
// pending connection for the (consumer, provider) pair is reused so repeated
// clicks don't pile up rows; its state token is rotated either way.
func (v *TokenVault) Initiate(consumerId, provider, redirectURI string, scopes []string) (string, *models.OAuthConnection, error) {
	state, err := randomState()
	if err != nil {
		return "", nil, err
	}
	expires := v.now().UTC().Add(oauthStateTTL)

	conn, err := v.Store.PendingConnection(consumerId, provider)
	if err != nil {
		return "", nil, err
	}
	if conn == nil {
		conn = &models.OAuthConnection{
			ConsumerId: consumerId,
			Provider:   provider,
			Status:     models.ConnectionPending,
		}
		conn.OAuthState = state
		conn.OAuthStateExpires = &expires
		if err := v.Store.CreateConnection(conn); err != nil {
			return "", nil, err
		}
	} else {
		conn.OAuthState = state
		conn.OAuthStateExpires = &expires
		if err := v.Store.SaveConnection(conn); err != nil {
			return "", nil, err
		}
	}

	authURL := v.Provider.AuthorizeURL(redirectURI, state, scopes, consumerId)
	return authURL, conn, nil
}

// Complete finishes the flow: validates the single-use state, exchanges the
// code, encrypts the grant and activates the connection. Any previously
// active connection for the pair is revoked so the partial unique index on
// (consumer_id, provider) where status='active' holds.
func (v *TokenVault) Complete(ctx context.Context, consumerId, provider, code, state string) (*models.OAuthConnection, error) {
	conn, err := v.Store.PendingConnection(consumerId, provider)
	if err != nil {
		return nil, err
	}
	now := v.now().UTC()
	if conn == nil || conn.OAuthState == "" || conn.OAuthState != state {
		return nil, &AuthError{Msg: "no pending authorization matches the supplied state"}
	}
	if conn.OAuthStateExpires == nil || now.After(*conn.OAuthStateExpires) {
		return nil, &AuthError{Msg: "authorization state expired, restart the connection flow"}
	}

	grant, err := v.Provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := v.applyGrant(conn, grant, now); err != nil {
		return nil, err
	}

	if prev, err := v.Store.ActiveConnection(consumerId, provider); err != nil {
		return nil, err
	} else if prev != nil && prev.Id != conn.Id {
		prev.Status = models.ConnectionRevoked
		if err := v.Store.SaveConnection(prev); err != nil {
			return nil, err
		}
	}

	conn.Status = models.ConnectionActive
	conn.OAuthState = ""
	conn.OAuthStateExpires = nil
	if err := v.Store.SaveConnection(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// AccessToken returns a valid decrypted access token for the connection,
// refreshing first when the stored one has expired. On refresh failure the
// connection is marked expired and an AuthError is returned; callers must
// re-initiate OAuth rather than retry.
func (v *TokenVault) AccessToken(ctx context.Context, connectionId string) (string, error) {
	conn, err := v.Store.ConnectionByID(connectionId)
	if err != nil {
		return "", err
	}
	if conn.Status != models.ConnectionActive {
		return "", &AuthError{Msg: "connection is not active"}
	}
	if !v.expired(conn) {
		return v.Crypto.Decrypt(conn.AccessToken)
	}

	lock := v.connLock(conn.Id)
	lock.Lock()
	defer lock.Unlock()

	// Re-read: a concurrent caller may have refreshed while we waited.
	conn, err = v.Store.ConnectionByID(connectionId)
	if err != nil {
		return "", err
	}
	if conn.Status != models.ConnectionActive {
		return "", &AuthError{Msg: "connection is not active"}
	}
	if !v.expired(conn) {
		return v.Crypto.Decrypt(conn.AccessToken)
	}

	if err := v.refresh(ctx, conn); err != nil {
		return "", err
	}
	return v.Crypto.Decrypt(conn.AccessToken)
}

// Refresh forces a refresh-grant call regardless of the stored expiry. Used
// by the daily sweep to renew tokens entering their expiry window.
func (v *TokenVault) Refresh(ctx context.Context, connectionId string) error {
	lock := v.connLock(connectionId)
	lock.Lock()
	defer lock.Unlock()

	conn, err := v.Store.ConnectionByID(connectionId)
	if err != nil {
		return err
	}
	if conn.Status != models.ConnectionActive {
		return &AuthError{Msg: "connection is not active"}
	}
	return v.refresh(ctx, conn)
}

func (v *TokenVault) refresh(ctx context.Context, conn *models.OAuthConnection) error {
	refreshToken, err := v.Crypto.Decrypt(conn.RefreshToken)
	if err != nil {
		return err
	}
	grant, err := v.Provider.RefreshGrant(ctx, refreshToken)
	if err != nil {
		if IsAuthError(err) {
			conn.Status = models.ConnectionExpired
			if saveErr := v.Store.SaveConnection(conn); saveErr != nil {
				return saveErr
			}
		}
		return err
	}
	if err := v.applyGrant(conn, grant, v.now().UTC()); err != nil {
		return err
	}
	return v.Store.SaveConnection(conn)
}

// applyGrant encrypts and stores a token grant. The refresh token is only
// replaced when the provider issued a new one.
func (v *TokenVault) applyGrant(conn *models.OAuthConnection, grant *TokenGrant, now time.Time) error {
	access, err := v.Crypto.Encrypt(grant.AccessToken)
	if err != nil {
		return err
	}
	conn.AccessToken = access
	if grant.RefreshToken != "" {
		refresh, err := v.Crypto.Encrypt(grant.RefreshToken)
		if err != nil {
			return err
		}
		conn.RefreshToken = refresh
	}
	if grant.ExpiresIn > 0 {
		expiry := now.Add(time.Duration(grant.ExpiresIn) * time.Second)
		conn.TokenExpiresAt = &expiry
	}
	return nil
}

// MarkExpired flips a connection to expired, used by the connection.expired
// webhook. Idempotent.
func (v *TokenVault) MarkExpired(connectionId string) error {
	conn, err := v.Store.ConnectionByID(connectionId)
	if err != nil {
		return err
	}
	if conn.Status == models.ConnectionExpired {
		return nil
	}
	conn.Status = models.ConnectionExpired
	return v.Store.SaveConnection(conn)
}

func (v *TokenVault) expired(conn *models.OAuthConnection) bool {
	if conn.TokenExpiresAt == nil {
		return false
	}
	return conn.TokenExpiresAt.Before(v.now().Add(tokenExpirySlack))
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
