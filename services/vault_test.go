package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputeflow-backend/models"
)

func activeConnection(t *testing.T, enc *Encryptor, expiresAt time.Time) *models.OAuthConnection {
	access, err := enc.Encrypt("at-current")
	require.NoError(t, err)
	refresh, err := enc.Encrypt("rt-current")
	require.NoError(t, err)
	return &models.OAuthConnection{
		Id:             "conn-1",
		ConsumerId:     "c1",
		Provider:       "smartcredit",
		Status:         models.ConnectionActive,
		AccessToken:    access,
		RefreshToken:   refresh,
		TokenExpiresAt: &expiresAt,
	}
}

func TestInitiateReusesPendingConnection(t *testing.T) {
	store := newFakeConnectionStore()
	v := NewTokenVault(store, &fakeCreditProvider{}, testEncryptor(t))

	url1, conn1, err := v.Initiate("c1", "smartcredit", "", []string{"reports.read"})
	require.NoError(t, err)
	assert.Contains(t, url1, "state="+conn1.OAuthState)

	url2, conn2, err := v.Initiate("c1", "smartcredit", "", nil)
	require.NoError(t, err)
	assert.Equal(t, conn1.Id, conn2.Id, "repeated initiate must reuse the pending row")
	assert.NotEqual(t, conn1.OAuthState, conn2.OAuthState, "state token is rotated")
	assert.NotEqual(t, url1, url2)
}

func TestCompleteActivatesAndRevokesPrior(t *testing.T) {
	enc := testEncryptor(t)
	expires := time.Now().Add(time.Hour)
	prior := activeConnection(t, enc, expires)
	prior.Id = "conn-old"

	store := newFakeConnectionStore(prior)
	v := NewTokenVault(store, &fakeCreditProvider{}, enc)

	_, pending, err := v.Initiate("c1", "smartcredit", "", nil)
	require.NoError(t, err)

	conn, err := v.Complete(context.Background(), "c1", "smartcredit", "code-abc", pending.OAuthState)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionActive, conn.Status)
	assert.Empty(t, conn.OAuthState, "state is single-use")
	require.NotNil(t, conn.TokenExpiresAt)

	access, err := enc.Decrypt(conn.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "at-new", access)

	old, err := store.ConnectionByID("conn-old")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionRevoked, old.Status)
}

func TestCompleteRejectsWrongState(t *testing.T) {
	store := newFakeConnectionStore()
	v := NewTokenVault(store, &fakeCreditProvider{}, testEncryptor(t))

	_, _, err := v.Initiate("c1", "smartcredit", "", nil)
	require.NoError(t, err)

	_, err = v.Complete(context.Background(), "c1", "smartcredit", "code-abc", "forged-state")
	assert.True(t, IsAuthError(err))
}

func TestCompleteRejectsExpiredState(t *testing.T) {
	store := newFakeConnectionStore()
	v := NewTokenVault(store, &fakeCreditProvider{}, testEncryptor(t))

	_, pending, err := v.Initiate("c1", "smartcredit", "", nil)
	require.NoError(t, err)

	v.Clock = func() time.Time { return time.Now().Add(11 * time.Minute) }
	_, err = v.Complete(context.Background(), "c1", "smartcredit", "code-abc", pending.OAuthState)
	assert.True(t, IsAuthError(err))
}

func TestAccessTokenReturnsStoredWhenFresh(t *testing.T) {
	enc := testEncryptor(t)
	provider := &fakeCreditProvider{}
	store := newFakeConnectionStore(activeConnection(t, enc, time.Now().Add(time.Hour)))
	v := NewTokenVault(store, provider, enc)

	token, err := v.AccessToken(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "at-current", token)
	assert.Zero(t, provider.refreshCount())
}

func TestAccessTokenRefreshesExpired(t *testing.T) {
	enc := testEncryptor(t)
	provider := &fakeCreditProvider{}
	store := newFakeConnectionStore(activeConnection(t, enc, time.Now().Add(-time.Minute)))
	v := NewTokenVault(store, provider, enc)

	token, err := v.AccessToken(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "at-new", token)
	assert.Equal(t, 1, provider.refreshCount())

	conn, _ := store.ConnectionByID("conn-1")
	refresh, err := enc.Decrypt(conn.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "rt-new", refresh)
}

func TestAccessTokenSingleFlightsConcurrentRefresh(t *testing.T) {
	enc := testEncryptor(t)
	provider := &fakeCreditProvider{}
	store := newFakeConnectionStore(activeConnection(t, enc, time.Now().Add(-time.Minute)))
	v := NewTokenVault(store, provider, enc)

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = v.AccessToken(context.Background(), "conn-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "at-new", tokens[i])
	}
	assert.Equal(t, 1, provider.refreshCount(), "losers must observe the winner's refresh, not repeat it")
}

func TestSharedLocksSingleFlightAcrossVaults(t *testing.T) {
	enc := testEncryptor(t)
	provider := &fakeCreditProvider{}
	store := newFakeConnectionStore(activeConnection(t, enc, time.Now().Add(-time.Minute)))
	locks := NewConnLocks()

	// Each caller owns its vault instance, the way job and webhook code
	// builds one per transaction; only the lock registry is shared.
	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := &TokenVault{Store: store, Provider: provider, Crypto: enc, Locks: locks}
			tokens[i], errs[i] = v.AccessToken(context.Background(), "conn-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "at-new", tokens[i])
	}
	assert.Equal(t, 1, provider.refreshCount(), "vault instances sharing locks must not repeat the refresh")
}

func TestRefreshSlackTreatsAlmostExpiredAsExpired(t *testing.T) {
	enc := testEncryptor(t)
	provider := &fakeCreditProvider{}
	store := newFakeConnectionStore(activeConnection(t, enc, time.Now().Add(10*time.Second)))
	v := NewTokenVault(store, provider, enc)

	token, err := v.AccessToken(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "at-new", token)
	assert.Equal(t, 1, provider.refreshCount())
}

func TestRefreshFailureMarksConnectionExpired(t *testing.T) {
	enc := testEncryptor(t)
	provider := &fakeCreditProvider{refreshErr: &AuthError{Msg: "smartcredit token grant rejected"}}
	store := newFakeConnectionStore(activeConnection(t, enc, time.Now().Add(-time.Minute)))
	v := NewTokenVault(store, provider, enc)

	_, err := v.AccessToken(context.Background(), "conn-1")
	assert.True(t, IsAuthError(err))

	conn, _ := store.ConnectionByID("conn-1")
	assert.Equal(t, models.ConnectionExpired, conn.Status)
}

func TestRefreshOutageLeavesConnectionActive(t *testing.T) {
	enc := testEncryptor(t)
	provider := &fakeCreditProvider{refreshErr: &ExternalServiceError{Service: "smartcredit", StatusCode: 502}}
	store := newFakeConnectionStore(activeConnection(t, enc, time.Now().Add(-time.Minute)))
	v := NewTokenVault(store, provider, enc)

	_, err := v.AccessToken(context.Background(), "conn-1")
	assert.True(t, IsExternal(err))

	conn, _ := store.ConnectionByID("conn-1")
	assert.Equal(t, models.ConnectionActive, conn.Status, "a provider outage is not a dead credential")
}

func TestAccessTokenRejectsInactive(t *testing.T) {
	enc := testEncryptor(t)
	conn := activeConnection(t, enc, time.Now().Add(time.Hour))
	conn.Status = models.ConnectionRevoked
	store := newFakeConnectionStore(conn)
	v := NewTokenVault(store, &fakeCreditProvider{}, enc)

	_, err := v.AccessToken(context.Background(), "conn-1")
	assert.True(t, IsAuthError(err))
}

func TestForcedRefresh(t *testing.T) {
	enc := testEncryptor(t)
	provider := &fakeCreditProvider{}
	store := newFakeConnectionStore(activeConnection(t, enc, time.Now().Add(48*time.Hour)))
	v := NewTokenVault(store, provider, enc)

	require.NoError(t, v.Refresh(context.Background(), "conn-1"))
	assert.Equal(t, 1, provider.refreshCount())

	conn, _ := store.ConnectionByID("conn-1")
	access, err := enc.Decrypt(conn.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "at-new", access)
}

func TestMarkExpiredIsIdempotent(t *testing.T) {
	enc := testEncryptor(t)
	store := newFakeConnectionStore(activeConnection(t, enc, time.Now().Add(time.Hour)))
	v := NewTokenVault(store, &fakeCreditProvider{}, enc)

	require.NoError(t, v.MarkExpired("conn-1"))
	require.NoError(t, v.MarkExpired("conn-1"))

	conn, _ := store.ConnectionByID("conn-1")
	assert.Equal(t, models.ConnectionExpired, conn.Status)
}
