package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputeflow-backend/models"
)

func signLob(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.%s", timestamp, body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyLobSignature(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"id":"evt_1"}`)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ts := strconv.FormatInt(now.UnixMilli(), 10)

	t.Run("valid", func(t *testing.T) {
		err := VerifyLobSignature(secret, ts, body, signLob(secret, ts, body), now)
		assert.NoError(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		err := VerifyLobSignature(secret, ts, body, signLob("other", ts, body), now)
		assert.True(t, IsAuthError(err))
	})

	t.Run("tampered body", func(t *testing.T) {
		err := VerifyLobSignature(secret, ts, []byte(`{"id":"evt_2"}`), signLob(secret, ts, body), now)
		assert.True(t, IsAuthError(err))
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := strconv.FormatInt(now.Add(-6*time.Minute).UnixMilli(), 10)
		err := VerifyLobSignature(secret, old, body, signLob(secret, old, body), now)
		assert.True(t, IsAuthError(err))
	})

	t.Run("just inside tolerance", func(t *testing.T) {
		recent := strconv.FormatInt(now.Add(-4*time.Minute).UnixMilli(), 10)
		err := VerifyLobSignature(secret, recent, body, signLob(secret, recent, body), now)
		assert.NoError(t, err)
	})

	t.Run("garbage timestamp", func(t *testing.T) {
		err := VerifyLobSignature(secret, "yesterday", body, "sig", now)
		assert.True(t, IsAuthError(err))
	})

	t.Run("missing secret", func(t *testing.T) {
		err := VerifyLobSignature("", ts, body, signLob(secret, ts, body), now)
		assert.True(t, IsAuthError(err))
	})
}

func TestLobTrackingStatus(t *testing.T) {
	cases := map[string]string{
		"Mailed":                 models.LetterSent,
		"In Transit":             models.LetterInTransit,
		"In Local Area":          models.LetterInTransit,
		"Processed for Delivery": models.LetterInTransit,
		"Re-Routed":              models.LetterInTransit,
		"Delivered":              models.LetterDelivered,
		"Returned to Sender":     models.LetterReturned,
	}
	for name, want := range cases {
		got, ok := LobTrackingStatus(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	_, ok := LobTrackingStatus("Lost in the Void")
	assert.False(t, ok)
}

func TestLobMailParams(t *testing.T) {
	class, extra := lobMailParams(models.MailCertified)
	assert.Equal(t, "usps_first_class", class)
	assert.Equal(t, "certified", extra)

	class, extra = lobMailParams(models.MailCertifiedReturnReceipt)
	assert.Equal(t, "usps_first_class", class)
	assert.Equal(t, "certified_return_receipt", extra)

	class, extra = lobMailParams(models.MailFirstClass)
	assert.Equal(t, "usps_first_class", class)
	assert.Empty(t, extra)
}

func TestLobSendLetter(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/letters", r.URL.Path)
		user, _, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "test_key", user)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{
			"id":                     "ltr_abc",
			"url":                    "https://lob.test/ltr_abc",
			"tracking_number":        "9400100000",
			"carrier":                "USPS",
			"expected_delivery_date": "2026-08-07",
			"price":                  "5.34",
		})
	}))
	defer srv.Close()

	c := &LobClient{APIKey: "test_key", BaseURL: srv.URL, HTTP: srv.Client()}
	res, err := c.SendLetter(context.Background(), SendLetterRequest{
		Description: "dispute letter DSP-00000001",
		To:          models.Address{Name: "Equifax", Line1: "P.O. Box 740256", City: "Atlanta", State: "GA", Zip: "30374"},
		From:        models.Address{Name: "Jane Doe", Line1: "12 Main St", City: "Springfield", State: "IL", Zip: "62701"},
		FileURL:     "https://blobs.test/letters/l1/v1.pdf",
		MailType:    models.MailCertified,
	})
	require.NoError(t, err)

	assert.Equal(t, "ltr_abc", res.ProviderId)
	assert.Equal(t, "9400100000", res.TrackingNumber)
	require.NotNil(t, res.ExpectedDelivery)
	assert.Equal(t, "2026-08-07", res.ExpectedDelivery.Format("2006-01-02"))
	assert.InDelta(t, 5.34, res.CostPrinting, 0.001)

	assert.Equal(t, "usps_first_class", captured["mail_type"])
	assert.Equal(t, "certified", captured["extra_service"])
	assert.Equal(t, false, captured["color"])
	assert.Equal(t, "operational", captured["use_type"])
}

func TestLobSendLetterAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "file url unreachable"}})
	}))
	defer srv.Close()

	c := &LobClient{APIKey: "test_key", BaseURL: srv.URL, HTTP: srv.Client()}
	_, err := c.SendLetter(context.Background(), SendLetterRequest{FileURL: "https://nope"})
	require.Error(t, err)
	assert.True(t, IsExternal(err))
	var ee *ExternalServiceError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, http.StatusBadRequest, ee.StatusCode)
}

func TestLobCancelLetter(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/letters/ltr_abc", r.URL.Path)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := &LobClient{APIKey: "test_key", BaseURL: srv.URL, HTTP: srv.Client()}

	ok, err := c.CancelLetter(context.Background(), "ltr_abc")
	require.NoError(t, err)
	assert.True(t, ok)

	// past the cancellation window
	status = http.StatusUnprocessableEntity
	ok, err = c.CancelLetter(context.Background(), "ltr_abc")
	require.NoError(t, err)
	assert.False(t, ok)

	status = http.StatusInternalServerError
	_, err = c.CancelLetter(context.Background(), "ltr_abc")
	assert.True(t, IsExternal(err))
}
