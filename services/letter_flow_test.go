package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputeflow-backend/models"
)

func testAddresses(t *testing.T) (recipient, sender []byte) {
	recipient = mustAddr(t, models.Address{
		Name: "Equifax", Line1: "P.O. Box 740256", City: "Atlanta", State: "GA", Zip: "30374",
	})
	sender = mustAddr(t, models.Address{
		Name: "Jane Doe", Line1: "12 Main St", City: "Springfield", State: "IL", Zip: "62701",
	})
	return
}

func TestApproveStampsReviewer(t *testing.T) {
	letters := newFakeLetterStore(&models.Letter{Id: "l1", DisputeId: "d1", Status: models.LetterDraft})
	p := &LetterPipeline{Letters: letters, Disputes: newFakeDisputeStore()}

	l, _ := letters.LetterByID("l1")
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, p.Approve(l, "user-9", now))

	assert.Equal(t, models.LetterApproved, l.Status)
	assert.Equal(t, "user-9", l.ApprovedBy)
	require.NotNil(t, l.ApprovedAt)
	assert.Equal(t, now, *l.ApprovedAt)
	assert.Contains(t, letters.eventTypes(), "approved")
}

func TestApproveRejectedFromSent(t *testing.T) {
	letters := newFakeLetterStore(&models.Letter{Id: "l1", Status: models.LetterSent})
	p := &LetterPipeline{Letters: letters, Disputes: newFakeDisputeStore()}

	l, _ := letters.LetterByID("l1")
	err := p.Approve(l, "user-9", time.Now())
	assert.True(t, IsInvalidTransition(err))
	assert.Equal(t, models.LetterSent, l.Status)
}

func TestSendWithoutRenderedDocumentDefers(t *testing.T) {
	recipient, sender := testAddresses(t)
	letters := newFakeLetterStore(&models.Letter{
		Id: "l1", DisputeId: "d1", Status: models.LetterApproved,
		RecipientAddress: recipient, ReturnAddress: sender,
	})
	var queued []string
	p := &LetterPipeline{
		Letters:  letters,
		Disputes: newFakeDisputeStore(),
		Mail:     &fakeMailProvider{},
		EnqueueRender: func(letterId string) {
			queued = append(queued, letterId)
		},
	}

	l, _ := letters.LetterByID("l1")
	err := p.Send(context.Background(), l, time.Now())
	assert.True(t, IsPendingRender(err))
	assert.Equal(t, []string{"l1"}, queued)
	assert.Equal(t, models.LetterApproved, l.Status, "deferred send must not move status")
	assert.Empty(t, l.ProviderId)
}

func TestSendHappyPathAdvancesDispute(t *testing.T) {
	recipient, sender := testAddresses(t)
	dispute := &models.Dispute{Id: "d1", Status: models.DisputeApproved}
	disputes := newFakeDisputeStore(dispute)
	letters := newFakeLetterStore(&models.Letter{
		Id: "l1", DisputeId: "d1", Status: models.LetterApproved,
		PdfURL: "https://blobs.test/letters/l1/v1.pdf", MailType: models.MailCertified,
		RecipientAddress: recipient, ReturnAddress: sender,
	})
	eta := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	mail := &fakeMailProvider{result: &SendLetterResult{
		ProviderId:       "ltr_abc",
		ProviderURL:      "https://lob.test/ltr_abc",
		TrackingNumber:   "940010000000",
		Carrier:          "USPS",
		ExpectedDelivery: &eta,
		CostPrinting:     1.25,
		CostPostage:      4.85,
	}}
	p := &LetterPipeline{Letters: letters, Disputes: disputes, Mail: mail}

	l, _ := letters.LetterByID("l1")
	now := time.Date(2026, 2, 3, 15, 0, 0, 0, time.UTC)
	require.NoError(t, p.Send(context.Background(), l, now))

	assert.Equal(t, models.LetterSent, l.Status)
	assert.Equal(t, "ltr_abc", l.ProviderId)
	assert.Equal(t, "940010000000", l.TrackingNumber)
	assert.InDelta(t, 6.10, l.CostTotal, 0.001)
	require.NotNil(t, l.SentAt)
	assert.Contains(t, letters.eventTypes(), "submitted_to_lob")

	d, _ := disputes.DisputeByID("d1")
	assert.Equal(t, models.DisputeMailed, d.Status)
	require.NotNil(t, d.DueAt)
	assert.Equal(t, now.Add(30*24*time.Hour), *d.DueAt)
}

func TestSendProviderFailureParksLetterFailed(t *testing.T) {
	recipient, sender := testAddresses(t)
	letters := newFakeLetterStore(&models.Letter{
		Id: "l1", DisputeId: "d1", Status: models.LetterApproved,
		PdfURL: "https://blobs.test/l1.pdf", RecipientAddress: recipient, ReturnAddress: sender,
	})
	mail := &fakeMailProvider{sendErr: &ExternalServiceError{Service: "lob", StatusCode: 500, Err: errors.New("boom")}}
	p := &LetterPipeline{Letters: letters, Disputes: newFakeDisputeStore(), Mail: mail}

	l, _ := letters.LetterByID("l1")
	err := p.Send(context.Background(), l, time.Now())
	assert.True(t, IsExternal(err))

	stored, _ := letters.LetterByID("l1")
	assert.Equal(t, models.LetterFailed, stored.Status)
	assert.NotEmpty(t, stored.LastError)
}

func TestRenderSuccessBumpsVersion(t *testing.T) {
	disputes := newFakeDisputeStore(&models.Dispute{Id: "d1", ConsumerId: "c1", Status: models.DisputeDraft, Bureau: models.BureauEquifax})
	conns := newFakeConnectionStore()
	letters := newFakeLetterStore(&models.Letter{Id: "l1", DisputeId: "d1", Status: models.LetterApproved, BodyHTML: "<p>hi</p>", RenderVersion: 2})
	blobs := &fakeBlobStore{}
	p := &LetterPipeline{
		Letters:  letters,
		Disputes: disputes,
		Renderer: &fakeRenderer{data: []byte("%PDF"), hash: "abc123"},
		Blobs:    blobs,
		Contexts: &ContextBuilder{Disputes: disputes, Consumers: conns},
	}

	l, _ := letters.LetterByID("l1")
	now := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, p.Render(context.Background(), l, now))

	assert.Equal(t, models.LetterApproved, l.Status)
	assert.Equal(t, uint(3), l.RenderVersion)
	assert.Equal(t, "abc123", l.PdfHash)
	assert.Equal(t, "https://blobs.test/letters/l1/v3.pdf", l.PdfURL)
	assert.Equal(t, []string{"letters/l1/v3.pdf"}, blobs.keys)
	assert.Contains(t, letters.eventTypes(), "rendered")
}

func TestRenderFailureRecordsCause(t *testing.T) {
	disputes := newFakeDisputeStore(&models.Dispute{Id: "d1", ConsumerId: "c1", Status: models.DisputeDraft})
	letters := newFakeLetterStore(&models.Letter{Id: "l1", DisputeId: "d1", Status: models.LetterApproved})
	p := &LetterPipeline{
		Letters:  letters,
		Disputes: disputes,
		Renderer: &fakeRenderer{err: &ExternalServiceError{Service: "renderer", Err: errors.New("timeout")}},
		Blobs:    &fakeBlobStore{},
		Contexts: &ContextBuilder{Disputes: disputes, Consumers: newFakeConnectionStore()},
	}

	l, _ := letters.LetterByID("l1")
	err := p.Render(context.Background(), l, time.Now())
	assert.True(t, IsExternal(err))

	stored, _ := letters.LetterByID("l1")
	assert.Equal(t, models.LetterFailed, stored.Status)
	assert.Contains(t, stored.LastError, "renderer")
	assert.Equal(t, uint(0), stored.RenderVersion, "failed render must not bump the version")
}

func TestMarkDeliveredAdvancesMailedDispute(t *testing.T) {
	disputes := newFakeDisputeStore(&models.Dispute{Id: "d1", Status: models.DisputeMailed})
	letters := newFakeLetterStore(&models.Letter{Id: "l1", DisputeId: "d1", Status: models.LetterInTransit, ProviderId: "ltr_abc"})
	p := &LetterPipeline{Letters: letters, Disputes: disputes}

	l, _ := letters.LetterByID("l1")
	now := time.Date(2026, 2, 9, 14, 0, 0, 0, time.UTC)
	require.NoError(t, p.MarkDelivered(l, "evt_1", now))

	assert.Equal(t, models.LetterDelivered, l.Status)
	require.NotNil(t, l.DeliveredAt)

	d, _ := disputes.DisputeByID("d1")
	assert.Equal(t, models.DisputeAwaitingResponse, d.Status)
}

func TestMarkDeliveredLeavesAdvancedDisputeAlone(t *testing.T) {
	disputes := newFakeDisputeStore(&models.Dispute{Id: "d1", Status: models.DisputeResponded})
	letters := newFakeLetterStore(&models.Letter{Id: "l1", DisputeId: "d1", Status: models.LetterSent})
	p := &LetterPipeline{Letters: letters, Disputes: disputes}

	l, _ := letters.LetterByID("l1")
	require.NoError(t, p.MarkDelivered(l, "evt_2", time.Now()))

	d, _ := disputes.DisputeByID("d1")
	assert.Equal(t, models.DisputeResponded, d.Status)
}

func TestMarkInTransitIsRepeatable(t *testing.T) {
	letters := newFakeLetterStore(&models.Letter{Id: "l1", DisputeId: "d1", Status: models.LetterSent})
	p := &LetterPipeline{Letters: letters, Disputes: newFakeDisputeStore()}

	l, _ := letters.LetterByID("l1")
	require.NoError(t, p.MarkInTransit(l, "evt_1"))
	require.NoError(t, p.MarkInTransit(l, "evt_2"))
	assert.Equal(t, models.LetterInTransit, l.Status)
}

func TestMarkReturnedStampsReason(t *testing.T) {
	letters := newFakeLetterStore(&models.Letter{Id: "l1", DisputeId: "d1", Status: models.LetterInTransit})
	p := &LetterPipeline{Letters: letters, Disputes: newFakeDisputeStore()}

	l, _ := letters.LetterByID("l1")
	now := time.Date(2026, 2, 12, 11, 0, 0, 0, time.UTC)
	require.NoError(t, p.MarkReturned(l, "undeliverable as addressed", "evt_3", now))

	assert.Equal(t, models.LetterReturned, l.Status)
	assert.Equal(t, "undeliverable as addressed", l.ReturnReason)
	require.NotNil(t, l.ReturnedAt)

	// terminal: a late delivered scan is rejected
	assert.True(t, IsInvalidTransition(p.MarkDelivered(l, "evt_4", now)))
}

func TestCancelQueuedLetter(t *testing.T) {
	letters := newFakeLetterStore(&models.Letter{Id: "l1", DisputeId: "d1", Status: models.LetterQueued, ProviderId: "ltr_abc"})
	mail := &fakeMailProvider{cancelOK: true}
	p := &LetterPipeline{Letters: letters, Disputes: newFakeDisputeStore(), Mail: mail}

	l, _ := letters.LetterByID("l1")
	require.NoError(t, p.Cancel(context.Background(), l, "wrong bureau"))
	assert.Equal(t, models.LetterFailed, l.Status)
	assert.Contains(t, l.LastError, "wrong bureau")
	assert.Equal(t, []string{"ltr_abc"}, mail.cancelled)
}

func TestCancelAfterCarrierHandoff(t *testing.T) {
	letters := newFakeLetterStore(&models.Letter{Id: "l1", DisputeId: "d1", Status: models.LetterSent, ProviderId: "ltr_abc"})
	p := &LetterPipeline{Letters: letters, Disputes: newFakeDisputeStore(), Mail: &fakeMailProvider{cancelOK: false}}

	l, _ := letters.LetterByID("l1")
	err := p.Cancel(context.Background(), l, "too late")
	assert.True(t, IsValidation(err))
	assert.Equal(t, models.LetterSent, l.Status)
}
