package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"disputeflow-backend/models"
)

// letterTransitions mirrors the dispute table for the letter pipeline. The
// in_transit self-loop exists because carriers emit several scan events while
// a piece is moving.
var letterTransitions = map[string][]string{
	models.LetterDraft:           {models.LetterPendingApproval, models.LetterApproved, models.LetterFailed},
	models.LetterPendingApproval: {models.LetterApproved, models.LetterDraft, models.LetterFailed},
	models.LetterApproved:        {models.LetterRendering, models.LetterQueued, models.LetterFailed},
	models.LetterRendering:       {models.LetterApproved, models.LetterFailed},
	models.LetterQueued:          {models.LetterSent, models.LetterFailed},
	models.LetterSent:            {models.LetterInTransit, models.LetterDelivered, models.LetterReturned, models.LetterFailed},
	models.LetterInTransit:       {models.LetterInTransit, models.LetterDelivered, models.LetterReturned, models.LetterFailed},
	models.LetterDelivered:       {},
	models.LetterReturned:        {},
	models.LetterFailed:          {},
}

// CanTransitionLetter reports whether from -> to is an allowed letter move.
func CanTransitionLetter(from, to string) bool {
	for _, allowed := range letterTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func transitionLetter(l *models.Letter, to string) error {
	if !CanTransitionLetter(l.Status, to) {
		return &InvalidTransitionError{Entity: "letter", Current: l.Status, Requested: to}
	}
	l.Status = to
	return nil
}

// PendingRenderError is returned by Send when the letter has no rendered
// document yet. It is a deferral, not a failure: rendering has been queued
// and the caller should retry the send once it completes.
type PendingRenderError struct {
	LetterId string
}

func (e *PendingRenderError) Error() string {
	return fmt.Sprintf("letter %s has no rendered document yet, render queued", e.LetterId)
}

func IsPendingRender(err error) bool {
	var pe *PendingRenderError
	return errors.As(err, &pe)
}

// LetterPipeline drives a letter from draft through mailing and delivery.
// All mutating methods expect the letter loaded FOR UPDATE by the caller's
// transaction; the pipeline itself holds no locks across provider calls.
type LetterPipeline struct {
	Letters       LetterStore
	Disputes      DisputeStore
	Renderer      DocumentRenderer
	Blobs         BlobStore
	Mail          MailProvider
	Contexts      TemplateContextBuilder
	EnqueueRender func(letterId string)
}

// SubmitForApproval moves a draft letter into the review queue.
func (p *LetterPipeline) SubmitForApproval(l *models.Letter) error {
	if err := transitionLetter(l, models.LetterPendingApproval); err != nil {
		return err
	}
	return p.save(l, "submitted_for_approval", models.EventSourceUser, nil)
}

// Approve stamps the reviewer on the letter. Valid from draft (self-approval
// by the author) or pending_approval.
func (p *LetterPipeline) Approve(l *models.Letter, userId string, now time.Time) error {
	if l.Status != models.LetterDraft && l.Status != models.LetterPendingApproval {
		return &InvalidTransitionError{Entity: "letter", Current: l.Status, Requested: models.LetterApproved}
	}
	if err := transitionLetter(l, models.LetterApproved); err != nil {
		return err
	}
	t := now.UTC()
	l.ApprovedBy = userId
	l.ApprovedAt = &t
	return p.save(l, "approved", models.EventSourceUser, map[string]any{"approved_by": userId})
}

// Reject sends a pending letter back to draft with the reviewer's note.
func (p *LetterPipeline) Reject(l *models.Letter, reason string) error {
	if err := transitionLetter(l, models.LetterDraft); err != nil {
		return err
	}
	l.ApprovedBy = ""
	l.ApprovedAt = nil
	return p.save(l, "rejected", models.EventSourceUser, map[string]any{"reason": reason})
}

// Render produces the document, uploads it and records the result on the
// letter. On success the letter returns to approved with a bumped render
// version; on failure it lands in failed with the cause recorded.
func (p *LetterPipeline) Render(ctx context.Context, l *models.Letter, now time.Time) error {
	if err := transitionLetter(l, models.LetterRendering); err != nil {
		return err
	}
	if err := p.Letters.SaveLetter(l); err != nil {
		return err
	}

	tc, err := p.Contexts.Build(l)
	if err != nil {
		return p.fail(l, err)
	}
	data, hash, err := p.Renderer.Render(ctx, l.BodyHTML, tc)
	if err != nil {
		return p.fail(l, err)
	}
	version := l.RenderVersion + 1
	key := fmt.Sprintf("letters/%s/v%d.pdf", l.Id, version)
	url, err := p.Blobs.Store(ctx, data, key)
	if err != nil {
		return p.fail(l, err)
	}

	if err := transitionLetter(l, models.LetterApproved); err != nil {
		return err
	}
	t := now.UTC()
	l.PdfURL = url
	l.PdfHash = hash
	l.RenderVersion = version
	l.RenderedAt = &t
	l.LastError = ""
	return p.save(l, "rendered", models.EventSourceSystem, map[string]any{
		"pdf_hash":       hash,
		"render_version": version,
	})
}

// Send mails an approved letter through the provider. A letter without a
// rendered document gets a render queued and a PendingRenderError instead of
// a provider call.
func (p *LetterPipeline) Send(ctx context.Context, l *models.Letter, now time.Time) error {
	if l.Status != models.LetterApproved {
		return &InvalidTransitionError{Entity: "letter", Current: l.Status, Requested: models.LetterQueued}
	}
	if l.PdfURL == "" {
		if p.EnqueueRender != nil {
			p.EnqueueRender(l.Id)
		}
		return &PendingRenderError{LetterId: l.Id}
	}

	var to, from models.Address
	if err := json.Unmarshal(l.RecipientAddress, &to); err != nil || to.Line1 == "" {
		return Validationf("letter %s has no recipient address", l.Id)
	}
	if err := json.Unmarshal(l.ReturnAddress, &from); err != nil || from.Line1 == "" {
		return Validationf("letter %s has no return address", l.Id)
	}

	if err := transitionLetter(l, models.LetterQueued); err != nil {
		return err
	}
	if err := p.Letters.SaveLetter(l); err != nil {
		return err
	}

	res, err := p.Mail.SendLetter(ctx, SendLetterRequest{
		Description: fmt.Sprintf("Dispute letter %s", l.Id),
		To:          to,
		From:        from,
		FileURL:     l.PdfURL,
		MailType:    l.MailType,
		Metadata:    map[string]string{"letter_id": l.Id, "dispute_id": l.DisputeId},
	})
	if err != nil {
		return p.fail(l, err)
	}

	if err := transitionLetter(l, models.LetterSent); err != nil {
		return err
	}
	t := now.UTC()
	l.SentAt = &t
	l.ProviderId = res.ProviderId
	l.ProviderURL = res.ProviderURL
	l.TrackingNumber = res.TrackingNumber
	l.Carrier = res.Carrier
	l.ExpectedDelivery = res.ExpectedDelivery
	l.CostPrinting = res.CostPrinting
	l.CostPostage = res.CostPostage
	l.CostTotal = res.CostPrinting + res.CostPostage
	l.LastError = ""
	if err := p.save(l, "submitted_to_lob", models.EventSourceSystem, map[string]any{
		"provider_id":     res.ProviderId,
		"tracking_number": res.TrackingNumber,
	}); err != nil {
		return err
	}
	return p.advanceDisputeMailed(l, now)
}

// advanceDisputeMailed moves the owning dispute approved -> mailed after the
// first letter goes out. A dispute already past approved is left alone.
func (p *LetterPipeline) advanceDisputeMailed(l *models.Letter, now time.Time) error {
	d, err := p.Disputes.DisputeForUpdate(l.DisputeId)
	if err != nil {
		return err
	}
	if d.Status != models.DisputeApproved {
		return nil
	}
	if err := TransitionDispute(d, models.DisputeMailed, now); err != nil {
		return err
	}
	return p.Disputes.SaveDispute(d)
}

// Cancel asks the provider to pull the letter from its print queue. Only
// possible before the provider hands the piece to the carrier.
func (p *LetterPipeline) Cancel(ctx context.Context, l *models.Letter, reason string) error {
	switch l.Status {
	case models.LetterQueued, models.LetterSent:
	default:
		return Validationf("cannot cancel letter in status %q", l.Status)
	}
	if l.ProviderId != "" {
		cancelled, err := p.Mail.CancelLetter(ctx, l.ProviderId)
		if err != nil {
			return err
		}
		if !cancelled {
			return Validationf("letter %s already handed to carrier", l.Id)
		}
	}
	if err := transitionLetter(l, models.LetterFailed); err != nil {
		return err
	}
	l.LastError = "cancelled: " + reason
	return p.save(l, "cancelled", models.EventSourceUser, map[string]any{"reason": reason})
}

// Tracking-driven transitions, called from the webhook reconciler. The source
// event id is recorded so the audit trail ties back to the provider delivery.

func (p *LetterPipeline) MarkInTransit(l *models.Letter, sourceEventId string) error {
	if l.Status == models.LetterInTransit {
		// carriers re-scan; nothing to change
		return p.event(l, "tracking_update", models.EventSourceProviderWebhook, sourceEventId, nil)
	}
	if err := transitionLetter(l, models.LetterInTransit); err != nil {
		return err
	}
	return p.saveWithSource(l, "in_transit", models.EventSourceProviderWebhook, sourceEventId, nil)
}

func (p *LetterPipeline) MarkDelivered(l *models.Letter, sourceEventId string, now time.Time) error {
	if err := transitionLetter(l, models.LetterDelivered); err != nil {
		return err
	}
	t := now.UTC()
	l.DeliveredAt = &t
	if err := p.saveWithSource(l, "delivered", models.EventSourceProviderWebhook, sourceEventId, nil); err != nil {
		return err
	}
	// A delivered letter means the bureau has the dispute in hand.
	d, err := p.Disputes.DisputeForUpdate(l.DisputeId)
	if err != nil {
		return err
	}
	if d.Status != models.DisputeMailed {
		return nil
	}
	if err := TransitionDispute(d, models.DisputeAwaitingResponse, now); err != nil {
		return err
	}
	return p.Disputes.SaveDispute(d)
}

// MarkProviderCancelled records a provider-side deletion of a queued piece.
func (p *LetterPipeline) MarkProviderCancelled(l *models.Letter, sourceEventId string) error {
	if err := transitionLetter(l, models.LetterFailed); err != nil {
		return err
	}
	l.LastError = "cancelled by mail provider"
	return p.saveWithSource(l, "cancelled", models.EventSourceProviderWebhook, sourceEventId, nil)
}

func (p *LetterPipeline) MarkReturned(l *models.Letter, reason, sourceEventId string, now time.Time) error {
	if err := transitionLetter(l, models.LetterReturned); err != nil {
		return err
	}
	t := now.UTC()
	l.ReturnedAt = &t
	l.ReturnReason = reason
	return p.saveWithSource(l, "returned", models.EventSourceProviderWebhook, sourceEventId,
		map[string]any{"reason": reason})
}

// fail parks the letter in failed with the cause. The original error is
// returned so job runners can apply their retry policy.
func (p *LetterPipeline) fail(l *models.Letter, cause error) error {
	l.Status = models.LetterFailed
	l.LastError = cause.Error()
	if saveErr := p.save(l, "failed", models.EventSourceSystem, map[string]any{"error": cause.Error()}); saveErr != nil {
		log.Printf("letter %s: recording failure: %v (original error: %v)", l.Id, saveErr, cause)
	}
	return cause
}

func (p *LetterPipeline) save(l *models.Letter, eventType, source string, data map[string]any) error {
	return p.saveWithSource(l, eventType, source, "", data)
}

func (p *LetterPipeline) saveWithSource(l *models.Letter, eventType, source, sourceId string, data map[string]any) error {
	if err := p.Letters.SaveLetter(l); err != nil {
		return err
	}
	return p.event(l, eventType, source, sourceId, data)
}

func (p *LetterPipeline) event(l *models.Letter, eventType, source, sourceId string, data map[string]any) error {
	var payload []byte
	if data != nil {
		payload, _ = json.Marshal(data)
	}
	return p.Letters.AppendLetterEvent(&models.LetterEvent{
		LetterId:  l.Id,
		EventType: eventType,
		EventData: payload,
		Source:    source,
		SourceId:  sourceId,
	})
}
