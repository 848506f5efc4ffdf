package services

import (
	"time"

	"disputeflow-backend/models"
)

// FCRA gives bureaus 30 days to investigate, 45 when the consumer supplies
// additional information mid-investigation.
const (
	DisputeResponseWindow = 30 * 24 * time.Hour
	DisputeExtendedWindow = 45 * 24 * time.Hour
)

// disputeTransitions is the full set of allowed status moves. Anything not
// listed is rejected with an InvalidTransitionError.
var disputeTransitions = map[string][]string{
	models.DisputeDraft:            {models.DisputePendingReview, models.DisputeClosed},
	models.DisputePendingReview:    {models.DisputeApproved, models.DisputeDraft, models.DisputeClosed},
	models.DisputeApproved:         {models.DisputeMailed, models.DisputeDraft, models.DisputeClosed},
	models.DisputeMailed:           {models.DisputeAwaitingResponse, models.DisputeClosed},
	models.DisputeAwaitingResponse: {models.DisputeResponded, models.DisputeEscalated, models.DisputeClosed},
	models.DisputeResponded:        {models.DisputeResolved, models.DisputeEscalated, models.DisputeClosed},
	models.DisputeEscalated:        {models.DisputeResolved, models.DisputeClosed},
	models.DisputeResolved:         {models.DisputeClosed},
	models.DisputeClosed:           {},
}

// CanTransitionDispute reports whether from -> to is in the transition table.
func CanTransitionDispute(from, to string) bool {
	for _, allowed := range disputeTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionDispute moves a dispute to the requested status, applying the
// timeline side effects. The caller owns persistence and must have loaded the
// row with a FOR UPDATE read so the status check cannot race a concurrent
// writer. Date stamps are idempotent: a replayed transition never moves an
// already-set timestamp.
func TransitionDispute(d *models.Dispute, to string, now time.Time) error {
	if !CanTransitionDispute(d.Status, to) {
		return &InvalidTransitionError{Entity: "dispute", Current: d.Status, Requested: to}
	}
	d.Status = to

	switch to {
	case models.DisputeMailed:
		if d.SubmittedAt == nil {
			t := now.UTC()
			d.SubmittedAt = &t
		}
		if d.DueAt == nil {
			due := d.SubmittedAt.Add(DisputeResponseWindow)
			d.DueAt = &due
		}
	case models.DisputeResponded:
		if d.RespondedAt == nil {
			t := now.UTC()
			d.RespondedAt = &t
		}
	case models.DisputeResolved, models.DisputeClosed:
		if d.ClosedAt == nil {
			t := now.UTC()
			d.ClosedAt = &t
		}
	}
	return nil
}

// ExtendDueDate grants the 45-day investigation window. Only disputes that
// have been mailed and still have an open deadline qualify; the extension is
// anchored on submitted_at, not on the current due date, so granting it twice
// is a no-op.
func ExtendDueDate(d *models.Dispute) error {
	if d.SubmittedAt == nil || d.DueAt == nil {
		return Validationf("dispute %s has not been submitted", d.DisputeNumber)
	}
	switch d.Status {
	case models.DisputeMailed, models.DisputeAwaitingResponse:
	default:
		return Validationf("cannot extend due date for dispute in status %q", d.Status)
	}
	extended := d.SubmittedAt.Add(DisputeExtendedWindow)
	d.ExtendedDueAt = &extended
	return nil
}

// RecordOutcome stamps the bureau's decision on a responded dispute and moves
// it to resolved.
func RecordOutcome(d *models.Dispute, outcome, bureauResponse string, now time.Time) error {
	switch outcome {
	case models.OutcomeDeleted, models.OutcomeCorrected, models.OutcomeVerified,
		models.OutcomeNoResponse, models.OutcomePartialCorrection,
		models.OutcomeRejected, models.OutcomeEscalated:
	default:
		return Validationf("unknown outcome %q", outcome)
	}
	if err := TransitionDispute(d, models.DisputeResolved, now); err != nil {
		return err
	}
	d.Outcome = outcome
	if bureauResponse != "" {
		d.BureauResponse = bureauResponse
	}
	return nil
}
