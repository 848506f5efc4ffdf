package services

import (
	"fmt"
	"log"
	"time"

	"disputeflow-backend/models"
)

const (
	// Disputes whose deadline falls inside this window get a follow-up task.
	slaApproachingWindow = 5 * 24 * time.Hour

	// Follow-up tasks are due this long before the deadline.
	slaFollowUpLead = 2 * 24 * time.Hour

	// Escalation tasks are due this long after the sweep that created them.
	slaEscalateDue = 24 * time.Hour
)

// SLAResult counts what one sweep did.
type SLAResult struct {
	Scanned     int
	FollowUps   int
	Escalations int
}

// SLASweeper walks the open disputes and creates deadline tasks. Sweeps are
// idempotent: a dispute with an open task of the relevant type is skipped, so
// running twice in the same hour creates nothing new.
type SLASweeper struct {
	Disputes DisputeStore
	Tasks    TaskStore
	Clock    func() time.Time
}

func (s *SLASweeper) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Sweep partitions open disputes into approaching and overdue and creates at
// most one follow_up or escalate task per dispute. Per-dispute failures are
// logged and skipped; one bad row must not stall the whole sweep.
func (s *SLASweeper) Sweep() (SLAResult, error) {
	now := s.now().UTC()
	var res SLAResult

	open, err := s.Disputes.DisputesByStatus([]string{models.DisputeMailed, models.DisputeAwaitingResponse})
	if err != nil {
		return res, err
	}
	res.Scanned = len(open)

	for i := range open {
		d := &open[i]
		due := d.EffectiveDueAt()
		if due == nil {
			continue
		}
		switch {
		case due.Before(now):
			created, err := s.ensureTask(d, models.TaskEscalate, now.Add(slaEscalateDue), models.PriorityUrgent,
				fmt.Sprintf("Dispute %s is past its response deadline (%s)", d.DisputeNumber, due.Format("2006-01-02")))
			if err != nil {
				log.Printf("sla sweep: dispute %s: %v", d.DisputeNumber, err)
				continue
			}
			if created {
				res.Escalations++
			}
		case due.Sub(now) <= slaApproachingWindow:
			created, err := s.ensureTask(d, models.TaskFollowUp, due.Add(-slaFollowUpLead), models.PriorityHigh,
				fmt.Sprintf("Dispute %s response due %s", d.DisputeNumber, due.Format("2006-01-02")))
			if err != nil {
				log.Printf("sla sweep: dispute %s: %v", d.DisputeNumber, err)
				continue
			}
			if created {
				res.FollowUps++
			}
		}
	}
	return res, nil
}

// ensureTask creates the task unless an open one of the same type exists.
func (s *SLASweeper) ensureTask(d *models.Dispute, taskType string, dueAt time.Time, priority, title string) (bool, error) {
	exists, err := s.Tasks.HasOpenTask(d.Id, taskType)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	err = s.Tasks.CreateTask(&models.DisputeTask{
		DisputeId:  d.Id,
		Type:       taskType,
		Title:      title,
		Status:     models.TaskPending,
		Priority:   priority,
		DueAt:      dueAt,
		AssignedTo: d.AssignedTo,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
