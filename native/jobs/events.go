package jobs

import (
	"strconv"

	"jobescrow/core/types"
	"jobescrow/crypto"
)

const (
	EventTypeJobPosted    = "jobs.posted"
	EventTypeJobAssigned  = "jobs.assigned"
	EventTypeJobAccepted  = "jobs.accepted"
	EventTypeJobUpdated   = "jobs.updated"
	EventTypeJobFunded    = "jobs.funded"
	EventTypeJobCompleted = "jobs.completed"
	EventTypeJobCancelled = "jobs.cancelled"
	EventTypeJobExpired   = "jobs.expired"
)

type jobEvent struct {
	evt *types.Event
}

func (e jobEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e jobEvent) Event() *types.Event { return e.evt }

// NewPostedEvent returns the canonical payload for a newly posted job.
func NewPostedEvent(j *Job) *types.Event { return newJobEvent(EventTypeJobPosted, j) }

// NewAssignedEvent returns the payload emitted when a client selects a
// freelancer with final terms.
func NewAssignedEvent(j *Job) *types.Event { return newJobEvent(EventTypeJobAssigned, j) }

func NewAcceptedEvent(j *Job) *types.Event { return newJobEvent(EventTypeJobAccepted, j) }

func NewUpdatedEvent(j *Job) *types.Event { return newJobEvent(EventTypeJobUpdated, j) }

func NewFundedEvent(j *Job) *types.Event { return newJobEvent(EventTypeJobFunded, j) }

// NewCompletedEvent includes the settlement split alongside the job fields.
func NewCompletedEvent(j *Job, p Payout) *types.Event {
	evt := newJobEvent(EventTypeJobCompleted, j)
	if p.Payout != nil {
		evt.Attributes["payout"] = p.Payout.String()
	}
	if p.Refund != nil {
		evt.Attributes["refund"] = p.Refund.String()
	}
	evt.Attributes["secondsLate"] = strconv.FormatUint(p.SecondsLate, 10)
	return evt
}

// NewCancelledEvent records a withdrawal; refund is the amount returned to
// the client, zero when the job was never funded.
func NewCancelledEvent(j *Job, refund string) *types.Event {
	evt := newJobEvent(EventTypeJobCancelled, j)
	evt.Attributes["refund"] = refund
	return evt
}

func NewExpiredEvent(j *Job, refund string) *types.Event {
	evt := newJobEvent(EventTypeJobExpired, j)
	evt.Attributes["refund"] = refund
	return evt
}

func newJobEvent(eventType string, j *Job) *types.Event {
	attrs := make(map[string]string)
	if j == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(j.ID, 10)
	attrs["client"] = crypto.FromRaw(j.Client).String()
	if j.HasFreelancer() {
		attrs["freelancer"] = crypto.FromRaw(j.Freelancer).String()
	}
	attrs["token"] = j.Token
	attrs["amount"] = cloneBigInt(j.Amount).String()
	attrs["softDeadline"] = strconv.FormatUint(j.SoftDeadline, 10)
	attrs["hardDeadline"] = strconv.FormatUint(j.HardDeadline, 10)
	attrs["penaltyPerSec"] = cloneBigInt(j.PenaltyPerSec).String()
	attrs["state"] = j.State.String()
	if j.Direct {
		attrs["direct"] = "true"
	}
	attrs["updatedAt"] = strconv.FormatUint(j.UpdatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}
