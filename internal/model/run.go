package model

import "time"

// RunStatus represents the state of a cycle run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// CycleRun is the persisted per-organization summary of one engine cycle.
// A run always completes and always carries deterministic counts, even
// when every phase encountered partial failures.
type CycleRun struct {
	ID          string      `json:"id"`
	OrgID       string      `json:"org_id"`
	Status      RunStatus   `json:"status"`
	Summary     *RunSummary `json:"summary,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// RunSummary holds the deterministic outcome counts of one cycle.
type RunSummary struct {
	Found     int      `json:"found"`
	Scraped   int      `json:"scraped"`
	Scored    int      `json:"scored"`
	Ready     int      `json:"ready"`
	Sent      int      `json:"sent"`
	Deferred  int      `json:"deferred"` // leads left ready for the next run
	NoContact int      `json:"no_contact"`
	Errors    []string `json:"errors,omitempty"`
}

// AddError appends a per-lead or per-phase error string without aborting
// the run.
func (s *RunSummary) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// EventType identifies an inbound delivery notification.
type EventType string

const (
	EventDelivered   EventType = "delivered"
	EventOpened      EventType = "opened"
	EventClicked     EventType = "clicked"
	EventBounced     EventType = "bounced"
	EventComplaint   EventType = "complaint"
	EventReplied     EventType = "replied"
	EventUnsubscribe EventType = "unsubscribed"
)

// InboundEvent is a webhook notification tagged with the originating
// lead/account/organization. It is the sole path by which bounce and reply
// state reaches the deliverability guard and the cross-channel stop rule.
type InboundEvent struct {
	Type      EventType `json:"type"`
	OrgID     string    `json:"org_id"`
	LeadID    string    `json:"lead_id"`
	AccountID string    `json:"account_id,omitempty"`
	Channel   Channel   `json:"channel,omitempty"`
	Address   string    `json:"address,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	At        time.Time `json:"at,omitempty"`
}
