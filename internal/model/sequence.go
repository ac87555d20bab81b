package model

import "time"

// StepStatus tracks a sequence step from planning through outcome.
type StepStatus string

const (
	StepStatusPlanned   StepStatus = "planned"
	StepStatusSent      StepStatus = "sent"
	StepStatusDelivered StepStatus = "delivered"
	StepStatusOpened    StepStatus = "opened"
	StepStatusClicked   StepStatus = "clicked"
	StepStatusBounced   StepStatus = "bounced"
	StepStatusCancelled StepStatus = "cancelled"
)

// SequenceStep is one planned or executed contact attempt within a lead's
// multi-channel plan. Once any step records a reply, every future step for
// that lead is cancelled regardless of channel.
type SequenceStep struct {
	ID        string     `json:"id"`
	OrgID     string     `json:"org_id"`
	LeadID    string     `json:"lead_id"`
	AccountID string     `json:"account_id,omitempty"`
	Position  int        `json:"position"`
	DayOffset int        `json:"day_offset"`
	Channel   Channel    `json:"channel"`
	Status    StepStatus `json:"status"`
	Subject   string     `json:"subject,omitempty"`
	Body      string     `json:"body,omitempty"`
	MessageID string     `json:"message_id,omitempty"` // backend-assigned id
	SentAt    *time.Time `json:"sent_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Executed reports whether the step went out the door.
func (s *SequenceStep) Executed() bool {
	switch s.Status {
	case StepStatusPlanned, StepStatusCancelled:
		return false
	}
	return true
}
