package model

import "time"

// LeadStatus is the pipeline state of a lead. Transitions are validated
// against the transition table below; illegal moves are rejected by the
// store layer before they are committed.
type LeadStatus string

const (
	LeadStatusFound        LeadStatus = "found"
	LeadStatusScraped      LeadStatus = "scraped"
	LeadStatusScored       LeadStatus = "scored"
	LeadStatusReady        LeadStatus = "ready"
	LeadStatusSent         LeadStatus = "sent"
	LeadStatusOpened       LeadStatus = "opened"
	LeadStatusBounced      LeadStatus = "bounced"
	LeadStatusUnsubscribed LeadStatus = "unsubscribed"
	LeadStatusReplied      LeadStatus = "replied"
	LeadStatusNoContact    LeadStatus = "no_contact"
	LeadStatusNoEmail      LeadStatus = "no_email"
)

// leadTransitions enumerates the legal status moves. Self-transitions are
// permitted everywhere so that re-running a phase over an already-processed
// lead is idempotent rather than an error.
var leadTransitions = map[LeadStatus][]LeadStatus{
	LeadStatusFound:   {LeadStatusScraped, LeadStatusNoEmail},
	LeadStatusScraped: {LeadStatusScored, LeadStatusNoContact, LeadStatusNoEmail},
	LeadStatusScored:  {LeadStatusReady},
	LeadStatusReady:   {LeadStatusSent, LeadStatusUnsubscribed, LeadStatusReplied},
	LeadStatusSent: {
		LeadStatusOpened, LeadStatusBounced, LeadStatusUnsubscribed, LeadStatusReplied,
	},
	// An opened lead returns to sent when its next sequence step goes out.
	LeadStatusOpened: {LeadStatusSent, LeadStatusBounced, LeadStatusUnsubscribed, LeadStatusReplied},
	// Terminal and absorbing states have no outgoing edges.
	LeadStatusBounced:      {},
	LeadStatusUnsubscribed: {},
	LeadStatusReplied:      {},
	LeadStatusNoContact:    {},
	LeadStatusNoEmail:      {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to LeadStatus) bool {
	if from == to {
		return true
	}
	for _, next := range leadTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no pipeline pass may touch the lead again.
func (s LeadStatus) Terminal() bool {
	return len(leadTransitions[s]) == 0
}

// ContactMethod is one extracted way of reaching a lead on some channel.
type ContactMethod struct {
	Channel  Channel `json:"channel"`
	Address  string  `json:"address"`            // email, E.164 phone, handle, or mailing address
	Personal bool    `json:"personal,omitempty"` // local part not on the generic-role list
	Priority int     `json:"priority"`           // lower = preferred
}

// Lead is a prospective contact tracked through the pipeline state machine.
type Lead struct {
	ID          string          `json:"id"`
	OrgID       string          `json:"org_id"`
	URL         string          `json:"url"`
	Domain      string          `json:"domain"`
	Name        string          `json:"name,omitempty"`
	ContactName string          `json:"contact_name,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	Contacts    []ContactMethod `json:"contacts,omitempty"`
	Category    string          `json:"category,omitempty"` // storefront, office, practice
	Status      LeadStatus      `json:"status"`
	Score       int             `json:"score"`
	ScoreDetail *ScoreDetail    `json:"score_detail,omitempty"`
	// LastMessages holds the most recently composed message per channel.
	LastMessages     map[Channel]string `json:"last_messages,omitempty"`
	SequencePosition int                `json:"sequence_position"`
	Source           string             `json:"source,omitempty"` // discovery, import
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// ContactFor returns the highest-priority usable contact method for the
// given channel, or nil when the lead has none.
func (l *Lead) ContactFor(ch Channel) *ContactMethod {
	var best *ContactMethod
	for i := range l.Contacts {
		cm := &l.Contacts[i]
		if cm.Channel != ch && !(ch.IsEmail() && cm.Channel.IsEmail()) {
			continue
		}
		if cm.Address == "" {
			continue
		}
		if best == nil || cm.Priority < best.Priority {
			best = cm
		}
	}
	return best
}

// HasContact reports whether any channel has a usable address.
func (l *Lead) HasContact() bool {
	for _, cm := range l.Contacts {
		if cm.Address != "" {
			return true
		}
	}
	return false
}

// ScoreDetail is the structured rationale attached to a lead's score.
type ScoreDetail struct {
	Total   int           `json:"total"`
	Signals []ScoreSignal `json:"signals"`
	Capped  bool          `json:"capped,omitempty"` // raw sum exceeded 100
}

// ScoreSignal records one weighted contribution to the score.
type ScoreSignal struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
	Reason string `json:"reason,omitempty"`
}
