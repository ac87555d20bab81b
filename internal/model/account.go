package model

import "time"

// AccountStatus represents the lifecycle state of a sending account.
type AccountStatus string

const (
	AccountStatusWarmingUp AccountStatus = "warming_up"
	AccountStatusActive    AccountStatus = "active"
	AccountStatusPaused    AccountStatus = "paused"
	AccountStatusError     AccountStatus = "error"
)

// Channel identifies a delivery channel capability.
type Channel string

const (
	ChannelEmailOAuth Channel = "email_oauth"
	ChannelEmailSMTP  Channel = "email_smtp"
	ChannelSMS        Channel = "sms"
	ChannelSocialDM   Channel = "social_dm"
	ChannelVoiceDrop  Channel = "voice_drop"
	ChannelPostal     Channel = "postal"
)

// IsEmail reports whether the channel delivers to an email address.
func (c Channel) IsEmail() bool {
	return c == ChannelEmailOAuth || c == ChannelEmailSMTP
}

// SendingAccount is an identity used to dispatch outbound messages.
// Counters are mutated only through the account pool's atomic store
// operations, never by direct field writes on a loaded copy.
type SendingAccount struct {
	ID          string        `json:"id"`
	OrgID       string        `json:"org_id"`
	Channel     Channel       `json:"channel"`
	Address     string        `json:"address"` // mailbox address, phone number, or handle
	DisplayName string        `json:"display_name,omitempty"`
	Status      AccountStatus `json:"status"`
	WarmupDay   int           `json:"warmup_day"`
	DailyLimit  int           `json:"daily_limit"`
	SentToday   int           `json:"sent_today"`
	TotalSent   int           `json:"total_sent"`
	BounceCount int           `json:"bounce_count"`
	Reputation  float64       `json:"reputation"`
	LastUsedAt  *time.Time    `json:"last_used_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// BounceRate returns bounceCount / max(totalSent, 1).
func (a *SendingAccount) BounceRate() float64 {
	total := a.TotalSent
	if total < 1 {
		total = 1
	}
	return float64(a.BounceCount) / float64(total)
}

// Usable reports whether the account may be considered for sending at all.
// Quota is checked separately against the warmup-adjusted effective limit.
func (a *SendingAccount) Usable() bool {
	return a.Status == AccountStatusActive || a.Status == AccountStatusWarmingUp
}

// Organization owns sending accounts, leads, and the guard lookup tables.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	SenderName  string    `json:"sender_name,omitempty"`  // signature used in composed messages
	SenderTitle string    `json:"sender_title,omitempty"`
	DailyVolume int       `json:"daily_volume"`           // top-N leads composed per cycle
	Keywords    []string  `json:"keywords,omitempty"`     // discovery search queries
	Region      string    `json:"region,omitempty"`       // appended to discovery queries
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}
