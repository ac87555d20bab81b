package model

import (
	"strings"
	"time"
)

// SuppressionReason enumerates why an address was permanently blocked.
type SuppressionReason string

const (
	SuppressionUnsubscribed SuppressionReason = "unsubscribed"
	SuppressionHardBounce   SuppressionReason = "bounce_hard"
	SuppressionComplaint    SuppressionReason = "complaint"
)

// SuppressionEntry is an append-only record blocking an address for an
// organization. Once present the address is unsendable forever.
type SuppressionEntry struct {
	ID        string            `json:"id"`
	OrgID     string            `json:"org_id"`
	Address   string            `json:"address"` // normalized, see NormalizeAddress
	Reason    SuppressionReason `json:"reason"`
	LeadID    string            `json:"lead_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// DomainCooldown records the last time any lead on a domain was contacted.
// It enforces at most one new lead contacted per domain per cooldown window,
// independent of which lead or account made the contact.
type DomainCooldown struct {
	OrgID           string    `json:"org_id"`
	Domain          string    `json:"domain"`
	LastContactedAt time.Time `json:"last_contacted_at"`
}

// NormalizeAddress lowercases and trims an address so suppression lookups
// are exact-match regardless of how the address was captured.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
