package policy

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// ScoringWeights is the additive weight table for the digital-gap fit
// score. The policy deliberately rewards the absence of modern digital
// assets: the product closes exactly that gap, so a lead with no video and
// dated markup is a better fit, not a worse one.
type ScoringWeights struct {
	HasWebsite      int `yaml:"has_website" mapstructure:"has_website"`
	PersonalAddress int `yaml:"personal_address" mapstructure:"personal_address"`
	GenericAddress  int `yaml:"generic_address" mapstructure:"generic_address"`
	NoVideo         int `yaml:"no_video" mapstructure:"no_video"`
	LegacyMarkup    int `yaml:"legacy_markup" mapstructure:"legacy_markup"`
	NoVideoChannel  int `yaml:"no_video_channel" mapstructure:"no_video_channel"`
	ImageProfile    int `yaml:"image_profile" mapstructure:"image_profile"`
	ContactName     int `yaml:"contact_name" mapstructure:"contact_name"`
}

// DefaultScoringWeights returns the shipped weight table. The raw sum can
// exceed 100; the scorer caps the final score.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		HasWebsite:      10,
		PersonalAddress: 30,
		GenericAddress:  20,
		NoVideo:         25,
		LegacyMarkup:    15,
		NoVideoChannel:  10,
		ImageProfile:    5,
		ContactName:     5,
	}
}

// Validate rejects negative weights and an all-zero table.
func (w ScoringWeights) Validate() error {
	fields := map[string]int{
		"has_website":      w.HasWebsite,
		"personal_address": w.PersonalAddress,
		"generic_address":  w.GenericAddress,
		"no_video":         w.NoVideo,
		"legacy_markup":    w.LegacyMarkup,
		"no_video_channel": w.NoVideoChannel,
		"image_profile":    w.ImageProfile,
		"contact_name":     w.ContactName,
	}
	var errs []string
	sum := 0
	for name, v := range fields {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
		sum += v
	}
	if sum == 0 {
		errs = append(errs, "weight sum must be > 0")
	}
	if len(errs) > 0 {
		return eris.Errorf("policy: scoring weights invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GenericLocalParts is the role-address list used to classify an email as
// generic rather than personal.
var GenericLocalParts = []string{
	"info", "contact", "hello", "admin", "office", "mail", "sales",
	"support", "team", "enquiries", "inquiries", "bookings", "booking",
	"reservations", "orders", "accounts", "billing", "webmaster",
	"noreply", "no-reply", "postmaster",
}

// IsGenericLocalPart reports whether the local part of an email address
// matches the role list.
func IsGenericLocalPart(local string) bool {
	local = strings.ToLower(local)
	for _, g := range GenericLocalParts {
		if local == g {
			return true
		}
	}
	return false
}
