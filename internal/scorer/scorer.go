// Package scorer ranks leads by digital gap: the fewer digital assets a
// business already has, the more it stands to gain from outreach, and
// the higher it scores.
package scorer

import (
	"go.uber.org/zap"

	"github.com/groveline/prospector/internal/extract"
	"github.com/groveline/prospector/internal/model"
	"github.com/groveline/prospector/internal/policy"
)

// MaxScore caps the total. A raw sum above the cap is recorded in the
// detail so reviewers can see the clamp happened.
const MaxScore = 100

// Scorer computes digital-gap scores from extraction results.
type Scorer struct {
	weights policy.ScoringWeights
}

// New creates a Scorer with the given weights.
func New(weights policy.ScoringWeights) *Scorer {
	return &Scorer{weights: weights}
}

// Score computes the digital-gap score for a lead from its extraction.
// Leads without any contact method score zero: there is no way to reach
// them, so ranking them is pointless.
func (s *Scorer) Score(lead *model.Lead, ex *extract.Extraction) *model.ScoreDetail {
	detail := &model.ScoreDetail{}

	if !lead.HasContact() {
		zap.L().Debug("scorer: lead has no contact method",
			zap.String("lead_id", lead.ID),
			zap.String("domain", lead.Domain),
		)
		return detail
	}

	add := func(name string, points int, reason string) {
		if points <= 0 {
			return
		}
		detail.Signals = append(detail.Signals, model.ScoreSignal{
			Name: name, Points: points, Reason: reason,
		})
		detail.Total += points
	}

	if ex.Signals.HasWebsite {
		add("has_website", s.weights.HasWebsite, "reachable site to anchor outreach on")
	}

	if personal := bestEmail(lead); personal != nil {
		if personal.Personal {
			add("personal_address", s.weights.PersonalAddress, "named mailbox, likely read by the owner")
		} else {
			add("generic_address", s.weights.GenericAddress, "role mailbox only")
		}
	}

	if !ex.Signals.HasVideo {
		add("no_video", s.weights.NoVideo, "no video content anywhere on the site")
	}
	if ex.Signals.LegacyMarkup {
		add("legacy_markup", s.weights.LegacyMarkup, "site built with outdated tooling")
	}
	if !ex.Signals.HasVideoChannel {
		add("no_video_channel", s.weights.NoVideoChannel, "no channel presence on video platforms")
	}
	if ex.Signals.HasImageProfile {
		add("image_profile", s.weights.ImageProfile, "image-sharing profile linked from the site")
	}
	if ex.ContactName != "" {
		add("contact_name", s.weights.ContactName, "owner or manager named on the site")
	}

	if detail.Total > MaxScore {
		detail.Total = MaxScore
		detail.Capped = true
	}

	zap.L().Debug("scorer: lead scored",
		zap.String("domain", lead.Domain),
		zap.Int("score", detail.Total),
		zap.Int("signals", len(detail.Signals)),
		zap.Bool("capped", detail.Capped),
	)
	return detail
}

// bestEmail returns the best-priority email contact, or nil.
func bestEmail(lead *model.Lead) *model.ContactMethod {
	var best *model.ContactMethod
	for i := range lead.Contacts {
		cm := &lead.Contacts[i]
		if !cm.Channel.IsEmail() || cm.Address == "" {
			continue
		}
		if best == nil || cm.Priority < best.Priority {
			best = cm
		}
	}
	return best
}

// Categorize assigns a lead to a message template category based on its
// domain vertical keywords. Unrecognized verticals fall back to office.
func Categorize(lead *model.Lead, ex *extract.Extraction) string {
	text := lead.Name + " " + lead.URL
	if ex != nil {
		text += " " + ex.ContactName
	}
	return categoryFor(text)
}
