package policy

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/groveline/prospector/internal/model"
)

// TemplateStep is one planned (dayOffset, channel) entry of a sequence
// template.
type TemplateStep struct {
	DayOffset int           `yaml:"day" json:"day"`
	Channel   model.Channel `yaml:"channel" json:"channel"`
}

// SequencePolicy bundles every table the channel orchestrator consults:
// per-category channel priorities, sequence templates, per-lead lifetime
// ceilings, and the cross-channel cooldown matrix. Gaps are expressed in
// hours so the tables stay plain YAML.
type SequencePolicy struct {
	// ChannelPriority maps a lead category to its channel ordering, used
	// when a planned step must fall back to the next available channel.
	ChannelPriority map[string][]model.Channel `yaml:"channel_priority"`

	// Templates maps a lead category to its fixed (dayOffset, channel) plan.
	Templates map[string][]TemplateStep `yaml:"templates"`

	// LifetimeCeilings caps executed contacts per channel over a lead's
	// entire lifetime, independent of per-account daily quotas. A missing
	// channel means unlimited.
	LifetimeCeilings map[model.Channel]int `yaml:"lifetime_ceilings"`

	// MinGapHours is the minimum elapsed time between any two steps
	// regardless of channel.
	MinGapHours int `yaml:"min_gap_hours"`

	// PairGapHours holds channel-pair-specific stricter minimums, keyed
	// by previous then next channel. Only gaps above MinGapHours matter.
	PairGapHours map[model.Channel]map[model.Channel]int `yaml:"pair_gap_hours"`

	// HotScoreThreshold gates the postal channel: physical mail is
	// reserved for leads at or above this score, or for an explicit last
	// template step.
	HotScoreThreshold int `yaml:"hot_score_threshold"`
}

// Lead categories understood by the default tables.
const (
	CategoryStorefront = "storefront"
	CategoryOffice     = "office"
	CategoryPractice   = "practice"
)

// DefaultSequencePolicy returns the shipped sequencing tables.
func DefaultSequencePolicy() SequencePolicy {
	return SequencePolicy{
		ChannelPriority: map[string][]model.Channel{
			CategoryStorefront: {
				model.ChannelEmailSMTP, model.ChannelSMS,
				model.ChannelSocialDM, model.ChannelVoiceDrop, model.ChannelPostal,
			},
			CategoryOffice: {
				model.ChannelEmailSMTP, model.ChannelVoiceDrop,
				model.ChannelSMS, model.ChannelPostal,
			},
			CategoryPractice: {
				model.ChannelEmailSMTP, model.ChannelSMS, model.ChannelPostal,
			},
		},
		Templates: map[string][]TemplateStep{
			CategoryStorefront: {
				{DayOffset: 0, Channel: model.ChannelEmailSMTP},
				{DayOffset: 2, Channel: model.ChannelSMS},
				{DayOffset: 5, Channel: model.ChannelEmailSMTP},
				{DayOffset: 9, Channel: model.ChannelSocialDM},
				{DayOffset: 14, Channel: model.ChannelPostal},
			},
			CategoryOffice: {
				{DayOffset: 0, Channel: model.ChannelEmailSMTP},
				{DayOffset: 3, Channel: model.ChannelEmailSMTP},
				{DayOffset: 7, Channel: model.ChannelVoiceDrop},
				{DayOffset: 12, Channel: model.ChannelEmailSMTP},
			},
			CategoryPractice: {
				{DayOffset: 0, Channel: model.ChannelEmailSMTP},
				{DayOffset: 4, Channel: model.ChannelSMS},
				{DayOffset: 8, Channel: model.ChannelEmailSMTP},
			},
		},
		LifetimeCeilings: map[model.Channel]int{
			model.ChannelSMS:       2,
			model.ChannelSocialDM:  1,
			model.ChannelVoiceDrop: 1,
			model.ChannelPostal:    1,
		},
		MinGapHours: 24,
		PairGapHours: map[model.Channel]map[model.Channel]int{
			model.ChannelSMS: {
				model.ChannelSMS: 72,
			},
			model.ChannelEmailSMTP: {
				model.ChannelEmailSMTP:  48,
				model.ChannelEmailOAuth: 48,
			},
			model.ChannelEmailOAuth: {
				model.ChannelEmailSMTP:  48,
				model.ChannelEmailOAuth: 48,
			},
		},
		HotScoreThreshold: 80,
	}
}

// GapFor returns the required minimum gap between a previous contact on
// prev and a new contact on next.
func (p SequencePolicy) GapFor(prev, next model.Channel) time.Duration {
	hours := p.MinGapHours
	if m, ok := p.PairGapHours[prev]; ok {
		if h, ok := m[next]; ok && h > hours {
			hours = h
		}
	}
	return time.Duration(hours) * time.Hour
}

// TemplateFor returns the sequence template for a category, falling back
// to the office template for unknown categories.
func (p SequencePolicy) TemplateFor(category string) []TemplateStep {
	if t, ok := p.Templates[category]; ok {
		return t
	}
	return p.Templates[CategoryOffice]
}

// PriorityFor returns the channel priority list for a category, falling
// back to the office ordering.
func (p SequencePolicy) PriorityFor(category string) []model.Channel {
	if pr, ok := p.ChannelPriority[category]; ok {
		return pr
	}
	return p.ChannelPriority[CategoryOffice]
}

// Validate checks internal consistency of the tables.
func (p SequencePolicy) Validate() error {
	if p.MinGapHours <= 0 {
		return eris.New("policy: min_gap_hours must be positive")
	}
	if len(p.Templates) == 0 {
		return eris.New("policy: no sequence templates")
	}
	for cat, steps := range p.Templates {
		prev := -1
		for _, s := range steps {
			if s.DayOffset < prev {
				return eris.Errorf("policy: template %s not sorted by day offset", cat)
			}
			prev = s.DayOffset
		}
	}
	for ch, n := range p.LifetimeCeilings {
		if n < 0 {
			return eris.Errorf("policy: negative lifetime ceiling for %s", ch)
		}
	}
	return nil
}

// Tables aggregates every policy table the engine needs.
type Tables struct {
	Warmup   WarmupCurve    `yaml:"warmup"`
	Scoring  ScoringWeights `yaml:"scoring"`
	Sequence SequencePolicy `yaml:"sequence"`
}

// Defaults returns the shipped policy tables.
func Defaults() Tables {
	return Tables{
		Warmup:   DefaultWarmupCurve(),
		Scoring:  DefaultScoringWeights(),
		Sequence: DefaultSequencePolicy(),
	}
}

// Validate checks every table.
func (t Tables) Validate() error {
	if err := t.Warmup.Validate(); err != nil {
		return err
	}
	if err := t.Scoring.Validate(); err != nil {
		return err
	}
	return t.Sequence.Validate()
}

// LoadFile reads policy tables from a YAML file, overlaying the defaults.
// Operators tune thresholds by editing data, not control flow.
func LoadFile(path string) (Tables, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, eris.Wrapf(err, "policy: read %s", path)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, eris.Wrapf(err, "policy: parse %s", path)
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}
