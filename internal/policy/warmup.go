// Package policy holds the data-driven threshold tables consumed by the
// account pool, guard, scorer, and sequence planner: the warmup curve,
// scoring weights, channel cooldown matrix, per-lead channel ceilings, and
// sequence templates. No decisions live here, only data and table lookups.
package policy

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/groveline/prospector/internal/model"
)

// WarmupStep is one row of the warmup curve: from DayThreshold onward the
// daily cap is Cap. A nil Cap means "use the account's configured daily
// limit" — the ramp is over.
type WarmupStep struct {
	DayThreshold int  `yaml:"day" json:"day"`
	Cap          *int `yaml:"cap" json:"cap"` // nil = account daily limit
}

// WarmupCurve is a monotonic step function of warmup day. Steps must be
// sorted ascending by DayThreshold with non-decreasing caps.
type WarmupCurve []WarmupStep

func intPtr(v int) *int { return &v }

// DefaultWarmupCurve ramps a fresh account from a handful of sends on day
// one to full configured capacity after a month.
func DefaultWarmupCurve() WarmupCurve {
	return WarmupCurve{
		{DayThreshold: 1, Cap: intPtr(5)},
		{DayThreshold: 3, Cap: intPtr(10)},
		{DayThreshold: 7, Cap: intPtr(20)},
		{DayThreshold: 14, Cap: intPtr(50)},
		{DayThreshold: 21, Cap: intPtr(100)},
		{DayThreshold: 30, Cap: nil},
	}
}

// Validate checks ordering and monotonicity of the curve.
func (c WarmupCurve) Validate() error {
	if len(c) == 0 {
		return eris.New("policy: warmup curve is empty")
	}
	prevDay := 0
	prevCap := -1
	for i, step := range c {
		if step.DayThreshold <= prevDay && i > 0 {
			return eris.Errorf("policy: warmup curve not sorted at index %d", i)
		}
		if step.Cap != nil {
			if *step.Cap < 0 {
				return eris.Errorf("policy: warmup cap negative at day %d", step.DayThreshold)
			}
			if prevCap >= 0 && *step.Cap < prevCap {
				return eris.Errorf("policy: warmup curve not monotonic at day %d", step.DayThreshold)
			}
			prevCap = *step.Cap
		}
		prevDay = step.DayThreshold
	}
	return nil
}

// CapFor returns the curve cap applicable to the given warmup day: the cap
// of the greatest threshold <= day. nil means the ramp is over.
func (c WarmupCurve) CapFor(day int) *int {
	if len(c) == 0 {
		return nil
	}
	// First step also covers days below its threshold, so a day-0 account
	// still gets the smallest cap rather than unlimited volume.
	idx := sort.Search(len(c), func(i int) bool { return c[i].DayThreshold > day })
	if idx == 0 {
		return c[0].Cap
	}
	return c[idx-1].Cap
}

// FinalThreshold is the day at which a warming-up account is promoted to
// active during warmup advancement.
func (c WarmupCurve) FinalThreshold() int {
	if len(c) == 0 {
		return 0
	}
	return c[len(c)-1].DayThreshold
}

// EffectiveLimit computes min(curve cap, account daily limit) for the
// account's current warmup day. Active accounts that finished the ramp get
// their configured daily limit.
func (c WarmupCurve) EffectiveLimit(a *model.SendingAccount) int {
	limit := a.DailyLimit
	if a.Status != model.AccountStatusWarmingUp {
		return limit
	}
	cap := c.CapFor(a.WarmupDay)
	if cap != nil && *cap < limit {
		return *cap
	}
	return limit
}
