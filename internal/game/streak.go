package game

import "time"

// StreakConfig tunes the transient click multiplier.
type StreakConfig struct {
	BaseMultiplier    float64
	Ceiling           float64
	ActionsToEscalate int
	// TierDurations[i] is the window granted at tier i+1; the last entry
	// covers every higher tier.
	TierDurations []time.Duration
}

func DefaultStreakConfig() StreakConfig {
	return StreakConfig{
		BaseMultiplier:    2,
		Ceiling:           16,
		ActionsToEscalate: 25,
		TierDurations: []time.Duration{
			4 * time.Second,
			3 * time.Second,
			2500 * time.Millisecond,
			2 * time.Second,
		},
	}
}

func (c StreakConfig) durationFor(tier int) time.Duration {
	if len(c.TierDurations) == 0 {
		return 3 * time.Second
	}
	i := tier - 1
	if i < 0 {
		i = 0
	}
	if i >= len(c.TierDurations) {
		i = len(c.TierDurations) - 1
	}
	return c.TierDurations[i]
}

// Streak is Idle while Tier is 0 or once now has reached ExpiresAt. Expiry
// is only ever observed lazily.
type Streak struct {
	Tier       int
	Multiplier float64
	Actions    int
	StartedAt  time.Time
	ExpiresAt  time.Time
}

func (s Streak) Active(now time.Time) bool {
	return s.Tier > 0 && now.Before(s.ExpiresAt)
}

// MultiplierAt returns the multiplier in force at now; a lapsed streak reads as 1.
func (s Streak) MultiplierAt(now time.Time) float64 {
	if !s.Active(now) {
		return 1
	}
	return s.Multiplier
}

func (s Streak) length() time.Duration {
	if s.Tier == 0 {
		return 0
	}
	return s.ExpiresAt.Sub(s.StartedAt)
}

// lapse returns the Idle streak and, when a streak had been running, how long it lasted.
func (s Streak) lapse(now time.Time) (Streak, time.Duration, bool) {
	if s.Tier == 0 || s.Active(now) {
		return s, 0, false
	}
	return Streak{}, s.length(), true
}

func startStreak(now time.Time, base float64, d time.Duration) Streak {
	if base < 1 {
		base = 1
	}
	return Streak{
		Tier:       1,
		Multiplier: base,
		StartedAt:  now,
		ExpiresAt:  now.Add(d),
	}
}

func (s Streak) extend(now time.Time, d time.Duration) Streak {
	if exp := now.Add(d); exp.After(s.ExpiresAt) {
		s.ExpiresAt = exp
	}
	return s
}

func (s Streak) escalate(now time.Time, cfg StreakConfig) Streak {
	if s.Multiplier < cfg.Ceiling {
		s.Multiplier *= 2
		if s.Multiplier > cfg.Ceiling {
			s.Multiplier = cfg.Ceiling
		}
		s.Tier++
	}
	s.Actions = 0
	s.ExpiresAt = now.Add(cfg.durationFor(s.Tier))
	return s
}

// record counts one qualifying action against an active streak: it escalates
// once the tier's action threshold is met, otherwise refreshes the expiry.
func (s Streak) record(now time.Time, cfg StreakConfig) Streak {
	s.Actions++
	if cfg.ActionsToEscalate > 0 && s.Actions >= cfg.ActionsToEscalate && s.Multiplier < cfg.Ceiling {
		return s.escalate(now, cfg)
	}
	return s.extend(now, cfg.durationFor(s.Tier))
}
