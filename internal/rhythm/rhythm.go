// Package rhythm decides whether a persona should post right now. The whole
// package is pure: every call receives the clock and the random source, so a
// fixed seed yields a deterministic decision sequence.
package rhythm

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

const (
	// MinPostGap is the hard floor between consecutive posts.
	MinPostGap = 25 * time.Minute

	// BurstCooldown is how long after a burst started the persona stays
	// quiet once the burst is exhausted.
	BurstCooldown = 120 * time.Minute

	// MaxDailyPosts caps the effective daily target regardless of mood.
	MaxDailyPosts = 15

	// CapSlack is added on top of the mood-adjusted target before capping.
	CapSlack = 2

	// MaxTickProbability bounds the per-tick posting probability.
	MaxTickProbability = 0.85

	// TicksPerDay is how many times per day Decide is expected to be called
	// for one persona (the dispatcher ticks every 30 minutes). The posting
	// probability is calibrated against it so that, integrated over a day,
	// expected posts ≈ the effective target.
	TicksPerDay = 48

	moodMin = 0.3
	moodMax = 2.0
)

// MoodLabel buckets the daily mood multiplier.
type MoodLabel string

const (
	MoodSilent      MoodLabel = "silent"
	MoodQuiet       MoodLabel = "quiet"
	MoodNormal      MoodLabel = "normal"
	MoodChatty      MoodLabel = "chatty"
	MoodHyperactive MoodLabel = "hyperactive"
)

// Mood is the persona's posting appetite for one local calendar day.
type Mood struct {
	Multiplier float64
	Label      MoodLabel
}

// BurstState tracks an in-progress posting burst.
type BurstState struct {
	StartedAt       time.Time
	PostsRemaining  int
	IntervalMinutes int
}

// ScheduleState is the durable per-persona scheduling state.
// PostsToday resets whenever MoodDate changes; the mood is rolled at most
// once per local calendar day.
type ScheduleState struct {
	LastPostAt    *time.Time
	DailyMood     Mood
	MoodDate      string // YYYY-MM-DD in the persona's local offset
	Burst         *BurstState
	PostsToday    int
	PostCountDate string
}

// FrequencyTier is the persona's configured base posting volume.
type FrequencyTier string

const (
	TierLow    FrequencyTier = "low"
	TierMedium FrequencyTier = "medium"
	TierHigh   FrequencyTier = "high"
)

// BaseTarget returns the tier's base daily post target.
func (t FrequencyTier) BaseTarget() int {
	switch t {
	case TierLow:
		return 3
	case TierHigh:
		return 10
	default:
		return 6
	}
}

// Params carries the persona-derived inputs of a decision. Trait values are
// in [0,1].
type Params struct {
	Tier       FrequencyTier
	Chronotype Chronotype
	UTCOffset  int // hours east of UTC

	Expressiveness float64
	Drama          float64
	Independence   float64
}

// Decision is the outcome of one Decide call. State is the updated schedule
// state and must be persisted by the caller regardless of ShouldPost: mood
// rolls and burst bookkeeping happen even on denials.
type Decision struct {
	ShouldPost bool
	Reason     string
	State      ScheduleState
}

// Decide applies the posting rules in order, short-circuiting on the first
// decisive one: mood roll, daily cap, minimum gap, burst cooldown, burst
// continuation, circadian gate, probabilistic approval, burst initiation.
func Decide(now time.Time, state ScheduleState, p Params, rng *rand.Rand) Decision {
	local := now.UTC().Add(time.Duration(p.UTCOffset) * time.Hour)
	localDate := local.Format("2006-01-02")
	localHour := local.Hour()

	// 1. Daily mood roll. Rolling the mood starts a fresh day: the post
	// counter resets with it.
	if state.MoodDate != localDate {
		state.DailyMood = rollMood(p, rng)
		state.MoodDate = localDate
		state.PostsToday = 0
		state.PostCountDate = localDate
	}

	mult := state.DailyMood.Multiplier
	if mult == 0 {
		mult = 1.0
	}
	effectiveTarget := int(math.Round(float64(p.Tier.BaseTarget()) * mult))

	// 2. Daily cap.
	dailyCap := effectiveTarget + CapSlack
	if dailyCap > MaxDailyPosts {
		dailyCap = MaxDailyPosts
	}
	if state.PostsToday >= dailyCap {
		return deny(state, fmt.Sprintf("daily cap (%d/%d)", state.PostsToday, dailyCap))
	}

	// 3. Minimum gap.
	if state.LastPostAt != nil {
		elapsed := now.Sub(*state.LastPostAt)
		if elapsed < MinPostGap {
			return deny(state, fmt.Sprintf("min gap (%dm < %dm)",
				int(elapsed.Minutes()), int(MinPostGap.Minutes())))
		}
	}

	// 4. Burst cooldown. An exhausted burst keeps the persona quiet until
	// the cooldown since burst start has elapsed, then clears.
	if state.Burst != nil && state.Burst.PostsRemaining <= 0 {
		since := now.Sub(state.Burst.StartedAt)
		if since < BurstCooldown {
			return deny(state, fmt.Sprintf("burst cooldown (%dm < %dm)",
				int(since.Minutes()), int(BurstCooldown.Minutes())))
		}
		state.Burst = nil
	}

	// 5. Active burst continuation.
	if state.Burst != nil && state.Burst.PostsRemaining > 0 {
		interval := time.Duration(state.Burst.IntervalMinutes) * time.Minute
		if state.LastPostAt == nil || now.Sub(*state.LastPostAt) >= interval {
			state.Burst.PostsRemaining--
			return approve(state, fmt.Sprintf("burst post (%d left)", state.Burst.PostsRemaining))
		}
		return deny(state, fmt.Sprintf("burst interval (%dm < %dm)",
			int(now.Sub(*state.LastPostAt).Minutes()), state.Burst.IntervalMinutes))
	}

	// 6. Circadian gate.
	curve := p.Chronotype.Curve()
	activity := curve[localHour]
	if activity == 0 {
		return deny(state, fmt.Sprintf("sleeping (hour %d)", localHour))
	}

	// 7. Probabilistic approval, calibrated so expected daily posts track
	// the effective target.
	prob := activity * float64(effectiveTarget) / (TicksPerDay * curveAverage(curve))
	if prob > MaxTickProbability {
		prob = MaxTickProbability
	}
	roll := rng.Float64()
	if roll >= prob {
		return deny(state, fmt.Sprintf("probability (roll %.2f >= %.2f)", roll, prob))
	}

	// 8. Burst initiation.
	if rng.Float64() < burstChance(p) {
		total := 2 + rng.Intn(2)     // 2-3 posts including this one
		interval := 5 + rng.Intn(20) // 5-24 minutes apart
		state.Burst = &BurstState{
			StartedAt:       now,
			PostsRemaining:  total - 1,
			IntervalMinutes: interval,
		}
		return approve(state, fmt.Sprintf("burst start (%d posts, %dm apart)", total, interval))
	}

	return approve(state, fmt.Sprintf("posting (roll %.2f < %.2f)", roll, prob))
}

// RecordPost updates the schedule state after a successful publish.
func RecordPost(state ScheduleState, now time.Time, utcOffset int) ScheduleState {
	t := now
	state.LastPostAt = &t
	localDate := now.UTC().Add(time.Duration(utcOffset) * time.Hour).Format("2006-01-02")
	if state.PostCountDate != localDate {
		state.PostsToday = 0
		state.PostCountDate = localDate
	}
	state.PostsToday++
	return state
}

func deny(state ScheduleState, reason string) Decision {
	return Decision{ShouldPost: false, Reason: reason, State: state}
}

func approve(state ScheduleState, reason string) Decision {
	return Decision{ShouldPost: true, Reason: reason, State: state}
}

// rollMood draws the day's mood multiplier from a Gaussian centered on a
// trait-derived tendency: expressive, dramatic personas swing higher and
// wider.
func rollMood(p Params, rng *rand.Rand) Mood {
	mean := 1.0 + 0.4*(p.Expressiveness-0.5) + 0.3*(p.Drama-0.5)
	stddev := 0.25 + 0.25*p.Drama

	mult := mean + gaussian(rng)*stddev
	if mult < moodMin {
		mult = moodMin
	}
	if mult > moodMax {
		mult = moodMax
	}
	return Mood{Multiplier: mult, Label: labelFor(mult)}
}

// gaussian returns a standard normal sample via the Box-Muller transform.
func gaussian(rng *rand.Rand) float64 {
	u1 := rng.Float64()
	for u1 == 0 {
		u1 = rng.Float64()
	}
	u2 := rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

func labelFor(mult float64) MoodLabel {
	switch {
	case mult <= 0.4:
		return MoodSilent
	case mult <= 0.7:
		return MoodQuiet
	case mult <= 1.3:
		return MoodNormal
	case mult <= 1.7:
		return MoodChatty
	default:
		return MoodHyperactive
	}
}

// burstChance is the trait-weighted probability of starting a burst on an
// approved post: base 8%, boosted by expressiveness and drama, reduced by
// independence, clamped to [2%, 25%].
func burstChance(p Params) float64 {
	c := 0.08 + 0.10*(p.Expressiveness-0.5) + 0.08*(p.Drama-0.5) - 0.08*(p.Independence-0.5)
	if c < 0.02 {
		c = 0.02
	}
	if c > 0.25 {
		c = 0.25
	}
	return c
}
