// Package policy decides whether the agent should comment on a work item.
//
// The decision is a small state machine over urgency, the conversation
// signal and the cooldown state. Non-certain outcomes consume one draw from
// an injected random source so runs are reproducible under a fixed seed.
package policy

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/p-blackswan/nudge-agent/internal/signal"
	"github.com/p-blackswan/nudge-agent/internal/tracker"
)

// Emit probabilities per urgency bucket.
const (
	ProbCompletedOnTime = 1.0
	ProbDueSoon         = 0.3
	ProbOverdueFirst    = 1.0
	ProbOverdueShort    = 0.7
	ProbOverdueWeek     = 0.9
	ProbOverdueLong     = 1.0
	ProbNormal          = 0.05
	ProbFollowup        = 1.0
)

// Skip and emit reasons recorded with each decision.
const (
	ReasonCooldown       = "cooldown_active"
	ReasonAcknowledged   = "already_acknowledged"
	ReasonCompleted      = "completed"
	ReasonCelebrate      = "completed_on_time"
	ReasonDueSoon        = "due_soon"
	ReasonOverdue        = "overdue"
	ReasonNormal         = "normal_checkin"
	ReasonFollowup       = "stalled_conversation"
	ReasonDrawSuppressed = "draw_suppressed"
)

// Rand is the random source consumed by the policy.
type Rand interface {
	Float64() float64
}

// lockedRand makes a math/rand source safe to share.
type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

// NewRand returns a seeded source, or one seeded from the clock when seed is nil.
func NewRand(seed *int64) Rand {
	s := time.Now().UnixNano()
	if seed != nil {
		s = *seed
	}
	return &lockedRand{rnd: rand.New(rand.NewSource(s))}
}

// Input is everything the policy looks at.
type Input struct {
	Item     tracker.WorkItem
	Urgency  tracker.Urgency
	DaysLate int
	Signal   signal.Signal
	// Cooldown is true when an agent comment already exists inside the window.
	Cooldown bool
}

// Decision is the derived outcome for one item.
type Decision struct {
	Urgency     tracker.Urgency `json:"urgency_class"`
	DaysLate    int             `json:"days_late"`
	ShouldEmit  bool            `json:"should_emit"`
	Probability float64         `json:"probability"`
	Draw        float64         `json:"draw,omitempty"`
	Reason      string          `json:"reason"`
}

// Policy is the commentary decision policy.
type Policy struct {
	rng Rand
}

// New creates a policy drawing from rng.
func New(rng Rand) *Policy {
	if rng == nil {
		rng = NewRand(nil)
	}
	return &Policy{rng: rng}
}

// EmitProbability is the chance of commenting for a non-cooling item. It is
// non-decreasing in daysLate within the overdue bucket.
func EmitProbability(u tracker.Urgency, daysLate int, needsFollowup bool) float64 {
	switch u {
	case tracker.UrgencyCompletedOnTime:
		return ProbCompletedOnTime
	case tracker.UrgencyDueSoon:
		return ProbDueSoon
	case tracker.UrgencyOverdue:
		switch {
		case daysLate <= 1:
			return ProbOverdueFirst
		case daysLate <= 3:
			return ProbOverdueShort
		case daysLate <= 7:
			return ProbOverdueWeek
		default:
			return ProbOverdueLong
		}
	default:
		if needsFollowup {
			return ProbFollowup
		}
		return ProbNormal
	}
}

// Decide evaluates in. Skips that do not depend on chance never draw.
func (p *Policy) Decide(in Input) Decision {
	d := Decision{Urgency: in.Urgency, DaysLate: in.DaysLate}

	if in.Cooldown {
		d.Reason = ReasonCooldown
		return d
	}

	if in.Urgency == tracker.UrgencyCompletedOnTime {
		if last := in.Signal.LastAgentEntry; last != nil && in.Item.CompletedAt != nil &&
			!last.Timestamp.Before(*in.Item.CompletedAt) {
			d.Reason = ReasonAcknowledged
			return d
		}
	} else if in.Item.IsDone() {
		d.Reason = ReasonCompleted
		return d
	}

	d.Probability = EmitProbability(in.Urgency, in.DaysLate, in.Signal.NeedsFollowup)
	d.Draw = p.rng.Float64()
	d.ShouldEmit = d.Draw < d.Probability
	if !d.ShouldEmit {
		d.Reason = ReasonDrawSuppressed
		return d
	}
	d.Reason = emitReason(in)
	return d
}

func emitReason(in Input) string {
	switch in.Urgency {
	case tracker.UrgencyCompletedOnTime:
		return ReasonCelebrate
	case tracker.UrgencyDueSoon:
		return ReasonDueSoon
	case tracker.UrgencyOverdue:
		return fmt.Sprintf("%s_%dd", ReasonOverdue, in.DaysLate)
	default:
		if in.Signal.NeedsFollowup {
			return ReasonFollowup
		}
		return ReasonNormal
	}
}
