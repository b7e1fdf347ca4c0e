// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package backoff keeps per-provider circuit-breaker state and decides when a
// provider should be skipped.
//
// Three independent cooldown tracks exist per provider key:
//
//   - the server track: exponential, driven by rate limits, timeouts and
//     cancellations reported by the provider;
//   - the await track: shallow and low-capped, driven by this process's own
//     join-budget expiries, so local scheduling pressure is not mistaken for
//     provider unhealthiness;
//   - the local track: short self-imposed client-side throttles.
//
// A provider is skipped while any track is active. State is owned by one
// Coordinator and updated by compare-and-swap of immutable snapshots; it lives
// for the lifetime of the process. A success resets the server and await
// tracks; the local track only expires.
package backoff

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/citesearch/pkg/types"
)

// Kind classifies a recorded failure.
type Kind string

const (
	KindRateLimited    Kind = "RATE_LIMITED"
	KindTimeout        Kind = "TIMEOUT"
	KindAwaitTimeout   Kind = "AWAIT_TIMEOUT"
	KindCancelled      Kind = "CANCELLED"
	KindLocalRateLimit Kind = "LOCAL_RATE_LIMIT"
	KindTransport      Kind = "TRANSPORT"
)

// maxShift bounds the exponent so base<<streak cannot overflow.
const maxShift = 30

// State is a snapshot of one provider's backoff state.
type State struct {
	// Server track.
	Streak        int
	CooldownStart time.Time
	CooldownUntil time.Time
	LastCooldown  time.Duration
	LastKind      Kind
	LastReason    string
	LastDetail    string

	// Await track.
	AwaitStreak int
	AwaitStart  time.Time
	AwaitUntil  time.Time

	// Local track.
	LocalStart  time.Time
	LocalUntil  time.Time
	LocalReason string

	// Counters, never reset.
	Successes   int64
	RateLimits  int64
	Failures    int64
	AwaitMisses int64
}

// Verdict is the answer to ShouldSkip.
type Verdict struct {
	Skip        bool
	Remaining   time.Duration
	Reason      string
	Kind        Kind
	JustStarted bool
}

// Coordinator owns the backoff state of every provider key.
type Coordinator struct {
	cfg    types.BackoffConfig
	states sync.Map // provider key -> *atomic.Pointer[State]
	now    func() time.Time
	jitter func(limit time.Duration) time.Duration
	logger *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithJitter replaces the random jitter source. fn receives the maximum
// jitter and returns a value in [0, limit].
func WithJitter(fn func(limit time.Duration) time.Duration) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.jitter = fn
		}
	}
}

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a coordinator. Zero config fields take their defaults.
func New(cfg types.BackoffConfig, opts ...Option) *Coordinator {
	def := types.DefaultConfig().Backoff
	if cfg.Base <= 0 {
		cfg.Base = def.Base
	}
	if cfg.MaxCooldown <= 0 {
		cfg.MaxCooldown = def.MaxCooldown
	}
	if cfg.AwaitBase <= 0 {
		cfg.AwaitBase = def.AwaitBase
	}
	if cfg.AwaitMaxCooldown <= 0 {
		cfg.AwaitMaxCooldown = def.AwaitMaxCooldown
	}
	if cfg.LocalMaxCooldown <= 0 {
		cfg.LocalMaxCooldown = def.LocalMaxCooldown
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}

	c := &Coordinator{
		cfg:    cfg,
		now:    time.Now,
		jitter: randomJitter,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("backoff")
	return c
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit + 1)
}

func (c *Coordinator) slot(provider string) *atomic.Pointer[State] {
	if v, ok := c.states.Load(provider); ok {
		return v.(*atomic.Pointer[State])
	}
	v, _ := c.states.LoadOrStore(provider, new(atomic.Pointer[State]))
	return v.(*atomic.Pointer[State])
}

// update applies fn to the current state until the compare-and-swap wins.
// fn may run more than once and must not have side effects.
func (c *Coordinator) update(provider string, fn func(State) State) State {
	ptr := c.slot(provider)
	for {
		old := ptr.Load()
		var cur State
		if old != nil {
			cur = *old
		}
		next := fn(cur)
		if ptr.CompareAndSwap(old, &next) {
			return next
		}
	}
}

// ShouldSkip reports whether provider is cooling down on any track.
func (c *Coordinator) ShouldSkip(provider string) Verdict {
	st, ok := c.Snapshot(provider)
	if !ok {
		return Verdict{}
	}
	now := c.now()

	var v Verdict
	consider := func(start, until time.Time, kind Kind, reason string) {
		if !now.Before(until) {
			return
		}
		remaining := until.Sub(now)
		if remaining <= v.Remaining {
			return
		}
		v = Verdict{
			Skip:        true,
			Remaining:   remaining,
			Kind:        kind,
			Reason:      reason,
			JustStarted: c.cfg.JustStartedWindow > 0 && now.Sub(start) < c.cfg.JustStartedWindow,
		}
	}
	consider(st.CooldownStart, st.CooldownUntil, st.LastKind, describe(st.LastKind, st.LastReason))
	consider(st.AwaitStart, st.AwaitUntil, KindAwaitTimeout, describe(KindAwaitTimeout, "local await budget expired"))
	consider(st.LocalStart, st.LocalUntil, KindLocalRateLimit, describe(KindLocalRateLimit, st.LocalReason))
	return v
}

func describe(kind Kind, reason string) string {
	if reason == "" {
		return string(kind)
	}
	return fmt.Sprintf("%s: %s", kind, reason)
}

// RecordSuccess clears the server and await tracks of provider.
func (c *Coordinator) RecordSuccess(provider string) {
	prev, _ := c.Snapshot(provider)
	c.update(provider, func(s State) State {
		s.Streak = 0
		s.CooldownStart = time.Time{}
		s.CooldownUntil = time.Time{}
		s.LastCooldown = 0
		s.AwaitStreak = 0
		s.AwaitStart = time.Time{}
		s.AwaitUntil = time.Time{}
		s.Successes++
		return s
	})
	if prev.Streak > 0 || prev.AwaitStreak > 0 {
		c.logger.Info("provider recovered",
			zap.String("provider", provider),
			zap.Int("streak", prev.Streak),
			zap.Int("await_streak", prev.AwaitStreak))
	}
}

// RecordRateLimited starts or extends the server cooldown after a rate-limit
// signal. A positive retryAfter (the server hint) wins when it exceeds the
// computed exponential value. The cooldown never shrinks across consecutive
// signals and is capped at MaxCooldown.
func (c *Coordinator) RecordRateLimited(provider string, retryAfter time.Duration, reason, rawHeader string) {
	st := c.exponential(provider, KindRateLimited, retryAfter, reason, rawHeader)
	c.logger.Warn("provider rate limited",
		zap.String("provider", provider),
		zap.Duration("cooldown", st.LastCooldown),
		zap.Duration("retry_after", retryAfter),
		zap.String("retry_after_raw", rawHeader),
		zap.Int("streak", st.Streak),
		zap.String("reason", reason))
}

// RecordFailure records a timeout, cancellation, transport failure or local
// await expiry. AWAIT_TIMEOUT goes to the shallow await track; every other
// kind uses the exponential server track.
func (c *Coordinator) RecordFailure(provider string, kind Kind, reason, detail string) {
	if kind == KindAwaitTimeout {
		c.recordAwait(provider)
		return
	}
	if kind == KindRateLimited {
		c.RecordRateLimited(provider, 0, reason, "")
		return
	}
	if kind == KindLocalRateLimit {
		c.RecordLocalRateLimit(provider, c.cfg.AwaitBase, reason)
		return
	}
	st := c.exponential(provider, kind, 0, reason, detail)
	c.logger.Warn("provider failure",
		zap.String("provider", provider),
		zap.String("kind", string(kind)),
		zap.Duration("cooldown", st.LastCooldown),
		zap.Int("streak", st.Streak),
		zap.String("reason", reason),
		zap.String("detail", detail))
}

func (c *Coordinator) exponential(provider string, kind Kind, hint time.Duration, reason, detail string) State {
	now := c.now()
	return c.update(provider, func(s State) State {
		shift := min(s.Streak, maxShift)
		computed := min(c.cfg.Base<<shift, c.cfg.MaxCooldown)
		dur := max(hint, computed)
		if s.Streak > 0 {
			dur = max(dur, s.LastCooldown)
		}
		dur += c.jitter(time.Duration(float64(dur) * c.cfg.JitterFraction))
		dur = min(dur, c.cfg.MaxCooldown)

		until := now.Add(dur)
		if s.CooldownUntil.After(until) {
			until = s.CooldownUntil
		}
		s.CooldownStart = now
		s.CooldownUntil = until
		s.LastCooldown = dur
		s.LastKind = kind
		s.LastReason = reason
		s.LastDetail = detail
		s.Streak++
		if kind == KindRateLimited {
			s.RateLimits++
		} else {
			s.Failures++
		}
		return s
	})
}

func (c *Coordinator) recordAwait(provider string) {
	now := c.now()
	st := c.update(provider, func(s State) State {
		dur := min(c.cfg.AwaitBase*time.Duration(s.AwaitStreak+1), c.cfg.AwaitMaxCooldown)
		until := now.Add(dur)
		if s.AwaitUntil.After(until) {
			until = s.AwaitUntil
		}
		s.AwaitStart = now
		s.AwaitUntil = until
		s.AwaitStreak++
		s.AwaitMisses++
		return s
	})
	c.logger.Debug("provider await budget expired",
		zap.String("provider", provider),
		zap.Int("await_streak", st.AwaitStreak),
		zap.Time("await_until", st.AwaitUntil))
}

// RecordLocalRateLimit applies a self-imposed client-side throttle. It never
// touches the server streak.
func (c *Coordinator) RecordLocalRateLimit(provider string, cooldown time.Duration, reason string) {
	if cooldown <= 0 {
		return
	}
	now := c.now()
	dur := min(cooldown, c.cfg.LocalMaxCooldown)
	c.update(provider, func(s State) State {
		until := now.Add(dur)
		if s.LocalUntil.After(until) {
			until = s.LocalUntil
		}
		s.LocalStart = now
		s.LocalUntil = until
		s.LocalReason = reason
		return s
	})
	c.logger.Debug("provider locally throttled",
		zap.String("provider", provider),
		zap.Duration("cooldown", dur),
		zap.String("reason", reason))
}

// Snapshot returns a copy of the provider's state.
func (c *Coordinator) Snapshot(provider string) (State, bool) {
	v, ok := c.states.Load(provider)
	if !ok {
		return State{}, false
	}
	p := v.(*atomic.Pointer[State]).Load()
	if p == nil {
		return State{}, false
	}
	return *p, true
}

// Providers lists every provider key with recorded state, sorted.
func (c *Coordinator) Providers() []string {
	var out []string
	c.states.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}
