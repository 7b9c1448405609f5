// Package tutor runs the guidance engine: it coalesces form-state snapshots
// behind a debounce window, validates the latest one through a session-scoped
// write-once cache, composes the verdict with the static knowledge table into
// a bounded message window, and surfaces achievements at most once per
// session.
//
// One Session per user application. The Session's event loop is a single
// goroutine; the validation cache and the emitted-achievement set are the
// only shared mutable state and carry their own locks, so callers may submit
// snapshots and read the window from any goroutine.
package tutor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vistoamigo/tutor/compose"
	"github.com/vistoamigo/tutor/formstate"
	"github.com/vistoamigo/tutor/knowledge"
	"github.com/vistoamigo/tutor/telemetry"
	"github.com/vistoamigo/tutor/validate"
)

// State is the engine's position in the per-snapshot cycle.
// IDLE → DEBOUNCING → (CACHE_HIT | CALLING) → COMPOSING → IDLE.
type State string

const (
	StateIdle       State = "idle"
	StateDebouncing State = "debouncing"
	StateCacheHit   State = "cache_hit"
	StateCalling    State = "calling"
	StateComposing  State = "composing"
)

// DefaultDebounce is the quiet period for routine validation checks.
const DefaultDebounce = 300 * time.Millisecond

// Checker validates one snapshot remotely. *validate.Client implements it.
type Checker interface {
	Check(ctx context.Context, snap *formstate.Snapshot) (validate.Result, error)
}

// ActionFunc receives forwarded message-action activations. The engine
// performs no navigation or mutation itself.
type ActionFunc func(event, payload string)

// AchievementFunc receives AchievementUnlocked events.
type AchievementFunc func(AchievementUnlocked)

// Session is the per-application engine instance. It owns the validation
// cache, the emitted-achievement set, and the display window; Reset clears
// all three.
type Session struct {
	id       string
	visaType string

	table    *knowledge.Table
	composer *compose.Composer
	checker  Checker

	cache    *validate.Cache
	detector *Detector
	window   *Window

	debounce      time.Duration
	clock         Clock
	achievements  bool
	onAction      ActionFunc
	onAchievement AchievementFunc
	recorder      telemetry.Recorder
	logger        *slog.Logger

	snapCh   chan *formstate.Snapshot
	state    atomic.Value // State
	lastStep atomic.Value // string
	cycles   atomic.Int64
}

// Option configures a Session during creation.
type Option func(*Session)

// WithDebounce overrides the quiet period (default 300ms).
func WithDebounce(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithClock injects a Clock; tests use a virtual one.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithoutAchievements disables achievement detection and shrinks the window
// to the context-only capacity.
func WithoutAchievements() Option {
	return func(s *Session) { s.achievements = false }
}

// WithActionCallback sets the host UI callback for message actions.
func WithActionCallback(fn ActionFunc) Option {
	return func(s *Session) { s.onAction = fn }
}

// WithAchievementSink sets the consumer of AchievementUnlocked events.
func WithAchievementSink(fn AchievementFunc) Option {
	return func(s *Session) { s.onAchievement = fn }
}

// WithTelemetry sets the action telemetry sink.
func WithTelemetry(r telemetry.Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithStepOrder overrides the composer's step table.
func WithStepOrder(so *compose.StepOrder) Option {
	return func(s *Session) { s.composer = compose.NewComposer(so) }
}

// WithPredicates overrides the achievement predicate table.
func WithPredicates(ps []Predicate) Option {
	return func(s *Session) { s.detector = NewDetector(s.table, ps) }
}

// NewSession creates a Session for one application.
func NewSession(id, visaType string, table *knowledge.Table, checker Checker, logger *slog.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		id:           id,
		visaType:     visaType,
		table:        table,
		composer:     compose.NewComposer(nil),
		checker:      checker,
		cache:        validate.NewCache(),
		detector:     NewDetector(table, nil),
		debounce:     DefaultDebounce,
		clock:        SystemClock(),
		achievements: true,
		logger:       logger,
		snapCh:       make(chan *formstate.Snapshot, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	winCap := compose.CapContext
	if s.achievements {
		winCap = compose.CapAchievements
	}
	s.window = NewWindow(winCap)
	s.state.Store(StateIdle)
	s.lastStep.Store("")
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the engine's current cycle state.
func (s *Session) State() State { return s.state.Load().(State) }

// Cycles returns how many snapshots have been fully processed.
func (s *Session) Cycles() int64 { return s.cycles.Load() }

// Messages returns the display window contents, oldest first.
func (s *Session) Messages() []compose.Message { return s.window.Snapshot() }

// OnSnapshot submits a snapshot. Non-blocking: if an unprocessed snapshot is
// already pending, the older one is dropped — only the most recent snapshot
// within a quiet period is ever validated.
func (s *Session) OnSnapshot(snap *formstate.Snapshot) {
	for {
		select {
		case s.snapCh <- snap:
			return
		default:
			// Channel full: drop the stale pending snapshot and retry.
			select {
			case <-s.snapCh:
			default:
			}
		}
	}
}

// Run processes snapshots until ctx is cancelled. It is the session's single
// event loop; call it once, in its own goroutine.
func (s *Session) Run(ctx context.Context) {
	log := s.logger
	log.Info("tutor: session started", "session", s.id, "visa_type", s.visaType, "debounce", s.debounce)

	var (
		timer   Timer
		timerCh <-chan time.Time
		pending *formstate.Snapshot
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timerCh = nil, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			s.state.Store(StateIdle)
			log.Info("tutor: session stopped", "session", s.id)
			return

		case snap := <-s.snapCh:
			// New snapshot: restart the quiet-period timer. A pending
			// snapshot is superseded — last write wins.
			pending = snap
			stopTimer()
			timer = s.clock.NewTimer(s.debounce)
			timerCh = timer.C()
			s.state.Store(StateDebouncing)

		case <-timerCh:
			timer, timerCh = nil, nil
			if pending == nil {
				continue
			}
			snap := pending
			pending = nil
			s.process(ctx, snap)
			s.state.Store(StateIdle)
		}
	}
}

// process runs one validation+composition cycle. All failures are contained
// here: the worst case is a synthetic-error message batch, never a crash or
// a corrupted window.
func (s *Session) process(ctx context.Context, snap *formstate.Snapshot) {
	key := snap.Key()
	s.lastStep.Store(snap.StepID)

	result, cached, err := s.cache.Do(ctx, key, func(ctx context.Context) (validate.Result, error) {
		s.state.Store(StateCalling)
		return s.checker.Check(ctx, snap)
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return // shutdown mid-call; surface nothing
	case err != nil:
		// Recovered locally; the synthetic result is not cached, so a retry
		// for the same key issues a new call.
		s.logger.Warn("tutor: validation call failed", "session", s.id, "key", key, "error", err)
		result = validate.NetworkFailure()
	case cached:
		s.state.Store(StateCacheHit)
	}

	s.state.Store(StateComposing)
	batch := s.composer.Compose(result, snap)

	kb := s.table.Lookup(s.visaType, snap.StepID, triggerFor(result, snap))
	kb = append(kb, s.table.ProactiveFor(s.visaType, snap.StepID, snap)...)

	mergeCap := compose.CapContext
	if s.achievements {
		mergeCap = compose.CapAchievements
	}
	merged := compose.MergeDisplay(batch, kb, mergeCap)

	if s.achievements {
		if em, ok := s.detector.Check(s.visaType, snap.StepID, CompletionFrom(snap)); ok {
			banner := compose.FromExpert(em)
			merged = append(merged, banner)
			if s.onAchievement != nil {
				s.onAchievement(AchievementUnlocked{ID: em.ID, Message: banner})
			}
			s.logger.Info("tutor: achievement unlocked", "session", s.id, "achievement", em.ID)
		}
	}

	s.window.Append(merged)
	s.cycles.Add(1)
	s.logger.Debug("tutor: cycle complete",
		"session", s.id, "key", key, "cached", cached, "messages", len(merged))
}

// triggerFor picks the knowledge-base trigger for the current situation.
func triggerFor(r validate.Result, snap *formstate.Snapshot) knowledge.Trigger {
	if len(r.Errors) > 0 {
		return knowledge.TriggerOnError
	}
	if sec := snap.Section(snap.StepID); sec != nil {
		if sec.Status == formstate.StatusComplete {
			return knowledge.TriggerOnComplete
		}
		if sec.Percent >= 50 {
			return knowledge.TriggerOnProgress
		}
	}
	return knowledge.TriggerOnLoad
}

// Act forwards a message-action activation to the host UI callback and logs
// telemetry. Only the action identity is logged — never form content.
func (s *Session) Act(ctx context.Context, event, label, payload string) {
	if s.onAction != nil {
		s.onAction(event, payload)
	}
	if s.recorder != nil {
		s.recorder.RecordAction(ctx, telemetry.Action{
			Event:     event,
			Label:     label,
			StepID:    s.lastStep.Load().(string),
			Timestamp: s.clock.Now().UnixMilli(),
		})
	}
}

// Reset clears the validation cache, the emitted-achievement set, and the
// display window. The session keeps running; the next snapshot starts a
// fresh cycle.
func (s *Session) Reset() {
	s.cache.Reset()
	s.detector.Reset()
	s.window.Reset()
	s.logger.Info("tutor: session reset", "session", s.id)
}
