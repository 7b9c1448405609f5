package tutor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vistoamigo/tutor/formstate"
	"github.com/vistoamigo/tutor/knowledge"
	"github.com/vistoamigo/tutor/telemetry"
	"github.com/vistoamigo/tutor/validate"
)

// fakeClock hands out manually-fired timers so the debounce window can be
// driven without wall-clock sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{ch: make(chan time.Time, 1)}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) timerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// fire expires the most recent still-armed timer.
func (c *fakeClock) fire(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.timers) - 1; i >= 0; i-- {
		if c.timers[i].fire(c.now) {
			return
		}
	}
	t.Fatal("no armed timer to fire")
}

type fakeTimer struct {
	mu      sync.Mutex
	ch      chan time.Time
	stopped bool
	fired   bool
}

func (ft *fakeTimer) C() <-chan time.Time { return ft.ch }

func (ft *fakeTimer) Stop() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.stopped || ft.fired {
		return false
	}
	ft.stopped = true
	return true
}

func (ft *fakeTimer) wasStopped() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.stopped
}

func (ft *fakeTimer) fire(now time.Time) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.stopped || ft.fired {
		return false
	}
	ft.fired = true
	ft.ch <- now
	return true
}

// fakeChecker records validation calls by snapshot key.
type fakeChecker struct {
	mu    sync.Mutex
	calls []string
	fn    func(snap *formstate.Snapshot) (validate.Result, error)
}

func (f *fakeChecker) Check(_ context.Context, snap *formstate.Snapshot) (validate.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, snap.Key())
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(snap)
	}
	return validate.Result{OK: true}, nil
}

func (f *fakeChecker) callKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeRecorder struct {
	mu      sync.Mutex
	actions []telemetry.Action
}

func (f *fakeRecorder) RecordAction(_ context.Context, a telemetry.Action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, a)
}

func testTable(t *testing.T) *knowledge.Table {
	t.Helper()
	table, err := knowledge.New(1, []knowledge.ExpertMessage{
		{
			ID: "ach_docs_uploaded", VisaType: knowledge.VisaAll, Step: "documents",
			Trigger: knowledge.TriggerOnComplete, Severity: knowledge.SeveritySuccess,
			Message: "Todos os documentos foram enviados!", Priority: 10,
		},
		{
			ID: "ach_form_complete", VisaType: knowledge.VisaAll, Step: "friendly_form",
			Trigger: knowledge.TriggerOnComplete, Severity: knowledge.SeveritySuccess,
			Message: "Formulário completo!", Priority: 10,
		},
		{
			ID: "h1b_salary_tip", VisaType: "H1B", Step: "employment",
			Trigger: knowledge.TriggerOnError, Severity: knowledge.SeverityInfo,
			Message: "Verifique o salário contra o piso da categoria.", Priority: 8,
		},
	})
	if err != nil {
		t.Fatalf("build table: %v", err)
	}
	return table
}

func startSession(t *testing.T, checker Checker, opts ...Option) (*Session, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	opts = append([]Option{WithClock(clk)}, opts...)
	s := NewSession("sess_test", "H1B", testTable(t), checker,
		slog.New(slog.DiscardHandler), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
	return s, clk
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func snapAt(step string, ts int64, sections ...formstate.SectionState) *formstate.Snapshot {
	return &formstate.Snapshot{
		UserID:    "u1",
		FormID:    "ds160",
		StepID:    step,
		Timestamp: ts,
		Sections:  sections,
	}
}

func TestDebounceCoalescesToLatestSnapshot(t *testing.T) {
	checker := &fakeChecker{}
	s, clk := startSession(t, checker)

	s.OnSnapshot(snapAt("employment", 1000))
	waitFor(t, "first debounce timer", func() bool { return clk.timerCount() == 1 })

	// Second snapshot inside the quiet period supersedes the first.
	s.OnSnapshot(snapAt("employment", 1050))
	waitFor(t, "second debounce timer", func() bool { return clk.timerCount() == 2 })

	clk.fire(t)
	waitFor(t, "cycle", func() bool { return s.Cycles() == 1 })

	calls := checker.callKeys()
	if len(calls) != 1 {
		t.Fatalf("checker called %d times, want 1 (%v)", len(calls), calls)
	}
	if calls[0] != "employment_1050" {
		t.Errorf("validated %q, want the latest snapshot employment_1050", calls[0])
	}
	clk.mu.Lock()
	first := clk.timers[0]
	clk.mu.Unlock()
	if !first.wasStopped() {
		t.Error("superseded snapshot's timer was not stopped")
	}
}

func TestRepeatSnapshotHitsCache(t *testing.T) {
	checker := &fakeChecker{}
	s, clk := startSession(t, checker)

	for i := 0; i < 2; i++ {
		s.OnSnapshot(snapAt("personal", 2000))
		waitFor(t, "timer", func() bool { return clk.timerCount() == i+1 })
		clk.fire(t)
		waitFor(t, "cycle", func() bool { return s.Cycles() == int64(i+1) })
	}

	if n := len(checker.callKeys()); n != 1 {
		t.Errorf("checker called %d times for identical snapshots, want 1", n)
	}
}

func TestNetworkFailureIsSurfacedAndNotCached(t *testing.T) {
	failing := true
	checker := &fakeChecker{fn: func(*formstate.Snapshot) (validate.Result, error) {
		if failing {
			return validate.Result{}, errors.New("dial tcp: connection refused")
		}
		return validate.Result{OK: true}, nil
	}}
	s, clk := startSession(t, checker)

	s.OnSnapshot(snapAt("employment", 3000))
	waitFor(t, "timer", func() bool { return clk.timerCount() == 1 })
	clk.fire(t)
	waitFor(t, "cycle", func() bool { return s.Cycles() == 1 })

	var sawNetworkError bool
	for _, m := range s.Messages() {
		if m.ID == "err:system:network_error" {
			sawNetworkError = true
			if m.Severity != knowledge.SeverityError {
				t.Errorf("network-failure severity = %q, want error", m.Severity)
			}
			if len(m.Actions) != 0 {
				t.Error("system message must not carry a focus action")
			}
		}
	}
	if !sawNetworkError {
		t.Fatalf("window %v missing the generic network-failure message", s.Messages())
	}

	// The failed result must not poison the cache: once the backend is
	// healthy again, the same snapshot issues a fresh call.
	failing = false
	s.OnSnapshot(snapAt("employment", 3000))
	waitFor(t, "timer", func() bool { return clk.timerCount() == 2 })
	clk.fire(t)
	waitFor(t, "cycle", func() bool { return s.Cycles() == 2 })

	if n := len(checker.callKeys()); n != 2 {
		t.Fatalf("checker called %d times, want 2 (retry after failure)", n)
	}

	// And the successful retry is cached.
	s.OnSnapshot(snapAt("employment", 3000))
	waitFor(t, "timer", func() bool { return clk.timerCount() == 3 })
	clk.fire(t)
	waitFor(t, "cycle", func() bool { return s.Cycles() == 3 })

	if n := len(checker.callKeys()); n != 2 {
		t.Errorf("checker called %d times, want 2 (success cached)", n)
	}
}

func TestKnowledgeMessagesMergeIntoWindow(t *testing.T) {
	checker := &fakeChecker{fn: func(*formstate.Snapshot) (validate.Result, error) {
		return validate.Result{OK: false, Errors: []validate.FieldError{
			{Field: "salary", Code: "below_wage", Message: "Salário abaixo do piso."},
		}}, nil
	}}
	s, clk := startSession(t, checker)

	s.OnSnapshot(snapAt("employment", 4000))
	waitFor(t, "timer", func() bool { return clk.timerCount() == 1 })
	clk.fire(t)
	waitFor(t, "cycle", func() bool { return s.Cycles() == 1 })

	ids := map[string]bool{}
	for _, m := range s.Messages() {
		ids[m.ID] = true
	}
	if !ids["err:salary:below_wage"] {
		t.Error("window missing the validation error")
	}
	if !ids["h1b_salary_tip"] {
		t.Error("window missing the on_error knowledge message")
	}
	for _, m := range s.Messages() {
		if m.ID == "h1b_salary_tip" && (m.Meta == nil || !m.Meta.Advisory || m.Meta.Disclaimer == "") {
			t.Error("knowledge message lost its advisory disclaimer")
		}
	}
}

func TestAchievementEmittedExactlyOnce(t *testing.T) {
	var (
		mu     sync.Mutex
		events []AchievementUnlocked
	)
	checker := &fakeChecker{}
	s, clk := startSession(t, checker, WithAchievementSink(func(ev AchievementUnlocked) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))

	docsDone := formstate.SectionState{ID: "documents", Status: formstate.StatusComplete, Percent: 100}
	for i := 0; i < 2; i++ {
		s.OnSnapshot(snapAt("documents", int64(5000+i), docsDone))
		waitFor(t, "timer", func() bool { return clk.timerCount() == i+1 })
		clk.fire(t)
		waitFor(t, "cycle", func() bool { return s.Cycles() == int64(i+1) })
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("got %d achievement events, want exactly 1", len(events))
	}
	if events[0].ID != "ach_docs_uploaded" {
		t.Errorf("achievement = %q, want ach_docs_uploaded", events[0].ID)
	}
	count := 0
	for _, m := range s.Messages() {
		if m.ID == "ach_docs_uploaded" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("achievement banner appears %d times in the window, want 1", count)
	}
}

func TestResetClearsCacheWindowAndAchievements(t *testing.T) {
	checker := &fakeChecker{}
	s, clk := startSession(t, checker)

	docsDone := formstate.SectionState{ID: "documents", Status: formstate.StatusComplete, Percent: 100}
	s.OnSnapshot(snapAt("documents", 6000, docsDone))
	waitFor(t, "timer", func() bool { return clk.timerCount() == 1 })
	clk.fire(t)
	waitFor(t, "cycle", func() bool { return s.Cycles() == 1 })

	if len(s.Messages()) == 0 {
		t.Fatal("expected messages before reset")
	}
	s.Reset()
	if got := s.Messages(); len(got) != 0 {
		t.Fatalf("window after reset = %v, want empty", got)
	}

	// Same snapshot key is revalidated and the achievement fires again.
	s.OnSnapshot(snapAt("documents", 6000, docsDone))
	waitFor(t, "timer", func() bool { return clk.timerCount() == 2 })
	clk.fire(t)
	waitFor(t, "cycle", func() bool { return s.Cycles() == 2 })

	if n := len(checker.callKeys()); n != 2 {
		t.Errorf("checker called %d times, want 2 after reset", n)
	}
	found := false
	for _, m := range s.Messages() {
		if m.ID == "ach_docs_uploaded" {
			found = true
		}
	}
	if !found {
		t.Error("achievement did not re-fire after reset")
	}
}

func TestActForwardsAndRecordsTelemetry(t *testing.T) {
	var (
		mu        sync.Mutex
		gotEvent  string
		gotPay    string
		callbacks int
	)
	rec := &fakeRecorder{}
	checker := &fakeChecker{}
	s, clk := startSession(t, checker,
		WithTelemetry(rec),
		WithActionCallback(func(event, payload string) {
			mu.Lock()
			gotEvent, gotPay = event, payload
			callbacks++
			mu.Unlock()
		}))

	s.OnSnapshot(snapAt("employment", 7000))
	waitFor(t, "timer", func() bool { return clk.timerCount() == 1 })
	clk.fire(t)
	waitFor(t, "cycle", func() bool { return s.Cycles() == 1 })

	s.Act(context.Background(), "focus_field", "Ir para o campo", "salary")

	mu.Lock()
	if callbacks != 1 || gotEvent != "focus_field" || gotPay != "salary" {
		t.Errorf("callback got (%q,%q) x%d, want (focus_field,salary) x1", gotEvent, gotPay, callbacks)
	}
	mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.actions) != 1 {
		t.Fatalf("recorded %d actions, want 1", len(rec.actions))
	}
	a := rec.actions[0]
	if a.Event != "focus_field" || a.Label != "Ir para o campo" || a.StepID != "employment" {
		t.Errorf("recorded action = %+v", a)
	}
	if a.Timestamp == 0 {
		t.Error("action timestamp not set")
	}
}

func TestWithoutAchievementsShrinksWindow(t *testing.T) {
	checker := &fakeChecker{}
	s, _ := startSession(t, checker, WithoutAchievements())
	if s.window.capacity != 4 {
		t.Errorf("window capacity = %d, want 4 without achievements", s.window.capacity)
	}
}
