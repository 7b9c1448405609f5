package tutor

import (
	"sync"

	"github.com/vistoamigo/tutor/compose"
	"github.com/vistoamigo/tutor/formstate"
	"github.com/vistoamigo/tutor/knowledge"
)

// Completion summarizes the completion signals a snapshot carries.
type Completion struct {
	AllDocumentsUploaded bool
	AllSectionsComplete  bool
}

// CompletionFrom derives Completion from a snapshot's sections.
func CompletionFrom(snap *formstate.Snapshot) Completion {
	var c Completion
	if docs := snap.Section("documents"); docs != nil {
		c.AllDocumentsUploaded = docs.Status == formstate.StatusComplete && len(docs.Missing) == 0
	}
	if len(snap.Sections) > 0 {
		c.AllSectionsComplete = true
		for _, sec := range snap.Sections {
			if sec.Status != formstate.StatusComplete {
				c.AllSectionsComplete = false
				break
			}
		}
	}
	return c
}

// Predicate maps a completion condition to the ID of the achievement rule
// that celebrates it. The rule text lives in the knowledge table.
type Predicate struct {
	MessageID string
	Match     func(step string, c Completion) bool
}

// DefaultPredicates returns the built-in achievement conditions.
func DefaultPredicates() []Predicate {
	return []Predicate{
		{
			MessageID: "ach_docs_uploaded",
			Match: func(step string, c Completion) bool {
				return step == "documents" && c.AllDocumentsUploaded
			},
		},
		{
			MessageID: "ach_form_complete",
			Match: func(step string, c Completion) bool {
				return step == "friendly_form" && c.AllSectionsComplete
			},
		},
	}
}

// AchievementUnlocked is the domain event emitted when an achievement
// surfaces for the first time in a session. Presentation is the host's job.
type AchievementUnlocked struct {
	ID      string          `json:"id"`
	Message compose.Message `json:"message"`
}

// Detector evaluates completion predicates and guarantees each achievement
// surfaces at most once per session.
type Detector struct {
	table      *knowledge.Table
	predicates []Predicate

	mu      sync.Mutex
	emitted map[string]bool
}

// NewDetector creates a Detector over the given rule table. Predicates whose
// message is missing from the table are silently skipped (the table is data;
// a trimmed table must not break the engine).
func NewDetector(table *knowledge.Table, predicates []Predicate) *Detector {
	if predicates == nil {
		predicates = DefaultPredicates()
	}
	return &Detector{
		table:      table,
		predicates: predicates,
		emitted:    make(map[string]bool),
	}
}

// Check evaluates the predicates for (visaType, step). The first matching,
// not-yet-emitted achievement is recorded and returned. Re-qualifying for an
// already-emitted achievement is a no-op, not an error.
func (d *Detector) Check(visaType, step string, c Completion) (knowledge.ExpertMessage, bool) {
	_ = visaType // predicates are visa-agnostic today; the key is part of the contract

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.predicates {
		if !p.Match(step, c) || d.emitted[p.MessageID] {
			continue
		}
		em, ok := d.table.ByID(p.MessageID)
		if !ok {
			continue
		}
		d.emitted[p.MessageID] = true
		return em, true
	}
	return knowledge.ExpertMessage{}, false
}

// Emitted reports whether the achievement has already surfaced this session.
func (d *Detector) Emitted(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.emitted[id]
}

// Reset clears the session's emitted set.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emitted = make(map[string]bool)
}
