// Package knowledge holds the static expert rule table: short guidance
// messages keyed by (visa type, step, trigger), each with a priority weight.
//
// The table is immutable after construction and injected into the engine at
// startup — there is no package-level mutable state, so tests can run with
// alternate rule sets.
package knowledge

import (
	"fmt"
	"sort"

	"github.com/vistoamigo/tutor/formstate"
)

// Trigger is the event category a guidance rule responds to.
type Trigger string

const (
	TriggerOnLoad     Trigger = "on_load"
	TriggerOnError    Trigger = "on_error"
	TriggerOnProgress Trigger = "on_progress"
	TriggerOnComplete Trigger = "on_complete"
	TriggerOnDocument Trigger = "on_document"
	TriggerProactive  Trigger = "proactive"
)

// Severity classifies a message for presentation.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// VisaAll is the wildcard visa type: the rule applies to every application.
const VisaAll = "ALL"

// Action is a user-activatable follow-up attached to a message. The engine
// never performs the action itself; it forwards the event to the host UI.
type Action struct {
	Label   string `json:"label" yaml:"label"`
	Event   string `json:"event" yaml:"event"`
	Payload string `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// ExpertMessage is one static guidance rule.
type ExpertMessage struct {
	ID       string   `json:"id" yaml:"id"`
	VisaType string   `json:"visa_type" yaml:"visa_type"`
	Step     string   `json:"step" yaml:"step"`
	Trigger  Trigger  `json:"trigger" yaml:"trigger"`
	Severity Severity `json:"severity" yaml:"severity"`
	Message  string   `json:"message" yaml:"message"`
	Actions  []Action `json:"actions,omitempty" yaml:"actions,omitempty"`
	Insight  string   `json:"insight,omitempty" yaml:"insight,omitempty"`
	Priority int      `json:"priority" yaml:"priority"` // 1..10, higher first
}

// InsightPassportExpiry tags the proactive rule about identity-document
// expiry. ProactiveFor moves it to the front while the passport is still
// listed as missing in the documents section.
const InsightPassportExpiry = "passport_expiry"

// Lookup caps.
const (
	maxContext   = 3
	maxProactive = 2
)

// Table is an immutable, ordered rule table.
type Table struct {
	version  int
	messages []ExpertMessage
	byID     map[string]int
}

// New builds a Table from a rule list. The slice is copied; table order is
// preserved and used as the tie-breaker for equal priorities.
func New(version int, messages []ExpertMessage) (*Table, error) {
	t := &Table{
		version:  version,
		messages: make([]ExpertMessage, len(messages)),
		byID:     make(map[string]int, len(messages)),
	}
	copy(t.messages, messages)
	for i, m := range t.messages {
		if m.ID == "" {
			return nil, fmt.Errorf("knowledge: message %d has no id", i)
		}
		if _, dup := t.byID[m.ID]; dup {
			return nil, fmt.Errorf("knowledge: duplicate message id %q", m.ID)
		}
		if m.Priority < 1 || m.Priority > 10 {
			return nil, fmt.Errorf("knowledge: message %q priority %d out of range 1..10", m.ID, m.Priority)
		}
		t.byID[m.ID] = i
	}
	return t, nil
}

// Version returns the table's data version.
func (t *Table) Version() int { return t.version }

// Len returns the number of rules in the table.
func (t *Table) Len() int { return len(t.messages) }

// ByID returns the rule with the given ID, or false.
func (t *Table) ByID(id string) (ExpertMessage, bool) {
	i, ok := t.byID[id]
	if !ok {
		return ExpertMessage{}, false
	}
	return t.messages[i], true
}

// Lookup returns context messages for (visaType, step, trigger): visa type
// matches exactly or is the "ALL" wildcard, step and trigger match exactly.
// Results are sorted by descending priority; ties keep table order. At most
// three messages are returned.
func (t *Table) Lookup(visaType, step string, trigger Trigger) []ExpertMessage {
	return t.match(visaType, step, trigger, maxContext)
}

// ProactiveFor returns proactive messages for (visaType, step), contextually
// reordered against the snapshot: while the identity document has not been
// uploaded, its expiry warning moves to the front. At most two messages are
// returned.
func (t *Table) ProactiveFor(visaType, step string, snap *formstate.Snapshot) []ExpertMessage {
	out := t.match(visaType, step, TriggerProactive, 0)
	if snap != nil && snap.SectionMissing("documents", "passport") {
		for i, m := range out {
			if m.Insight == InsightPassportExpiry && i > 0 {
				copy(out[1:i+1], out[:i])
				out[0] = m
				break
			}
		}
	}
	if len(out) > maxProactive {
		out = out[:maxProactive]
	}
	return out
}

// match filters and priority-sorts. cap 0 means unlimited.
func (t *Table) match(visaType, step string, trigger Trigger, max int) []ExpertMessage {
	var out []ExpertMessage
	for _, m := range t.messages {
		if m.Step != step || m.Trigger != trigger {
			continue
		}
		if m.VisaType != visaType && m.VisaType != VisaAll {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
