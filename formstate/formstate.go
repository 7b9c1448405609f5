// Package formstate defines the structured types consumed by the tutor engine.
// These are the public API contract: any snapshot producer (browser extension,
// test harness, replay tool) emits these types and the engine processes them.
//
// A Snapshot is immutable once produced. The engine identifies it by
// (step_id, timestamp) — see [Snapshot.Key].
package formstate

import "strconv"

// SectionStatus is the completion state of one logical form section.
type SectionStatus string

const (
	StatusTodo       SectionStatus = "todo"
	StatusInProgress SectionStatus = "in_progress"
	StatusComplete   SectionStatus = "complete"
)

// FieldState is the observed state of a single form field.
type FieldState struct {
	Name     string   `json:"name"`
	Label    string   `json:"label,omitempty"`
	Value    string   `json:"value,omitempty"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Required bool     `json:"required"`
}

// SectionState is the derived completion state of one form section.
// Derived by the producer; read-only to the engine.
type SectionState struct {
	ID      string        `json:"id"`
	Label   string        `json:"label"`
	Status  SectionStatus `json:"status"`
	Missing []string      `json:"missing,omitempty"`
	Percent int           `json:"percent"` // 0..100
}

// Snapshot is one observed form state. Produced once per observed change.
type Snapshot struct {
	UserID          string         `json:"user_id"`
	FormID          string         `json:"form_id"`
	StepID          string         `json:"step_id"`
	URL             string         `json:"url,omitempty"`
	Timestamp       int64          `json:"timestamp"` // epoch milliseconds
	Sections        []SectionState `json:"sections,omitempty"`
	Fields          []FieldState   `json:"fields,omitempty"`
	SiteVersionHash string         `json:"site_version_hash,omitempty"`
}

// Key returns the snapshot identity used by the validation cache.
// Two snapshots with the same key are validated at most once per session.
func (s *Snapshot) Key() string {
	return s.StepID + "_" + strconv.FormatInt(s.Timestamp, 10)
}

// Section returns the section with the given ID, or nil.
func (s *Snapshot) Section(id string) *SectionState {
	for i := range s.Sections {
		if s.Sections[i].ID == id {
			return &s.Sections[i]
		}
	}
	return nil
}

// SectionMissing reports whether the named item is still listed as missing
// in the given section. Unknown sections report false.
func (s *Snapshot) SectionMissing(sectionID, item string) bool {
	sec := s.Section(sectionID)
	if sec == nil {
		return false
	}
	for _, m := range sec.Missing {
		if m == item {
			return true
		}
	}
	return false
}

// FormData flattens the snapshot's fields into the nested object the
// validation RPC expects: dotted field names ("employer.name") become
// nested maps keyed by path segment.
func (s *Snapshot) FormData() map[string]any {
	root := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		insertDotted(root, f.Name, f.Value)
	}
	return root
}

func insertDotted(m map[string]any, path, value string) {
	for {
		dot := indexDot(path)
		if dot < 0 {
			m[path] = value
			return
		}
		head, rest := path[:dot], path[dot+1:]
		child, ok := m[head].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[head] = child
		}
		m, path = child, rest
	}
}

func indexDot(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}
