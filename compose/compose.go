// Package compose turns a validation verdict plus a form snapshot into a
// short, prioritized batch of display messages, and merges that batch with
// knowledge-base guidance under a rolling cap.
//
// The rule order is fixed and deterministic: errors first, then one
// missing-required nudge, then a section-complete celebration, then positive
// reinforcement — each later rule firing only while the running batch is
// still empty. See [Composer.Compose].
package compose

import (
	"fmt"

	"github.com/vistoamigo/tutor/formstate"
	"github.com/vistoamigo/tutor/knowledge"
	"github.com/vistoamigo/tutor/validate"
)

// Meta carries presentation hints that are not part of the message text.
type Meta struct {
	Disclaimer string `json:"disclaimer,omitempty"`
	Advisory   bool   `json:"advisory,omitempty"`
}

// Message is the unit handed to the display window. Transient: created here,
// destroyed when evicted from the window.
type Message struct {
	ID       string             `json:"id"`
	Severity knowledge.Severity `json:"severity"`
	Text     string             `json:"text"`
	Actions  []knowledge.Action `json:"actions,omitempty"`
	Meta     *Meta              `json:"meta,omitempty"`
}

// Batch composition limits.
const (
	maxErrors = 2 // rule 1: at most two validation errors per batch
	maxBatch  = 3 // rule 5: the batch keeps its last three entries

	// Rolling caps for the merged display list.
	CapContext      = 4
	CapAchievements = 6

	progressThreshold = 80
)

// adviceDisclaimer is attached to every knowledge-base message.
const adviceDisclaimer = "Orientação geral baseada em casos anteriores; não constitui aconselhamento jurídico."

// Composer builds message batches. Safe for concurrent use; it holds only
// immutable configuration.
type Composer struct {
	steps *StepOrder
}

// NewComposer creates a Composer with the given step-order table.
// A nil table falls back to [DefaultStepOrder].
func NewComposer(steps *StepOrder) *Composer {
	if steps == nil {
		steps = DefaultStepOrder()
	}
	return &Composer{steps: steps}
}

// Compose applies the fixed rule sequence to one (validation, snapshot) pair.
//
// The final truncation keeps the LAST three entries, mirroring the reference
// behavior: when more than three would-be entries exist, the most recently
// added survive. In practice the earlier rules guard on an empty running
// batch, so the cap is rarely hit.
func (c *Composer) Compose(v validate.Result, snap *formstate.Snapshot) []Message {
	var out []Message

	// Rule 1: validation errors, up to two.
	for _, e := range v.Errors {
		if countErrors(out) >= maxErrors {
			break
		}
		msg := Message{
			ID:       "err:" + e.Field + ":" + e.Code,
			Severity: knowledge.SeverityError,
			Text:     e.Message,
		}
		if e.Field != "system" {
			msg.Actions = []knowledge.Action{{
				Label:   "Ir para o campo",
				Event:   "focus_field",
				Payload: e.Field,
			}}
		}
		out = appendUnique(out, msg)
	}

	// Rule 2: first missing required field, only on an empty batch.
	if len(out) == 0 && len(v.MissingRequired) > 0 {
		field := v.MissingRequired[0]
		out = appendUnique(out, Message{
			ID:       "miss:" + field,
			Severity: knowledge.SeverityWarning,
			Text:     fmt.Sprintf("Campo obrigatório ainda não preenchido: %s.", field),
		})
	}

	section := snap.Section(snap.StepID)

	// Rule 3: section complete → celebrate and name the next step.
	if len(out) == 0 && section != nil && section.Status == formstate.StatusComplete {
		out = appendUnique(out, Message{
			ID:       "next:" + snap.StepID,
			Severity: knowledge.SeveritySuccess,
			Text:     fmt.Sprintf("Etapa concluída! Próximo passo: %s.", c.steps.NextLabel(snap.StepID)),
		})
	}

	// Rule 4: positive reinforcement near the end of a section.
	if len(out) == 0 && section != nil && section.Percent >= progressThreshold {
		out = appendUnique(out, Message{
			ID:       "progress:" + snap.StepID,
			Severity: knowledge.SeverityInfo,
			Text:     fmt.Sprintf("Bom ritmo: %d%% desta etapa concluídos.", section.Percent),
		})
	}

	// Rule 5: keep the last three entries.
	if len(out) > maxBatch {
		out = out[len(out)-maxBatch:]
	}
	return out
}

// MergeDisplay appends knowledge-base messages to a composed batch,
// deduplicates by ID (first occurrence wins) and keeps the most recent
// `cap` distinct entries.
func MergeDisplay(batch []Message, kb []knowledge.ExpertMessage, cap int) []Message {
	merged := make([]Message, 0, len(batch)+len(kb))
	for _, m := range batch {
		merged = appendUnique(merged, m)
	}
	for _, em := range kb {
		merged = appendUnique(merged, FromExpert(em))
	}
	if cap > 0 && len(merged) > cap {
		merged = merged[len(merged)-cap:]
	}
	return merged
}

// FromExpert converts a static rule to a display message.
func FromExpert(em knowledge.ExpertMessage) Message {
	return Message{
		ID:       em.ID,
		Severity: em.Severity,
		Text:     em.Message,
		Actions:  em.Actions,
		Meta:     &Meta{Advisory: true, Disclaimer: adviceDisclaimer},
	}
}

func appendUnique(msgs []Message, m Message) []Message {
	for _, existing := range msgs {
		if existing.ID == m.ID {
			return msgs
		}
	}
	return append(msgs, m)
}

func countErrors(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		if m.Severity == knowledge.SeverityError {
			n++
		}
	}
	return n
}
