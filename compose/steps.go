package compose

// StepOrder is the static ordering of form steps, used to name the next step
// when a section completes. Unknown steps degrade to a generic label rather
// than failing the composition.
type StepOrder struct {
	ids    []string
	labels map[string]string
}

// genericNextStep is the fallback label for steps missing from the table.
const genericNextStep = "a próxima etapa"

// NewStepOrder builds a StepOrder from parallel id/label pairs.
func NewStepOrder(steps []StepInfo) *StepOrder {
	so := &StepOrder{labels: make(map[string]string, len(steps))}
	for _, s := range steps {
		so.ids = append(so.ids, s.ID)
		so.labels[s.ID] = s.Label
	}
	return so
}

// StepInfo names one form step.
type StepInfo struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// DefaultStepOrder returns the application's step sequence.
func DefaultStepOrder() *StepOrder {
	return NewStepOrder([]StepInfo{
		{ID: "personal", Label: "Dados pessoais"},
		{ID: "employment", Label: "Dados de emprego"},
		{ID: "documents", Label: "Documentos"},
		{ID: "friendly_form", Label: "Formulário guiado"},
		{ID: "review", Label: "Revisão final"},
	})
}

// NextLabel returns the label of the step after stepID. The last step and
// unknown steps fall back to a generic label.
func (so *StepOrder) NextLabel(stepID string) string {
	for i, id := range so.ids {
		if id == stepID && i+1 < len(so.ids) {
			return so.labels[so.ids[i+1]]
		}
	}
	return genericNextStep
}

// Label returns the display label for a step, or the ID itself when unknown.
func (so *StepOrder) Label(stepID string) string {
	if l, ok := so.labels[stepID]; ok {
		return l
	}
	return stepID
}
