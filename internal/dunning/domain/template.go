package domain

// StepSpec describes one step of a dunning template.
type StepSpec struct {
	Type                   StepType        `json:"type"`
	DelayDays              int             `json:"delay_days"`
	Template               string          `json:"template,omitempty"`
	EscalationLevel        EscalationLevel `json:"escalation_level"`
	RequiresManualApproval bool            `json:"requires_manual_approval,omitempty"`
}

// Template is a named, ordered escalation plan.
type Template struct {
	ID    string
	Name  string
	Steps []StepSpec
}

// DefaultTemplateID names the template used by the overdue scan.
const DefaultTemplateID = "standard"

var defaultTemplate = Template{
	ID:   DefaultTemplateID,
	Name: "Standard escalation",
	Steps: []StepSpec{
		{Type: StepTypeEmailReminder, DelayDays: 7, Template: "payment_reminder", EscalationLevel: EscalationLow},
		{Type: StepTypeEmailReminder, DelayDays: 14, Template: "payment_reminder", EscalationLevel: EscalationMedium},
		{Type: StepTypeFinalNotice, DelayDays: 21, Template: "final_notice", EscalationLevel: EscalationHigh},
		{Type: StepTypeSuspendService, DelayDays: 30, EscalationLevel: EscalationCritical, RequiresManualApproval: true},
		{Type: StepTypeWriteOff, DelayDays: 90, EscalationLevel: EscalationCritical, RequiresManualApproval: true},
	},
}

var templates = map[string]Template{
	DefaultTemplateID: defaultTemplate,
	"gentle": {
		ID:   "gentle",
		Name: "Reminders only",
		Steps: []StepSpec{
			{Type: StepTypeEmailReminder, DelayDays: 7, Template: "payment_reminder", EscalationLevel: EscalationLow},
			{Type: StepTypeEmailReminder, DelayDays: 21, Template: "payment_reminder", EscalationLevel: EscalationMedium},
			{Type: StepTypeFinalNotice, DelayDays: 45, Template: "final_notice", EscalationLevel: EscalationHigh},
		},
	},
}

// ResolveTemplate returns the named template, or the default when id is
// empty.
func ResolveTemplate(id string) (Template, bool) {
	if id == "" {
		id = DefaultTemplateID
	}
	t, ok := templates[id]
	return t, ok
}
