package workflow

// Stage is one phase of the guided workflow.
type Stage string

const (
	StageChat             Stage = "CHAT"
	StagePersonaSelection Stage = "PERSONA_SELECTION"
	StageScriptEditing    Stage = "SCRIPT_EDITING"
	StagePreview          Stage = "PREVIEW"
)

func (s Stage) String() string {
	return string(s)
}

// ValidTransitions defines allowed stage transitions. The flow only moves
// forward, except for the single backward transition Preview → ScriptEditing
// ("back to script"), which re-opens editing.
var ValidTransitions = map[Stage][]Stage{
	StageChat:             {StagePersonaSelection},
	StagePersonaSelection: {StageScriptEditing},
	StageScriptEditing:    {StagePreview},
	StagePreview:          {StageScriptEditing},
}

// IsValidTransition checks whether a stage transition is allowed.
func IsValidTransition(from, to Stage) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
