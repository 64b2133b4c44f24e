package sentry

// Stage is one phase of the timed reconciliation pipeline. It determines
// which matching rule currently applies to a transaction. Transitions are
// strictly time-driven; StageExpired is terminal.
type Stage int8

const (
	// StageMatching is the initial stage: direct same-item matching inside
	// a short grace window for event-ordering jitter.
	StageMatching Stage = iota
	// StageRecipeCheck matches debits against craftable recipe outputs.
	StageRecipeCheck
	// StageConversionCheck matches credits against the conversion grammar
	// and settles shop transactions.
	StageConversionCheck
	// StageExpired is terminal: unresolved debits become violations.
	StageExpired
)

// stageCount is the number of timed stages.
const stageCount = 3

func (s Stage) String() string {
	switch s {
	case StageMatching:
		return "matching"
	case StageRecipeCheck:
		return "recipe_check"
	case StageConversionCheck:
		return "conversion_check"
	case StageExpired:
		return "expired"
	default:
		return "unknown"
	}
}
