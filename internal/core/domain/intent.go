package domain

// Intent is the closed set of query intent labels.
type Intent string

const (
	IntentBroad       Intent = "broad_query"
	IntentEnumeration Intent = "enumeration_query"
	IntentAnalytical  Intent = "analytical_query"
	IntentTemporal    Intent = "temporal_query"
	IntentSpecific    Intent = "specific_query"
	IntentFuzzy       Intent = "fuzzy_query"
)

func AllIntents() []Intent {
	return []Intent{
		IntentBroad,
		IntentEnumeration,
		IntentAnalytical,
		IntentTemporal,
		IntentSpecific,
		IntentFuzzy,
	}
}

func IsKnownIntent(raw string) bool {
	for _, intent := range AllIntents() {
		if string(intent) == raw {
			return true
		}
	}
	return false
}

// StageFlags switches the optional pipeline stages per query.
type StageFlags struct {
	Rewrite bool
	Expand  bool
	SSI     bool
	Rerank  bool
}

// And applies the global on/off switches on top of the per-intent flags.
func (f StageFlags) And(other StageFlags) StageFlags {
	return StageFlags{
		Rewrite: f.Rewrite && other.Rewrite,
		Expand:  f.Expand && other.Expand,
		SSI:     f.SSI && other.SSI,
		Rerank:  f.Rerank && other.Rerank,
	}
}

// FlagsForIntent is the fixed intent to stage-flags mapping. Enumeration and
// broad asks skip query reformulation entirely, extractive span search only
// runs for short factual questions.
func FlagsForIntent(intent Intent) StageFlags {
	switch intent {
	case IntentBroad:
		return StageFlags{Rewrite: false, Expand: true, SSI: false, Rerank: true}
	case IntentEnumeration:
		return StageFlags{Rewrite: false, Expand: false, SSI: false, Rerank: true}
	case IntentAnalytical:
		return StageFlags{Rewrite: true, Expand: true, SSI: false, Rerank: true}
	case IntentTemporal:
		return StageFlags{Rewrite: true, Expand: false, SSI: false, Rerank: true}
	case IntentSpecific:
		return StageFlags{Rewrite: false, Expand: false, SSI: true, Rerank: true}
	default:
		return StageFlags{Rewrite: true, Expand: true, SSI: false, Rerank: true}
	}
}
