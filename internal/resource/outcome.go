package resource

// Outcome is the classification of one descriptor within a run.
type Outcome int

const (
	OutcomeNew Outcome = iota
	OutcomeUpdated
	OutcomeRetried
	OutcomeRetriedAfterBan
	OutcomeBanned
	OutcomeNothingToDo
)

// Outcomes lists every outcome in declaration order.
var Outcomes = []Outcome{
	OutcomeNew,
	OutcomeUpdated,
	OutcomeRetried,
	OutcomeRetriedAfterBan,
	OutcomeBanned,
	OutcomeNothingToDo,
}

func (o Outcome) String() string {
	switch o {
	case OutcomeNew:
		return "new"
	case OutcomeUpdated:
		return "updated"
	case OutcomeRetried:
		return "retried"
	case OutcomeRetriedAfterBan:
		return "retried_after_ban"
	case OutcomeBanned:
		return "banned"
	case OutcomeNothingToDo:
		return "nothing_to_do"
	default:
		return "unknown"
	}
}

// Eligible reports whether a resource with this outcome must be fetched.
func (o Outcome) Eligible() bool {
	switch o {
	case OutcomeNew, OutcomeUpdated, OutcomeRetried, OutcomeRetriedAfterBan:
		return true
	default:
		return false
	}
}
