package coordinator

type State uint8

const (
	Idle State = iota
	Broadcasting
	Collecting
	Scoring
	Thresholding
	Weighting
	Aggregating
	Evaluating
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Broadcasting:
		return "Broadcasting"
	case Collecting:
		return "Collecting"
	case Scoring:
		return "Scoring"
	case Thresholding:
		return "Thresholding"
	case Weighting:
		return "Weighting"
	case Aggregating:
		return "Aggregating"
	case Evaluating:
		return "Evaluating"
	case Completed:
		return "Completed"
	default:
		return "Unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
