package fl

import (
	"time"
)

type RoundStatus string

const (
	RoundCompleted RoundStatus = "completed"
	RoundFailed    RoundStatus = "failed"
)

type ClientReport struct {
	ClientID   string          `json:"client_id"`
	Round      uint64          `json:"round"`
	Parameters ParameterVector `json:"parameters"`
	NumSamples int             `json:"num_samples"`
	Failed     bool            `json:"failed"`
	Reason     string          `json:"reason,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// FailedReport marks a client's contribution for the round as unusable.
func FailedReport(clientID string, round uint64, reason string) ClientReport {
	return ClientReport{
		ClientID: clientID,
		Round:    round,
		Failed:   true,
		Reason:   reason,
	}
}

type Score struct {
	ClientID string  `json:"client_id"`
	Value    float64 `json:"value"`
	Failed   bool    `json:"failed,omitempty"`
}

type ScoreVector []Score

func (sv ScoreVector) Get(clientID string) (Score, bool) {
	for _, s := range sv {
		if s.ClientID == clientID {
			return s, true
		}
	}

	return Score{}, false
}

type Trust struct {
	ClientID string `json:"client_id"`
	Included bool   `json:"included"`
	Reason   string `json:"reason,omitempty"`
}

type TrustDecision struct {
	Method   string  `json:"method"`
	Boundary float64 `json:"boundary"`
	Fallback bool    `json:"fallback,omitempty"`
	Entries  []Trust `json:"entries"`
}

func (td TrustDecision) Included(clientID string) bool {
	for _, e := range td.Entries {
		if e.ClientID == clientID {
			return e.Included
		}
	}

	return false
}

func (td TrustDecision) IncludedCount() int {
	n := 0
	for _, e := range td.Entries {
		if e.Included {
			n++
		}
	}

	return n
}

func (td TrustDecision) Excluded() []string {
	var ids []string
	for _, e := range td.Entries {
		if !e.Included {
			ids = append(ids, e.ClientID)
		}
	}

	return ids
}

type Weight struct {
	ClientID string  `json:"client_id"`
	Value    float64 `json:"value"`
}

type WeightVector []Weight

func (wv WeightVector) Get(clientID string) float64 {
	for _, w := range wv {
		if w.ClientID == clientID {
			return w.Value
		}
	}

	return 0
}

func (wv WeightVector) Sum() float64 {
	var sum float64
	for _, w := range wv {
		sum += w.Value
	}

	return sum
}

type Metrics struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

// GlobalModelState is replaced as a whole after every successful round.
type GlobalModelState struct {
	Round      uint64          `json:"round"`
	Parameters ParameterVector `json:"parameters"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type RoundMetrics struct {
	RunID        string        `json:"run_id"`
	Round        uint64        `json:"round"`
	Status       RoundStatus   `json:"status"`
	Error        string        `json:"error,omitempty"`
	Participants int           `json:"participants"`
	Excluded     int           `json:"excluded"`
	Scores       ScoreVector   `json:"scores,omitempty"`
	Decision     TrustDecision `json:"decision"`
	Weights      WeightVector  `json:"weights,omitempty"`
	TestMetrics  *Metrics      `json:"test_metrics,omitempty"`
	ModelRound   uint64        `json:"model_round"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
}

type RoundPage struct {
	Offset uint64         `json:"offset"`
	Limit  uint64         `json:"limit"`
	Total  uint64         `json:"total"`
	Rounds []RoundMetrics `json:"rounds"`
}

type AnomalyScorer interface {
	Score(reports []ClientReport) (ScoreVector, error)
}

type DynamicThresholder interface {
	Threshold(scores ScoreVector) (TrustDecision, error)
}

type WeightAllocator interface {
	Allocate(decision TrustDecision, scores ScoreVector) (WeightVector, error)
}

type Aggregator interface {
	Aggregate(reports []ClientReport, weights WeightVector) (ParameterVector, error)
}
