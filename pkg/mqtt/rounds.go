package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/absmach/fedguard/pkg/fl"
)

var errInvalidSummary = errors.New("invalid round summary")

// RoundSummary is the message published after every round.
type RoundSummary struct {
	RunID    string         `json:"run_id"`
	Round    uint64         `json:"round"`
	Status   fl.RoundStatus `json:"status"`
	Excluded int            `json:"excluded"`
	Accuracy *float64       `json:"accuracy,omitempty"`
	Loss     *float64       `json:"loss,omitempty"`
}

type RoundHandler func(s RoundSummary) error

func Summarize(m fl.RoundMetrics) RoundSummary {
	s := RoundSummary{
		RunID:    m.RunID,
		Round:    m.Round,
		Status:   m.Status,
		Excluded: m.Excluded,
	}
	if m.TestMetrics != nil {
		acc, loss := m.TestMetrics.Accuracy, m.TestMetrics.Loss
		s.Accuracy, s.Loss = &acc, &loss
	}

	return s
}

// RoundsTopic is where a summary is published after every round.
func RoundsTopic(baseTopic string) string {
	return fmt.Sprintf(roundsTopicTemplate, baseTopic)
}

// DecodeRound parses a payload from the rounds topic. Anything that is not a
// summary of a numbered round with a known status is rejected.
func DecodeRound(payload []byte) (RoundSummary, error) {
	var s RoundSummary
	if err := json.Unmarshal(payload, &s); err != nil {
		return RoundSummary{}, errors.Join(errInvalidSummary, err)
	}
	if err := s.validate(); err != nil {
		return RoundSummary{}, err
	}

	return s, nil
}

func (s RoundSummary) validate() error {
	switch {
	case s.Round == 0:
		return fmt.Errorf("%w: missing round", errInvalidSummary)
	case s.Status != fl.RoundCompleted && s.Status != fl.RoundFailed:
		return fmt.Errorf("%w: status %q", errInvalidSummary, s.Status)
	case s.Excluded < 0:
		return fmt.Errorf("%w: negative exclusion count", errInvalidSummary)
	}

	return nil
}
