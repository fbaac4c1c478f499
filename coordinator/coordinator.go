package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/absmach/fedguard/node"
	"github.com/absmach/fedguard/pkg/fl"
)

var (
	ErrRoundFailed    = errors.New("round failed")
	ErrRunCompleted   = errors.New("all rounds have been run")
	ErrCollectTimeout = errors.New("client did not report before the round deadline")
	ErrInvalidConfig  = errors.New("invalid coordinator configuration")
)

type Service interface {
	// RunRound drives one complete round. A round that fails inside the
	// defense pipeline is still recorded; the error wraps ErrRoundFailed.
	RunRound(ctx context.Context) (fl.RoundMetrics, error)
	// Run executes the remaining rounds and returns once all are done or
	// ctx is cancelled between two rounds.
	Run(ctx context.Context) error
	GlobalModel(ctx context.Context) (fl.GlobalModelState, error)
	State(ctx context.Context) State
	ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error)
	GetRound(ctx context.Context, round uint64) (fl.RoundMetrics, error)
	ListNodes(ctx context.Context, offset, limit uint64) (node.NodePage, error)
}

// Evaluator measures a global model on held-out data.
type Evaluator interface {
	Evaluate(ctx context.Context, params fl.ParameterVector) (fl.Metrics, error)
}

// Notifier is told about every finished round.
type Notifier interface {
	Notify(ctx context.Context, m fl.RoundMetrics) error
}

type Config struct {
	RunID        string
	Rounds       uint64
	RoundTimeout time.Duration
	MaxParallel  int
}

// Pipeline is the defense applied to the reports of a round.
type Pipeline struct {
	Scorer      fl.AnomalyScorer
	Thresholder fl.DynamicThresholder
	Allocator   fl.WeightAllocator
	Aggregator  fl.Aggregator
}

// DefaultPipeline scores by distance to the median, cuts with MAD and
// averages the included clients uniformly.
func DefaultPipeline() Pipeline {
	return Pipeline{
		Scorer:      fl.NewMedianScorer(),
		Thresholder: fl.NewMADThresholder(fl.DefaultMADMultiplier),
		Allocator:   fl.NewUniformAllocator(),
		Aggregator:  fl.NewWeightedAggregator(),
	}
}

func (p Pipeline) validate() error {
	if p.Scorer == nil || p.Thresholder == nil || p.Allocator == nil || p.Aggregator == nil {
		return errors.Join(ErrInvalidConfig, errors.New("incomplete defense pipeline"))
	}

	return nil
}

// Pacer decides when Run may start the next round.
type Pacer interface {
	Next(from time.Time) time.Time
}

type Option func(*service)

func WithEvaluator(e Evaluator) Option {
	return func(s *service) {
		s.evaluator = e
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *service) {
		s.notifier = n
	}
}

// WithObserver registers fn to be called on every state transition.
func WithObserver(fn func(round uint64, state State)) Option {
	return func(s *service) {
		s.observer = fn
	}
}

// WithPacer makes Run wait for the next activation of p before every round.
// RunRound is not paced.
func WithPacer(p Pacer) Option {
	return func(s *service) {
		s.pacer = p
	}
}
