package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/absmach/fedguard/node"
	"github.com/absmach/fedguard/pkg/fl"
)

// Config describes the synthetic federation. The number of clients and the
// local epochs come from the run settings.
type Config struct {
	Features         int     `toml:"features"           yaml:"features"`
	SamplesPerClient int     `toml:"samples_per_client" yaml:"samples_per_client"`
	TestSamples      int     `toml:"test_samples"       yaml:"test_samples"`
	Separation       float64 `toml:"separation"         yaml:"separation"`
	LearningRate     float64 `toml:"learning_rate"      yaml:"learning_rate"`

	// Byzantine is how many of the first clients misbehave. With Rotate set
	// every client takes a turn instead and Byzantine is ignored.
	Byzantine    int     `toml:"byzantine"     yaml:"byzantine"`
	Rotate       bool    `toml:"rotate"        yaml:"rotate"`
	Attack       string  `toml:"attack"        yaml:"attack"`
	AttackFactor float64 `toml:"attack_factor" yaml:"attack_factor"`
	// AttackRounds are coordinator round numbers; empty means every round.
	AttackRounds []int `toml:"attack_rounds,omitempty" yaml:"attack_rounds,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Features:         4,
		SamplesPerClient: 50,
		TestSamples:      400,
		Separation:       1.5,
		LearningRate:     0.5,
		Attack:           string(AttackScale),
		AttackFactor:     DefaultAttackFactor,
	}
}

type Federation struct {
	Nodes     []*node.Node
	Test      *Dataset
	Initial   fl.ParameterVector
	Evaluator *Evaluator
}

func NewFederation(cfg Config, clients, epochs int, seed uint64) (*Federation, error) {
	if clients <= 0 {
		return nil, fmt.Errorf("invalid client count %d", clients)
	}
	attack, err := ParseAttack(cfg.Attack)
	if err != nil {
		return nil, err
	}

	train := GaussianDataset(clients*cfg.SamplesPerClient, cfg.Features, cfg.Separation, seed)
	shards, err := PartitionIID(train, clients)
	if err != nil {
		return nil, err
	}
	test := GaussianDataset(cfg.TestSamples, cfg.Features, cfg.Separation, seed+1)

	initial, err := InitialParameters(cfg.Features)
	if err != nil {
		return nil, err
	}

	nodes := make([]*node.Node, clients)
	for i := range nodes {
		var unit node.TrainableUnit = NewLogisticUnit(cfg.Features, cfg.LearningRate)
		unitSeed := seed + uint64(i) + 2
		switch {
		case cfg.Rotate && attack != AttackNone:
			unit = NewRotatingUnit(unit, attack, cfg.AttackFactor, unitSeed, i, clients)
		case i < cfg.Byzantine:
			unit = NewByzantineUnit(unit, attack, cfg.AttackFactor, unitSeed, cfg.AttackRounds...)
		}
		nodes[i] = node.NewNode(fmt.Sprintf("client-%02d", i), unit, shards[i], epochs)
	}

	return &Federation{
		Nodes:     nodes,
		Test:      test,
		Initial:   initial,
		Evaluator: NewEvaluator(cfg.Features, test),
	}, nil
}

// Evaluator scores a global model on the held-out test set.
type Evaluator struct {
	mu   sync.Mutex
	unit *LogisticUnit
	test *Dataset
}

func NewEvaluator(features int, test *Dataset) *Evaluator {
	return &Evaluator{unit: NewLogisticUnit(features, 0), test: test}
}

func (e *Evaluator) Evaluate(ctx context.Context, params fl.ParameterVector) (fl.Metrics, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.unit.SetParameters(params); err != nil {
		return fl.Metrics{}, err
	}

	return e.unit.Evaluate(ctx, e.test)
}
