package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/absmach/fedguard/pkg/fl"
	"github.com/google/uuid"
)

var ErrNodeBusy = errors.New("node is still training a previous round")

// Dataset is an opaque handle to a node's private partition.
type Dataset interface {
	Len() int
}

// TrainableUnit wraps a model and its local training procedure.
type TrainableUnit interface {
	SetParameters(params fl.ParameterVector) error
	Train(ctx context.Context, data Dataset, epochs int) error
	Parameters() fl.ParameterVector
	Evaluate(ctx context.Context, data Dataset) (fl.Metrics, error)
}

// RoundAware units are told the round number before each training call.
type RoundAware interface {
	BeginRound(round uint64)
}

// Node is a federated client: a private partition and the unit trained on it.
// A node trains at most one round at a time.
type Node struct {
	ID     string
	Name   string
	Epochs int

	mu   sync.Mutex
	unit TrainableUnit
	data Dataset
}

// Info is the exported view of a node.
type Info struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Epochs  int    `json:"epochs"`
	Samples int    `json:"samples"`
}

type NodePage struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
	Total  uint64 `json:"total"`
	Nodes  []Info `json:"nodes"`
}

func NewNode(name string, unit TrainableUnit, data Dataset, epochs int) *Node {
	if epochs <= 0 {
		epochs = 1
	}

	return &Node{
		ID:     uuid.NewString(),
		Name:   name,
		Epochs: epochs,
		unit:   unit,
		data:   data,
	}
}

func (n *Node) Info() Info {
	return Info{
		ID:      n.ID,
		Name:    n.Name,
		Epochs:  n.Epochs,
		Samples: n.Samples(),
	}
}

func (n *Node) Samples() int {
	if n.data == nil {
		return 0
	}

	return n.data.Len()
}

// TrainRound synchronizes the unit to a private copy of global, trains it
// and reports the result. Problems never surface as corrupted parameters:
// the report is marked failed instead.
func (n *Node) TrainRound(ctx context.Context, round uint64, global fl.ParameterVector) fl.ClientReport {
	start := time.Now()
	fail := func(err error) fl.ClientReport {
		r := fl.FailedReport(n.ID, round, fmt.Errorf("%w: %w", fl.ErrClientTraining, err).Error())
		r.Duration = time.Since(start)

		return r
	}

	// A round that timed out may still own the unit.
	if !n.mu.TryLock() {
		return fail(ErrNodeBusy)
	}
	defer n.mu.Unlock()

	if ra, ok := n.unit.(RoundAware); ok {
		ra.BeginRound(round)
	}
	if err := n.unit.SetParameters(global.Clone()); err != nil {
		return fail(fmt.Errorf("failed to load global parameters: %w", err))
	}
	if err := n.unit.Train(ctx, n.data, n.Epochs); err != nil {
		return fail(err)
	}

	params := n.unit.Parameters().Clone()
	switch {
	case !params.SameLayout(global):
		return fail(fl.ErrShapeMismatch)
	case !params.IsFinite():
		return fail(fmt.Errorf("%w: parameters diverged", fl.ErrCorruptUpdate))
	}

	return fl.ClientReport{
		ClientID:   n.ID,
		Round:      round,
		Parameters: params,
		NumSamples: n.Samples(),
		Duration:   time.Since(start),
	}
}
