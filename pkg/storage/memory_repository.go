package storage

import (
	"context"
	"fmt"

	pkgerrors "github.com/absmach/fedguard/pkg/errors"
	"github.com/absmach/fedguard/pkg/fl"
)

type memoryRoundRepo struct {
	storage Storage
}

type memoryModelRepo struct {
	storage Storage
}

func NewMemoryRoundRepository(s Storage) RoundRepository {
	return &memoryRoundRepo{storage: s}
}

func NewMemoryModelRepository(s Storage) ModelRepository {
	return &memoryModelRepo{storage: s}
}

// runPrefix ends in a byte no run ID carries, so one run's prefix never
// matches another's keys.
func runPrefix(runID string) string {
	return runID + "\x00"
}

// roundKey pads the round so lexical key order matches numeric order.
func roundKey(runID string, round uint64) string {
	return fmt.Sprintf("%s%020d", runPrefix(runID), round)
}

func (r *memoryRoundRepo) Create(ctx context.Context, m fl.RoundMetrics) error {
	if m.RunID == "" {
		return pkgerrors.ErrInvalidID
	}

	return r.storage.Create(ctx, roundKey(m.RunID, m.Round), m)
}

func (r *memoryRoundRepo) Get(ctx context.Context, runID string, round uint64) (fl.RoundMetrics, error) {
	data, err := r.storage.Get(ctx, roundKey(runID, round))
	if err != nil {
		return fl.RoundMetrics{}, err
	}
	m, ok := data.(fl.RoundMetrics)
	if !ok {
		return fl.RoundMetrics{}, pkgerrors.ErrInvalidData
	}

	return m, nil
}

func (r *memoryRoundRepo) List(ctx context.Context, runID string, offset, limit uint64) ([]fl.RoundMetrics, uint64, error) {
	data, total, err := r.storage.List(ctx, runPrefix(runID), offset, limit)
	if err != nil {
		return nil, 0, err
	}

	rounds := make([]fl.RoundMetrics, len(data))
	for i, d := range data {
		m, ok := d.(fl.RoundMetrics)
		if !ok {
			return nil, 0, pkgerrors.ErrInvalidData
		}
		rounds[i] = m
	}

	return rounds, total, nil
}

func (r *memoryModelRepo) SaveModel(ctx context.Context, runID string, state fl.GlobalModelState) error {
	if runID == "" {
		return pkgerrors.ErrInvalidID
	}
	state.Parameters = state.Parameters.Clone()

	return r.storage.Create(ctx, roundKey(runID, state.Round), state)
}

func (r *memoryModelRepo) LoadModel(ctx context.Context, runID string, round uint64) (fl.GlobalModelState, error) {
	data, err := r.storage.Get(ctx, roundKey(runID, round))
	if err != nil {
		return fl.GlobalModelState{}, err
	}

	return snapshot(data)
}

func (r *memoryModelRepo) LatestModel(ctx context.Context, runID string) (fl.GlobalModelState, error) {
	data, err := r.storage.Last(ctx, runPrefix(runID))
	if err != nil {
		return fl.GlobalModelState{}, err
	}

	return snapshot(data)
}

// snapshot hands out a copy so callers never alias the stored parameters.
func snapshot(data any) (fl.GlobalModelState, error) {
	state, ok := data.(fl.GlobalModelState)
	if !ok {
		return fl.GlobalModelState{}, pkgerrors.ErrInvalidData
	}
	state.Parameters = state.Parameters.Clone()

	return state, nil
}
