package mocks

import (
	"context"

	"github.com/absmach/fedguard/coordinator"
	"github.com/absmach/fedguard/node"
	"github.com/absmach/fedguard/pkg/fl"
	"github.com/stretchr/testify/mock"
)

var _ coordinator.Service = (*Service)(nil)

type Service struct {
	mock.Mock
}

func (m *Service) RunRound(ctx context.Context) (fl.RoundMetrics, error) {
	args := m.Called(ctx)

	return args.Get(0).(fl.RoundMetrics), args.Error(1)
}

func (m *Service) Run(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *Service) GlobalModel(ctx context.Context) (fl.GlobalModelState, error) {
	args := m.Called(ctx)

	return args.Get(0).(fl.GlobalModelState), args.Error(1)
}

func (m *Service) State(ctx context.Context) coordinator.State {
	args := m.Called(ctx)

	return args.Get(0).(coordinator.State)
}

func (m *Service) ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error) {
	args := m.Called(ctx, offset, limit)

	return args.Get(0).(fl.RoundPage), args.Error(1)
}

func (m *Service) GetRound(ctx context.Context, round uint64) (fl.RoundMetrics, error) {
	args := m.Called(ctx, round)

	return args.Get(0).(fl.RoundMetrics), args.Error(1)
}

func (m *Service) ListNodes(ctx context.Context, offset, limit uint64) (node.NodePage, error) {
	args := m.Called(ctx, offset, limit)

	return args.Get(0).(node.NodePage), args.Error(1)
}
