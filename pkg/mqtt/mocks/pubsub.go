package mocks

import (
	"context"

	"github.com/absmach/fedguard/pkg/mqtt"
	"github.com/stretchr/testify/mock"
)

var _ mqtt.PubSub = (*MockPubSub)(nil)

type MockPubSub struct {
	mock.Mock
}

func (m *MockPubSub) PublishRound(ctx context.Context, baseTopic string, s mqtt.RoundSummary) error {
	args := m.Called(ctx, baseTopic, s)

	return args.Error(0)
}

func (m *MockPubSub) SubscribeRounds(ctx context.Context, baseTopic string, handler mqtt.RoundHandler) error {
	args := m.Called(ctx, baseTopic, handler)

	return args.Error(0)
}

func (m *MockPubSub) UnsubscribeRounds(ctx context.Context, baseTopic string) error {
	args := m.Called(ctx, baseTopic)

	return args.Error(0)
}

func (m *MockPubSub) Disconnect(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
