package middleware

import (
	"context"
	"time"

	"github.com/absmach/fedguard/coordinator"
	"github.com/absmach/fedguard/node"
	"github.com/absmach/fedguard/pkg/fl"
	"github.com/go-kit/kit/metrics"
)

var _ coordinator.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     coordinator.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc coordinator.Service) coordinator.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) RunRound(ctx context.Context) (fl.RoundMetrics, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "run-round").Add(1)
		mm.latency.With("method", "run-round").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.RunRound(ctx)
}

func (mm *metricsMiddleware) Run(ctx context.Context) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "run").Add(1)
		mm.latency.With("method", "run").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Run(ctx)
}

func (mm *metricsMiddleware) GlobalModel(ctx context.Context) (fl.GlobalModelState, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "global-model").Add(1)
		mm.latency.With("method", "global-model").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GlobalModel(ctx)
}

func (mm *metricsMiddleware) State(ctx context.Context) coordinator.State {
	defer func(begin time.Time) {
		mm.counter.With("method", "state").Add(1)
		mm.latency.With("method", "state").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.State(ctx)
}

func (mm *metricsMiddleware) ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-rounds").Add(1)
		mm.latency.With("method", "list-rounds").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListRounds(ctx, offset, limit)
}

func (mm *metricsMiddleware) GetRound(ctx context.Context, round uint64) (fl.RoundMetrics, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-round").Add(1)
		mm.latency.With("method", "get-round").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetRound(ctx, round)
}

func (mm *metricsMiddleware) ListNodes(ctx context.Context, offset, limit uint64) (node.NodePage, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-nodes").Add(1)
		mm.latency.With("method", "list-nodes").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListNodes(ctx, offset, limit)
}
