package middleware

import (
	"context"

	"github.com/absmach/fedguard/coordinator"
	"github.com/absmach/fedguard/node"
	"github.com/absmach/fedguard/pkg/fl"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ coordinator.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    coordinator.Service
}

func Tracing(tracer trace.Tracer, svc coordinator.Service) coordinator.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) RunRound(ctx context.Context) (resp fl.RoundMetrics, err error) {
	ctx, span := tm.tracer.Start(ctx, "run-round")
	defer func() {
		span.SetAttributes(
			attribute.String("run_id", resp.RunID),
			attribute.Int64("round", int64(resp.Round)),
			attribute.String("status", string(resp.Status)),
			attribute.Int("excluded", resp.Excluded),
		)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	return tm.svc.RunRound(ctx)
}

func (tm *tracing) Run(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "run")
	defer span.End()

	return tm.svc.Run(ctx)
}

func (tm *tracing) GlobalModel(ctx context.Context) (fl.GlobalModelState, error) {
	ctx, span := tm.tracer.Start(ctx, "global-model")
	defer span.End()

	return tm.svc.GlobalModel(ctx)
}

func (tm *tracing) State(ctx context.Context) coordinator.State {
	ctx, span := tm.tracer.Start(ctx, "state")
	defer span.End()

	return tm.svc.State(ctx)
}

func (tm *tracing) ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-rounds", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListRounds(ctx, offset, limit)
}

func (tm *tracing) GetRound(ctx context.Context, round uint64) (fl.RoundMetrics, error) {
	ctx, span := tm.tracer.Start(ctx, "get-round", trace.WithAttributes(
		attribute.Int64("round", int64(round)),
	))
	defer span.End()

	return tm.svc.GetRound(ctx, round)
}

func (tm *tracing) ListNodes(ctx context.Context, offset, limit uint64) (node.NodePage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-nodes", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListNodes(ctx, offset, limit)
}
