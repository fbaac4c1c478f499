package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/fedguard/coordinator"
	"github.com/absmach/fedguard/node"
	"github.com/absmach/fedguard/pkg/fl"
)

var _ coordinator.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    coordinator.Service
}

func Logging(logger *slog.Logger, svc coordinator.Service) coordinator.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) RunRound(ctx context.Context) (resp fl.RoundMetrics, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("round",
				slog.String("run_id", resp.RunID),
				slog.Uint64("round", resp.Round),
				slog.String("status", string(resp.Status)),
				slog.Int("excluded", resp.Excluded),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Run round failed", args...)

			return
		}
		lm.logger.Info("Run round completed successfully", args...)
	}(time.Now())

	return lm.svc.RunRound(ctx)
}

func (lm *loggingMiddleware) Run(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Run failed", args...)

			return
		}
		lm.logger.Info("Run completed successfully", args...)
	}(time.Now())

	return lm.svc.Run(ctx)
}

func (lm *loggingMiddleware) GlobalModel(ctx context.Context) (resp fl.GlobalModelState, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("model",
				slog.Uint64("round", resp.Round),
				slog.Int("parameters", resp.Parameters.Len()),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get global model failed", args...)

			return
		}
		lm.logger.Info("Get global model completed successfully", args...)
	}(time.Now())

	return lm.svc.GlobalModel(ctx)
}

func (lm *loggingMiddleware) State(ctx context.Context) coordinator.State {
	return lm.svc.State(ctx)
}

func (lm *loggingMiddleware) ListRounds(ctx context.Context, offset, limit uint64) (resp fl.RoundPage, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List rounds failed", args...)

			return
		}
		lm.logger.Info("List rounds completed successfully", args...)
	}(time.Now())

	return lm.svc.ListRounds(ctx, offset, limit)
}

func (lm *loggingMiddleware) GetRound(ctx context.Context, round uint64) (resp fl.RoundMetrics, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("round",
				slog.Uint64("round", round),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get round failed", args...)

			return
		}
		lm.logger.Info("Get round completed successfully", args...)
	}(time.Now())

	return lm.svc.GetRound(ctx, round)
}

func (lm *loggingMiddleware) ListNodes(ctx context.Context, offset, limit uint64) (resp node.NodePage, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List nodes failed", args...)

			return
		}
		lm.logger.Info("List nodes completed successfully", args...)
	}(time.Now())

	return lm.svc.ListNodes(ctx, offset, limit)
}
