package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/absmach/fedguard/node"
	"github.com/absmach/fedguard/pkg/fl"
	"github.com/absmach/fedguard/pkg/scheduler"
	"github.com/absmach/fedguard/pkg/storage"
	"golang.org/x/sync/errgroup"
)

type service struct {
	cfg       Config
	nodes     []*node.Node
	pipeline  Pipeline
	selector  scheduler.Selector
	rounds    storage.RoundRepository
	models    storage.ModelRepository
	evaluator Evaluator
	notifier  Notifier
	observer  func(round uint64, state State)
	pacer     Pacer
	logger    *slog.Logger

	// runMu serializes rounds; mu guards the fields below it.
	runMu  sync.Mutex
	mu     sync.RWMutex
	state  State
	next   uint64
	global fl.GlobalModelState
}

// NewService prepares a run. If the model repository already holds a
// snapshot for cfg.RunID the run resumes from it, otherwise initial is
// stored as the round 0 model.
func NewService(
	ctx context.Context,
	cfg Config,
	nodes []*node.Node,
	initial fl.ParameterVector,
	pipeline Pipeline,
	selector scheduler.Selector,
	rounds storage.RoundRepository,
	models storage.ModelRepository,
	logger *slog.Logger,
	opts ...Option,
) (Service, error) {
	if err := validate(cfg, nodes, initial); err != nil {
		return nil, err
	}
	if err := pipeline.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = len(nodes)
	}
	if selector == nil {
		selector = scheduler.NewAll()
	}

	svc := &service{
		cfg:      cfg,
		nodes:    nodes,
		pipeline: pipeline,
		selector: selector,
		rounds:   rounds,
		models:   models,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(svc)
	}

	if err := svc.restore(ctx, initial); err != nil {
		return nil, err
	}

	return svc, nil
}

func validate(cfg Config, nodes []*node.Node, initial fl.ParameterVector) error {
	var errs []error
	if cfg.RunID == "" {
		errs = append(errs, errors.New("run id is required"))
	}
	if cfg.Rounds == 0 {
		errs = append(errs, errors.New("at least one round is required"))
	}
	if cfg.RoundTimeout <= 0 {
		errs = append(errs, errors.New("round timeout must be positive"))
	}
	if len(nodes) == 0 {
		errs = append(errs, errors.New("at least one node is required"))
	}
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if _, ok := seen[n.ID]; ok {
			errs = append(errs, fmt.Errorf("duplicate node id %q", n.ID))

			continue
		}
		seen[n.ID] = struct{}{}
	}
	if initial.Empty() || !initial.IsFinite() {
		errs = append(errs, errors.New("initial parameters must be non-empty and finite"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}

	return nil
}

func (svc *service) restore(ctx context.Context, initial fl.ParameterVector) error {
	latest, err := svc.models.LatestModel(ctx, svc.cfg.RunID)
	switch {
	case err == nil:
		if !latest.Parameters.SameLayout(initial) {
			return errors.Join(ErrInvalidConfig, fmt.Errorf("stored model of run %s: %w", svc.cfg.RunID, fl.ErrShapeMismatch))
		}
		_, total, err := svc.rounds.List(ctx, svc.cfg.RunID, 0, 0)
		if err != nil {
			return fmt.Errorf("failed to count recorded rounds: %w", err)
		}
		svc.global = latest
		svc.next = max(total, latest.Round) + 1
		svc.logger.Info("Resuming run",
			slog.String("run_id", svc.cfg.RunID),
			slog.Uint64("model_round", latest.Round),
			slog.Uint64("next_round", svc.next),
		)
	case errors.Is(err, storage.ErrNotFound):
		svc.global = fl.GlobalModelState{
			Round:      0,
			Parameters: initial.Clone(),
			UpdatedAt:  time.Now().UTC(),
		}
		if err := svc.models.SaveModel(ctx, svc.cfg.RunID, svc.global); err != nil {
			return fmt.Errorf("failed to save initial model: %w", err)
		}
		svc.next = 1
	default:
		return fmt.Errorf("failed to load latest model: %w", err)
	}

	if svc.next > svc.cfg.Rounds {
		svc.state = Completed
	}

	return nil
}

func (svc *service) RunRound(ctx context.Context) (fl.RoundMetrics, error) {
	svc.runMu.Lock()
	defer svc.runMu.Unlock()

	svc.mu.RLock()
	round, global := svc.next, svc.global
	svc.mu.RUnlock()
	if round > svc.cfg.Rounds {
		return fl.RoundMetrics{}, ErrRunCompleted
	}

	// A started round always runs to the end.
	ctx = context.WithoutCancel(ctx)

	m := fl.RoundMetrics{
		RunID:      svc.cfg.RunID,
		Round:      round,
		ModelRound: global.Round,
		StartedAt:  time.Now().UTC(),
	}
	next, roundErr := svc.execute(ctx, round, global, &m)
	m.FinishedAt = time.Now().UTC()
	if roundErr != nil {
		m.Status = fl.RoundFailed
		m.Error = roundErr.Error()
	} else {
		m.Status = fl.RoundCompleted
		m.ModelRound = next.Round
	}

	final := Idle
	if round == svc.cfg.Rounds {
		final = Completed
	}
	svc.mu.Lock()
	svc.next = round + 1
	if next != nil {
		svc.global = *next
	}
	svc.mu.Unlock()

	if err := svc.rounds.Create(ctx, m); err != nil {
		svc.setState(round, final)

		return m, fmt.Errorf("failed to record round %d: %w", round, err)
	}
	svc.notify(ctx, m)
	svc.setState(round, final)

	args := []any{
		slog.Uint64("round", round),
		slog.String("status", string(m.Status)),
		slog.Int("participants", m.Participants),
		slog.Int("excluded", m.Excluded),
		slog.String("duration", m.FinishedAt.Sub(m.StartedAt).String()),
	}
	if m.TestMetrics != nil {
		args = append(args,
			slog.Float64("accuracy", m.TestMetrics.Accuracy),
			slog.Float64("loss", m.TestMetrics.Loss),
		)
	}
	if roundErr != nil {
		svc.logger.Warn("Round failed", append(args, slog.Any("error", roundErr))...)

		return m, roundErr
	}
	svc.logger.Info("Round completed", args...)

	return m, nil
}

func roundFailure(stage string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRoundFailed, stage, err)
}

// execute runs the pipeline of one round and returns the new global model.
// m is filled in as the stages complete.
func (svc *service) execute(ctx context.Context, round uint64, global fl.GlobalModelState, m *fl.RoundMetrics) (*fl.GlobalModelState, error) {
	svc.setState(round, Broadcasting)
	selected, err := svc.selector.Select(round, svc.nodes)
	if err != nil {
		return nil, roundFailure("selection", err)
	}
	m.Participants = len(selected)

	svc.setState(round, Collecting)
	reports := svc.collect(ctx, round, selected, global.Parameters)
	if !slices.ContainsFunc(reports, func(r fl.ClientReport) bool { return !r.Failed }) {
		m.Excluded = len(reports)

		return nil, roundFailure("collection", fl.ErrNoReportsReceived)
	}

	svc.setState(round, Scoring)
	scores, err := svc.pipeline.Scorer.Score(reports)
	if err != nil {
		return nil, roundFailure("scoring", err)
	}
	excludeFailed(reports, scores)
	m.Scores = scores

	svc.setState(round, Thresholding)
	decision, err := svc.pipeline.Thresholder.Threshold(scores)
	if err != nil {
		m.Excluded = len(reports)

		return nil, roundFailure("thresholding", err)
	}
	m.Decision = decision
	m.Excluded = len(decision.Excluded())

	svc.setState(round, Weighting)
	weights, err := svc.pipeline.Allocator.Allocate(decision, scores)
	if err != nil {
		return nil, roundFailure("weighting", err)
	}
	m.Weights = weights

	svc.setState(round, Aggregating)
	params, err := svc.pipeline.Aggregator.Aggregate(reports, weights)
	if err != nil {
		return nil, roundFailure("aggregation", err)
	}
	switch {
	case !params.SameLayout(global.Parameters):
		return nil, roundFailure("aggregation", fl.ErrShapeMismatch)
	case !params.IsFinite():
		return nil, roundFailure("aggregation", fl.ErrCorruptAggregate)
	}

	next := fl.GlobalModelState{
		Round:      round,
		Parameters: params,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := svc.models.SaveModel(ctx, svc.cfg.RunID, next); err != nil {
		return nil, fmt.Errorf("failed to save model of round %d: %w", round, err)
	}

	svc.setState(round, Evaluating)
	if svc.evaluator != nil {
		metrics, err := svc.evaluator.Evaluate(ctx, params)
		if err != nil {
			svc.logger.Warn("Failed to evaluate global model", slog.Uint64("round", round), slog.Any("error", err))
		} else {
			m.TestMetrics = &metrics
		}
	}

	return &next, nil
}

// excludeFailed pins every failed report to the failed score whatever the
// scorer made of it.
func excludeFailed(reports []fl.ClientReport, scores fl.ScoreVector) {
	failed := make(map[string]struct{})
	for _, r := range reports {
		if r.Failed {
			failed[r.ClientID] = struct{}{}
		}
	}
	if len(failed) == 0 {
		return
	}
	for i := range scores {
		if _, ok := failed[scores[i].ClientID]; ok {
			scores[i].Value = fl.FailedScore
			scores[i].Failed = true
		}
	}
}

// collect trains the selected nodes concurrently and waits until every one
// reported or the round deadline passed. The result follows selection order.
func (svc *service) collect(ctx context.Context, round uint64, nodes []*node.Node, global fl.ParameterVector) []fl.ClientReport {
	ctx, cancel := context.WithTimeout(ctx, svc.cfg.RoundTimeout)
	defer cancel()

	// Buffered so late nodes never block once collection has given up.
	results := make(chan fl.ClientReport, len(nodes))
	g := &errgroup.Group{}
	g.SetLimit(svc.cfg.MaxParallel)
	go func() {
		for _, n := range nodes {
			if ctx.Err() != nil {
				return
			}
			g.Go(func() error {
				results <- n.TrainRound(ctx, round, global)

				return nil
			})
		}
	}()

	received := make(map[string]fl.ClientReport, len(nodes))
loop:
	for len(received) < len(nodes) {
		select {
		case r := <-results:
			received[r.ClientID] = r
		case <-ctx.Done():
			break loop
		}
	}

	reports := make([]fl.ClientReport, len(nodes))
	for i, n := range nodes {
		r, ok := received[n.ID]
		if !ok {
			r = fl.FailedReport(n.ID, round, fmt.Errorf("%w: %w", fl.ErrClientTraining, ErrCollectTimeout).Error())
		}
		if r.Failed {
			svc.logger.Warn("Client report rejected",
				slog.Uint64("round", round),
				slog.Group("node",
					slog.String("id", n.ID),
					slog.String("name", n.Name),
				),
				slog.String("reason", r.Reason),
			)
		}
		reports[i] = r
	}

	return reports
}

func (svc *service) notify(ctx context.Context, m fl.RoundMetrics) {
	if svc.notifier == nil {
		return
	}
	if err := svc.notifier.Notify(ctx, m); err != nil {
		svc.logger.Warn("Failed to publish round summary", slog.Uint64("round", m.Round), slog.Any("error", err))
	}
}

func (svc *service) setState(round uint64, s State) {
	svc.mu.Lock()
	svc.state = s
	svc.mu.Unlock()

	svc.logger.Debug("Coordinator state changed", slog.Uint64("round", round), slog.String("state", s.String()))
	if svc.observer != nil {
		svc.observer(round, s)
	}
}

func (svc *service) Run(ctx context.Context) error {
	for {
		if err := svc.wait(ctx); err != nil {
			return err
		}

		_, err := svc.RunRound(ctx)
		switch {
		case errors.Is(err, ErrRunCompleted):
			return nil
		case err != nil && !errors.Is(err, ErrRoundFailed):
			return err
		}

		if svc.State(ctx) == Completed {
			return nil
		}
	}
}

func (svc *service) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if svc.pacer == nil {
		return nil
	}

	at := svc.pacer.Next(time.Now())
	delay := time.Until(at)
	if delay <= 0 {
		return nil
	}
	svc.logger.Info("Waiting for next round slot", slog.Time("at", at))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (svc *service) GlobalModel(_ context.Context) (fl.GlobalModelState, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	g := svc.global
	g.Parameters = g.Parameters.Clone()

	return g, nil
}

func (svc *service) State(_ context.Context) State {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	return svc.state
}

func (svc *service) ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error) {
	rounds, total, err := svc.rounds.List(ctx, svc.cfg.RunID, offset, limit)
	if err != nil {
		return fl.RoundPage{}, err
	}

	return fl.RoundPage{
		Offset: offset,
		Limit:  limit,
		Total:  total,
		Rounds: rounds,
	}, nil
}

func (svc *service) GetRound(ctx context.Context, round uint64) (fl.RoundMetrics, error) {
	return svc.rounds.Get(ctx, svc.cfg.RunID, round)
}

func (svc *service) ListNodes(_ context.Context, offset, limit uint64) (node.NodePage, error) {
	total := uint64(len(svc.nodes))
	page := node.NodePage{
		Offset: offset,
		Limit:  limit,
		Total:  total,
		Nodes:  []node.Info{},
	}
	for i := offset; i < total && uint64(len(page.Nodes)) < limit; i++ {
		page.Nodes = append(page.Nodes, svc.nodes[i].Info())
	}

	return page, nil
}
