package coordinator_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/absmach/fedguard/coordinator"
	"github.com/absmach/fedguard/node"
	"github.com/absmach/fedguard/pkg/fl"
	"github.com/absmach/fedguard/pkg/mqtt"
	mqttmocks "github.com/absmach/fedguard/pkg/mqtt/mocks"
	"github.com/absmach/fedguard/pkg/scheduler"
	"github.com/absmach/fedguard/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.DiscardHandler)

// shiftUnit moves every parameter by offset when trained.
type shiftUnit struct {
	params  fl.ParameterVector
	offset  float64
	err     error
	release chan struct{}
}

func (u *shiftUnit) SetParameters(p fl.ParameterVector) error {
	u.params = p

	return nil
}

func (u *shiftUnit) Train(_ context.Context, _ node.Dataset, _ int) error {
	if u.release != nil {
		<-u.release
	}
	if u.err != nil {
		return u.err
	}
	flat := u.params.Flatten()
	for i := range flat {
		flat[i] += u.offset
	}
	p, err := u.params.WithFlat(flat)
	if err != nil {
		return err
	}
	u.params = p

	return nil
}

func (u *shiftUnit) Parameters() fl.ParameterVector {
	return u.params
}

func (u *shiftUnit) Evaluate(context.Context, node.Dataset) (fl.Metrics, error) {
	return fl.Metrics{}, nil
}

type samples int

func (s samples) Len() int { return int(s) }

type evaluator struct {
	metrics fl.Metrics
	err     error
}

func (e evaluator) Evaluate(context.Context, fl.ParameterVector) (fl.Metrics, error) {
	return e.metrics, e.err
}

func vector(t *testing.T, values ...float64) fl.ParameterVector {
	t.Helper()

	w, err := fl.NewTensor("w", []int{len(values)}, values)
	require.NoError(t, err)

	return fl.NewParameterVector(w)
}

func shiftNodes(offsets ...float64) []*node.Node {
	nodes := make([]*node.Node, len(offsets))
	for i, o := range offsets {
		nodes[i] = node.NewNode(fmt.Sprintf("client-%02d", i), &shiftUnit{offset: o}, samples(10), 1)
	}

	return nodes
}

type repos struct {
	rounds storage.RoundRepository
	models storage.ModelRepository
}

func memoryRepos() repos {
	return repos{
		rounds: storage.NewMemoryRoundRepository(storage.NewInMemoryStorage()),
		models: storage.NewMemoryModelRepository(storage.NewInMemoryStorage()),
	}
}

func config(rounds uint64) coordinator.Config {
	return coordinator.Config{
		RunID:        "run-1",
		Rounds:       rounds,
		RoundTimeout: time.Second,
	}
}

func newService(t *testing.T, cfg coordinator.Config, nodes []*node.Node, r repos, opts ...coordinator.Option) coordinator.Service {
	t.Helper()

	svc, err := coordinator.NewService(
		context.Background(),
		cfg,
		nodes,
		vector(t, 0, 0),
		coordinator.DefaultPipeline(),
		scheduler.NewAll(),
		r.rounds,
		r.models,
		logger,
		opts...,
	)
	require.NoError(t, err)

	return svc
}

func TestNewServiceValidation(t *testing.T) {
	t.Parallel()

	nodes := shiftNodes(0.1)
	duplicated := shiftNodes(0.1, 0.2)
	duplicated[1].ID = duplicated[0].ID
	cases := []struct {
		desc    string
		cfg     coordinator.Config
		nodes   []*node.Node
		initial fl.ParameterVector
	}{
		{desc: "missing run id", cfg: coordinator.Config{Rounds: 1, RoundTimeout: time.Second}, nodes: nodes, initial: vector(t, 0)},
		{desc: "no rounds", cfg: coordinator.Config{RunID: "r", RoundTimeout: time.Second}, nodes: nodes, initial: vector(t, 0)},
		{desc: "no timeout", cfg: coordinator.Config{RunID: "r", Rounds: 1}, nodes: nodes, initial: vector(t, 0)},
		{desc: "no nodes", cfg: config(1), initial: vector(t, 0)},
		{desc: "empty model", cfg: config(1), nodes: nodes},
		{desc: "duplicate node id", cfg: config(1), nodes: duplicated, initial: vector(t, 0)},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			r := memoryRepos()
			_, err := coordinator.NewService(context.Background(), tc.cfg, tc.nodes, tc.initial,
				coordinator.DefaultPipeline(), nil, r.rounds, r.models, logger)
			assert.ErrorIs(t, err, coordinator.ErrInvalidConfig)
		})
	}

	r := memoryRepos()
	_, err := coordinator.NewService(context.Background(), config(1), nodes, vector(t, 0),
		coordinator.Pipeline{}, nil, r.rounds, r.models, logger)
	assert.ErrorIs(t, err, coordinator.ErrInvalidConfig)
}

func TestRunRoundStateOrder(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		states = map[uint64][]coordinator.State{}
	)
	observe := func(round uint64, s coordinator.State) {
		mu.Lock()
		defer mu.Unlock()
		states[round] = append(states[round], s)
	}
	svc := newService(t, config(2), shiftNodes(0.1, 0.2, 0.3), memoryRepos(), coordinator.WithObserver(observe))
	ctx := context.Background()
	assert.Equal(t, coordinator.Idle, svc.State(ctx))

	_, err := svc.RunRound(ctx)
	require.NoError(t, err)
	_, err = svc.RunRound(ctx)
	require.NoError(t, err)

	pipeline := []coordinator.State{
		coordinator.Broadcasting,
		coordinator.Collecting,
		coordinator.Scoring,
		coordinator.Thresholding,
		coordinator.Weighting,
		coordinator.Aggregating,
		coordinator.Evaluating,
	}
	assert.Equal(t, append(pipeline, coordinator.Idle), states[1])
	assert.Equal(t, append(pipeline, coordinator.Completed), states[2])
	assert.Equal(t, coordinator.Completed, svc.State(ctx))

	_, err = svc.RunRound(ctx)
	assert.ErrorIs(t, err, coordinator.ErrRunCompleted)
}

func TestRunRoundExcludesOutlier(t *testing.T) {
	t.Parallel()

	nodes := shiftNodes(0.1, 0.2, 0.3, 0.4, 100)
	svc := newService(t, config(1), nodes, memoryRepos(),
		coordinator.WithEvaluator(evaluator{metrics: fl.Metrics{Loss: 0.3, Accuracy: 0.9}}))
	ctx := context.Background()

	m, err := svc.RunRound(ctx)
	require.NoError(t, err)

	assert.Equal(t, fl.RoundCompleted, m.Status)
	assert.Equal(t, uint64(1), m.Round)
	assert.Equal(t, uint64(1), m.ModelRound)
	assert.Equal(t, 5, m.Participants)
	assert.Equal(t, 1, m.Excluded)
	assert.False(t, m.Decision.Included(nodes[4].ID))
	assert.Zero(t, m.Weights.Get(nodes[4].ID))
	assert.InDelta(t, 1, m.Weights.Sum(), 1e-12)
	require.NotNil(t, m.TestMetrics)
	assert.InDelta(t, 0.9, m.TestMetrics.Accuracy, 0)

	g, err := svc.GlobalModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), g.Round)
	assert.InDeltaSlice(t, []float64{0.25, 0.25}, g.Parameters.Flatten(), 1e-12)

	stored, err := svc.GetRound(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, m.Excluded, stored.Excluded)
}

func TestFailedRoundKeepsModel(t *testing.T) {
	t.Parallel()

	broken := errors.New("diverged")
	nodes := []*node.Node{
		node.NewNode("a", &shiftUnit{err: broken}, samples(1), 1),
		node.NewNode("b", &shiftUnit{err: broken}, samples(1), 1),
	}
	svc := newService(t, config(2), nodes, memoryRepos(), coordinator.WithEvaluator(evaluator{}))
	ctx := context.Background()

	m, err := svc.RunRound(ctx)
	assert.ErrorIs(t, err, coordinator.ErrRoundFailed)
	assert.ErrorIs(t, err, fl.ErrNoReportsReceived)
	assert.Equal(t, fl.RoundFailed, m.Status)
	assert.Equal(t, uint64(0), m.ModelRound)
	assert.Equal(t, 2, m.Excluded)
	assert.Nil(t, m.TestMetrics)
	assert.NotEmpty(t, m.Error)

	g, err := svc.GlobalModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), g.Round)
	assert.Equal(t, []float64{0, 0}, g.Parameters.Flatten())

	stored, err := svc.GetRound(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, fl.RoundFailed, stored.Status)

	// Run moves past failed rounds.
	require.NoError(t, svc.Run(ctx))
	page, err := svc.ListRounds(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), page.Total)
	assert.Equal(t, coordinator.Completed, svc.State(ctx))
}

func TestEvaluationFailureDoesNotFailRound(t *testing.T) {
	t.Parallel()

	svc := newService(t, config(1), shiftNodes(0.1, 0.2), memoryRepos(),
		coordinator.WithEvaluator(evaluator{err: errors.New("no test data")}))

	m, err := svc.RunRound(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fl.RoundCompleted, m.Status)
	assert.Nil(t, m.TestMetrics)
}

func TestStalledNodeTimesOut(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	nodes := shiftNodes(0.1, 0.2, 0.3)
	stalled := node.NewNode("stalled", &shiftUnit{offset: 1, release: release}, samples(10), 1)
	nodes = append(nodes, stalled)

	cfg := config(2)
	cfg.RoundTimeout = 50 * time.Millisecond
	svc := newService(t, cfg, nodes, memoryRepos())
	ctx := context.Background()

	m, err := svc.RunRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Participants)
	assert.False(t, m.Decision.Included(stalled.ID))
	s, ok := m.Scores.Get(stalled.ID)
	require.True(t, ok)
	assert.True(t, s.Failed)
	assert.Contains(t, failedReason(m, stalled.ID), "failed report")

	g, err := svc.GlobalModel(ctx)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.2, 0.2}, g.Parameters.Flatten(), 1e-12)

	// Still training the previous round.
	m, err = svc.RunRound(ctx)
	require.NoError(t, err)
	assert.False(t, m.Decision.Included(stalled.ID))
}

func TestNoReportsKeepsModel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	nodes := []*node.Node{
		node.NewNode("a", &shiftUnit{offset: 1, release: release}, samples(1), 1),
		node.NewNode("b", &shiftUnit{offset: 2, release: release}, samples(1), 1),
	}
	cfg := config(2)
	cfg.RoundTimeout = 30 * time.Millisecond
	svc := newService(t, cfg, nodes, memoryRepos())
	ctx := context.Background()

	m, err := svc.RunRound(ctx)
	assert.ErrorIs(t, err, coordinator.ErrRoundFailed)
	assert.ErrorIs(t, err, fl.ErrNoReportsReceived)
	assert.Equal(t, fl.RoundFailed, m.Status)
	assert.Equal(t, 2, m.Participants)
	assert.Equal(t, 2, m.Excluded)

	g, err := svc.GlobalModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), g.Round)
	assert.Equal(t, []float64{0, 0}, g.Parameters.Flatten())

	stored, err := svc.GetRound(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, fl.RoundFailed, stored.Status)
}

// flatScorer gives every report the same score, failed or not.
type flatScorer struct{}

func (flatScorer) Score(reports []fl.ClientReport) (fl.ScoreVector, error) {
	scores := make(fl.ScoreVector, len(reports))
	for i, r := range reports {
		scores[i] = fl.Score{ClientID: r.ClientID}
	}

	return scores, nil
}

func TestFailedReportsExcludedWhateverTheScorer(t *testing.T) {
	t.Parallel()

	nodes := shiftNodes(0.1, 0.3)
	broken := node.NewNode("broken", &shiftUnit{err: errors.New("diverged")}, samples(10), 1)
	nodes = append(nodes, broken)

	pipeline := coordinator.DefaultPipeline()
	pipeline.Scorer = flatScorer{}
	r := memoryRepos()
	svc, err := coordinator.NewService(context.Background(), config(1), nodes, vector(t, 0, 0),
		pipeline, scheduler.NewAll(), r.rounds, r.models, logger)
	require.NoError(t, err)

	m, err := svc.RunRound(context.Background())
	require.NoError(t, err)
	s, ok := m.Scores.Get(broken.ID)
	require.True(t, ok)
	assert.True(t, s.Failed)
	assert.Equal(t, fl.FailedScore, s.Value)
	assert.False(t, m.Decision.Included(broken.ID))
	assert.Zero(t, m.Weights.Get(broken.ID))

	g, err := svc.GlobalModel(context.Background())
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.2, 0.2}, g.Parameters.Flatten(), 1e-12)
}

func failedReason(m fl.RoundMetrics, id string) string {
	for _, e := range m.Decision.Entries {
		if e.ClientID == id {
			return e.Reason
		}
	}

	return ""
}

func TestRunStopsBetweenRounds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	observe := func(round uint64, s coordinator.State) {
		if round == 2 && s == coordinator.Idle {
			cancel()
		}
	}
	svc := newService(t, config(5), shiftNodes(0.1, 0.2, 0.3), memoryRepos(), coordinator.WithObserver(observe))

	err := svc.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	page, err := svc.ListRounds(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), page.Total)
	for _, m := range page.Rounds {
		assert.Equal(t, fl.RoundCompleted, m.Status)
	}
}

type pacer struct {
	mu    sync.Mutex
	delay time.Duration
	calls int
}

func (p *pacer) Next(from time.Time) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	return from.Add(p.delay)
}

func TestRunWaitsForPacer(t *testing.T) {
	t.Parallel()

	p := &pacer{delay: 20 * time.Millisecond}
	svc := newService(t, config(2), shiftNodes(0.1, 0.2, 0.3), memoryRepos(), coordinator.WithPacer(p))

	start := time.Now()
	require.NoError(t, svc.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, 2, p.calls)
	assert.Equal(t, coordinator.Completed, svc.State(context.Background()))
}

func TestRunCancelledWhileWaiting(t *testing.T) {
	t.Parallel()

	svc := newService(t, config(2), shiftNodes(0.1, 0.2, 0.3), memoryRepos(), coordinator.WithPacer(&pacer{delay: time.Hour}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Run(ctx), context.DeadlineExceeded)

	page, err := svc.ListRounds(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestRunRoundIgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	svc := newService(t, config(1), shiftNodes(0.1, 0.2, 0.3), memoryRepos())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, err := svc.RunRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, fl.RoundCompleted, m.Status)
	assert.Zero(t, m.Excluded)
}

func TestRoundSummaryPublished(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc       string
		publishErr error
	}{
		{desc: "published"},
		{desc: "publish failure is not fatal", publishErr: errors.New("broker down")},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			pubsub := new(mqttmocks.MockPubSub)
			pubsub.On("PublishRound", mock.Anything, "fl", mock.AnythingOfType("mqtt.RoundSummary")).Return(tc.publishErr)

			svc := newService(t, config(1), shiftNodes(0.1, 0.2, 0.3, 50), memoryRepos(),
				coordinator.WithNotifier(coordinator.NewMQTTNotifier(pubsub, "fl")),
				coordinator.WithEvaluator(evaluator{metrics: fl.Metrics{Loss: 0.4, Accuracy: 0.8}}))

			m, err := svc.RunRound(context.Background())
			require.NoError(t, err)
			assert.Equal(t, fl.RoundCompleted, m.Status)

			pubsub.AssertNumberOfCalls(t, "PublishRound", 1)
			summary, ok := pubsub.Calls[0].Arguments.Get(2).(mqtt.RoundSummary)
			require.True(t, ok)
			assert.Equal(t, "run-1", summary.RunID)
			assert.Equal(t, uint64(1), summary.Round)
			assert.Equal(t, fl.RoundCompleted, summary.Status)
			assert.Equal(t, 1, summary.Excluded)
			require.NotNil(t, summary.Accuracy)
			assert.InDelta(t, 0.8, *summary.Accuracy, 0)
		})
	}
}

func TestResumeRun(t *testing.T) {
	t.Parallel()

	r := memoryRepos()
	nodes := shiftNodes(0.1, 0.2, 0.3)
	ctx := context.Background()

	first := newService(t, config(3), nodes, r)
	for range 2 {
		_, err := first.RunRound(ctx)
		require.NoError(t, err)
	}

	second := newService(t, config(3), nodes, r)
	g, err := second.GlobalModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), g.Round)
	assert.InDeltaSlice(t, []float64{0.4, 0.4}, g.Parameters.Flatten(), 1e-12)

	m, err := second.RunRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), m.Round)
	assert.Equal(t, coordinator.Completed, second.State(ctx))

	_, err = coordinator.NewService(ctx, config(3), nodes, vector(t, 0, 0, 0),
		coordinator.DefaultPipeline(), nil, r.rounds, r.models, logger)
	assert.ErrorIs(t, err, fl.ErrShapeMismatch)
}

func TestListNodes(t *testing.T) {
	t.Parallel()

	nodes := shiftNodes(0.1, 0.2, 0.3)
	svc := newService(t, config(1), nodes, memoryRepos())

	cases := []struct {
		offset, limit uint64
		want          []string
	}{
		{offset: 0, limit: 10, want: []string{"client-00", "client-01", "client-02"}},
		{offset: 1, limit: 1, want: []string{"client-01"}},
		{offset: 5, limit: 10, want: []string{}},
	}
	for _, tc := range cases {
		page, err := svc.ListNodes(context.Background(), tc.offset, tc.limit)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), page.Total)
		names := []string{}
		for _, n := range page.Nodes {
			names = append(names, n.Name)
			assert.Equal(t, 10, n.Samples)
		}
		assert.Equal(t, tc.want, names)
	}
}
