package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"material-matcher/internal/matching/model"
)

var testItems = []model.CatalogItem{
	{ID: "p1", Name: "Кабель силовой ВВГНГ-LS 3х2,5", Category: "Кабели"},
	{ID: "p2", Name: "Кабель ВВГНГ 3х1,5", Category: "Кабели"},
	{ID: "p3", Name: "Труба стальная 57х3,5", Category: "Трубы"},
	{ID: "p4", Name: "Светильник светодиодный 36 Вт", Category: "Светильники"},
	{ID: "p5", Name: "Автоматический выключатель S201 C16", Category: "Автоматы", Brand: "ABB"},
}

var testMaterials = []model.Material{
	{ID: "m1", Name: "Кабель ВВГНГ", Category: "Кабели"},
	{ID: "m2", Name: "Труба стальная 57х3,5", Category: "Трубы"},
	{ID: "m3", Name: "Светильник LED 36Вт", Category: "Светильники"},
	{ID: "m4", Name: "Автомат S201 C16", Brand: "ABB"},
	{ID: "m5", Name: "Кабель ВВГНГ 3х1,5", Category: "Кабели"},
}

// allItems отдаёт весь каталог как шорт-лист.
func allItems(context.Context, model.Material, int) ([]model.Candidate, error) {
	out := make([]model.Candidate, len(testItems))
	for i, it := range testItems {
		out[i] = model.Candidate{Item: it}
	}
	return out, nil
}

func testConfig(workers int) Config {
	cfg := DefaultConfig()
	cfg.Workers = workers
	cfg.Threshold = 20
	cfg.TopN = 3
	cfg.ResolverTimeout = time.Second
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg Config, r Resolver, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(cfg, r, opts...)
	require.NoError(t, err)
	return o
}

func TestRunBatchCompleted(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(2), ResolverFunc(allItems))

	res, err := o.RunBatch(context.Background(), testMaterials)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, res.State)
	assert.False(t, res.Partial)
	assert.Empty(t, res.Failures)
	assert.Empty(t, res.Skipped)
	require.Len(t, res.Results, len(testMaterials))

	for i, mm := range res.Results {
		assert.Equal(t, testMaterials[i].ID, mm.MaterialID)
		assert.LessOrEqual(t, len(mm.Matches), 3)
		for _, m := range mm.Matches {
			assert.GreaterOrEqual(t, m.Percentage, 20.0)
		}
	}
	require.NotEmpty(t, res.Results[0].Matches)
	assert.Equal(t, "p1", res.Results[0].Matches[0].ItemID)
	assert.Greater(t, res.Results[0].Matches[0].Percentage, 70.0)
	assert.Equal(t, "p3", res.Results[1].Matches[0].ItemID)
	assert.Equal(t, 100.0, res.Results[1].Matches[0].Percentage)

	assert.Equal(t, int64(len(testMaterials)*len(testItems)), res.Stats.PairsScored)
	assert.Equal(t, len(testMaterials), res.Stats.Materials)

	p := o.Progress()
	assert.Equal(t, model.StateCompleted, p.State)
	assert.Equal(t, len(testMaterials), p.Total)
	assert.Equal(t, len(testMaterials), p.Completed)
	assert.Zero(t, p.Failed)
}

func TestRunBatchDeterministicAcrossWorkers(t *testing.T) {
	seq, err := newTestOrchestrator(t, testConfig(1), ResolverFunc(allItems)).RunBatch(context.Background(), testMaterials)
	require.NoError(t, err)
	par, err := newTestOrchestrator(t, testConfig(8), ResolverFunc(allItems)).RunBatch(context.Background(), testMaterials)
	require.NoError(t, err)
	assert.Equal(t, seq.Results, par.Results)
}

func TestRunBatchSecondRunHitsCache(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(4), ResolverFunc(allItems))
	first, err := o.RunBatch(context.Background(), testMaterials)
	require.NoError(t, err)
	assert.Zero(t, first.Stats.CacheHits)

	second, err := o.RunBatch(context.Background(), testMaterials)
	require.NoError(t, err)
	assert.Equal(t, second.Stats.PairsScored, second.Stats.CacheHits)
	assert.Zero(t, second.Stats.CacheMisses)
	assert.Equal(t, 100.0, second.Stats.HitRate())
	assert.Equal(t, first.Results, second.Results)
}

func TestRunBatchResolverTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	r := ResolverFunc(func(ctx context.Context, m model.Material, n int) ([]model.Candidate, error) {
		if m.ID == "m3" {
			<-release // поиск завис и ctx не слушает
		}
		return allItems(ctx, m, n)
	})
	cfg := testConfig(2)
	cfg.ResolverTimeout = 50 * time.Millisecond
	o := newTestOrchestrator(t, cfg, r)

	res, err := o.RunBatch(context.Background(), testMaterials)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, res.State)
	assert.False(t, res.Partial)
	require.Len(t, res.Results, 5)
	require.Len(t, res.Failures, 1)

	f := res.Failures[0]
	assert.Equal(t, "m3", f.MaterialID)
	assert.Equal(t, model.ResolverFailure, f.Kind)
	assert.ErrorIs(t, f, model.ErrResolver)
	assert.ErrorIs(t, f, context.DeadlineExceeded)

	assert.True(t, res.Results[2].Failed)
	assert.Empty(t, res.Results[2].Matches)
	for i, mm := range res.Results {
		if i != 2 {
			assert.False(t, mm.Failed, mm.MaterialID)
		}
	}
	assert.Equal(t, 1, o.Progress().Failed)
}

func TestRunBatchResolverErrorAndPanic(t *testing.T) {
	errSearch := errors.New("search unavailable")
	r := ResolverFunc(func(ctx context.Context, m model.Material, n int) ([]model.Candidate, error) {
		switch m.ID {
		case "m1":
			return nil, errSearch
		case "m2":
			panic("index corrupted")
		}
		return allItems(ctx, m, n)
	})
	res, err := newTestOrchestrator(t, testConfig(3), r).RunBatch(context.Background(), testMaterials)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, res.State)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, "m1", res.Failures[0].MaterialID)
	assert.ErrorIs(t, res.Failures[0], errSearch)
	assert.Equal(t, "m2", res.Failures[1].MaterialID)
	assert.ErrorIs(t, res.Failures[1], model.ErrResolver)
	assert.NotEmpty(t, res.Results[2].Matches)
}

func TestRunBatchCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := ResolverFunc(func(c context.Context, m model.Material, n int) ([]model.Candidate, error) {
		if m.ID == "m1" {
			cancel()
		}
		return allItems(c, m, n)
	})
	o := newTestOrchestrator(t, testConfig(1), r)

	res, err := o.RunBatch(ctx, testMaterials)
	require.NoError(t, err)
	assert.Equal(t, model.StateAborted, res.State)
	assert.True(t, res.Partial)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "m1", res.Results[0].MaterialID)
	assert.NotEmpty(t, res.Results[0].Matches, "started material finishes despite cancel")
	assert.Equal(t, model.StateAborted, o.Progress().State)
}

func TestRunBatchAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newTestOrchestrator(t, testConfig(4), ResolverFunc(allItems)).RunBatch(ctx, testMaterials)
	require.NoError(t, err)
	assert.Equal(t, model.StateAborted, res.State)
	assert.True(t, res.Partial)
	assert.Empty(t, res.Results)
}

func TestRunBatchSkipsMalformed(t *testing.T) {
	in := []model.Material{
		{ID: "m1", Name: "Кабель ВВГНГ"},
		{ID: "", Name: "без id"},
		{ID: "m1", Name: "повтор"},
		{ID: "m2", Name: "Труба стальная"},
	}
	res, err := newTestOrchestrator(t, testConfig(2), ResolverFunc(allItems)).RunBatch(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, 1, res.Skipped[0].Index)
	assert.Equal(t, 2, res.Skipped[1].Index)
	assert.Contains(t, res.Skipped[1].Reason, "duplicate")
	require.Len(t, res.Results, 2)
	assert.Equal(t, "m1", res.Results[0].MaterialID)
	assert.Equal(t, "m2", res.Results[1].MaterialID)
}

func TestRunBatchEmpty(t *testing.T) {
	res, err := newTestOrchestrator(t, testConfig(2), ResolverFunc(allItems)).RunBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, res.State)
	assert.NotNil(t, res.Results)
	assert.Empty(t, res.Results)
}

func TestRunBatchBusy(t *testing.T) {
	release := make(chan struct{})
	r := ResolverFunc(func(ctx context.Context, m model.Material, n int) ([]model.Candidate, error) {
		<-release
		return allItems(ctx, m, n)
	})
	o := newTestOrchestrator(t, testConfig(1), r)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.RunBatch(context.Background(), testMaterials[:1])
	}()
	require.Eventually(t, func() bool { return o.Progress().State == model.StateRunning }, time.Second, time.Millisecond)

	_, err := o.RunBatch(context.Background(), testMaterials)
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	<-done
	assert.Equal(t, model.StateCompleted, o.Progress().State)
}

type countingRecorder struct {
	mu       sync.Mutex
	statuses map[string]int
	batches  []model.BatchState
}

func (r *countingRecorder) MaterialDone(status string, _, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statuses == nil {
		r.statuses = map[string]int{}
	}
	r.statuses[status]++
}

func (r *countingRecorder) BatchDone(state model.BatchState, _ model.BatchStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, state)
}

func TestRunBatchRecorder(t *testing.T) {
	rec := &countingRecorder{}
	r := ResolverFunc(func(ctx context.Context, m model.Material, n int) ([]model.Candidate, error) {
		if m.ID == "m4" {
			return nil, fmt.Errorf("no index")
		}
		if m.ID == "m5" {
			return nil, nil
		}
		return allItems(ctx, m, n)
	})
	_, err := newTestOrchestrator(t, testConfig(2), r, WithRecorder(rec)).RunBatch(context.Background(), testMaterials)
	require.NoError(t, err)

	assert.Equal(t, 3, rec.statuses["matched"])
	assert.Equal(t, 1, rec.statuses["resolver_error"])
	assert.Equal(t, 1, rec.statuses["no_match"])
	assert.Equal(t, []model.BatchState{model.StateCompleted}, rec.batches)
}

func TestRunBatchMatchSummary(t *testing.T) {
	r := ResolverFunc(func(ctx context.Context, m model.Material, n int) ([]model.Candidate, error) {
		switch m.ID {
		case "m4":
			return nil, fmt.Errorf("no index")
		case "m5":
			return nil, nil
		}
		return allItems(ctx, m, n)
	})
	res, err := newTestOrchestrator(t, testConfig(2), r).RunBatch(context.Background(), testMaterials)
	require.NoError(t, err)

	st := res.Stats
	assert.Equal(t, 5, st.Materials)
	assert.Equal(t, 3, st.WithMatches)
	assert.Equal(t, 2, st.WithoutMatches)
	assert.InDelta(t, 60, st.MatchRate, 1e-9)

	total, sum := 0, 0.0
	lo, hi := 100.0, 0.0
	for _, mm := range res.Results {
		for _, m := range mm.Matches {
			total++
			sum += m.Percentage
			lo, hi = min(lo, m.Percentage), max(hi, m.Percentage)
		}
	}
	require.Positive(t, total)
	assert.Equal(t, total, st.TotalMatches)
	assert.InDelta(t, float64(total)/5, st.AvgMatches, 1e-9)
	assert.InDelta(t, sum/float64(total), st.AvgSimilarity, 1e-9)
	assert.Equal(t, lo, st.MinSimilarity)
	assert.Equal(t, hi, st.MaxSimilarity)
	assert.Equal(t, 100.0, st.MaxSimilarity)
}

func TestNewOrchestratorInvalidConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"workers":           func(c *Config) { c.Workers = 0 },
		"threshold":         func(c *Config) { c.Threshold = 101 },
		"top_n":             func(c *Config) { c.TopN = -1 },
		"max_candidates":    func(c *Config) { c.MaxCandidates = -5 },
		"weights":           func(c *Config) { c.Weights = Weights{} },
		"numeric_penalty":   func(c *Config) { c.NumericPenalty = 1.5 },
		"spec_acceptance":   func(c *Config) { c.SpecAcceptance = -0.1 },
		"score_parallelism": func(c *Config) { c.ScoreParallelism = 0 },
		"resolver_timeout":  func(c *Config) { c.ResolverTimeout = -time.Second },
		"cache_capacity":    func(c *Config) { c.CacheCapacity = 0 },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := NewOrchestrator(cfg, ResolverFunc(allItems))
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
			var ce *model.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, field, ce.Field)
		})
	}

	_, err := NewOrchestrator(DefaultConfig(), nil)
	assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
}

func TestRunBatchRateLimited(t *testing.T) {
	cfg := testConfig(4)
	cfg.ResolverRPS = 1000
	res, err := newTestOrchestrator(t, cfg, ResolverFunc(allItems)).RunBatch(context.Background(), testMaterials)
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Len(t, res.Results, len(testMaterials))
}
