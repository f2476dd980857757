package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"material-matcher/internal/matching/cache"
	"material-matcher/internal/matching/model"
)

// Resolver — внешний поиск кандидатов (полнотекстовый индекс и т.п.).
// Может блокироваться; любая ошибка считается сбоем для этого материала.
type Resolver interface {
	Resolve(ctx context.Context, m model.Material, maxCandidates int) ([]model.Candidate, error)
}

type ResolverFunc func(ctx context.Context, m model.Material, maxCandidates int) ([]model.Candidate, error)

func (f ResolverFunc) Resolve(ctx context.Context, m model.Material, maxCandidates int) ([]model.Candidate, error) {
	return f(ctx, m, maxCandidates)
}

// Recorder получает события для метрик. Вызывается из воркеров конкурентно.
type Recorder interface {
	MaterialDone(status string, scored, cacheHits int, dur time.Duration)
	BatchDone(state model.BatchState, stats model.BatchStats)
}

// ErrBusy — у оркестратора уже идёт пакет.
var ErrBusy = errors.New("batch already running")

type Orchestrator struct {
	cfg      Config
	resolver Resolver
	scorer   *Scorer
	planner  *Planner
	limiter  *rate.Limiter
	logger   zerolog.Logger
	recorder Recorder
	cache    *cache.ScoreCache

	running   atomic.Bool
	state     atomic.Uint32
	total     atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

type Option func(*Orchestrator)

func WithLogger(l zerolog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

// WithCache — общий кэш между оркестраторами (например, между запусками).
// Настройки сравнения входят в отпечаток, так что разные конфигурации не смешиваются.
func WithCache(c *cache.ScoreCache) Option { return func(o *Orchestrator) { o.cache = c } }

// NewOrchestrator проверяет конфигурацию до начала любой работы.
func NewOrchestrator(cfg Config, resolver Resolver, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		return nil, model.InvalidConfig("resolver", "is required")
	}
	o := &Orchestrator{cfg: cfg, resolver: resolver, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.cache == nil {
		c, err := cache.New(cache.Config{Capacity: cfg.CacheCapacity, TTL: cfg.CacheTTL})
		if err != nil {
			return nil, err
		}
		o.cache = c
	}
	cmp := NewFuzzyComparator(CompareOptions{SpecAcceptance: cfg.SpecAcceptance, NumericPenalty: cfg.NumericPenalty})
	o.scorer = NewScorer(cfg.Weights, cmp, o.cache)
	o.planner = NewPlanner(o.scorer, cfg.ScoreParallelism)
	if cfg.ResolverRPS > 0 {
		burst := int(cfg.ResolverRPS)
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(cfg.ResolverRPS), burst)
	}
	return o, nil
}

// Progress — снимок для чтения из другой горутины во время пакета.
func (o *Orchestrator) Progress() model.Progress {
	return model.Progress{
		State:     model.BatchState(o.state.Load()),
		Total:     int(o.total.Load()),
		Completed: int(o.completed.Load()),
		Failed:    int(o.failed.Load()),
	}
}

// slot — результат одного материала, пишется только своим воркером.
type slot struct {
	matches []model.MatchResult
	failure *model.Failure
	scored  int
	hits    int
	done    bool
}

// RunBatch сопоставляет материалы. Ошибка возвращается только на этапе
// подготовки (ErrBusy); сбои отдельных материалов лежат в BatchResult.Failures.
// Отмена ctx проверяется между материалами: уже запущенные доделываются,
// новые не стартуют, результат помечается Partial.
func (o *Orchestrator) RunBatch(ctx context.Context, materials []model.Material) (*model.BatchResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer o.running.Store(false)

	start := time.Now()
	valid, skipped := validateMaterials(materials)
	for _, s := range skipped {
		o.logger.Warn().Int("index", s.Index).Str("reason", s.Reason).Msg("material skipped")
	}

	o.total.Store(int64(len(valid)))
	o.completed.Store(0)
	o.failed.Store(0)
	o.state.Store(uint32(model.StateRunning))

	o.logger.Info().
		Int("materials", len(valid)).
		Int("skipped", len(skipped)).
		Int("workers", o.cfg.Workers).
		Float64("threshold", o.cfg.Threshold).
		Msg("batch started")

	slots := make([]slot, len(valid))
	sem := semaphore.NewWeighted(int64(o.cfg.Workers))
	// уже запущенные задачи не прерываются отменой пакета
	taskCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	aborted := false
	for i := range valid {
		if err := sem.Acquire(ctx, 1); err != nil {
			aborted = true
			break
		}
		if ctx.Err() != nil {
			sem.Release(1)
			aborted = true
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			slots[i] = o.process(taskCtx, valid[i])
			o.reportProgress(start)
			return nil
		})
	}
	_ = g.Wait()

	res := &model.BatchResult{
		State:    model.StateCompleted,
		Partial:  aborted,
		Results:  make([]model.MaterialMatches, 0, len(valid)),
		Failures: []model.Failure{},
		Skipped:  skipped,
	}
	if aborted {
		res.State = model.StateAborted
	}
	// сборка по позиции во входе, а не по порядку завершения
	for i, s := range slots {
		if !s.done {
			continue
		}
		mm := model.MaterialMatches{MaterialID: valid[i].ID, Matches: s.matches}
		if s.failure != nil {
			mm.Failed = true
			mm.Matches = []model.MatchResult{}
			res.Failures = append(res.Failures, *s.failure)
		}
		res.Results = append(res.Results, mm)
		res.Stats.PairsScored += int64(s.scored)
		res.Stats.CacheHits += int64(s.hits)
	}
	res.Stats.Summarize(res.Results)
	res.Stats.CacheMisses = res.Stats.PairsScored - res.Stats.CacheHits
	res.Stats.Elapsed = time.Since(start)
	o.state.Store(uint32(res.State))

	if o.recorder != nil {
		o.recorder.BatchDone(res.State, res.Stats)
	}
	cs := o.cache.Stats()
	o.logger.Info().
		Str("state", res.State.String()).
		Int("materials", res.Stats.Materials).
		Int("failures", len(res.Failures)).
		Int("with_matches", res.Stats.WithMatches).
		Float64("match_rate", res.Stats.MatchRate).
		Int("matches", res.Stats.TotalMatches).
		Float64("avg_similarity", res.Stats.AvgSimilarity).
		Int64("pairs", res.Stats.PairsScored).
		Int64("cache_hits", res.Stats.CacheHits).
		Int64("cache_misses", res.Stats.CacheMisses).
		Float64("hit_rate", res.Stats.HitRate()).
		Int("cache_size", cs.Size).
		Dur("elapsed", res.Stats.Elapsed).
		Msg("batch finished")
	return res, nil
}

func (o *Orchestrator) process(ctx context.Context, m model.Material) slot {
	start := time.Now()
	s := slot{done: true}

	cands, err := o.resolve(ctx, m)
	if err != nil {
		s.failure = &model.Failure{MaterialID: m.ID, Kind: model.ResolverFailure, Err: err}
		o.finish(m, s, "resolver_error", start)
		return s
	}

	matches, st, err := o.planner.plan(m, cands, o.cfg.Threshold, o.cfg.TopN)
	s.scored, s.hits = st.scored, st.hits
	if err != nil {
		s.failure = &model.Failure{MaterialID: m.ID, Kind: model.ComparatorFailure, Err: err}
		o.finish(m, s, "comparator_error", start)
		return s
	}
	s.matches = matches
	status := "matched"
	if len(matches) == 0 {
		status = "no_match"
	}
	o.finish(m, s, status, start)
	return s
}

func (o *Orchestrator) finish(m model.Material, s slot, status string, start time.Time) {
	dur := time.Since(start)
	if s.failure != nil {
		o.failed.Add(1)
		o.logger.Warn().Err(s.failure.Err).Str("material", m.ID).Str("kind", s.failure.Kind.String()).Msg("material failed")
	} else {
		o.logger.Debug().Str("material", m.ID).Int("candidates", s.scored).Int("matches", len(s.matches)).Dur("dur", dur).Msg("material done")
	}
	if o.recorder != nil {
		o.recorder.MaterialDone(status, s.scored, s.hits, dur)
	}
}

// resolve оборачивает вызов поиска таймаутом. Ответ ждём через канал:
// таймаут срабатывает, даже если реализация не смотрит на ctx.
func (o *Orchestrator) resolve(ctx context.Context, m model.Material) ([]model.Candidate, error) {
	if o.cfg.ResolverTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ResolverTimeout)
		defer cancel()
	}
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit: %w", model.ErrResolver, err)
		}
	}

	type answer struct {
		cands []model.Candidate
		err   error
	}
	ch := make(chan answer, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- answer{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		c, err := o.resolver.Resolve(ctx, m, o.cfg.MaxCandidates)
		ch <- answer{c, err}
	}()

	select {
	case a := <-ch:
		if a.err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrResolver, a.err)
		}
		return a.cands, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", model.ErrResolver, ctx.Err())
	}
}

// Прогресс в лог каждые 10%.
func (o *Orchestrator) reportProgress(start time.Time) {
	done := o.completed.Add(1)
	total := o.total.Load()
	step := total / 10
	if step < 1 {
		step = 1
	}
	if done%step != 0 && done != total {
		return
	}
	elapsed := time.Since(start)
	perSec := float64(done) / elapsed.Seconds()
	eta := time.Duration(0)
	if perSec > 0 {
		eta = time.Duration(float64(total-done) / perSec * float64(time.Second))
	}
	o.logger.Info().
		Int64("completed", done).
		Int64("total", total).
		Float64("pct", float64(done)/float64(total)*100).
		Float64("rate", perSec).
		Dur("eta", eta).
		Msg("batch progress")
}

// validateMaterials отбрасывает записи без id и повторы id.
func validateMaterials(ms []model.Material) ([]model.Material, []model.Skip) {
	valid := make([]model.Material, 0, len(ms))
	skipped := []model.Skip{}
	seen := make(map[string]struct{}, len(ms))
	for i, m := range ms {
		if strings.TrimSpace(m.ID) == "" {
			skipped = append(skipped, model.Skip{Index: i, Reason: model.ErrMalformedRecord.Error() + ": missing identifier"})
			continue
		}
		if _, ok := seen[m.ID]; ok {
			skipped = append(skipped, model.Skip{Index: i, Reason: model.ErrMalformedRecord.Error() + ": duplicate identifier " + m.ID})
			continue
		}
		seen[m.ID] = struct{}{}
		valid = append(valid, m)
	}
	return valid, skipped
}
