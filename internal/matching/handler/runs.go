package handler

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"material-matcher/internal/matching/model"
	"material-matcher/internal/matching/service"
)

// Run — один запуск сопоставления, начатый через HTTP.
type Run struct {
	ID        string
	Created   time.Time
	Materials []model.Material
	Skipped   []model.Skip // строки материалов, отброшенные при загрузке
	CatalogN  int

	PricelistSkipped []model.Skip // то же для прайс-листа

	orch   *service.Orchestrator
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	result   *model.BatchResult
	err      error
	finished time.Time
}

func newRun(id string, orch *service.Orchestrator, materials []model.Material) *Run {
	return &Run{
		ID:        id,
		Created:   time.Now(),
		Materials: materials,
		orch:      orch,
		done:      make(chan struct{}),
	}
}

// start запускает пакет в фоне; ctx ограничивает весь запуск.
func (r *Run) start(ctx context.Context, logger zerolog.Logger, onDone func()) {
	ctx, r.cancel = context.WithCancel(ctx)
	go func() {
		defer close(r.done)
		defer r.cancel()
		if onDone != nil {
			defer onDone()
		}
		res, err := r.orch.RunBatch(ctx, r.Materials)
		r.mu.Lock()
		r.result, r.err, r.finished = res, err, time.Now()
		r.mu.Unlock()
		if err != nil {
			logger.Error().Err(err).Str("run_id", r.ID).Msg("run failed")
		}
	}()
}

func (r *Run) Cancel() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Done закрывается, когда пакет завершён (в том числе прерванный).
func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) Result() (*model.BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// RunStatus — ответ GET /runs/{id}.
type RunStatus struct {
	ID       string             `json:"runId"`
	Created  time.Time          `json:"created"`
	Finished *time.Time         `json:"finished,omitempty"`
	Progress model.Progress     `json:"progress"`
	Catalog  int                `json:"catalogItems"`
	Skipped  []model.Skip       `json:"loadSkipped"`
	PLSkip   []model.Skip       `json:"pricelistSkipped"`
	Result   *model.BatchResult `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
}

func (r *Run) Status() RunStatus {
	st := RunStatus{
		ID:       r.ID,
		Created:  r.Created,
		Progress: r.orch.Progress(),
		Catalog:  r.CatalogN,
		Skipped:  r.Skipped,
		PLSkip:   r.PricelistSkipped,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.finished.IsZero() {
		f := r.finished
		st.Finished = &f
	}
	st.Result = r.result
	if r.err != nil {
		st.Error = r.err.Error()
	}
	return st
}

// Registry хранит последние запуски; вытесненный из LRU запуск отменяется.
type Registry struct {
	runs *lru.Cache[string, *Run]
}

func NewRegistry(capacity int) (*Registry, error) {
	if capacity < 1 {
		return nil, model.InvalidConfig("runs_capacity", "must be at least 1, got %d", capacity)
	}
	c, err := lru.NewWithEvict(capacity, func(_ string, r *Run) { r.Cancel() })
	if err != nil {
		return nil, err
	}
	return &Registry{runs: c}, nil
}

func (g *Registry) Add(r *Run) { g.runs.Add(r.ID, r) }

func (g *Registry) Get(id string) (*Run, bool) { return g.runs.Get(id) }

func (g *Registry) Len() int { return g.runs.Len() }

// All — запуски от старых к новым, без влияния на порядок вытеснения.
func (g *Registry) All() []*Run {
	return g.runs.Values()
}

// CancelAll — при остановке сервера.
func (g *Registry) CancelAll() {
	for _, r := range g.All() {
		r.Cancel()
	}
}
