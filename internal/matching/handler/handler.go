package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"material-matcher/internal/fileio"
	"material-matcher/internal/matching/cache"
	"material-matcher/internal/matching/catalog"
	"material-matcher/internal/matching/model"
	"material-matcher/internal/matching/service"
	"material-matcher/internal/metrics"
	"material-matcher/internal/middleware"
)

// Handler — HTTP-обвязка над оркестратором. На каждый запуск создаётся
// свой оркестратор; кэш оценок общий для всех запусков.
type Handler struct {
	cfg       service.Config
	cache     *cache.ScoreCache
	runs      *Registry
	recorder  service.Recorder
	logger    zerolog.Logger
	maxUpload int64
	base      context.Context
}

type Option func(*Handler)

func WithRecorder(r service.Recorder) Option { return func(h *Handler) { h.recorder = r } }

// WithBaseContext — контекст жизни сервера; его отмена прерывает все запуски.
func WithBaseContext(ctx context.Context) Option { return func(h *Handler) { h.base = ctx } }

func WithMaxUpload(n int64) Option { return func(h *Handler) { h.maxUpload = n } }

func New(cfg service.Config, c *cache.ScoreCache, runs *Registry, logger zerolog.Logger, opts ...Option) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Handler{
		cfg:       cfg,
		cache:     c,
		runs:      runs,
		recorder:  metrics.Recorder{},
		logger:    logger,
		maxUpload: 256 << 20,
		base:      context.Background(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) reqLogger(r *http.Request) zerolog.Logger {
	if rid := middleware.GetRequestID(r); rid != "" {
		return h.logger.With().Str("rid", rid).Logger()
	}
	return h.logger
}

// Match — POST /match, multipart: materials, pricelist.
// Поля формы переопределяют настройки запуска; wait=true ждёт результата.
func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	log := h.reqLogger(r)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "bad multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	mm := DefaultMaterialMapping()
	mm.HeaderRow = atoi(r.FormValue("materials_header_row"), 1)
	if v := r.FormValue("materials_name"); v != "" {
		mm.NameKey = v
	}
	mm.SpecKeys = splitList(r.FormValue("materials_specs"))

	cm := DefaultCatalogMapping()
	cm.HeaderRow = atoi(r.FormValue("pricelist_header_row"), 1)
	if v := r.FormValue("pricelist_name"); v != "" {
		cm.NameKey = v
	}
	if v := r.FormValue("pricelist_price"); v != "" {
		cm.PriceKey = v
	}
	cm.SpecKeys = splitList(r.FormValue("pricelist_specs"))

	materials, mSkipped, err := readUpload(r, "materials", mm, LoadMaterials)
	if err != nil {
		writeError(w, http.StatusBadRequest, "materials: "+err.Error())
		return
	}
	items, iSkipped, err := readUpload(r, "pricelist", cm, LoadCatalog)
	if err != nil {
		writeError(w, http.StatusBadRequest, "pricelist: "+err.Error())
		return
	}

	cfg := h.cfg
	cfg.Threshold = toFloat(r.FormValue("threshold"), cfg.Threshold)
	cfg.TopN = atoi(r.FormValue("top_n"), cfg.TopN)
	cfg.MaxCandidates = atoi(r.FormValue("max_candidates"), cfg.MaxCandidates)
	if v := r.FormValue("weights"); v != "" {
		wts, err := service.ParseWeights(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg.Weights = wts
	}

	id := uuid.NewString()
	runLog := log.With().Str("run_id", id).Logger()
	orch, err := service.NewOrchestrator(cfg, catalog.New(items),
		service.WithCache(h.cache),
		service.WithRecorder(h.recorder),
		service.WithLogger(runLog),
	)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, model.ErrInvalidConfiguration) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	run := newRun(id, orch, materials)
	run.Skipped = mSkipped
	run.PricelistSkipped = iSkipped
	run.CatalogN = len(items)
	metrics.RunsInFlight.Inc()
	run.start(h.base, runLog, metrics.RunsInFlight.Dec)
	h.runs.Add(run)

	runLog.Info().
		Int("materials", len(materials)).
		Int("items", len(items)).
		Int("load_skipped", len(mSkipped)).
		Int("pricelist_skipped", len(iSkipped)).
		Msg("run started")

	if toBool(r.FormValue("wait")) {
		select {
		case <-run.Done():
			writeJSON(w, http.StatusOK, run.Status())
		case <-r.Context().Done():
			// клиент ушёл, запуск продолжается и доступен по id
		}
		return
	}
	w.Header().Set("Location", "/runs/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": id, "status": "/runs/" + id})
}

// GetRun — GET /runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.runs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run.Status())
}

// CancelRun — DELETE /runs/{id}: новые материалы не стартуют,
// начатые доделываются, результат помечается partial.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.runs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	run.Cancel()
	log := h.reqLogger(r)
	log.Info().Str("run_id", run.ID).Msg("run cancel requested")
	writeJSON(w, http.StatusAccepted, run.Status())
}

// Export — GET /runs/{id}/export?format=xlsx|csv.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	run, ok := h.runs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	res, err := run.Result()
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if res == nil {
		writeError(w, http.StatusConflict, "run is still in progress")
		return
	}

	rows := ExportRows(run.Materials, res)
	format := strings.ToLower(r.URL.Query().Get("format"))
	name := "matches-" + run.ID
	switch format {
	case "", "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, name))
		err = fileio.WriteXLSX(w, rows)
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, name))
		err = fileio.WriteCSV(w, rows)
	default:
		writeError(w, http.StatusBadRequest, "unknown format "+format)
		return
	}
	if err != nil {
		log := h.reqLogger(r)
		log.Error().Err(err).Str("run_id", run.ID).Msg("export")
	}
}

// ExportRows разворачивает результат в строки отчёта в порядке материалов.
func ExportRows(materials []model.Material, res *model.BatchResult) []fileio.ExportRow {
	names := make(map[string]string, len(materials))
	for _, m := range materials {
		names[m.ID] = m.Name
	}
	failed := make(map[string]string, len(res.Failures))
	for _, f := range res.Failures {
		failed[f.MaterialID] = f.Error()
	}

	rows := make([]fileio.ExportRow, 0, len(res.Results))
	for _, mm := range res.Results {
		if len(mm.Matches) == 0 {
			note := "нет совпадений"
			if mm.Failed {
				note = failed[mm.MaterialID]
			}
			rows = append(rows, fileio.ExportRow{MaterialID: mm.MaterialID, MaterialName: names[mm.MaterialID], Note: note})
			continue
		}
		for i, m := range mm.Matches {
			row := fileio.ExportRow{
				MaterialID:   mm.MaterialID,
				MaterialName: names[mm.MaterialID],
				Rank:         i + 1,
				ItemID:       m.ItemID,
				Percentage:   m.Percentage,
				Relevance:    m.Relevance,
			}
			if it := m.Item; it != nil {
				row.ItemName = it.Name
				row.Supplier = it.Supplier
				row.Article = it.Article
				row.Unit = it.Unit
				row.Price = it.Price
				row.Currency = it.Currency
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func readUpload[T any](r *http.Request, field string, m model.Mapping,
	load func(*fileio.Table, model.Mapping) ([]T, []model.Skip, error)) ([]T, []model.Skip, error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, nil, fmt.Errorf("missing file: %w", err)
	}
	defer func(f multipart.File) { _ = f.Close() }(f)

	t, err := fileio.ReadTable(f, hdr.Filename, m.HeaderRow)
	if err != nil {
		return nil, nil, err
	}
	return load(t, m)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func toBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown отменяет все незавершённые запуски и ждёт их до истечения ctx.
func (h *Handler) Shutdown(ctx context.Context) {
	h.runs.CancelAll()
	for _, run := range h.runs.All() {
		select {
		case <-run.Done():
		case <-ctx.Done():
			return
		}
	}
}
