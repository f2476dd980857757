package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	excelize "github.com/xuri/excelize/v2"

	"material-matcher/internal/matching/cache"
	"material-matcher/internal/matching/model"
	"material-matcher/internal/matching/service"
)

const httpMaterials = `Наименование;Количество
Кабель ВВГнг-LS 3х2,5;150
Лампа накаливания 60Вт;40
`

const httpCatalog = `Код товара;Наименование;Производитель;Цена
c1;Кабель ВВГнг-LS 3х2,5;;85,40
c2;Кабель ВВГнг-LS 3х1,5;;61,10
l1;Лампа накаливания 60Вт;;45 руб.
l2;Лампа светодиодная 9Вт;;120 руб.
`

type noopRecorder struct{}

func (noopRecorder) MaterialDone(string, int, int, time.Duration) {}
func (noopRecorder) BatchDone(model.BatchState, model.BatchStats) {}

func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	cfg := service.DefaultConfig()
	cfg.Workers = 2

	c, err := cache.New(cache.Config{Capacity: 1024})
	require.NoError(t, err)
	runs, err := NewRegistry(8)
	require.NoError(t, err)
	h, err := New(cfg, c, runs, zerolog.Nop(), WithRecorder(noopRecorder{}))
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Post("/match", h.Match)
	r.Route("/runs/{id}", func(r chi.Router) {
		r.Get("/", h.GetRun)
		r.Delete("/", h.CancelRun)
		r.Get("/export", h.Export)
	})
	return h, r
}

func matchRequest(t *testing.T, files map[string]string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		fw, err := mw.CreateFormFile(name, name+".csv")
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/match", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func bothFiles() map[string]string {
	return map[string]string{"materials": httpMaterials, "pricelist": httpCatalog}
}

// runStatus — ответ GET /runs/{id} в том виде, в каком его видит клиент.
type runStatus struct {
	ID       string     `json:"runId"`
	Finished *time.Time `json:"finished"`
	Catalog  int        `json:"catalogItems"`
	Skipped  []struct {
		Reason string `json:"reason"`
	} `json:"loadSkipped"`
	PricelistSkipped []struct {
		Reason string `json:"reason"`
	} `json:"pricelistSkipped"`
	Result   *struct {
		State   string `json:"state"`
		Partial bool   `json:"partial"`
		Results []struct {
			MaterialID string `json:"materialId"`
			Matches    []struct {
				ItemID     string  `json:"itemId"`
				Percentage float64 `json:"percentage"`
			} `json:"matches"`
		} `json:"results"`
	} `json:"result"`
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) runStatus {
	t.Helper()
	var st runStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st), rec.Body.String())
	return st
}

func TestMatchWait(t *testing.T) {
	_, srv := newTestHandler(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, matchRequest(t, bothFiles(), map[string]string{"wait": "true", "top_n": "1"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	st := decodeStatus(t, rec)
	assert.NotEmpty(t, st.ID)
	assert.NotNil(t, st.Finished)
	assert.Equal(t, 4, st.Catalog)
	require.NotNil(t, st.Result)
	assert.Equal(t, "completed", st.Result.State)
	assert.False(t, st.Result.Partial)

	require.Len(t, st.Result.Results, 2)
	assert.Equal(t, "row-2", st.Result.Results[0].MaterialID)
	require.Len(t, st.Result.Results[0].Matches, 1)
	assert.Equal(t, "c1", st.Result.Results[0].Matches[0].ItemID)
	require.Len(t, st.Result.Results[1].Matches, 1)
	assert.Equal(t, "l1", st.Result.Results[1].Matches[0].ItemID)
}

func TestMatchReportsLoadSkips(t *testing.T) {
	_, srv := newTestHandler(t)

	files := map[string]string{
		"materials": httpMaterials + ";25\n",
		"pricelist": httpCatalog + "c1;Кабель ВВГнг-LS 3х4;;99,00\n",
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, matchRequest(t, files, map[string]string{"wait": "true"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	st := decodeStatus(t, rec)
	assert.Equal(t, 4, st.Catalog)
	require.Len(t, st.Skipped, 1)
	assert.Contains(t, st.Skipped[0].Reason, "empty name")
	require.Len(t, st.PricelistSkipped, 1)
	assert.Contains(t, st.PricelistSkipped[0].Reason, "duplicate id c1")

	require.NotNil(t, st.Result)
	assert.Len(t, st.Result.Results, 2)
}

func TestMatchAsyncAndExport(t *testing.T) {
	h, srv := newTestHandler(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, matchRequest(t, bothFiles(), nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	id := accepted["runId"]
	require.NotEmpty(t, id)
	assert.Equal(t, "/runs/"+id, rec.Header().Get("Location"))

	run, ok := h.runs.Get(id)
	require.True(t, ok)
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeStatus(t, rec)
	require.NotNil(t, st.Result)
	assert.Equal(t, "completed", st.Result.State)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+id+"/export?format=csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "matches-"+id+".csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\xEF\xBB\xBF"))
	assert.Contains(t, rec.Body.String(), "Кабель ВВГнг-LS 3х2,5")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+id+"/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	assert.Greater(t, len(rows), 2)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+id+"/export?format=pdf", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/runs/"+id, nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRunNotFound(t *testing.T) {
	_, srv := newTestHandler(t)
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/runs/nope", nil),
		httptest.NewRequest(http.MethodDelete, "/runs/nope", nil),
		httptest.NewRequest(http.MethodGet, "/runs/nope/export", nil),
	} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, req.Method+" "+req.URL.Path)
	}
}

func TestMatchBadRequest(t *testing.T) {
	tests := []struct {
		name   string
		files  map[string]string
		fields map[string]string
		want   string
	}{
		{"no pricelist", map[string]string{"materials": httpMaterials}, nil, "pricelist"},
		{"no materials", map[string]string{"pricelist": httpCatalog}, nil, "materials"},
		{"threshold", bothFiles(), map[string]string{"threshold": "150"}, "threshold"},
		{"weights", bothFiles(), map[string]string{"weights": "colour=1"}, "colour"},
		{"no name column", map[string]string{"materials": "Код;Цена\n1;2\n", "pricelist": httpCatalog}, nil, "malformed record"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, srv := newTestHandler(t)
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, matchRequest(t, tt.files, tt.fields))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Zero(t, h.runs.Len())
		})
	}
}

func TestExportRows(t *testing.T) {
	materials := []model.Material{{ID: "m1", Name: "Кабель"}, {ID: "m2", Name: "Лампа"}, {ID: "m3", Name: "Труба"}}
	price := 10.0
	res := &model.BatchResult{
		Results: []model.MaterialMatches{
			{MaterialID: "m1", Matches: []model.MatchResult{
				{ItemID: "c1", Percentage: 90, Item: &model.CatalogItem{ID: "c1", Name: "Кабель ВВГ", Price: &price, Currency: "RUB"}},
				{ItemID: "c2", Percentage: 70},
			}},
			{MaterialID: "m2", Matches: []model.MatchResult{}},
			{MaterialID: "m3", Matches: []model.MatchResult{}, Failed: true},
		},
		Failures: []model.Failure{{MaterialID: "m3", Kind: model.ResolverFailure, Err: model.ErrResolver}},
	}

	rows := ExportRows(materials, res)
	require.Len(t, rows, 4)
	assert.Equal(t, 1, rows[0].Rank)
	assert.Equal(t, "Кабель ВВГ", rows[0].ItemName)
	assert.Equal(t, &price, rows[0].Price)
	assert.Equal(t, 2, rows[1].Rank)
	assert.Equal(t, "Кабель", rows[1].MaterialName)
	assert.Equal(t, "нет совпадений", rows[2].Note)
	assert.Equal(t, "material m3: shortlist resolver failure", rows[3].Note)
	assert.Zero(t, rows[3].Rank)
}

func TestShutdownCancelsRuns(t *testing.T) {
	h, _ := newTestHandler(t)
	block := make(chan struct{})
	defer close(block)

	cfg := h.cfg
	cfg.Workers = 1
	cfg.ResolverTimeout = 50 * time.Millisecond
	o, err := service.NewOrchestrator(cfg, service.ResolverFunc(
		func(context.Context, model.Material, int) ([]model.Candidate, error) {
			<-block
			return nil, nil
		}), service.WithRecorder(noopRecorder{}))
	require.NoError(t, err)

	run := newRun("r1", o, []model.Material{{ID: "m1", Name: "a"}, {ID: "m2", Name: "b"}, {ID: "m3", Name: "c"}})
	run.start(context.Background(), zerolog.Nop(), nil)
	h.runs.Add(run)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.Shutdown(ctx)
	require.NoError(t, ctx.Err())

	res, err := run.Result()
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Partial)
	assert.Equal(t, model.StateAborted, res.State)
}

func TestRegistryEvictionCancels(t *testing.T) {
	runs, err := NewRegistry(1)
	require.NoError(t, err)

	cancelled := false
	first := &Run{ID: "a", cancel: func() { cancelled = true }}
	runs.Add(first)
	runs.Add(&Run{ID: "b"})

	assert.True(t, cancelled)
	assert.Equal(t, 1, runs.Len())
	_, ok := runs.Get("a")
	assert.False(t, ok)

	_, err = NewRegistry(0)
	assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
}
