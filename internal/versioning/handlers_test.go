package versioning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cabinet-quote/internal/common"
	"github.com/noah-isme/cabinet-quote/internal/domain"
	"github.com/noah-isme/cabinet-quote/internal/quote"
)

type stubCalculator struct {
	err error
}

func (s stubCalculator) Calculate(_ context.Context, req quote.Request) (*domain.QuoteCalculation, error) {
	if s.err != nil {
		return nil, s.err
	}
	lines := make([]domain.CalculatedLineItem, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, line(it.ProductVariantID, it.BoxMaterialID, it.Quantity, "100"))
	}
	calc := calcOf(req.CustomerID, lines...)
	calc.Notes = req.Notes
	return calc, nil
}

func newTestRouter(t *testing.T, calc Calculator) http.Handler {
	t.Helper()
	h := NewHandler(HandlerConfig{
		Service: newTestService(t, nil),
		Engine:  calc,
		Logger:  zerolog.Nop(),
	})
	r := chi.NewRouter()
	r.Use(common.ActorMiddleware)
	r.Route("/quotes/{quoteID}", func(r chi.Router) {
		r.Post("/versions", h.Create)
		r.Get("/versions", h.History)
		r.Get("/versions/current", h.Current)
		r.Get("/versions/compare", h.Compare)
		r.Get("/versions/{version}", h.Get)
		r.Post("/versions/{version}/restore", h.Restore)
		r.Get("/changes", h.Changes)
		r.Get("/export", h.Export)
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body, actor string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if actor != "" {
		req.Header.Set(common.ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func versionBody(qty string) string {
	return `{"customerId":"cust-retail","items":[{"productVariantId":"B24","boxMaterialId":"plywood","quantity":` + qty + `}],"reason":"revision"}`
}

type versionEnvelope struct {
	Data struct {
		VersionNumber  int    `json:"versionNumber"`
		IsCurrent      bool   `json:"isCurrent"`
		CreatedBy      string `json:"createdBy"`
		ChangesSummary string `json:"changesSummary"`
	} `json:"data"`
}

func TestCreateAndReadVersions(t *testing.T) {
	router := newTestRouter(t, stubCalculator{})

	rec := do(t, router, http.MethodPost, "/quotes/Q-1/versions", versionBody("2"), "alice@example.com")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created versionEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, 1, created.Data.VersionNumber)
	require.Equal(t, "alice@example.com", created.Data.CreatedBy)

	rec = do(t, router, http.MethodPost, "/quotes/Q-1/versions", versionBody("5"), "alice@example.com")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodGet, "/quotes/Q-1/versions/current", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var current versionEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &current))
	require.Equal(t, 2, current.Data.VersionNumber)
	require.True(t, current.Data.IsCurrent)

	rec = do(t, router, http.MethodGet, "/quotes/Q-1/versions/1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/quotes/Q-1/versions?page=1&limit=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data       []struct{ VersionNumber int } `json:"data"`
		Pagination common.Pagination             `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	require.Equal(t, 2, page.Data[0].VersionNumber)
	require.Equal(t, 2, page.Pagination.TotalItems)

	rec = do(t, router, http.MethodGet, "/quotes/Q-1/versions/compare?from=1&to=2", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cmp struct {
		Data struct {
			HasChanges bool   `json:"hasChanges"`
			Summary    string `json:"summary"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cmp))
	require.True(t, cmp.Data.HasChanges)
	require.Contains(t, cmp.Data.Summary, "total 200.00 -> 500.00")

	rec = do(t, router, http.MethodGet, "/quotes/Q-1/changes?from=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"changeKind":"quantity_changed"`)
}

func TestCreateVersionFallsBackToBodyActor(t *testing.T) {
	router := newTestRouter(t, stubCalculator{})
	body := `{"customerId":"cust-retail","items":[{"productVariantId":"B24","boxMaterialId":"plywood","quantity":1}],"changedBy":"bob"}`
	rec := do(t, router, http.MethodPost, "/quotes/Q-2/versions", body, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"createdBy":"bob"`)

	noActor := `{"customerId":"cust-retail","items":[{"productVariantId":"B24","boxMaterialId":"plywood","quantity":1}]}`
	rec = do(t, router, http.MethodPost, "/quotes/Q-2/versions", noActor, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateVersionPropagatesCalculationErrors(t *testing.T) {
	router := newTestRouter(t, stubCalculator{err: common.NotFound("customer", "ghost", nil)})
	rec := do(t, router, http.MethodPost, "/quotes/Q-1/versions", versionBody("1"), "alice")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/quotes/Q-1/versions/current", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRestoreHandler(t *testing.T) {
	router := newTestRouter(t, stubCalculator{})
	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/quotes/Q-1/versions", versionBody("2"), "alice").Code)
	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/quotes/Q-1/versions", versionBody("3"), "alice").Code)

	rec := do(t, router, http.MethodPost, "/quotes/Q-1/versions/1/restore", "", "carol")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var restored versionEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &restored))
	require.Equal(t, 3, restored.Data.VersionNumber)
	require.Equal(t, "carol", restored.Data.CreatedBy)
	require.True(t, strings.HasPrefix(restored.Data.ChangesSummary, "Restored from version 1"))

	require.Equal(t, http.StatusNotFound, do(t, router, http.MethodPost, "/quotes/Q-1/versions/42/restore", "", "carol").Code)
	require.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/quotes/Q-1/versions/abc/restore", "", "carol").Code)
	require.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/quotes/Q-1/versions/1/restore", "", "").Code)
}

func TestVersionParamErrors(t *testing.T) {
	router := newTestRouter(t, stubCalculator{})
	require.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/quotes/Q-1/versions/0", "", "").Code)
	require.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/quotes/Q-1/versions/compare?from=1", "", "").Code)
	require.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/quotes/Q-1/changes?from=3&to=1", "", "").Code)
}

func TestExportHandler(t *testing.T) {
	router := newTestRouter(t, stubCalculator{})
	require.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/quotes/Q-1/export", "", "").Code)

	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/quotes/Q-1/versions", versionBody("2"), "alice").Code)
	rec := do(t, router, http.MethodGet, "/quotes/Q-1/export", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `attachment; filename="quote-Q-1-history.json"`, rec.Header().Get("Content-Disposition"))
	var doc VersionHistoryExport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, 1, doc.TotalVersions)
}

func TestHandlerNotConfigured(t *testing.T) {
	h := NewHandler(HandlerConfig{Logger: zerolog.Nop()})
	rec := httptest.NewRecorder()
	h.Current(rec, httptest.NewRequest(http.MethodGet, "/quotes/Q-1/versions/current", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
