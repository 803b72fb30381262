package quote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cabinet-quote/internal/catalog"
	"github.com/noah-isme/cabinet-quote/internal/common"
	"github.com/noah-isme/cabinet-quote/internal/rules"
	"github.com/noah-isme/cabinet-quote/internal/shipping"
	"github.com/noah-isme/cabinet-quote/internal/tax"
)

func newTestHandler(t *testing.T) (*Handler, *rules.Provider) {
	t.Helper()
	provider := rules.NewProvider(rules.ProviderConfig{
		Store:  rules.NewMemoryStore(rules.Default()),
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return fixedNow },
	})
	taxCalc := tax.Calculator{Logger: zerolog.Nop()}
	engine := NewEngine(EngineDeps{
		Catalog:  catalog.NewMemory().SeedDemo(),
		Rules:    provider,
		Tax:      taxCalc,
		Shipping: shipping.NewCalculator(zerolog.Nop()),
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return fixedNow },
		Metrics:  func(string, time.Duration) {},
	})
	return NewHandler(HandlerConfig{Engine: engine, Rules: provider, Tax: taxCalc, Logger: zerolog.Nop()}), provider
}

type errorEnvelope struct {
	Error common.ErrorBody `json:"error"`
}

func TestCalculateHandler(t *testing.T) {
	h, _ := newTestHandler(t)
	body := `{"customerId":"cust-retail","items":[{"productVariantId":"B24","boxMaterialId":"particleboard","quantity":12}]}`
	rec := httptest.NewRecorder()
	h.Calculate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/quotes/calculate", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Data struct {
			Subtotal    string `json:"subtotal"`
			TotalAmount string `json:"totalAmount"`
			LineItems   []struct {
				LineTotal string `json:"lineTotal"`
			} `json:"lineItems"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "1200", payload.Data.Subtotal)
	require.Equal(t, "1176", payload.Data.LineItems[0].LineTotal)
	require.Equal(t, "1328.88", payload.Data.TotalAmount)
}

func TestCalculateHandlerErrors(t *testing.T) {
	h, _ := newTestHandler(t)
	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed", `{"customerId":`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown field", `{"customerId":"cust-retail","bogus":1,"items":[]}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"empty items", `{"customerId":"cust-retail","items":[]}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown customer", `{"customerId":"ghost","items":[{"productVariantId":"B24","boxMaterialId":"plywood","quantity":1}]}`, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Calculate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/quotes/calculate", strings.NewReader(tc.body)))
			require.Equal(t, tc.status, rec.Code)
			var env errorEnvelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			require.Equal(t, tc.code, env.Error.Code)
			require.NotEmpty(t, env.Error.Message)
		})
	}
}

func TestCalculateHandlerHidesInternalDetails(t *testing.T) {
	h, _ := newTestHandler(t)
	h.engine = NewEngine(EngineDeps{
		Catalog:  catalog.NewMemory().SeedDemo(),
		Rules:    staticRules{err: &rules.ConfigurationError{Violations: []string{"tax.default_rate: 3 outside 0-1"}}},
		Tax:      tax.Calculator{},
		Shipping: shipping.NewCalculator(zerolog.Nop()),
		Metrics:  func(string, time.Duration) {},
	})
	body := `{"customerId":"cust-retail","items":[{"productVariantId":"B24","boxMaterialId":"plywood","quantity":1}]}`
	rec := httptest.NewRecorder()
	h.Calculate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/quotes/calculate", strings.NewReader(body)))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotContains(t, rec.Body.String(), "default_rate")
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, "pricing configuration unavailable", env.Error.Message)
	require.NotEmpty(t, env.Error.CorrelationID)
}

func TestPatchRulesHandler(t *testing.T) {
	h, provider := newTestHandler(t)

	patch := func(body string, actor string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/rules", strings.NewReader(body))
		if actor != "" {
			req = req.WithContext(common.WithActor(req.Context(), actor))
		}
		rec := httptest.NewRecorder()
		h.PatchRules(rec, req)
		return rec
	}

	valid := `{"validation":{"minQuoteAmount":"0","maxQuoteAmount":"250000","maxLineItemQuantity":100,"maxLineItems":50,"maxQuoteValidityDays":60,"defaultValidityDays":14}}`
	require.Equal(t, http.StatusBadRequest, patch(valid, "").Code)
	require.Equal(t, http.StatusBadRequest, patch(`{}`, "ops@example.com").Code)

	rec := patch(valid, "ops@example.com")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	current, err := provider.GetRules(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, current.Version)
	require.Equal(t, 14, current.Validation.DefaultValidityDays)

	invalid := `{"validation":{"minQuoteAmount":"10","maxQuoteAmount":"5","maxLineItemQuantity":100,"maxLineItems":50,"maxQuoteValidityDays":0,"defaultValidityDays":14}}`
	rec = patch(invalid, "ops@example.com")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var env struct {
		Error struct {
			Details struct {
				Violations []string `json:"violations"`
			} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.GreaterOrEqual(t, len(env.Error.Details.Violations), 2)

	current, err = provider.GetRules(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, current.Version)
}

func TestGetRulesHandler(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.GetRules(rec, httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"currency":"CAD"`)
}

func TestEstimateTaxHandler(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.EstimateTax(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tax/estimate", strings.NewReader(`{"amount":"1000.00","jurisdiction":"BC"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Data struct {
			TaxAmount string `json:"taxAmount"`
			Details   []struct {
				Amount string `json:"amount"`
			} `json:"details"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "120", payload.Data.TaxAmount)
	require.Len(t, payload.Data.Details, 2)

	rec = httptest.NewRecorder()
	h.EstimateTax(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tax/estimate", strings.NewReader(`{"amount":"-5","jurisdiction":"ON"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
