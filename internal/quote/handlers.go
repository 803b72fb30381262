package quote

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/cabinet-quote/internal/common"
	"github.com/noah-isme/cabinet-quote/internal/domain"
	"github.com/noah-isme/cabinet-quote/internal/rules"
)

// Calculator is the calculation API the handlers expose.
type Calculator interface {
	Calculate(ctx context.Context, req Request) (*domain.QuoteCalculation, error)
}

// RulesAdmin reads and updates the active business rules.
type RulesAdmin interface {
	GetRules(ctx context.Context) (*rules.BusinessRules, error)
	UpdateRules(ctx context.Context, patch rules.Patch) (*rules.BusinessRules, error)
}

// TaxEstimator prices tax for an explicit jurisdiction.
type TaxEstimator interface {
	CalculateForJurisdiction(taxable decimal.Decimal, jurisdiction string, r *rules.BusinessRules) (domain.TaxSummary, error)
}

// HandlerConfig configures quote HTTP handlers.
type HandlerConfig struct {
	Engine Calculator
	Rules  RulesAdmin
	Tax    TaxEstimator
	Logger zerolog.Logger
}

// Handler exposes the calculation API and rules administration over HTTP.
type Handler struct {
	engine Calculator
	rules  RulesAdmin
	tax    TaxEstimator
	logger zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{engine: cfg.Engine, rules: cfg.Rules, tax: cfg.Tax, logger: cfg.Logger}
}

// Calculate handles POST /quotes/calculate.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "quote engine not configured", nil)
		return
	}
	var req Request
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	calc, err := h.engine.Calculate(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": calc})
}

// GetRules handles GET /rules.
func (h *Handler) GetRules(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "rules provider not configured", nil)
		return
	}
	current, err := h.rules.GetRules(r.Context())
	if err != nil {
		h.writeError(w, rulesLoadError(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": current})
}

// PatchRules handles PATCH /rules. Whole sections are replaced; a result
// that fails validation is rejected with every violation listed.
func (h *Handler) PatchRules(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "rules provider not configured", nil)
		return
	}
	var patch rules.Patch
	if err := common.DecodeJSON(r, &patch); err != nil {
		h.writeError(w, err)
		return
	}
	if patch.Empty() {
		h.writeError(w, common.Validation("patch must replace at least one rules section"))
		return
	}
	if _, ok := common.Actor(r.Context()); !ok {
		h.writeError(w, common.Validation("%s header is required to update rules", common.ActorHeader))
		return
	}
	updated, err := h.rules.UpdateRules(r.Context(), patch)
	if err != nil {
		var cfgErr *rules.ConfigurationError
		if errors.As(err, &cfgErr) {
			h.writeError(w, common.Validation("rules update rejected").
				WithDetails(map[string]any{"violations": cfgErr.Violations}).
				WithCause(err))
			return
		}
		h.writeError(w, rulesLoadError(err))
		return
	}
	actor, _ := common.Actor(r.Context())
	h.logger.Info().Str("actor", actor).Int("rules_version", updated.Version).Msg("rules_patched")
	common.JSON(w, http.StatusOK, map[string]any{"data": updated})
}

type taxEstimateRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	Jurisdiction string          `json:"jurisdiction" validate:"required,max=16"`
}

// EstimateTax handles POST /tax/estimate.
func (h *Handler) EstimateTax(w http.ResponseWriter, r *http.Request) {
	if h.tax == nil || h.rules == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "tax calculator not configured", nil)
		return
	}
	var req taxEstimateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	current, err := h.rules.GetRules(r.Context())
	if err != nil {
		h.writeError(w, rulesLoadError(err))
		return
	}
	summary, err := h.tax.CalculateForJurisdiction(req.Amount, req.Jurisdiction, current)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": summary})
}

func rulesLoadError(err error) error {
	if common.IsAppError(err) {
		return err
	}
	return common.Configuration("business rules unavailable", err)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if appErr, ok := common.AsAppError(err); ok && appErr.Internal() {
		h.logger.Error().
			Err(err).
			Str("correlation_id", appErr.CorrelationID).
			Str("kind", string(appErr.Kind)).
			Msg("quote_request_failed")
	} else if !ok {
		h.logger.Error().Err(err).Msg("quote_request_failed")
	}
	common.WriteError(w, err)
}
