package versioning

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cabinet-quote/internal/common"
	"github.com/noah-isme/cabinet-quote/internal/domain"
	"github.com/noah-isme/cabinet-quote/internal/quote"
)

// Calculator prices a quote request before it is versioned.
type Calculator interface {
	Calculate(ctx context.Context, req quote.Request) (*domain.QuoteCalculation, error)
}

// HandlerConfig configures versioning HTTP handlers.
type HandlerConfig struct {
	Service        *Service
	Engine         Calculator
	DefaultPerPage int
	Logger         zerolog.Logger
}

// Handler exposes the versioning API over HTTP.
type Handler struct {
	svc            *Service
	engine         Calculator
	defaultPerPage int
	logger         zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	perPage := cfg.DefaultPerPage
	if perPage <= 0 {
		perPage = 20
	}
	return &Handler{svc: cfg.Service, engine: cfg.Engine, defaultPerPage: perPage, logger: cfg.Logger}
}

type createVersionRequest struct {
	quote.Request
	ChangedBy string `json:"changedBy,omitempty" validate:"max=128"`
	Reason    string `json:"reason,omitempty" validate:"max=1000"`
}

type restoreRequest struct {
	RestoredBy string `json:"restoredBy,omitempty" validate:"max=128"`
	Reason     string `json:"reason,omitempty" validate:"max=1000"`
}

// Create handles POST /quotes/{quoteID}/versions: it calculates the request
// and stores the result as the quote's new current version.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil || h.engine == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "versioning not configured", nil)
		return
	}
	quoteID := strings.TrimSpace(chi.URLParam(r, "quoteID"))
	var body createVersionRequest
	if err := common.DecodeJSON(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	calc, err := h.engine.Calculate(r.Context(), body.Request)
	if err != nil {
		h.writeError(w, err)
		return
	}
	version, err := h.svc.CreateVersion(r.Context(), quoteID, calc, actorOr(r, body.ChangedBy), body.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": version})
}

// History handles GET /quotes/{quoteID}/versions.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "versioning not configured", nil)
		return
	}
	page, limit := common.ParsePagination(r, h.defaultPerPage)
	history, err := h.svc.GetVersionHistory(r.Context(), chi.URLParam(r, "quoteID"), page, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       history.Versions,
		"pagination": history.Pagination,
	})
}

// Current handles GET /quotes/{quoteID}/versions/current.
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "versioning not configured", nil)
		return
	}
	version, err := h.svc.GetCurrentVersion(r.Context(), chi.URLParam(r, "quoteID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": version})
}

// Get handles GET /quotes/{quoteID}/versions/{version}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "versioning not configured", nil)
		return
	}
	number, err := versionParam(chi.URLParam(r, "version"), "version")
	if err != nil {
		h.writeError(w, err)
		return
	}
	version, err := h.svc.GetVersion(r.Context(), chi.URLParam(r, "quoteID"), number)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": version})
}

// Restore handles POST /quotes/{quoteID}/versions/{version}/restore.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "versioning not configured", nil)
		return
	}
	number, err := versionParam(chi.URLParam(r, "version"), "version")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body restoreRequest
	if r.ContentLength != 0 {
		if err := common.DecodeJSON(r, &body); err != nil {
			h.writeError(w, err)
			return
		}
	}
	version, err := h.svc.RestoreVersion(r.Context(), chi.URLParam(r, "quoteID"), number, actorOr(r, body.RestoredBy), body.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": version})
}

// Compare handles GET /quotes/{quoteID}/versions/compare?from=&to=.
func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "versioning not configured", nil)
		return
	}
	q := r.URL.Query()
	from, err := versionParam(q.Get("from"), "from")
	if err != nil {
		h.writeError(w, err)
		return
	}
	to, err := versionParam(q.Get("to"), "to")
	if err != nil {
		h.writeError(w, err)
		return
	}
	quoteID := chi.URLParam(r, "quoteID")
	older, err := h.svc.GetVersion(r.Context(), quoteID, from)
	if err != nil {
		h.writeError(w, err)
		return
	}
	newer, err := h.svc.GetVersion(r.Context(), quoteID, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	cmp := CompareVersions(&older.Calculation, &newer.Calculation)
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"from":       from,
		"to":         to,
		"hasChanges": cmp.HasChanges,
		"changes":    cmp.Changes,
		"summary":    cmp.Summary,
	}})
}

// Changes handles GET /quotes/{quoteID}/changes?from=&to=.
func (h *Handler) Changes(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "versioning not configured", nil)
		return
	}
	q := r.URL.Query()
	var from, to *int
	if raw := q.Get("from"); raw != "" {
		n, err := versionParam(raw, "from")
		if err != nil {
			h.writeError(w, err)
			return
		}
		from = &n
	}
	if raw := q.Get("to"); raw != "" {
		n, err := versionParam(raw, "to")
		if err != nil {
			h.writeError(w, err)
			return
		}
		to = &n
	}
	logs, err := h.svc.GetChangeLogs(r.Context(), chi.URLParam(r, "quoteID"), from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": logs})
}

// Export handles GET /quotes/{quoteID}/export.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "versioning not configured", nil)
		return
	}
	quoteID := chi.URLParam(r, "quoteID")
	doc, err := h.svc.ExportVersionHistory(r.Context(), quoteID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="quote-`+sanitizeFilename(quoteID)+`-history.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func versionParam(raw, name string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 0, common.Validation("%s must be a positive integer", name)
	}
	return n, nil
}

func actorOr(r *http.Request, fallback string) string {
	if actor, ok := common.Actor(r.Context()); ok {
		return actor
	}
	return strings.TrimSpace(fallback)
}

func sanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if appErr, ok := common.AsAppError(err); !ok || appErr.Internal() {
		ev := h.logger.Error().Err(err)
		if ok {
			ev = ev.Str("correlation_id", appErr.CorrelationID)
		}
		ev.Msg("quote_version_request_failed")
	}
	common.WriteError(w, err)
}
