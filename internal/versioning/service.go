package versioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cabinet-quote/internal/common"
	"github.com/noah-isme/cabinet-quote/internal/domain"
	"github.com/noah-isme/cabinet-quote/internal/lock"
	"github.com/noah-isme/cabinet-quote/internal/obs"
)

const (
	// DefaultLockTTL bounds how long one writer may hold a quote lock.
	DefaultLockTTL = 10 * time.Second
	// MaxHistoryLimit caps the page size of GetVersionHistory.
	MaxHistoryLimit = 100

	initialSummary = "Initial version"
)

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Store   Store
	Locker  lock.Locker
	Logger  zerolog.Logger
	Now     func() time.Time
	IDs     func() string
	LockTTL time.Duration
}

// Service creates and reads quote versions. Writers for the same quote are
// serialized through the Locker; the store's compare-and-swap rejects any
// writer that slips past it.
type Service struct {
	store   Store
	locker  lock.Locker
	logger  zerolog.Logger
	now     func() time.Time
	ids     func() string
	lockTTL time.Duration
}

// NewService constructs a Service. A nil Locker falls back to an in-process
// keyed mutex.
func NewService(cfg ServiceConfig) *Service {
	svc := &Service{
		store:   cfg.Store,
		locker:  cfg.Locker,
		logger:  cfg.Logger,
		now:     cfg.Now,
		ids:     cfg.IDs,
		lockTTL: cfg.LockTTL,
	}
	if svc.store == nil {
		svc.store = NewMemoryStore()
	}
	if svc.locker == nil {
		svc.locker = lock.NewKeyedMutex()
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.ids == nil {
		svc.ids = uuid.NewString
	}
	if svc.lockTTL <= 0 {
		svc.lockTTL = DefaultLockTTL
	}
	return svc
}

func lockKey(quoteID string) string {
	return "quote-version:" + quoteID
}

// CreateVersion appends calc as the new current version of the quote and
// records one change log entry per difference from the previous version.
func (s *Service) CreateVersion(ctx context.Context, quoteID string, calc *domain.QuoteCalculation, changedBy, reason string) (domain.QuoteVersion, error) {
	quoteID = strings.TrimSpace(quoteID)
	changedBy = strings.TrimSpace(changedBy)
	switch {
	case quoteID == "":
		return domain.QuoteVersion{}, common.Validation("quote id is required")
	case calc == nil:
		return domain.QuoteVersion{}, common.Validation("calculation is required")
	case changedBy == "":
		return domain.QuoteVersion{}, common.Validation("changedBy is required")
	}

	var created domain.QuoteVersion
	err := s.locker.WithLock(ctx, lockKey(quoteID), s.lockTTL, func(ctx context.Context) error {
		current, found, err := s.store.Current(ctx, quoteID)
		if err != nil {
			return fmt.Errorf("load current version: %w", err)
		}
		var prev *domain.QuoteVersion
		if found {
			prev = &current
		}
		created, err = s.appendVersion(ctx, quoteID, prev, calc, changedBy, reason, nil)
		return err
	})
	if err != nil {
		return domain.QuoteVersion{}, s.mapError(quoteID, err)
	}
	obs.IncQuoteVersion("create")
	s.logger.Info().
		Str("quote_id", quoteID).
		Int("version", created.VersionNumber).
		Str("changed_by", changedBy).
		Msg("quote_version_created")
	return created, nil
}

// RestoreVersion appends a new version whose calculation equals the target
// version's snapshot. Existing versions are never modified beyond demotion.
func (s *Service) RestoreVersion(ctx context.Context, quoteID string, number int, restoredBy, reason string) (domain.QuoteVersion, error) {
	quoteID = strings.TrimSpace(quoteID)
	restoredBy = strings.TrimSpace(restoredBy)
	switch {
	case quoteID == "":
		return domain.QuoteVersion{}, common.Validation("quote id is required")
	case number < 1:
		return domain.QuoteVersion{}, common.Validation("version must be a positive integer (got %d)", number)
	case restoredBy == "":
		return domain.QuoteVersion{}, common.Validation("restoredBy is required")
	}
	if strings.TrimSpace(reason) == "" {
		reason = fmt.Sprintf("Restored from version %d", number)
	}

	var created domain.QuoteVersion
	err := s.locker.WithLock(ctx, lockKey(quoteID), s.lockTTL, func(ctx context.Context) error {
		target, found, err := s.store.Get(ctx, quoteID, number)
		if err != nil {
			return fmt.Errorf("load version %d: %w", number, err)
		}
		if !found {
			return ErrVersionNotFound
		}
		current, found, err := s.store.Current(ctx, quoteID)
		if err != nil {
			return fmt.Errorf("load current version: %w", err)
		}
		if !found {
			return ErrVersionNotFound
		}
		restored := Change{
			Kind:     domain.ChangeRestored,
			Field:    "version",
			OldValue: strconv.Itoa(current.VersionNumber),
			NewValue: strconv.Itoa(target.VersionNumber),
		}
		created, err = s.appendVersion(ctx, quoteID, &current, &target.Calculation, restoredBy, reason, &restored)
		return err
	})
	if err != nil {
		return domain.QuoteVersion{}, s.mapError(quoteID, err)
	}
	obs.IncQuoteVersion("restore")
	s.logger.Info().
		Str("quote_id", quoteID).
		Int("version", created.VersionNumber).
		Int("restored_from", number).
		Str("changed_by", restoredBy).
		Msg("quote_version_restored")
	return created, nil
}

// appendVersion builds the next version and its change logs and stores them. Must
// be called while holding the quote lock.
func (s *Service) appendVersion(ctx context.Context, quoteID string, prev *domain.QuoteVersion, calc *domain.QuoteCalculation, actor, reason string, extra *Change) (domain.QuoteVersion, error) {
	now := s.now().UTC()
	prevNumber := 0
	summary := initialSummary
	var changes []Change
	if prev != nil {
		prevNumber = prev.VersionNumber
		cmp := CompareVersions(&prev.Calculation, calc)
		changes = cmp.Changes
		summary = cmp.Summary
	}
	if extra != nil {
		summary = fmt.Sprintf("Restored from version %s", extra.NewValue)
		if len(changes) > 0 {
			summary += ": " + summarize(changes)
		}
		changes = append([]Change{*extra}, changes...)
	}

	v := domain.QuoteVersion{
		ID:             s.ids(),
		QuoteID:        quoteID,
		VersionNumber:  prevNumber + 1,
		Calculation:    *calc.Clone(),
		ChangesSummary: summary,
		CreatedBy:      actor,
		Reason:         reason,
		IsCurrent:      true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	logs := make([]domain.QuoteChangeLog, 0, len(changes))
	for _, c := range changes {
		logs = append(logs, domain.QuoteChangeLog{
			ID:           s.ids(),
			QuoteID:      quoteID,
			VersionFrom:  prevNumber,
			VersionTo:    v.VersionNumber,
			Kind:         c.Kind,
			FieldChanged: c.Field,
			OldValue:     c.OldValue,
			NewValue:     c.NewValue,
			ChangedBy:    actor,
			Reason:       reason,
			CreatedAt:    now,
		})
	}
	if err := s.store.Append(ctx, v, prevNumber, logs); err != nil {
		return domain.QuoteVersion{}, err
	}
	return v, nil
}

func (s *Service) mapError(quoteID string, err error) error {
	switch {
	case common.IsAppError(err):
		return err
	case errors.Is(err, ErrVersionNotFound):
		return common.NotFound("quote version", quoteID, err)
	case errors.Is(err, ErrVersionConflict):
		s.logger.Warn().Str("quote_id", quoteID).Msg("quote_version_conflict")
		return common.Conflict(fmt.Sprintf("quote %q was modified concurrently; retry", quoteID), err)
	}
	return err
}

// GetCurrentVersion returns the current version of a quote.
func (s *Service) GetCurrentVersion(ctx context.Context, quoteID string) (domain.QuoteVersion, error) {
	v, found, err := s.store.Current(ctx, quoteID)
	if err != nil {
		return domain.QuoteVersion{}, fmt.Errorf("load current version: %w", err)
	}
	if !found {
		return domain.QuoteVersion{}, common.NotFound("quote", quoteID, ErrVersionNotFound)
	}
	return v, nil
}

// GetVersion returns one version by number.
func (s *Service) GetVersion(ctx context.Context, quoteID string, number int) (domain.QuoteVersion, error) {
	v, found, err := s.store.Get(ctx, quoteID, number)
	if err != nil {
		return domain.QuoteVersion{}, fmt.Errorf("load version %d: %w", number, err)
	}
	if !found {
		return domain.QuoteVersion{}, common.NotFound("quote version", fmt.Sprintf("%s@%d", quoteID, number), ErrVersionNotFound)
	}
	return v, nil
}

// GetAllVersions returns every version of a quote ordered by version number.
func (s *Service) GetAllVersions(ctx context.Context, quoteID string) ([]domain.QuoteVersion, error) {
	versions, err := s.store.List(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	if versions == nil {
		versions = []domain.QuoteVersion{}
	}
	return versions, nil
}

// History is one page of a quote's versions, latest first.
type History struct {
	Versions   []domain.QuoteVersion `json:"versions"`
	Pagination common.Pagination     `json:"pagination"`
}

// GetVersionHistory pages through versions latest first.
func (s *Service) GetVersionHistory(ctx context.Context, quoteID string, page, limit int) (History, error) {
	versions, err := s.GetAllVersions(ctx, quoteID)
	if err != nil {
		return History{}, err
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].VersionNumber > versions[j].VersionNumber
	})
	start, end, pagination := common.Paginate(page, limit, MaxHistoryLimit, len(versions))
	return History{Versions: versions[start:end], Pagination: pagination}, nil
}

// GetChangeLogs returns change logs latest first. from and to, when set,
// restrict entries to VersionFrom >= from and VersionTo <= to.
func (s *Service) GetChangeLogs(ctx context.Context, quoteID string, from, to *int) ([]domain.QuoteChangeLog, error) {
	if from != nil && to != nil && *from > *to {
		return nil, common.Validation("from (%d) must not exceed to (%d)", *from, *to)
	}
	logs, err := s.store.ChangeLogs(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("list change logs: %w", err)
	}
	out := make([]domain.QuoteChangeLog, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		l := logs[i]
		if from != nil && l.VersionFrom < *from {
			continue
		}
		if to != nil && l.VersionTo > *to {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// VersionHistoryExport is the document produced by ExportVersionHistory.
type VersionHistoryExport struct {
	QuoteID        string                  `json:"quoteId"`
	ExportedAt     time.Time               `json:"exportedAt"`
	CurrentVersion int                     `json:"currentVersion"`
	TotalVersions  int                     `json:"totalVersions"`
	Versions       []domain.QuoteVersion   `json:"versions"`
	ChangeLogs     []domain.QuoteChangeLog `json:"changeLogs"`
}

// ExportVersionHistory renders the full history of a quote as JSON.
func (s *Service) ExportVersionHistory(ctx context.Context, quoteID string) ([]byte, error) {
	versions, err := s.GetAllVersions(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, common.NotFound("quote", quoteID, ErrVersionNotFound)
	}
	logs, err := s.GetChangeLogs(ctx, quoteID, nil, nil)
	if err != nil {
		return nil, err
	}
	doc := VersionHistoryExport{
		QuoteID:       quoteID,
		ExportedAt:    s.now().UTC(),
		TotalVersions: len(versions),
		Versions:      versions,
		ChangeLogs:    logs,
	}
	for _, v := range versions {
		if v.IsCurrent {
			doc.CurrentVersion = v.VersionNumber
		}
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	return out, nil
}
