// Package versioning keeps an append-only history of quote calculations.
package versioning

import (
	"context"
	"errors"
	"sync"

	"github.com/noah-isme/cabinet-quote/internal/domain"
)

var (
	// ErrVersionNotFound is returned when a quote or version does not exist.
	ErrVersionNotFound = errors.New("quote version not found")
	// ErrVersionConflict is returned when another writer appended first.
	ErrVersionConflict = errors.New("quote version conflict")
)

// Store persists versions and change logs per quote.
type Store interface {
	// Current returns the current version of a quote.
	Current(ctx context.Context, quoteID string) (domain.QuoteVersion, bool, error)
	// Get returns one version by number.
	Get(ctx context.Context, quoteID string, number int) (domain.QuoteVersion, bool, error)
	// List returns every version ordered by version number ascending.
	List(ctx context.Context, quoteID string) ([]domain.QuoteVersion, error)
	// Append demotes version expectedPrev (0 for a new quote) and inserts v
	// atomically. It returns ErrVersionConflict when expectedPrev is no
	// longer the current version.
	Append(ctx context.Context, v domain.QuoteVersion, expectedPrev int, logs []domain.QuoteChangeLog) error
	// ChangeLogs returns every change log of a quote in insertion order.
	ChangeLogs(ctx context.Context, quoteID string) ([]domain.QuoteChangeLog, error)
}

// MemoryStore is a non-durable Store for tests and single-instance demos.
type MemoryStore struct {
	mu     sync.Mutex
	quotes map[string]*quoteHistory
}

type quoteHistory struct {
	mu       sync.Mutex
	versions []domain.QuoteVersion
	logs     []domain.QuoteChangeLog
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{quotes: make(map[string]*quoteHistory)}
}

func (s *MemoryStore) history(quoteID string, create bool) *quoteHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.quotes[quoteID]
	if !ok && create {
		h = &quoteHistory{}
		s.quotes[quoteID] = h
	}
	return h
}

// Current implements Store.
func (s *MemoryStore) Current(_ context.Context, quoteID string) (domain.QuoteVersion, bool, error) {
	h := s.history(quoteID, false)
	if h == nil {
		return domain.QuoteVersion{}, false, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.versions) - 1; i >= 0; i-- {
		if h.versions[i].IsCurrent {
			return h.versions[i].Clone(), true, nil
		}
	}
	return domain.QuoteVersion{}, false, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, quoteID string, number int) (domain.QuoteVersion, bool, error) {
	h := s.history(quoteID, false)
	if h == nil {
		return domain.QuoteVersion{}, false, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if number < 1 || number > len(h.versions) {
		return domain.QuoteVersion{}, false, nil
	}
	return h.versions[number-1].Clone(), true, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, quoteID string) ([]domain.QuoteVersion, error) {
	h := s.history(quoteID, false)
	if h == nil {
		return nil, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.QuoteVersion, len(h.versions))
	for i, v := range h.versions {
		out[i] = v.Clone()
	}
	return out, nil
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, v domain.QuoteVersion, expectedPrev int, logs []domain.QuoteChangeLog) error {
	h := s.history(v.QuoteID, true)
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.versions) != expectedPrev || v.VersionNumber != expectedPrev+1 {
		return ErrVersionConflict
	}
	if expectedPrev > 0 {
		prev := &h.versions[expectedPrev-1]
		prev.IsCurrent = false
		prev.UpdatedAt = v.CreatedAt
	}
	v = v.Clone()
	v.IsCurrent = true
	h.versions = append(h.versions, v)
	h.logs = append(h.logs, logs...)
	return nil
}

// ChangeLogs implements Store.
func (s *MemoryStore) ChangeLogs(_ context.Context, quoteID string) ([]domain.QuoteChangeLog, error) {
	h := s.history(quoteID, false)
	if h == nil {
		return nil, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.QuoteChangeLog(nil), h.logs...), nil
}
