package versioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/cabinet-quote/internal/domain"
)

const uniqueViolation = "23505"

// pgxDB is the subset of *pgxpool.Pool the store needs.
type pgxDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a durable Store over the cabinet_system schema. Version
// numbers are unique per quote and at most one row per quote is current, so
// a concurrent writer loses with ErrVersionConflict.
type PostgresStore struct {
	DB pgxDB
}

// NewPostgres constructs a PostgresStore.
func NewPostgres(db pgxDB) *PostgresStore {
	return &PostgresStore{DB: db}
}

const versionColumns = `id, quote_id, version_number, calculation, changes_summary, created_by, reason, is_current, created_at, updated_at`

// Current implements Store.
func (s *PostgresStore) Current(ctx context.Context, quoteID string) (domain.QuoteVersion, bool, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+versionColumns+`
FROM cabinet_system.quote_versions
WHERE quote_id = $1 AND is_current`, quoteID)
	return scanOne(row)
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, quoteID string, number int) (domain.QuoteVersion, bool, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+versionColumns+`
FROM cabinet_system.quote_versions
WHERE quote_id = $1 AND version_number = $2`, quoteID, number)
	return scanOne(row)
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, quoteID string) ([]domain.QuoteVersion, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+versionColumns+`
FROM cabinet_system.quote_versions
WHERE quote_id = $1
ORDER BY version_number`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()
	var out []domain.QuoteVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, v domain.QuoteVersion, expectedPrev int, logs []domain.QuoteChangeLog) error {
	payload, err := json.Marshal(v.Calculation)
	if err != nil {
		return fmt.Errorf("encode calculation: %w", err)
	}
	if v.VersionNumber != expectedPrev+1 {
		return ErrVersionConflict
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if expectedPrev > 0 {
		tag, err := tx.Exec(ctx, `UPDATE cabinet_system.quote_versions
SET is_current = FALSE, updated_at = $3
WHERE quote_id = $1 AND version_number = $2 AND is_current`, v.QuoteID, expectedPrev, v.CreatedAt)
		if err != nil {
			return fmt.Errorf("demote version %d: %w", expectedPrev, err)
		}
		if tag.RowsAffected() != 1 {
			return ErrVersionConflict
		}
	}

	_, err = tx.Exec(ctx, `INSERT INTO cabinet_system.quote_versions (`+versionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9)`,
		v.ID, v.QuoteID, v.VersionNumber, payload, v.ChangesSummary, v.CreatedBy, v.Reason, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("insert version %d: %w", v.VersionNumber, err)
	}

	if len(logs) > 0 {
		batch := &pgx.Batch{}
		for _, l := range logs {
			batch.Queue(`INSERT INTO cabinet_system.quote_change_logs
(id, quote_id, version_from, version_to, change_kind, field_changed, old_value, new_value, changed_by, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				l.ID, l.QuoteID, l.VersionFrom, l.VersionTo, string(l.Kind), l.FieldChanged, l.OldValue, l.NewValue, l.ChangedBy, l.Reason, l.CreatedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert change logs: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ChangeLogs implements Store.
func (s *PostgresStore) ChangeLogs(ctx context.Context, quoteID string) ([]domain.QuoteChangeLog, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, quote_id, version_from, version_to, change_kind, field_changed, old_value, new_value, changed_by, reason, created_at
FROM cabinet_system.quote_change_logs
WHERE quote_id = $1
ORDER BY seq`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("query change logs: %w", err)
	}
	defer rows.Close()
	var out []domain.QuoteChangeLog
	for rows.Next() {
		var (
			l    domain.QuoteChangeLog
			kind string
		)
		if err := rows.Scan(&l.ID, &l.QuoteID, &l.VersionFrom, &l.VersionTo, &kind, &l.FieldChanged,
			&l.OldValue, &l.NewValue, &l.ChangedBy, &l.Reason, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan change log: %w", err)
		}
		l.Kind = domain.ChangeKind(kind)
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanOne(row pgx.Row) (domain.QuoteVersion, bool, error) {
	v, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuoteVersion{}, false, nil
	}
	if err != nil {
		return domain.QuoteVersion{}, false, err
	}
	return v, true, nil
}

func scanVersion(row pgx.Row) (domain.QuoteVersion, error) {
	var (
		v       domain.QuoteVersion
		payload []byte
	)
	if err := row.Scan(&v.ID, &v.QuoteID, &v.VersionNumber, &payload, &v.ChangesSummary,
		&v.CreatedBy, &v.Reason, &v.IsCurrent, &v.CreatedAt, &v.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.QuoteVersion{}, err
		}
		return domain.QuoteVersion{}, fmt.Errorf("scan version: %w", err)
	}
	if err := json.Unmarshal(payload, &v.Calculation); err != nil {
		return domain.QuoteVersion{}, fmt.Errorf("decode calculation: %w", err)
	}
	return v, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
