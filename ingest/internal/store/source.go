package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

const sourceColumns = `id, source_type, url, label, status, created_at, updated_at,
	last_synced_at, last_error, rss_state_json`

// ListSources returns the registered sources of type t, oldest first. An
// empty t lists every type.
func (s *Store) ListSources(ctx context.Context, t model.SourceType) ([]model.Source, error) {
	q := `SELECT ` + sourceColumns + ` FROM sources`
	var args []any
	if t != "" {
		q += ` WHERE source_type = ?`
		args = append(args, string(t))
	}
	q += ` ORDER BY created_at, id`

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list sources: %w", err)
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}

// GetSource returns the source with id, or nil when there is none.
func (s *Store) GetSource(ctx context.Context, id string) (*model.Source, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	return scanSourceRow(row)
}

// FindSource returns the source registered for url and type, or nil.
func (s *Store) FindSource(ctx context.Context, url string, t model.SourceType) (*model.Source, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE url = ? AND source_type = ?`, url, string(t))
	return scanSourceRow(row)
}

// InsertSource adds src, assigning an id and timestamps when they are
// unset.
func (s *Store) InsertSource(ctx context.Context, src *model.Source) error {
	now := s.stamp()
	if src.ID == "" {
		src.ID = s.newID()
	}
	if src.CreatedAt == "" {
		src.CreatedAt = now
	}
	if src.UpdatedAt == "" {
		src.UpdatedAt = now
	}
	if src.Status == "" {
		src.Status = model.StatusActive
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO sources (`+sourceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, string(src.Type), src.URL, src.Label, string(src.Status), src.CreatedAt, src.UpdatedAt,
		src.LastSyncedAt, src.LastError, src.RSSStateJSON,
	)
	if err != nil {
		return fmt.Errorf("store: insert source: %w", err)
	}
	return nil
}

// SourcePatch lists the mutable fields of a source. Nil fields are left
// unchanged.
type SourcePatch struct {
	Label  *string
	Status *model.SourceStatus
}

// PatchSource applies p to the source with id and returns the updated
// record, or nil when there is no such source.
func (s *Store) PatchSource(ctx context.Context, id string, p SourcePatch) (*model.Source, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE sources SET
			label = COALESCE(?, label),
			status = COALESCE(?, status),
			updated_at = ?
		WHERE id = ?`,
		nullString(p.Label), nullStatus(p.Status), s.stamp(), id)
	if err != nil {
		return nil, fmt.Errorf("store: patch source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetSource(ctx, id)
}

// DeleteSource removes the source with id. It reports whether a row was
// deleted.
func (s *Store) DeleteSource(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: delete source: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RecordSourceSync stores the outcome of a sync of source id. lastError is
// cleared when empty; rssStateJSON is only written when non-empty.
func (s *Store) RecordSourceSync(ctx context.Context, id, syncedAt, lastError, rssStateJSON string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sources SET
			last_synced_at = ?,
			last_error = ?,
			rss_state_json = CASE WHEN ? = '' THEN rss_state_json ELSE ? END,
			updated_at = ?
		WHERE id = ?`,
		syncedAt, lastError, rssStateJSON, rssStateJSON, s.stamp(), id)
	if err != nil {
		return fmt.Errorf("store: record source sync: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(sc scanner) (*model.Source, error) {
	var src model.Source
	var typ, status string
	err := sc.Scan(&src.ID, &typ, &src.URL, &src.Label, &status, &src.CreatedAt, &src.UpdatedAt,
		&src.LastSyncedAt, &src.LastError, &src.RSSStateJSON)
	if err != nil {
		return nil, fmt.Errorf("store: scan source: %w", err)
	}
	src.Type = model.SourceType(typ)
	src.Status = model.SourceStatus(status)
	return &src, nil
}

func scanSourceRow(row *sql.Row) (*model.Source, error) {
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return src, err
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullStatus(p *model.SourceStatus) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}
