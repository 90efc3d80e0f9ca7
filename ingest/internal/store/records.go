package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/tripsync/dbopen"
	"github.com/hazyhaar/tripsync/ingest/internal/model"
	"github.com/hazyhaar/tripsync/ingest/internal/reconcile"
)

// setItem is one record of a replaced set.
type setItem struct {
	key  string
	sort string
	data []byte
}

// ListEvents returns the live events sorted by start date, undated last.
func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT data, missed_sync_count, last_seen_at, updated_at FROM events
		WHERE is_deleted = 0
		ORDER BY CASE WHEN start_date_iso = '' THEN '9999-99-99' ELSE start_date_iso END, rowid`)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var data string
		var ev model.Event
		var missed int
		var seen, updated string
		if err := rows.Scan(&data, &missed, &seen, &updated); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("store: decode event: %w", err)
		}
		ev.MissedSyncCount, ev.IsDeleted, ev.LastSeenAt, ev.UpdatedAt = missed, false, seen, updated
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListSpots returns the live spots sorted by "tag|name".
func (s *Store) ListSpots(ctx context.Context) ([]model.Spot, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT data, missed_sync_count, last_seen_at, updated_at FROM spots
		WHERE is_deleted = 0
		ORDER BY sort_key COLLATE NOCASE, rowid`)
	if err != nil {
		return nil, fmt.Errorf("store: list spots: %w", err)
	}
	defer rows.Close()

	var out []model.Spot
	for rows.Next() {
		var data string
		var sp model.Spot
		var missed int
		var seen, updated string
		if err := rows.Scan(&data, &missed, &seen, &updated); err != nil {
			return nil, fmt.Errorf("store: scan spot: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &sp); err != nil {
			return nil, fmt.Errorf("store: decode spot: %w", err)
		}
		sp.MissedSyncCount, sp.IsDeleted, sp.LastSeenAt, sp.UpdatedAt = missed, false, seen, updated
		out = append(out, sp)
	}
	return out, rows.Err()
}

// ReplaceEventSet makes events the current set. Events missing from the set
// are counted as missed and soft deleted at threshold. meta is recorded
// under model.MetaEvents.
func (s *Store) ReplaceEventSet(ctx context.Context, events []model.Event, meta model.SyncMeta, threshold int) error {
	items := make([]setItem, 0, len(events))
	for _, ev := range events {
		if ev.EventURL == "" {
			continue
		}
		ev.MissedSyncCount, ev.IsDeleted, ev.LastSeenAt, ev.UpdatedAt = 0, false, "", ""
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("store: encode event: %w", err)
		}
		items = append(items, setItem{key: ev.EventURL, sort: ev.StartDateISO, data: data})
	}
	meta.Key = model.MetaEvents
	return s.replaceSet(ctx, "events", "start_date_iso", items, meta, threshold)
}

// ReplaceSpotSet is ReplaceEventSet for spots, keyed by spot id and
// recorded under model.MetaSpots.
func (s *Store) ReplaceSpotSet(ctx context.Context, spots []model.Spot, meta model.SyncMeta, threshold int) error {
	items := make([]setItem, 0, len(spots))
	for _, sp := range spots {
		key := sp.ID
		if key == "" {
			key = strings.ToLower(model.CleanText(sp.Name)) + "|" + strings.ToLower(model.CleanText(sp.Location))
		}
		sp.MissedSyncCount, sp.IsDeleted, sp.LastSeenAt, sp.UpdatedAt = 0, false, "", ""
		data, err := json.Marshal(sp)
		if err != nil {
			return fmt.Errorf("store: encode spot: %w", err)
		}
		items = append(items, setItem{key: key, sort: sp.Tag + "|" + sp.Name, data: data})
	}
	meta.Key = model.MetaSpots
	return s.replaceSet(ctx, "spots", "sort_key", items, meta, threshold)
}

// replaceSet reads the previous lifecycle rows and writes the new ones in
// one transaction.
func (s *Store) replaceSet(ctx context.Context, table, sortCol string, items []setItem, meta model.SyncMeta, threshold int) error {
	syncedAt := meta.SyncedAt
	if syncedAt == "" {
		syncedAt = s.stamp()
		meta.SyncedAt = syncedAt
	}
	urls, err := json.Marshal(nonNil(meta.SourceURLs))
	if err != nil {
		return fmt.Errorf("store: encode sync meta: %w", err)
	}

	err = dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		previous, err := lifecycleRows(ctx, tx, table)
		if err != nil {
			return err
		}
		byKey := make(map[string]setItem, len(items))
		keys := make([]string, 0, len(items))
		for _, it := range items {
			if _, dup := byKey[it.key]; !dup {
				keys = append(keys, it.key)
			}
			byKey[it.key] = it
		}

		upsert, err := tx.PrepareContext(ctx,
			`INSERT INTO `+table+` (key, data, `+sortCol+`, missed_sync_count, is_deleted, last_seen_at, updated_at)
			VALUES (?, ?, ?, 0, 0, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				data = excluded.data,
				`+sortCol+` = excluded.`+sortCol+`,
				missed_sync_count = 0,
				is_deleted = 0,
				last_seen_at = excluded.last_seen_at,
				updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("store: prepare upsert: %w", err)
		}
		defer upsert.Close()
		missed, err := tx.PrepareContext(ctx,
			`UPDATE `+table+` SET missed_sync_count = ?, is_deleted = ?, updated_at = ? WHERE key = ?`)
		if err != nil {
			return fmt.Errorf("store: prepare missed: %w", err)
		}
		defer missed.Close()

		for _, row := range reconcile.Plan(previous, keys, syncedAt, threshold) {
			if it, ok := byKey[row.Key]; ok {
				if _, err := upsert.ExecContext(ctx, it.key, string(it.data), it.sort, row.LastSeenAt, row.UpdatedAt); err != nil {
					return fmt.Errorf("store: upsert %s: %w", table, err)
				}
				continue
			}
			if _, err := missed.ExecContext(ctx, row.MissedSyncCount, boolInt(row.IsDeleted), row.UpdatedAt, row.Key); err != nil {
				return fmt.Errorf("store: mark missed %s: %w", table, err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO sync_meta (key, synced_at, source_urls, count) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET synced_at = excluded.synced_at,
				source_urls = excluded.source_urls, count = excluded.count`,
			meta.Key, syncedAt, string(urls), len(keys))
		if err != nil {
			return fmt.Errorf("store: write sync meta: %w", err)
		}
		return nil
	})
	return err
}

func lifecycleRows(ctx context.Context, tx *sql.Tx, table string) ([]reconcile.Row, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT key, missed_sync_count, is_deleted, last_seen_at, updated_at FROM `+table)
	if err != nil {
		return nil, fmt.Errorf("store: read previous %s: %w", table, err)
	}
	defer rows.Close()
	var out []reconcile.Row
	for rows.Next() {
		var r reconcile.Row
		var deleted int
		if err := rows.Scan(&r.Key, &r.MissedSyncCount, &deleted, &r.LastSeenAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan previous %s: %w", table, err)
		}
		r.IsDeleted = deleted != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetSyncMeta returns the sync metadata stored under key, or nil.
func (s *Store) GetSyncMeta(ctx context.Context, key string) (*model.SyncMeta, error) {
	var m model.SyncMeta
	var urls string
	err := s.DB.QueryRowContext(ctx,
		`SELECT key, synced_at, source_urls, count FROM sync_meta WHERE key = ?`, key).
		Scan(&m.Key, &m.SyncedAt, &urls, &m.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get sync meta: %w", err)
	}
	if err := json.Unmarshal([]byte(urls), &m.SourceURLs); err != nil {
		return nil, fmt.Errorf("store: decode sync meta: %w", err)
	}
	return &m, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
