package store

// Schema is the complete tripsync schema.
const Schema = `
CREATE TABLE IF NOT EXISTS sources (
    id              TEXT PRIMARY KEY,
    source_type     TEXT NOT NULL,
    url             TEXT NOT NULL,
    label           TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'active',
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL,
    last_synced_at  TEXT NOT NULL DEFAULT '',
    last_error      TEXT NOT NULL DEFAULT '',
    rss_state_json  TEXT NOT NULL DEFAULT '',
    UNIQUE (url, source_type)
);
CREATE INDEX IF NOT EXISTS idx_sources_type ON sources(source_type, status);

-- Events and spots keep the full record as JSON next to the lifecycle
-- columns the reconciler owns.
CREATE TABLE IF NOT EXISTS events (
    key                TEXT PRIMARY KEY,
    data               TEXT NOT NULL,
    start_date_iso     TEXT NOT NULL DEFAULT '',
    missed_sync_count  INTEGER NOT NULL DEFAULT 0,
    is_deleted         INTEGER NOT NULL DEFAULT 0,
    last_seen_at       TEXT NOT NULL DEFAULT '',
    updated_at         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_live ON events(is_deleted, start_date_iso);

CREATE TABLE IF NOT EXISTS spots (
    key                TEXT PRIMARY KEY,
    data               TEXT NOT NULL,
    sort_key           TEXT NOT NULL DEFAULT '',
    missed_sync_count  INTEGER NOT NULL DEFAULT 0,
    is_deleted         INTEGER NOT NULL DEFAULT 0,
    last_seen_at       TEXT NOT NULL DEFAULT '',
    updated_at         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_spots_live ON spots(is_deleted, sort_key);

CREATE TABLE IF NOT EXISTS sync_meta (
    key          TEXT PRIMARY KEY,
    synced_at    TEXT NOT NULL,
    source_urls  TEXT NOT NULL DEFAULT '[]',
    count        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS geocode_cache (
    address_key   TEXT PRIMARY KEY,
    address_text  TEXT NOT NULL DEFAULT '',
    lat           REAL NOT NULL,
    lng           REAL NOT NULL,
    updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS route_cache (
    key                     TEXT PRIMARY KEY,
    encoded_polyline        TEXT NOT NULL,
    total_distance_meters   REAL NOT NULL DEFAULT 0,
    total_duration_seconds  REAL NOT NULL DEFAULT 0,
    updated_at              TEXT NOT NULL
);
`
