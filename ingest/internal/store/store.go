// Package store is the SQLite persistence adapter for the ingestion engine:
// the source registry, the event and spot sets with their missed-sync
// lifecycle, sync metadata, and the durable geocode and route tiers.
//
// Open the database with dbopen and blank-import modernc.org/sqlite:
//
//	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(store.Schema))
//	st := store.New(db)
package store

import (
	"database/sql"
	"time"

	"github.com/hazyhaar/tripsync/idgen"
	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

// Store wraps the tripsync database.
type Store struct {
	DB    *sql.DB
	now   func() time.Time
	newID idgen.Generator
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for created/updated stamps (for testing).
func WithClock(fn func() time.Time) Option { return func(s *Store) { s.now = fn } }

// WithIDGenerator sets the source id generator. Default: idgen.Default.
func WithIDGenerator(g idgen.Generator) Option { return func(s *Store) { s.newID = g } }

// New creates a Store from an already-opened database connection.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{DB: db, now: time.Now, newID: idgen.Default}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) stamp() string { return model.FormatTime(s.now()) }

// ApplySchema creates all tables and indexes if they do not exist.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
