package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/thefortaiagency/aether-insight/internal/models"
)

// Repository provides data access methods
type Repository struct {
	store
	db *sql.DB
}

// Tx is a Store bound to an open transaction
type Tx struct {
	store
}

// New creates a new Repository
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Writes must survive a crash the moment they return.
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	repo := wrap(db)

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

func wrap(db *sql.DB) *Repository {
	return &Repository{store: store{q: db}, db: db}
}

// DB returns the underlying database connection
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Close closes the database connection
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks if the database connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate runs database migrations
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS records (
			namespace TEXT NOT NULL,
			id TEXT NOT NULL,
			match_id TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			synced BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (namespace, id)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_match ON records(namespace, match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_records_synced ON records(namespace, synced)`,
	}

	for _, m := range migrations {
		if _, err := r.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// WithTx runs fn inside one transaction. Nothing fn wrote is visible unless
// it returns nil.
func (r *Repository) WithTx(ctx context.Context, fn func(tx Store) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&Tx{store: store{q: sqlTx}}); err != nil {
		sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

// RecordScoreAndEnqueue writes a scoring event, the match snapshot it
// produced and the queued remote operations as one unit.
func (r *Repository) RecordScoreAndEnqueue(ctx context.Context, m *models.Match, e models.ScoringEvent, ops ...*models.PendingOperation) error {
	return r.WithTx(ctx, func(tx Store) error {
		if err := tx.AppendEvent(ctx, e); err != nil {
			return err
		}
		if err := tx.SaveMatch(ctx, m); err != nil {
			return err
		}
		for _, op := range ops {
			if err := tx.SavePendingOp(ctx, op); err != nil {
				return err
			}
		}
		return nil
	})
}

// RewriteMatchID replaces a temporary match id with the remote one across the
// match record and every event, video and pending operation that refers to
// it. Rewriting an id that was already rewritten is a no-op.
func (r *Repository) RewriteMatchID(ctx context.Context, oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	return r.WithTx(ctx, func(tx Store) error {
		return rewriteMatchID(ctx, tx, oldID, newID)
	})
}

func rewriteMatchID(ctx context.Context, tx Store, oldID, newID string) error {
	rec, err := tx.GetRecord(ctx, NSMatch, oldID)
	if err == ErrNotFound {
		if _, err := tx.GetRecord(ctx, NSMatch, newID); err == nil {
			return nil
		}
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var m models.Match
	if err := rec.Decode(&m); err != nil {
		return err
	}
	m.ID = newID
	m.RemoteID = newID
	if err := tx.Put(ctx, NSMatch, newID, newID, &m, rec.Synced); err != nil {
		return err
	}
	if err := tx.Delete(ctx, NSMatch, oldID); err != nil {
		return err
	}

	events, err := tx.ListByMatch(ctx, NSEvent, oldID)
	if err != nil {
		return err
	}
	for _, rec := range events {
		var e models.ScoringEvent
		if err := rec.Decode(&e); err != nil {
			return err
		}
		e.MatchID = newID
		if err := tx.Put(ctx, NSEvent, e.ID, newID, &e, rec.Synced); err != nil {
			return err
		}
	}

	videos, err := tx.ListByMatch(ctx, NSVideo, oldID)
	if err != nil {
		return err
	}
	for _, rec := range videos {
		var v models.VideoAsset
		if err := rec.Decode(&v); err != nil {
			return err
		}
		v.MatchID = newID
		if err := tx.Put(ctx, NSVideo, v.ID, newID, &v, rec.Synced); err != nil {
			return err
		}
	}

	ops, err := tx.ListByMatch(ctx, NSPendingOp, oldID)
	if err != nil {
		return err
	}
	for _, rec := range ops {
		var op models.PendingOperation
		if err := rec.Decode(&op); err != nil {
			return err
		}
		op.MatchID = newID
		if op.EntityID == oldID {
			op.EntityID = newID
		}
		if err := tx.Put(ctx, NSPendingOp, op.ID, newID, &op, false); err != nil {
			return err
		}
	}
	return nil
}

// ==================== Settings Methods ====================

// GetSetting retrieves a setting value
func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetSetting updates a setting value
func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
	return err
}

// ==================== Usage Methods ====================

// NamespaceUsage is the footprint of one namespace
type NamespaceUsage struct {
	Namespace Namespace `json:"namespace"`
	Records   int       `json:"records"`
	Bytes     int64     `json:"bytes"`
	Unsynced  int       `json:"unsynced"`
}

// StorageUsage is the on-device footprint of the local store
type StorageUsage struct {
	Namespaces   []NamespaceUsage `json:"namespaces"`
	TotalRecords int              `json:"total_records"`
	TotalBytes   int64            `json:"total_bytes"`
	Unsynced     int              `json:"unsynced"`
}

// StorageUsage reports record counts, bytes and unsynced counts per namespace.
func (r *Repository) StorageUsage(ctx context.Context) (*StorageUsage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT namespace, COUNT(*), COALESCE(SUM(size), 0),
			COALESCE(SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END), 0)
		FROM records
		GROUP BY namespace
		ORDER BY namespace
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := &StorageUsage{Namespaces: []NamespaceUsage{}}
	for rows.Next() {
		var nu NamespaceUsage
		if err := rows.Scan(&nu.Namespace, &nu.Records, &nu.Bytes, &nu.Unsynced); err != nil {
			return nil, err
		}
		usage.Namespaces = append(usage.Namespaces, nu)
		usage.TotalRecords += nu.Records
		usage.TotalBytes += nu.Bytes
		usage.Unsynced += nu.Unsynced
	}
	return usage, rows.Err()
}

// ==================== Database Management Methods ====================

// clearableNamespaces defines which namespaces can be safely cleared.
// Matches, events, videos and queued operations are never bulk-deleted.
var clearableNamespaces = map[Namespace]bool{
	NSImport: true, NSReview: true, NSWrestler: true,
}

// ClearNamespace deletes every record in a whitelisted namespace
func (r *Repository) ClearNamespace(ctx context.Context, ns Namespace) error {
	if !clearableNamespaces[ns] {
		return ErrInvalidNamespace
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE namespace = ?`, string(ns))
	return err
}
