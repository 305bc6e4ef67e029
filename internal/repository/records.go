package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"sort"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/thefortaiagency/aether-insight/internal/models"
)

// Namespace partitions the record table
type Namespace string

const (
	NSMatch     Namespace = "match"
	NSEvent     Namespace = "event"
	NSVideo     Namespace = "video"
	NSPendingOp Namespace = "pending_op"
	NSWrestler  Namespace = "wrestler"
	NSReview    Namespace = "review"
	NSImport    Namespace = "import"
)

// Record is one stored row
type Record struct {
	Namespace Namespace
	ID        string
	MatchID   string
	Body      json.RawMessage
	Size      int64
	Synced    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Decode unmarshals the record body into v.
func (r Record) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type store struct {
	q querier
}

const recordColumns = `namespace, id, match_id, body, size, synced, created_at, updated_at`

// ==================== Record Methods ====================

// Put upserts a record. The write is complete when Put returns.
func (s store) Put(ctx context.Context, ns Namespace, id, matchID string, v any, synced bool) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, id) DO UPDATE SET
			match_id = excluded.match_id,
			body = excluded.body,
			size = excluded.size,
			synced = excluded.synced,
			updated_at = excluded.updated_at
	`, string(ns), id, matchID, string(body), len(body), synced, now, now)
	return err
}

// Insert writes a record that must not already exist.
func (s store) Insert(ctx context.Context, ns Namespace, id, matchID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.q.ExecContext(ctx, `INSERT INTO records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ns), id, matchID, string(body), len(body), false, now, now)
	if isConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

func isConstraintError(err error) bool {
	var se sqlite3.Error
	return err != nil && stderrors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

// Get decodes a single record into v.
func (s store) Get(ctx context.Context, ns Namespace, id string, v any) error {
	rec, err := s.GetRecord(ctx, ns, id)
	if err != nil {
		return err
	}
	return rec.Decode(v)
}

// GetRecord returns a single raw record.
func (s store) GetRecord(ctx context.Context, ns Namespace, id string) (*Record, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE namespace = ? AND id = ?`, string(ns), id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (s store) Delete(ctx context.Context, ns Namespace, id string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM records WHERE namespace = ? AND id = ?`, string(ns), id)
	return err
}

// List returns every record in ns in insertion order.
func (s store) List(ctx context.Context, ns Namespace) ([]Record, error) {
	return s.query(ctx, `SELECT `+recordColumns+` FROM records WHERE namespace = ? ORDER BY rowid`, string(ns))
}

// ListByMatch returns the records in ns that belong to matchID.
func (s store) ListByMatch(ctx context.Context, ns Namespace, matchID string) ([]Record, error) {
	return s.query(ctx, `SELECT `+recordColumns+` FROM records WHERE namespace = ? AND match_id = ? ORDER BY rowid`, string(ns), matchID)
}

// ListUnsynced returns the records in ns not yet confirmed by the remote.
func (s store) ListUnsynced(ctx context.Context, ns Namespace) ([]Record, error) {
	return s.query(ctx, `SELECT `+recordColumns+` FROM records WHERE namespace = ? AND synced = 0 ORDER BY rowid`, string(ns))
}

// MarkSynced flags a record as confirmed by the remote.
func (s store) MarkSynced(ctx context.Context, ns Namespace, id string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE records SET synced = 1, updated_at = ? WHERE namespace = ? AND id = ?`,
		time.Now().UTC(), string(ns), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec  Record
		ns   string
		body string
	)
	if err := sc.Scan(&ns, &rec.ID, &rec.MatchID, &body, &rec.Size, &rec.Synced, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Namespace = Namespace(ns)
	rec.Body = json.RawMessage(body)
	return &rec, nil
}

func (s store) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func decodeAll[T any](recs []Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := rec.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ==================== Match Methods ====================

// SaveMatch writes the match snapshot and marks it as having local changes.
func (s store) SaveMatch(ctx context.Context, m *models.Match) error {
	return s.Put(ctx, NSMatch, m.ID, m.ID, m, false)
}

// GetMatch retrieves a match snapshot
func (s store) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	var m models.Match
	if err := s.Get(ctx, NSMatch, id, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMatches returns every match snapshot in creation order
func (s store) ListMatches(ctx context.Context) ([]models.Match, error) {
	recs, err := s.List(ctx, NSMatch)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.Match](recs)
}

// ==================== Event Methods ====================

// AppendEvent inserts a scoring event. A second write of the same event id
// fails with ErrDuplicate.
func (s store) AppendEvent(ctx context.Context, e models.ScoringEvent) error {
	return s.Insert(ctx, NSEvent, e.ID, e.MatchID, e)
}

// ListEvents returns a match's events ordered by sequence number
func (s store) ListEvents(ctx context.Context, matchID string) ([]models.ScoringEvent, error) {
	recs, err := s.ListByMatch(ctx, NSEvent, matchID)
	if err != nil {
		return nil, err
	}
	events, err := decodeAll[models.ScoringEvent](recs)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events, nil
}

// ==================== Video Methods ====================

// SaveVideo writes a video asset. Confirmed assets are stored as synced.
func (s store) SaveVideo(ctx context.Context, v *models.VideoAsset) error {
	return s.Put(ctx, NSVideo, v.ID, v.MatchID, v, v.SyncStatus == models.VideoSynced)
}

// GetVideo retrieves a video asset
func (s store) GetVideo(ctx context.Context, id string) (*models.VideoAsset, error) {
	var v models.VideoAsset
	if err := s.Get(ctx, NSVideo, id, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVideos returns every video asset
func (s store) ListVideos(ctx context.Context) ([]models.VideoAsset, error) {
	recs, err := s.List(ctx, NSVideo)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.VideoAsset](recs)
}

// ==================== Pending Operation Methods ====================

// SavePendingOp upserts a queued operation
func (s store) SavePendingOp(ctx context.Context, op *models.PendingOperation) error {
	return s.Put(ctx, NSPendingOp, op.ID, op.MatchID, op, false)
}

// GetPendingOp retrieves a queued operation
func (s store) GetPendingOp(ctx context.Context, id string) (*models.PendingOperation, error) {
	var op models.PendingOperation
	if err := s.Get(ctx, NSPendingOp, id, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// GetPendingOpByKey finds a queued operation by idempotency key
func (s store) GetPendingOpByKey(ctx context.Context, key string) (*models.PendingOperation, error) {
	ops, err := s.ListPendingOps(ctx)
	if err != nil {
		return nil, err
	}
	for i := range ops {
		if ops[i].IdempotencyKey == key {
			return &ops[i], nil
		}
	}
	return nil, ErrNotFound
}

// ListPendingOps returns every queued operation in enqueue order
func (s store) ListPendingOps(ctx context.Context) ([]models.PendingOperation, error) {
	recs, err := s.List(ctx, NSPendingOp)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.PendingOperation](recs)
}

// DeletePendingOp removes an acknowledged operation
func (s store) DeletePendingOp(ctx context.Context, id string) error {
	return s.Delete(ctx, NSPendingOp, id)
}

// ==================== Wrestler Methods ====================

// SaveWrestler caches a roster entry
func (s store) SaveWrestler(ctx context.Context, w *models.RosterWrestler) error {
	return s.Put(ctx, NSWrestler, w.ID, "", w, w.RemoteID != "")
}

// ListWrestlers returns the cached roster
func (s store) ListWrestlers(ctx context.Context) ([]models.RosterWrestler, error) {
	recs, err := s.List(ctx, NSWrestler)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.RosterWrestler](recs)
}

// ==================== Review Methods ====================

// SaveReviewItem stores an item awaiting operator resolution
func (s store) SaveReviewItem(ctx context.Context, item *models.ReviewItem) error {
	return s.Put(ctx, NSReview, item.ID, "", item, false)
}

// GetReviewItem retrieves a review item
func (s store) GetReviewItem(ctx context.Context, id string) (*models.ReviewItem, error) {
	var item models.ReviewItem
	if err := s.Get(ctx, NSReview, id, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListReviewItems returns the review queue oldest first
func (s store) ListReviewItems(ctx context.Context) ([]models.ReviewItem, error) {
	recs, err := s.List(ctx, NSReview)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.ReviewItem](recs)
}

// DeleteReviewItem removes a resolved review item
func (s store) DeleteReviewItem(ctx context.Context, id string) error {
	return s.Delete(ctx, NSReview, id)
}
