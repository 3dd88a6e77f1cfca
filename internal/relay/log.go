// Package relay is the reference remote: an HTTP service that accepts
// outbox batches from replicas into an append-only change log and serves
// them back as a change feed.
//
// Entries are deduplicated on (origin, seq), so a replica that retries a
// batch after a lost acknowledgement does not create duplicates. The feed
// checkpoint is the log's own sequence number.
package relay

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/benchsync/internal/model"
	"github.com/roach88/benchsync/internal/remote"
	"github.com/roach88/benchsync/internal/store"
)

const logSchema = `
CREATE TABLE IF NOT EXISTS changes (
    checkpoint  INTEGER PRIMARY KEY AUTOINCREMENT,
    origin      TEXT    NOT NULL,
    seq         INTEGER NOT NULL,
    ts          INTEGER NOT NULL,
    entity_type TEXT    NOT NULL,
    entity_id   TEXT    NOT NULL,
    op          TEXT    NOT NULL,
    payload     TEXT,
    UNIQUE (origin, seq)
);
`

// DefaultPageSize caps the entries returned per feed page.
const DefaultPageSize = 500

// Log is the relay's durable change log.
type Log struct {
	db *sql.DB
}

// OpenLog opens or creates the change log at path.
func OpenLog(path string) (*Log, error) {
	db, err := store.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(logSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply relay schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Append records entries from origin in one transaction and returns the
// log head afterwards. Entries already seen are ignored.
func (l *Log) Append(ctx context.Context, origin string, entries []model.OutboxEntry) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append: begin: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		var payload sql.NullString
		if e.Payload != nil {
			data, err := model.MarshalCanonical(e.Payload)
			if err != nil {
				return 0, fmt.Errorf("append %s/%s: %w", e.EntityType, e.EntityID, err)
			}
			payload = sql.NullString{String: string(data), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO changes (origin, seq, ts, entity_type, entity_id, op, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(origin, seq) DO NOTHING
		`, origin, e.Seq, e.Timestamp, string(e.EntityType), e.EntityID, string(e.Op), payload)
		if err != nil {
			return 0, fmt.Errorf("append %s/%s: %w", e.EntityType, e.EntityID, err)
		}
	}

	head, err := headOf(ctx, tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append: commit: %w", err)
	}
	return head, nil
}

// Head returns the highest checkpoint in the log (0 when empty).
func (l *Log) Head(ctx context.Context) (int64, error) {
	return headOf(ctx, l.db)
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func headOf(ctx context.Context, q rowQueryer) (int64, error) {
	var head int64
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(checkpoint), 0) FROM changes`).Scan(&head); err != nil {
		return 0, fmt.Errorf("read log head: %w", err)
	}
	return head, nil
}

// Since returns up to limit entries after checkpoint since, skipping those
// whose origin is exclude. The returned checkpoint covers skipped entries
// too, so the caller never re-reads its own changes.
func (l *Log) Since(ctx context.Context, since int64, exclude string, limit int) (remote.ChangeSet, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT checkpoint, origin, seq, ts, entity_type, entity_id, op, payload
		FROM changes
		WHERE checkpoint > ?
		ORDER BY checkpoint
		LIMIT ?
	`, since, limit+1)
	if err != nil {
		return remote.ChangeSet{}, fmt.Errorf("read changes: %w", err)
	}
	defer rows.Close()

	cs := remote.ChangeSet{Entries: []model.OutboxEntry{}, Checkpoint: since}
	n := 0
	for rows.Next() {
		if n == limit {
			cs.More = true
			break
		}
		n++

		var (
			checkpoint int64
			e          model.OutboxEntry
			typ, op    string
			payload    sql.NullString
		)
		if err := rows.Scan(&checkpoint, &e.Origin, &e.Seq, &e.Timestamp, &typ, &e.EntityID, &op, &payload); err != nil {
			return remote.ChangeSet{}, fmt.Errorf("scan change: %w", err)
		}
		cs.Checkpoint = checkpoint
		if e.Origin == exclude {
			continue
		}
		e.EntityType = model.EntityType(typ)
		e.Op = model.Op(op)
		if payload.Valid {
			rec, err := model.DecodeRecord([]byte(payload.String))
			if err != nil {
				return remote.ChangeSet{}, fmt.Errorf("scan change %d: %w", checkpoint, err)
			}
			e.Payload = rec
		}
		cs.Entries = append(cs.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return remote.ChangeSet{}, fmt.Errorf("iterate changes: %w", err)
	}
	return cs, nil
}
