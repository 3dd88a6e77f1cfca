package store

import (
	"database/sql"
	"fmt"

	"github.com/roach88/benchsync/internal/model"
)

// encodePayload converts a record to canonical JSON TEXT for storage.
// Canonical form keeps stored rows byte-stable, so identical records compare
// equal on disk.
func encodePayload(rec model.Record) (string, error) {
	data, err := model.MarshalCanonical(rec)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// decodePayload parses stored JSON TEXT back to a record.
// Uses json.Number so large integer ids survive the round trip.
func decodePayload(data string) (model.Record, error) {
	rec, err := model.DecodeRecord([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return rec, nil
}

// scanRecords reads every payload column from rows and closes them.
func scanRecords(rows *sql.Rows, what string) ([]model.Record, error) {
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		rec, err := decodePayload(payload)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return out, nil
}

// scanOutbox reads outbox rows (seq, ts, entity_type, entity_id, op, payload,
// origin) and closes them.
func scanOutbox(rows *sql.Rows) ([]model.OutboxEntry, error) {
	defer rows.Close()

	var out []model.OutboxEntry
	for rows.Next() {
		var (
			e       model.OutboxEntry
			typ, op string
			payload sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.Timestamp, &typ, &e.EntityID, &op, &payload, &e.Origin); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		e.EntityType = model.EntityType(typ)
		e.Op = model.Op(op)
		if payload.Valid {
			rec, err := decodePayload(payload.String)
			if err != nil {
				return nil, fmt.Errorf("scan outbox seq %d: %w", e.Seq, err)
			}
			e.Payload = rec
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return out, nil
}
