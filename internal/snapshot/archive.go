package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/roach88/benchsync/internal/blob"
	"github.com/roach88/benchsync/internal/model"
)

var (
	// ErrNoBlobStore is returned by Archive and Load without a blob store.
	ErrNoBlobStore = errors.New("no blob store configured")
	// ErrDigestMismatch is returned by Load when an archive's content does
	// not match the digest recorded with it.
	ErrDigestMismatch = errors.New("snapshot digest mismatch")
)

// Backup describes one archived snapshot. It is stored in the local
// backups catalog keyed by the blob key.
type Backup struct {
	Key       string `json:"id"`
	Scope     string `json:"scope"`
	CreatedAt int64  `json:"createdAt"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
	Records   int    `json:"records"`
	Driver    string `json:"driver"`
}

// ArchiveKey returns the blob key of a snapshot of scope taken at ms.
func ArchiveKey(scope string, ms int64) string {
	return "snapshots/" + scope + "/" + strconv.FormatInt(ms, 10) + ".json"
}

// Archive exports scope, writes it to the blob store and records it in the
// backups catalog.
func (s *Service) Archive(ctx context.Context, scope model.Scope) (Backup, error) {
	if s.blobs == nil {
		return Backup{}, ErrNoBlobStore
	}
	snap, err := s.Export(ctx, scope)
	if err != nil {
		return Backup{}, err
	}
	data, err := model.EncodeSnapshot(snap)
	if err != nil {
		return Backup{}, fmt.Errorf("archive %s: %w", scope.Name, err)
	}

	now := s.store.NowMillis()
	b := Backup{
		Key:       ArchiveKey(scope.Name, now),
		Scope:     scope.Name,
		CreatedAt: now,
		Digest:    model.SnapshotDigest(data),
		Records:   snap.Count(),
		Driver:    string(s.blobs.Driver()),
	}
	info, err := s.blobs.Put(ctx, b.Key, bytes.NewReader(data), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"digest": b.Digest,
			"scope":  b.Scope,
		},
	})
	if err != nil {
		return Backup{}, fmt.Errorf("archive %s: %w", scope.Name, err)
	}
	b.Size = info.Size

	if err := s.store.PutLocal(ctx, model.Backups, b.record()); err != nil {
		return Backup{}, fmt.Errorf("archive %s: catalog: %w", scope.Name, err)
	}
	s.logger.Info("snapshot archived", "key", b.Key, "records", b.Records, "size", b.Size)
	return b, nil
}

// Load reads an archived snapshot and verifies its digest against the
// catalog entry, or the blob metadata when the catalog has none.
func (s *Service) Load(ctx context.Context, key string) (model.Snapshot, error) {
	if s.blobs == nil {
		return nil, ErrNoBlobStore
	}
	info, rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}

	want := info.Metadata["digest"]
	if rec, err := s.store.GetLocal(ctx, model.Backups, key); err == nil {
		want = rec.String("digest")
	}
	if want != "" && want != model.SnapshotDigest(data) {
		return nil, fmt.Errorf("load %s: %w", key, ErrDigestMismatch)
	}

	snap, err := model.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return snap, nil
}

// Backups lists the catalog, oldest key first.
func (s *Service) Backups(ctx context.Context) ([]Backup, error) {
	recs, err := s.store.ListLocal(ctx, model.Backups)
	if err != nil {
		return nil, err
	}
	out := make([]Backup, 0, len(recs))
	for _, rec := range recs {
		out = append(out, backupFromRecord(rec))
	}
	return out, nil
}

func (b Backup) record() model.Record {
	return model.Record{
		model.FieldID:        b.Key,
		"scope":              b.Scope,
		model.FieldCreatedAt: b.CreatedAt,
		model.FieldUpdatedAt: b.CreatedAt,
		"digest":             b.Digest,
		"size":               b.Size,
		"records":            b.Records,
		"driver":             b.Driver,
	}
}

func backupFromRecord(rec model.Record) Backup {
	size, _ := model.AsInt64(rec["size"])
	records, _ := model.AsInt64(rec["records"])
	created, _ := model.AsInt64(rec[model.FieldCreatedAt])
	return Backup{
		Key:       rec.ID(),
		Scope:     rec.String("scope"),
		CreatedAt: created,
		Digest:    rec.String("digest"),
		Size:      size,
		Records:   int(records),
		Driver:    rec.String("driver"),
	}
}
