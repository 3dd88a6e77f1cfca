package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for digests. The version suffix allows the algorithm to
// change without colliding with older digests.
const (
	DomainRecord   = "benchsync/record/v1"
	DomainSnapshot = "benchsync/snapshot/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator keeps domain and payload boundaries unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RecordDigest returns the content digest of a record's canonical form.
func RecordDigest(r Record) (string, error) {
	data, err := MarshalCanonical(r)
	if err != nil {
		return "", fmt.Errorf("record digest: %w", err)
	}
	return hashWithDomain(DomainRecord, data), nil
}

// SnapshotDigest returns the checksum of an encoded snapshot.
func SnapshotDigest(encoded []byte) string {
	return hashWithDomain(DomainSnapshot, encoded)
}

// RecordsEqual reports whether a and b have the same canonical form.
// Records that cannot be canonicalized are never equal.
func RecordsEqual(a, b Record) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	da, err := MarshalCanonical(a)
	if err != nil {
		return false
	}
	db, err := MarshalCanonical(b)
	if err != nil {
		return false
	}
	return string(da) == string(db)
}
