package merge

import (
	"fmt"

	"github.com/roach88/benchsync/internal/model"
)

// TieBreak selects the winner between two versions with equal updatedAt.
type TieBreak int

const (
	// TieBreakDigest prefers the version with the greater canonical digest.
	// Identical versions resolve to the incoming side.
	TieBreakDigest TieBreak = iota
	// TieBreakRemote always prefers the incoming side.
	TieBreakRemote
)

// String returns the config name of the tie-break.
func (tb TieBreak) String() string {
	switch tb {
	case TieBreakDigest:
		return "digest"
	case TieBreakRemote:
		return "remote"
	default:
		return fmt.Sprintf("TieBreak(%d)", int(tb))
	}
}

// ParseTieBreak parses a config value ("digest" or "remote").
func ParseTieBreak(s string) (TieBreak, error) {
	switch s {
	case "", "digest":
		return TieBreakDigest, nil
	case "remote":
		return TieBreakRemote, nil
	}
	return 0, fmt.Errorf("unknown tie-break %q (want digest or remote)", s)
}

// Engine merges entity versions. The zero value uses TieBreakDigest.
type Engine struct {
	TieBreak TieBreak
}

// Merge returns the version of an entity that should be stored, given the
// local copy and the incoming (remote or other-window) copy. Either side may
// be nil; if both are nil the result is nil.
func (e Engine) Merge(t model.EntityType, local, remote model.Record) model.Record {
	switch {
	case local == nil && remote == nil:
		return nil
	case local == nil:
		return remote.Clone()
	case remote == nil:
		return local.Clone()
	}

	if t == model.Tickets {
		return e.mergeTicket(local, remote)
	}
	if e.remoteIsNewest(local, remote, local, remote) {
		return remote.Clone()
	}
	return local.Clone()
}

// remoteIsNewest reports whether remote should be treated as the newest side.
// Timestamps are compared first; for equal timestamps the tie-break decides
// using the digests of localKey and remoteKey.
func (e Engine) remoteIsNewest(local, remote, localKey, remoteKey model.Record) bool {
	lu, ru := local.UpdatedAt(), remote.UpdatedAt()
	if ru != lu {
		return ru > lu
	}
	if e.TieBreak == TieBreakRemote {
		return true
	}
	return digestAtLeast(remoteKey, localKey)
}

// digestAtLeast reports whether digest(a) >= digest(b). A record that cannot
// be digested never beats one that can.
func digestAtLeast(a, b model.Record) bool {
	da, errA := model.RecordDigest(a)
	db, errB := model.RecordDigest(b)
	switch {
	case errA != nil && errB != nil:
		return true
	case errA != nil:
		return false
	case errB != nil:
		return true
	}
	return da >= db
}

// preferIncoming picks between two values sharing a key (history entries
// with the same timestamp). The incoming value wins under TieBreakRemote;
// under TieBreakDigest the greater canonical form wins, whichever side holds
// it.
func (e Engine) preferIncoming(existing, incoming any) bool {
	if e.TieBreak == TieBreakRemote {
		return true
	}
	a, errA := model.MarshalCanonical(incoming)
	b, errB := model.MarshalCanonical(existing)
	if errA != nil || errB != nil {
		return errA == nil
	}
	return string(a) >= string(b)
}
