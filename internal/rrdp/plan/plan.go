// Package plan implements the Session Planner's decision procedure:
// extend the previous session with a new serial and delta, or retire
// it and start fresh, then prune delta history to the configured cap.
package plan

import (
	"sort"

	"github.com/google/uuid"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/diff"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/model"
)

// DefaultMaxDeltas is used when the operator does not override it.
const DefaultMaxDeltas = 25

// MinMaxDeltas is the floor enforced on the --max_deltas flag.
const MinMaxDeltas = 1

// Plan is the Session Planner's output. The Publisher serializes
// Snapshot and NewDelta, hashes the resulting bytes, and combines
// those hashes with RetainedDeltaHashes (the unchanged hashes of
// still-referenced, already-on-disk delta bodies) to build the
// notification's delta_refs.
type Plan struct {
	// Changed is false when the computed delta against previous state
	// is empty; the run is a no-op and nothing is written.
	Changed bool
	// Fresh is true when a new session_id was minted (previous state
	// unusable or no previous notification existed).
	Fresh bool

	SessionID uuid.UUID
	Serial    uint64
	Snapshot  model.Snapshot

	// NewDelta is nil for a fresh session's first serial (serial 1
	// never has a delta) and for a no-op run.
	NewDelta *model.Delta

	// RetainedDeltaHashes maps serial to the hash of a previously
	// persisted delta body that remains within the max_deltas window
	// and must still be referenced by the new notification.
	RetainedDeltaHashes map[uint64]string
}

// NewSessionID mints a cryptographically random UUID v4.
func NewSessionID() (uuid.UUID, error) {
	return uuid.NewRandom()
}

// Decide chooses between extending the previous session and starting a
// fresh one. previous is nil when the Session Store reported previous
// state unusable or absent. scanned is the Source Scanner's output for
// this run, keyed by URI.
func Decide(previous *model.State, scanned map[string]model.Object, maxDeltas int) (Plan, error) {
	if maxDeltas < MinMaxDeltas {
		maxDeltas = MinMaxDeltas
	}

	if previous == nil {
		sessionID, err := NewSessionID()
		if err != nil {
			return Plan{}, err
		}
		snapshot := model.Snapshot{SessionID: sessionID, Serial: 1, Objects: scanned}
		return Plan{
			Changed:  true,
			Fresh:    true,
			Snapshot: snapshot,

			SessionID: sessionID,
			Serial:    1,
		}, nil
	}

	sessionID := previous.Notification.SessionID
	newSerial := previous.Notification.Serial + 1
	newSnapshot := model.Snapshot{SessionID: sessionID, Serial: newSerial, Objects: scanned}

	delta := diff.Compute(previous.Snapshot, newSnapshot)
	if delta.IsEmpty() {
		return Plan{Changed: false}, nil
	}
	delta.SessionID = sessionID
	delta.Serial = newSerial

	retained := retainedHashes(previous, maxDeltas)

	return Plan{
		Changed:             true,
		Fresh:               false,
		SessionID:           sessionID,
		Serial:              newSerial,
		Snapshot:            newSnapshot,
		NewDelta:            &delta,
		RetainedDeltaHashes: retained,
	}, nil
}

// retainedHashes selects, from the previous notification's delta
// references, the (maxDeltas-1) most recent serials' hashes: the new
// delta about to be added occupies the final slot in the window.
// Appending the new delta first and truncating afterward, rather than
// truncating the old list to maxDeltas and then appending, keeps the
// cap an absolute bound on what the new notification lists.
func retainedHashes(previous *model.State, maxDeltas int) map[uint64]string {
	serials := make([]uint64, 0, len(previous.Notification.DeltaRefs))
	hashes := make(map[uint64]string, len(previous.Notification.DeltaRefs))
	for _, ref := range previous.Notification.DeltaRefs {
		serials = append(serials, ref.Serial)
		hashes[ref.Serial] = ref.Hash
	}
	sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })

	keep := maxDeltas - 1
	if keep < 0 {
		keep = 0
	}
	if len(serials) > keep {
		serials = serials[len(serials)-keep:]
	}

	out := make(map[uint64]string, len(serials))
	for _, s := range serials {
		out[s] = hashes[s]
	}
	return out
}
