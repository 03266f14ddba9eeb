// Package model holds the data types shared across the publication
// engine: repository objects, snapshots, deltas, notifications, and
// the session they compose into.
package model

import (
	"sort"

	"github.com/google/uuid"
)

// Object is a single repository object keyed by its rsync URI, as
// scanned from the source tree or recovered from a parsed snapshot.
// Hash is always the lowercase-hex SHA-256 of Bytes.
type Object struct {
	URI   string
	Bytes []byte
	Hash  string
}

// Snapshot is a full enumeration of repository objects at a given
// serial within a session. Objects is keyed by URI; URIs are pairwise
// distinct by construction.
type Snapshot struct {
	SessionID uuid.UUID
	Serial    uint64
	Objects   map[string]Object
}

// SortedURIs returns the snapshot's object URIs in ascending order.
func (s Snapshot) SortedURIs() []string {
	uris := make([]string, 0, len(s.Objects))
	for uri := range s.Objects {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// Publish is an object introduced at this delta with no prior version.
type Publish struct {
	URI   string
	Bytes []byte
	Hash  string
}

// Update is an object replaced at this delta; OldHash is the hash it
// carried at serial-1.
type Update struct {
	URI     string
	Bytes   []byte
	Hash    string
	OldHash string
}

// Withdraw removes an object that existed at serial-1 with OldHash.
type Withdraw struct {
	URI     string
	OldHash string
}

// Delta is the set of publishes, updates, and withdraws that carry a
// session from serial-1 to serial.
type Delta struct {
	SessionID uuid.UUID
	Serial    uint64
	Publishes []Publish
	Updates   []Update
	Withdraws []Withdraw
}

// IsEmpty reports whether the delta has no entries at all, in which
// case the Session Planner treats the run as a no-op.
func (d Delta) IsEmpty() bool {
	return len(d.Publishes) == 0 && len(d.Updates) == 0 && len(d.Withdraws) == 0
}

// SnapshotRef names the snapshot document a notification points at.
type SnapshotRef struct {
	URI  string
	Hash string
}

// DeltaRef names one delta document a notification points at.
type DeltaRef struct {
	Serial uint64
	URI    string
	Hash   string
}

// Notification is the entry-point document readers poll. DeltaRefs is
// logically a set; ordering for emission is handled by the codec.
type Notification struct {
	SessionID   uuid.UUID
	Serial      uint64
	SnapshotRef SnapshotRef
	DeltaRefs   []DeltaRef
}

// State is the fully loaded previous session: the notification, the
// full object set it resolves to, and the deltas retained in it,
// keyed by serial. It is the Session Store's "load current state"
// result once every sanity check on the recovered files passes.
type State struct {
	Notification Notification
	Snapshot     Snapshot
	Deltas       map[uint64]Delta
}
