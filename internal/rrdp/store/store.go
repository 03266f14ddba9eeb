// Package store implements the Session Store: recovering the previous
// RRDP session from the target directory, persisting a new one
// atomically, and enumerating on-disk artifacts for the Cleaner. The
// on-disk layout is the persisted state machine:
//
//	<target>/notification.xml
//	<target>/<session_id>/<serial>/snapshot.xml
//	<target>/<session_id>/<serial>/delta.xml   (absent for serial 1)
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gitlab.com/rpki/rrdpublish/internal/rrdp/codec"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/hasher"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/model"
)

const (
	notificationFileName = "notification.xml"
	snapshotFileName     = "snapshot.xml"
	deltaFileName        = "delta.xml"
)

// Store owns all reads and writes of the target directory's on-disk
// RRDP state.
type Store struct {
	TargetDir string
}

// New returns a Store rooted at targetDir.
func New(targetDir string) *Store {
	return &Store{TargetDir: targetDir}
}

// LoadResult is the outcome of recovering previous state. A non-nil
// State is fully sanity-checked and safe to extend. A nil State means
// the previous state is unusable (or absent); Reason explains why and
// is suitable for info-level logging, never a warning.
type LoadResult struct {
	State  *model.State
	Reason string
}

// Load recovers the previous session from the target directory,
// performing every sanity check on the recovered files. Any parse
// error, missing file, hash mismatch, broken delta chain, or
// session_id disagreement is reported via Reason rather than returned
// as an error: these are locally downgraded to "previous state
// unusable" inside the Session Store.
func (s *Store) Load() LoadResult {
	notifPath := filepath.Join(s.TargetDir, notificationFileName)
	data, err := os.ReadFile(notifPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return LoadResult{Reason: "no previous notification file"}
		}
		return LoadResult{Reason: fmt.Sprintf("reading notification.xml: %v", err)}
	}

	notification, err := codec.ParseNotification(data)
	if err != nil {
		return LoadResult{Reason: fmt.Sprintf("parsing notification.xml: %v", err)}
	}

	sessionDir := filepath.Join(s.TargetDir, notification.SessionID.String())
	serialDir := filepath.Join(sessionDir, strconv.FormatUint(notification.Serial, 10))

	snapshot, reason := s.loadSnapshot(serialDir, notification)
	if reason != "" {
		return LoadResult{Reason: reason}
	}

	deltas, reason := s.loadDeltas(sessionDir, notification)
	if reason != "" {
		return LoadResult{Reason: reason}
	}

	return LoadResult{State: &model.State{
		Notification: notification,
		Snapshot:     snapshot,
		Deltas:       deltas,
	}}
}

func (s *Store) loadSnapshot(serialDir string, notification model.Notification) (model.Snapshot, string) {
	path := filepath.Join(serialDir, snapshotFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Snapshot{}, fmt.Sprintf("reading referenced snapshot %s: %v", path, err)
	}
	if got := hasher.Sum(data); got != notification.SnapshotRef.Hash {
		return model.Snapshot{}, fmt.Sprintf("snapshot %s hash mismatch: have %s, notification says %s", path, got, notification.SnapshotRef.Hash)
	}
	snapshot, err := codec.ParseSnapshot(data)
	if err != nil {
		return model.Snapshot{}, fmt.Sprintf("parsing snapshot %s: %v", path, err)
	}
	if snapshot.SessionID != notification.SessionID {
		return model.Snapshot{}, fmt.Sprintf("snapshot %s session_id disagrees with notification", path)
	}
	if snapshot.Serial != notification.Serial {
		return model.Snapshot{}, fmt.Sprintf("snapshot %s serial disagrees with notification", path)
	}
	return snapshot, ""
}

func (s *Store) loadDeltas(sessionDir string, notification model.Notification) (map[uint64]model.Delta, string) {
	deltas := make(map[uint64]model.Delta, len(notification.DeltaRefs))
	if len(notification.DeltaRefs) == 0 {
		return deltas, ""
	}

	serials := make([]uint64, len(notification.DeltaRefs))
	refsBySerial := make(map[uint64]model.DeltaRef, len(notification.DeltaRefs))
	for i, ref := range notification.DeltaRefs {
		serials[i] = ref.Serial
		if _, dup := refsBySerial[ref.Serial]; dup {
			return nil, fmt.Sprintf("duplicate delta serial %d in notification", ref.Serial)
		}
		refsBySerial[ref.Serial] = ref
	}
	sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })
	if serials[len(serials)-1] != notification.Serial {
		return nil, "highest delta serial does not match notification serial"
	}
	for i := 1; i < len(serials); i++ {
		if serials[i] != serials[i-1]+1 {
			return nil, "delta chain is not consecutive"
		}
	}

	for _, serial := range serials {
		ref := refsBySerial[serial]
		path := filepath.Join(sessionDir, strconv.FormatUint(serial, 10), deltaFileName)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Sprintf("reading referenced delta %s: %v", path, err)
		}
		if got := hasher.Sum(data); got != ref.Hash {
			return nil, fmt.Sprintf("delta %s hash mismatch: have %s, notification says %s", path, got, ref.Hash)
		}
		delta, err := codec.ParseDelta(data)
		if err != nil {
			return nil, fmt.Sprintf("parsing delta %s: %v", path, err)
		}
		if delta.SessionID != notification.SessionID {
			return nil, fmt.Sprintf("delta %s session_id disagrees with notification", path)
		}
		if delta.Serial != serial {
			return nil, fmt.Sprintf("delta %s serial disagrees with its reference", path)
		}
		deltas[serial] = delta
	}
	return deltas, ""
}

// Persist writes a new session's bodies, then the notification: bodies
// first, notification last, each staged via temp-file-then-rename so a
// reader never observes a partially written file.
func (s *Store) Persist(sessionID string, serial uint64, snapshotBytes, deltaBytes, notificationBytes []byte) error {
	serialDir := filepath.Join(s.TargetDir, sessionID, strconv.FormatUint(serial, 10))
	if err := os.MkdirAll(serialDir, 0o755); err != nil {
		return fmt.Errorf("create session directory %s: %w", serialDir, err)
	}
	if err := writeAtomic(filepath.Join(serialDir, snapshotFileName), snapshotBytes); err != nil {
		return err
	}
	if deltaBytes != nil {
		if err := writeAtomic(filepath.Join(serialDir, deltaFileName), deltaBytes); err != nil {
			return err
		}
	}
	if err := writeAtomic(filepath.Join(s.TargetDir, notificationFileName), notificationBytes); err != nil {
		return err
	}
	return nil
}

// writeAtomic writes data to a temp file beside path, fsyncs it, then
// renames it over path. Rename is atomic within a filesystem, and
// since the temp file lives in the same directory as its target this
// never crosses filesystem boundaries.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place %s: %w", path, err)
	}
	return nil
}

// SessionArtifacts is one on-disk <session_id> directory together
// with the serial subdirectories found beneath it.
type SessionArtifacts struct {
	SessionID string
	Serials   []string
}

// Enumerate yields every <session_id> directory and every
// <session_id>/<serial>/ directory under the target, for the Cleaner
// to reconcile against the current notification.
func (s *Store) Enumerate() ([]SessionArtifacts, error) {
	entries, err := os.ReadDir(s.TargetDir)
	if err != nil {
		return nil, fmt.Errorf("read target directory %s: %w", s.TargetDir, err)
	}
	var out []SessionArtifacts
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sessionPath := filepath.Join(s.TargetDir, e.Name())
		serialEntries, err := os.ReadDir(sessionPath)
		if err != nil {
			return nil, fmt.Errorf("read session directory %s: %w", sessionPath, err)
		}
		var serials []string
		for _, se := range serialEntries {
			if se.IsDir() {
				serials = append(serials, se.Name())
			}
		}
		out = append(out, SessionArtifacts{SessionID: e.Name(), Serials: serials})
	}
	return out, nil
}

// HasPublished reports whether the target directory carries a
// notification.xml, used by the Cleaner's safety brake.
func (s *Store) HasPublished() bool {
	_, err := os.Stat(filepath.Join(s.TargetDir, notificationFileName))
	return err == nil
}
