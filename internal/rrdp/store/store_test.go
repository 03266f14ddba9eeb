package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/codec"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/hasher"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/model"
)

func TestLoadNoPreviousNotification(t *testing.T) {
	s := New(t.TempDir())
	result := s.Load()
	if result.State != nil {
		t.Fatalf("Load of empty target = %+v, want nil State", result.State)
	}
	if result.Reason == "" {
		t.Fatal("Load of empty target gave empty Reason")
	}
	if s.HasPublished() {
		t.Fatal("HasPublished true on empty target")
	}
}

func persistSimpleSession(t *testing.T, s *Store) (uuid.UUID, uint64) {
	t.Helper()
	sessionID := uuid.New()
	snapshot := model.Snapshot{SessionID: sessionID, Serial: 1, Objects: map[string]model.Object{
		"rsync://repo/a.cer": {URI: "rsync://repo/a.cer", Bytes: []byte("alpha"), Hash: hasher.Sum([]byte("alpha"))},
	}}
	snapshotBytes, err := codec.MarshalSnapshot(snapshot)
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}
	notification := model.Notification{
		SessionID: sessionID,
		Serial:    1,
		SnapshotRef: model.SnapshotRef{
			URI:  "https://repo/" + sessionID.String() + "/1/snapshot.xml",
			Hash: hasher.Sum(snapshotBytes),
		},
	}
	notificationBytes, err := codec.MarshalNotification(notification)
	if err != nil {
		t.Fatalf("MarshalNotification: %v", err)
	}
	if err := s.Persist(sessionID.String(), 1, snapshotBytes, nil, notificationBytes); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	return sessionID, 1
}

func TestPersistThenLoadRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	sessionID, serial := persistSimpleSession(t, s)

	result := s.Load()
	if result.State == nil {
		t.Fatalf("Load after Persist failed: %s", result.Reason)
	}
	if result.State.Notification.SessionID != sessionID {
		t.Errorf("loaded session_id = %v, want %v", result.State.Notification.SessionID, sessionID)
	}
	if result.State.Notification.Serial != serial {
		t.Errorf("loaded serial = %d, want %d", result.State.Notification.Serial, serial)
	}
	if !s.HasPublished() {
		t.Error("HasPublished false after Persist")
	}
}

func TestLoadDetectsHashMismatch(t *testing.T) {
	s := New(t.TempDir())
	sessionID, serial := persistSimpleSession(t, s)

	snapshotPath := filepath.Join(s.TargetDir, sessionID.String(), "1", snapshotFileName)
	if err := os.WriteFile(snapshotPath, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := s.Load()
	if result.State != nil {
		t.Fatal("Load accepted a tampered snapshot body")
	}
	if result.Reason == "" {
		t.Fatal("Load gave no reason for tampered snapshot")
	}
	_ = serial
}

func TestLoadDetectsMissingBody(t *testing.T) {
	s := New(t.TempDir())
	sessionID, _ := persistSimpleSession(t, s)

	snapshotPath := filepath.Join(s.TargetDir, sessionID.String(), "1", snapshotFileName)
	if err := os.Remove(snapshotPath); err != nil {
		t.Fatal(err)
	}

	result := s.Load()
	if result.State != nil {
		t.Fatal("Load accepted a missing snapshot body")
	}
}

func TestEnumerateReflectsOnDiskLayout(t *testing.T) {
	s := New(t.TempDir())
	sessionID, _ := persistSimpleSession(t, s)

	artifacts, err := s.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("Enumerate = %+v, want 1 session", artifacts)
	}
	if artifacts[0].SessionID != sessionID.String() {
		t.Errorf("SessionID = %q, want %q", artifacts[0].SessionID, sessionID.String())
	}
	if len(artifacts[0].Serials) != 1 || artifacts[0].Serials[0] != "1" {
		t.Errorf("Serials = %+v, want [1]", artifacts[0].Serials)
	}
}
