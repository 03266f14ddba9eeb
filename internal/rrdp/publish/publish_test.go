package publish

import (
	"os"
	"path/filepath"
	"testing"

	"gitlab.com/rpki/rrdpublish/internal/rrdp/codec"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/hasher"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/model"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/plan"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/store"
)

func obj(uri, content string) model.Object {
	return model.Object{URI: uri, Bytes: []byte(content), Hash: hasher.Sum([]byte(content))}
}

func TestRunNoOpWritesNothing(t *testing.T) {
	dir := t.TempDir()
	s := store.New(dir)
	if err := Run(s, "https://repo/", plan.Plan{Changed: false}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.HasPublished() {
		t.Fatal("Run of a no-op plan produced a notification")
	}
}

func TestRunFreshSessionWritesSnapshotAndNotification(t *testing.T) {
	dir := t.TempDir()
	s := store.New(dir)

	scanned := map[string]model.Object{"rsync://repo/a.cer": obj("rsync://repo/a.cer", "alpha")}
	p, err := plan.Decide(nil, scanned, plan.DefaultMaxDeltas)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}

	if err := Run(s, "https://repo/", p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !s.HasPublished() {
		t.Fatal("Run of a fresh session did not write a notification")
	}

	result := s.Load()
	if result.State == nil {
		t.Fatalf("Load after Run: %s", result.Reason)
	}
	if len(result.State.Notification.DeltaRefs) != 0 {
		t.Errorf("fresh session notification has delta refs: %+v", result.State.Notification.DeltaRefs)
	}
	if len(result.State.Snapshot.Objects) != 1 {
		t.Errorf("loaded snapshot has %d objects, want 1", len(result.State.Snapshot.Objects))
	}

	snapshotPath := filepath.Join(dir, p.SessionID.String(), "1", "snapshot.xml")
	data, err := os.ReadFile(snapshotPath)
	if err != nil {
		t.Fatalf("reading snapshot on disk: %v", err)
	}
	if _, err := codec.ParseSnapshot(data); err != nil {
		t.Fatalf("snapshot on disk does not parse: %v", err)
	}
}

func TestRunExtendingSessionWritesDelta(t *testing.T) {
	dir := t.TempDir()
	s := store.New(dir)

	scanned := map[string]model.Object{"rsync://repo/a.cer": obj("rsync://repo/a.cer", "alpha")}
	first, err := plan.Decide(nil, scanned, plan.DefaultMaxDeltas)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if err := Run(s, "https://repo/", first); err != nil {
		t.Fatalf("Run: %v", err)
	}

	loaded := s.Load()
	if loaded.State == nil {
		t.Fatalf("Load after first Run: %s", loaded.Reason)
	}

	scanned2 := map[string]model.Object{
		"rsync://repo/a.cer": obj("rsync://repo/a.cer", "alpha"),
		"rsync://repo/b.cer": obj("rsync://repo/b.cer", "bravo"),
	}
	second, err := plan.Decide(loaded.State, scanned2, plan.DefaultMaxDeltas)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if err := Run(s, "https://repo/", second); err != nil {
		t.Fatalf("Run: %v", err)
	}

	final := s.Load()
	if final.State == nil {
		t.Fatalf("Load after second Run: %s", final.Reason)
	}
	if final.State.Notification.Serial != 2 {
		t.Errorf("final serial = %d, want 2", final.State.Notification.Serial)
	}
	if len(final.State.Notification.DeltaRefs) != 1 {
		t.Fatalf("final delta refs = %+v, want 1", final.State.Notification.DeltaRefs)
	}
	if len(final.State.Deltas) != 1 {
		t.Fatalf("loaded deltas = %+v, want 1", final.State.Deltas)
	}
}
