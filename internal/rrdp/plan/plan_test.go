package plan

import (
	"testing"

	"github.com/google/uuid"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/hasher"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/model"
)

func obj(uri, content string) model.Object {
	return model.Object{URI: uri, Bytes: []byte(content), Hash: hasher.Sum([]byte(content))}
}

func TestDecideFreshSessionWhenNoPrevious(t *testing.T) {
	scanned := map[string]model.Object{"rsync://repo/a": obj("rsync://repo/a", "x")}
	p, err := Decide(nil, scanned, DefaultMaxDeltas)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !p.Fresh || !p.Changed {
		t.Fatalf("Decide with no previous state = %+v, want Fresh && Changed", p)
	}
	if p.Serial != 1 {
		t.Errorf("Serial = %d, want 1", p.Serial)
	}
	if p.NewDelta != nil {
		t.Errorf("NewDelta = %+v, want nil for a fresh session", p.NewDelta)
	}
	if p.SessionID == uuid.Nil {
		t.Error("SessionID is nil")
	}
}

func TestDecideNoOpWhenUnchanged(t *testing.T) {
	sessionID := uuid.New()
	snap := model.Snapshot{SessionID: sessionID, Serial: 1, Objects: map[string]model.Object{
		"rsync://repo/a": obj("rsync://repo/a", "x"),
	}}
	previous := &model.State{
		Notification: model.Notification{SessionID: sessionID, Serial: 1},
		Snapshot:     snap,
	}
	p, err := Decide(previous, snap.Objects, DefaultMaxDeltas)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if p.Changed {
		t.Fatalf("Decide with unchanged source = %+v, want Changed=false", p)
	}
}

func TestDecideExtendsSessionOnChange(t *testing.T) {
	sessionID := uuid.New()
	oldSnap := model.Snapshot{SessionID: sessionID, Serial: 4, Objects: map[string]model.Object{
		"rsync://repo/a": obj("rsync://repo/a", "x"),
	}}
	previous := &model.State{
		Notification: model.Notification{SessionID: sessionID, Serial: 4},
		Snapshot:     oldSnap,
	}
	scanned := map[string]model.Object{
		"rsync://repo/a": obj("rsync://repo/a", "x"),
		"rsync://repo/b": obj("rsync://repo/b", "new"),
	}
	p, err := Decide(previous, scanned, DefaultMaxDeltas)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if p.Fresh {
		t.Fatal("Decide started a fresh session when previous state was usable")
	}
	if !p.Changed {
		t.Fatal("Decide reported no change when source grew")
	}
	if p.SessionID != sessionID {
		t.Errorf("SessionID = %v, want %v (session continued)", p.SessionID, sessionID)
	}
	if p.Serial != 5 {
		t.Errorf("Serial = %d, want 5", p.Serial)
	}
	if p.NewDelta == nil || len(p.NewDelta.Publishes) != 1 {
		t.Fatalf("NewDelta = %+v, want one publish", p.NewDelta)
	}
}

func TestDecideCapsRetainedDeltaHistory(t *testing.T) {
	sessionID := uuid.New()
	refs := make([]model.DeltaRef, 0, 5)
	for serial := uint64(1); serial <= 5; serial++ {
		refs = append(refs, model.DeltaRef{Serial: serial, URI: "x", Hash: hasher.Sum([]byte{byte(serial)})})
	}
	previous := &model.State{
		Notification: model.Notification{SessionID: sessionID, Serial: 6, DeltaRefs: refs},
		Snapshot: model.Snapshot{SessionID: sessionID, Serial: 6, Objects: map[string]model.Object{
			"rsync://repo/a": obj("rsync://repo/a", "x"),
		}},
	}
	scanned := map[string]model.Object{
		"rsync://repo/a": obj("rsync://repo/a", "x"),
		"rsync://repo/b": obj("rsync://repo/b", "new"),
	}
	p, err := Decide(previous, scanned, 3)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(p.RetainedDeltaHashes) != 2 {
		t.Fatalf("RetainedDeltaHashes = %+v, want 2 entries (max_deltas=3 minus the new one)", p.RetainedDeltaHashes)
	}
	if _, ok := p.RetainedDeltaHashes[4]; !ok {
		t.Error("expected serial 4 retained")
	}
	if _, ok := p.RetainedDeltaHashes[5]; !ok {
		t.Error("expected serial 5 retained")
	}
	if _, ok := p.RetainedDeltaHashes[1]; ok {
		t.Error("serial 1 should have been dropped by the cap")
	}
}
