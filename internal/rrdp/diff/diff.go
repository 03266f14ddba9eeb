// Package diff computes the withdraw/publish/update triples between
// two snapshots that make up a delta.
package diff

import (
	"github.com/google/uuid"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/model"
)

// Compute returns the delta that carries old forward to new. The
// returned delta's SessionID and Serial are left zero-valued; callers
// (the Session Planner) stamp those in once the new serial is decided.
func Compute(old, new model.Snapshot) model.Delta {
	var d model.Delta
	for uri, newObj := range new.Objects {
		oldObj, existed := old.Objects[uri]
		switch {
		case !existed:
			d.Publishes = append(d.Publishes, model.Publish{
				URI: uri, Bytes: newObj.Bytes, Hash: newObj.Hash,
			})
		case oldObj.Hash != newObj.Hash:
			d.Updates = append(d.Updates, model.Update{
				URI: uri, Bytes: newObj.Bytes, Hash: newObj.Hash, OldHash: oldObj.Hash,
			})
		}
	}
	for uri, oldObj := range old.Objects {
		if _, stillPresent := new.Objects[uri]; !stillPresent {
			d.Withdraws = append(d.Withdraws, model.Withdraw{URI: uri, OldHash: oldObj.Hash})
		}
	}
	return d
}

// Apply performs the publish/update/withdraw semantics that produce a
// delta, returning the snapshot that results from applying d to base.
// It is the inverse used by the round-trip law apply(diff(A, B), A) == B.
func Apply(base model.Snapshot, d model.Delta) model.Snapshot {
	objects := make(map[string]model.Object, len(base.Objects))
	for uri, obj := range base.Objects {
		objects[uri] = obj
	}
	for _, p := range d.Publishes {
		objects[p.URI] = model.Object{URI: p.URI, Bytes: p.Bytes, Hash: p.Hash}
	}
	for _, u := range d.Updates {
		objects[u.URI] = model.Object{URI: u.URI, Bytes: u.Bytes, Hash: u.Hash}
	}
	for _, w := range d.Withdraws {
		delete(objects, w.URI)
	}
	sessionID := d.SessionID
	if sessionID == uuid.Nil {
		sessionID = base.SessionID
	}
	return model.Snapshot{SessionID: sessionID, Serial: d.Serial, Objects: objects}
}
