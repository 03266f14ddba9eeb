// Package publish implements the Publisher: it serializes the Session
// Planner's decision into RRDP documents, hashes the exact bytes that
// will land on disk, and hands them to the Session Store in the
// bodies-then-notification order required for crash safety.
package publish

import (
	"fmt"
	"sort"
	"strconv"

	"gitlab.com/rpki/rrdpublish/internal/rrdp/codec"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/hasher"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/model"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/plan"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/store"
)

// Run serializes p and persists it to s. httpsBase is the configured
// publication point, already enforced to end in "/". Run is a no-op
// when p.Changed is false: nothing is read or written, and the prior
// notification remains authoritative.
func Run(s *store.Store, httpsBase string, p plan.Plan) error {
	if !p.Changed {
		return nil
	}

	snapshotBytes, err := codec.MarshalSnapshot(p.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	snapshotHash := hasher.Sum(snapshotBytes)

	var deltaBytes []byte
	refs := make([]model.DeltaRef, 0, len(p.RetainedDeltaHashes)+1)
	for serial, hash := range p.RetainedDeltaHashes {
		refs = append(refs, model.DeltaRef{
			Serial: serial,
			URI:    deltaURI(httpsBase, p.SessionID.String(), serial),
			Hash:   hash,
		})
	}

	if p.NewDelta != nil {
		deltaBytes, err = codec.MarshalDelta(*p.NewDelta)
		if err != nil {
			return fmt.Errorf("marshal delta: %w", err)
		}
		refs = append(refs, model.DeltaRef{
			Serial: p.Serial,
			URI:    deltaURI(httpsBase, p.SessionID.String(), p.Serial),
			Hash:   hasher.Sum(deltaBytes),
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Serial < refs[j].Serial })

	notification := model.Notification{
		SessionID: p.SessionID,
		Serial:    p.Serial,
		SnapshotRef: model.SnapshotRef{
			URI:  snapshotURI(httpsBase, p.SessionID.String(), p.Serial),
			Hash: snapshotHash,
		},
		DeltaRefs: refs,
	}
	notificationBytes, err := codec.MarshalNotification(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := s.Persist(p.SessionID.String(), p.Serial, snapshotBytes, deltaBytes, notificationBytes); err != nil {
		return fmt.Errorf("persist session %s serial %d: %w", p.SessionID, p.Serial, err)
	}
	return nil
}

func snapshotURI(httpsBase, sessionID string, serial uint64) string {
	return httpsBase + sessionID + "/" + strconv.FormatUint(serial, 10) + "/snapshot.xml"
}

func deltaURI(httpsBase, sessionID string, serial uint64) string {
	return httpsBase + sessionID + "/" + strconv.FormatUint(serial, 10) + "/delta.xml"
}
