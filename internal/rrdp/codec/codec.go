// Package codec serializes and parses the three RRDP document kinds
// defined by RFC 8182: notification, snapshot, and delta. All hash
// values on the wire are lowercase hex SHA-256 digests; snapshot and
// delta publish bodies are standard-alphabet base64 with padding.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/hasher"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/model"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/rrdperr"
)

// Namespace is the RRDP XML namespace.
const Namespace = "http://www.ripe.net/rpki/rrdp"

// Version is the only RRDP protocol version this codec understands.
const Version = "1"

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// --- wire structs ---

type notificationDoc struct {
	XMLName   xml.Name       `xml:"http://www.ripe.net/rpki/rrdp notification"`
	Version   string         `xml:"version,attr"`
	SessionID string         `xml:"session_id,attr"`
	Serial    string         `xml:"serial,attr"`
	Snapshot  snapshotRefDoc `xml:"snapshot"`
	Deltas    []deltaRefDoc  `xml:"delta"`
}

type snapshotRefDoc struct {
	URI  string `xml:"uri,attr"`
	Hash string `xml:"hash,attr"`
}

type deltaRefDoc struct {
	Serial string `xml:"serial,attr"`
	URI    string `xml:"uri,attr"`
	Hash   string `xml:"hash,attr"`
}

type snapshotDoc struct {
	XMLName   xml.Name             `xml:"http://www.ripe.net/rpki/rrdp snapshot"`
	Version   string               `xml:"version,attr"`
	SessionID string               `xml:"session_id,attr"`
	Serial    string               `xml:"serial,attr"`
	Publishes []snapshotPublishDoc `xml:"publish"`
}

type snapshotPublishDoc struct {
	URI  string `xml:"uri,attr"`
	Text string `xml:",chardata"`
}

type deltaDoc struct {
	XMLName   xml.Name          `xml:"http://www.ripe.net/rpki/rrdp delta"`
	Version   string            `xml:"version,attr"`
	SessionID string            `xml:"session_id,attr"`
	Serial    string            `xml:"serial,attr"`
	Publishes []deltaPublishDoc `xml:"publish"`
	Withdraws []withdrawDoc     `xml:"withdraw"`
}

type deltaPublishDoc struct {
	URI  string  `xml:"uri,attr"`
	Hash *string `xml:"hash,attr,omitempty"`
	Text string  `xml:",chardata"`
}

type withdrawDoc struct {
	URI  string `xml:"uri,attr"`
	Hash string `xml:"hash,attr"`
}

// --- marshal ---

// MarshalNotification serializes a notification with delta references
// in descending serial order, highest first.
func MarshalNotification(n model.Notification) ([]byte, error) {
	sortedSource := make([]model.DeltaRef, len(n.DeltaRefs))
	copy(sortedSource, n.DeltaRefs)
	sort.Slice(sortedSource, func(i, j int) bool { return sortedSource[i].Serial > sortedSource[j].Serial })
	refs := toDeltaRefDocs(sortedSource)
	doc := notificationDoc{
		Version:   Version,
		SessionID: n.SessionID.String(),
		Serial:    strconv.FormatUint(n.Serial, 10),
		Snapshot: snapshotRefDoc{
			URI:  n.SnapshotRef.URI,
			Hash: n.SnapshotRef.Hash,
		},
		Deltas: refs,
	}
	return marshalDoc(doc)
}

// MarshalSnapshot serializes a full snapshot; publish order follows
// ascending URI for determinism across runs.
func MarshalSnapshot(s model.Snapshot) ([]byte, error) {
	uris := s.SortedURIs()
	publishes := make([]snapshotPublishDoc, 0, len(uris))
	for _, uri := range uris {
		obj := s.Objects[uri]
		publishes = append(publishes, snapshotPublishDoc{
			URI:  uri,
			Text: base64.StdEncoding.EncodeToString(obj.Bytes),
		})
	}
	doc := snapshotDoc{
		Version:   Version,
		SessionID: s.SessionID.String(),
		Serial:    strconv.FormatUint(s.Serial, 10),
		Publishes: publishes,
	}
	return marshalDoc(doc)
}

// MarshalDelta serializes a delta document. Publish and withdraw
// elements are each emitted in ascending URI order for determinism.
func MarshalDelta(d model.Delta) ([]byte, error) {
	publishes := make([]deltaPublishDoc, 0, len(d.Publishes)+len(d.Updates))
	for _, p := range d.Publishes {
		publishes = append(publishes, deltaPublishDoc{
			URI:  p.URI,
			Text: base64.StdEncoding.EncodeToString(p.Bytes),
		})
	}
	for _, u := range d.Updates {
		oldHash := u.OldHash
		publishes = append(publishes, deltaPublishDoc{
			URI:  u.URI,
			Hash: &oldHash,
			Text: base64.StdEncoding.EncodeToString(u.Bytes),
		})
	}
	sort.Slice(publishes, func(i, j int) bool { return publishes[i].URI < publishes[j].URI })

	withdraws := make([]withdrawDoc, 0, len(d.Withdraws))
	for _, w := range d.Withdraws {
		withdraws = append(withdraws, withdrawDoc{URI: w.URI, Hash: w.OldHash})
	}
	sort.Slice(withdraws, func(i, j int) bool { return withdraws[i].URI < withdraws[j].URI })

	doc := deltaDoc{
		Version:   Version,
		SessionID: d.SessionID.String(),
		Serial:    strconv.FormatUint(d.Serial, 10),
		Publishes: publishes,
		Withdraws: withdraws,
	}
	return marshalDoc(doc)
}

func marshalDoc(doc any) ([]byte, error) {
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal rrdp document: %w", err)
	}
	buf := bytes.NewBufferString(xmlHeader)
	buf.Write(body)
	return buf.Bytes(), nil
}

func toDeltaRefDocs(refs []model.DeltaRef) []deltaRefDoc {
	out := make([]deltaRefDoc, len(refs))
	for i, r := range refs {
		out[i] = deltaRefDoc{
			Serial: strconv.FormatUint(r.Serial, 10),
			URI:    r.URI,
			Hash:   r.Hash,
		}
	}
	return out
}

// --- parse ---

// ParseNotification parses a notification document, validating its
// hashes are well-formed hex (content-hash equality against on-disk
// bodies is verified by the Session Store, not here).
func ParseNotification(data []byte) (model.Notification, error) {
	var out model.Notification
	if err := rejectUnknownChildren(data, "notification", map[string]bool{"snapshot": true, "delta": true}); err != nil {
		return out, err
	}
	var doc notificationDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return out, fmt.Errorf("%w: %v", rrdperr.ErrMalformedXML, err)
	}
	if doc.Version != Version {
		return out, fmt.Errorf("%w: unsupported notification version %q", rrdperr.ErrMalformedXML, doc.Version)
	}
	sessionID, err := uuid.Parse(doc.SessionID)
	if err != nil {
		return out, fmt.Errorf("%w: invalid session_id: %v", rrdperr.ErrMalformedXML, err)
	}
	serial, err := strconv.ParseUint(doc.Serial, 10, 64)
	if err != nil || serial < 1 {
		return out, fmt.Errorf("%w: invalid notification serial %q", rrdperr.ErrMalformedXML, doc.Serial)
	}
	if !hasher.Valid(doc.Snapshot.Hash) {
		return out, fmt.Errorf("%w: snapshot hash %q", rrdperr.ErrMalformedHash, doc.Snapshot.Hash)
	}
	out.SessionID = sessionID
	out.Serial = serial
	out.SnapshotRef = model.SnapshotRef{URI: doc.Snapshot.URI, Hash: doc.Snapshot.Hash}

	refs := make([]model.DeltaRef, 0, len(doc.Deltas))
	for _, d := range doc.Deltas {
		dSerial, err := strconv.ParseUint(d.Serial, 10, 64)
		if err != nil {
			return out, fmt.Errorf("%w: invalid delta serial %q", rrdperr.ErrMalformedXML, d.Serial)
		}
		if !hasher.Valid(d.Hash) {
			return out, fmt.Errorf("%w: delta hash %q", rrdperr.ErrMalformedHash, d.Hash)
		}
		refs = append(refs, model.DeltaRef{Serial: dSerial, URI: d.URI, Hash: d.Hash})
	}
	out.DeltaRefs = refs
	return out, nil
}

// ParseSnapshot parses a snapshot document.
func ParseSnapshot(data []byte) (model.Snapshot, error) {
	var out model.Snapshot
	if err := rejectUnknownChildren(data, "snapshot", map[string]bool{"publish": true}); err != nil {
		return out, err
	}
	var doc snapshotDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return out, fmt.Errorf("%w: %v", rrdperr.ErrMalformedXML, err)
	}
	if doc.Version != Version {
		return out, fmt.Errorf("%w: unsupported snapshot version %q", rrdperr.ErrMalformedXML, doc.Version)
	}
	sessionID, err := uuid.Parse(doc.SessionID)
	if err != nil {
		return out, fmt.Errorf("%w: invalid session_id: %v", rrdperr.ErrMalformedXML, err)
	}
	serial, err := strconv.ParseUint(doc.Serial, 10, 64)
	if err != nil || serial < 1 {
		return out, fmt.Errorf("%w: invalid snapshot serial %q", rrdperr.ErrMalformedXML, doc.Serial)
	}

	objects := make(map[string]model.Object, len(doc.Publishes))
	for _, p := range doc.Publishes {
		raw, err := decodeBase64(p.Text)
		if err != nil {
			return out, err
		}
		if _, dup := objects[p.URI]; dup {
			return out, fmt.Errorf("%w: duplicate uri %q in snapshot", rrdperr.ErrMalformedXML, p.URI)
		}
		objects[p.URI] = model.Object{URI: p.URI, Bytes: raw, Hash: hashOf(raw)}
	}

	out.SessionID = sessionID
	out.Serial = serial
	out.Objects = objects
	return out, nil
}

// ParseDelta parses a delta document.
func ParseDelta(data []byte) (model.Delta, error) {
	var out model.Delta
	if err := rejectUnknownChildren(data, "delta", map[string]bool{"publish": true, "withdraw": true}); err != nil {
		return out, err
	}
	var doc deltaDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return out, fmt.Errorf("%w: %v", rrdperr.ErrMalformedXML, err)
	}
	if doc.Version != Version {
		return out, fmt.Errorf("%w: unsupported delta version %q", rrdperr.ErrMalformedXML, doc.Version)
	}
	sessionID, err := uuid.Parse(doc.SessionID)
	if err != nil {
		return out, fmt.Errorf("%w: invalid session_id: %v", rrdperr.ErrMalformedXML, err)
	}
	serial, err := strconv.ParseUint(doc.Serial, 10, 64)
	if err != nil || serial < 1 {
		return out, fmt.Errorf("%w: invalid delta serial %q", rrdperr.ErrMalformedXML, doc.Serial)
	}

	for _, p := range doc.Publishes {
		raw, err := decodeBase64(p.Text)
		if err != nil {
			return out, err
		}
		if p.Hash == nil {
			out.Publishes = append(out.Publishes, model.Publish{URI: p.URI, Bytes: raw, Hash: hashOf(raw)})
			continue
		}
		if !hasher.Valid(*p.Hash) {
			return out, fmt.Errorf("%w: publish old hash %q", rrdperr.ErrMalformedHash, *p.Hash)
		}
		out.Updates = append(out.Updates, model.Update{URI: p.URI, Bytes: raw, Hash: hashOf(raw), OldHash: *p.Hash})
	}
	for _, w := range doc.Withdraws {
		if !hasher.Valid(w.Hash) {
			return out, fmt.Errorf("%w: withdraw hash %q", rrdperr.ErrMalformedHash, w.Hash)
		}
		out.Withdraws = append(out.Withdraws, model.Withdraw{URI: w.URI, OldHash: w.Hash})
	}

	out.SessionID = sessionID
	out.Serial = serial
	return out, nil
}

func decodeBase64(text string) ([]byte, error) {
	trimmed := strings.Join(strings.Fields(text), "")
	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rrdperr.ErrMalformedBase64, err)
	}
	return raw, nil
}

func hashOf(raw []byte) string {
	return hasher.Sum(raw)
}

// rejectUnknownChildren does a first pass over the document verifying
// the root element name and that every direct child is in allowed;
// encoding/xml would otherwise silently ignore unrecognized elements.
func rejectUnknownChildren(data []byte, rootLocal string, allowed map[string]bool) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	depth := 0
	sawRoot := false
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("%w: %v", rrdperr.ErrMalformedXML, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				if t.Name.Local != rootLocal {
					return fmt.Errorf("%w: expected root <%s>, got <%s>", rrdperr.ErrMalformedXML, rootLocal, t.Name.Local)
				}
				sawRoot = true
				continue
			}
			if depth == 2 && !allowed[t.Name.Local] {
				return fmt.Errorf("%w: <%s>", rrdperr.ErrUnknownElement, t.Name.Local)
			}
		case xml.EndElement:
			depth--
		}
	}
	if !sawRoot {
		return fmt.Errorf("%w: missing root <%s>", rrdperr.ErrMalformedXML, rootLocal)
	}
	return nil
}
