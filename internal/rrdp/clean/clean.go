// Package clean implements the Cleaner: reconciling the target
// directory's on-disk <session_id>/<serial>/ artifacts against the
// current notification and removing whatever it no longer references.
// Cleaning is a separate, explicit operation from publishing; a
// publish run never deletes anything itself.
package clean

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gitlab.com/rpki/rrdpublish/internal/rrdp/codec"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/logging"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/rrdperr"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/store"
)

// Result reports what Run removed, for a summary log line at the call site.
type Result struct {
	RemovedSerialDirs  int
	RemovedSessionDirs int
}

// Run reconciles targetDir against its current notification.xml,
// deleting any <session_id>/<serial>/ directory the notification no
// longer references, then any <session_id>/ directory left empty.
// It refuses to run against a target with no notification.xml at all:
// a directory that has never been published to must never be touched
// by the Cleaner.
func Run(s *store.Store, targetDir string) (Result, error) {
	if !s.HasPublished() {
		return Result{}, rrdperr.ErrCleanerNotBootstrapped
	}

	notifPath := filepath.Join(targetDir, "notification.xml")
	data, err := os.ReadFile(notifPath)
	if err != nil {
		return Result{}, fmt.Errorf("reading notification.xml: %w", err)
	}
	notification, err := codec.ParseNotification(data)
	if err != nil {
		return Result{}, fmt.Errorf("parsing notification.xml: %w", err)
	}

	live := map[string]map[string]bool{}
	sessionID := notification.SessionID.String()
	live[sessionID] = map[string]bool{strconv.FormatUint(notification.Serial, 10): true}
	for _, ref := range notification.DeltaRefs {
		live[sessionID][strconv.FormatUint(ref.Serial, 10)] = true
	}

	artifacts, err := s.Enumerate()
	if err != nil {
		return Result{}, fmt.Errorf("enumerate target directory: %w", err)
	}

	var result Result
	for _, sa := range artifacts {
		liveSerials := live[sa.SessionID]
		anyKept := false
		for _, serial := range sa.Serials {
			if liveSerials[serial] {
				anyKept = true
				continue
			}
			dir := filepath.Join(targetDir, sa.SessionID, serial)
			if err := os.RemoveAll(dir); err != nil {
				logging.Warn("clean: failed to remove stale serial directory", "dir", dir, "error", err)
				anyKept = true
				continue
			}
			result.RemovedSerialDirs++
		}
		if anyKept {
			continue
		}
		dir := filepath.Join(targetDir, sa.SessionID)
		if err := os.Remove(dir); err != nil {
			logging.Warn("clean: failed to remove empty session directory", "dir", dir, "error", err)
			continue
		}
		result.RemovedSessionDirs++
	}
	return result, nil
}
