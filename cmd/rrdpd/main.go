// Command rrdpd is a one-shot RRDP publication run: it scans a
// rsync-mirrored source tree, reconciles it against the previously
// published session under --target, and atomically writes the
// resulting notification, snapshot, and delta documents.
package main

import (
	"fmt"
	"os"

	"gitlab.com/rpki/rrdpublish/internal/rrdp/clean"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/config"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/logging"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/model"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/plan"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/publish"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/scanner"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/store"
)

func main() {
	parsed, err := config.Parse(os.Args[1:], os.Getenv, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rrdpd:", err)
		os.Exit(1)
	}
	if parsed.ExitOnly {
		os.Exit(0)
	}

	if err := run(parsed.Config); err != nil {
		fmt.Fprintln(os.Stderr, "rrdpd:", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	logging.Info("starting publication run",
		"source", cfg.SourceDir, "target", cfg.TargetDir, "max_deltas", cfg.MaxDeltas, "clean", cfg.Clean)

	objects, err := scanner.Scan(cfg.SourceDir, cfg.RsyncBase)
	if err != nil {
		return fmt.Errorf("scan source: %w", err)
	}
	logging.Info("source scanned", "objects", len(objects))

	s := store.New(cfg.TargetDir)
	loaded := s.Load()
	if loaded.State == nil {
		logging.Info("previous session unusable, starting fresh session", "reason", loaded.Reason)
	}

	scanned := make(map[string]model.Object, len(objects))
	for _, o := range objects {
		scanned[o.URI] = o
	}

	p, err := plan.Decide(loaded.State, scanned, cfg.MaxDeltas)
	if err != nil {
		return fmt.Errorf("decide session plan: %w", err)
	}
	if !p.Changed {
		logging.Info("no change since previous session; no-op run")
	} else if p.Fresh {
		logging.Info("publishing fresh session", "session_id", p.SessionID, "serial", p.Serial)
	} else {
		logging.Info("extending session", "session_id", p.SessionID, "serial", p.Serial)
	}

	if err := publish.Run(s, cfg.HTTPSBase, p); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	if cfg.Clean {
		result, err := clean.Run(s, cfg.TargetDir)
		if err != nil {
			return fmt.Errorf("clean: %w", err)
		}
		logging.Info("clean completed",
			"removed_serial_dirs", result.RemovedSerialDirs,
			"removed_session_dirs", result.RemovedSessionDirs)
	}

	logging.Info("publication run complete")
	return nil
}
