// Package config assembles the engine's run configuration from
// command-line flags layered over environment variable defaults; the
// environment layer applies only to the container entrypoint, not the
// core library.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"gitlab.com/rpki/rrdpublish/internal/rrdp/plan"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/rrdperr"
)

// Version is set at build time with -ldflags "-X .../config.Version=...".
var Version = "dev"

// Config is the fully resolved, validated set of inputs for one run.
type Config struct {
	SourceDir string
	TargetDir string
	RsyncBase string
	HTTPSBase string
	MaxDeltas int
	Clean     bool
}

// Parsed is returned by Parse to distinguish a normal run from one
// that already completed (e.g. -V/-h) and should just exit 0.
type Parsed struct {
	Config   Config
	ExitOnly bool
}

// Parse builds a Config from args, using env for the environment-layer
// defaults the container entrypoint applies (DATA, SOURCE_DIR,
// TARGET_DIR, RSYNC_URI, HTTPS_URI). For -h/-V it prints usage or
// version text to out itself and returns ExitOnly set, so the caller
// exits 0 without starting a run.
func Parse(args []string, env func(string) string, out *os.File) (Parsed, error) {
	fs := flag.NewFlagSet("rrdpd", flag.ContinueOnError)
	fs.SetOutput(out)

	dataDir := env("DATA")
	sourceDefault := firstNonEmpty(env("SOURCE_DIR"), joinNonEmpty(dataDir, "source"))
	targetDefault := firstNonEmpty(env("TARGET_DIR"), joinNonEmpty(dataDir, "target"))

	source := fs.String("source", sourceDefault, "source tree root")
	target := fs.String("target", targetDefault, "RRDP output tree root")
	rsync := fs.String("rsync", env("RSYNC_URI"), "base rsync URI (trailing / enforced)")
	https := fs.String("https", env("HTTPS_URI"), "base HTTPS URI under which the target is served (trailing / enforced)")
	maxDeltas := fs.Int("max_deltas", plan.DefaultMaxDeltas, "delta-history cap, minimum 1")
	version := fs.Bool("V", false, "print version, exit 0")
	versionLong := fs.Bool("version", false, "print version, exit 0")
	help := fs.Bool("h", false, "print usage, exit 0")

	if err := fs.Parse(args); err != nil {
		return Parsed{}, rrdperr.Wrap(rrdperr.KindConfig, "", err)
	}

	if *help {
		fs.Usage()
		return Parsed{ExitOnly: true}, nil
	}
	if *version || *versionLong {
		fmt.Fprintln(out, "rrdpd", Version)
		return Parsed{ExitOnly: true}, nil
	}

	clean := false
	for _, a := range fs.Args() {
		if a == "clean" {
			clean = true
		}
	}

	cfg := Config{
		SourceDir: *source,
		TargetDir: *target,
		RsyncBase: enforceTrailingSlash(*rsync),
		HTTPSBase: enforceTrailingSlash(*https),
		MaxDeltas: *maxDeltas,
		Clean:     clean,
	}
	if err := cfg.validate(); err != nil {
		return Parsed{}, err
	}
	return Parsed{Config: cfg}, nil
}

func (c Config) validate() error {
	if c.SourceDir == "" {
		return rrdperr.Wrap(rrdperr.KindConfig, "", fmt.Errorf("%w: --source", rrdperr.ErrMissingFlag))
	}
	if c.TargetDir == "" {
		return rrdperr.Wrap(rrdperr.KindConfig, "", fmt.Errorf("%w: --target", rrdperr.ErrMissingFlag))
	}
	if c.RsyncBase == "" {
		return rrdperr.Wrap(rrdperr.KindConfig, "", fmt.Errorf("%w: --rsync", rrdperr.ErrMissingFlag))
	}
	if c.HTTPSBase == "" {
		return rrdperr.Wrap(rrdperr.KindConfig, "", fmt.Errorf("%w: --https", rrdperr.ErrMissingFlag))
	}
	if !isAbsoluteURI(c.RsyncBase) {
		return rrdperr.Wrap(rrdperr.KindConfig, "", fmt.Errorf("%w: --rsync %q", rrdperr.ErrInvalidURI, c.RsyncBase))
	}
	if !isAbsoluteURI(c.HTTPSBase) {
		return rrdperr.Wrap(rrdperr.KindConfig, "", fmt.Errorf("%w: --https %q", rrdperr.ErrInvalidURI, c.HTTPSBase))
	}
	if c.MaxDeltas < plan.MinMaxDeltas {
		return rrdperr.Wrap(rrdperr.KindConfig, "", rrdperr.ErrInvalidMaxDeltas)
	}
	return nil
}

func enforceTrailingSlash(uri string) string {
	if uri == "" || strings.HasSuffix(uri, "/") {
		return uri
	}
	return uri + "/"
}

func isAbsoluteURI(uri string) bool {
	i := strings.Index(uri, "://")
	return i > 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(base, leaf string) string {
	if base == "" {
		return ""
	}
	return strings.TrimSuffix(base, "/") + "/" + leaf
}
