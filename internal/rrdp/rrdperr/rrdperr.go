// Package rrdperr defines the closed error taxonomy used across the
// publication engine: config, I/O, parse, integrity, and planning
// failures. Callers match against the sentinels with errors.Is; wrapped
// context is added with fmt.Errorf("...: %w", err).
package rrdperr

import "errors"

var (
	// ErrMissingFlag a required command-line flag was not supplied.
	ErrMissingFlag = errors.New("required flag is missing")
	// ErrInvalidURI a configured URI is malformed or not absolute.
	ErrInvalidURI = errors.New("uri is invalid")
	// ErrInvalidMaxDeltas max_deltas is below the minimum of 1.
	ErrInvalidMaxDeltas = errors.New("max_deltas must be at least 1")
	// ErrSourceUnusable the source directory is missing or unreadable.
	ErrSourceUnusable = errors.New("source directory is unusable")
	// ErrTargetUnusable the target directory is missing or unwritable.
	ErrTargetUnusable = errors.New("target directory is unusable")

	// ErrMalformedXML a document did not parse as well-formed RRDP XML.
	ErrMalformedXML = errors.New("malformed rrdp xml")
	// ErrUnknownElement an unexpected top-level child element was found.
	ErrUnknownElement = errors.New("unexpected xml element")
	// ErrMalformedHash a hash attribute is not 64 lowercase hex characters.
	ErrMalformedHash = errors.New("malformed hash attribute")
	// ErrMalformedBase64 publish element text did not decode as base64.
	ErrMalformedBase64 = errors.New("malformed base64 content")

	// ErrBodyMissing a file referenced by the notification does not exist.
	ErrBodyMissing = errors.New("referenced body is missing")
	// ErrHashMismatch a referenced body's hash does not match the notification.
	ErrHashMismatch = errors.New("referenced body hash mismatch")
	// ErrDeltaChainBroken retained deltas are not consecutive.
	ErrDeltaChainBroken = errors.New("delta chain is not consecutive")
	// ErrSessionMismatch a snapshot or delta's session_id disagrees with the notification's.
	ErrSessionMismatch = errors.New("session id mismatch between documents")

	// ErrPlan an internal planning inconsistency was detected; indicates a bug.
	ErrPlan = errors.New("internal planning error")

	// ErrCleanerNotBootstrapped clean was requested against a target with no prior notification.
	ErrCleanerNotBootstrapped = errors.New("target has no prior notification; refusing to clean")
)

// Kind classifies an error into the engine's error taxonomy for logging and exit-code purposes.
type Kind int

const (
	// KindConfig covers flag, URI, and path configuration failures.
	KindConfig Kind = iota
	// KindIO covers filesystem read/write/rename failures.
	KindIO
	// KindParse covers malformed XML, base64, or hash content.
	KindParse
	// KindIntegrity covers hash mismatches against a trusted notification.
	KindIntegrity
	// KindPlan covers internal invariant violations.
	KindPlan
)

// Error wraps an underlying error with its taxonomy Kind and optional path context.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return e.Path + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds an *Error of the given Kind, attaching path context when non-empty.
func Wrap(kind Kind, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Path: path, Err: err}
}

// IsRecoverable reports whether an error encountered while loading previous
// state should trigger a fresh session rather than abort the run: ParseError
// and IntegrityError are locally downgraded inside the Session Store.
func IsRecoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindParse || e.Kind == KindIntegrity
	}
	return errors.Is(err, ErrMalformedXML) ||
		errors.Is(err, ErrUnknownElement) ||
		errors.Is(err, ErrMalformedHash) ||
		errors.Is(err, ErrMalformedBase64) ||
		errors.Is(err, ErrBodyMissing) ||
		errors.Is(err, ErrHashMismatch) ||
		errors.Is(err, ErrDeltaChainBroken) ||
		errors.Is(err, ErrSessionMismatch)
}
