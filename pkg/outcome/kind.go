// Package outcome defines the categorical error/result kinds shared by the
// scan-and-dedup pipeline, per the error handling design: per-file and
// per-class failures only update counters, kernel/store failures are fatal
// to the pass.
package outcome

// Kind classifies why a file, class, or pass did not complete normally.
type Kind int

const (
	// OK means the operation completed as expected; not itself an error.
	OK Kind = iota
	// Unsupported means the ioctl/feature isn't available on this kernel.
	Unsupported
	// Permission means the caller lacked privilege (not root, LSM denial).
	Permission
	// Vanished means the file disappeared between indexing and locking.
	Vanished
	// Busy means a writer was found during the /proc sweep.
	Busy
	// Changed means the stat recheck found size/mtime drift.
	Changed
	// Mismatch means byte comparison found the candidates differ.
	Mismatch
	// IoError means a read/clone syscall failed outside the above cases.
	IoError
	// StoreError means the state store failed to commit.
	StoreError
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case Unsupported:
		return "unsupported"
	case Permission:
		return "permission"
	case Vanished:
		return "vanished"
	case Busy:
		return "busy"
	case Changed:
		return "changed"
	case Mismatch:
		return "mismatch"
	case IoError:
		return "io_error"
	case StoreError:
		return "store_error"
	default:
		return "unknown"
	}
}

// Fatal reports whether a Kind must abort the whole pass rather than just
// drop the affected file or class.
func (k Kind) Fatal() bool {
	return k == StoreError
}

// Error wraps a Kind with the underlying cause so callers that need the
// original error (for logging) can still unwrap it, while counters only
// ever look at Kind.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified Error.
func New(k Kind, cause error) *Error {
	return &Error{Kind: k, Cause: cause}
}
