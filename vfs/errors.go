package vfs

import "fmt"

// Kind is one of the abstract error kinds a VFS operation can fail
// with. An Error carries its Kind together with, where applicable, the
// advisory OS errno; no host-engine numeric result code is attached or
// derived from a Kind.
type Kind int

const (
	KindNone Kind = iota
	KindCantOpen
	KindIODeleteBusy
	KindIODeleteNoent
	KindCorrupt
	KindIOWrite
	KindIOTruncate
	KindIOShortRead
	KindBusy
	KindNoMem
	KindIO
	// KindNotFound signals a FileControl opcode/pragma this backend
	// declines to override; the host engine falls back to its own
	// default handling. It is not part of the caller-observable error
	// table (spec §6) because it is conventionally treated as success.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindCantOpen:
		return "cant-open"
	case KindIODeleteBusy:
		return "io-delete"
	case KindIODeleteNoent:
		return "io-delete-noent"
	case KindCorrupt:
		return "corrupt"
	case KindIOWrite:
		return "io-write"
	case KindIOTruncate:
		return "io-truncate"
	case KindIOShortRead:
		return "io-short-read"
	case KindBusy:
		return "busy"
	case KindNoMem:
		return "nomem"
	case KindIO:
		return "io"
	case KindNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// OS errno-equivalents surfaced as the Error.Errno secondary code.
// These are deliberately small, portable, engine-facing values rather
// than syscall.Errno, since the in-memory backend never makes a real
// system call.
const (
	ENOENT = 2
	EEXIST = 17
	ENFILE = 23
	EBUSY  = 16
)

// Error is returned by every vfs.VFS/vfs.File operation that fails. It
// carries the abstract Kind plus an advisory OS errno, orthogonal to
// Kind, recording the most specific OS-equivalent condition that
// produced it.
type Error struct {
	Kind  Kind
	Errno int // 0 when no specific OS errno applies
	Op    string
	Name  string
}

func (e *Error) Error() string {
	if e.Errno != 0 {
		return fmt.Sprintf("vfs: %s %q: %s (errno %d)", e.Op, e.Name, e.Kind, e.Errno)
	}
	return fmt.Sprintf("vfs: %s %q: %s", e.Op, e.Name, e.Kind)
}

// Is supports errors.Is(err, ErrBusy) and friends by comparing Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel errors for errors.Is comparisons against a Kind alone; the
// Op/Name/Errno fields are irrelevant for matching.
var (
	ErrCantOpen         = &Error{Kind: KindCantOpen}
	ErrIODeleteBusy     = &Error{Kind: KindIODeleteBusy}
	ErrIODeleteNoent    = &Error{Kind: KindIODeleteNoent}
	ErrCorrupt          = &Error{Kind: KindCorrupt}
	ErrIOWrite          = &Error{Kind: KindIOWrite}
	ErrIOTruncate       = &Error{Kind: KindIOTruncate}
	ErrIOShortRead      = &Error{Kind: KindIOShortRead}
	ErrBusy             = &Error{Kind: KindBusy}
	ErrNoMem            = &Error{Kind: KindNoMem}
	ErrWrongJournalMode = &Error{Kind: KindIO}
	ErrNotFound         = &Error{Kind: KindNotFound}
)

// NewError builds a concrete Error for op/name with the given kind and
// advisory errno (0 if none).
func NewError(op, name string, kind Kind, errno int) *Error {
	return &Error{Kind: kind, Errno: errno, Op: op, Name: name}
}
