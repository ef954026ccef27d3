package ext4

import "golang.org/x/xerrors"

// Kind distinguishes the reasons a core operation can fail. Callers that
// need to react differently to different failures should compare against
// these constants with errors.As, not by matching error strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindBadMagic
	KindUnsupportedFeature
	KindUnsupportedLayout
	KindUnclesnState
	KindNonLinuxCreator
	KindCorruptGroup
	KindInodeOutOfRange
	KindBadMode
	KindBadExtentMagic
	KindExtentTooDeep
	KindDepthMismatch
	KindChecksumMismatch
	KindBadUtf8
	KindDecryptFailed
	KindArithmetic
	KindIo
)

func (k Kind) String() string {
	switch k {
	case KindBadMagic:
		return "BadMagic"
	case KindUnsupportedFeature:
		return "UnsupportedFeature"
	case KindUnsupportedLayout:
		return "UnsupportedLayout"
	case KindUnclesnState:
		return "UnclesnState"
	case KindNonLinuxCreator:
		return "NonLinuxCreator"
	case KindCorruptGroup:
		return "CorruptGroup"
	case KindInodeOutOfRange:
		return "InodeOutOfRange"
	case KindBadMode:
		return "BadMode"
	case KindBadExtentMagic:
		return "BadExtentMagic"
	case KindExtentTooDeep:
		return "ExtentTooDeep"
	case KindDepthMismatch:
		return "DepthMismatch"
	case KindChecksumMismatch:
		return "ChecksumMismatch"
	case KindBadUtf8:
		return "BadUtf8"
	case KindDecryptFailed:
		return "DecryptFailed"
	case KindArithmetic:
		return "Arithmetic"
	case KindIo:
		return "Io"
	default:
		return "Unknown"
	}
}

// Error is the wrapped error type returned by every parsing and streaming
// operation in this package. It carries a Kind so callers can branch on
// failure category without parsing message text.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return xerrors.Errorf("%s: %s: %w", e.Op, e.Kind, e.Err).Error()
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(op string, kind Kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func errf(op string, kind Kind, format string, args ...interface{}) error {
	return &Error{Op: op, Kind: kind, Err: xerrors.Errorf(format, args...)}
}
