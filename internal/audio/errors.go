package audio

import (
	"fmt"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
)

// Error kinds shared by every package that touches audio data.
const (
	KindIO                ftag.Kind = "IO_ERROR"
	KindFormatMismatch    ftag.Kind = "FORMAT_MISMATCH"
	KindInvalidRange      ftag.Kind = "INVALID_RANGE"
	KindUnsupportedFormat ftag.Kind = "UNSUPPORTED_FORMAT"
)

// KindOf returns the error kind tagged on err, or an empty kind.
func KindOf(err error) ftag.Kind {
	if err == nil {
		return ""
	}
	return ftag.Get(err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ftag.Kind) bool {
	return err != nil && KindOf(err) == kind
}

// InvalidRange builds an INVALID_RANGE error whose message is also shown to users.
func InvalidRange(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return fault.New(msg, ftag.With(KindInvalidRange), fmsg.WithDesc(msg, msg))
}

// FormatMismatch builds a FORMAT_MISMATCH error.
func FormatMismatch(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return fault.New(msg, ftag.With(KindFormatMismatch), fmsg.WithDesc(msg, "The audio formats cannot be mixed together."))
}

// Unsupported wraps a decode/encode failure as UNSUPPORTED_FORMAT.
func Unsupported(err error, path string) error {
	return fault.Wrap(err,
		ftag.With(KindUnsupportedFormat),
		fmsg.WithDesc("unsupported audio "+path, "The file is not a supported audio format: "+path),
	)
}

// IOError wraps a filesystem failure as IO_ERROR.
func IOError(err error, op string) error {
	return fault.Wrap(err,
		ftag.With(KindIO),
		fmsg.WithDesc(op, "Could not "+op+"."),
	)
}

// Describe returns the user-facing text attached to err, falling back to its message.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if issue := fmsg.GetIssue(err); issue != "" {
		return issue
	}
	return err.Error()
}
