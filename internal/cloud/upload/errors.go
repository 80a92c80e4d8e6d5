package upload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iqss/dataverse-int/internal/http"
)

// Kind classifies direct upload failures.
type Kind int

const (
	KindUnknown Kind = iota
	// KindURLGeneration: no destination could be obtained; no bytes moved.
	KindURLGeneration
	// KindFileUpload: the single-part transfer failed.
	KindFileUpload
	// KindPartUpload: one part of a multipart transfer failed.
	KindPartUpload
	// KindMultipartAbort: releasing server-side multipart state failed.
	KindMultipartAbort
	// KindMultipartCompletion: all parts landed but finalizing failed.
	KindMultipartCompletion
	// KindCancelled: the caller cancelled the upload.
	KindCancelled
	// KindRegistration: the bytes are stored but the dataset did not accept the file.
	KindRegistration
)

func (k Kind) String() string {
	switch k {
	case KindURLGeneration:
		return "url generation"
	case KindFileUpload:
		return "file upload"
	case KindPartUpload:
		return "part upload"
	case KindMultipartAbort:
		return "multipart abort"
	case KindMultipartCompletion:
		return "multipart completion"
	case KindCancelled:
		return "upload cancelled"
	case KindRegistration:
		return "registration"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrURLGeneration       = errors.New("failed to obtain upload destination")
	ErrFileUpload          = errors.New("file upload failed")
	ErrPartUpload          = errors.New("part upload failed")
	ErrMultipartAbort      = errors.New("multipart abort failed")
	ErrMultipartCompletion = errors.New("multipart completion failed")
	ErrCancelled           = errors.New("upload cancelled")
	ErrRegistration        = errors.New("file registration failed")
)

var sentinels = map[Kind]error{
	KindURLGeneration:       ErrURLGeneration,
	KindFileUpload:          ErrFileUpload,
	KindPartUpload:          ErrPartUpload,
	KindMultipartAbort:      ErrMultipartAbort,
	KindMultipartCompletion: ErrMultipartCompletion,
	KindCancelled:           ErrCancelled,
	KindRegistration:        ErrRegistration,
}

// Error is a direct upload failure. AbortErr is set when a failed or
// cancelled multipart upload could not be aborted; it never replaces
// the primary failure.
type Error struct {
	Kind       Kind
	FileName   string
	TargetID   string
	PartNumber int
	Err        error
	AbortErr   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Kind != KindCancelled {
		b.WriteString(" failed")
	}
	fmt.Fprintf(&b, " for %q", e.FileName)
	if e.TargetID != "" {
		fmt.Fprintf(&b, " (dataset %s)", e.TargetID)
	}
	if e.PartNumber > 0 {
		fmt.Fprintf(&b, " at part %d", e.PartNumber)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.AbortErr != nil {
		fmt.Fprintf(&b, " (abort also failed: %v)", e.AbortErr)
	}
	return b.String()
}

// Unwrap exposes both the cause and the abort failure to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.AbortErr != nil {
		errs = append(errs, e.AbortErr)
	}
	return errs
}

// Is matches the sentinel of the error's Kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether starting a fresh upload is likely to help.
// Cancellations are never retryable; other kinds are when their cause is
// a network or server-side error.
func IsRetryable(err error) bool {
	var ue *Error
	if !errors.As(err, &ue) {
		return http.IsTransient(err)
	}
	if ue.Kind == KindCancelled {
		return false
	}
	return http.IsTransient(ue.Err)
}
