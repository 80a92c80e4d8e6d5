package upload

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/iqss/dataverse-int/internal/models"
)

// ErrInvalidDestination is wrapped by every destination validation failure.
var ErrInvalidDestination = errors.New("invalid upload destination")

// Destination describes where and how one file's bytes are uploaded.
// It is immutable once validated; the orchestrator only reads it.
//
// A destination with one URL is a single-part upload. A destination with
// several URLs is a multipart upload whose part numbers are the 1-based
// positions in URLs, and it always carries abort and complete endpoints.
type Destination struct {
	URLs             []string
	StorageID        string
	PartSize         int64
	AbortEndpoint    string
	CompleteEndpoint string

	// Headers are sent with every part request (e.g. x-amz-tagging).
	Headers map[string]string
}

// Validate checks that the destination is usable as issued.
func (d *Destination) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil destination", ErrInvalidDestination)
	}
	if len(d.URLs) == 0 {
		return fmt.Errorf("%w: no upload URLs", ErrInvalidDestination)
	}
	for i, u := range d.URLs {
		if u == "" {
			return fmt.Errorf("%w: empty URL for part %d", ErrInvalidDestination, i+1)
		}
	}
	if d.PartSize <= 0 {
		return fmt.Errorf("%w: part size must be positive, got %d", ErrInvalidDestination, d.PartSize)
	}
	if d.StorageID == "" {
		return fmt.Errorf("%w: missing storage identifier", ErrInvalidDestination)
	}

	hasAbort, hasComplete := d.AbortEndpoint != "", d.CompleteEndpoint != ""
	if hasAbort != hasComplete {
		return fmt.Errorf("%w: abort and complete endpoints must be given together", ErrInvalidDestination)
	}
	if d.IsMultipart() && !hasAbort {
		return fmt.Errorf("%w: %d URLs without abort/complete endpoints", ErrInvalidDestination, len(d.URLs))
	}
	if !d.IsMultipart() && hasAbort {
		return fmt.Errorf("%w: single URL with abort/complete endpoints", ErrInvalidDestination)
	}
	return nil
}

// IsMultipart reports whether the upload is split into parts.
func (d *Destination) IsMultipart() bool {
	return len(d.URLs) > 1
}

// CheckSize verifies that a multipart destination has exactly one URL per
// PartSize range of a file of the given size.
func (d *Destination) CheckSize(size int64) error {
	if size < 0 {
		return fmt.Errorf("%w: negative file size %d", ErrInvalidDestination, size)
	}
	if !d.IsMultipart() {
		return nil
	}
	if want := PartCount(size, d.PartSize); want != len(d.URLs) {
		return fmt.Errorf("%w: %d URLs for %d bytes in parts of %d (expected %d)",
			ErrInvalidDestination, len(d.URLs), size, d.PartSize, want)
	}
	return nil
}

// PartRange returns the byte range of the given 1-based part.
// The last part is shorter when size is not a multiple of PartSize.
// A single-part destination covers the whole file.
func (d *Destination) PartRange(partNumber int, size int64) (offset, length int64) {
	if !d.IsMultipart() {
		return 0, size
	}
	offset = int64(partNumber-1) * d.PartSize
	length = d.PartSize
	if offset+length > size {
		length = size - offset
	}
	if length < 0 {
		length = 0
	}
	return offset, length
}

// PartCount returns how many parts of partSize cover size bytes.
func PartCount(size, partSize int64) int {
	if partSize <= 0 || size <= 0 {
		return 0
	}
	return int((size + partSize - 1) / partSize)
}

// NormalizeDestination converts the uploadurls payload into a Destination.
// The single-URL form becomes a one-element URLs slice; the multi-URL form
// is ordered by part number, which must run 1..N without gaps.
func NormalizeDestination(w models.UploadDestination) (*Destination, error) {
	d := &Destination{
		StorageID:        w.StorageIdentifier,
		PartSize:         w.PartSize,
		AbortEndpoint:    w.Abort,
		CompleteEndpoint: w.Complete,
	}

	switch {
	case w.URL != "" && len(w.URLs) > 0:
		return nil, fmt.Errorf("%w: payload has both url and urls", ErrInvalidDestination)
	case w.URL != "":
		d.URLs = []string{w.URL}
	case len(w.URLs) > 0:
		urls, err := orderedURLs(w.URLs)
		if err != nil {
			return nil, err
		}
		d.URLs = urls
	default:
		return nil, fmt.Errorf("%w: payload has neither url nor urls", ErrInvalidDestination)
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func orderedURLs(byPart map[string]string) ([]string, error) {
	numbers := make([]int, 0, len(byPart))
	byNumber := make(map[int]string, len(byPart))
	for key, u := range byPart {
		n, err := strconv.Atoi(key)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: bad part number %q", ErrInvalidDestination, key)
		}
		numbers = append(numbers, n)
		byNumber[n] = u
	}
	sort.Ints(numbers)

	urls := make([]string, len(numbers))
	for i, n := range numbers {
		if n != i+1 {
			return nil, fmt.Errorf("%w: part numbers must run 1..%d, missing %d", ErrInvalidDestination, len(numbers), i+1)
		}
		urls[i] = byNumber[n]
	}
	return urls, nil
}
