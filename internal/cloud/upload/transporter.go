package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"

	"github.com/iqss/dataverse-int/internal/version"
)

// ErrRangeOutOfBounds is returned when a part range does not fit the source.
var ErrRangeOutOfBounds = errors.New("part range exceeds source size")

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 1024

// PartRequest is one byte range to PUT to one URL.
type PartRequest struct {
	Number     int
	URL        string
	Source     io.ReaderAt
	SourceSize int64
	Offset     int64
	Length     int64
	Headers    map[string]string
}

// PartTransporter uploads a single part and returns its part token.
// It must not retry and must return promptly once ctx is done.
type PartTransporter interface {
	TransferPart(ctx context.Context, req PartRequest) (token string, err error)
}

// StatusError is a non-2xx answer from object storage.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("storage returned %s", e.Status)
	}
	return fmt.Sprintf("storage returned %s: %s", e.Status, e.Body)
}

// StatusCode lets retry classification see the HTTP status.
func (e *StatusError) StatusCode() int { return e.Code }

// HTTPTransporter PUTs parts to pre-signed URLs.
type HTTPTransporter struct {
	client *nethttp.Client
}

// NewHTTPTransporter wraps client; use http.CreateOptimizedClient for
// real transfers so proxy settings apply.
func NewHTTPTransporter(client *nethttp.Client) *HTTPTransporter {
	if client == nil {
		client = nethttp.DefaultClient
	}
	return &HTTPTransporter{client: client}
}

// TransferPart sends exactly [Offset, Offset+Length) of the source.
// The part token is the ETag response header, which may be empty for
// stores that don't issue one per part (Azure Put Block).
func (t *HTTPTransporter) TransferPart(ctx context.Context, pr PartRequest) (string, error) {
	if pr.Offset < 0 || pr.Length < 0 || pr.Offset+pr.Length > pr.SourceSize {
		return "", fmt.Errorf("part %d [%d, %d) of %d bytes: %w",
			pr.Number, pr.Offset, pr.Offset+pr.Length, pr.SourceSize, ErrRangeOutOfBounds)
	}

	newBody := func() io.ReadCloser {
		if pr.Length == 0 {
			return nethttp.NoBody
		}
		return io.NopCloser(io.NewSectionReader(pr.Source, pr.Offset, pr.Length))
	}

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPut, pr.URL, newBody())
	if err != nil {
		return "", fmt.Errorf("failed to build part request: %w", err)
	}
	req.ContentLength = pr.Length
	req.GetBody = func() (io.ReadCloser, error) { return newBody(), nil }
	req.Header.Set("User-Agent", version.UserAgent())
	for k, v := range pr.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &StatusError{
			Code:   resp.StatusCode,
			Status: resp.Status,
			Body:   strings.TrimSpace(string(body)),
		}
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.Header.Get("ETag"), nil
}
