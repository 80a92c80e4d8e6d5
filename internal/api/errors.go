package api

import (
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"

	"github.com/iqss/dataverse-int/internal/models"
)

// ErrFileAlreadyExists indicates the dataset already holds a file with
// the same content or name.
var ErrFileAlreadyExists = errors.New("file already exists")

// APIError is a failed Dataverse API call.
type APIError struct {
	Op         string
	HTTPStatus int
	Message    string
}

func (e *APIError) Error() string {
	if e.HTTPStatus == 0 {
		return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
	}
	if e.Message == "" {
		return fmt.Sprintf("%s failed: status %d", e.Op, e.HTTPStatus)
	}
	return fmt.Sprintf("%s failed: status %d: %s", e.Op, e.HTTPStatus, e.Message)
}

// StatusCode exposes the HTTP status to retry classification.
func (e *APIError) StatusCode() int { return e.HTTPStatus }

// Is lets errors.Is(err, ErrFileAlreadyExists) match duplicate-file rejections.
func (e *APIError) Is(target error) bool {
	return target == ErrFileAlreadyExists && isDuplicateMessage(e.Message)
}

func newAPIError(op string, status int, body []byte) *APIError {
	msg := strings.TrimSpace(string(body))
	var env models.APIResponse
	if json.Unmarshal(body, &env) == nil && env.Message != "" {
		msg = env.Message
	}
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	if msg == "" {
		msg = nethttp.StatusText(status)
	}
	return &APIError{Op: op, HTTPStatus: status, Message: msg}
}

// IsFileExistsError reports whether err says the file is already in the dataset.
//
// Usage:
//
//	err := client.RegisterUploadedFile(ctx, datasetID, desc)
//	if api.IsFileExistsError(err) {
//	    // already registered; nothing to do
//	}
func IsFileExistsError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFileAlreadyExists) {
		return true
	}
	return isDuplicateMessage(err.Error())
}

func isDuplicateMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, indicator := range []string{
		"already exists",
		"duplicate",
		"same content",
	} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.HTTPStatus == nethttp.StatusNotFound
}
