package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/iqss/dataverse-int/internal/cloud/upload"
	"github.com/iqss/dataverse-int/internal/models"
)

// tempTagHeader marks single-part S3 objects as temporary until the file
// is registered; Dataverse signs this header into the upload URL.
const tempTagHeader = "x-amz-tagging"

// datasetPath builds /api/datasets/{id}/{action}. Numeric ids address the
// dataset directly; anything else is treated as a persistent identifier.
func datasetPath(datasetID, action string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	var path string
	if _, err := strconv.ParseInt(datasetID, 10, 64); err == nil {
		path = "/api/datasets/" + datasetID + "/" + action
	} else {
		path = "/api/datasets/:persistentId/" + action
		query.Set("persistentId", datasetID)
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return path
}

// GetUploadDestination asks Dataverse for pre-signed upload URLs for a
// file of file.Size() bytes. Relative abort and complete endpoints are
// resolved against the server URL.
func (c *Client) GetUploadDestination(ctx context.Context, datasetID string, file upload.File) (*upload.Destination, error) {
	query := url.Values{}
	query.Set("size", strconv.FormatInt(file.Size(), 10))

	resp, err := c.doRequest(ctx, nethttp.MethodGet, datasetPath(datasetID, "uploadurls", query), nil, "")
	if err != nil {
		return nil, err
	}

	var wire models.UploadDestination
	if err := decodeResponse(resp, "get upload urls", &wire); err != nil {
		return nil, err
	}

	dest, err := upload.NormalizeDestination(wire)
	if err != nil {
		return nil, fmt.Errorf("get upload urls: %w", err)
	}

	if dest.IsMultipart() {
		dest.AbortEndpoint = c.resolve(dest.AbortEndpoint)
		dest.CompleteEndpoint = c.resolve(dest.CompleteEndpoint)
	} else if strings.HasPrefix(dest.StorageID, "s3://") && signedHeader(dest.URLs[0], tempTagHeader) {
		dest.Headers = map[string]string{tempTagHeader: "dv-state=temp"}
	}

	c.logger.Debug().
		Str("dataset", datasetID).
		Int("urls", len(dest.URLs)).
		Int64("part_size", dest.PartSize).
		Str("storage_id", dest.StorageID).
		Msg("upload destination issued")
	return dest, nil
}

// signedHeader reports whether a SigV4 pre-signed URL signs header.
// Sending an unsigned header is harmless, but omitting a signed one
// fails the upload with SignatureDoesNotMatch.
func signedHeader(rawURL, header string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	signed := u.Query().Get("X-Amz-SignedHeaders")
	if signed == "" {
		// Not SigV4 query auth; Dataverse's default S3 store always tags.
		return true
	}
	for _, h := range strings.Split(signed, ";") {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}

// AbortMultipart releases a multipart upload's server-side state.
func (c *Client) AbortMultipart(ctx context.Context, dest *upload.Destination) error {
	resp, err := c.doRequest(ctx, nethttp.MethodDelete, dest.AbortEndpoint, nil, "")
	if err != nil {
		return err
	}
	return decodeResponse(resp, "abort multipart upload", nil)
}

// CompleteMultipart finalizes a multipart upload. The body maps part
// numbers to ETags: {"1": "\"etag\"", ...}.
func (c *Client) CompleteMultipart(ctx context.Context, dest *upload.Destination, parts []upload.CompletedPart) error {
	etags := make(map[string]string, len(parts))
	for _, p := range parts {
		etags[strconv.Itoa(p.Number)] = p.Token
	}
	body, err := json.Marshal(etags)
	if err != nil {
		return fmt.Errorf("failed to marshal part list: %w", err)
	}

	resp, err := c.doRequest(ctx, nethttp.MethodPut, dest.CompleteEndpoint, bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	return decodeResponse(resp, "complete multipart upload", nil)
}

// RegisterUploadedFile adds a stored object to the dataset through
// POST /api/datasets/{id}/add with a jsonData form field.
func (c *Client) RegisterUploadedFile(ctx context.Context, datasetID string, desc upload.FileDescriptor) error {
	body, contentType, err := jsonDataForm(toMetadata(desc))
	if err != nil {
		return err
	}

	resp, err := c.doRequest(ctx, nethttp.MethodPost, datasetPath(datasetID, "add", nil), body, contentType)
	if err != nil {
		return err
	}
	var result models.AddFileResult
	if err := decodeResponse(resp, "register file", &result); err != nil {
		return err
	}
	if len(result.Files) > 0 {
		c.logger.Debug().Int64("file_id", result.Files[0].DataFile.ID).Str("file", desc.FileName).Msg("file added to dataset")
	}
	return nil
}

// RegisterUploadedFiles adds several stored objects in one
// POST /api/datasets/{id}/addFiles call. A file Dataverse skipped is
// reported as an *upload.RejectedFileError.
func (c *Client) RegisterUploadedFiles(ctx context.Context, datasetID string, descs []upload.FileDescriptor) error {
	metadata := make([]models.FileMetadata, len(descs))
	for i, d := range descs {
		metadata[i] = toMetadata(d)
	}
	body, contentType, err := jsonDataForm(metadata)
	if err != nil {
		return err
	}

	resp, err := c.doRequest(ctx, nethttp.MethodPost, datasetPath(datasetID, "addFiles", nil), body, contentType)
	if err != nil {
		return err
	}
	var result models.AddFilesResult
	if err := decodeResponse(resp, "register files", &result); err != nil {
		return err
	}
	for _, f := range result.Files {
		if f.Failed() {
			reason := f.ErrorMessage
			if reason == "" {
				reason = f.Result
			}
			return &upload.RejectedFileError{FileName: f.FileName, Reason: reason}
		}
	}
	return nil
}

func toMetadata(d upload.FileDescriptor) models.FileMetadata {
	m := models.FileMetadata{
		StorageIdentifier: d.StorageID,
		FileName:          d.FileName,
		MimeType:          d.MimeType,
		Description:       d.Description,
		DirectoryLabel:    d.DirectoryLabel,
		Categories:        d.Categories,
		Restrict:          d.Restrict,
		TabIngest:         d.TabIngest,
	}
	if d.Checksum.Type != "" {
		m.Checksum = &models.Checksum{Type: d.Checksum.Type, Value: d.Checksum.Value}
	}
	return m
}

// jsonDataForm encodes v as the jsonData field of a multipart form.
func jsonDataForm(v interface{}) (*bytes.Buffer, string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal jsonData: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("jsonData", string(payload)); err != nil {
		return nil, "", fmt.Errorf("failed to write form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to write form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
