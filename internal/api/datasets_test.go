package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"mime/multipart"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/iqss/dataverse-int/internal/cloud/upload"
	"github.com/iqss/dataverse-int/internal/models"
)

// lastJSONData extracts the jsonData field from the last recorded request.
func lastJSONData(t *testing.T, f *fakeDataverse) string {
	t.Helper()
	req := f.last()
	_, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("bad Content-Type: %v", err)
	}
	form, err := multipart.NewReader(strings.NewReader(req.Body), params["boundary"]).ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("not a multipart form: %v", err)
	}
	return form.Value["jsonData"][0]
}

func TestDatasetPath(t *testing.T) {
	tests := []struct {
		id, action, want string
	}{
		{"42", "add", "/api/datasets/42/add"},
		{"doi:10.5072/FK2/ABC", "add", "/api/datasets/:persistentId/add?persistentId=doi%3A10.5072%2FFK2%2FABC"},
		{"hdl:1902.1/111012", "addFiles", "/api/datasets/:persistentId/addFiles?persistentId=hdl%3A1902.1%2F111012"},
	}
	for _, tt := range tests {
		if got := datasetPath(tt.id, tt.action, nil); got != tt.want {
			t.Errorf("datasetPath(%q, %q) = %q, want %q", tt.id, tt.action, got, tt.want)
		}
	}
}

func TestRegisterUploadedFile(t *testing.T) {
	f, srv := newFakeDataverse(t)
	f.reply("POST /api/datasets/42/add", 200,
		`{"status":"OK","data":{"files":[{"label":"survey.tab","dataFile":{"id":1001,"storageIdentifier":"s3://b:k","checksum":{"type":"MD5","value":"abc"}}}]}}`)

	c := newTestClient(t, srv.URL)
	tabIngest := false
	err := c.RegisterUploadedFile(context.Background(), "42", upload.FileDescriptor{
		StorageID:      "s3://b:k",
		FileName:       "survey.tab",
		MimeType:       "text/tab-separated-values",
		Checksum:       upload.Checksum{Type: "MD5", Value: "abc"},
		DirectoryLabel: "data",
		Categories:     []string{"Data"},
		TabIngest:      &tabIngest,
	})
	if err != nil {
		t.Fatalf("RegisterUploadedFile: %v", err)
	}

	jsonData := lastJSONData(t, f)
	var got models.FileMetadata
	if err := json.Unmarshal([]byte(jsonData), &got); err != nil {
		t.Fatalf("jsonData: %v", err)
	}
	want := models.FileMetadata{
		StorageIdentifier: "s3://b:k",
		FileName:          "survey.tab",
		MimeType:          "text/tab-separated-values",
		Checksum:          &models.Checksum{Type: "MD5", Value: "abc"},
		DirectoryLabel:    "data",
		Categories:        []string{"Data"},
		TabIngest:         &tabIngest,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("jsonData mismatch (-want +got):\n%s", diff)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal([]byte(jsonData), &raw)
	if _, ok := raw["checksum"].(map[string]interface{})["@type"]; !ok {
		t.Errorf("checksum must use @type/@value keys: %s", jsonData)
	}
}

func TestRegisterUploadedFileRejected(t *testing.T) {
	f, srv := newFakeDataverse(t)
	f.reply("POST /api/datasets/42/add", 400, `{"status":"ERROR","message":"Invalid file: This file already exists in the dataset."}`)

	c := newTestClient(t, srv.URL)
	err := c.RegisterUploadedFile(context.Background(), "42", upload.FileDescriptor{StorageID: "s", FileName: "a"})
	if !IsFileExistsError(err) {
		t.Errorf("expected duplicate-file error, got %v", err)
	}
}

func TestRegisterUploadedFiles(t *testing.T) {
	f, srv := newFakeDataverse(t)
	f.reply("POST /api/datasets/:persistentId/addFiles", 200, `{"status":"OK","data":{"Files":[
		{"storageIdentifier":"s3://b:1","fileName":"a.csv","Result":"Added successfully"},
		{"storageIdentifier":"s3://b:2","fileName":"b.csv","Result":"Added successfully"}],
		"Result":{"Total number of files":2,"Number of files successfully added":2}}}`)

	c := newTestClient(t, srv.URL)
	descs := []upload.FileDescriptor{
		{StorageID: "s3://b:1", FileName: "a.csv"},
		{StorageID: "s3://b:2", FileName: "b.csv", Restrict: true},
	}
	if err := c.RegisterUploadedFiles(context.Background(), "doi:10.5072/FK2/X", descs); err != nil {
		t.Fatalf("RegisterUploadedFiles: %v", err)
	}

	jsonData := lastJSONData(t, f)
	var got []models.FileMetadata
	if err := json.Unmarshal([]byte(jsonData), &got); err != nil {
		t.Fatalf("jsonData: %v", err)
	}
	want := []models.FileMetadata{
		{StorageIdentifier: "s3://b:1", FileName: "a.csv"},
		{StorageIdentifier: "s3://b:2", FileName: "b.csv", Restrict: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("jsonData mismatch (-want +got):\n%s", diff)
	}
}

func TestRegisterUploadedFilesPartialFailure(t *testing.T) {
	f, srv := newFakeDataverse(t)
	f.reply("POST /api/datasets/42/addFiles", 200, `{"status":"OK","data":{"Files":[
		{"storageIdentifier":"s3://b:1","fileName":"a.csv","Result":"Added successfully"},
		{"storageIdentifier":"s3://b:2","fileName":"b.csv","errorMessage":"Duplicate file"}],
		"Result":{"Total number of files":2,"Number of files successfully added":1}}}`)

	c := newTestClient(t, srv.URL)
	err := c.RegisterUploadedFiles(context.Background(), "42", []upload.FileDescriptor{
		{StorageID: "s3://b:1", FileName: "a.csv"},
		{StorageID: "s3://b:2", FileName: "b.csv"},
	})

	var rejected *upload.RejectedFileError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedFileError, got %v", err)
	}
	if rejected.FileName != "b.csv" || rejected.Reason != "Duplicate file" {
		t.Errorf("unexpected rejection %+v", rejected)
	}
}

// The client satisfies every collaborator interface of the uploader.
var (
	_ upload.DestinationIssuer = (*Client)(nil)
	_ upload.MultipartFinisher = (*Client)(nil)
	_ upload.Registrar         = (*Client)(nil)
)
