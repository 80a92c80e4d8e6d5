// Package models holds the Dataverse native API wire types used by the client.
package models

import "encoding/json"

// APIResponse is the envelope every Dataverse native API endpoint returns.
//
//	{"status": "OK", "data": {...}}
//	{"status": "ERROR", "message": "..."}
type APIResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// UploadDestination is the payload of GET /api/datasets/{id}/uploadurls.
// Exactly one of URL (single-part) or URLs (multipart, keyed "1".."N")
// is set; Abort and Complete accompany URLs only.
type UploadDestination struct {
	URL               string            `json:"url,omitempty"`
	URLs              map[string]string `json:"urls,omitempty"`
	PartSize          int64             `json:"partSize"`
	StorageIdentifier string            `json:"storageIdentifier"`
	Abort             string            `json:"abort,omitempty"`
	Complete          string            `json:"complete,omitempty"`
}

// Checksum is the JSON-LD style checksum Dataverse expects in jsonData.
type Checksum struct {
	Type  string `json:"@type"`
	Value string `json:"@value"`
}

// FileMetadata is the jsonData form field of /add and the element type of
// the /addFiles array.
type FileMetadata struct {
	StorageIdentifier string    `json:"storageIdentifier"`
	FileName          string    `json:"fileName"`
	MimeType          string    `json:"mimeType,omitempty"`
	Checksum          *Checksum `json:"checksum,omitempty"`
	Description       string    `json:"description,omitempty"`
	DirectoryLabel    string    `json:"directoryLabel,omitempty"`
	Categories        []string  `json:"categories,omitempty"`
	Restrict          bool      `json:"restrict,omitempty"`
	TabIngest         *bool     `json:"tabIngest,omitempty"`
}

// AddFilesResult is the data of POST /api/datasets/{id}/addFiles.
type AddFilesResult struct {
	Files  []AddFileStatus `json:"Files"`
	Result AddFilesSummary `json:"Result"`
}

// AddFileStatus reports one file of a batch registration.
type AddFileStatus struct {
	StorageIdentifier string `json:"storageIdentifier"`
	FileName          string `json:"fileName"`
	Result            string `json:"Result"`
	ErrorMessage      string `json:"errorMessage,omitempty"`
}

// Failed reports whether Dataverse rejected this file.
func (s AddFileStatus) Failed() bool {
	return s.ErrorMessage != "" || (s.Result != "" && s.Result != "Added successfully")
}

// AddFilesSummary carries the batch counters.
type AddFilesSummary struct {
	Total int `json:"Total number of files"`
	Added int `json:"Number of files successfully added"`
}

// AddFileResult is the data of POST /api/datasets/{id}/add.
type AddFileResult struct {
	Files []DataFileEntry `json:"files"`
}

// DataFileEntry is one file of the dataset's latest version.
type DataFileEntry struct {
	Label          string   `json:"label"`
	DirectoryLabel string   `json:"directoryLabel,omitempty"`
	Restricted     bool     `json:"restricted"`
	DataFile       DataFile `json:"dataFile"`
}

// DataFile is the stored file record.
type DataFile struct {
	ID                int64           `json:"id"`
	StorageIdentifier string          `json:"storageIdentifier"`
	Filename          string          `json:"filename"`
	ContentType       string          `json:"contentType"`
	Filesize          int64           `json:"filesize"`
	Checksum          *StoredChecksum `json:"checksum,omitempty"`
}

// StoredChecksum is how Dataverse echoes a checksum back on a file record.
type StoredChecksum struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// User is the data of GET /api/users/:me.
type User struct {
	ID          int64  `json:"id"`
	Identifier  string `json:"identifier"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Superuser   bool   `json:"superuser"`
}

// ServerVersion is the data of GET /api/info/version.
type ServerVersion struct {
	Version string `json:"version"`
	Build   string `json:"build,omitempty"`
}
