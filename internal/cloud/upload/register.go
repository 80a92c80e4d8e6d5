package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iqss/dataverse-int/internal/constants"
)

// Checksum is a file digest as Dataverse records it, e.g. {MD5, "d41d8c..."}.
type Checksum struct {
	Type  string
	Value string
}

// FileDescriptor is the metadata registered for an uploaded object.
type FileDescriptor struct {
	StorageID      string
	FileName       string
	MimeType       string
	Checksum       Checksum
	Description    string
	DirectoryLabel string
	Categories     []string
	Restrict       bool
	// TabIngest nil leaves the server default.
	TabIngest *bool
}

// Validate checks the fields Dataverse requires.
func (d FileDescriptor) Validate() error {
	if strings.TrimSpace(d.StorageID) == "" {
		return errors.New("storage identifier is required")
	}
	if strings.TrimSpace(d.FileName) == "" {
		return errors.New("file name is required")
	}
	if (d.Checksum.Type == "") != (d.Checksum.Value == "") {
		return errors.New("checksum type and value must be given together")
	}
	return nil
}

// Registrar records uploaded objects against a dataset.
type Registrar interface {
	RegisterUploadedFile(ctx context.Context, targetID string, desc FileDescriptor) error
	RegisterUploadedFiles(ctx context.Context, targetID string, descs []FileDescriptor) error
}

// RegisterUploadedFile adds an uploaded object to the dataset. A failure
// here leaves the bytes in storage; calling again with the same
// descriptor is the recovery path.
func (u *Uploader) RegisterUploadedFile(ctx context.Context, targetID string, desc FileDescriptor) error {
	regErr := func(err error) error {
		return &Error{Kind: KindRegistration, FileName: desc.FileName, TargetID: targetID, Err: err}
	}
	if u.registrar == nil {
		return regErr(errors.New("no registrar configured"))
	}
	if err := desc.Validate(); err != nil {
		return regErr(err)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.RegistrationTimeout)
	defer cancel()

	if err := u.registrar.RegisterUploadedFile(ctx, targetID, desc); err != nil {
		return regErr(err)
	}
	u.logger.Debug().Str("file", desc.FileName).Str("storage_id", desc.StorageID).Str("dataset", targetID).Msg("file registered")
	return nil
}

// RegisterUploadedFiles adds several uploaded objects in one request.
// The error names the first file Dataverse rejected.
func (u *Uploader) RegisterUploadedFiles(ctx context.Context, targetID string, descs []FileDescriptor) error {
	if len(descs) == 0 {
		return nil
	}
	regErr := func(name string, err error) error {
		return &Error{Kind: KindRegistration, FileName: name, TargetID: targetID, Err: err}
	}
	if u.registrar == nil {
		return regErr(descs[0].FileName, errors.New("no registrar configured"))
	}
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return regErr(d.FileName, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, constants.RegistrationTimeout)
	defer cancel()

	if err := u.registrar.RegisterUploadedFiles(ctx, targetID, descs); err != nil {
		var rejected *RejectedFileError
		if errors.As(err, &rejected) {
			return regErr(rejected.FileName, err)
		}
		return regErr(fmt.Sprintf("%d files", len(descs)), err)
	}
	return nil
}

// RejectedFileError is returned by registrars when a batch contained a
// file the server refused.
type RejectedFileError struct {
	FileName string
	Reason   string
}

func (e *RejectedFileError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.FileName, e.Reason)
}
