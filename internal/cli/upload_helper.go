package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/term"

	"github.com/iqss/dataverse-int/internal/api"
	"github.com/iqss/dataverse-int/internal/checksum"
	"github.com/iqss/dataverse-int/internal/cloud/upload"
	"github.com/iqss/dataverse-int/internal/config"
	"github.com/iqss/dataverse-int/internal/constants"
	"github.com/iqss/dataverse-int/internal/events"
	"github.com/iqss/dataverse-int/internal/logging"
	"github.com/iqss/dataverse-int/internal/notify"
	"github.com/iqss/dataverse-int/internal/progress"
	"github.com/iqss/dataverse-int/internal/transfer"
	"github.com/iqss/dataverse-int/internal/validation"
)

// uploadOptions are the effective batch settings after merging flags with
// the config file.
type uploadOptions struct {
	maxConcurrent    int
	maxParallelParts int
	retries          int
	register         transfer.RegisterMode
	checksumType     checksum.Algorithm
	notify           bool
}

func resolveUploadOptions(cfg *config.Config, flags *uploadFlags) (uploadOptions, error) {
	opts := uploadOptions{
		maxConcurrent:    cfg.Upload.MaxConcurrent,
		maxParallelParts: cfg.Upload.MaxParallelParts,
		retries:          flags.retries,
		notify:           flags.notify,
	}
	if flags.maxConcurrent != 0 {
		opts.maxConcurrent = flags.maxConcurrent
	}
	if flags.maxParallelParts >= 0 {
		opts.maxParallelParts = flags.maxParallelParts
	}

	switch {
	case flags.noRegister:
		opts.register = transfer.RegisterNone
	case flags.batchRegister:
		opts.register = transfer.RegisterBatch
	case cfg.Upload.Register:
		opts.register = transfer.RegisterEach
	default:
		opts.register = transfer.RegisterNone
	}

	name := cfg.Upload.ChecksumType
	if flags.checksumType != "" {
		name = flags.checksumType
	}
	if name != "" {
		alg, err := checksum.Parse(name)
		if err != nil {
			return opts, err
		}
		opts.checksumType = alg
	}
	return opts, nil
}

// fileSpec is one local file and the metadata to register it with.
type fileSpec struct {
	path string
	desc upload.FileDescriptor
}

// expandGlobPatterns expands glob patterns in file arguments into absolute
// paths. Patterns without glob characters are used as-is. Duplicates are
// removed, keeping the first occurrence.
func expandGlobPatterns(patterns []string) ([]string, error) {
	var expanded []string
	seen := make(map[string]bool)

	add := func(p string) error {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("failed to get absolute path for %s: %w", p, err)
		}
		if !seen[abs] {
			expanded = append(expanded, abs)
			seen[abs] = true
		}
		return nil
	}

	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[]") {
			if err := add(pattern); err != nil {
				return nil, err
			}
			continue
		}

		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match pattern: %s", pattern)
		}
		for _, match := range matches {
			if err := add(match); err != nil {
				return nil, err
			}
		}
	}

	return expanded, nil
}

// collectFileSpecs builds the upload list from command-line patterns, which
// all take the flag metadata, and manifest entries, which fall back to it
// for fields they leave empty.
func collectFileSpecs(patterns []string, template upload.FileDescriptor, manifest *Manifest) ([]fileSpec, error) {
	paths, err := expandGlobPatterns(patterns)
	if err != nil {
		return nil, err
	}

	specs := make([]fileSpec, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		specs = append(specs, fileSpec{path: p, desc: template})
		seen[p] = true
	}

	if manifest != nil {
		for _, e := range manifest.Files {
			abs, err := filepath.Abs(e.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to get absolute path for %s: %w", e.Path, err)
			}
			if seen[abs] {
				return nil, fmt.Errorf("%s is listed both on the command line and in the manifest", e.Path)
			}
			seen[abs] = true

			desc := template
			desc.TabIngest = e.TabIngest
			desc.Restrict = template.Restrict || e.Restrict
			if e.Description != "" {
				desc.Description = e.Description
			}
			if e.DirectoryLabel != "" {
				desc.DirectoryLabel = e.DirectoryLabel
			}
			if len(e.Categories) > 0 {
				desc.Categories = e.Categories
			}
			if e.MimeType != "" {
				desc.MimeType = e.MimeType
			}
			specs = append(specs, fileSpec{path: abs, desc: desc})
		}
	}

	if len(specs) == 0 {
		return nil, errors.New("no files to upload")
	}
	return specs, nil
}

// detectMimeType sniffs the content type of path. Detection failure is not
// fatal: the server then applies its own detection.
func detectMimeType(path string, logger *logging.Logger) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		logger.Debug().Err(err).Str("file", path).Msg("MIME detection failed")
		return ""
	}
	return mt.String()
}

// prepareDescriptor normalizes desc for fileName and checks it against the
// server's metadata rules.
func prepareDescriptor(desc *upload.FileDescriptor, fileName string) error {
	if desc.FileName == "" {
		desc.FileName = fileName
	}
	desc.Description = validation.SanitizeField(desc.Description)
	desc.DirectoryLabel = validation.NormalizeDirectoryLabel(desc.DirectoryLabel)
	desc.Categories = validation.NormalizeCategories(desc.Categories)

	if err := validation.ValidateFileName(desc.FileName); err != nil {
		return err
	}
	return validation.ValidateDirectoryLabel(desc.DirectoryLabel)
}

// openJobs opens every file and prepares its job. On error, files already
// opened are closed.
func openJobs(specs []fileSpec, logger *logging.Logger) ([]transfer.Job, func(), error) {
	files := make([]*upload.LocalFile, 0, len(specs))
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	jobs := make([]transfer.Job, 0, len(specs))
	for _, spec := range specs {
		f, err := upload.OpenLocalFile(spec.path)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("%s: %w", spec.path, err)
		}
		files = append(files, f)

		desc := spec.desc
		if err := prepareDescriptor(&desc, f.Name()); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("%s: %w", spec.path, err)
		}
		if desc.MimeType == "" {
			desc.MimeType = detectMimeType(spec.path, logger)
		}
		jobs = append(jobs, transfer.Job{File: f, Source: spec.path, Descriptor: desc})
	}
	return jobs, closeAll, nil
}

// newProgressUI picks a single bar for one file on a terminal and the
// multi-file display otherwise.
func newProgressUI(fileCount int) progress.ProgressUI {
	if fileCount == 1 && term.IsTerminal(int(os.Stderr.Fd())) {
		return progress.NewSingleFileUI(os.Stderr)
	}
	return progress.NewUploadUI(fileCount)
}

// executeUpload uploads specs to datasetID. Shared by 'files upload' and
// the 'upload' shortcut.
func executeUpload(ctx context.Context, datasetID string, specs []fileSpec, opts uploadOptions,
	client *api.Client, cfg *config.Config, logger *logging.Logger) error {

	jobs, closeFiles, err := openJobs(specs, logger)
	if err != nil {
		return err
	}
	defer closeFiles()

	uploader, err := newUploader(ctx, cfg, client, opts.maxParallelParts, logger)
	if err != nil {
		return err
	}

	bus := events.NewEventBus(constants.EventBusDefaultBuffer)
	ui := newProgressUI(len(jobs))
	console := logger.Output()
	logger.SetOutput(ui.Writer())
	defer logger.SetOutput(console)

	waitUI := progress.Follow(bus, ui)
	waitNotify := func() {}
	if opts.notify {
		waitNotify = notify.NewNotifier(true, logger).Watch(bus, datasetID)
	}

	manager := transfer.NewManager(uploader, transfer.NewQueue(bus), transfer.ManagerOptions{
		MaxConcurrent: opts.maxConcurrent,
		Register:      opts.register,
		ChecksumType:  opts.checksumType,
		Retries:       opts.retries,
		Logger:        logger,
	})

	logger.Info().
		Str("dataset", datasetID).
		Int("files", len(jobs)).
		Int("max_concurrent", opts.maxConcurrent).
		Msg("Starting upload")

	results, summary := manager.Run(ctx, datasetID, jobs)

	bus.Close()
	waitUI()
	waitNotify()

	if dropped := bus.DroppedEvents(); dropped > 0 {
		logger.Debug().Int64("dropped", dropped).Msg("progress events dropped")
	}
	stats := manager.Queue().Stats()
	logger.Debug().
		Int("completed", stats.Completed).
		Int("failed", stats.Failed).
		Int("cancelled", stats.Cancelled).
		Interface("api_calls", client.CallCounts()).
		Msg("Upload finished")

	return reportUpload(ui.Writer(), datasetID, results, summary, opts.register)
}

// reportUpload prints the outcome of a batch and returns an error when any
// file did not make it.
func reportUpload(w io.Writer, datasetID string, results []transfer.Result, summary transfer.Summary, mode transfer.RegisterMode) error {
	if mode == transfer.RegisterNone {
		fmt.Fprintln(w, "\nStored objects (register with 'dataverse-int files register'):")
		for _, r := range results {
			if r.Err == nil {
				fmt.Fprintf(w, "  %s\t%s\n", r.Name, r.StorageID)
			}
		}
	}

	var failed []transfer.Result
	for _, r := range results {
		if r.Err != nil && !transfer.IsCancellation(r.Err) {
			failed = append(failed, r)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintln(w, "\nFailed:")
		for _, r := range failed {
			fmt.Fprintf(w, "  %s: %v\n", r.Name, r.Err)
			// Bytes that reached storage can still be registered.
			if r.StorageID != "" && upload.KindOf(r.Err) == upload.KindRegistration {
				fmt.Fprintf(w, "    stored as %s; retry with: dataverse-int files register %s %s <file>\n",
					r.StorageID, datasetID, r.StorageID)
			} else if hint := failureHint(r.Err); hint != "" {
				fmt.Fprintf(w, "    %s\n", hint)
			}
		}
	}

	fmt.Fprintf(w, "\n%d of %d files uploaded in %s", summary.Succeeded, summary.Total, summary.Duration.Round(10*time.Millisecond))
	if summary.Failed > 0 {
		fmt.Fprintf(w, ", %d failed", summary.Failed)
	}
	if summary.Cancelled > 0 {
		fmt.Fprintf(w, ", %d cancelled", summary.Cancelled)
	}
	fmt.Fprintln(w)

	switch {
	case summary.Failed > 0:
		return fmt.Errorf("%d of %d uploads failed", summary.Failed, summary.Total)
	case summary.Cancelled > 0:
		return fmt.Errorf("upload cancelled: %d of %d files not uploaded", summary.Cancelled, summary.Total)
	}
	return nil
}

// failureHint suggests what to do about a failed file, if anything obvious.
func failureHint(err error) string {
	switch {
	case api.IsNotFound(err):
		return "dataset not found; check the id and your access"
	case api.IsFileExistsError(err):
		return "the file is already in the dataset"
	case upload.IsRetryable(err):
		return "the failure looks transient; running the upload again may succeed"
	}
	return ""
}

// executeRegister registers an already stored object using the metadata of
// its local copy.
func executeRegister(ctx context.Context, datasetID, storageID, path string, template upload.FileDescriptor,
	alg checksum.Algorithm, client *api.Client, logger *logging.Logger) error {

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	desc := template
	desc.StorageID = storageID
	if err := prepareDescriptor(&desc, filepath.Base(path)); err != nil {
		return err
	}
	if desc.MimeType == "" {
		desc.MimeType = detectMimeType(path, logger)
	}
	if alg != "" {
		sum, err := checksum.ComputeFile(ctx, path, alg)
		if err != nil {
			return fmt.Errorf("failed to compute %s checksum: %w", alg, err)
		}
		desc.Checksum = upload.Checksum{Type: string(alg), Value: sum}
	}

	uploader, err := upload.NewUploader(upload.Options{
		Transporter: upload.NewHTTPTransporter(nil),
		Registrar:   client,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if err := uploader.RegisterUploadedFile(ctx, datasetID, desc); err != nil {
		return err
	}

	fmt.Printf("Registered %s (%s) with dataset %s\n", desc.FileName, storageID, datasetID)
	return nil
}
