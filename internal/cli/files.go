package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iqss/dataverse-int/internal/checksum"
	"github.com/iqss/dataverse-int/internal/cloud/upload"
	"github.com/iqss/dataverse-int/internal/constants"
)

// newFilesCmd creates the 'files' command group.
func newFilesCmd() *cobra.Command {
	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "Upload and register dataset files",
		Long:  `Commands for sending files to a dataset's storage and adding them to the dataset.`,
	}

	filesCmd.AddCommand(newFilesUploadCmd())
	filesCmd.AddCommand(newFilesRegisterCmd())

	return filesCmd
}

// uploadFlags holds the flags shared by 'files upload' and 'upload'.
type uploadFlags struct {
	maxConcurrent    int
	maxParallelParts int
	retries          int
	noRegister       bool
	batchRegister    bool
	description      string
	directoryLabel   string
	categories       []string
	restrict         bool
	mimeType         string
	checksumType     string
	manifest         string
	notify           bool
}

func (f *uploadFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.maxConcurrent, "max-concurrent", "m", 0,
		fmt.Sprintf("Maximum concurrent file uploads (%d-%d, default from config)", constants.MinMaxConcurrent, constants.MaxMaxConcurrent))
	cmd.Flags().IntVar(&f.maxParallelParts, "max-parallel-parts", -1, "Maximum parallel parts per file (0 = unbounded, default from config)")
	cmd.Flags().IntVar(&f.retries, "retries", constants.DefaultUploadRetries, "Times to restart a file upload after a transient storage error")
	cmd.Flags().BoolVar(&f.noRegister, "no-register", false, "Store the bytes only; print storage identifiers instead of adding files to the dataset")
	cmd.Flags().BoolVar(&f.batchRegister, "batch-register", false, "Add all uploaded files to the dataset in one request at the end")
	cmd.Flags().StringVar(&f.description, "description", "", "File description")
	cmd.Flags().StringVar(&f.directoryLabel, "directory-label", "", "Folder path of the files within the dataset")
	cmd.Flags().StringArrayVar(&f.categories, "category", nil, "File category/tag (repeatable)")
	cmd.Flags().BoolVar(&f.restrict, "restrict", false, "Restrict access to the files")
	cmd.Flags().StringVar(&f.mimeType, "mime-type", "", "Content type (default: detected from content)")
	cmd.Flags().StringVar(&f.checksumType, "checksum-type", "", "Checksum recorded on registration: MD5, SHA-1, SHA-256, SHA-512 (default from config)")
	cmd.Flags().StringVar(&f.manifest, "manifest", "", "YAML manifest listing files and their metadata")
	cmd.Flags().BoolVar(&f.notify, "notify", false, "Show a desktop notification when the batch finishes")
}

// validate checks flag ranges; unset values are filled from config later.
func (f *uploadFlags) validate() error {
	if f.maxConcurrent != 0 && (f.maxConcurrent < constants.MinMaxConcurrent || f.maxConcurrent > constants.MaxMaxConcurrent) {
		return fmt.Errorf("--max-concurrent must be between %d and %d, got %d",
			constants.MinMaxConcurrent, constants.MaxMaxConcurrent, f.maxConcurrent)
	}
	if f.maxParallelParts < -1 {
		return fmt.Errorf("--max-parallel-parts must not be negative, got %d", f.maxParallelParts)
	}
	if f.retries < 0 {
		return fmt.Errorf("--retries must not be negative, got %d", f.retries)
	}
	if f.noRegister && f.batchRegister {
		return errors.New("--no-register and --batch-register cannot be combined")
	}
	if f.checksumType != "" {
		if _, err := checksum.Parse(f.checksumType); err != nil {
			return err
		}
	}
	return nil
}

// template is the descriptor applied to files given on the command line.
func (f *uploadFlags) template() upload.FileDescriptor {
	return upload.FileDescriptor{
		MimeType:       f.mimeType,
		Description:    f.description,
		DirectoryLabel: f.directoryLabel,
		Categories:     f.categories,
		Restrict:       f.restrict,
	}
}

// splitUploadArgs separates the dataset id from the file arguments. With a
// manifest the dataset may come from the manifest instead.
func splitUploadArgs(args []string, manifestDataset string) (string, []string, error) {
	switch {
	case len(args) > 0:
		return args[0], args[1:], nil
	case manifestDataset != "":
		return manifestDataset, nil, nil
	default:
		return "", nil, errors.New("a dataset id or persistent id (doi:...) is required")
	}
}

// newFilesUploadCmd creates the 'files upload' command.
func newFilesUploadCmd() *cobra.Command {
	var flags uploadFlags

	cmd := &cobra.Command{
		Use:   "upload <dataset-id> [file...]",
		Short: "Upload files directly to a dataset's storage",
		Long: `Upload one or more files straight to the storage behind a dataset and
register them with the dataset.

The dataset is given by database id (42) or persistent id
(doi:10.5072/FK2/ABCDEF). Files larger than the server's part size are sent
as parallel multipart uploads.

Examples:
  # Upload and register two files
  dataverse-int files upload doi:10.5072/FK2/ABCDEF data.csv codebook.pdf

  # Upload with glob pattern and metadata
  dataverse-int files upload 42 "raw/*.dat" --directory-label raw --category Data

  # Store only, register later with 'files register'
  dataverse-int files upload 42 big.h5 --no-register

  # Upload the files listed in a manifest
  dataverse-int files upload --manifest upload.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, args, &flags)
		},
	}
	flags.register(cmd)

	return cmd
}

func runUpload(cmd *cobra.Command, args []string, flags *uploadFlags) error {
	if err := flags.validate(); err != nil {
		return err
	}

	var manifest *Manifest
	if flags.manifest != "" {
		m, err := loadManifest(flags.manifest)
		if err != nil {
			return err
		}
		manifest = m
	}
	manifestDataset := ""
	if manifest != nil {
		manifestDataset = manifest.Dataset
	}
	datasetID, patterns, err := splitUploadArgs(args, manifestDataset)
	if err != nil {
		return err
	}
	if len(patterns) == 0 && manifest == nil {
		return errors.New("no files given")
	}

	client, cfg, err := getAPIClient()
	if err != nil {
		return err
	}
	opts, err := resolveUploadOptions(cfg, flags)
	if err != nil {
		return err
	}

	specs, err := collectFileSpecs(patterns, flags.template(), manifest)
	if err != nil {
		return err
	}
	return executeUpload(cmd.Context(), datasetID, specs, opts, client, cfg, GetLogger())
}

// newFilesRegisterCmd creates the 'files register' command.
func newFilesRegisterCmd() *cobra.Command {
	var flags uploadFlags

	cmd := &cobra.Command{
		Use:   "register <dataset-id> <storage-id> <local-file>",
		Short: "Add an already uploaded object to a dataset",
		Long: `Register an object stored by 'files upload --no-register' (or by an
upload whose registration failed) with a dataset.

The local copy of the file supplies the name, content type and checksum.

Example:
  dataverse-int files register 42 s3://demo-bucket:18b39722140-50eb7d3c5ece data.csv`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			client, cfg, err := getAPIClient()
			if err != nil {
				return err
			}
			opts, err := resolveUploadOptions(cfg, &flags)
			if err != nil {
				return err
			}
			return executeRegister(cmd.Context(), args[0], args[1], args[2], flags.template(), opts.checksumType, client, GetLogger())
		},
	}
	flags.register(cmd)
	for _, name := range []string{"max-concurrent", "max-parallel-parts", "retries", "no-register", "batch-register", "manifest", "notify"} {
		_ = cmd.Flags().MarkHidden(name)
	}

	return cmd
}
