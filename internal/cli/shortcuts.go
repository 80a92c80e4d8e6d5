package cli

import (
	"context"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/iqss/dataverse-int/internal/constants"
	"github.com/iqss/dataverse-int/internal/version"
)

// AddShortcuts adds shortcut commands to the root command.
func AddShortcuts(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newUploadShortcut())
}

// newUploadShortcut creates the 'upload' shortcut command.
// Shortcut for: files upload
func newUploadShortcut() *cobra.Command {
	var flags uploadFlags

	cmd := &cobra.Command{
		Use:   "upload <dataset-id> [file...]",
		Short: "Upload files (shortcut for 'files upload')",
		Long: `Shortcut for uploading files to a dataset.

Equivalent to: dataverse-int files upload <dataset-id> <files>

Examples:
  dataverse-int upload doi:10.5072/FK2/ABCDEF results.csv
  dataverse-int upload 42 *.dat --max-concurrent 6`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, args, &flags)
		},
	}
	flags.register(cmd)

	return cmd
}

// newVersionCmd creates the 'version' command.
func newVersionCmd() *cobra.Command {
	var server bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%s %s\n", constants.AppName, version.Version)
			fmt.Printf("  Build time: %s\n", version.BuildTime)
			fmt.Printf("  Go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			if !server {
				return nil
			}

			client, cfg, err := getAPIClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), constants.APIConnectionTestTimeout)
			defer cancel()
			v, err := client.GetServerVersion(ctx)
			if err != nil {
				return fmt.Errorf("failed to read server version: %w", err)
			}
			fmt.Printf("  Server:     %s (%s)\n", formatServerVersion(v), cfg.ServerURL)
			return nil
		},
	}

	cmd.Flags().BoolVar(&server, "server", false, "Also show the Dataverse server version")

	return cmd
}
