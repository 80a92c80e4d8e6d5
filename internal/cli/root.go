// Package cli provides the command-line interface for dataverse-int.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iqss/dataverse-int/internal/config"
	"github.com/iqss/dataverse-int/internal/logging"
	"github.com/iqss/dataverse-int/internal/version"
)

var (
	// Global flags
	cfgFile   string
	apiKey    string
	tokenFile string // Path to file containing API key
	serverURL string
	verbose   bool
	debug     bool
	logFile   string

	logger *logging.Logger

	// Cancelled on SIGINT/SIGTERM
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dataverse-int",
		Short: "Direct uploads to Dataverse datasets",
		Long: `dataverse-int ` + version.Version + ` - Built: ` + version.BuildTime + `
Uploads files straight to a Dataverse installation's object storage and
registers them with a dataset.

Large files are sent as parallel multipart uploads. Ctrl+C cancels every
upload in flight and releases the storage-side multipart state.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path (default ~/.config/dataverse/apiconfig)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Dataverse API token (overrides all other sources)")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "", "Path to file containing the API token")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server-url", "", "Dataverse server URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", `Also write JSON logs to this file ("default" for the standard location)`)

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// setupLogging builds the global logger from flags and [logging] config.
func setupLogging() error {
	level := zerolog.InfoLevel
	file := logFile
	if cfg, err := config.Load(cfgFile); err == nil {
		level = logging.ParseLevel(cfg.Logging.Level)
		if file == "" {
			file = cfg.Logging.File
		}
	}
	if file == "default" {
		file = config.DefaultLogFile()
	}
	if verbose || debug {
		level = zerolog.DebugLevel
	}
	logging.SetGlobalLevel(level)

	l, err := logging.NewLogger(os.Stdout, file)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	logger = l
	return nil
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// A second Ctrl+C is reported again; cleanup is already underway.
	go func() {
		for sig := range sigChan {
			fmt.Fprintf(os.Stderr, "\n\nReceived signal %v, cancelling uploads...\n", sig)
			fmt.Fprintf(os.Stderr, "   Please wait while multipart uploads are aborted.\n\n")
			cancelFunc()
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.ExecuteContext(rootContext)

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newFilesCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	AddShortcuts(rootCmd)
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

func newCompletionCmd() *cobra.Command {
	completionCmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate a shell completion script for dataverse-int.

QUICK TEST (current session only):
  bash:        source <(dataverse-int completion bash)
  zsh:         source <(dataverse-int completion zsh)
  fish:        dataverse-int completion fish | source
  PowerShell:  dataverse-int completion powershell | Out-String | Invoke-Expression`,
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			root := cmd.Root()
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(out)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			default:
				return root.GenPowerShellCompletion(out)
			}
		},
	}
	return completionCmd
}
