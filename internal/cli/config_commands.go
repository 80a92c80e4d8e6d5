package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iqss/dataverse-int/internal/checksum"
	"github.com/iqss/dataverse-int/internal/config"
	"github.com/iqss/dataverse-int/internal/constants"
	"github.com/iqss/dataverse-int/internal/models"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage dataverse-int configuration",
		Long: `Configuration management commands for dataverse-int.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  test  - Test API connection
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// configPath returns --config or the default location.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for dataverse-int.

The configuration is saved to ~/.config/dataverse/apiconfig and the API
token to ~/.config/dataverse/token (mode 0600).

Use --force to overwrite existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Printf("Configuration already exists at: %s\n", path)
					fmt.Println("Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}
			tokenPath := config.DefaultTokenPath()
			if tokenPath == "" {
				return fmt.Errorf("could not determine home directory for the token file")
			}

			p := newPrompter(os.Stdin, os.Stdout)
			cfg, token, err := promptConfig(p, os.Stdout)
			if err != nil {
				return err
			}

			if err := config.WriteTokenFile(tokenPath, token); err != nil {
				return fmt.Errorf("failed to save API token: %w", err)
			}
			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			GetLogger().Info().Str("path", path).Msg("Configuration saved")

			fmt.Println()
			fmt.Printf("✓ Configuration saved to: %s\n", path)
			fmt.Printf("✓ API token saved to: %s\n", tokenPath)
			fmt.Println()
			fmt.Println("Test your configuration with: dataverse-int config test")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")

	return cmd
}

// promptConfig collects a configuration interactively. The API token is
// returned separately and left out of the config.
func promptConfig(p *prompter, out io.Writer) (*config.Config, string, error) {
	cfg := config.New()

	fmt.Fprintln(out, "Dataverse Configuration Setup")
	fmt.Fprintln(out, "=============================")
	fmt.Fprintln(out)

	server, err := p.required("Server URL (e.g. https://demo.dataverse.org)")
	if err != nil {
		return nil, "", err
	}
	if err := cfg.MergeWithFlags("", "", server); err != nil {
		return nil, "", err
	}

	token, err := p.secret("API token")
	if err != nil {
		return nil, "", err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Upload Settings (press Enter for defaults)")
	fmt.Fprintln(out, "------------------------------------------")

	if cfg.Upload.MaxConcurrent, err = p.intInRange("Concurrent file uploads",
		cfg.Upload.MaxConcurrent, constants.MinMaxConcurrent, constants.MaxMaxConcurrent); err != nil {
		return nil, "", err
	}
	if cfg.Upload.MaxParallelParts, err = p.intInRange("Parallel parts per file (0 = unbounded)",
		cfg.Upload.MaxParallelParts, 0, 1024); err != nil {
		return nil, "", err
	}
	algs := make([]string, len(checksum.Algorithms))
	for i, a := range checksum.Algorithms {
		algs[i] = string(a)
	}
	if cfg.Upload.ChecksumType, err = p.choice("Checksum type", algs, cfg.Upload.ChecksumType); err != nil {
		return nil, "", err
	}

	fmt.Fprintln(out)
	useProxy, err := p.yesNo("Configure proxy?", false)
	if err != nil {
		return nil, "", err
	}
	if useProxy {
		if cfg.Proxy.Mode, err = p.choice("Proxy mode", []string{"system", "basic", "ntlm"}, "system"); err != nil {
			return nil, "", err
		}
		if cfg.Proxy.Host, err = p.required("Proxy host"); err != nil {
			return nil, "", err
		}
		if cfg.Proxy.Port, err = p.intInRange("Proxy port", cfg.Proxy.Port, 1, 65535); err != nil {
			return nil, "", err
		}
		if cfg.Proxy.Mode != "system" {
			if cfg.Proxy.User, err = p.line("Proxy user", ""); err != nil {
				return nil, "", err
			}
		}
	}

	cfg.APIKey = token
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.APIKey = ""
	return cfg, token, nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration settings.

This command shows the merged configuration from:
  1. Configuration file (~/.config/dataverse/apiconfig)
  2. Environment variables (DATAVERSE_SERVER_URL, DATAVERSE_API_KEY, ...)
  3. Command-line flags (--server-url, --api-key, --token-file)

Priority: flags > environment > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			printConfig(os.Stdout, cfg)

			fmt.Printf("Configuration file: %s\n", path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Println("  (file does not exist - using defaults)")
			}
			return nil
		},
	}
}

// printConfig writes cfg for humans. Secrets are never printed.
func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "Current Configuration")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Dataverse:")
	fmt.Fprintf(w, "  Server URL: %s\n", valueOr(cfg.ServerURL, "<not set>"))
	if cfg.APIKey != "" {
		fmt.Fprintf(w, "  API Key:    <set (%d chars)>\n", len(cfg.APIKey))
	} else {
		fmt.Fprintln(w, "  API Key:    <not set>")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Upload:")
	fmt.Fprintf(w, "  Max Concurrent:     %d\n", cfg.Upload.MaxConcurrent)
	if cfg.Upload.MaxParallelParts == 0 {
		fmt.Fprintln(w, "  Max Parallel Parts: unbounded")
	} else {
		fmt.Fprintf(w, "  Max Parallel Parts: %d\n", cfg.Upload.MaxParallelParts)
	}
	fmt.Fprintf(w, "  Checksum Type:      %s\n", cfg.Upload.ChecksumType)
	fmt.Fprintf(w, "  Register:           %t\n", cfg.Upload.Register)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Storage:")
	fmt.Fprintf(w, "  Backend: %s\n", cfg.Storage.Backend)
	switch cfg.Storage.Backend {
	case config.BackendS3:
		fmt.Fprintf(w, "  Bucket:  %s\n", cfg.Storage.S3Bucket)
		fmt.Fprintf(w, "  Region:  %s\n", valueOr(cfg.Storage.S3Region, "<sdk default>"))
		if cfg.Storage.S3Endpoint != "" {
			fmt.Fprintf(w, "  Endpoint: %s\n", cfg.Storage.S3Endpoint)
		}
		fmt.Fprintf(w, "  Part Size: %d\n", cfg.Storage.PartSize)
	case config.BackendAzure:
		fmt.Fprintf(w, "  Account:   %s\n", cfg.Storage.AzureAccount)
		fmt.Fprintf(w, "  Container: %s\n", cfg.Storage.AzureContainer)
		if cfg.Storage.AzureKey != "" {
			fmt.Fprintln(w, "  Key:       <set>")
		}
		fmt.Fprintf(w, "  Part Size: %d\n", cfg.Storage.PartSize)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Proxy:")
	fmt.Fprintf(w, "  Mode: %s\n", cfg.Proxy.Mode)
	if cfg.Proxy.Host != "" {
		fmt.Fprintf(w, "  Host: %s\n", cfg.Proxy.Host)
		fmt.Fprintf(w, "  Port: %d\n", cfg.Proxy.Port)
	}
	if cfg.Proxy.NoProxy != "" {
		fmt.Fprintf(w, "  Bypass: %s\n", cfg.Proxy.NoProxy)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Logging:")
	fmt.Fprintf(w, "  Level: %s\n", cfg.Logging.Level)
	if cfg.Logging.File != "" {
		fmt.Fprintf(w, "  File:  %s\n", cfg.Logging.File)
	}
	fmt.Fprintln(w)
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// connectionTester is the part of the API client 'config test' uses.
type connectionTester interface {
	GetCurrentUser(ctx context.Context) (*models.User, error)
	GetServerVersion(ctx context.Context) (*models.ServerVersion, error)
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test API connection",
		Long: `Test the API connection with current configuration.

Use this to verify your API token and network connectivity.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := getAPIClient()
			if err != nil {
				return err
			}

			fmt.Println("Testing API Connection")
			fmt.Println("======================")
			fmt.Println()
			fmt.Printf("Server: %s\n", cfg.ServerURL)
			fmt.Println()

			ctx, cancel := context.WithTimeout(cmd.Context(), constants.APIConnectionTestTimeout)
			defer cancel()

			if err := testConnection(ctx, client, os.Stdout); err != nil {
				GetLogger().Error().Err(err).Msg("Connection test failed")
				return fmt.Errorf("connection test failed")
			}
			GetLogger().Info().Msg("Connection test successful")
			return nil
		},
	}
}

// testConnection checks the token against /api/users/:me and reports the
// server version. A version lookup failure is only a warning.
func testConnection(ctx context.Context, client connectionTester, w io.Writer) error {
	user, err := client.GetCurrentUser(ctx)
	if err != nil {
		fmt.Fprintln(w, "✗ Connection FAILED")
		fmt.Fprintf(w, "  Error: %v\n", err)
		return err
	}

	fmt.Fprintln(w, "✓ Connection SUCCESSFUL")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "User Information:")
	fmt.Fprintf(w, "  User:  %s (%s)\n", user.DisplayName, user.Identifier)
	if user.Email != "" {
		fmt.Fprintf(w, "  Email: %s\n", user.Email)
	}
	if user.Superuser {
		fmt.Fprintln(w, "  Superuser: yes")
	}

	if v, err := client.GetServerVersion(ctx); err != nil {
		fmt.Fprintf(w, "\nWarning: could not read server version: %v\n", err)
	} else {
		fmt.Fprintf(w, "\nServer version: %s\n", formatServerVersion(v))
	}
	return nil
}

func formatServerVersion(v *models.ServerVersion) string {
	if v.Build != "" {
		return v.Version + " build " + v.Build
	}
	return v.Version
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				fmt.Println("Configuration path (from --config flag):")
			} else {
				fmt.Println("Default configuration path:")
			}
			fmt.Printf("  %s\n\n", path)

			if info, err := os.Stat(path); err == nil {
				fmt.Println("Status: ✓ File exists")
				fmt.Printf("Size:   %d bytes\n", info.Size())
				fmt.Printf("Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Println("Status: File does not exist")
				fmt.Println()
				fmt.Println("Create a configuration file with: dataverse-int config init")
			}
			return nil
		},
	}
}
