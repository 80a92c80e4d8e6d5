package cli

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/iqss/dataverse-int/internal/api"
	"github.com/iqss/dataverse-int/internal/cloud/providers"
	"github.com/iqss/dataverse-int/internal/cloud/upload"
	"github.com/iqss/dataverse-int/internal/config"
	"github.com/iqss/dataverse-int/internal/http"
	"github.com/iqss/dataverse-int/internal/logging"
)

// loadConfig reads the config file and applies environment and flag
// overrides. Priority: flags > token file > environment > config file.
// The token written by 'config init' is used when nothing else supplies one.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	tokenPath := tokenFile
	if tokenPath == "" && apiKey == "" && cfg.APIKey == "" {
		if p := config.DefaultTokenPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				tokenPath = p
			}
		}
	}
	if err := cfg.MergeWithFlags(apiKey, tokenPath, serverURL); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getAPIClient loads configuration and creates an API client.
func getAPIClient() (*api.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateForConnection(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if http.NeedsProxyPassword(cfg.Proxy) {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, nil, fmt.Errorf("proxy user %q has no password; set DATAVERSE_PROXY_PASSWORD", cfg.Proxy.User)
		}
		if err := promptProxyPassword(newPrompter(os.Stdin, os.Stderr), &cfg.Proxy); err != nil {
			return nil, nil, fmt.Errorf("failed to read proxy password: %w", err)
		}
	}
	client, err := api.NewClient(cfg, api.WithLogger(GetLogger()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create API client: %w", err)
	}
	return client, cfg, nil
}

// promptProxyPassword asks for the password of the configured proxy user.
// The answer is kept in memory only.
func promptProxyPassword(p *prompter, px *config.ProxyConfig) error {
	password, err := p.secret(fmt.Sprintf("Password for proxy user %s", px.User))
	if err != nil {
		return err
	}
	px.Password = password
	return nil
}

// newUploader wires an Uploader for cfg: destinations come from the
// configured storage backend, parts travel over the storage-tuned HTTP
// client, and registration goes to the Dataverse API.
func newUploader(ctx context.Context, cfg *config.Config, client *api.Client, maxParallelParts int, logger *logging.Logger) (*upload.Uploader, error) {
	storageClient, err := http.CreateOptimizedClient(&cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage HTTP client: %w", err)
	}

	backend, err := providers.NewFactory(client, storageClient, logger).NewBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to configure %s storage: %w", cfg.Storage.Backend, err)
	}

	return upload.NewUploader(upload.Options{
		Issuer:           backend,
		Transporter:      upload.NewHTTPTransporter(storageClient),
		Finisher:         backend,
		Registrar:        client,
		Logger:           logger,
		MaxParallelParts: maxParallelParts,
	})
}
