// Package config provides configuration management for dataverse-int.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/iqss/dataverse-int/internal/constants"
)

// Storage backends accepted by [storage] backend.
const (
	BackendDataverse = "dataverse"
	BackendS3        = "s3"
	BackendAzure     = "azure"
)

// Config is the full client configuration.
//
// Config file location:
//   - Windows: %USERPROFILE%\.config\dataverse\apiconfig
//   - Unix: ~/.config/dataverse/apiconfig
//
// INI format:
//
//	[dataverse]
//	server_url = https://demo.dataverse.org
//	api_key = <api-token>
//
//	[upload]
//	max_concurrent = 3
//	max_parallel_parts = 0
//	checksum_type = MD5
//	register = true
//
//	[proxy]
//	mode = no-proxy
//	host =
//	port = 8080
//	user =
//	no_proxy =
//	warmup = false
//
//	[storage]
//	backend = dataverse
//	part_size = 67108864
//	s3_bucket =
//	s3_region =
//	s3_endpoint =
//	s3_prefix =
//	azure_account =
//	azure_container =
//	azure_service_url =
//
//	[logging]
//	file =
//	level = info
type Config struct {
	// Dataverse connection settings
	ServerURL string
	APIKey    string

	Upload  UploadConfig
	Proxy   ProxyConfig
	Storage StorageConfig
	Logging LoggingConfig
}

// UploadConfig holds defaults for the files upload command.
type UploadConfig struct {
	// MaxConcurrent bounds how many files upload at once.
	MaxConcurrent int

	// MaxParallelParts bounds the part fan-out within one file. 0 is unbounded.
	MaxParallelParts int

	// ChecksumType is one of MD5, SHA-1, SHA-256, SHA-512.
	ChecksumType string

	// Register controls whether uploaded files are added to the dataset.
	Register bool
}

// ProxyConfig holds outbound proxy settings.
type ProxyConfig struct {
	Mode     string // "no-proxy", "system", "basic", "ntlm"
	Host     string
	Port     int
	User     string
	Password string // never persisted
	NoProxy  string // comma-separated bypass list
	Warmup   bool
}

// StorageConfig selects who issues upload destinations.
// With the dataverse backend the server issues them; s3 and azure
// issue them locally against a bucket/container the user controls.
type StorageConfig struct {
	Backend  string
	PartSize int64

	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string

	AzureAccount    string
	AzureContainer  string
	AzureServiceURL string
	AzureKey        string // AZURE_STORAGE_KEY only, never persisted
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	File  string
	Level string
}

// Validation errors
var (
	ErrMissingServerURL     = errors.New("server_url is required")
	ErrMissingAPIKey        = errors.New("api_key is required (set via DATAVERSE_API_KEY, --api-key or --token-file)")
	ErrInvalidMaxConcurrent = fmt.Errorf("max_concurrent must be between %d and %d", constants.MinMaxConcurrent, constants.MaxMaxConcurrent)
	ErrInvalidParallelParts = errors.New("max_parallel_parts must not be negative")
	ErrInvalidChecksumType  = errors.New("checksum_type must be one of MD5, SHA-1, SHA-256, SHA-512")
	ErrInvalidBackend       = errors.New("storage backend must be one of dataverse, s3, azure")
	ErrMissingBucket        = errors.New("s3_bucket is required for the s3 backend")
	ErrMissingContainer     = errors.New("azure_account and azure_container are required for the azure backend")
	ErrInvalidPartSize      = fmt.Errorf("part_size must be at least %d bytes", constants.MinPartSize)
)

// ConfigDir is the directory name under ~/.config.
const ConfigDir = "dataverse"

// getConfigDir returns the platform-appropriate config directory.
func getConfigDir() string {
	if runtime.GOOS == "windows" {
		if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
			return filepath.Join(userProfile, ".config", ConfigDir)
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", ConfigDir)
	}
	return ""
}

// DefaultConfigPath returns the default path for the apiconfig file.
func DefaultConfigPath() (string, error) {
	dir := getConfigDir()
	if dir == "" {
		return "", errors.New("could not determine home directory")
	}
	return filepath.Join(dir, "apiconfig"), nil
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Upload: UploadConfig{
			MaxConcurrent:    constants.DefaultMaxConcurrent,
			MaxParallelParts: constants.DefaultMaxParallelParts,
			ChecksumType:     "MD5",
			Register:         true,
		},
		Proxy: ProxyConfig{
			Mode: "no-proxy",
			Port: 8080,
		},
		Storage: StorageConfig{
			Backend:  BackendDataverse,
			PartSize: constants.DefaultPartSize,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from an INI file.
// If the file doesn't exist, returns a config with default values and no error.
// If the file exists but is invalid, returns an error.
func Load(path string) (*Config, error) {
	cfg := New()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	dv := iniFile.Section("dataverse")
	cfg.ServerURL = dv.Key("server_url").String()
	cfg.APIKey = dv.Key("api_key").String()

	up := iniFile.Section("upload")
	cfg.Upload.MaxConcurrent = up.Key("max_concurrent").MustInt(cfg.Upload.MaxConcurrent)
	cfg.Upload.MaxParallelParts = up.Key("max_parallel_parts").MustInt(cfg.Upload.MaxParallelParts)
	cfg.Upload.ChecksumType = up.Key("checksum_type").MustString(cfg.Upload.ChecksumType)
	cfg.Upload.Register = up.Key("register").MustBool(cfg.Upload.Register)

	px := iniFile.Section("proxy")
	cfg.Proxy.Mode = px.Key("mode").MustString(cfg.Proxy.Mode)
	cfg.Proxy.Host = px.Key("host").String()
	cfg.Proxy.Port = px.Key("port").MustInt(cfg.Proxy.Port)
	cfg.Proxy.User = px.Key("user").String()
	cfg.Proxy.NoProxy = px.Key("no_proxy").String()
	cfg.Proxy.Warmup = px.Key("warmup").MustBool(false)

	st := iniFile.Section("storage")
	cfg.Storage.Backend = strings.ToLower(st.Key("backend").MustString(cfg.Storage.Backend))
	cfg.Storage.PartSize = st.Key("part_size").MustInt64(cfg.Storage.PartSize)
	cfg.Storage.S3Bucket = st.Key("s3_bucket").String()
	cfg.Storage.S3Region = st.Key("s3_region").String()
	cfg.Storage.S3Endpoint = st.Key("s3_endpoint").String()
	cfg.Storage.S3Prefix = st.Key("s3_prefix").String()
	cfg.Storage.AzureAccount = st.Key("azure_account").String()
	cfg.Storage.AzureContainer = st.Key("azure_container").String()
	cfg.Storage.AzureServiceURL = st.Key("azure_service_url").String()

	lg := iniFile.Section("logging")
	cfg.Logging.File = lg.Key("file").String()
	cfg.Logging.Level = lg.Key("level").MustString(cfg.Logging.Level)

	return cfg, nil
}

// Save writes configuration to an INI file.
// Creates parent directories if they don't exist. Secrets other than the
// API key (proxy password, Azure account key) are never written.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	dv, err := iniFile.NewSection("dataverse")
	if err != nil {
		return fmt.Errorf("failed to create dataverse section: %w", err)
	}
	dv.Key("server_url").SetValue(cfg.ServerURL)
	dv.Key("api_key").SetValue(cfg.APIKey)

	up, err := iniFile.NewSection("upload")
	if err != nil {
		return fmt.Errorf("failed to create upload section: %w", err)
	}
	up.Key("max_concurrent").SetValue(strconv.Itoa(cfg.Upload.MaxConcurrent))
	up.Key("max_parallel_parts").SetValue(strconv.Itoa(cfg.Upload.MaxParallelParts))
	up.Key("checksum_type").SetValue(cfg.Upload.ChecksumType)
	up.Key("register").SetValue(strconv.FormatBool(cfg.Upload.Register))

	px, err := iniFile.NewSection("proxy")
	if err != nil {
		return fmt.Errorf("failed to create proxy section: %w", err)
	}
	px.Key("mode").SetValue(cfg.Proxy.Mode)
	px.Key("host").SetValue(cfg.Proxy.Host)
	px.Key("port").SetValue(strconv.Itoa(cfg.Proxy.Port))
	px.Key("user").SetValue(cfg.Proxy.User)
	px.Key("no_proxy").SetValue(cfg.Proxy.NoProxy)
	px.Key("warmup").SetValue(strconv.FormatBool(cfg.Proxy.Warmup))

	st, err := iniFile.NewSection("storage")
	if err != nil {
		return fmt.Errorf("failed to create storage section: %w", err)
	}
	st.Key("backend").SetValue(cfg.Storage.Backend)
	st.Key("part_size").SetValue(strconv.FormatInt(cfg.Storage.PartSize, 10))
	st.Key("s3_bucket").SetValue(cfg.Storage.S3Bucket)
	st.Key("s3_region").SetValue(cfg.Storage.S3Region)
	st.Key("s3_endpoint").SetValue(cfg.Storage.S3Endpoint)
	st.Key("s3_prefix").SetValue(cfg.Storage.S3Prefix)
	st.Key("azure_account").SetValue(cfg.Storage.AzureAccount)
	st.Key("azure_container").SetValue(cfg.Storage.AzureContainer)
	st.Key("azure_service_url").SetValue(cfg.Storage.AzureServiceURL)

	lg, err := iniFile.NewSection("logging")
	if err != nil {
		return fmt.Errorf("failed to create logging section: %w", err)
	}
	lg.Key("file").SetValue(cfg.Logging.File)
	lg.Key("level").SetValue(cfg.Logging.Level)

	// Temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	// API key is sensitive
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// ApplyEnv overlays environment variables onto the loaded file values.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("DATAVERSE_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("DATAVERSE_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("DATAVERSE_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("AZURE_STORAGE_KEY"); v != "" {
		c.Storage.AzureKey = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" && c.Proxy.Host == "" {
		c.parseProxyURL(v)
	}
	if v := os.Getenv("DATAVERSE_PROXY_PASSWORD"); v != "" {
		c.Proxy.Password = v
	}
}

// MergeWithFlags applies command-line overrides.
// Priority (highest to lowest): --api-key, --token-file, environment, config file.
func (c *Config) MergeWithFlags(apiKey, tokenFilePath, serverURL string) error {
	if tokenFilePath != "" {
		key, err := ReadTokenFile(tokenFilePath)
		if err != nil {
			return err
		}
		c.APIKey = key
	}
	if apiKey != "" {
		c.APIKey = apiKey
	}
	if serverURL != "" {
		c.ServerURL = serverURL
	}

	// Ensure HTTPS scheme
	if c.ServerURL != "" && !strings.HasPrefix(c.ServerURL, "http") {
		c.ServerURL = "https://" + c.ServerURL
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	return nil
}

// parseProxyURL parses http://host:port from HTTPS_PROXY.
func (c *Config) parseProxyURL(proxyURL string) {
	proxyURL = strings.TrimPrefix(proxyURL, "http://")
	proxyURL = strings.TrimPrefix(proxyURL, "https://")
	proxyURL = strings.TrimRight(proxyURL, "/")

	parts := strings.Split(proxyURL, ":")
	if len(parts) >= 1 {
		c.Proxy.Host = parts[0]
	}
	if len(parts) >= 2 {
		if port, err := strconv.Atoi(parts[1]); err == nil {
			c.Proxy.Port = port
		}
	}
	if c.Proxy.Host != "" && (c.Proxy.Mode == "no-proxy" || c.Proxy.Mode == "") {
		c.Proxy.Mode = "system"
	}
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.ValidateForConnection(); err != nil {
		return err
	}
	if c.Upload.MaxConcurrent < constants.MinMaxConcurrent || c.Upload.MaxConcurrent > constants.MaxMaxConcurrent {
		return ErrInvalidMaxConcurrent
	}
	if c.Upload.MaxParallelParts < 0 {
		return ErrInvalidParallelParts
	}
	switch strings.ToUpper(c.Upload.ChecksumType) {
	case "MD5", "SHA-1", "SHA-256", "SHA-512":
	default:
		return ErrInvalidChecksumType
	}

	switch c.Storage.Backend {
	case BackendDataverse, "":
	case BackendS3:
		if strings.TrimSpace(c.Storage.S3Bucket) == "" {
			return ErrMissingBucket
		}
		if c.Storage.PartSize < constants.MinPartSize {
			return ErrInvalidPartSize
		}
	case BackendAzure:
		if strings.TrimSpace(c.Storage.AzureAccount) == "" || strings.TrimSpace(c.Storage.AzureContainer) == "" {
			return ErrMissingContainer
		}
		if c.Storage.PartSize < constants.MinPartSize {
			return ErrInvalidPartSize
		}
	default:
		return ErrInvalidBackend
	}
	return nil
}

// ValidateForConnection checks only server_url and api_key.
func (c *Config) ValidateForConnection() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return ErrMissingServerURL
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}
