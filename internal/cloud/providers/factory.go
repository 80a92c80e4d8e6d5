// Package providers selects who issues upload destinations and finishes
// multipart uploads: the Dataverse server itself, or a bucket or
// container the user manages.
package providers

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/iqss/dataverse-int/internal/api"
	"github.com/iqss/dataverse-int/internal/cloud/providers/azure"
	"github.com/iqss/dataverse-int/internal/cloud/providers/s3"
	"github.com/iqss/dataverse-int/internal/cloud/upload"
	"github.com/iqss/dataverse-int/internal/config"
	"github.com/iqss/dataverse-int/internal/logging"
)

// Backend issues destinations and finishes multipart uploads.
type Backend interface {
	upload.DestinationIssuer
	upload.MultipartFinisher
}

// Factory creates the Backend named by the storage configuration.
type Factory struct {
	apiClient  *api.Client
	httpClient *nethttp.Client
	logger     *logging.Logger
}

// NewFactory creates a factory. apiClient serves the dataverse backend;
// httpClient carries S3 and Azure API calls.
func NewFactory(apiClient *api.Client, httpClient *nethttp.Client, logger *logging.Logger) *Factory {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Factory{apiClient: apiClient, httpClient: httpClient, logger: logger}
}

// NewBackend returns the backend for cfg.Backend.
func (f *Factory) NewBackend(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case config.BackendDataverse, "":
		if f.apiClient == nil {
			return nil, fmt.Errorf("dataverse backend requires an API client")
		}
		return f.apiClient, nil

	case config.BackendS3:
		return s3.NewProvider(ctx, s3.Options{
			Bucket:      cfg.S3Bucket,
			Region:      cfg.S3Region,
			Endpoint:    cfg.S3Endpoint,
			Prefix:      cfg.S3Prefix,
			PartSize:    cfg.PartSize,
			Credentials: staticS3Credentials(),
			HTTPClient:  f.httpClient,
			Logger:      f.logger,
		})

	case config.BackendAzure:
		return azure.NewProvider(azure.Options{
			Account:    cfg.AzureAccount,
			Key:        cfg.AzureKey,
			Container:  cfg.AzureContainer,
			ServiceURL: cfg.AzureServiceURL,
			Prefix:     cfg.S3Prefix,
			PartSize:   cfg.PartSize,
			HTTPClient: f.httpClient,
			Logger:     f.logger,
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// staticS3Credentials returns keys for an S3-compatible store kept apart
// from the AWS credential chain, or nil to use the chain.
func staticS3Credentials() aws.CredentialsProvider {
	id, secret := os.Getenv("DATAVERSE_S3_ACCESS_KEY"), os.Getenv("DATAVERSE_S3_SECRET_KEY")
	if id == "" || secret == "" {
		return nil
	}
	return awscreds.NewStaticCredentialsProvider(id, secret, "")
}
