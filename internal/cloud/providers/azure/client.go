// Package azure issues direct upload destinations against an Azure Blob
// Storage container: SAS-signed Put Blob URLs for small files and Put
// Block URLs committed with Put Block List for larger ones.
package azure

import (
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/iqss/dataverse-int/internal/logging"
)

// Options configures a Provider.
type Options struct {
	Account   string
	Key       string // base64 shared key; signs the SAS URLs
	Container string
	// ServiceURL overrides https://{account}.blob.core.windows.net/,
	// e.g. http://127.0.0.1:10000/devstoreaccount1 for Azurite.
	ServiceURL string
	Prefix     string
	PartSize   int64

	HTTPClient *nethttp.Client
	Expiry     time.Duration
	// MaxRetries bounds SDK retries of block list and delete calls.
	// Negative disables retries; 0 keeps the SDK default.
	MaxRetries int32

	Logger *logging.Logger
}

func serviceURL(opts Options) string {
	if opts.ServiceURL != "" {
		return strings.TrimSuffix(opts.ServiceURL, "/") + "/"
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", opts.Account)
}

// newContainerClient builds a shared-key container client. The same
// credential signs the SAS tokens handed to the transporter.
func newContainerClient(opts Options) (*container.Client, *azblob.SharedKeyCredential, error) {
	if opts.Account == "" {
		return nil, nil, errors.New("azure storage account is required")
	}
	if opts.Container == "" {
		return nil, nil, errors.New("azure container is required")
	}
	if opts.Key == "" {
		return nil, nil, errors.New("azure storage key is required to sign upload URLs")
	}

	cred, err := azblob.NewSharedKeyCredential(opts.Account, opts.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid azure storage key: %w", err)
	}

	clientOpts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{MaxRetries: opts.MaxRetries},
		},
	}
	if opts.HTTPClient != nil {
		// Preserve the proxy-aware connection pool.
		clientOpts.Transport = opts.HTTPClient
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL(opts), cred, clientOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Azure client: %w", err)
	}
	return client.ServiceClient().NewContainerClient(opts.Container), cred, nil
}
