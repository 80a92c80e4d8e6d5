package azure

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/google/uuid"

	"github.com/iqss/dataverse-int/internal/cloud/upload"
	"github.com/iqss/dataverse-int/internal/constants"
	"github.com/iqss/dataverse-int/internal/logging"
)

const (
	// maxBlocks is the block count limit of a block blob.
	maxBlocks = 50000
	// maxBlockSize is the largest block Put Block accepts (4000 MiB).
	maxBlockSize = 4000 * 1024 * 1024
)

// Provider is an upload.DestinationIssuer and upload.MultipartFinisher
// backed by an Azure Blob container.
type Provider struct {
	container     *container.Client
	cred          *azblob.SharedKeyCredential
	containerName string
	prefix        string
	partSize      int64
	expiry        time.Duration
	logger        *logging.Logger
}

// NewProvider creates a provider for opts.Container.
func NewProvider(opts Options) (*Provider, error) {
	partSize := opts.PartSize
	if partSize == 0 {
		partSize = constants.DefaultPartSize
	}
	if partSize < constants.MinPartSize || partSize > maxBlockSize {
		return nil, fmt.Errorf("azure block size %d outside [%d, %d]", partSize, constants.MinPartSize, maxBlockSize)
	}

	cc, cred, err := newContainerClient(opts)
	if err != nil {
		return nil, err
	}

	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = constants.PresignExpiry
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Provider{
		container:     cc,
		cred:          cred,
		containerName: opts.Container,
		prefix:        strings.Trim(opts.Prefix, "/"),
		partSize:      partSize,
		expiry:        expiry,
		logger:        logger,
	}, nil
}

// blockID is the base64 block id of a part. All ids of one blob must
// have the same length, hence the fixed width.
func blockID(partNumber int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("part-%06d", partNumber)))
}

// GetUploadDestination signs the URLs for file. No request is made to
// Azure: uncommitted blocks need no multipart session.
func (p *Provider) GetUploadDestination(ctx context.Context, targetID string, file upload.File) (*upload.Destination, error) {
	name := path.Join(p.prefix, sanitizeID(targetID), uuid.NewString())
	blobURL := p.container.NewBlockBlobClient(name).URL()

	now := time.Now().UTC()
	perms := sas.BlobPermissions{Create: true, Write: true}
	qp, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPSandHTTP,
		StartTime:     now.Add(-5 * time.Minute),
		ExpiryTime:    now.Add(p.expiry),
		Permissions:   perms.String(),
		ContainerName: p.containerName,
		BlobName:      name,
	}.SignWithSharedKey(p.cred)
	if err != nil {
		return nil, fmt.Errorf("failed to sign upload URL: %w", err)
	}
	token := qp.Encode()

	size := file.Size()
	if size <= p.partSize {
		return &upload.Destination{
			URLs:      []string{blobURL + "?" + token},
			StorageID: storageID(p.containerName, name),
			PartSize:  p.partSize,
			Headers:   map[string]string{"x-ms-blob-type": "BlockBlob"},
		}, nil
	}

	parts := upload.PartCount(size, p.partSize)
	if parts > maxBlocks {
		return nil, fmt.Errorf("file of %d bytes needs %d blocks of %d bytes, more than Azure allows (%d)",
			size, parts, p.partSize, maxBlocks)
	}

	urls := make([]string, parts)
	for i := range urls {
		urls[i] = blobURL + "?comp=block&blockid=" + url.QueryEscape(blockID(i+1)) + "&" + token
	}

	return &upload.Destination{
		URLs:             urls,
		StorageID:        storageID(p.containerName, name),
		PartSize:         p.partSize,
		AbortEndpoint:    blobURL,
		CompleteEndpoint: blobURL,
	}, nil
}

// AbortMultipart deletes the blob. Uncommitted blocks of a blob that was
// never committed expire on their own, so a missing blob is not an error.
func (p *Provider) AbortMultipart(ctx context.Context, dest *upload.Destination) error {
	name, err := p.blobName(dest.AbortEndpoint)
	if err != nil {
		return err
	}
	_, err = p.container.NewBlockBlobClient(name).Delete(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// CompleteMultipart commits the blocks in part order. Put Block returns
// no per-block token, so the ids are derived from the part numbers.
func (p *Provider) CompleteMultipart(ctx context.Context, dest *upload.Destination, parts []upload.CompletedPart) error {
	name, err := p.blobName(dest.CompleteEndpoint)
	if err != nil {
		return err
	}

	ids := make([]string, len(parts))
	for i, part := range parts {
		ids[i] = blockID(part.Number)
	}

	_, err = p.container.NewBlockBlobClient(name).CommitBlockList(ctx, ids, nil)
	if err != nil {
		return fmt.Errorf("failed to commit block list: %w", err)
	}
	p.logger.Debug().Str("blob", name).Int("blocks", len(ids)).Msg("azure block list committed")
	return nil
}

// blobName extracts the blob name from a blob URL in this container.
func (p *Provider) blobName(endpoint string) (string, error) {
	containerURL := strings.TrimSuffix(p.container.URL(), "/") + "/"
	if !strings.HasPrefix(endpoint, containerURL) {
		return "", fmt.Errorf("endpoint %q is not in container %q", endpoint, p.containerName)
	}
	escaped := strings.TrimPrefix(endpoint, containerURL)
	if i := strings.IndexByte(escaped, '?'); i >= 0 {
		escaped = escaped[:i]
	}
	name, err := url.PathUnescape(escaped)
	if err != nil || name == "" {
		return "", fmt.Errorf("endpoint %q has no blob name", endpoint)
	}
	return name, nil
}

func storageID(containerName, name string) string {
	return "azure://" + containerName + ":" + name
}

func sanitizeID(id string) string {
	r := strings.NewReplacer(":", "-", "/", "-", "\\", "-")
	return r.Replace(strings.TrimSpace(id))
}
