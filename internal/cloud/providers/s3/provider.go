package s3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/iqss/dataverse-int/internal/cloud/upload"
	"github.com/iqss/dataverse-int/internal/constants"
	"github.com/iqss/dataverse-int/internal/logging"
)

// Provider is an upload.DestinationIssuer and upload.MultipartFinisher
// backed by an S3 bucket.
type Provider struct {
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	prefix   string
	partSize int64
	expiry   time.Duration
	logger   *logging.Logger
}

// NewProvider creates a provider for opts.Bucket.
func NewProvider(ctx context.Context, opts Options) (*Provider, error) {
	partSize := opts.PartSize
	if partSize == 0 {
		partSize = constants.DefaultPartSize
	}
	if partSize < constants.MinPartSize || partSize > constants.MaxS3PartSize {
		return nil, fmt.Errorf("s3 part size %d outside [%d, %d]", partSize, constants.MinPartSize, constants.MaxS3PartSize)
	}

	client, err := newS3Client(ctx, opts)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Provider{
		client:   client,
		presign:  s3.NewPresignClient(client),
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		partSize: partSize,
		expiry:   defaultExpiry(opts.Expiry),
		logger:   logger,
	}, nil
}

// objectKey places each upload under the dataset's prefix with a random
// name, as Dataverse does for its own stores.
func (p *Provider) objectKey(targetID string) string {
	return path.Join(p.prefix, sanitizeID(targetID), uuid.NewString())
}

// sanitizeID makes a persistent identifier usable as a key segment.
func sanitizeID(id string) string {
	r := strings.NewReplacer(":", "-", "/", "-", "\\", "-")
	return r.Replace(strings.TrimSpace(id))
}

// GetUploadDestination pre-signs the URLs for file. Files no larger than
// one part get a single PutObject URL; larger files start a multipart
// upload and get one UploadPart URL per part.
func (p *Provider) GetUploadDestination(ctx context.Context, targetID string, file upload.File) (*upload.Destination, error) {
	key := p.objectKey(targetID)
	size := file.Size()
	withExpiry := func(o *s3.PresignOptions) { o.Expires = p.expiry }

	if size <= p.partSize {
		req, err := p.presign.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(key),
		}, withExpiry)
		if err != nil {
			return nil, fmt.Errorf("failed to presign put: %w", err)
		}
		return &upload.Destination{
			URLs:      []string{req.URL},
			StorageID: storageID(p.bucket, key),
			PartSize:  p.partSize,
		}, nil
	}

	parts := upload.PartCount(size, p.partSize)
	if parts > constants.MaxParts {
		return nil, fmt.Errorf("file of %d bytes needs %d parts of %d bytes, more than S3 allows (%d)",
			size, parts, p.partSize, constants.MaxParts)
	}

	created, err := p.client.CreateMultipartUpload(traceContext(ctx, p.logger, "CreateMultipartUpload"), &s3.CreateMultipartUploadInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart upload: %w", err)
	}
	uploadID := aws.ToString(created.UploadId)

	urls := make([]string, parts)
	for i := range urls {
		req, err := p.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(p.bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(int32(i + 1)),
		}, withExpiry)
		if err != nil {
			// Nothing was handed out; release the upload now.
			_ = p.abort(context.WithoutCancel(ctx), key, uploadID)
			return nil, fmt.Errorf("failed to presign part %d: %w", i+1, err)
		}
		urls[i] = req.URL
	}

	endpoint := multipartEndpoint(p.bucket, key, uploadID)
	p.logger.Debug().Str("key", key).Str("upload_id", uploadID).Int("parts", parts).Msg("s3 multipart upload created")

	return &upload.Destination{
		URLs:             urls,
		StorageID:        storageID(p.bucket, key),
		PartSize:         p.partSize,
		AbortEndpoint:    endpoint,
		CompleteEndpoint: endpoint,
	}, nil
}

// AbortMultipart aborts the multipart upload named by dest.AbortEndpoint.
func (p *Provider) AbortMultipart(ctx context.Context, dest *upload.Destination) error {
	bucket, key, uploadID, err := parseMultipartEndpoint(dest.AbortEndpoint)
	if err != nil {
		return err
	}
	if bucket != p.bucket {
		return fmt.Errorf("abort endpoint is for bucket %q, provider serves %q", bucket, p.bucket)
	}
	return p.abort(ctx, key, uploadID)
}

func (p *Provider) abort(ctx context.Context, key, uploadID string) error {
	_, err := p.client.AbortMultipartUpload(traceContext(ctx, p.logger, "AbortMultipartUpload"), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(p.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	var noSuchUpload *types.NoSuchUpload
	if errors.As(err, &noSuchUpload) {
		// Already gone: aborted elsewhere or expired by a lifecycle rule.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}
	return nil
}

// CompleteMultipart assembles the object from parts.
func (p *Provider) CompleteMultipart(ctx context.Context, dest *upload.Destination, parts []upload.CompletedPart) error {
	bucket, key, uploadID, err := parseMultipartEndpoint(dest.CompleteEndpoint)
	if err != nil {
		return err
	}
	if bucket != p.bucket {
		return fmt.Errorf("complete endpoint is for bucket %q, provider serves %q", bucket, p.bucket)
	}

	completed := make([]types.CompletedPart, len(parts))
	for i, part := range parts {
		if part.Token == "" {
			return fmt.Errorf("part %d has no ETag", part.Number)
		}
		completed[i] = types.CompletedPart{
			ETag:       aws.String(part.Token),
			PartNumber: aws.Int32(int32(part.Number)),
		}
	}

	_, err = p.client.CompleteMultipartUpload(traceContext(ctx, p.logger, "CompleteMultipartUpload"), &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(p.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}

// storageID is the identifier Dataverse stores for S3 objects.
func storageID(bucket, key string) string {
	return "s3://" + bucket + ":" + key
}

// multipartEndpoint encodes a multipart upload as s3://bucket/key?uploadId=ID.
func multipartEndpoint(bucket, key, uploadID string) string {
	u := url.URL{
		Scheme:   "s3",
		Host:     bucket,
		Path:     "/" + key,
		RawQuery: url.Values{"uploadId": {uploadID}}.Encode(),
	}
	return u.String()
}

func parseMultipartEndpoint(endpoint string) (bucket, key, uploadID string, err error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid multipart endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", "", fmt.Errorf("invalid multipart endpoint %q: not an s3 endpoint", endpoint)
	}
	key = strings.TrimPrefix(u.Path, "/")
	uploadID = u.Query().Get("uploadId")
	if key == "" || uploadID == "" {
		return "", "", "", fmt.Errorf("invalid multipart endpoint %q: missing key or uploadId", endpoint)
	}
	return u.Host, key, uploadID, nil
}
