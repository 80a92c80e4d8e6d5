// Package s3 issues direct upload destinations against an S3 bucket the
// client manages itself: pre-signed PutObject URLs for small files and
// pre-signed UploadPart URLs for multipart uploads.
package s3

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/http/httptrace"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/iqss/dataverse-int/internal/constants"
	"github.com/iqss/dataverse-int/internal/logging"
)

// Options configures a Provider.
type Options struct {
	Bucket   string
	Region   string
	Endpoint string // S3-compatible endpoint (MinIO, Ceph); empty for AWS
	Prefix   string
	PartSize int64

	// Credentials overrides the default AWS credential chain.
	Credentials aws.CredentialsProvider
	// HTTPClient is used for S3 API calls (create, complete, abort).
	HTTPClient *nethttp.Client
	// Expiry is how long pre-signed URLs stay valid.
	Expiry time.Duration
	// RetryMaxAttempts bounds SDK retries of S3 API calls; 0 keeps the SDK default.
	RetryMaxAttempts int

	Logger *logging.Logger
}

// newS3Client loads AWS configuration and builds the S3 client. Custom
// endpoints use path-style addressing, which MinIO and most S3-compatible
// stores require.
func newS3Client(ctx context.Context, opts Options) (*s3.Client, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(opts.HTTPClient))
	}
	if opts.Credentials != nil {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(opts.Credentials))
	}
	if opts.RetryMaxAttempts > 0 {
		loadOpts = append(loadOpts, awsconfig.WithRetryMaxAttempts(opts.RetryMaxAttempts))
	}

	t := time.Now()
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if opts.Logger != nil {
		opts.Logger.Debug().Dur("took", time.Since(t)).Str("region", cfg.Region).Msg("loaded AWS config")
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		// Pre-signed URLs must not require checksum headers the
		// transporter doesn't send.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// traceContext adds HTTP connection tracing when DEBUG_HTTP=true.
func traceContext(ctx context.Context, logger *logging.Logger, operation string) context.Context {
	if os.Getenv("DEBUG_HTTP") != "true" {
		return ctx
	}

	var handshakeStart time.Time
	return httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			logger.Debug().Str("op", operation).Bool("reused", info.Reused).Msg("s3 connection")
		},
		TLSHandshakeStart: func() {
			handshakeStart = time.Now()
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, _ error) {
			logger.Debug().Str("op", operation).Dur("took", time.Since(handshakeStart)).Msg("s3 TLS handshake")
		},
	})
}

func defaultExpiry(d time.Duration) time.Duration {
	if d <= 0 {
		return constants.PresignExpiry
	}
	return d
}
