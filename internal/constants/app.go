package constants

import (
	"time"
)

// AppName is the display name used in notifications and help text.
const AppName = "Dataverse Uploader"

// Direct upload progress milestones.
// The orchestrator reports ProgressStarted once a destination is accepted,
// spreads ProgressPartsSpan across part completions, and reports
// ProgressDone when the object is durable and finalized.
const (
	ProgressStarted   = 10
	ProgressPartsSpan = 80
	ProgressDone      = 100
)

// Direct upload timeouts
const (
	// AbortTimeout - bound on the multipart abort call (30 seconds)
	// The abort runs on a context detached from the caller's, so it still
	// executes after the caller cancels.
	AbortTimeout = 30 * time.Second

	// RegistrationTimeout - bound on a single registration call (2 minutes)
	// Dataverse may compute derived metadata synchronously on add.
	RegistrationTimeout = 2 * time.Minute

	// PresignExpiry - lifetime of URLs issued by self-managed providers (1 hour)
	PresignExpiry = 1 * time.Hour
)

// Self-managed provider part sizing
const (
	// DefaultPartSize - part size handed out by self-managed providers (64 MB)
	DefaultPartSize = 64 * 1024 * 1024

	// MinPartSize - AWS S3 minimum part size (5 MB, except last part)
	// Azure has no equivalent minimum
	MinPartSize = 5 * 1024 * 1024

	// MaxS3PartSize - AWS S3 maximum part size (5 GB)
	MaxS3PartSize = 5 * 1024 * 1024 * 1024

	// MaxParts - S3 and Azure both cap an object at 10,000 parts/blocks
	MaxParts = 10000
)

// Retry configuration for whole-file upload retries in the transfer manager
const (
	// DefaultUploadRetries - restarts of a file upload after a transient failure
	DefaultUploadRetries = 2

	// MaxRetries - maximum number of retries for transient errors
	MaxRetries = 5

	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (15s)
	// Exponential backoff with jitter caps at this value
	RetryMaxDelay = 15 * time.Second
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels
	EventBusDefaultBuffer = 1000
)

// UI Updates
const (
	// ProgressUpdateInterval - interval for progress bar refreshes (250ms)
	ProgressUpdateInterval = 250 * time.Millisecond
)

// CLI Concurrency Limits
const (
	// DefaultMaxConcurrent - default concurrent file uploads
	DefaultMaxConcurrent = 3

	// MinMaxConcurrent - minimum concurrent uploads (sequential mode)
	MinMaxConcurrent = 1

	// MaxMaxConcurrent - maximum concurrent uploads allowed
	MaxMaxConcurrent = 10

	// DefaultMaxParallelParts - 0 leaves the part fan-out unbounded
	DefaultMaxParallelParts = 0
)

// API and Context Timeouts
const (
	// APIContextTimeout - default timeout for API operations (30 seconds)
	APIContextTimeout = 30 * time.Second

	// APIConnectionTestTimeout - timeout for testing API connectivity (10 seconds)
	APIConnectionTestTimeout = 10 * time.Second
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (60 seconds)
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second
)

// Rate limiting for the Dataverse API
const (
	// APIRateLimit - sustained requests per second against the Dataverse API
	APIRateLimit = 10.0

	// APIBurst - token bucket capacity
	APIBurst = 20

	// RateLimitWarningThreshold - delay threshold to show warning (2 seconds)
	RateLimitWarningThreshold = 2 * time.Second
)
