package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iqss/dataverse-int/internal/checksum"
	"github.com/iqss/dataverse-int/internal/cloud/upload"
	"github.com/iqss/dataverse-int/internal/constants"
	"github.com/iqss/dataverse-int/internal/events"
	"github.com/iqss/dataverse-int/internal/http"
	"github.com/iqss/dataverse-int/internal/logging"
)

// Uploader is the part of *upload.Uploader the manager drives.
type Uploader interface {
	UploadFile(ctx context.Context, targetID string, file upload.File, onProgress upload.ProgressFunc, dest *upload.Destination) (string, error)
	RegisterUploadedFile(ctx context.Context, targetID string, desc upload.FileDescriptor) error
	RegisterUploadedFiles(ctx context.Context, targetID string, descs []upload.FileDescriptor) error
}

// RegisterMode selects how uploaded files are added to the dataset.
type RegisterMode int

const (
	// RegisterNone stores the bytes only; the storage IDs are reported.
	RegisterNone RegisterMode = iota
	// RegisterEach registers every file right after its upload.
	RegisterEach
	// RegisterBatch registers all stored files in one request at the end.
	RegisterBatch
)

// Job is one file to upload. Descriptor.StorageID is filled in by the
// manager and Descriptor.FileName defaults to File.Name().
type Job struct {
	File       upload.File
	Source     string
	Descriptor upload.FileDescriptor
}

// Result is the outcome of one Job.
type Result struct {
	TaskID    string
	Name      string
	StorageID string
	Err       error
}

// Summary counts the outcomes of a batch.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Cancelled int
	Duration  time.Duration
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// MaxConcurrent bounds files uploading at once.
	MaxConcurrent int
	Register      RegisterMode
	// ChecksumType, when set, is computed for files registered without one.
	ChecksumType checksum.Algorithm
	// Retries is how many more times a file is uploaded from the start
	// after a transient storage or network failure. Zero disables retry.
	Retries int
	Logger  *logging.Logger
}

// Manager runs batches of uploads through an Uploader, tracking each file
// in a Queue.
type Manager struct {
	uploader Uploader
	queue    *Queue
	opts     ManagerOptions
	logger   *logging.Logger
}

// NewManager creates a manager. MaxConcurrent is clamped to the allowed
// range, and zero selects the default.
func NewManager(uploader Uploader, queue *Queue, opts ManagerOptions) *Manager {
	switch {
	case opts.MaxConcurrent == 0:
		opts.MaxConcurrent = constants.DefaultMaxConcurrent
	case opts.MaxConcurrent < constants.MinMaxConcurrent:
		opts.MaxConcurrent = constants.MinMaxConcurrent
	case opts.MaxConcurrent > constants.MaxMaxConcurrent:
		opts.MaxConcurrent = constants.MaxMaxConcurrent
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	if queue == nil {
		queue = NewQueue(nil)
	}
	return &Manager{uploader: uploader, queue: queue, opts: opts, logger: logger}
}

// Queue returns the queue tracking the manager's tasks.
func (m *Manager) Queue() *Queue { return m.queue }

// Run uploads jobs to targetID and returns one Result per job, in job
// order. A failed file does not stop the others; cancelling ctx cancels
// every file still running or queued.
func (m *Manager) Run(ctx context.Context, targetID string, jobs []Job) ([]Result, Summary) {
	start := time.Now()
	results := make([]Result, len(jobs))
	for i, job := range jobs {
		name := job.Descriptor.FileName
		if name == "" {
			name = job.File.Name()
		}
		results[i] = Result{
			TaskID: m.queue.Track(name, job.Source, targetID, job.File.Size()),
			Name:   name,
		}
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		pending []int
		descs   []upload.FileDescriptor
	)
	g.SetLimit(m.opts.MaxConcurrent)

	for i := range jobs {
		g.Go(func() error {
			desc, err := m.runOne(ctx, targetID, jobs[i], &results[i])
			if err != nil || m.opts.Register != RegisterBatch {
				m.settle(&results[i], err)
				return nil
			}
			mu.Lock()
			pending = append(pending, i)
			descs = append(descs, desc)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(pending) > 0 {
		err := m.uploader.RegisterUploadedFiles(ctx, targetID, descs)
		if err != nil {
			m.logger.Error().Err(err).Int("files", len(descs)).Str("dataset", targetID).Msg("batch registration failed")
		}
		for _, i := range pending {
			m.settle(&results[i], err)
		}
	}

	summary := summarize(results, time.Since(start))
	if m.queue.eventBus != nil {
		m.queue.eventBus.Publish(&events.BatchCompleteEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventBatchComplete, Time: time.Now()},
			Total:     summary.Total,
			Succeeded: summary.Succeeded,
			Failed:    summary.Failed,
			Cancelled: summary.Cancelled,
			Duration:  summary.Duration,
		})
	}
	return results, summary
}

// runOne uploads one job and, unless registration is batched, registers
// it. It returns the descriptor to register in batch mode.
func (m *Manager) runOne(ctx context.Context, targetID string, job Job, res *Result) (upload.FileDescriptor, error) {
	desc := job.Descriptor
	desc.FileName = res.Name

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.queue.Activate(res.TaskID, cancel)

	if err := taskCtx.Err(); err != nil {
		return desc, &upload.Error{Kind: upload.KindCancelled, FileName: res.Name, TargetID: targetID, Err: err}
	}

	if m.opts.Register != RegisterNone && m.opts.ChecksumType != "" && desc.Checksum.Value == "" {
		sum, err := checksum.ComputeAt(taskCtx, job.File, job.File.Size(), m.opts.ChecksumType)
		if err != nil {
			return desc, fmt.Errorf("failed to compute %s checksum: %w", m.opts.ChecksumType, err)
		}
		desc.Checksum = upload.Checksum{Type: string(m.opts.ChecksumType), Value: sum}
	}

	storageID, err := m.upload(taskCtx, targetID, job, res)
	if err != nil {
		return desc, err
	}
	res.StorageID = storageID
	desc.StorageID = storageID
	m.logger.Debug().Str("file", res.Name).Str("storage_id", storageID).Msg("file stored")

	switch m.opts.Register {
	case RegisterNone:
		return desc, nil
	case RegisterEach:
		m.queue.Registering(res.TaskID, storageID)
		return desc, m.uploader.RegisterUploadedFile(taskCtx, targetID, desc)
	default:
		m.queue.Registering(res.TaskID, storageID)
		return desc, nil
	}
}

// upload stores one file. Each retry requests a fresh destination, so a
// multipart upload aborted by the failed attempt is never resumed.
func (m *Manager) upload(ctx context.Context, targetID string, job Job, res *Result) (string, error) {
	onProgress := func(percent int) { m.queue.UpdateProgress(res.TaskID, percent) }
	if m.opts.Retries <= 0 {
		return m.uploader.UploadFile(ctx, targetID, job.File, onProgress, nil)
	}

	cfg := http.DefaultConfig()
	cfg.MaxRetries = m.opts.Retries + 1
	cfg.Classify = classifyUploadError
	cfg.OnRetry = func(attempt int, err error, errType http.ErrorType) {
		m.queue.Retrying(res.TaskID, attempt+1, err)
		m.logger.Warn().Err(err).
			Str("file", res.Name).
			Int("attempt", attempt+1).
			Str("error_type", http.ErrorTypeName(errType)).
			Msg("upload failed, retrying")
	}

	var storageID string
	err := http.ExecuteWithRetry(ctx, cfg, func() error {
		id, err := m.uploader.UploadFile(ctx, targetID, job.File, onProgress, nil)
		storageID = id
		return err
	})
	return storageID, err
}

// classifyUploadError classifies the cause of an upload failure. The
// message of an *upload.Error names the file and dataset, which must not
// decide whether a retry happens.
func classifyUploadError(err error) http.ErrorType {
	var ue *upload.Error
	if !errors.As(err, &ue) {
		return http.ClassifyError(err)
	}
	if ue.Kind == upload.KindCancelled || ue.Err == nil {
		return http.ErrorTypeFatal
	}
	return http.ClassifyError(ue.Err)
}

func (m *Manager) settle(res *Result, err error) {
	res.Err = err
	switch {
	case err == nil:
		m.queue.Complete(res.TaskID, res.StorageID)
		m.logger.Info().Str("file", res.Name).Str("storage_id", res.StorageID).Msg("upload complete")
	case IsCancellation(err):
		m.queue.Cancelled(res.TaskID, err)
		m.logger.Warn().Str("file", res.Name).Msg("upload cancelled")
	default:
		m.queue.Fail(res.TaskID, err)
		m.logger.Error().Err(err).Str("file", res.Name).Msg("upload failed")
	}
}

// IsCancellation reports whether err means the upload was cancelled rather
// than failed.
func IsCancellation(err error) bool {
	return upload.KindOf(err) == upload.KindCancelled ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func summarize(results []Result, elapsed time.Duration) Summary {
	s := Summary{Total: len(results), Duration: elapsed}
	for _, r := range results {
		switch {
		case r.Err == nil:
			s.Succeeded++
		case IsCancellation(r.Err):
			s.Cancelled++
		default:
			s.Failed++
		}
	}
	return s
}
