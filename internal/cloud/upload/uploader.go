// Package upload implements Dataverse direct upload: moving a file's bytes
// straight into object storage through pre-issued URLs, then registering
// the stored object with a dataset.
//
// UploadFile picks single-part or multipart transfer from the destination
// alone, runs parts concurrently, reports monotonic progress, and on
// failure or cancellation aborts the server-side multipart upload exactly
// once. RegisterUploadedFile is the separate finalization step.
package upload

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/iqss/dataverse-int/internal/constants"
	"github.com/iqss/dataverse-int/internal/logging"
)

// DestinationIssuer hands out upload destinations for a file.
type DestinationIssuer interface {
	GetUploadDestination(ctx context.Context, targetID string, file File) (*Destination, error)
}

// MultipartFinisher interprets a destination's abort and complete endpoints.
type MultipartFinisher interface {
	AbortMultipart(ctx context.Context, dest *Destination) error
	CompleteMultipart(ctx context.Context, dest *Destination, parts []CompletedPart) error
}

// Options configures an Uploader. Transporter is required; Finisher is
// required for multipart destinations; Issuer only when UploadFile is
// called without a destination; Registrar only for registration.
type Options struct {
	Issuer      DestinationIssuer
	Transporter PartTransporter
	Finisher    MultipartFinisher
	Registrar   Registrar
	Logger      *logging.Logger

	// MaxParallelParts bounds concurrent parts per file. 0 is unbounded.
	MaxParallelParts int
}

// Uploader runs direct uploads. It holds no per-upload state and is safe
// for concurrent use; every UploadFile call is an independent session.
type Uploader struct {
	issuer      DestinationIssuer
	transporter PartTransporter
	finisher    MultipartFinisher
	registrar   Registrar
	logger      *logging.Logger
	maxParallel int
}

// NewUploader validates opts and builds an Uploader.
func NewUploader(opts Options) (*Uploader, error) {
	if opts.Transporter == nil {
		return nil, errors.New("upload: a part transporter is required")
	}
	if opts.MaxParallelParts < 0 {
		return nil, fmt.Errorf("upload: max parallel parts must not be negative, got %d", opts.MaxParallelParts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Uploader{
		issuer:      opts.Issuer,
		transporter: opts.Transporter,
		finisher:    opts.Finisher,
		registrar:   opts.Registrar,
		logger:      logger,
		maxParallel: opts.MaxParallelParts,
	}, nil
}

// UploadFile uploads file for the dataset targetID and returns the storage
// identifier to register it under.
//
// When dest is nil a destination is requested from the issuer. onProgress
// may be nil. Cancelling ctx stops the upload, aborts a multipart upload,
// and makes UploadFile return an error of KindCancelled.
func (u *Uploader) UploadFile(ctx context.Context, targetID string, file File, onProgress ProgressFunc, dest *Destination) (string, error) {
	s := newSession(targetID, file, u.logger)

	if dest == nil {
		d, err := u.resolveDestination(ctx, s, file)
		if err != nil {
			return "", err
		}
		dest = d
	}

	if err := dest.Validate(); err != nil {
		s.transition(StateFailed)
		return "", s.newError(KindURLGeneration, 0, err)
	}
	if err := dest.CheckSize(file.Size()); err != nil {
		s.transition(StateFailed)
		return "", s.newError(KindURLGeneration, 0, err)
	}
	s.dest = dest

	if dest.IsMultipart() {
		if u.finisher == nil {
			s.transition(StateFailed)
			return "", s.newError(KindURLGeneration, 0, errors.New("multipart destination but no finisher configured"))
		}
		return u.uploadMultipart(ctx, s, file, onProgress)
	}
	return u.uploadSingle(ctx, s, file, onProgress)
}

func (u *Uploader) resolveDestination(ctx context.Context, s *session, file File) (*Destination, error) {
	if u.issuer == nil {
		s.transition(StateFailed)
		return nil, s.newError(KindURLGeneration, 0, errors.New("no destination issuer configured"))
	}

	dest, err := u.issuer.GetUploadDestination(ctx, s.targetID, file)
	if err != nil {
		if ctx.Err() != nil {
			s.transition(StateCancelled)
			return nil, s.newError(KindCancelled, 0, context.Cause(ctx))
		}
		s.transition(StateFailed)
		return nil, s.newError(KindURLGeneration, 0, err)
	}
	return dest, nil
}

func (u *Uploader) uploadSingle(ctx context.Context, s *session, file File, onProgress ProgressFunc) (string, error) {
	tracker := newProgressTracker(1, onProgress)
	defer tracker.settle()

	if ctx.Err() != nil {
		s.transition(StateCancelled)
		return "", s.newError(KindCancelled, 0, context.Cause(ctx))
	}

	s.transition(StateTransferring)
	tracker.start()

	_, err := u.transporter.TransferPart(ctx, PartRequest{
		Number:     1,
		URL:        s.dest.URLs[0],
		Source:     file,
		SourceSize: s.fileSize,
		Offset:     0,
		Length:     s.fileSize,
		Headers:    s.dest.Headers,
	})
	if err != nil {
		tracker.settle()
		if ctx.Err() != nil {
			s.transition(StateCancelled)
			return "", s.newError(KindCancelled, 0, context.Cause(ctx))
		}
		s.transition(StateFailed)
		return "", s.newError(KindFileUpload, 0, err)
	}

	tracker.finish()
	s.transition(StateDone)
	s.logger.Debug().Int64("bytes", s.fileSize).Msg("single-part upload complete")
	return s.dest.StorageID, nil
}

// partFailure carries the part number out of the errgroup.
type partFailure struct {
	number int
	err    error
}

func (p *partFailure) Error() string { return fmt.Sprintf("part %d: %v", p.number, p.err) }
func (p *partFailure) Unwrap() error { return p.err }

func (u *Uploader) uploadMultipart(ctx context.Context, s *session, file File, onProgress ProgressFunc) (string, error) {
	dest := s.dest
	total := len(dest.URLs)
	tracker := newProgressTracker(total, onProgress)
	defer tracker.settle()

	ctl := newCanceller(ctx, func(actx context.Context) error {
		return u.finisher.AbortMultipart(actx, dest)
	}, constants.AbortTimeout)

	if ctl.cancelled() {
		return "", u.cancel(s, ctl, tracker)
	}

	s.transition(StateTransferring)
	tracker.start()
	s.logger.Debug().Int("parts", total).Int64("part_size", dest.PartSize).Msg("multipart upload started")

	g, gctx := errgroup.WithContext(ctx)
	if u.maxParallel > 0 {
		g.SetLimit(u.maxParallel)
	}

	for i := 1; i <= total; i++ {
		if gctx.Err() != nil {
			break
		}
		number := i
		offset, length := dest.PartRange(number, s.fileSize)
		req := PartRequest{
			Number:     number,
			URL:        dest.URLs[number-1],
			Source:     file,
			SourceSize: s.fileSize,
			Offset:     offset,
			Length:     length,
			Headers:    dest.Headers,
		}
		g.Go(func() error {
			// Queued behind SetLimit while another part failed.
			if gctx.Err() != nil {
				return nil
			}
			token, err := u.transporter.TransferPart(gctx, req)
			if err != nil {
				return &partFailure{number: number, err: err}
			}
			s.recordPart(number, token)
			tracker.partCompleted(gctx)
			return nil
		})
	}
	err := g.Wait()

	// Cancellation wins over any part failure it caused or raced with.
	if ctl.cancelled() {
		return "", u.cancel(s, ctl, tracker)
	}

	if err != nil {
		tracker.settle()
		var pf *partFailure
		if !errors.As(err, &pf) {
			pf = &partFailure{err: err}
		}
		s.logger.Warn().Int("part", pf.number).Err(pf.err).Msg("part upload failed, aborting multipart upload")
		s.transition(StateAborting)
		failure := s.newError(KindPartUpload, pf.number, pf.err)
		failure.AbortErr = u.abortError(s, ctl)
		s.transition(StateFailed)
		return "", failure
	}

	parts := s.completedParts()
	if len(parts) != total {
		// Only possible if a part goroutine returned without recording.
		s.transition(StateAborting)
		failure := s.newError(KindPartUpload, 0, fmt.Errorf("%d of %d parts recorded", len(parts), total))
		failure.AbortErr = u.abortError(s, ctl)
		s.transition(StateFailed)
		return "", failure
	}

	s.transition(StateCompleting)
	if err := u.finisher.CompleteMultipart(ctx, dest, parts); err != nil {
		if ctl.cancelled() {
			return "", u.cancel(s, ctl, tracker)
		}
		// The parts are durable; only finalization failed, so no abort.
		s.transition(StateFailed)
		return "", s.newError(KindMultipartCompletion, 0, err)
	}

	tracker.finish()
	s.transition(StateDone)
	s.logger.Debug().Int("parts", total).Msg("multipart upload complete")
	return dest.StorageID, nil
}

// cancel settles a cancelled multipart session: progress stops, the
// multipart upload is aborted once, and a KindCancelled error is returned
// with any abort failure attached.
func (u *Uploader) cancel(s *session, ctl *canceller, tracker *progressTracker) error {
	tracker.settle()
	s.logger.Info().Msg("upload cancelled, aborting multipart upload")
	s.transition(StateAborting)
	failure := s.newError(KindCancelled, 0, ctl.cause())
	failure.AbortErr = u.abortError(s, ctl)
	s.transition(StateCancelled)
	return failure
}

func (u *Uploader) abortError(s *session, ctl *canceller) error {
	if err := ctl.abort(); err != nil {
		s.logger.Error().Err(err).Msg("multipart abort failed")
		return s.newError(KindMultipartAbort, 0, err)
	}
	return nil
}
