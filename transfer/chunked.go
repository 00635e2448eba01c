package transfer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/artist-submissions/go-uploadkit/registry"
	"github.com/artist-submissions/go-uploadkit/uploadapi"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/samber/lo"
)

// ChunkedEngine uploads a file as a multipart session of fixed-size parts.
//
// Parts are uploaded one at a time in ascending order. A failed attempt keeps
// the session and the confirmed parts on the entry, so the next attempt only
// uploads the remaining parts.
type ChunkedEngine struct {
	registry *registry.Registry
	api      Negotiator
	putter   objectPutter
	config   Config
	stats    *Stats
	logger   log.Logger
}

// NewChunkedEngine ...
func NewChunkedEngine(reg *registry.Registry, api Negotiator, config Config, logger log.Logger) *ChunkedEngine {
	return &ChunkedEngine{
		registry: reg,
		api:      api,
		putter:   objectPutter{client: config.httpClient(), logger: logger},
		config:   config,
		stats:    NewStats(),
		logger:   logger,
	}
}

// Stats returns the part upload statistics.
func (e *ChunkedEngine) Stats() *Stats {
	return e.stats
}

// Upload ...
func (e *ChunkedEngine) Upload(ctx context.Context, id string) error {
	if _, ok := e.registry.Get(id); !ok {
		return registry.ErrNotFound
	}
	if err := e.registry.MarkUploading(id); err != nil {
		return err
	}

	if err := e.upload(ctx, id); err != nil {
		if sessionExpired(err) {
			e.logger.Warnf("Upload session of %s is no longer available, the next attempt starts a new one", id)
			if rerr := e.registry.ResetSession(id); rerr != nil {
				e.logger.Debugf("Reset session of %s: %s", id, rerr)
			}
		}
		markFailed(e.registry, e.logger, id, err)
		return err
	}
	return nil
}

func (e *ChunkedEngine) upload(ctx context.Context, id string) error {
	entry, err := e.session(ctx, id)
	if err != nil {
		return err
	}

	content, err := entry.Source.Open()
	if err != nil {
		return &TransferError{Step: StepRead, Err: err}
	}
	defer func(content io.Closer) {
		if err := content.Close(); err != nil {
			e.logger.Warnf("Failed to close %s: %s", entry.Name, err)
		}
	}(content)

	for _, part := range entry.Parts {
		if part.Uploaded {
			continue
		}
		if err := e.uploadPart(ctx, entry, content, part); err != nil {
			return err
		}
	}

	entry, ok := e.registry.Get(id)
	if !ok {
		return registry.ErrNotFound
	}
	return e.complete(ctx, entry)
}

// session returns the entry with an open multipart session, starting one
// unless a previous attempt left one behind.
func (e *ChunkedEngine) session(ctx context.Context, id string) (registry.FileEntry, error) {
	entry, ok := e.registry.Get(id)
	if !ok {
		return registry.FileEntry{}, registry.ErrNotFound
	}

	if entry.UploadSessionID != "" && len(entry.Parts) > 0 {
		done := lo.CountBy(entry.Parts, func(p registry.PartEntry) bool { return p.Uploaded })
		e.logger.Infof("Resuming upload of %s: %d/%d parts already uploaded", entry.Name, done, len(entry.Parts))
		return entry, nil
	}

	parts, err := Partition(entry.Size, e.config.PartSize)
	if err != nil {
		return registry.FileEntry{}, err
	}

	e.logger.Debugf("Initiating multipart upload for %s", entry.Name)
	resp, err := e.api.InitiateMultipart(ctx, uploadapi.FileRequest{
		FileName: entry.Name,
		MimeType: entry.MimeType,
		Size:     entry.Size,
	})
	if err != nil {
		return registry.FileEntry{}, &NegotiationError{Step: StepInitiate, Err: err}
	}

	if err := e.registry.RecordSession(id, resp.UploadID, resp.Key, parts); err != nil {
		return registry.FileEntry{}, err
	}
	e.logger.Infof("Uploading %s (%s) in %d parts of %s", entry.Name,
		units.BytesSize(float64(entry.Size)), len(parts),
		units.BytesSize(float64(e.config.PartSize)))

	entry, ok = e.registry.Get(id)
	if !ok {
		return registry.FileEntry{}, registry.ErrNotFound
	}
	return entry, nil
}

func (e *ChunkedEngine) uploadPart(ctx context.Context, entry registry.FileEntry, content io.ReaderAt, part registry.PartEntry) error {
	urlResp, err := e.api.PartUploadURL(ctx, uploadapi.PartRequest{
		UploadID:   entry.UploadSessionID,
		Key:        entry.StorageKey,
		PartNumber: part.Index,
	})
	if err != nil {
		return &NegotiationError{Step: StepPartURL, Part: part.Index, Err: err}
	}

	var etag string
	start := time.Now()
	err = retry.Times(e.config.MaxRetryPerPart).Wait(e.config.RetryWait).TryWithAbort(func(attempt uint) (error, bool) {
		e.logger.Debugf("Uploading part %d/%d (attempt %d/%d) [finished=%d] [avg=%v]",
			part.Index, len(entry.Parts), attempt+1, e.config.MaxRetryPerPart+1,
			e.stats.FinishedCount(), e.stats.Average().Round(time.Millisecond))

		header, err := e.putter.put(ctx, urlResp.URL, io.NewSectionReader(content, part.Offset, part.Size), part.Size)
		if err == nil {
			etag, err = etagFrom(header)
		}
		if err != nil {
			e.logger.Warnf("Part %d attempt %d failed: %s", part.Index, attempt+1, err)
			return err, !retryable(ctx, err)
		}
		return nil, false
	})
	if err != nil {
		return transferError(ctx, StepUpload, part.Index, err)
	}

	took := time.Since(start)
	e.stats.Update(took, part.Size)
	e.logger.Debugf("Part %d uploaded in %v, ETag: %s", part.Index, took.Round(time.Millisecond), etag)

	return e.registry.RecordPartSuccess(entry.ID, part.Index, etag)
}

func (e *ChunkedEngine) complete(ctx context.Context, entry registry.FileEntry) error {
	parts, err := completedParts(entry)
	if err != nil {
		return err
	}

	e.logger.Debugf("Completing multipart upload of %s with %d parts", entry.Name, len(parts))
	if _, err := e.api.CompleteMultipart(ctx, uploadapi.CompleteRequest{
		UploadID: entry.UploadSessionID,
		Key:      entry.StorageKey,
		Parts:    parts,
	}); err != nil {
		return &NegotiationError{Step: StepComplete, Err: err}
	}

	if err := e.registry.MarkUploaded(entry.ID); err != nil {
		return err
	}
	e.logger.Donef("Uploaded %s in %d parts (avg %s per part, %s/s)", entry.Name, len(parts),
		e.stats.Average().Round(time.Millisecond), units.BytesSize(e.stats.Throughput()))

	return nil
}

// completedParts returns the parts to finalize ordered by index, or an
// IntegrityError if any planned part is not confirmed with an ETag.
func completedParts(entry registry.FileEntry) ([]uploadapi.CompletedPart, error) {
	parts := make([]registry.PartEntry, len(entry.Parts))
	copy(parts, entry.Parts)
	sort.Slice(parts, func(i, j int) bool { return parts[i].Index < parts[j].Index })

	missing := lo.FilterMap(parts, func(p registry.PartEntry, _ int) (int, bool) {
		return p.Index, !p.Uploaded || p.ETag == ""
	})
	if len(parts) == 0 || len(missing) > 0 {
		return nil, &IntegrityError{
			Planned:   len(parts),
			Confirmed: len(parts) - len(missing),
			Missing:   missing,
		}
	}

	return lo.Map(parts, func(p registry.PartEntry, _ int) uploadapi.CompletedPart {
		return uploadapi.CompletedPart{PartNumber: p.Index, ETag: p.ETag}
	}), nil
}

// sessionExpired reports whether the upload URL service no longer knows the
// multipart session of a resumed attempt.
func sessionExpired(err error) bool {
	var negErr *NegotiationError
	if !errors.As(err, &negErr) || (negErr.Step != StepPartURL && negErr.Step != StepComplete) {
		return false
	}
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

var _ Engine = (*ChunkedEngine)(nil)
