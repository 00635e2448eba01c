package transfer

import (
	"context"
	"io"
	"time"

	"github.com/artist-submissions/go-uploadkit/registry"
	"github.com/artist-submissions/go-uploadkit/uploadapi"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// Engine uploads a registry entry and records the outcome on it.
type Engine interface {
	Upload(ctx context.Context, id string) error
}

// DirectEngine uploads a file with a single PUT to a pre-signed URL.
// Failures are not retried; retrying is up to the caller.
type DirectEngine struct {
	registry *registry.Registry
	api      Negotiator
	putter   objectPutter
	logger   log.Logger
}

// NewDirectEngine ...
func NewDirectEngine(reg *registry.Registry, api Negotiator, config Config, logger log.Logger) *DirectEngine {
	return &DirectEngine{
		registry: reg,
		api:      api,
		putter:   objectPutter{client: config.httpClient(), logger: logger},
		logger:   logger,
	}
}

// Upload ...
func (e *DirectEngine) Upload(ctx context.Context, id string) error {
	entry, ok := e.registry.Get(id)
	if !ok {
		return registry.ErrNotFound
	}
	if err := e.registry.MarkUploading(id); err != nil {
		return err
	}

	if err := e.upload(ctx, entry); err != nil {
		markFailed(e.registry, e.logger, id, err)
		return err
	}
	return nil
}

func (e *DirectEngine) upload(ctx context.Context, entry registry.FileEntry) error {
	e.logger.Debugf("Requesting upload URL for %s", entry.Name)
	resp, err := e.api.DirectUploadURL(ctx, uploadapi.FileRequest{
		FileName: entry.Name,
		MimeType: entry.MimeType,
		Size:     entry.Size,
	})
	if err != nil {
		return &NegotiationError{Step: StepDirectURL, Err: err}
	}

	if err := e.registry.RecordStorageKey(entry.ID, resp.Key); err != nil {
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

	body := &progressReader{
		r:     io.NewSectionReader(content, 0, entry.Size),
		total: entry.Size,
		report: func(percent int) {
			// The entry may have been removed while uploading.
			_ = e.registry.SetProgress(entry.ID, percent)
		},
	}

	e.logger.Infof("Uploading %s (%s)", entry.Name, units.BytesSize(float64(entry.Size)))
	start := time.Now()
	if _, err := e.putter.put(ctx, resp.URL, body, entry.Size); err != nil {
		return transferError(ctx, StepUpload, 0, err)
	}

	if err := e.registry.MarkUploaded(entry.ID); err != nil {
		return err
	}
	e.logger.Donef("Uploaded %s in %s", entry.Name, time.Since(start).Round(time.Millisecond))

	return nil
}

// markFailed records err on the entry. An entry removed mid-upload is left alone.
func markFailed(reg *registry.Registry, logger log.Logger, id string, err error) {
	if ferr := reg.MarkFailed(id, err.Error()); ferr != nil {
		logger.Debugf("Not recording failure of %s: %s", id, ferr)
	}
}

var _ Engine = (*DirectEngine)(nil)
