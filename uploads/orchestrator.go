// Package uploads ties the registry, the validation gate and the transfer
// engines together behind the operations a UI or a host form calls.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/artist-submissions/go-uploadkit/registry"
	"github.com/artist-submissions/go-uploadkit/transfer"
	"github.com/artist-submissions/go-uploadkit/validation"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/samber/lo"
)

var (
	// ErrUploadInProgress ...
	ErrUploadInProgress = errors.New("upload already in progress")
	// ErrAlreadyUploaded ...
	ErrAlreadyUploaded = errors.New("file already uploaded")
)

// Orchestrator owns a registry and is the only writer of its state.
type Orchestrator struct {
	registry *registry.Registry
	gate     *validation.Gate
	engine   transfer.Engine
	logger   log.Logger
	notices  *noticeBoard

	mu       sync.Mutex
	inFlight map[string]bool
}

// New ...
func New(reg *registry.Registry, gate *validation.Gate, engine transfer.Engine, logger log.Logger) *Orchestrator {
	return &Orchestrator{
		registry: reg,
		gate:     gate,
		engine:   engine,
		logger:   logger,
		notices:  newNoticeBoard(),
		inFlight: map[string]bool{},
	}
}

// AddFiles runs every source through the validation gate. Rejections become
// warning notices and never fail the whole call.
func (o *Orchestrator) AddFiles(srcs ...registry.Source) []validation.Decision {
	decisions := make([]validation.Decision, 0, len(srcs))
	for _, src := range srcs {
		d := o.gate.Admit(o.registry, src)
		if d.Accepted {
			mode := "direct"
			if d.Entry.IsChunked {
				mode = "chunked"
			}
			o.logger.Printf("Added %s (%s, %s upload)", d.Entry.Name,
				units.BytesSize(float64(d.Entry.Size)), mode)
		} else {
			o.logger.Warnf("%s", d.Message)
			o.notices.post(LevelWarning, d.FileName, d.Message)
		}
		decisions = append(decisions, d)
	}
	return decisions
}

// Upload uploads a single entry. Entries that are already uploading or
// uploaded are refused; entries in error are retried.
func (o *Orchestrator) Upload(ctx context.Context, id string) error {
	entry, ok := o.registry.Get(id)
	if !ok {
		return registry.ErrNotFound
	}
	switch entry.Status {
	case registry.StatusUploading:
		return ErrUploadInProgress
	case registry.StatusUploaded:
		return ErrAlreadyUploaded
	}

	if !o.begin(id) {
		return ErrUploadInProgress
	}
	defer o.end(id)

	err := o.engine.Upload(ctx, id)
	if _, still := o.registry.Get(id); !still {
		o.logger.Debugf("%s was removed while uploading", entry.Name)
		return registry.ErrNotFound
	}
	if err != nil {
		message := fmt.Sprintf("%s could not be uploaded: %s", entry.Name, describe(err))
		o.logger.Errorf("%s", message)
		o.notices.post(LevelError, entry.Name, message)
		return err
	}

	o.notices.post(LevelInfo, entry.Name, fmt.Sprintf("%s uploaded", entry.Name))
	return nil
}

// UploadAll uploads every pending or failed entry one at a time in registry
// order. It stops at the first failure; entries uploaded before it stay uploaded.
func (o *Orchestrator) UploadAll(ctx context.Context) error {
	todo := lo.Filter(o.registry.List(), func(e registry.FileEntry, _ int) bool {
		return e.Status == registry.StatusPending || e.Status == registry.StatusError
	})
	if len(todo) == 0 {
		return nil
	}

	o.logger.Infof("Uploading %d file(s)", len(todo))
	for i, e := range todo {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.logger.Printf("(%d/%d) %s", i+1, len(todo), e.Name)

		err := o.Upload(ctx, e.ID)
		if errors.Is(err, registry.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("upload %s: %w", e.Name, err)
		}
	}
	o.logger.Donef("All files uploaded")

	return nil
}

// RemoveFile drops an entry. An upload in flight for it is not interrupted;
// its outcome is discarded.
func (o *Orchestrator) RemoveFile(id string) bool {
	return o.registry.Remove(id)
}

// ClearAll drops every entry and notice.
func (o *Orchestrator) ClearAll() {
	o.registry.Clear()
	o.notices.clear()
}

// SetMetadata ...
func (o *Orchestrator) SetMetadata(id, title, description string) error {
	return o.registry.SetMetadata(id, title, description)
}

// Files returns a snapshot of every entry in registry order.
func (o *Orchestrator) Files() []registry.FileEntry {
	return o.registry.List()
}

// File ...
func (o *Orchestrator) File(id string) (registry.FileEntry, bool) {
	return o.registry.Get(id)
}

// Notices returns the notices not yet dismissed, oldest first.
func (o *Orchestrator) Notices() []Notice {
	return o.notices.list()
}

// Dismiss ...
func (o *Orchestrator) Dismiss(id string) bool {
	return o.notices.dismiss(id)
}

func (o *Orchestrator) begin(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[id] {
		return false
	}
	o.inFlight[id] = true
	return true
}

func (o *Orchestrator) end(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, id)
}

func describe(err error) string {
	var integrityErr *transfer.IntegrityError
	if errors.As(err, &integrityErr) {
		return fmt.Sprintf("not all parts completed (%d of %d)", integrityErr.Confirmed, integrityErr.Planned)
	}
	return err.Error()
}
