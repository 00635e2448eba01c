// Package formgate decides whether a host form may be submitted and hands it
// the uploaded file descriptors.
package formgate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/artist-submissions/go-uploadkit/registry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/samber/lo"
)

// FieldName is the hidden form field carrying the uploaded files.
const FieldName = "uploaded_files"

// Uploader is the part of the orchestrator the gate depends on.
type Uploader interface {
	Files() []registry.FileEntry
	UploadAll(ctx context.Context) error
}

// HostForm is the form being guarded.
type HostForm interface {
	SetHiddenField(name, value string) error
	// Submit submits the form natively, without passing through the gate again.
	Submit(ctx context.Context) error
}

// Decision ...
type Decision int

const (
	// Pass lets the native submission go ahead.
	Pass Decision = iota
	// Resubmitted means pending uploads were finished and the form was submitted by the gate.
	Resubmitted
	// Blocked withholds the submission.
	Blocked
)

func (d Decision) String() string {
	switch d {
	case Pass:
		return "pass"
	case Resubmitted:
		return "resubmitted"
	case Blocked:
		return "blocked"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// Reason explains a Blocked decision.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonTitlesMissing    Reason = "titles_missing"
	ReasonUploadInProgress Reason = "upload_in_progress"
	ReasonUploadFailed     Reason = "upload_failed"
	ReasonFormError        Reason = "form_error"
)

// Result is the outcome of a submission attempt.
type Result struct {
	Decision Decision
	Reason   Reason
	Message  string
	Err      error
}

// UploadedFile is one element of the hidden field's JSON array.
type UploadedFile struct {
	ID          string `json:"id"`
	FileName    string `json:"filename"`
	Size        int64  `json:"size"`
	Type        string `json:"type"`
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Gate ...
type Gate struct {
	uploader Uploader
	form     HostForm
	logger   log.Logger
}

// New ...
func New(uploader Uploader, form HostForm, logger log.Logger) *Gate {
	return &Gate{uploader: uploader, form: form, logger: logger}
}

// Intercept is called on every submission attempt of the host form.
func (g *Gate) Intercept(ctx context.Context) Result {
	files := g.uploader.Files()
	if len(files) == 0 {
		return g.pass(files)
	}

	untitled := lo.FilterMap(files, func(e registry.FileEntry, _ int) (string, bool) {
		return e.Name, strings.TrimSpace(e.Title) == ""
	})
	if len(untitled) > 0 {
		return blocked(ReasonTitlesMissing,
			fmt.Sprintf("Please add a title to every file (missing: %s)", strings.Join(untitled, ", ")), nil)
	}

	if lo.SomeBy(files, func(e registry.FileEntry) bool { return e.Status == registry.StatusUploading }) {
		return blocked(ReasonUploadInProgress, "Please wait until all uploads have finished", nil)
	}

	needsUpload := lo.SomeBy(files, func(e registry.FileEntry) bool {
		return e.Status == registry.StatusPending || e.Status == registry.StatusError
	})
	if !needsUpload {
		return g.pass(files)
	}

	g.logger.Infof("Uploading files before submitting the form")
	if err := g.uploader.UploadAll(ctx); err != nil {
		return blocked(ReasonUploadFailed, fmt.Sprintf("Upload failed: %s", err), err)
	}

	files = g.uploader.Files()
	if err := g.fill(files); err != nil {
		return blocked(ReasonFormError, err.Error(), err)
	}
	if err := g.form.Submit(ctx); err != nil {
		return blocked(ReasonFormError, fmt.Sprintf("Submitting the form failed: %s", err), err)
	}
	g.logger.Donef("Form submitted with %d file(s)", len(files))

	return Result{Decision: Resubmitted}
}

func (g *Gate) pass(files []registry.FileEntry) Result {
	if err := g.fill(files); err != nil {
		return blocked(ReasonFormError, err.Error(), err)
	}
	return Result{Decision: Pass}
}

func (g *Gate) fill(files []registry.FileEntry) error {
	value, err := Serialize(files)
	if err != nil {
		return err
	}
	if err := g.form.SetHiddenField(FieldName, value); err != nil {
		return fmt.Errorf("set %s field: %w", FieldName, err)
	}
	return nil
}

// Serialize encodes the uploaded entries as a JSON array; other entries are skipped.
func Serialize(files []registry.FileEntry) (string, error) {
	uploaded := lo.FilterMap(files, func(e registry.FileEntry, _ int) (UploadedFile, bool) {
		return UploadedFile{
			ID:          e.ID,
			FileName:    e.Name,
			Size:        e.Size,
			Type:        e.MimeType,
			Key:         e.StorageKey,
			Title:       e.Title,
			Description: e.Description,
		}, e.Status == registry.StatusUploaded
	})

	data, err := json.Marshal(uploaded)
	if err != nil {
		return "", fmt.Errorf("encode uploaded files: %w", err)
	}
	return string(data), nil
}

func blocked(reason Reason, message string, err error) Result {
	return Result{Decision: Blocked, Reason: reason, Message: message, Err: err}
}
