package formgate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/artist-submissions/go-uploadkit/registry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Files() []registry.FileEntry {
	args := m.Called()
	return args.Get(0).([]registry.FileEntry)
}

func (m *mockUploader) UploadAll(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// GivenFiles sets up the snapshot returned by Files.
func (m *mockUploader) GivenFiles(files ...registry.FileEntry) *mock.Call {
	return m.On("Files").Return(files)
}

type fakeForm struct {
	fields    map[string]string
	submitted int
	submitErr error
}

func newFakeForm() *fakeForm {
	return &fakeForm{fields: map[string]string{}}
}

func (f *fakeForm) SetHiddenField(name, value string) error {
	f.fields[name] = value
	return nil
}

func (f *fakeForm) Submit(context.Context) error {
	f.submitted++
	return f.submitErr
}

func uploaded(id, title string) registry.FileEntry {
	return registry.FileEntry{
		ID:         id,
		Name:       id + ".png",
		Size:       100,
		MimeType:   "image/png",
		Status:     registry.StatusUploaded,
		Progress:   100,
		StorageKey: "submissions/" + id + ".png",
		Title:      title,
	}
}

func withStatus(e registry.FileEntry, status registry.Status) registry.FileEntry {
	e.Status = status
	e.Progress = 0
	return e
}

func decodeField(t *testing.T, form *fakeForm) []UploadedFile {
	value, ok := form.fields[FieldName]
	require.True(t, ok, "hidden field not set")
	var files []UploadedFile
	require.NoError(t, json.Unmarshal([]byte(value), &files))
	return files
}

func TestGate_EmptyRegistryPasses(t *testing.T) {
	// Given
	uploader := new(mockUploader)
	uploader.GivenFiles()
	form := newFakeForm()

	// When
	result := New(uploader, form, log.NewLogger()).Intercept(context.Background())

	// Then
	assert.Equal(t, Pass, result.Decision)
	assert.Equal(t, "[]", form.fields[FieldName])
	uploader.AssertNotCalled(t, "UploadAll", mock.Anything)
}

func TestGate_MissingTitleBlocksWithoutUploading(t *testing.T) {
	// Given
	uploader := new(mockUploader)
	uploader.GivenFiles(uploaded("a", "Sunrise"), uploaded("b", "  "))
	form := newFakeForm()

	// When
	result := New(uploader, form, log.NewLogger()).Intercept(context.Background())

	// Then
	assert.Equal(t, Blocked, result.Decision)
	assert.Equal(t, ReasonTitlesMissing, result.Reason)
	assert.Contains(t, result.Message, "title")
	assert.Contains(t, result.Message, "b.png")
	assert.NotContains(t, result.Message, "a.png")
	uploader.AssertNotCalled(t, "UploadAll", mock.Anything)
	assert.Empty(t, form.fields)
	assert.Equal(t, 0, form.submitted)
}

func TestGate_UploadInProgressBlocks(t *testing.T) {
	uploader := new(mockUploader)
	uploader.GivenFiles(uploaded("a", "A"), withStatus(uploaded("b", "B"), registry.StatusUploading))
	form := newFakeForm()

	result := New(uploader, form, log.NewLogger()).Intercept(context.Background())

	assert.Equal(t, Blocked, result.Decision)
	assert.Equal(t, ReasonUploadInProgress, result.Reason)
	uploader.AssertNotCalled(t, "UploadAll", mock.Anything)
	assert.Equal(t, 0, form.submitted)
}

func TestGate_PendingUploadsThenResubmits(t *testing.T) {
	// Given
	uploader := new(mockUploader)
	before := []registry.FileEntry{uploaded("a", "A"), withStatus(uploaded("b", "B"), registry.StatusPending)}
	after := []registry.FileEntry{uploaded("a", "A"), uploaded("b", "B")}
	uploader.On("Files").Return(before).Once()
	uploader.On("UploadAll", mock.Anything).Return(nil).Once()
	uploader.On("Files").Return(after).Once()
	form := newFakeForm()

	// When
	result := New(uploader, form, log.NewLogger()).Intercept(context.Background())

	// Then
	assert.Equal(t, Resubmitted, result.Decision)
	assert.Equal(t, 1, form.submitted)
	uploader.AssertExpectations(t)

	files := decodeField(t, form)
	require.Len(t, files, 2)
	assert.Equal(t, "b", files[1].ID)
	assert.Equal(t, "submissions/b.png", files[1].Key)
}

func TestGate_FailedEntryIsRetriedBeforeSubmitting(t *testing.T) {
	uploader := new(mockUploader)
	uploader.On("Files").Return([]registry.FileEntry{withStatus(uploaded("a", "A"), registry.StatusError)}).Once()
	uploader.On("UploadAll", mock.Anything).Return(nil).Once()
	uploader.On("Files").Return([]registry.FileEntry{uploaded("a", "A")}).Once()
	form := newFakeForm()

	result := New(uploader, form, log.NewLogger()).Intercept(context.Background())

	assert.Equal(t, Resubmitted, result.Decision)
	uploader.AssertExpectations(t)
}

func TestGate_UploadFailureBlocks(t *testing.T) {
	// Given
	uploader := new(mockUploader)
	uploader.GivenFiles(uploaded("a", "A"), withStatus(uploaded("b", "B"), registry.StatusPending))
	uploadErr := errors.New("upload b.png: part 7: upload: HTTP 500: InternalError")
	uploader.On("UploadAll", mock.Anything).Return(uploadErr)
	form := newFakeForm()

	// When
	result := New(uploader, form, log.NewLogger()).Intercept(context.Background())

	// Then
	assert.Equal(t, Blocked, result.Decision)
	assert.Equal(t, ReasonUploadFailed, result.Reason)
	assert.ErrorIs(t, result.Err, uploadErr)
	assert.Contains(t, result.Message, "part 7")
	assert.Equal(t, 0, form.submitted)
	assert.Empty(t, form.fields)
}

func TestGate_AllUploadedPasses(t *testing.T) {
	// Given
	uploader := new(mockUploader)
	a := uploaded("a", "Sunrise")
	a.Description = "Oil on canvas"
	uploader.GivenFiles(a, uploaded("b", "Dusk"))
	form := newFakeForm()

	// When
	result := New(uploader, form, log.NewLogger()).Intercept(context.Background())

	// Then
	assert.Equal(t, Pass, result.Decision)
	assert.Equal(t, 0, form.submitted, "native submission goes ahead on its own")
	uploader.AssertNotCalled(t, "UploadAll", mock.Anything)

	files := decodeField(t, form)
	require.Len(t, files, 2)
	assert.Equal(t, UploadedFile{
		ID:          "a",
		FileName:    "a.png",
		Size:        100,
		Type:        "image/png",
		Key:         "submissions/a.png",
		Title:       "Sunrise",
		Description: "Oil on canvas",
	}, files[0])
}

func TestGate_SubmitFailureBlocks(t *testing.T) {
	uploader := new(mockUploader)
	uploader.On("Files").Return([]registry.FileEntry{withStatus(uploaded("a", "A"), registry.StatusPending)}).Once()
	uploader.On("UploadAll", mock.Anything).Return(nil)
	uploader.On("Files").Return([]registry.FileEntry{uploaded("a", "A")})
	form := newFakeForm()
	form.submitErr = errors.New("form detached")

	result := New(uploader, form, log.NewLogger()).Intercept(context.Background())

	assert.Equal(t, Blocked, result.Decision)
	assert.Equal(t, ReasonFormError, result.Reason)
}

func TestSerialize_OnlyUploadedEntries(t *testing.T) {
	value, err := Serialize([]registry.FileEntry{
		uploaded("a", "A"),
		withStatus(uploaded("b", "B"), registry.StatusError),
	})

	require.NoError(t, err)
	assert.JSONEq(t, `[{
		"id": "a",
		"filename": "a.png",
		"size": 100,
		"type": "image/png",
		"key": "submissions/a.png",
		"title": "A",
		"description": ""
	}]`, value)
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "pass", Pass.String())
	assert.Equal(t, "resubmitted", Resubmitted.String())
	assert.Equal(t, "blocked", Blocked.String())
}
