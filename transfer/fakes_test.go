package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/artist-submissions/go-uploadkit/registry"
	"github.com/artist-submissions/go-uploadkit/uploadapi"
	"github.com/stretchr/testify/mock"
)

// zeroSource is a sized source of zero bytes that holds no memory.
type zeroSource struct {
	name string
	size int64
}

func (s zeroSource) Name() string     { return s.name }
func (s zeroSource) Size() int64      { return s.size }
func (s zeroSource) MimeType() string { return "video/mp4" }
func (s zeroSource) Open() (registry.Content, error) {
	return zeroContent{size: s.size}, nil
}

type zeroContent struct {
	size int64
}

func (z zeroContent) ReadAt(p []byte, off int64) (int, error) {
	if off >= z.size {
		return 0, io.EOF
	}
	n := len(p)
	if remaining := z.size - off; int64(n) > remaining {
		n = int(remaining)
	}
	for i := range p[:n] {
		p[i] = 0
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (zeroContent) Close() error { return nil }

// fakeNegotiator issues URLs pointing at objectURL and records every call.
type fakeNegotiator struct {
	mu        sync.Mutex
	objectURL string

	directCalls   int
	initiateCalls int
	partCalls     []int
	completed     []uploadapi.CompleteRequest

	directErr   error
	initiateErr error
	partErr     error
	completeErr error
}

func newFakeNegotiator() *fakeNegotiator {
	return &fakeNegotiator{objectURL: "https://storage.test"}
}

func (f *fakeNegotiator) DirectUploadURL(_ context.Context, req uploadapi.FileRequest) (uploadapi.DirectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.directCalls++
	if f.directErr != nil {
		return uploadapi.DirectResponse{}, f.directErr
	}
	return uploadapi.DirectResponse{
		URL: fmt.Sprintf("%s/direct/%s", f.objectURL, req.FileName),
		Key: "submissions/" + req.FileName,
	}, nil
}

func (f *fakeNegotiator) InitiateMultipart(_ context.Context, req uploadapi.FileRequest) (uploadapi.InitiateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiateCalls++
	if f.initiateErr != nil {
		return uploadapi.InitiateResponse{}, f.initiateErr
	}
	return uploadapi.InitiateResponse{
		UploadID: fmt.Sprintf("upload-%d", f.initiateCalls),
		Key:      "submissions/" + req.FileName,
	}, nil
}

func (f *fakeNegotiator) PartUploadURL(_ context.Context, req uploadapi.PartRequest) (uploadapi.PartResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partCalls = append(f.partCalls, req.PartNumber)
	if f.partErr != nil {
		return uploadapi.PartResponse{}, f.partErr
	}
	return uploadapi.PartResponse{URL: fmt.Sprintf("%s/part/%d", f.objectURL, req.PartNumber)}, nil
}

func (f *fakeNegotiator) CompleteMultipart(_ context.Context, req uploadapi.CompleteRequest) (uploadapi.CompleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return uploadapi.CompleteResponse{}, f.completeErr
	}
	f.completed = append(f.completed, req)
	return uploadapi.CompleteResponse{Key: req.Key, Location: f.objectURL + "/" + req.Key}, nil
}

// mockNegotiator is used where a test must prove no call was made.
type mockNegotiator struct {
	mock.Mock
}

func (m *mockNegotiator) DirectUploadURL(ctx context.Context, req uploadapi.FileRequest) (uploadapi.DirectResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(uploadapi.DirectResponse), args.Error(1)
}

func (m *mockNegotiator) InitiateMultipart(ctx context.Context, req uploadapi.FileRequest) (uploadapi.InitiateResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(uploadapi.InitiateResponse), args.Error(1)
}

func (m *mockNegotiator) PartUploadURL(ctx context.Context, req uploadapi.PartRequest) (uploadapi.PartResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(uploadapi.PartResponse), args.Error(1)
}

func (m *mockNegotiator) CompleteMultipart(ctx context.Context, req uploadapi.CompleteRequest) (uploadapi.CompleteResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(uploadapi.CompleteResponse), args.Error(1)
}

type recordedRequest struct {
	Method        string
	URL           string
	Header        http.Header
	ContentLength int64
	BodySize      int64
}

// recordingDoer stands in for the object store transport. It drains and
// records every request and answers with respond, or fails like a dropped
// connection when respond returns nil.
type recordingDoer struct {
	mu       sync.Mutex
	requests []recordedRequest
	attempts map[string]int
	respond  func(req *http.Request, attempt int) *http.Response
	onRead   func()
}

func newRecordingDoer(respond func(req *http.Request, attempt int) *http.Response) *recordingDoer {
	return &recordingDoer{attempts: map[string]int{}, respond: respond}
}

func (d *recordingDoer) Do(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	var size int64
	if req.Body != nil {
		buf := make([]byte, 256*1024)
		for {
			n, err := req.Body.Read(buf)
			size += int64(n)
			if n > 0 && d.onRead != nil {
				d.onRead()
			}
			if err != nil {
				break
			}
		}
	}

	d.mu.Lock()
	d.requests = append(d.requests, recordedRequest{
		Method:        req.Method,
		URL:           req.URL.String(),
		Header:        req.Header.Clone(),
		ContentLength: req.ContentLength,
		BodySize:      size,
	})
	d.attempts[req.URL.Path]++
	attempt := d.attempts[req.URL.Path]
	d.mu.Unlock()

	resp := d.respond(req, attempt)
	if resp == nil {
		return nil, fmt.Errorf("write tcp: connection reset by peer")
	}
	resp.Request = req
	return resp, nil
}

func (d *recordingDoer) recorded() []recordedRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]recordedRequest(nil), d.requests...)
}

func (d *recordingDoer) attemptsOf(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts[path]
}

func response(status int, etag string, body string) *http.Response {
	header := http.Header{}
	if etag != "" {
		header.Set("ETag", etag)
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// partNumber extracts n from a ".../part/n" URL.
func partNumber(req *http.Request) int {
	n, _ := strconv.Atoi(req.URL.Path[strings.LastIndex(req.URL.Path, "/")+1:])
	return n
}

// storeETags answers every part PUT with a quoted, part-specific ETag.
func storeETags(req *http.Request, _ int) *http.Response {
	return response(http.StatusOK, fmt.Sprintf(`"etag-%d"`, partNumber(req)), "")
}
