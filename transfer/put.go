package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
)

// HTTPDoer sends a single HTTP request. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// objectPutter uploads bytes to a pre-signed URL. The URL is signed for the
// host header only, so the request carries no header set by this code.
type objectPutter struct {
	client HTTPDoer
	logger log.Logger
}

func (p objectPutter) put(ctx context.Context, url string, body io.Reader, size int64) (http.Header, error) {
	if size == 0 {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = size

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			p.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody := make([]byte, maxErrorBodySize)
		n, _ := io.ReadAtLeast(resp.Body, errorBody, 1)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(errorBody[:n]))}
	}

	return resp.Header, nil
}

// etagFrom returns the ETag response header without its wrapping quotes.
func etagFrom(header http.Header) (string, error) {
	etag := strings.TrimSpace(header.Get("ETag"))
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	if etag == "" {
		return "", errMissingETag
	}
	return etag, nil
}

// retryable reports whether a failed PUT is worth another attempt.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	return !errors.Is(err, errMissingETag)
}

// transferError classifies err from the given step.
func transferError(ctx context.Context, step Step, part int, err error) *TransferError {
	aborted := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil
	return &TransferError{Step: step, Part: part, Aborted: aborted, Err: err}
}

// progressReader reports the percentage of total read so far each time it changes.
type progressReader struct {
	r      io.Reader
	read   int64
	total  int64
	last   int
	report func(percent int)
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 && r.total > 0 {
		r.read += int64(n)
		percent := int(r.read * 100 / r.total)
		if percent > r.last {
			r.last = percent
			r.report(percent)
		}
	}
	return n, err
}
