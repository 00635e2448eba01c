package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/artist-submissions/go-uploadkit/uploadapi"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

const maxErrorBodySize = 1024

// Negotiator issues pre-signed URLs and manages multipart sessions.
type Negotiator interface {
	DirectUploadURL(ctx context.Context, req uploadapi.FileRequest) (uploadapi.DirectResponse, error)
	InitiateMultipart(ctx context.Context, req uploadapi.FileRequest) (uploadapi.InitiateResponse, error)
	PartUploadURL(ctx context.Context, req uploadapi.PartRequest) (uploadapi.PartResponse, error)
	CompleteMultipart(ctx context.Context, req uploadapi.CompleteRequest) (uploadapi.CompleteResponse, error)
}

// APIClient talks to the upload URL service.
type APIClient struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

// NewAPIClient ...
func NewAPIClient(client *retryablehttp.Client, baseURL string, accessToken string, logger log.Logger) *APIClient {
	return &APIClient{
		httpClient:  client,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		accessToken: accessToken,
		logger:      logger,
	}
}

// DirectUploadURL ...
func (c *APIClient) DirectUploadURL(ctx context.Context, req uploadapi.FileRequest) (uploadapi.DirectResponse, error) {
	var response uploadapi.DirectResponse
	if err := c.post(ctx, uploadapi.DirectPath, req, &response); err != nil {
		return uploadapi.DirectResponse{}, err
	}
	if response.URL == "" {
		return uploadapi.DirectResponse{}, fmt.Errorf("no upload URL in response")
	}
	return response, nil
}

// InitiateMultipart ...
func (c *APIClient) InitiateMultipart(ctx context.Context, req uploadapi.FileRequest) (uploadapi.InitiateResponse, error) {
	var response uploadapi.InitiateResponse
	if err := c.post(ctx, uploadapi.MultipartPath, req, &response); err != nil {
		return uploadapi.InitiateResponse{}, err
	}
	if response.UploadID == "" || response.Key == "" {
		return uploadapi.InitiateResponse{}, fmt.Errorf("no upload session in response")
	}
	return response, nil
}

// PartUploadURL ...
func (c *APIClient) PartUploadURL(ctx context.Context, req uploadapi.PartRequest) (uploadapi.PartResponse, error) {
	var response uploadapi.PartResponse
	if err := c.post(ctx, uploadapi.MultipartPartPath, req, &response); err != nil {
		return uploadapi.PartResponse{}, err
	}
	if response.URL == "" {
		return uploadapi.PartResponse{}, fmt.Errorf("no part upload URL in response")
	}
	return response, nil
}

// CompleteMultipart ...
func (c *APIClient) CompleteMultipart(ctx context.Context, req uploadapi.CompleteRequest) (uploadapi.CompleteResponse, error) {
	var response uploadapi.CompleteResponse
	if err := c.post(ctx, uploadapi.MultipartCompletePath, req, &response); err != nil {
		return uploadapi.CompleteResponse{}, err
	}
	return response, nil
}

func (c *APIClient) post(ctx context.Context, path string, requestBody interface{}, responseBody interface{}) error {
	url := c.baseURL + path

	body, err := json.Marshal(requestBody)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	if c.accessToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	}
	req.Header.Set("Content-type", "application/json")

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Request dump: %s", string(dump))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(resp)
	}

	err = json.NewDecoder(resp.Body).Decode(responseBody)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// unwrapError reads at most maxErrorBodySize bytes of the body, preferring the
// message of a JSON error body.
func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return err
	}

	message := strings.TrimSpace(string(errorResp))
	var apiErr uploadapi.ErrorResponse
	if json.NewDecoder(bytes.NewReader(errorResp)).Decode(&apiErr) == nil && apiErr.Message != "" {
		message = apiErr.Message
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &HTTPError{StatusCode: resp.StatusCode, Message: message}
}
