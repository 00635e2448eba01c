package transfer

import (
	"net/http"
	"time"

	"github.com/docker/go-units"
)

const (
	// DefaultPartSize is the fixed multipart part size. Storage providers
	// require every part but the last to be at least 5 MiB.
	DefaultPartSize = 10 * units.MiB
	// MinPartSize ...
	MinPartSize = 5 * units.MiB
)

// Config holds configuration for the transfer engines.
type Config struct {
	// PartSize is the size of every part but the last.
	// Default: 10 MiB
	PartSize int64

	// MaxRetryPerPart is the number of times a failed part PUT is retried
	// before the upload fails. Only network errors and 5xx responses are retried.
	// Default: 3
	MaxRetryPerPart uint

	// RetryWait is the pause between two attempts of the same part.
	// Default: 2 seconds
	RetryWait time.Duration

	// HTTPClient is used for the binary PUTs.
	// If nil, a default client is created.
	HTTPClient HTTPDoer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PartSize:        DefaultPartSize,
		MaxRetryPerPart: 3,
		RetryWait:       2 * time.Second,
		HTTPClient:      nil, // Will be created by the engine
	}
}

// DefaultHTTPClient creates an HTTP client for object uploads.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No timeout - uploads are bounded via context
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxConnsPerHost:     4,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}

func (c Config) httpClient() HTTPDoer {
	if c.HTTPClient == nil {
		return DefaultHTTPClient()
	}
	return c.HTTPClient
}
