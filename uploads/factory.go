package uploads

import (
	"github.com/artist-submissions/go-uploadkit/registry"
	"github.com/artist-submissions/go-uploadkit/transfer"
	"github.com/artist-submissions/go-uploadkit/uploadconf"
	"github.com/artist-submissions/go-uploadkit/validation"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
)

// NewFromConfig wires an Orchestrator with an empty registry, the HTTP
// upload URL client and both transfer engines.
func NewFromConfig(cfg uploadconf.ClientConfig, logger log.Logger) (*Orchestrator, error) {
	gate, err := validation.NewGate(validation.Limits{
		MaxFiles:       cfg.MaxFiles,
		MaxFileSize:    cfg.MaxFileSize,
		ChunkThreshold: cfg.ChunkThreshold,
		AllowedTypes:   cfg.AllowedTypes,
	})
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	api := transfer.NewAPIClient(retryhttp.NewClient(logger), cfg.APIURL, string(cfg.APIToken), logger)

	transferConfig := transfer.DefaultConfig()
	transferConfig.PartSize = cfg.PartSize
	transferConfig.MaxRetryPerPart = cfg.MaxRetryPerPart
	transferConfig.RetryWait = cfg.RetryWait

	selector := transfer.NewSelector(reg,
		transfer.NewDirectEngine(reg, api, transferConfig, logger),
		transfer.NewChunkedEngine(reg, api, transferConfig, logger),
	)

	return New(reg, gate, selector, logger), nil
}
