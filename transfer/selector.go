package transfer

import (
	"context"

	"github.com/artist-submissions/go-uploadkit/registry"
)

// Selector hands an entry to the chunked or the direct engine based on the
// IsChunked flag set at admission.
type Selector struct {
	registry *registry.Registry
	direct   Engine
	chunked  Engine
}

// NewSelector ...
func NewSelector(reg *registry.Registry, direct, chunked Engine) *Selector {
	return &Selector{registry: reg, direct: direct, chunked: chunked}
}

// Upload ...
func (s *Selector) Upload(ctx context.Context, id string) error {
	entry, ok := s.registry.Get(id)
	if !ok {
		return registry.ErrNotFound
	}
	if entry.IsChunked {
		return s.chunked.Upload(ctx, id)
	}
	return s.direct.Upload(ctx, id)
}

var _ Engine = (*Selector)(nil)
