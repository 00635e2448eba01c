// Package validation decides which selected files are admitted into the registry.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/artist-submissions/go-uploadkit/registry"
	"github.com/docker/go-units"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var validate = validator.New()

// Limits configures admission.
type Limits struct {
	MaxFiles       int   `validate:"gte=1"`
	MaxFileSize    int64 `validate:"gte=1"`
	ChunkThreshold int64 `validate:"gte=1"`
	// AllowedTypes holds exact MIME types or wildcard prefixes like "image/*".
	// An empty list admits every type.
	AllowedTypes []string `validate:"dive,required"`
}

// Validate ...
func (l Limits) Validate() error {
	return validate.Struct(l)
}

// Reason identifies why a file was rejected.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonTooManyFiles   Reason = "too_many_files"
	ReasonTooLarge       Reason = "too_large"
	ReasonTypeNotAllowed Reason = "type_not_allowed"
	ReasonDuplicate      Reason = "duplicate"
)

// Error is a rejected admission.
type Error struct {
	Reason   Reason
	FileName string
	Message  string
}

func (e *Error) Error() string {
	return e.Message
}

// Decision is the outcome of Admit. Rejections never touch the registry.
type Decision struct {
	Accepted bool
	Entry    registry.FileEntry
	FileName string
	Reason   Reason
	Message  string
}

// Err returns the rejection as an *Error, or nil when the file was accepted.
func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	return &Error{Reason: d.Reason, FileName: d.FileName, Message: d.Message}
}

// Gate ...
type Gate struct {
	limits Limits
}

// NewGate ...
func NewGate(limits Limits) (*Gate, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limits: %w", err)
	}
	return &Gate{limits: limits}, nil
}

// Admit checks src against the limits and the current registry and, on
// success, adds it as a pending entry.
func (g *Gate) Admit(reg *registry.Registry, src registry.Source) Decision {
	name := src.Name()

	if reg.Len() >= g.limits.MaxFiles {
		return reject(name, ReasonTooManyFiles,
			fmt.Sprintf("%s was not added: maximum files reached (%d)", name, g.limits.MaxFiles))
	}

	if src.Size() > g.limits.MaxFileSize {
		return reject(name, ReasonTooLarge,
			fmt.Sprintf("%s was not added: %s exceeds the %s limit", name,
				units.BytesSize(float64(src.Size())),
				units.BytesSize(float64(g.limits.MaxFileSize))))
	}

	if !MatchesType(g.limits.AllowedTypes, src.MimeType()) {
		return reject(name, ReasonTypeNotAllowed,
			fmt.Sprintf("%s was not added: file type %q is not allowed", name, src.MimeType()))
	}

	if reg.Contains(name, src.Size()) {
		return reject(name, ReasonDuplicate, fmt.Sprintf("%s was not added: already selected", name))
	}

	// The registry rechecks both rules under its own lock.
	entry, err := reg.AddWithin(src, src.Size() > g.limits.ChunkThreshold, g.limits.MaxFiles)
	switch {
	case errors.Is(err, registry.ErrFull):
		return reject(name, ReasonTooManyFiles,
			fmt.Sprintf("%s was not added: maximum files reached (%d)", name, g.limits.MaxFiles))
	case errors.Is(err, registry.ErrDuplicate):
		return reject(name, ReasonDuplicate, fmt.Sprintf("%s was not added: already selected", name))
	case err != nil:
		return reject(name, ReasonNone, fmt.Sprintf("%s was not added: %s", name, err))
	}

	return Decision{Accepted: true, Entry: entry, FileName: name}
}

func reject(name string, reason Reason, message string) Decision {
	return Decision{FileName: name, Reason: reason, Message: message}
}

// MatchesType reports whether mimeType is covered by the allow-list.
// Entries match exactly or, when ending in "/*", by major type.
func MatchesType(allowed []string, mimeType string) bool {
	if len(allowed) == 0 {
		return true
	}

	mimeType = normalize(mimeType)
	return lo.ContainsBy(allowed, func(pattern string) bool {
		pattern = normalize(pattern)
		switch {
		case pattern == "*" || pattern == "*/*":
			return true
		case strings.HasSuffix(pattern, "/*"):
			return strings.HasPrefix(mimeType, strings.TrimSuffix(pattern, "*"))
		default:
			return pattern == mimeType
		}
	})
}

func normalize(mimeType string) string {
	mimeType, _, _ = strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(mimeType))
}
