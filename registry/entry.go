// Package registry holds the in-memory list of files selected for a submission
// and owns every mutation of their upload state.
package registry

import (
	"fmt"
	"strings"
)

// Status is the upload state of a FileEntry.
type Status int

const (
	// StatusPending is the initial state: admitted, not yet transferred.
	StatusPending Status = iota
	// StatusUploading means a transfer attempt is in flight.
	StatusUploading
	// StatusUploaded is terminal: the object is confirmed in storage.
	StatusUploaded
	// StatusError means the last attempt failed. Uploading again retries.
	StatusError
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusUploading: "uploading",
	StatusUploaded:  "uploaded",
	StatusError:     "error",
}

// String ...
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText ...
func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("unknown status: %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText ...
func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if strings.EqualFold(name, string(text)) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown status: %q", text)
}

// PartEntry is one fixed-size slice of a chunked file.
type PartEntry struct {
	// Index is 1-based, matching object storage part numbering.
	Index    int
	Offset   int64
	Size     int64
	ETag     string
	Uploaded bool
}

// End returns the exclusive end offset of the part.
func (p PartEntry) End() int64 {
	return p.Offset + p.Size
}

// FileEntry is one user-selected file and its upload state.
type FileEntry struct {
	ID       string
	Source   Source
	Name     string
	Size     int64
	MimeType string

	Status   Status
	Progress int
	Error    string

	StorageKey      string
	UploadSessionID string
	IsChunked       bool
	Parts           []PartEntry

	Title       string
	Description string
}

// Ready reports whether the entry can be handed to the host form.
func (e FileEntry) Ready() bool {
	return e.Status == StatusUploaded && strings.TrimSpace(e.Title) != ""
}

// ConfirmedBytes sums the sizes of parts confirmed by storage.
func (e FileEntry) ConfirmedBytes() int64 {
	var n int64
	for _, p := range e.Parts {
		if p.Uploaded {
			n += p.Size
		}
	}
	return n
}

func (e FileEntry) clone() FileEntry {
	c := e
	if e.Parts != nil {
		c.Parts = make([]PartEntry, len(e.Parts))
		copy(c.Parts, e.Parts)
	}
	return c
}
