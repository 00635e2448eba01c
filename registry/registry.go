package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	// ErrNotFound is returned by every mutation that targets an ID no longer in the registry.
	ErrNotFound = errors.New("file entry not found")
	// ErrDuplicate is returned when a file with the same name and size is already registered.
	ErrDuplicate = errors.New("file already added")
	// ErrFull is returned when the registry already holds the maximum number of entries.
	ErrFull = errors.New("registry is full")
	// ErrInvalidParts is returned when a part plan does not exactly cover the file.
	ErrInvalidParts = errors.New("invalid part plan")
	// ErrNotChunked is returned when part bookkeeping is requested for a direct-transfer entry.
	ErrNotChunked = errors.New("file entry is not chunked")
)

const maxInFlightProgress = 99

// Registry is the ordered, concurrency-safe set of file entries.
// Readers only ever get copies; all state transitions go through its methods.
type Registry struct {
	mu      sync.RWMutex
	entries []*FileEntry
	newID   func() string
}

// New ...
func New() *Registry {
	return &Registry{
		newID: func() string { return uuid.NewString() },
	}
}

// Add registers a new pending entry for src.
func (r *Registry) Add(src Source, chunked bool) (FileEntry, error) {
	return r.AddWithin(src, chunked, 0)
}

// AddWithin is Add that fails with ErrFull once maxEntries entries are
// registered. A maxEntries of 0 means no limit.
func (r *Registry) AddWithin(src Source, chunked bool, maxEntries int) (FileEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if maxEntries > 0 && len(r.entries) >= maxEntries {
		return FileEntry{}, ErrFull
	}
	if r.containsLocked(src.Name(), src.Size()) {
		return FileEntry{}, ErrDuplicate
	}

	entry := &FileEntry{
		ID:        r.newID(),
		Source:    src,
		Name:      src.Name(),
		Size:      src.Size(),
		MimeType:  src.MimeType(),
		Status:    StatusPending,
		IsChunked: chunked,
	}
	r.entries = append(r.entries, entry)

	return entry.clone(), nil
}

// Get ...
func (r *Registry) Get(id string) (FileEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e := r.findLocked(id)
	if e == nil {
		return FileEntry{}, false
	}
	return e.clone(), true
}

// List returns a snapshot of all entries in admission order.
func (r *Registry) List() []FileEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Map(r.entries, func(e *FileEntry, _ int) FileEntry {
		return e.clone()
	})
}

// Len ...
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Contains reports whether a file with the given name and size is registered.
func (r *Registry) Contains(name string, size int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.containsLocked(name, size)
}

// Remove drops the entry. In-flight transfers for it become no-ops.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.ID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// SetMetadata ...
func (r *Registry) SetMetadata(id, title, description string) error {
	return r.update(id, func(e *FileEntry) error {
		e.Title = title
		e.Description = description
		return nil
	})
}

// MarkUploading starts a new attempt. Progress restarts from the bytes
// already confirmed, which is zero unless a chunked session is resumed.
func (r *Registry) MarkUploading(id string) error {
	return r.update(id, func(e *FileEntry) error {
		e.Status = StatusUploading
		e.Error = ""
		e.Progress = progressOf(e.ConfirmedBytes(), e.Size)
		return nil
	})
}

// RecordStorageKey ...
func (r *Registry) RecordStorageKey(id, key string) error {
	return r.update(id, func(e *FileEntry) error {
		e.StorageKey = key
		return nil
	})
}

// RecordSession stores the multipart session and its part plan.
// The plan must be 1-based, gapless, contiguous, free of empty parts and cover the file exactly.
func (r *Registry) RecordSession(id, sessionID, key string, parts []PartEntry) error {
	return r.update(id, func(e *FileEntry) error {
		if !e.IsChunked {
			return ErrNotChunked
		}
		if err := checkPlan(parts, e.Size); err != nil {
			return err
		}

		e.UploadSessionID = sessionID
		e.StorageKey = key
		e.Parts = make([]PartEntry, len(parts))
		copy(e.Parts, parts)
		return nil
	})
}

// ResetSession forgets the multipart session and its confirmed parts so the
// next attempt starts a new session.
func (r *Registry) ResetSession(id string) error {
	return r.update(id, func(e *FileEntry) error {
		if !e.IsChunked {
			return ErrNotChunked
		}
		e.UploadSessionID = ""
		e.StorageKey = ""
		e.Parts = nil
		return nil
	})
}

// RecordPartSuccess marks a part confirmed and recomputes progress from confirmed bytes.
func (r *Registry) RecordPartSuccess(id string, index int, etag string) error {
	return r.update(id, func(e *FileEntry) error {
		if !e.IsChunked {
			return ErrNotChunked
		}
		if index < 1 || index > len(e.Parts) {
			return fmt.Errorf("%w: part %d of %d", ErrInvalidParts, index, len(e.Parts))
		}
		if etag == "" {
			return fmt.Errorf("%w: part %d has no ETag", ErrInvalidParts, index)
		}

		p := &e.Parts[index-1]
		p.ETag = etag
		p.Uploaded = true
		e.setProgress(progressOf(e.ConfirmedBytes(), e.Size))
		return nil
	})
}

// SetProgress records transfer progress in percent. Lower values than the
// current one are ignored and nothing above 99 is stored before MarkUploaded.
func (r *Registry) SetProgress(id string, percent int) error {
	return r.update(id, func(e *FileEntry) error {
		e.setProgress(percent)
		return nil
	})
}

// MarkUploaded ...
func (r *Registry) MarkUploaded(id string) error {
	return r.update(id, func(e *FileEntry) error {
		e.Status = StatusUploaded
		e.Progress = 100
		e.Error = ""
		return nil
	})
}

// MarkFailed keeps progress where the failed attempt left it.
func (r *Registry) MarkFailed(id, message string) error {
	return r.update(id, func(e *FileEntry) error {
		e.Status = StatusError
		e.Error = message
		return nil
	})
}

func (r *Registry) update(id string, fn func(e *FileEntry) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.findLocked(id)
	if e == nil {
		return ErrNotFound
	}
	return fn(e)
}

func (r *Registry) findLocked(id string) *FileEntry {
	for _, e := range r.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (r *Registry) containsLocked(name string, size int64) bool {
	return lo.ContainsBy(r.entries, func(e *FileEntry) bool {
		return e.Name == name && e.Size == size
	})
}

func (e *FileEntry) setProgress(percent int) {
	if percent > maxInFlightProgress {
		percent = maxInFlightProgress
	}
	if percent > e.Progress {
		e.Progress = percent
	}
}

func progressOf(done, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(done * 100 / total)
	if p > maxInFlightProgress {
		return maxInFlightProgress
	}
	return p
}

func checkPlan(parts []PartEntry, size int64) error {
	if len(parts) == 0 {
		return fmt.Errorf("%w: no parts", ErrInvalidParts)
	}

	var offset int64
	for i, p := range parts {
		if p.Index != i+1 {
			return fmt.Errorf("%w: part at position %d has index %d", ErrInvalidParts, i+1, p.Index)
		}
		if p.Size <= 0 {
			return fmt.Errorf("%w: part %d is empty", ErrInvalidParts, p.Index)
		}
		if p.Offset != offset {
			return fmt.Errorf("%w: part %d starts at %d, expected %d", ErrInvalidParts, p.Index, p.Offset, offset)
		}
		offset = p.End()
	}

	if offset != size {
		return fmt.Errorf("%w: parts cover %d bytes of %d", ErrInvalidParts, offset, size)
	}
	return nil
}
