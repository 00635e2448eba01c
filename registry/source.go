package registry

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/artist-submissions/go-uploadkit/internal"
	"github.com/gabriel-vasile/mimetype"
)

const fallbackMimeType = "application/octet-stream"

// Content is an open handle on a file's bytes. Parts are read with ReadAt,
// so a single handle serves every part of an attempt.
type Content interface {
	io.ReaderAt
	io.Closer
}

// Source is the raw file behind an entry.
type Source interface {
	Name() string
	Size() int64
	MimeType() string
	Open() (Content, error)
}

// BytesSource is an in-memory Source.
type BytesSource struct {
	name     string
	mimeType string
	data     []byte
}

// NewBytesSource ...
func NewBytesSource(name, mimeType string, data []byte) *BytesSource {
	return &BytesSource{name: name, mimeType: mimeType, data: data}
}

// Name ...
func (s *BytesSource) Name() string { return s.name }

// Size ...
func (s *BytesSource) Size() int64 { return int64(len(s.data)) }

// MimeType ...
func (s *BytesSource) MimeType() string { return s.mimeType }

// Open ...
func (s *BytesSource) Open() (Content, error) {
	return nopCloserAt{bytes.NewReader(s.data)}, nil
}

type nopCloserAt struct {
	io.ReaderAt
}

func (nopCloserAt) Close() error { return nil }

// FileSource is a Source backed by a file on disk. Its size and MIME type are
// captured when the source is created.
type FileSource struct {
	path     string
	name     string
	size     int64
	mimeType string
	os       internal.OsProxy
}

// NewFileSource stats the file and sniffs its MIME type from its content.
func NewFileSource(path string, osProxy internal.OsProxy) (*FileSource, error) {
	if osProxy == nil {
		osProxy = internal.RealOS{}
	}

	absPath, err := osProxy.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path %s: %w", path, err)
	}

	info, err := osProxy.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", absPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", absPath)
	}

	mimeType, err := detectMimeType(absPath, osProxy)
	if err != nil {
		return nil, err
	}

	return &FileSource{
		path:     absPath,
		name:     filepath.Base(absPath),
		size:     info.Size(),
		mimeType: mimeType,
		os:       osProxy,
	}, nil
}

// Name ...
func (s *FileSource) Name() string { return s.name }

// Size ...
func (s *FileSource) Size() int64 { return s.size }

// MimeType ...
func (s *FileSource) MimeType() string { return s.mimeType }

// Open ...
func (s *FileSource) Open() (Content, error) {
	f, err := s.os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	return f, nil
}

func detectMimeType(path string, osProxy internal.OsProxy) (string, error) {
	f, err := osProxy.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	detected, err := mimetype.DetectReader(f)
	if err != nil {
		return "", fmt.Errorf("detect mime type of %s: %w", path, err)
	}

	mimeType, _, _ := strings.Cut(detected.String(), ";")
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		return fallbackMimeType, nil
	}
	return mimeType, nil
}
