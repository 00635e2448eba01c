package registry

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestNewFileSource(t *testing.T) {
	tests := []struct {
		name         string
		content      []byte
		wantMimeType string
	}{
		{name: "png by content", content: pngHeader, wantMimeType: "image/png"},
		{name: "text without parameters", content: []byte("hello"), wantMimeType: "text/plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given
			path := filepath.Join(t.TempDir(), "upload.bin")
			require.NoError(t, os.WriteFile(path, tt.content, 0o644))

			// When
			src, err := NewFileSource(path, nil)

			// Then
			require.NoError(t, err)
			assert.Equal(t, "upload.bin", src.Name())
			assert.Equal(t, int64(len(tt.content)), src.Size())
			assert.Equal(t, tt.wantMimeType, src.MimeType())

			content, err := src.Open()
			require.NoError(t, err)
			defer content.Close() //nolint:errcheck
			buf := make([]byte, 4)
			_, err = content.ReadAt(buf, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.content[1:5], buf)
		})
	}
}

func TestNewFileSource_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewFileSource(dir, nil)
	assert.ErrorContains(t, err, "is a directory")

	_, err = NewFileSource(filepath.Join(dir, "missing.png"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBytesSource(t *testing.T) {
	src := NewBytesSource("a.png", "image/png", []byte("abcdef"))

	content, err := src.Open()
	require.NoError(t, err)
	data, err := io.ReadAll(io.NewSectionReader(content, 2, 3))

	require.NoError(t, err)
	assert.Equal(t, "cde", string(data))
	assert.Equal(t, int64(6), src.Size())
	assert.NoError(t, content.Close())
}
