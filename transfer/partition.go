package transfer

import (
	"fmt"

	"github.com/artist-submissions/go-uploadkit/registry"
)

// Partition splits size bytes into ceil(size/partSize) contiguous parts with
// 1-based indexes. Every part but the last is exactly partSize bytes.
func Partition(size, partSize int64) ([]registry.PartEntry, error) {
	if partSize <= 0 {
		return nil, fmt.Errorf("invalid part size: %d", partSize)
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid file size: %d", size)
	}

	count := (size + partSize - 1) / partSize
	parts := make([]registry.PartEntry, 0, count)
	for offset := int64(0); offset < size; offset += partSize {
		partLen := partSize
		if remaining := size - offset; remaining < partLen {
			partLen = remaining
		}
		parts = append(parts, registry.PartEntry{
			Index:  len(parts) + 1,
			Offset: offset,
			Size:   partLen,
		})
	}

	return parts, nil
}
