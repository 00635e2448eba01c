package presign

import (
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewStorageKey returns prefix/yyyy/mm/dd/<uuid>/<safe file name>.
func NewStorageKey(prefix, fileName string, now time.Time) string {
	return path.Join(prefix, now.UTC().Format("2006/01/02"), uuid.NewString(), SafeFileName(fileName))
}

// SafeFileName reduces a client supplied name to characters that are safe in
// an object key.
func SafeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeKeyChars.ReplaceAllString(name, "-")
	name = strings.TrimLeft(name, ".-")
	if name == "" {
		return "file"
	}
	return name
}

// ownsKey reports whether key was issued under prefix. Without a prefix any
// relative key qualifies.
func ownsKey(prefix, key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return false
	}
	prefix = strings.Trim(prefix, "/")
	return prefix == "" || strings.HasPrefix(key, prefix+"/")
}
