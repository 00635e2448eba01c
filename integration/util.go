//go:build integration
// +build integration

package integration

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/artist-submissions/go-uploadkit/presign"
	"github.com/artist-submissions/go-uploadkit/uploadapi"
	"github.com/bitrise-io/go-utils/v2/log"
)

var logger = log.NewLogger()

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

type session struct {
	key   string
	parts map[int][]byte
}

// objectStore is an in-memory bucket. It implements presign.Store and serves
// the URLs it signs, answering PUTs the way S3 does.
type objectStore struct {
	server *httptest.Server

	mu        sync.Mutex
	objects   map[string][]byte
	sessions  map[string]*session
	nextID    int
	failures  map[int]int
	partPuts  map[int]int
	headerErr []string
}

func newObjectStore() *objectStore {
	s := &objectStore{
		objects:  map[string][]byte{},
		sessions: map[string]*session{},
		failures: map[int]int{},
		partPuts: map[int]int{},
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.serveObject))
	return s
}

func (s *objectStore) Close() {
	s.server.Close()
}

// failPart makes the next n PUTs of a part answer 500.
func (s *objectStore) failPart(partNumber, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[partNumber] = n
}

// expireSessions drops every open multipart session.
func (s *objectStore) expireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = map[string]*session{}
}

func (s *objectStore) object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

func (s *objectStore) puts(partNumber int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partPuts[partNumber]
}

func (s *objectStore) PresignPut(_ context.Context, key string) (string, error) {
	return fmt.Sprintf("%s/%s?X-Amz-Signature=direct", s.server.URL, key), nil
}

func (s *objectStore) CreateMultipart(_ context.Context, key, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("mpu-%d", s.nextID)
	s.sessions[id] = &session{key: key, parts: map[int][]byte{}}
	return id, nil
}

func (s *objectStore) PresignPart(_ context.Context, key, uploadID string, partNumber int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.sessionLocked(key, uploadID); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s?uploadId=%s&partNumber=%d&X-Amz-Signature=part", s.server.URL, key, uploadID, partNumber), nil
}

func (s *objectStore) CompleteMultipart(_ context.Context, key, uploadID string, parts []uploadapi.CompletedPart) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.sessionLocked(key, uploadID)
	if err != nil {
		return "", err
	}

	var object []byte
	for _, p := range parts {
		data, ok := sess.parts[p.PartNumber]
		if !ok || etagOf(data) != p.ETag {
			return "", &presign.StoreError{Code: "InvalidPart", Err: fmt.Errorf("part %d does not match", p.PartNumber)}
		}
		object = append(object, data...)
	}
	s.objects[key] = object
	delete(s.sessions, uploadID)

	return fmt.Sprintf("%s/%s", s.server.URL, key), nil
}

func (s *objectStore) sessionLocked(key, uploadID string) (*session, error) {
	sess, ok := s.sessions[uploadID]
	if !ok || sess.key != key {
		return nil, fmt.Errorf("%w: %s", presign.ErrSessionNotFound, uploadID)
	}
	return sess, nil
}

func (s *objectStore) serveObject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ct := r.Header.Get("Content-Type"); ct != "" {
		s.headerErr = append(s.headerErr, ct)
	}
	if r.ContentLength != int64(len(body)) {
		w.WriteHeader(http.StatusLengthRequired)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/")
	query := r.URL.Query()
	uploadID := query.Get("uploadId")
	if uploadID == "" {
		s.objects[key] = body
		w.Header().Set("ETag", `"`+etagOf(body)+`"`)
		return
	}

	var partNumber int
	if _, err := fmt.Sscanf(query.Get("partNumber"), "%d", &partNumber); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.partPuts[partNumber]++
	if s.failures[partNumber] > 0 {
		s.failures[partNumber]--
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("<Error><Code>InternalError</Code></Error>"))
		return
	}

	sess, err := s.sessionLocked(key, uploadID)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	sess.parts[partNumber] = body
	w.Header().Set("ETag", `"`+etagOf(body)+`"`)
}
