package presign

import (
	"context"
	"fmt"
	"sync"

	"github.com/artist-submissions/go-uploadkit/uploadapi"
)

// fakeStore keeps sessions in memory and hands out predictable URLs.
type fakeStore struct {
	mu        sync.Mutex
	sessions  map[string]string
	completed map[string][]uploadapi.CompletedPart
	nextID    int
	err       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:  map[string]string{},
		completed: map[string][]uploadapi.CompletedPart{},
	}
}

func (s *fakeStore) PresignPut(_ context.Context, key string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "https://bucket.test/" + key + "?signed", nil
}

func (s *fakeStore) CreateMultipart(_ context.Context, key, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("mpu-%d", s.nextID)
	s.sessions[id] = key
	return id, nil
}

func (s *fakeStore) PresignPart(_ context.Context, key, uploadID string, partNumber int) (string, error) {
	if err := s.checkSession(key, uploadID); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://bucket.test/%s?uploadId=%s&partNumber=%d", key, uploadID, partNumber), nil
}

func (s *fakeStore) CompleteMultipart(_ context.Context, key, uploadID string, parts []uploadapi.CompletedPart) (string, error) {
	if err := s.checkSession(key, uploadID); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, uploadID)
	s.completed[key] = parts
	return "https://bucket.test/" + key, nil
}

func (s *fakeStore) checkSession(key, uploadID string) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[uploadID] != key {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, uploadID)
	}
	return nil
}
