package credential

import (
	"context"
	"sync"
	"time"

	"moneygo/internal/errors"
)

type MemoryStore struct {
	mu          sync.Mutex
	credentials map[int64]Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{credentials: make(map[int64]Credential)}
}

func (s *MemoryStore) Get(_ context.Context, userID int64) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[userID]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

func (s *MemoryStore) Upsert(_ context.Context, userID int64, secretHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credentials[userID] = Credential{UserID: userID, SecretHash: secretHash}
	return nil
}

func (s *MemoryStore) IncrementFailures(_ context.Context, userID int64, maxFailures int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[userID]
	if !ok {
		return 0, errors.ErrAuthenticationFailed.WithDetails("no credential registered")
	}
	cred.FailedAttempts++
	if cred.FailedAttempts >= maxFailures && cred.LockedAt == nil {
		now := time.Now().UTC()
		cred.LockedAt = &now
	}
	s.credentials[userID] = cred
	return cred.FailedAttempts, nil
}

func (s *MemoryStore) ResetFailures(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[userID]
	if !ok || cred.LockedAt != nil {
		return nil
	}
	cred.FailedAttempts = 0
	s.credentials[userID] = cred
	return nil
}

func (s *MemoryStore) Unlock(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[userID]
	if !ok {
		return false, nil
	}
	cred.FailedAttempts = 0
	cred.LockedAt = nil
	s.credentials[userID] = cred
	return true, nil
}
