package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Tureluurtje/Pulse/cmd/identity/ids"
)

// MemoryStore is an in-process Store for tests and database-less dev runs.
type MemoryStore struct {
	mu      sync.RWMutex
	byEmail map[string]*Credential
	byID    map[string]*Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byEmail: make(map[string]*Credential),
		byID:    make(map[string]*Credential),
	}
}

func (s *MemoryStore) CreateCredential(ctx context.Context, in CreateCredentialInput) (Credential, error) {
	const op = "identity.CreateCredential"

	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	in, err := validateCreate(op, in)
	if err != nil {
		return Credential{}, err
	}

	norm := NormalizeEmail(in.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[norm]; exists {
		return Credential{}, conflict(op, "email")
	}

	userID, err := ids.NewULID(in.Now)
	if err != nil {
		return Credential{}, err
	}
	c := &Credential{
		UserID:       userID,
		Email:        in.Email,
		EmailNorm:    norm,
		PasswordHash: in.PasswordHash,
		CreatedAt:    in.Now,
	}
	s.byEmail[norm] = c
	s.byID[userID] = c
	return *c, nil
}

func (s *MemoryStore) CredentialByEmail(ctx context.Context, email string) (Credential, error) {
	const op = "identity.CredentialByEmail"

	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	norm := NormalizeEmail(email)
	if norm == "" {
		return Credential{}, invalid(op, "empty email")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byEmail[norm]
	if !ok {
		return Credential{}, notFound(op)
	}
	return *c, nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, userID, passwordHash string, _ time.Time) error {
	const op = "identity.UpdatePasswordHash"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(passwordHash) == "" {
		return invalid(op, "user id and hash are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[userID]
	if !ok {
		return notFound(op)
	}
	c.PasswordHash = passwordHash
	return nil
}
