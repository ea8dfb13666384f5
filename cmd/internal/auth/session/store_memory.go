package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and database-less dev runs.
// One mutex serializes every operation, which gives Replace and Rotate their atomicity.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Record
	byHash map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Record),
		byHash: make(map[string]string),
	}
}

func (s *MemoryStore) Replace(ctx context.Context, now time.Time, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(rec); err != nil {
		return err
	}
	s.revokeLocked(now, rec.UserID)
	s.putLocked(rec)
	return nil
}

func (s *MemoryStore) Rotate(ctx context.Context, now time.Time, tokenHash string, next func(userID string) (Record, error)) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	old := s.byID[id]
	if !old.Active(now) {
		return Record{}, ErrRecordNotFound
	}

	succ, err := next(old.UserID)
	if err != nil {
		return Record{}, err
	}
	if err := s.checkLocked(succ); err != nil {
		return Record{}, err
	}

	used := now
	old.LastUsedAt = &used
	s.revokeLocked(now, old.UserID)
	s.putLocked(succ)
	return cloneRecord(*old), nil
}

func (s *MemoryStore) RevokeAll(ctx context.Context, now time.Time, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.revokeLocked(now, userID), nil
}

func (s *MemoryStore) DeleteInactive(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.byID {
		if r.Active(now) {
			continue
		}
		delete(s.byHash, r.TokenHash)
		delete(s.byID, id)
		n++
	}
	return n, nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, r := range s.byID {
		if r.UserID == userID {
			out = append(out, cloneRecord(*r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) revokeLocked(now time.Time, userID string) int64 {
	var n int64
	for _, r := range s.byID {
		if r.UserID == userID && r.RevokedAt == nil {
			at := now
			r.RevokedAt = &at
			n++
		}
	}
	return n
}

func (s *MemoryStore) checkLocked(rec Record) error {
	if rec.ID == "" || rec.UserID == "" || rec.TokenHash == "" {
		return errors.New("session: incomplete record")
	}
	if _, dup := s.byHash[rec.TokenHash]; dup {
		return errors.New("session: duplicate token hash")
	}
	if _, dup := s.byID[rec.ID]; dup {
		return errors.New("session: duplicate record id")
	}
	return nil
}

func (s *MemoryStore) putLocked(rec Record) {
	r := cloneRecord(rec)
	s.byID[r.ID] = &r
	s.byHash[r.TokenHash] = r.ID
}

func cloneRecord(r Record) Record {
	if r.RevokedAt != nil {
		t := *r.RevokedAt
		r.RevokedAt = &t
	}
	if r.LastUsedAt != nil {
		t := *r.LastUsedAt
		r.LastUsedAt = &t
	}
	return r
}
