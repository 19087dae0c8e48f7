package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"prodtrack.org/internal/ids"
)

// MemoryStore is an in-process Store. Every operation runs under one lock,
// so uniqueness and the delete guards are atomic.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]*Account
	byUsername map[string]string
	now        func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*Account),
		byUsername: make(map[string]string),
		now:        time.Now,
	}
}

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s *MemoryStore) Create(_ context.Context, acct Account) (Account, error) {
	key := usernameKey(acct.Username)
	if key == "" {
		return Account{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byUsername[key]; exists {
		return Account{}, ErrConflict
	}
	now := s.now().UTC()
	acct.ID = ids.New()
	acct.Roles = dedupeRoles(acct.Roles)
	acct.CreatedAt = now
	acct.UpdatedAt = now
	stored := cloneAccount(acct)
	s.byID[acct.ID] = &stored
	s.byUsername[key] = acct.ID
	return cloneAccount(acct), nil
}

func (s *MemoryStore) FindByUsername(_ context.Context, username string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[usernameKey(username)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return cloneAccount(*s.byID[id]), nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return cloneAccount(*acct), nil
}

func (s *MemoryStore) List(_ context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked(func(*Account) bool { return true }), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, upd AccountUpdate) (Account, error) {
	if err := upd.CheckMutable(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Account{}, ErrNotFound
	}
	if upd.Empty() {
		return cloneAccount(*acct), nil
	}
	upd.Apply(acct)
	acct.UpdatedAt = s.now().UTC()
	return cloneAccount(*acct), nil
}

func (s *MemoryStore) SetPassword(_ context.Context, id, passwordHash string) error {
	if passwordHash == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return ErrNotFound
	}
	acct.PasswordHash = passwordHash
	acct.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, from, to Status) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Account{}, ErrNotFound
	}
	if acct.Status != from {
		return Account{}, ErrInvalidState
	}
	acct.Status = to
	acct.UpdatedAt = s.now().UTC()
	return cloneAccount(*acct), nil
}

func (s *MemoryStore) Delete(_ context.Context, actorID, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == strings.TrimSpace(actorID) {
		return false, ErrSelfDeletion
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	if acct.HasRole(RoleAdmin) && s.countLocked(RoleAdmin) <= 1 {
		return false, ErrLastAdmin
	}
	delete(s.byID, id)
	delete(s.byUsername, usernameKey(acct.Username))
	return true, nil
}

func (s *MemoryStore) CountByRole(_ context.Context, role string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked(role), nil
}

func (s *MemoryStore) CountApproved(_ context.Context, role string) (total, usable int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, acct := range s.byID {
		if acct.Status != StatusApproved || !acct.HasRole(role) {
			continue
		}
		total++
		if acct.Usable() {
			usable++
		}
	}
	return total, usable, nil
}

func (s *MemoryStore) OldestApproved(_ context.Context, role string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := s.sortedLocked(func(a *Account) bool {
		return a.Status == StatusApproved && a.Usable() && a.HasRole(role)
	})
	if len(matches) == 0 {
		return Account{}, ErrNotFound
	}
	return matches[0], nil
}

func (s *MemoryStore) countLocked(role string) int {
	n := 0
	for _, acct := range s.byID {
		if acct.HasRole(role) {
			n++
		}
	}
	return n
}

// sortedLocked returns matching accounts ordered by creation. IDs are ULIDs,
// so they break ties between accounts created within the same clock tick.
func (s *MemoryStore) sortedLocked(match func(*Account) bool) []Account {
	out := make([]Account, 0, len(s.byID))
	for _, acct := range s.byID {
		if match(acct) {
			out = append(out, cloneAccount(*acct))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func cloneAccount(a Account) Account {
	if a.Roles != nil {
		a.Roles = append([]string(nil), a.Roles...)
	}
	return a
}
