package auth

import (
	"fmt"
	"strings"
	"sync"
)

// Store holds scrypt password hashes by username. It is safe for concurrent
// use.
type Store struct {
	mu    sync.RWMutex
	users map[string]hash

	// dummy is checked for unknown users so they take as long as known ones.
	dummy hash
}

// NewStore returns a Store with entries in "name:hash" form.
func NewStore(entries ...string) (*Store, error) {
	s := &Store{users: make(map[string]hash, len(entries))}
	for _, e := range entries {
		if err := s.Add(e); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add parses a "name:hash" entry, replacing any earlier one for name.
func (s *Store) Add(entry string) error {
	name, encoded, ok := strings.Cut(entry, ":")
	if !ok || name == "" {
		return fmt.Errorf("user entry %q: want name:hash", entry)
	}
	h, err := parseHash(encoded)
	if err != nil {
		return fmt.Errorf("user %q: %w", name, err)
	}
	s.mu.Lock()
	s.users[name] = h
	if h.cost > s.dummy.cost {
		s.dummy = hash{cost: h.cost, salt: make([]byte, saltLen), key: make([]byte, keyLen)}
	}
	s.mu.Unlock()
	return nil
}

// Len returns the number of users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Authenticate reports whether password is correct for username.
func (s *Store) Authenticate(username, password string) bool {
	s.mu.RLock()
	h, ok := s.users[username]
	if !ok {
		h = s.dummy
	}
	s.mu.RUnlock()
	return h.verify(password) && ok
}
