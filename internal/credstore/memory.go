package credstore

import "sync"

// MemStore is an in-memory Store for tests and ephemeral processes that
// should not touch disk.
type MemStore struct {
	mu   sync.Mutex
	cred Credential
	set  bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Save stores the credential pair in memory.
func (s *MemStore) Save(c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cred = c
	s.set = c.Present()

	return nil
}

// Load returns the stored credential pair, if any.
func (s *MemStore) Load() (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.set {
		return Credential{}, false
	}

	return s.cred, true
}

// Clear removes the stored credential pair.
func (s *MemStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cred = Credential{}
	s.set = false

	return nil
}
