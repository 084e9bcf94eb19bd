package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrStaleVersion is returned by stores when a write is attempted against a
// version that has since been superseded.
var ErrStaleVersion = errors.New("escrow: stale account version")

// Store persists custody accounts. Update must run the read-validate-write
// sequence for one account under mutual exclusion: mutate receives a private
// copy, and nothing is written when it returns an error. Implementations bump
// Version on every successful write.
type Store interface {
	Insert(ctx context.Context, acc *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	Update(ctx context.Context, id string, mutate func(*Account) error) (*Account, error)
}

// MemoryStore is an in-process Store. Each account id has its own mutex so
// mutations of one account are serialized without blocking the others.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	locks    map[string]*sync.Mutex
	active   map[string]string
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		locks:    make(map[string]*sync.Mutex),
		active:   make(map[string]string),
	}
}

// Insert stores a new account. Only one non-terminal account may exist per
// contract.
func (s *MemoryStore) Insert(ctx context.Context, acc *Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if acc == nil {
		return fmt.Errorf("%w: nil account", ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[acc.ID]; exists {
		return fmt.Errorf("%w: account %s already exists", ErrConflict, acc.ID)
	}
	if existing, ok := s.active[acc.ContractID]; ok {
		return fmt.Errorf("%w: contract %s already has active escrow %s", ErrConflict, acc.ContractID, existing)
	}
	stored := acc.Clone()
	s.accounts[stored.ID] = stored
	s.locks[stored.ID] = &sync.Mutex{}
	if !stored.Status.Terminal() {
		s.active[stored.ContractID] = stored.ID
	}
	return nil
}

// Get returns a copy of the stored account.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return acc.Clone(), nil
}

// Update serializes mutate against every other Update of the same account.
func (s *MemoryStore) Update(ctx context.Context, id string, mutate func(*Account) error) (*Account, error) {
	s.mu.Lock()
	lock, ok := s.locks[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	lock.Lock()
	defer lock.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	working := s.accounts[id].Clone()
	s.mu.Unlock()

	read := working.Version
	if err := mutate(working); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.accounts[id]
	if current.Version != read {
		return nil, ErrStaleVersion
	}
	working.ID = current.ID
	working.Version = read + 1
	s.accounts[id] = working.Clone()
	if working.Status.Terminal() && s.active[working.ContractID] == id {
		delete(s.active, working.ContractID)
	}
	return working, nil
}
