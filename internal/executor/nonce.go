package executor

import (
	"context"
	"fmt"
	"sync"
)

// NonceSource supplies the account's next pending nonce from the chain.
type NonceSource func(ctx context.Context) (uint64, error)

// NonceManager is the single serialized nonce resource. Every submission
// acquires it in order and holds it across build/sign/send, so concurrently
// discovered candidates can never collide on a nonce.
type NonceManager struct {
	mu     sync.Mutex
	next   uint64
	seeded bool
	source NonceSource
}

// NewNonceManager creates a manager that reseeds from source.
func NewNonceManager(source NonceSource) *NonceManager {
	return &NonceManager{source: source}
}

// Init seeds the local counter from the chain.
func (m *NonceManager) Init(ctx context.Context) error {
	n, err := m.source(ctx)
	if err != nil {
		return fmt.Errorf("executor: seed nonce: %w", err)
	}
	m.mu.Lock()
	m.next = n
	m.seeded = true
	m.mu.Unlock()
	return nil
}

// Submit runs fn with the next nonce while holding the serialization lock.
// On success the counter advances; on failure it is resequenced from the
// chain so a burned or rejected nonce cannot wedge later submissions.
func (m *NonceManager) Submit(ctx context.Context, fn func(nonce uint64) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.seeded {
		n, err := m.source(ctx)
		if err != nil {
			return fmt.Errorf("executor: seed nonce: %w", err)
		}
		m.next = n
		m.seeded = true
	}

	err := fn(m.next)
	if err == nil {
		m.next++
		return nil
	}

	// Resequence from the chain; if that also fails, keep the local counter
	// and let the next submission retry the reseed.
	if n, seedErr := m.source(ctx); seedErr == nil {
		m.next = n
	} else {
		m.seeded = false
	}
	return err
}

// Next returns the nonce the next submission would use.
func (m *NonceManager) Next() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}
