// internal/game/manager.go
package game

import (
	"sync"

	"github.com/google/uuid"
)

// Manager is the registry of live parties.
type Manager struct {
	mu      sync.RWMutex
	parties map[uuid.UUID]*PartyGame
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{parties: make(map[uuid.UUID]*PartyGame)}
}

// CreateParty registers a new party with the given rules.
func (m *Manager) CreateParty(rules PartyRules) *PartyGame {
	pg := NewPartyGame()
	if rules.MaxSteals > 0 {
		pg.Rules = rules
	}

	m.mu.Lock()
	m.parties[pg.ID] = pg
	m.mu.Unlock()
	return pg
}

// Get looks up a live party.
func (m *Manager) Get(partyID uuid.UUID) (*PartyGame, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pg, ok := m.parties[partyID]
	return pg, ok
}

// Remove drops a party from the registry.
func (m *Manager) Remove(partyID uuid.UUID) {
	m.mu.Lock()
	delete(m.parties, partyID)
	m.mu.Unlock()
}

// Count returns the number of live parties.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.parties)
}
