package room

import (
	"log"
	"sync"
	"time"
)

// Manager tracks one actor per room id. Rooms are created on first use
// and evicted from memory once they have been empty for the idle TTL;
// their durable trace lives in the store.
type Manager struct {
	store    Store
	verifier TokenVerifier
	cfg      Config

	mu    sync.Mutex
	rooms map[string]*Actor

	done     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a room manager and starts its eviction sweeper.
func NewManager(store Store, verifier TokenVerifier, cfg Config) *Manager {
	m := &Manager{
		store:    store,
		verifier: verifier,
		cfg:      cfg,
		rooms:    make(map[string]*Actor),
		done:     make(chan struct{}),
	}

	go m.sweepLoop()
	return m
}

// Get returns the actor for a room id, creating one when absent. A
// recreated actor serves history from the store, not from memory.
func (m *Manager) Get(roomID string) *Actor {
	m.mu.Lock()
	defer m.mu.Unlock()

	if actor, ok := m.rooms[roomID]; ok {
		return actor
	}

	actor := New(roomID, roomID, m.store, m.verifier, m.cfg)
	m.rooms[roomID] = actor
	return actor
}

// Stats reports room and connection counts for monitoring.
func (m *Manager) Stats() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	connections := 0
	for _, actor := range m.rooms {
		connections += actor.ConnCount()
	}
	return map[string]int{
		"active_rooms":      len(m.rooms),
		"total_connections": connections,
	}
}

// Stop shuts down the sweeper and every actor.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, actor := range m.rooms {
		actor.Stop()
		delete(m.rooms, id)
	}
}

func (m *Manager) sweepLoop() {
	interval := m.cfg.IdleTTL
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(time.Now())
		case <-m.done:
			return
		}
	}
}

// sweep evicts actors that have been empty for the idle TTL. A caller
// holding a stale actor gets ErrRoomClosed from it and retries Get.
func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, actor := range m.rooms {
		if actor.ConnCount() == 0 && actor.IdleFor(now) >= m.cfg.IdleTTL {
			log.Printf("room %s: evicting idle room", id)
			actor.Stop()
			delete(m.rooms, id)
		}
	}
}
