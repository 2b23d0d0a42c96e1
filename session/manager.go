// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package session

import (
	"errors"
	"sync"
	"time"

	"github.com/igniterealtime/wildfire/jid"
	"github.com/igniterealtime/wildfire/logger"
	"github.com/igniterealtime/wildfire/stanza"
)

// ErrNotBound is returned when a session without a full address is handed
// to the registry paths that require one.
var ErrNotBound = errors.New("session: session has no bound resource")

// userEntry pairs one user's resource group with the lock protecting it.
// The lock lives alongside the group so that per-user mutation never
// serializes on the registry-wide lock.
type userEntry struct {
	mu    sync.Mutex
	group *resourceGroup
}

// Manager is the session registry. All maps are guarded by mu; per-user
// resource ordering is guarded by the user's own entry lock. Reads hand out
// defensive snapshots, never live structures.
type Manager struct {
	domain string

	mu         sync.RWMutex
	users      map[string]*userEntry // localpart → resources
	anonymous  map[jid.JID]*Session  // full JID → anonymous client session
	preAuth    map[string]*Session   // stream ID → not yet bound session
	components map[string]*Session   // component domain → session
	incoming   map[string]*Session   // stream ID → incoming server session
	outgoing   map[string]*Session   // remote domain → outgoing server session

	// onRemoved, when set, runs after a client session leaves the registry.
	// The wiring layer uses it to mirror an unavailable presence and drop
	// the session's route.
	onRemoved func(*Session)

	sweepStop chan struct{}
}

// NewManager constructs a registry for the given local domain.
func NewManager(domain string) *Manager {
	return &Manager{
		domain:     domain,
		users:      make(map[string]*userEntry),
		anonymous:  make(map[jid.JID]*Session),
		preAuth:    make(map[string]*Session),
		components: make(map[string]*Session),
		incoming:   make(map[string]*Session),
		outgoing:   make(map[string]*Session),
	}
}

// Domain returns the local domain the registry serves.
func (m *Manager) Domain() string { return m.domain }

// OnSessionRemoved installs the hook that runs after a client session is
// removed. Must be called during wiring, before traffic flows.
func (m *Manager) OnSessionRemoved(fn func(*Session)) {
	m.onRemoved = fn
}

// AddPreAuth registers a session that has connected but not yet bound a
// resource. A session without an address gets the provisional form
// domain/stream-id so that stanzas it sends mid-handshake can be traced
// back to it.
func (m *Manager) AddPreAuth(s *Session) {
	if s.Address().IsZero() {
		s.SetAddress(jid.Unsafe("", m.domain, s.StreamID()))
	}
	m.mu.Lock()
	m.preAuth[s.StreamID()] = s
	m.mu.Unlock()
	sessionsCurrent.WithLabelValues("pre-auth").Inc()
}

// PreAuth returns the unbound session with the given stream ID, or nil.
func (m *Manager) PreAuth(streamID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.preAuth[streamID]
}

// AddSession promotes a client session into the routable registry once it
// has authenticated and bound a resource. Pre-auth bookkeeping for the
// session is dropped.
func (m *Manager) AddSession(s *Session) error {
	addr := s.Address()
	if addr.Resourcepart() == "" {
		return ErrNotBound
	}

	m.mu.Lock()
	if _, ok := m.preAuth[s.StreamID()]; ok {
		delete(m.preAuth, s.StreamID())
		sessionsCurrent.WithLabelValues("pre-auth").Dec()
	}
	if s.Anonymous() {
		m.anonymous[addr] = s
		m.mu.Unlock()
	} else {
		entry := m.users[addr.Localpart()]
		if entry == nil {
			entry = &userEntry{group: newResourceGroup()}
			m.users[addr.Localpart()] = entry
		}
		m.mu.Unlock()

		entry.mu.Lock()
		entry.group.add(s)
		entry.mu.Unlock()
	}
	sessionsCurrent.WithLabelValues(s.Kind().String()).Inc()

	s.OnClose(func(any) { m.RemoveSession(s) }, s.StreamID())
	return nil
}

// RemoveSession drops a client session from the registry. Safe to call for
// sessions that were already removed.
func (m *Manager) RemoveSession(s *Session) {
	addr := s.Address()
	removed := false

	m.mu.Lock()
	if _, ok := m.anonymous[addr]; ok {
		delete(m.anonymous, addr)
		removed = true
		m.mu.Unlock()
	} else if entry := m.users[addr.Localpart()]; entry != nil {
		m.mu.Unlock()
		entry.mu.Lock()
		if entry.group.get(addr.Resourcepart()) == s {
			entry.group.remove(addr.Resourcepart())
			removed = true
		}
		empty := entry.group.empty()
		entry.mu.Unlock()
		if empty {
			m.mu.Lock()
			if e := m.users[addr.Localpart()]; e == entry {
				e.mu.Lock()
				if e.group.empty() {
					delete(m.users, addr.Localpart())
				}
				e.mu.Unlock()
			}
			m.mu.Unlock()
		}
	} else {
		m.mu.Unlock()
	}

	if removed {
		sessionsCurrent.WithLabelValues(s.Kind().String()).Dec()
		sessionsClosedTotal.WithLabelValues(s.Kind().String()).Inc()
		if m.onRemoved != nil {
			m.onRemoved(s)
		}
	}
}

// GetSession resolves a full JID to the client session it identifies, or
// nil. A zero JID (server-originated stanzas) resolves to nil.
func (m *Manager) GetSession(j jid.JID) *Session {
	if j.IsZero() || j.Resourcepart() == "" {
		return nil
	}

	m.mu.RLock()
	if s, ok := m.anonymous[j]; ok {
		m.mu.RUnlock()
		return s
	}
	if j.Localpart() == "" && j.Domainpart() == m.domain {
		// Provisional pre-auth address: domain/stream-id.
		s := m.preAuth[j.Resourcepart()]
		m.mu.RUnlock()
		return s
	}
	entry := m.users[j.Localpart()]
	m.mu.RUnlock()
	if entry == nil {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.group.get(j.Resourcepart())
}

// Sessions returns a priority-ordered snapshot of the user's sessions.
func (m *Manager) Sessions(username string) []*Session {
	m.mu.RLock()
	entry := m.users[username]
	m.mu.RUnlock()
	if entry == nil {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.group.snapshot()
}

// DefaultSession returns the session that should receive traffic addressed
// to the user's bare JID, or nil when no resource advertises a non-negative
// priority.
func (m *Manager) DefaultSession(username string) *Session {
	m.mu.RLock()
	entry := m.users[username]
	m.mu.RUnlock()
	if entry == nil {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.group.defaultSession()
}

// SetPresence records a session's presence and re-slots its resource in the
// user's priority order.
func (m *Manager) SetPresence(s *Session, p *stanza.Presence) {
	s.SetPresence(p)
	addr := s.Address()
	if s.Anonymous() || addr.Resourcepart() == "" {
		return
	}

	m.mu.RLock()
	entry := m.users[addr.Localpart()]
	m.mu.RUnlock()
	if entry == nil {
		return
	}

	entry.mu.Lock()
	entry.group.changePriority(addr.Resourcepart(), s.Priority())
	entry.mu.Unlock()
}

// Broadcast delivers a copy of the packet to every session of the user.
func (m *Manager) Broadcast(username string, p stanza.Packet) {
	for _, s := range m.Sessions(username) {
		c := p.Copy()
		c.SetTo(s.Address())
		if err := s.Process(c); err != nil {
			logger.Debug("broadcast delivery failed",
				"user", username, "resource", s.Address().Resourcepart(), "error", err)
		}
	}
}

// AddComponent registers a component session under its domain.
func (m *Manager) AddComponent(s *Session) {
	m.mu.Lock()
	m.components[s.Address().Domainpart()] = s
	m.mu.Unlock()
	sessionsCurrent.WithLabelValues(s.Kind().String()).Inc()

	s.OnClose(func(any) { m.RemoveComponent(s) }, s.StreamID())
}

// RemoveComponent drops a component session.
func (m *Manager) RemoveComponent(s *Session) {
	domain := s.Address().Domainpart()
	m.mu.Lock()
	cur, ok := m.components[domain]
	if ok && cur == s {
		delete(m.components, domain)
	}
	m.mu.Unlock()
	if ok && cur == s {
		sessionsCurrent.WithLabelValues(s.Kind().String()).Dec()
		sessionsClosedTotal.WithLabelValues(s.Kind().String()).Inc()
	}
}

// Component returns the component session serving the given domain, or nil.
func (m *Manager) Component(domain string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.components[domain]
}

// AddIncomingServer registers a receive-only session from a remote server.
func (m *Manager) AddIncomingServer(s *Session) {
	m.mu.Lock()
	m.incoming[s.StreamID()] = s
	m.mu.Unlock()
	sessionsCurrent.WithLabelValues(s.Kind().String()).Inc()

	s.OnClose(func(any) {
		m.mu.Lock()
		delete(m.incoming, s.StreamID())
		m.mu.Unlock()
		sessionsCurrent.WithLabelValues(s.Kind().String()).Dec()
	}, s.StreamID())
}

// AddOutgoingServer registers a send-only session toward a remote domain.
func (m *Manager) AddOutgoingServer(domain string, s *Session) {
	m.mu.Lock()
	m.outgoing[domain] = s
	m.mu.Unlock()
	sessionsCurrent.WithLabelValues(s.Kind().String()).Inc()

	s.OnClose(func(any) {
		m.mu.Lock()
		if m.outgoing[domain] == s {
			delete(m.outgoing, domain)
		}
		m.mu.Unlock()
		sessionsCurrent.WithLabelValues(s.Kind().String()).Dec()
	}, s.StreamID())
}

// OutgoingServer returns the session toward the given remote domain, or
// nil.
func (m *Manager) OutgoingServer(domain string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outgoing[domain]
}

// Counts reports the number of registered sessions per kind plus pre-auth
// sessions.
func (m *Manager) Counts() map[string]int {
	m.mu.RLock()
	users := make([]*userEntry, 0, len(m.users))
	for _, e := range m.users {
		users = append(users, e)
	}
	counts := map[string]int{
		"pre-auth":        len(m.preAuth),
		"anonymous":       len(m.anonymous),
		"component":       len(m.components),
		"incoming-server": len(m.incoming),
		"outgoing-server": len(m.outgoing),
	}
	m.mu.RUnlock()

	clients := 0
	for _, e := range users {
		e.mu.Lock()
		clients += len(e.group.resources)
		e.mu.Unlock()
	}
	counts["client"] = clients
	return counts
}

// StartIdleSweep launches the periodic pass that closes incoming and
// outgoing server sessions whose last activity is older than idleTimeout.
// The sweep runs until StopIdleSweep is called; a second Start without an
// intervening Stop is a no-op. It is safe to run concurrently with normal
// routing; it operates on a snapshot.
func (m *Manager) StartIdleSweep(idleTimeout, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweepStop != nil {
		return
	}
	stop := make(chan struct{})
	m.sweepStop = stop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweepIdleServerSessions(idleTimeout)
			case <-stop:
				return
			}
		}
	}()
}

// StopIdleSweep stops the idle sweep. Safe to call repeatedly; the manager
// can be started again afterwards.
func (m *Manager) StopIdleSweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweepStop == nil {
		return
	}
	close(m.sweepStop)
	m.sweepStop = nil
}

func (m *Manager) sweepIdleServerSessions(idleTimeout time.Duration) {
	deadline := time.Now().Add(-idleTimeout)

	m.mu.RLock()
	candidates := make([]*Session, 0, len(m.incoming)+len(m.outgoing))
	for _, s := range m.incoming {
		candidates = append(candidates, s)
	}
	for _, s := range m.outgoing {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	for _, s := range candidates {
		if s.LastActive().Before(deadline) {
			logger.Info("closing idle server session",
				"kind", s.Kind().String(), "peer", s.Address().String())
			idleServerSessionsClosed.Inc()
			if err := s.Close(); err != nil {
				logger.Debug("idle close failed", "error", err)
			}
		}
	}
}
