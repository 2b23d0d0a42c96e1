// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

import (
	"errors"
	"sort"
	"sync"

	"github.com/igniterealtime/wildfire/jid"
	"github.com/igniterealtime/wildfire/logger"
	"github.com/igniterealtime/wildfire/session"
	"github.com/igniterealtime/wildfire/stanza"
)

// RemoteRouter is the server-to-server layer behind the routing table. It
// is asked to deliver a packet to a remote domain when no established
// outgoing session exists yet, typically by dialing out and queueing the
// packet until the stream is up.
type RemoteRouter interface {
	RouteRemote(domain string, p stanza.Packet) error
}

// DirectedPresence answers whether sender has granted directed presence to
// recipient. The routing table consults it when enumerating fan-out
// targets, so that entities a user addressed individually keep receiving
// that user's presence even without an availability broadcast.
type DirectedPresence interface {
	HasDirectedPresence(sender, recipient jid.JID) bool
}

// ErrRouteExists is returned when a client route is installed over an
// existing one for the same full address.
var ErrRouteExists = errors.New("router: a route for this address already exists")

// ErrNotFullAddress is returned when a client route operation is handed a
// bare or zero address.
var ErrNotFullAddress = errors.New("router: client routes require a full address")

// userBranch holds the resource leaves of one user. A leaf existing always
// keeps the branch queryable, even when no bare-address route was ever
// installed explicitly.
type userBranch struct {
	resources map[string]*session.Session
}

// RoutingTable maps addresses to deliverable destinations. Three disjoint
// route kinds exist: client routes (one per bound full address), component
// routes (one per component domain), and server routes (one per remote
// domain with an established outgoing stream). Lookups on unknown foreign
// domains fall back to the RemoteRouter.
//
// Install and remove are atomic with respect to concurrent lookups: a
// reader observes a route either fully present or fully absent.
type RoutingTable struct {
	domain string

	mu         sync.RWMutex
	users      map[string]*userBranch
	components map[string]*session.Session
	servers    map[string]*session.Session

	remote   RemoteRouter
	directed DirectedPresence

	// Per-stanza-kind notification for packets that found no destination.
	// Set during wiring; a nil handler means the failure is only logged.
	failedIQ       func(to jid.JID, iq *stanza.IQ)
	failedMessage  func(to jid.JID, m *stanza.Message)
	failedPresence func(to jid.JID, p *stanza.Presence)
}

// NewRoutingTable constructs an empty table for the given local domain.
func NewRoutingTable(domain string) *RoutingTable {
	return &RoutingTable{
		domain:     domain,
		users:      make(map[string]*userBranch),
		components: make(map[string]*session.Session),
		servers:    make(map[string]*session.Session),
	}
}

// SetRemoteRouter installs the fallback used for domains with no
// established server route.
func (t *RoutingTable) SetRemoteRouter(r RemoteRouter) {
	t.mu.Lock()
	t.remote = r
	t.mu.Unlock()
}

// SetDirectedPresence installs the directed presence oracle consulted by
// GetRoutes.
func (t *RoutingTable) SetDirectedPresence(d DirectedPresence) {
	t.mu.Lock()
	t.directed = d
	t.mu.Unlock()
}

// SetFailureHandlers installs the per-kind callbacks that run when a packet
// could not be routed. Must be called during wiring, before traffic flows.
func (t *RoutingTable) SetFailureHandlers(
	iq func(to jid.JID, iq *stanza.IQ),
	msg func(to jid.JID, m *stanza.Message),
	pr func(to jid.JID, p *stanza.Presence),
) {
	t.failedIQ = iq
	t.failedMessage = msg
	t.failedPresence = pr
}

// AddClientRoute installs a route for a bound client session. The session
// must carry a full address.
func (t *RoutingTable) AddClientRoute(s *session.Session) error {
	addr := s.Address()
	if addr.Resourcepart() == "" {
		return ErrNotFullAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	branch := t.users[addr.Localpart()]
	if branch == nil {
		branch = &userBranch{resources: make(map[string]*session.Session)}
		t.users[addr.Localpart()] = branch
	}
	if _, ok := branch.resources[addr.Resourcepart()]; ok {
		return ErrRouteExists
	}
	branch.resources[addr.Resourcepart()] = s
	routesCurrent.WithLabelValues("client").Inc()
	return nil
}

// RemoveClientRoute drops the route for a full client address. It reports
// whether a route was removed.
func (t *RoutingTable) RemoveClientRoute(addr jid.JID) bool {
	if addr.Resourcepart() == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	branch := t.users[addr.Localpart()]
	if branch == nil {
		return false
	}
	if _, ok := branch.resources[addr.Resourcepart()]; !ok {
		return false
	}
	delete(branch.resources, addr.Resourcepart())
	if len(branch.resources) == 0 {
		delete(t.users, addr.Localpart())
	}
	routesCurrent.WithLabelValues("client").Dec()
	return true
}

// AddComponentRoute installs a route for a component serving a domain.
func (t *RoutingTable) AddComponentRoute(domain string, s *session.Session) {
	t.mu.Lock()
	t.components[domain] = s
	t.mu.Unlock()
	routesCurrent.WithLabelValues("component").Inc()
}

// RemoveComponentRoute drops a component route.
func (t *RoutingTable) RemoveComponentRoute(domain string) {
	t.mu.Lock()
	_, ok := t.components[domain]
	delete(t.components, domain)
	t.mu.Unlock()
	if ok {
		routesCurrent.WithLabelValues("component").Dec()
	}
}

// AddServerRoute installs a route toward a remote domain over an
// established outgoing session.
func (t *RoutingTable) AddServerRoute(domain string, s *session.Session) {
	t.mu.Lock()
	t.servers[domain] = s
	t.mu.Unlock()
	routesCurrent.WithLabelValues("server").Inc()
}

// RemoveServerRoute drops a server route.
func (t *RoutingTable) RemoveServerRoute(domain string) {
	t.mu.Lock()
	_, ok := t.servers[domain]
	delete(t.servers, domain)
	t.mu.Unlock()
	if ok {
		routesCurrent.WithLabelValues("server").Dec()
	}
}

// HasClientRoute reports whether a client route exists for the full
// address.
func (t *RoutingTable) HasClientRoute(addr jid.JID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.clientRoute(addr) != nil
}

// HasComponentRoute reports whether a component serves the address's
// domain.
func (t *RoutingTable) HasComponentRoute(addr jid.JID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.components[addr.Domainpart()]
	return ok
}

// HasServerRoute reports whether an outgoing stream toward the domain is
// established.
func (t *RoutingTable) HasServerRoute(domain string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.servers[domain]
	return ok
}

// clientRoute resolves a full address to its session. Callers hold t.mu.
func (t *RoutingTable) clientRoute(addr jid.JID) *session.Session {
	branch := t.users[addr.Localpart()]
	if branch == nil {
		return nil
	}
	return branch.resources[addr.Resourcepart()]
}

// GetRoutes enumerates the addresses a packet from sender to route would
// fan out to. A full local address yields itself when the session exists
// and is either available or holds a directed presence grant toward the
// sender. A bare local address yields every qualifying resource. Component
// and remote addresses yield themselves when reachable.
func (t *RoutingTable) GetRoutes(route, sender jid.JID) []jid.JID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []jid.JID
	switch {
	case route.Domainpart() == t.domain:
		if route.Resourcepart() != "" {
			if s := t.clientRoute(route); s != nil && t.eligible(s, sender) {
				out = append(out, route)
			}
			return out
		}
		branch := t.users[route.Localpart()]
		if branch == nil {
			return nil
		}
		for _, s := range branch.resources {
			if t.eligible(s, sender) {
				out = append(out, s.Address())
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	case t.componentFor(route.Domainpart()) != nil:
		out = append(out, jid.Unsafe("", route.Domainpart(), ""))
	default:
		out = append(out, route)
	}
	return out
}

// eligible reports whether a session should receive fan-out traffic from
// sender: it advertised availability, or it earlier granted the sender
// directed presence. Callers hold t.mu.
func (t *RoutingTable) eligible(s *session.Session, sender jid.JID) bool {
	if s.Available() {
		return true
	}
	return t.directed != nil && t.directed.HasDirectedPresence(s.Address(), sender)
}

// componentFor resolves a domain to its component session, trying the
// exact domain and then each parent subdomain boundary. Callers hold t.mu.
func (t *RoutingTable) componentFor(domain string) *session.Session {
	if s, ok := t.components[domain]; ok {
		return s
	}
	return nil
}

// RoutePacket delivers a packet to the destination the address resolves
// to. When no destination exists the per-kind routing-failed handler runs,
// unless the packet is itself an error reply; an error answering an error
// is dropped instead of looping.
func (t *RoutingTable) RoutePacket(to jid.JID, p stanza.Packet, isErrorReply bool) {
	routed := false
	switch {
	case to.IsZero():
		// Nothing to resolve.
	case to.Domainpart() == t.domain:
		routed = t.routeToLocalDomain(to, p)
	default:
		if t.HasComponentRoute(to) {
			routed = t.routeToComponent(to, p)
		} else {
			routed = t.routeToRemoteDomain(to, p)
		}
	}
	if routed {
		stanzasRouted.WithLabelValues(stanzaKind(p), "delivered").Inc()
		return
	}

	logger.Debug("failed to route packet", "to", to.String(), "kind", stanzaKind(p))
	stanzasRouted.WithLabelValues(stanzaKind(p), "failed").Inc()
	if isErrorReply {
		return
	}
	switch pkt := p.(type) {
	case *stanza.IQ:
		if t.failedIQ != nil {
			t.failedIQ(to, pkt)
		}
	case *stanza.Message:
		if t.failedMessage != nil {
			t.failedMessage(to, pkt)
		}
	case *stanza.Presence:
		if t.failedPresence != nil {
			t.failedPresence(to, pkt)
		}
	}
}

func (t *RoutingTable) routeToLocalDomain(to jid.JID, p stanza.Packet) bool {
	if to.Resourcepart() == "" {
		// Bare local addresses are resolved by the stanza routers, which
		// own resource selection. A bare address reaching the table means
		// no resolution was possible.
		return false
	}
	t.mu.RLock()
	s := t.clientRoute(to)
	t.mu.RUnlock()
	if s == nil {
		return false
	}
	if err := s.Process(p); err != nil {
		logger.Debug("local delivery failed", "to", to.String(), "error", err)
		return false
	}
	return true
}

func (t *RoutingTable) routeToComponent(to jid.JID, p stanza.Packet) bool {
	t.mu.RLock()
	s := t.componentFor(to.Domainpart())
	t.mu.RUnlock()
	if s == nil {
		return false
	}
	if err := s.Process(p); err != nil {
		logger.Debug("component delivery failed", "to", to.String(), "error", err)
		return false
	}
	return true
}

func (t *RoutingTable) routeToRemoteDomain(to jid.JID, p stanza.Packet) bool {
	t.mu.RLock()
	s := t.servers[to.Domainpart()]
	remote := t.remote
	t.mu.RUnlock()

	if s != nil {
		if err := s.Process(p); err == nil {
			return true
		} else {
			logger.Debug("server delivery failed", "to", to.String(), "error", err)
		}
	}
	if remote == nil {
		return false
	}
	if err := remote.RouteRemote(to.Domainpart(), p); err != nil {
		logger.Debug("remote delivery failed", "domain", to.Domainpart(), "error", err)
		return false
	}
	return true
}

// Broadcast delivers the message to every local client session with a
// route.
func (t *RoutingTable) Broadcast(m *stanza.Message) {
	t.mu.RLock()
	var sessions []*session.Session
	for _, branch := range t.users {
		for _, s := range branch.resources {
			sessions = append(sessions, s)
		}
	}
	t.mu.RUnlock()

	for _, s := range sessions {
		c := m.Copy()
		c.SetTo(s.Address())
		if err := s.Process(c); err != nil {
			logger.Debug("broadcast delivery failed", "to", s.Address().String(), "error", err)
		}
	}
}

func stanzaKind(p stanza.Packet) string {
	switch p.(type) {
	case *stanza.IQ:
		return "iq"
	case *stanza.Message:
		return "message"
	case *stanza.Presence:
		return "presence"
	default:
		return "unknown"
	}
}
