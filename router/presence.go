// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

import (
	"sync"

	"github.com/igniterealtime/wildfire/jid"
	"github.com/igniterealtime/wildfire/logger"
	"github.com/igniterealtime/wildfire/session"
	"github.com/igniterealtime/wildfire/stanza"
)

// PresenceRouter routes presence stanzas. Availability updates addressed
// to the server go to the presence subsystem; directed presences are
// tracked so they can be withdrawn when the sender disconnects;
// subscription stanzas and probes are delegated. Presence delivery is best
// effort: routing failures are dropped, never answered, so a presence
// storm cannot breed an error storm.
type PresenceRouter struct {
	domain       string
	registry     *session.Manager
	table        *RoutingTable
	handler      PresenceHandler
	capabilities CapabilityDiscovery

	// directed maps a sender's full address to the targets it sent
	// directed presence to. Entries are withdrawn on a directed
	// unavailable and mirrored as unavailable when the sender's session
	// closes.
	mu       sync.RWMutex
	directed map[jid.JID]map[jid.JID]struct{}
}

// NewPresenceRouter constructs the router.
func NewPresenceRouter(
	domain string,
	registry *session.Manager,
	table *RoutingTable,
	handler PresenceHandler,
	capabilities CapabilityDiscovery,
) *PresenceRouter {
	return &PresenceRouter{
		domain:       domain,
		registry:     registry,
		table:        table,
		handler:      handler,
		capabilities: capabilities,
		directed:     make(map[jid.JID]map[jid.JID]struct{}),
	}
}

// Route performs the routing of a presence stanza. A nil stanza is a
// programming error and panics.
func (r *PresenceRouter) Route(p *stanza.Presence) {
	if p == nil {
		panic("router: nil presence")
	}
	sender := r.registry.GetSession(p.GetFrom())

	if sender != nil && sender.Status() == session.Connected {
		// Presence before authentication finished is a protocol
		// violation; the stanza is turned around as the answer.
		p.SetTo(sender.Address())
		p.SetFrom(jid.JID{})
		p.SetError(stanza.Error{Type: stanza.Auth, Condition: stanza.NotAuthorized})
		if err := sender.Process(p); err != nil {
			logger.Debug("reply delivery failed", "error", err)
		}
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			// A fault mid-presence leaves the stream in an unknown state;
			// the session cannot continue.
			logger.Error("presence handling fault; closing session",
				"from", p.GetFrom().String(), "panic", rec)
			if sender != nil {
				sender.Close()
			}
		}
	}()

	r.handle(p, sender)
}

func (r *PresenceRouter) handle(p *stanza.Presence, sender *session.Session) {
	to := p.GetTo()
	from := p.GetFrom()

	// Presence between two non-local entities is an opaque relay.
	if !to.IsZero() && !r.isLocalEntity(to) && !from.IsZero() && !r.isLocalEntity(from) {
		r.table.RoutePacket(to, p, false)
		return
	}

	switch {
	case p.IsStatusUpdate():
		r.handleUpdate(p, sender, to, from)
	case p.IsSubscription():
		r.handler.HandleSubscription(p)
	case p.Type == stanza.ProbePresence:
		if !to.IsZero() && to.Domainpart() != r.domain {
			r.table.RoutePacket(to, p, false)
			return
		}
		r.handler.HandleProbe(p)
	default:
		r.table.RoutePacket(to, p, false)
	}
}

func (r *PresenceRouter) handleUpdate(p *stanza.Presence, sender *session.Session, to, from jid.JID) {
	if to.IsZero() || (to.Localpart() == "" && to.Resourcepart() == "" && to.Domainpart() == r.domain) {
		// A broadcast update addressed to the server itself.
		if r.capabilities != nil {
			r.capabilities.Observe(p)
		}
		r.handler.HandleUpdate(p)
		return
	}

	// Directed presence. Third-party updates still feed capability
	// discovery even though the server is not the addressee.
	if r.capabilities != nil && !from.IsZero() &&
		from.Domainpart() != r.domain && !r.table.HasComponentRoute(from) {
		r.capabilities.Observe(p)
	}

	if p.IsAvailable() && sender != nil && sender.Status() == session.Closed {
		// A dead session must not come back to visibility.
		logger.Debug("available presence from closed session dropped", "from", from.String())
		return
	}

	routes := r.table.GetRoutes(to, from)
	if len(routes) == 0 {
		// If the target is remote the table already tried its fallback;
		// for local targets with no eligible resource still attempt the
		// address itself so the failure handling stays uniform.
		r.table.RoutePacket(to, p, false)
	}
	for _, addr := range routes {
		r.table.RoutePacket(addr, p, false)
		if !from.IsZero() && from.Resourcepart() != "" {
			r.registerDirected(from, addr, p.IsAvailable())
		}
	}
}

// isLocalEntity reports whether the address belongs to this server or one
// of its components.
func (r *PresenceRouter) isLocalEntity(j jid.JID) bool {
	return j.Domainpart() == r.domain || r.table.HasComponentRoute(j)
}

// registerDirected records or withdraws a directed presence grant.
func (r *PresenceRouter) registerDirected(from, target jid.JID, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	targets := r.directed[from]
	if available {
		if targets == nil {
			targets = make(map[jid.JID]struct{})
			r.directed[from] = targets
		}
		targets[target] = struct{}{}
		return
	}
	if targets != nil {
		delete(targets, target)
		if len(targets) == 0 {
			delete(r.directed, from)
		}
	}
}

// HasDirectedPresence implements DirectedPresence: it reports whether
// sender granted recipient (full or bare form) a directed presence.
func (r *PresenceRouter) HasDirectedPresence(sender, recipient jid.JID) bool {
	if recipient.IsZero() {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	targets := r.directed[sender]
	if targets == nil {
		return false
	}
	if _, ok := targets[recipient]; ok {
		return true
	}
	_, ok := targets[recipient.Bare()]
	return ok
}

// DirectedTargets snapshots the targets a sender granted directed
// presence to.
func (r *PresenceRouter) DirectedTargets(sender jid.JID) []jid.JID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]jid.JID, 0, len(r.directed[sender]))
	for t := range r.directed[sender] {
		out = append(out, t)
	}
	return out
}

// SessionClosed withdraws every directed presence a closing session
// granted, delivering an unavailable presence on its behalf to each
// target.
func (r *PresenceRouter) SessionClosed(addr jid.JID) {
	r.mu.Lock()
	targets := r.directed[addr]
	delete(r.directed, addr)
	r.mu.Unlock()

	for target := range targets {
		p := &stanza.Presence{
			Header: stanza.Header{To: target, From: addr},
			Type:   stanza.UnavailablePresence,
		}
		r.table.RoutePacket(target, p, false)
	}
}

// RoutingFailed is invoked by the routing table when a presence found no
// destination. Presence loss is silent; only a debug trace remains.
func (r *PresenceRouter) RoutingFailed(to jid.JID, p *stanza.Presence) {
	logger.Debug("presence sent to unreachable address dropped", "to", to.String())
}
