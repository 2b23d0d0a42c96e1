// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

import (
	"strings"

	"github.com/igniterealtime/wildfire/config"
	"github.com/igniterealtime/wildfire/jid"
	"github.com/igniterealtime/wildfire/logger"
	"github.com/igniterealtime/wildfire/session"
	"github.com/igniterealtime/wildfire/stanza"
)

// Deps names every collaborator the routing core is wired with at startup.
// There is no ambient lookup at routing time: whatever a router needs, it
// received here.
type Deps struct {
	Config   config.Config
	Registry *session.Manager

	// External collaborators. Offline, Privacy, Users, Capabilities and
	// Remote may be nil; Presence must not.
	Offline      OfflineStrategy
	Privacy      PrivacyManager
	Users        UserChecker
	Presence     PresenceHandler
	Capabilities CapabilityDiscovery
	Remote       RemoteRouter

	// Admins are the server's admin accounts, used as message forward
	// targets when no admin recipients are configured.
	Admins []jid.JID

	// BootHandlers is the ordered list of IQ handlers the server
	// provisions at startup.
	BootHandlers []IQHandler

	// Interceptors is the shared chain; a fresh empty chain is created
	// when nil.
	Interceptors *InterceptorChain
}

// Router is the assembled routing core: the four stanza routers over one
// routing table, session registry, and correlation registry. Its Route
// method is the packet router, dispatching by stanza kind.
type Router struct {
	IQ        *IQRouter
	Message   *MessageRouter
	Presence  *PresenceRouter
	Multicast *MulticastRouter
	Results   *CorrelationRegistry
	Table     *RoutingTable

	registry *session.Manager
	conf     config.Config
}

// Setup wires the routing core. The registry's removal hook is installed
// here: a removed client session has an unavailable presence mirrored on
// its behalf, its directed presences withdrawn, and its route dropped.
func Setup(d Deps) *Router {
	domain := d.Config.Domain
	if d.Interceptors == nil {
		d.Interceptors = NewInterceptorChain()
	}

	table := NewRoutingTable(domain)
	table.SetRemoteRouter(d.Remote)
	results := NewCorrelationRegistry(d.Config.Routing.ResultTimeout.Duration)
	multicast := NewMulticastRouter(domain)

	iq := NewIQRouter(domain, d.Registry, table, results, d.Interceptors,
		d.Privacy, d.Users, d.BootHandlers)
	iq.multicast = multicast

	msg := NewMessageRouter(domain, d.Registry, table, d.Offline, d.Interceptors,
		adminRecipients(d.Config.Routing, domain, d.Admins), d.Config.Routing.RouteAllResources)
	msg.multicast = multicast

	pr := NewPresenceRouter(domain, d.Registry, table, d.Presence, d.Capabilities)
	table.SetDirectedPresence(pr)
	table.SetFailureHandlers(iq.RoutingFailed, msg.RoutingFailed, pr.RoutingFailed)

	r := &Router{
		IQ:        iq,
		Message:   msg,
		Presence:  pr,
		Multicast: multicast,
		Results:   results,
		Table:     table,
		registry:  d.Registry,
		conf:      d.Config,
	}
	multicast.Bind(iq, results, r)

	d.Registry.OnSessionRemoved(func(s *session.Session) {
		addr := s.Address()
		if s.Available() {
			p := &stanza.Presence{
				Header: stanza.Header{From: addr},
				Type:   stanza.UnavailablePresence,
			}
			r.Presence.Route(p)
		}
		r.Presence.SessionClosed(addr)
		if table.RemoveClientRoute(addr) {
			logger.Debug("route removed for closed session", "address", addr.String())
		}
	})

	return r
}

// Route dispatches a stanza to the router for its kind. Unknown packet
// kinds are dropped.
func (r *Router) Route(p stanza.Packet) {
	switch pkt := p.(type) {
	case *stanza.IQ:
		r.IQ.Route(pkt)
	case *stanza.Message:
		r.Message.Route(pkt)
	case *stanza.Presence:
		r.Presence.Route(pkt)
	default:
		logger.Warn("dropping packet of unknown kind", "to", p.GetTo().String())
	}
}

// Start launches the background sweeps: correlation timeouts and idle
// server sessions.
func (r *Router) Start() {
	r.Results.Start(r.conf.Routing.ResultSweepInterval.Duration)
	r.registry.StartIdleSweep(
		r.conf.Session.ServerIdleTimeout.Duration,
		r.conf.Session.ServerIdleSweepInterval.Duration,
	)
}

// Stop ends the background sweeps.
func (r *Router) Stop() {
	r.Results.Stop()
	r.registry.StopIdleSweep()
}

// adminRecipients resolves the configured admin recipient list. Entries
// may be bare addresses or bare usernames on the local domain; unparsable
// entries are skipped. An empty configuration falls back to the server's
// admin accounts.
func adminRecipients(rc config.RoutingConfig, domain string, admins []jid.JID) []jid.JID {
	entries := rc.AdminRecipientList()
	if len(entries) == 0 {
		return admins
	}
	out := make([]jid.JID, 0, len(entries))
	for _, entry := range entries {
		raw := entry
		if !strings.Contains(raw, "@") {
			raw += "@" + domain
		}
		j, err := jid.Parse(raw)
		if err != nil {
			logger.Warn("skipping unparsable admin recipient", "entry", entry, "error", err)
			continue
		}
		out = append(out, j.Bare())
	}
	return out
}
