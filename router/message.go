// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

import (
	"errors"
	"sort"

	"github.com/igniterealtime/wildfire/jid"
	"github.com/igniterealtime/wildfire/logger"
	"github.com/igniterealtime/wildfire/session"
	"github.com/igniterealtime/wildfire/stanza"
)

// MessageRouter routes message stanzas. Messages to the server's own
// domain are forwarded to the configured admin recipients, messages to a
// bare local address go through resource selection, and everything else is
// delivered through the routing table with the offline strategy as the
// fallback.
type MessageRouter struct {
	domain       string
	registry     *session.Manager
	table        *RoutingTable
	offline      OfflineStrategy
	interceptors *InterceptorChain
	multicast    *MulticastRouter

	// adminRecipients receive messages addressed to the bare server
	// domain. Resolved once at wiring time from configuration, falling
	// back to the server's admin accounts.
	adminRecipients []jid.JID

	// routeAllResources delivers bare-address messages to every
	// highest-priority available resource instead of the single best one.
	routeAllResources bool
}

// NewMessageRouter constructs the router.
func NewMessageRouter(
	domain string,
	registry *session.Manager,
	table *RoutingTable,
	offline OfflineStrategy,
	interceptors *InterceptorChain,
	adminRecipients []jid.JID,
	routeAllResources bool,
) *MessageRouter {
	return &MessageRouter{
		domain:            domain,
		registry:          registry,
		table:             table,
		offline:           offline,
		interceptors:      interceptors,
		adminRecipients:   adminRecipients,
		routeAllResources: routeAllResources,
	}
}

// Route performs the routing of a message stanza. A nil stanza is a
// programming error and panics.
func (r *MessageRouter) Route(m *stanza.Message) {
	if m == nil {
		panic("router: nil message")
	}
	sender := r.registry.GetSession(m.GetFrom())

	if err := r.interceptors.Invoke(m, sender, false); err != nil {
		var rej *Rejection
		if errors.As(err, &rej) {
			r.rejected(m, sender, rej)
		}
		return
	}

	if sender == nil || sender.Status() == session.Authenticated {
		r.routeAuthenticated(m)
	} else {
		// Unauthenticated senders only ever get an authorization error
		// back, never delivery.
		reply := &stanza.Message{
			Header: stanza.Header{ID: m.GetID(), To: sender.Address(), From: m.GetTo()},
		}
		reply.SetError(stanza.Error{Type: stanza.Auth, Condition: stanza.NotAuthorized})
		if err := sender.Process(reply); err != nil {
			logger.Debug("reply delivery failed", "error", err)
		}
	}

	r.interceptors.Invoke(m, sender, true)
}

// rejected answers an interceptor rejection. The message itself never
// carries an error condition; the sender gets a fresh reply echoing id,
// thread and type with the rejection reason as its body.
func (r *MessageRouter) rejected(m *stanza.Message, sender *session.Session, rej *Rejection) {
	interceptorRejections.WithLabelValues("message").Inc()
	if sender == nil || rej.Reason == "" {
		return
	}
	reply := m.Reply()
	reply.SetTo(sender.Address())
	reply.Body = rej.Reason
	if err := sender.Process(reply); err != nil {
		logger.Debug("rejection reply delivery failed", "error", err)
	}
}

func (r *MessageRouter) routeAuthenticated(m *stanza.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("message handling fault; storing offline", "id", m.GetID(), "panic", rec)
			r.storeOffline(m)
		}
	}()

	to := m.GetTo()
	switch {
	case to.IsZero() || (to.Localpart() == "" && to.Resourcepart() == "" && to.Domainpart() == r.domain):
		if m.MultiAddresses() != nil {
			r.multicast.Route(m)
			return
		}
		r.forwardToAdmins(m)
	case to.Domainpart() == r.domain && to.Localpart() != "" && to.Resourcepart() == "":
		r.routeToBareAddress(to, m)
	default:
		r.table.RoutePacket(to, m, false)
	}
}

// forwardToAdmins fans a server-addressed message out to the configured
// admin recipients, looping each copy back through Route. The forwarded
// copies target concrete users, so the recursion is bounded by the list
// size.
func (r *MessageRouter) forwardToAdmins(m *stanza.Message) {
	if len(r.adminRecipients) == 0 {
		logger.Debug("message to server domain with no admin recipients; dropped", "id", m.GetID())
		return
	}
	for _, admin := range r.adminRecipients {
		c := m.Copy().(*stanza.Message)
		c.SetTo(admin)
		r.Route(c)
	}
}

// routeToBareAddress resolves a bare local address to the session that
// should receive the message.
func (r *MessageRouter) routeToBareAddress(to jid.JID, m *stanza.Message) {
	sessions := r.eligibleSessions(to.Localpart())

	if m.Type == stanza.ErrorMessage {
		// An error answering a stanza sent on a bare address has no
		// specific session to land on; it is dropped here rather than
		// stored.
		logger.Debug("error message to bare address discarded", "to", to.String())
		return
	}

	switch len(sessions) {
	case 0:
		r.storeOffline(m)
	case 1:
		r.deliver(sessions[0], m)
	default:
		targets := highestPriority(sessions)
		if r.routeAllResources {
			for _, s := range targets {
				c := m.Copy()
				c.SetTo(s.Address())
				r.deliver(s, c.(*stanza.Message))
			}
			return
		}
		r.deliver(selectBest(targets), m)
	}
}

// eligibleSessions snapshots the user's sessions that advertised an
// available presence with a non-negative priority.
func (r *MessageRouter) eligibleSessions(username string) []*session.Session {
	var out []*session.Session
	for _, s := range r.registry.Sessions(username) {
		if s.Available() && s.Priority() >= 0 {
			out = append(out, s)
		}
	}
	return out
}

// highestPriority narrows a non-empty session list to the subset sharing
// the numerically highest presence priority.
func highestPriority(sessions []*session.Session) []*session.Session {
	best := sessions[0].Priority()
	for _, s := range sessions[1:] {
		if p := s.Priority(); p > best {
			best = p
		}
	}
	var out []*session.Session
	for _, s := range sessions {
		if s.Priority() == best {
			out = append(out, s)
		}
	}
	return out
}

// selectBest picks the delivery target among sessions of equal priority:
// the subset with the lowest show rank (most available wins), then the
// most recent activity within it.
func selectBest(sessions []*session.Session) *session.Session {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].Show().Rank() < sessions[j].Show().Rank()
	})
	bestRank := sessions[0].Show().Rank()
	best := sessions[0]
	for _, s := range sessions[1:] {
		if s.Show().Rank() != bestRank {
			break
		}
		if s.LastActive().After(best.LastActive()) {
			best = s
		}
	}
	return best
}

// deliver hands the message to a resolved session, falling back to the
// offline strategy on failure.
func (r *MessageRouter) deliver(s *session.Session, m *stanza.Message) {
	if err := s.Process(m); err != nil {
		logger.Debug("message delivery failed; storing offline",
			"to", s.Address().String(), "error", err)
		r.storeOffline(m)
	}
}

func (r *MessageRouter) storeOffline(m *stanza.Message) {
	if r.offline == nil {
		logger.Debug("no offline strategy; message dropped", "id", m.GetID())
		return
	}
	messagesStoredOffline.Inc()
	r.offline.StoreOffline(m)
}

// RoutingFailed is invoked by the routing table when a message found no
// destination; the message goes to the offline strategy.
func (r *MessageRouter) RoutingFailed(to jid.JID, m *stanza.Message) {
	logger.Debug("message sent to unreachable address", "to", to.String())
	r.storeOffline(m)
}
