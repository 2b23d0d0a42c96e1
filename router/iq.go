// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

import (
	"errors"
	"fmt"
	"sync"

	"github.com/igniterealtime/wildfire/internal/ns"
	"github.com/igniterealtime/wildfire/jid"
	"github.com/igniterealtime/wildfire/logger"
	"github.com/igniterealtime/wildfire/session"
	"github.com/igniterealtime/wildfire/stanza"
)

// IQHandler processes IQ requests addressed to the server itself for one
// payload namespace.
type IQHandler interface {
	// Namespace returns the payload namespace the handler serves.
	Namespace() string

	// HandleIQ processes the request. Returning an error makes the router
	// answer internal-server-error on the handler's behalf.
	HandleIQ(iq *stanza.IQ) error
}

// IQHandlerFunc adapts a function to the IQHandler interface.
type IQHandlerFunc struct {
	NS string
	Fn func(iq *stanza.IQ) error
}

// Namespace implements IQHandler.
func (h IQHandlerFunc) Namespace() string { return h.NS }

// HandleIQ implements IQHandler.
func (h IQHandlerFunc) HandleIQ(iq *stanza.IQ) error { return h.Fn(iq) }

// ErrBootHandler is returned when handler registration collides with a
// handler the server provisioned at boot.
var ErrBootHandler = errors.New("router: handler is provisioned by the server")

// bootstrapNamespaces may be queried on the local server before the
// session authenticates: legacy authentication, in-band registration, and
// resource binding.
func bootstrapNamespace(namespace string) bool {
	switch namespace {
	case ns.Auth, ns.Register, ns.Bind:
		return true
	}
	return false
}

// IQRouter routes IQ stanzas: requests addressed to the server dispatch to
// a namespace handler, answers to server-originated requests resolve
// through the correlation registry, and everything else is delivered
// through the routing table.
type IQRouter struct {
	domain       string
	registry     *session.Manager
	table        *RoutingTable
	results      *CorrelationRegistry
	interceptors *InterceptorChain
	multicast    *MulticastRouter
	privacy      PrivacyManager
	users        UserChecker

	mu          sync.RWMutex
	bootHandler []IQHandler          // provisioned at startup, not removable
	handlers    map[string]IQHandler // namespace → handler, warm cache over bootHandler
}

// NewIQRouter constructs the router. bootHandlers are the handlers the
// server provisions at startup; they cannot be replaced or removed at
// runtime.
func NewIQRouter(
	domain string,
	registry *session.Manager,
	table *RoutingTable,
	results *CorrelationRegistry,
	interceptors *InterceptorChain,
	privacy PrivacyManager,
	users UserChecker,
	bootHandlers []IQHandler,
) *IQRouter {
	return &IQRouter{
		domain:       domain,
		registry:     registry,
		table:        table,
		results:      results,
		interceptors: interceptors,
		privacy:      privacy,
		users:        users,
		bootHandler:  append([]IQHandler(nil), bootHandlers...),
		handlers:     make(map[string]IQHandler),
	}
}

// AddHandler registers a handler for its namespace. Registering over a
// namespace the server provisioned at boot is a configuration error.
func (r *IQRouter) AddHandler(h IQHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, boot := range r.bootHandler {
		if boot.Namespace() == h.Namespace() {
			return fmt.Errorf("%w: %s", ErrBootHandler, h.Namespace())
		}
	}
	r.handlers[h.Namespace()] = h
	return nil
}

// RemoveHandler unregisters a runtime-added handler. Boot-provisioned
// handlers cannot be removed through this entry point.
func (r *IQRouter) RemoveHandler(h IQHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, boot := range r.bootHandler {
		if boot.Namespace() == h.Namespace() {
			return fmt.Errorf("%w: %s", ErrBootHandler, h.Namespace())
		}
	}
	delete(r.handlers, h.Namespace())
	return nil
}

// Supports reports whether a handler serves the namespace.
func (r *IQRouter) Supports(namespace string) bool {
	return r.handler(namespace) != nil
}

// handler resolves a namespace to its handler: a map lookup first, then a
// linear scan over the boot-provisioned handlers with a warm cache insert
// on a hit.
func (r *IQRouter) handler(namespace string) IQHandler {
	r.mu.RLock()
	h := r.handlers[namespace]
	r.mu.RUnlock()
	if h != nil {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h = r.handlers[namespace]; h != nil {
		return h
	}
	for _, candidate := range r.bootHandler {
		if candidate.Namespace() == namespace {
			r.handlers[namespace] = candidate
			return candidate
		}
	}
	return nil
}

// isLocalServer reports whether an address resolves to this server itself:
// no address at all, an address without a domain, or any non-full address
// at the server's own domain. IQs to full addresses are never handled by
// the server.
func (r *IQRouter) isLocalServer(to jid.JID) bool {
	if to.IsZero() || to.Domainpart() == "" {
		return true
	}
	if to.Localpart() == "" || to.Resourcepart() == "" {
		return to.Domainpart() == r.domain
	}
	return false
}

// Route performs the routing of an IQ stanza. It never returns a value;
// the outcome is local processing, delivery, or a synthesized error reply.
// A nil stanza is a programming error and panics.
func (r *IQRouter) Route(iq *stanza.IQ) {
	if iq == nil {
		panic("router: nil iq")
	}
	sender := r.registry.GetSession(iq.GetFrom())

	if err := r.interceptors.Invoke(iq, sender, false); err != nil {
		var rej *Rejection
		if errors.As(err, &rej) {
			r.rejected(iq, sender, rej)
		}
		return
	}

	to := iq.GetTo()
	switch {
	case sender != nil && !to.IsZero() && sender.Status() == session.Connected && to.String() != r.domain:
		// The peer is mid-handshake and asked some other entity to
		// authenticate it.
		logger.Warn("unauthenticated session addressed a foreign entity",
			"from", iq.GetFrom().String(), "to", to.String())
		reply := iq.ErrorReply(stanza.BadRequest)
		reply.SetTo(sender.Address())
		if err := sender.Process(reply); err != nil {
			logger.Debug("reply delivery failed", "error", err)
		}
	case sender == nil || sender.Status() == session.Authenticated ||
		(iq.Payload != nil && r.isLocalServer(to) && bootstrapNamespace(iq.Namespace())):
		r.handle(iq)
	case iq.IsRequest():
		reply := iq.ErrorReply(stanza.NotAuthorized)
		reply.SetTo(sender.Address())
		if err := sender.Process(reply); err != nil {
			logger.Debug("reply delivery failed", "error", err)
		}
	}

	r.interceptors.Invoke(iq, sender, true)
}

// rejected answers an interceptor rejection with a not-allowed error and,
// when the rejection carries a reason, a plain message explaining it.
func (r *IQRouter) rejected(iq *stanza.IQ, sender *session.Session, rej *Rejection) {
	interceptorRejections.WithLabelValues("iq").Inc()
	if sender == nil {
		return
	}
	reply := iq.ErrorReply(stanza.NotAllowed)
	reply.SetTo(sender.Address())
	if err := sender.Process(reply); err != nil {
		logger.Debug("rejection reply delivery failed", "error", err)
		return
	}
	if rej.Reason != "" {
		note := &stanza.Message{
			Header: stanza.Header{To: sender.Address(), From: iq.GetTo()},
			Body:   rej.Reason,
		}
		if err := sender.Process(note); err != nil {
			logger.Debug("rejection notice delivery failed", "error", err)
		}
	}
}

func (r *IQRouter) handle(iq *stanza.IQ) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("iq handling fault", "id", iq.GetID(), "panic", rec)
			if sender := r.registry.GetSession(iq.GetFrom()); sender != nil {
				reply := iq.ErrorReply(stanza.InternalServerError)
				if err := sender.Process(reply); err != nil {
					logger.Debug("fault reply delivery failed", "error", err)
				}
			}
		}
	}()

	to := iq.GetTo()

	// IQs addressed to the server itself, either by its bare domain or by
	// omitting to entirely, that carry extended-addressing instructions
	// belong to the multicast router.
	if iq.MultiAddresses() != nil &&
		(to.IsZero() || (to.Localpart() == "" && to.Resourcepart() == "" && to.Domainpart() == r.domain)) {
		r.multicast.Route(iq)
		return
	}

	// Answers to IQs this server originated resolve through the
	// correlation registry.
	if iq.GetID() != "" && iq.IsResponse() {
		if l := r.results.take(iq.GetID()); l != nil {
			notifyAnswer(l, iq)
			return
		}
	}

	if !to.IsZero() && (r.table.HasComponentRoute(to) || r.table.HasServerRoute(to.Domainpart())) {
		r.table.RoutePacket(to, iq, false)
		return
	}

	if r.isLocalServer(to) {
		r.handleLocally(iq, to)
		return
	}

	// RFC 6121 §8.5.1: a request for a local account that does not exist
	// and has no session is answered with service-unavailable.
	if to.Localpart() != "" && to.Domainpart() == r.domain && iq.IsRequest() &&
		r.users != nil && !r.users.IsRegisteredUser(to) && r.registry.GetSession(to) == nil {
		r.sendErrorPacket(iq, stanza.ServiceUnavailable)
		return
	}

	// XEP-0016: a local sender whose own list would block the reversed
	// stanza gets not-acceptable instead of delivery.
	if sender := r.registry.GetSession(iq.GetFrom()); sender != nil && r.privacy != nil {
		if list := r.privacy.DefaultList(iq.GetFrom().Localpart()); list != nil {
			reversed := iq.Copy()
			reversed.SetFrom(to)
			reversed.SetTo(iq.GetFrom())
			if list.ShouldBlockPacket(reversed) {
				iq.SetTo(sender.Address())
				iq.SetFrom(jid.JID{})
				iq.SetError(stanza.Error{Type: stanza.Modify, Condition: stanza.NotAcceptable})
				if err := sender.Process(iq); err != nil {
					logger.Debug("not-acceptable delivery failed", "error", err)
				}
				return
			}
		}
	}

	r.table.RoutePacket(to, iq, false)
}

// handleLocally dispatches a server-addressed IQ to its namespace handler.
func (r *IQRouter) handleLocally(iq *stanza.IQ, to jid.JID) {
	if iq.Payload == nil {
		if iq.IsRequest() {
			logger.Warn("iq request without payload", "id", iq.GetID(), "from", iq.GetFrom().String())
		}
		return
	}

	// A recipient's default privacy list can forbid communication even
	// through server-handled namespaces.
	if to.Localpart() != "" && r.users != nil && r.users.IsRegisteredUser(to) && r.privacy != nil {
		if list := r.privacy.DefaultList(to.Localpart()); list != nil && list.ShouldBlockPacket(iq) {
			if iq.IsRequest() {
				r.sendErrorPacket(iq, stanza.ServiceUnavailable)
			}
			return
		}
	}

	h := r.handler(iq.Namespace())
	if h == nil {
		switch {
		case to.IsZero() || to.Localpart() == "":
			r.sendErrorPacket(iq, stanza.ServiceUnavailable)
		default:
			r.sendErrorPacket(iq, stanza.FeatureNotImplemented)
		}
		return
	}
	if err := h.HandleIQ(iq); err != nil {
		logger.Error("iq handler failed", "namespace", iq.Namespace(), "error", err)
		r.sendErrorPacket(iq, stanza.InternalServerError)
	}
}

// sendErrorPacket answers the IQ with an error reply. An error is never
// answered with another error, and a reply without a destination is
// dropped.
func (r *IQRouter) sendErrorPacket(iq *stanza.IQ, cond stanza.Condition) {
	if iq.Type == stanza.ErrorIQ {
		logger.Error("refusing to answer an iq error with another error", "id", iq.GetID())
		return
	}
	if iq.GetFrom().IsZero() {
		logger.Debug("iq error reply has no destination; dropped", "id", iq.GetID())
		return
	}
	reply := iq.ErrorReply(cond)
	if iq.GetFrom().String() == r.domain {
		// The server itself sent the original; feed the reply back in.
		r.handle(reply)
		return
	}
	r.table.RoutePacket(reply.GetTo(), reply, true)
}

// RoutingFailed is invoked by the routing table when an IQ found no
// destination. Requests are answered with service-unavailable; answers are
// dropped.
func (r *IQRouter) RoutingFailed(to jid.JID, iq *stanza.IQ) {
	logger.Debug("iq sent to unreachable address", "to", to.String(), "id", iq.GetID())
	if iq.IsRequest() {
		r.sendErrorPacket(iq, stanza.ServiceUnavailable)
	}
}
