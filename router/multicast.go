// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

import (
	"encoding/xml"
	"sync"
	"time"

	"github.com/igniterealtime/wildfire/internal/ns"
	"github.com/igniterealtime/wildfire/jid"
	"github.com/igniterealtime/wildfire/logger"
	"github.com/igniterealtime/wildfire/stanza"
)

// discoveryMaxDepth bounds the multicast capability search: the remote
// domain root and its immediate child items. Real deployments host their
// multicast service at most one level down, so deeper descent buys nothing
// for its cost.
const discoveryMaxDepth = 2

// discoveryCacheTTL is how long a discovery verdict for a remote domain is
// trusted before it is probed again.
const discoveryCacheTTL = 24 * time.Hour

// Dispatcher feeds a stanza back into the routing pipeline, dispatching by
// stanza kind.
type Dispatcher interface {
	Route(p stanza.Packet)
}

type discoveryVerdict struct {
	// service is the address of the domain's multicast service; empty
	// means the domain has none and copies must fan out per recipient.
	service string
	at      time.Time
}

// domainState is the bookkeeping for one remote domain while its multicast
// capability is being discovered.
type domainState struct {
	mu sync.Mutex

	// queued packets await the discovery verdict.
	queued []stanza.Packet

	// searching is set while disco queries are in flight.
	searching bool

	// children are the child items still being probed after a negative
	// answer at the domain root.
	children map[string]struct{}
}

// MulticastRouter fans stanzas carrying extended-addressing payloads out
// to their recipients. Remote domains are probed once for a multicast
// service (XEP-0033 via XEP-0030 discovery) so that a multicast-aware peer
// receives a single relayed copy instead of one per recipient.
type MulticastRouter struct {
	domain   string
	iq       *IQRouter
	results  *CorrelationRegistry
	dispatch Dispatcher
	cacheTTL time.Duration

	mu      sync.Mutex
	cache   map[string]discoveryVerdict
	domains map[string]*domainState
}

// NewMulticastRouter constructs the router. Bind must be called before any
// packet is routed.
func NewMulticastRouter(domain string) *MulticastRouter {
	return &MulticastRouter{
		domain:   domain,
		cacheTTL: discoveryCacheTTL,
		cache:    make(map[string]discoveryVerdict),
		domains:  make(map[string]*domainState),
	}
}

// Bind wires the collaborators the router needs at runtime. It exists
// separately from the constructor because the IQ router and this router
// reference each other.
func (r *MulticastRouter) Bind(iq *IQRouter, results *CorrelationRegistry, dispatch Dispatcher) {
	r.iq = iq
	r.results = results
	r.dispatch = dispatch
}

// Route fans the packet out per its extended-addressing payload. Entries
// already marked delivered are skipped, so repeated hops through multicast
// servers never deliver twice. Blind-copy entries are stripped from every
// copy that leaves this router.
func (r *MulticastRouter) Route(p stanza.Packet) {
	addrs := p.MultiAddresses()
	if addrs == nil {
		return
	}

	var local []jid.JID
	remote := make(map[string]struct{})
	for _, a := range addrs.Pending() {
		if a.JID.Domainpart() == r.domain {
			local = append(local, a.JID)
		} else {
			remote[a.JID.Domainpart()] = struct{}{}
		}
	}

	// Local copies carry the full (bcc-stripped) list with every entry
	// marked delivered, so a copy looping back in is a no-op.
	if len(local) > 0 {
		served := addrs.WithoutBCC()
		served.MarkAllDelivered()
		for _, target := range local {
			c := p.Copy()
			c.SetTo(target)
			c.SetMultiAddresses(served.Copy())
			r.dispatch.Route(c)
			multicastDeliveries.WithLabelValues("local").Inc()
		}
	}

	for domain := range remote {
		r.sendToRemote(domain, p)
	}

	// The original is now fully served from this hop's point of view.
	addrs.MarkAllDelivered()
}

// sendToRemote delivers the packet's copy for one foreign domain, probing
// the domain for a multicast service first if its capability is unknown.
// Concurrent first packets to the same domain serialize on the domain
// state so only one discovery runs. The query itself is issued after the
// state lock is released: a query that fails synchronously loops its
// error answer straight back into this router, which must be free to take
// the lock again.
func (r *MulticastRouter) sendToRemote(domain string, p stanza.Packet) {
	state := r.domainState(domain)

	state.mu.Lock()
	if verdict, ok := r.verdict(domain); ok {
		state.mu.Unlock()
		r.deliver(domain, verdict, p)
		return
	}
	state.queued = append(state.queued, p.Copy())
	launch := !state.searching
	state.searching = true
	state.mu.Unlock()

	if launch {
		r.queryInfo(domain, domain, "")
	}
}

func (r *MulticastRouter) domainState(domain string) *domainState {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.domains[domain]
	if state == nil {
		state = &domainState{}
		r.domains[domain] = state
	}
	return state
}

// verdict returns the cached discovery outcome for a domain if it is still
// fresh.
func (r *MulticastRouter) verdict(domain string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.cache[domain]
	if !ok {
		return "", false
	}
	if time.Since(v.at) > r.cacheTTL {
		delete(r.cache, domain)
		return "", false
	}
	return v.service, true
}

// queryInfo issues a disco#info query to target on behalf of domain's
// search. Callers must not hold the domain state lock: the answer can
// arrive synchronously when routing the query fails.
func (r *MulticastRouter) queryInfo(domain, target, child string) {
	iq := stanza.NewIQ(stanza.GetIQ, jid.Unsafe("", r.domain, ""), jid.Unsafe("", target, ""))
	iq.Payload = &stanza.Payload{XMLName: xml.Name{Space: ns.DiscoInfo, Local: "query"}}
	r.results.AddListener(iq.GetID(), &discoListener{router: r, domain: domain, child: child, items: false})
	r.iq.Route(iq)
}

// queryItems issues a disco#items query to the domain root. Callers must
// not hold the domain state lock.
func (r *MulticastRouter) queryItems(domain string) {
	iq := stanza.NewIQ(stanza.GetIQ, jid.Unsafe("", r.domain, ""), jid.Unsafe("", domain, ""))
	iq.Payload = &stanza.Payload{XMLName: xml.Name{Space: ns.DiscoItems, Local: "query"}}
	r.results.AddListener(iq.GetID(), &discoListener{router: r, domain: domain, items: true})
	r.iq.Route(iq)
}

// discoListener correlates one discovery answer back to the domain search
// it belongs to.
type discoListener struct {
	router *MulticastRouter
	domain string
	child  string // non-empty when this query probes a child item
	items  bool   // disco#items rather than disco#info
}

// ReceivedAnswer implements ResultListener.
func (l *discoListener) ReceivedAnswer(iq *stanza.IQ) {
	if l.items {
		l.router.itemsAnswer(l.domain, iq)
		return
	}
	l.router.infoAnswer(l.domain, l.child, iq)
}

// AnswerTimeout implements ResultListener. A peer that never answers is
// treated the same as one that answered negatively.
func (l *discoListener) AnswerTimeout(id string) {
	logger.Debug("multicast discovery timed out", "domain", l.domain, "child", l.child)
	if l.items {
		l.router.itemsAnswer(l.domain, nil)
		return
	}
	l.router.infoAnswer(l.domain, l.child, nil)
}

// infoAnswer handles a disco#info answer (nil on timeout) for a domain
// root or one of its children.
func (r *MulticastRouter) infoAnswer(domain, child string, iq *stanza.IQ) {
	if _, ok := r.verdict(domain); ok {
		// Another answer already settled this domain.
		return
	}
	state := r.domainState(domain)

	if iq != nil && iq.Type == stanza.ResultIQ && hasMulticastFeature(iq) {
		service := iq.GetFrom().String()
		if service == "" {
			service = domain
			if child != "" {
				service = child
			}
		}
		r.settle(domain, state, service)
		return
	}

	if child == "" {
		// Negative at the root without an outright error escalates to the
		// second level of the search.
		if iq != nil && iq.Type != stanza.ErrorIQ {
			r.queryItems(domain)
			return
		}
		r.settle(domain, state, "")
		return
	}

	state.mu.Lock()
	delete(state.children, child)
	done := len(state.children) == 0
	state.mu.Unlock()
	if done {
		r.settle(domain, state, "")
	}
}

// itemsAnswer handles a disco#items answer (nil on timeout) for a domain
// root.
func (r *MulticastRouter) itemsAnswer(domain string, iq *stanza.IQ) {
	if _, ok := r.verdict(domain); ok {
		return
	}
	state := r.domainState(domain)

	items := parseItems(iq)
	if iq == nil || iq.Type == stanza.ErrorIQ || len(items) == 0 {
		r.settle(domain, state, "")
		return
	}

	// The full child set is recorded before any child query goes out, so
	// a child answer arriving synchronously sees every sibling.
	state.mu.Lock()
	state.children = make(map[string]struct{}, len(items))
	for _, item := range items {
		state.children[item] = struct{}{}
	}
	state.mu.Unlock()

	for _, item := range items {
		r.queryInfo(domain, item, item)
	}
}

// settle records the discovery verdict and flushes the domain's queue.
// The queue is detached under the state lock and delivered after it is
// released; delivery feeds copies back through the stanza routers.
func (r *MulticastRouter) settle(domain string, state *domainState, service string) {
	r.mu.Lock()
	r.cache[domain] = discoveryVerdict{service: service, at: time.Now()}
	r.mu.Unlock()

	if service == "" {
		multicastDiscoveries.WithLabelValues("unsupported").Inc()
	} else {
		multicastDiscoveries.WithLabelValues("supported").Inc()
	}

	state.mu.Lock()
	queued := state.queued
	state.queued = nil
	state.searching = false
	state.children = nil
	state.mu.Unlock()

	for _, p := range queued {
		r.deliver(domain, service, p)
	}
}

// deliver sends the copy for one domain: a single relay to the domain's
// multicast service when it has one, a per-recipient fan-out otherwise.
func (r *MulticastRouter) deliver(domain, service string, p stanza.Packet) {
	addrs := p.MultiAddresses()
	if addrs == nil {
		return
	}

	if service != "" {
		c := p.Copy()
		c.SetTo(jid.MustParse(service))
		c.SetMultiAddresses(addressesForRelay(addrs, domain))
		r.dispatch.Route(c)
		multicastDeliveries.WithLabelValues("relay").Inc()
		return
	}

	served := addrs.WithoutBCC()
	served.MarkAllDelivered()
	for _, a := range addrs.List {
		if !a.IsRecipient() || a.Delivered || a.JID.Domainpart() != domain {
			continue
		}
		c := p.Copy()
		c.SetTo(a.JID)
		c.SetMultiAddresses(served.Copy())
		r.dispatch.Route(c)
		multicastDeliveries.WithLabelValues("fanout").Inc()
	}
}

// addressesForRelay builds the payload for the single copy relayed to a
// domain's multicast service: that domain's entries stay live, everything
// else is marked delivered, and foreign blind copies never leave.
func addressesForRelay(addrs *stanza.Addresses, domain string) *stanza.Addresses {
	out := &stanza.Addresses{}
	for _, a := range addrs.List {
		if a.Type == stanza.BCCAddress && a.JID.Domainpart() != domain {
			continue
		}
		if a.IsRecipient() && a.JID.Domainpart() != domain {
			a.Delivered = true
		}
		out.List = append(out.List, a)
	}
	return out
}

func hasMulticastFeature(iq *stanza.IQ) bool {
	if iq.Payload == nil || iq.Payload.XMLName.Space != ns.DiscoInfo {
		return false
	}
	var q stanza.InfoQuery
	if err := iq.Payload.Decode(&q); err != nil {
		logger.Debug("malformed disco#info answer", "error", err)
		return false
	}
	return q.HasFeature(ns.Address)
}

func parseItems(iq *stanza.IQ) []string {
	if iq == nil || iq.Payload == nil || iq.Payload.XMLName.Space != ns.DiscoItems {
		return nil
	}
	var q stanza.ItemsQuery
	if err := iq.Payload.Decode(&q); err != nil {
		logger.Debug("malformed disco#items answer", "error", err)
		return nil
	}
	out := make([]string, 0, len(q.Items))
	for _, item := range q.Items {
		if !item.JID.IsZero() {
			out = append(out, item.JID.String())
		}
	}
	return out
}
