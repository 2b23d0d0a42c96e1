// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package router directs stanzas between connected entities: local client
// sessions, components, and remote servers. It owns the routing table, the
// four stanza routers, and the correlation registry used for asynchronous
// request/response flows.
//
// Routing is "quick": a call to a router's Route method never blocks for an
// unbounded time. Operations that require a remote round trip (multicast
// capability discovery) run asynchronously and feed their outcome back
// through the correlation registry.
//
// Routers never let a fault escape Route. Every failure degrades to a
// deterministic outcome: an error reply, a silent drop, offline storage, or
// normal delivery.
package router

import (
	"fmt"
	"sync"

	"github.com/igniterealtime/wildfire/jid"
	"github.com/igniterealtime/wildfire/session"
	"github.com/igniterealtime/wildfire/stanza"
)

// OfflineStrategy decides what happens to a message that could not be
// delivered to any session. Bounce-versus-store policy lives behind it.
type OfflineStrategy interface {
	StoreOffline(m *stanza.Message)
}

// PrivacyList is a user's active privacy list.
type PrivacyList interface {
	ShouldBlockPacket(p stanza.Packet) bool
}

// PrivacyManager resolves a user's default privacy list. A nil list means
// the user has none.
type PrivacyManager interface {
	DefaultList(username string) PrivacyList
}

// UserChecker answers whether a local account exists for an address.
type UserChecker interface {
	IsRegisteredUser(j jid.JID) bool
}

// PresenceHandler is the presence subsystem behind the presence router:
// broadcast of availability updates, probe answering, and subscription
// state management.
type PresenceHandler interface {
	HandleUpdate(p *stanza.Presence)
	HandleProbe(p *stanza.Presence)
	HandleSubscription(p *stanza.Presence)
}

// CapabilityDiscovery observes presences on behalf of the entity
// capabilities subsystem. It is a side channel: observing a presence never
// affects how it is routed.
type CapabilityDiscovery interface {
	Observe(p *stanza.Presence)
}

// Rejection is returned by an interceptor to refuse a stanza. Reason, when
// set, is sent back to the sender as a plain message explaining the
// refusal.
type Rejection struct {
	Reason string
}

// Error implements error.
func (r *Rejection) Error() string {
	if r.Reason == "" {
		return "router: stanza rejected by interceptor"
	}
	return fmt.Sprintf("router: stanza rejected: %s", r.Reason)
}

// Interceptor inspects a stanza on its way through a router. It runs twice
// per stanza: once before routing (processed false) and once after
// (processed true). Returning a *Rejection from the before pass stops the
// stanza; errors from the after pass are ignored.
type Interceptor func(p stanza.Packet, s *session.Session, processed bool) error

// InterceptorChain is an ordered, concurrency-safe list of interceptors
// shared by the IQ and message routers.
type InterceptorChain struct {
	mu    sync.RWMutex
	names []string
	fns   []Interceptor
}

// NewInterceptorChain returns an empty chain.
func NewInterceptorChain() *InterceptorChain {
	return &InterceptorChain{}
}

// Add appends an interceptor under a name. Adding a name twice replaces the
// earlier registration in place.
func (c *InterceptorChain) Add(name string, fn Interceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.names {
		if n == name {
			c.fns[i] = fn
			return
		}
	}
	c.names = append(c.names, name)
	c.fns = append(c.fns, fn)
}

// Remove drops the interceptor registered under name, if any.
func (c *InterceptorChain) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.names {
		if n == name {
			c.names = append(c.names[:i], c.names[i+1:]...)
			c.fns = append(c.fns[:i], c.fns[i+1:]...)
			return
		}
	}
}

// Invoke runs the chain in registration order. On the before pass the first
// non-nil error stops the chain and is returned; on the after pass all
// interceptors run and errors are discarded.
func (c *InterceptorChain) Invoke(p stanza.Packet, s *session.Session, processed bool) error {
	c.mu.RLock()
	fns := make([]Interceptor, len(c.fns))
	copy(fns, c.fns)
	c.mu.RUnlock()

	for _, fn := range fns {
		if err := fn(p, s, processed); err != nil && !processed {
			return err
		}
	}
	return nil
}
