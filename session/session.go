// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package session tracks every connection the server owns: client sessions
// in all their authentication states, component sessions, server-to-server
// sessions in both directions, and connection-multiplexer sessions.
//
// The Manager is the registry the stanza routers consult for authorization
// state and resource selection. It exclusively owns the canonical Session
// values; the routing table only holds references to them.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/igniterealtime/wildfire/jid"
	"github.com/igniterealtime/wildfire/stanza"
)

// Status is the lifecycle state of a session. Transitions are monotonic:
// Connecting → Connected → Authenticated → Closed, with no way back.
type Status int32

const (
	// Connecting covers the initial handshake before the stream is
	// established.
	Connecting Status = iota

	// Connected means the stream is up but the peer has not authenticated.
	Connected

	// Authenticated means the peer proved who it is; the session becomes
	// routable.
	Authenticated

	// Closed means the underlying connection has been or is being torn
	// down.
	Closed
)

// String returns a printable form of the status.
func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Authenticated:
		return "authenticated"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Kind is the closed set of session variants.
type Kind int

const (
	// Client is a session for a locally connected client, named or
	// anonymous.
	Client Kind = iota

	// Component is a session for an internal or external server component.
	Component

	// IncomingServer is a receive-only session opened by a remote server.
	IncomingServer

	// OutgoingServer is a send-only session this server opened toward a
	// remote one.
	OutgoingServer

	// Multiplexer represents a connection manager pooling many
	// remote-hosted client connections over one stream.
	Multiplexer
)

// String returns a printable form of the kind.
func (k Kind) String() string {
	switch k {
	case Client:
		return "client"
	case Component:
		return "component"
	case IncomingServer:
		return "incoming-server"
	case OutgoingServer:
		return "outgoing-server"
	case Multiplexer:
		return "multiplexer"
	default:
		return "unknown"
	}
}

// Connection is the transport handle behind a session. The connection layer
// implements it; this package never touches sockets itself.
type Connection interface {
	// Deliver serializes and transmits a stanza on the connection.
	Deliver(p stanza.Packet) error

	// Close tears the transport down.
	Close() error
}

// ErrClosed is returned when a stanza is handed to a session that has
// already been closed.
var ErrClosed = errors.New("session: session is closed")

// ErrReceiveOnly is returned when a stanza is handed to an incoming server
// session, which can only read.
var ErrReceiveOnly = errors.New("session: session is receive-only")

// ErrStatusRegression is returned by SetStatus for a backwards transition.
var ErrStatusRegression = errors.New("session: status may not move backwards")

type closeListener struct {
	fn    func(token any)
	token any
}

// Session represents one logical connection. The zero value is not usable;
// construct sessions with New.
type Session struct {
	kind     Kind
	streamID string
	conn     Connection
	created  time.Time

	mu         sync.Mutex
	addr       jid.JID
	status     Status
	lastActive time.Time
	presence   *stanza.Presence
	anonymous  bool
	listeners  []closeListener
	closed     bool
}

// New constructs a session of the given kind over conn. A fresh stream
// identifier is assigned; the address is bound later, once known.
func New(kind Kind, conn Connection) *Session {
	now := time.Now()
	return &Session{
		kind:       kind,
		streamID:   uuid.NewString(),
		conn:       conn,
		created:    now,
		lastActive: now,
		status:     Connecting,
	}
}

// Kind returns the session variant.
func (s *Session) Kind() Kind { return s.kind }

// StreamID returns the stream identifier assigned at construction.
func (s *Session) StreamID() string { return s.streamID }

// Created returns the session creation timestamp.
func (s *Session) Created() time.Time { return s.created }

// Address returns the session's address; the zero JID before binding.
func (s *Session) Address() jid.JID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// SetAddress binds the session to an address.
func (s *Session) SetAddress(j jid.JID) {
	s.mu.Lock()
	s.addr = j
	s.mu.Unlock()
}

// Status returns the session's current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus advances the lifecycle state. Moving backwards is a contract
// violation and is refused.
func (s *Session) SetStatus(st Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st < s.status {
		return ErrStatusRegression
	}
	s.status = st
	return nil
}

// Anonymous reports whether this is an anonymous client session.
func (s *Session) Anonymous() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anonymous
}

// SetAnonymous marks the client session anonymous.
func (s *Session) SetAnonymous(v bool) {
	s.mu.Lock()
	s.anonymous = v
	s.mu.Unlock()
}

// LastActive returns the timestamp of the last activity observed on the
// session.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Touch records activity on the session.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// Presence returns the session's last-known presence, or nil if it never
// advertised one.
func (s *Session) Presence() *stanza.Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence
}

// SetPresence records the session's last-known presence.
func (s *Session) SetPresence(p *stanza.Presence) {
	s.mu.Lock()
	s.presence = p
	s.mu.Unlock()
}

// Priority returns the session's presence priority; 0 when no presence has
// been advertised yet.
func (s *Session) Priority() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.presence == nil {
		return 0
	}
	return int(s.presence.Priority)
}

// Show returns the session's availability sub-state.
func (s *Session) Show() stanza.Show {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.presence == nil {
		return stanza.ShowNone
	}
	return s.presence.Show
}

// Available reports whether the session's last-known presence advertises
// availability.
func (s *Session) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence != nil && s.presence.IsAvailable()
}

// Process hands a stanza to the session for serialization and transmission.
func (s *Session) Process(p stanza.Packet) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.kind == IncomingServer {
		s.mu.Unlock()
		return ErrReceiveOnly
	}
	conn := s.conn
	s.lastActive = time.Now()
	s.mu.Unlock()
	return conn.Deliver(p)
}

// OnClose registers fn to run exactly once when the session closes,
// receiving the opaque token. A listener registered after the session
// closed runs immediately.
func (s *Session) OnClose(fn func(token any), token any) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn(token)
		return
	}
	s.listeners = append(s.listeners, closeListener{fn: fn, token: token})
	s.mu.Unlock()
}

// Close marks the session closed, closes the underlying connection, and
// fires the close listeners. It is safe to call more than once; listeners
// fire exactly once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.status = Closed
	listeners := s.listeners
	s.listeners = nil
	conn := s.conn
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	for _, l := range listeners {
		l.fn(l.token)
	}
	return err
}
