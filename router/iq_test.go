// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

import (
	"encoding/xml"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igniterealtime/wildfire/internal/ns"
	"github.com/igniterealtime/wildfire/jid"
	"github.com/igniterealtime/wildfire/session"
	"github.com/igniterealtime/wildfire/stanza"
)

const rosterNS = "jabber:iq:roster"

// newIQ builds an IQ carrying a query payload in the given namespace.
// Empty from or to addresses stay unset.
func newIQ(typ stanza.IQType, from, to, namespace string) *stanza.IQ {
	iq := &stanza.IQ{Header: stanza.Header{ID: stanza.NewID()}, Type: typ}
	if from != "" {
		iq.SetFrom(jid.MustParse(from))
	}
	if to != "" {
		iq.SetTo(jid.MustParse(to))
	}
	if namespace != "" {
		iq.Payload = &stanza.Payload{XMLName: xml.Name{Space: namespace, Local: "query"}}
	}
	return iq
}

func errorCondition(t *testing.T, p stanza.Packet) stanza.Condition {
	t.Helper()
	switch pkt := p.(type) {
	case *stanza.IQ:
		require.NotNil(t, pkt.Error)
		return pkt.Error.Condition
	case *stanza.Message:
		require.NotNil(t, pkt.Error)
		return pkt.Error.Condition
	case *stanza.Presence:
		require.NotNil(t, pkt.Error)
		return pkt.Error.Condition
	}
	t.Fatalf("unexpected packet type %T", p)
	return ""
}

func TestIQUnauthenticatedRequestGetsNotAuthorized(t *testing.T) {
	env := newTestEnv(t)
	s, conn := env.addConnectedClient(t)

	iq := newIQ(stanza.GetIQ, s.Address().String(), "", rosterNS)
	env.router.IQ.Route(iq)

	require.Equal(t, 1, conn.count())
	reply := conn.last().(*stanza.IQ)
	assert.Equal(t, stanza.ErrorIQ, reply.Type)
	assert.Equal(t, stanza.NotAuthorized, errorCondition(t, reply))
	assert.Equal(t, iq.GetID(), reply.GetID())
}

func TestIQUnauthenticatedBootstrapNamespaceReachesHandler(t *testing.T) {
	var handled *stanza.IQ
	env := newTestEnv(t, func(d *Deps) {
		d.BootHandlers = []IQHandler{IQHandlerFunc{NS: ns.Auth, Fn: func(iq *stanza.IQ) error {
			handled = iq
			return nil
		}}}
	})
	s, conn := env.addConnectedClient(t)

	iq := newIQ(stanza.GetIQ, s.Address().String(), "", ns.Auth)
	env.router.IQ.Route(iq)

	require.NotNil(t, handled)
	assert.Same(t, iq, handled)
	assert.Equal(t, 0, conn.count())
}

func TestIQUnauthenticatedForeignTargetGetsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	s, conn := env.addConnectedClient(t)

	iq := newIQ(stanza.GetIQ, s.Address().String(), "someone@far.example.net", ns.Auth)
	env.router.IQ.Route(iq)

	require.Equal(t, 1, conn.count())
	assert.Equal(t, stanza.BadRequest, errorCondition(t, conn.last()))
}

func TestIQUnhandledNamespaceConditionDependsOnTarget(t *testing.T) {
	env := newTestEnv(t)
	_, aliceConn := env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	env.users["bob"] = true

	// Addressed to the bare server domain: the service itself is absent.
	env.router.IQ.Route(newIQ(stanza.GetIQ, "alice@example.com/desk", testDomain, "urn:example:unknown"))
	require.Equal(t, 1, aliceConn.count())
	assert.Equal(t, stanza.ServiceUnavailable, errorCondition(t, aliceConn.last()))

	// Addressed to a bare local user: the account exists, the feature does
	// not.
	env.router.IQ.Route(newIQ(stanza.GetIQ, "alice@example.com/desk", "bob@example.com", "urn:example:unknown"))
	require.Equal(t, 2, aliceConn.count())
	assert.Equal(t, stanza.FeatureNotImplemented, errorCondition(t, aliceConn.last()))
}

func TestIQHandlerDispatchTakesPrecedenceOverMiss(t *testing.T) {
	env := newTestEnv(t)
	var handled *stanza.IQ
	require.NoError(t, env.router.IQ.AddHandler(IQHandlerFunc{NS: rosterNS, Fn: func(iq *stanza.IQ) error {
		handled = iq
		return nil
	}}))
	_, aliceConn := env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	env.users["bob"] = true

	iq := newIQ(stanza.GetIQ, "alice@example.com/desk", "bob@example.com", rosterNS)
	env.router.IQ.Route(iq)

	assert.Same(t, iq, handled)
	assert.Equal(t, 0, aliceConn.count())
}

func TestIQHandlerErrorIsAnsweredWithInternalServerError(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.router.IQ.AddHandler(IQHandlerFunc{NS: rosterNS, Fn: func(*stanza.IQ) error {
		return errors.New("storage offline")
	}}))
	_, aliceConn := env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)

	env.router.IQ.Route(newIQ(stanza.GetIQ, "alice@example.com/desk", testDomain, rosterNS))

	require.Equal(t, 1, aliceConn.count())
	assert.Equal(t, stanza.InternalServerError, errorCondition(t, aliceConn.last()))
}

func TestIQHandlerPanicIsAnsweredWithInternalServerError(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.router.IQ.AddHandler(IQHandlerFunc{NS: rosterNS, Fn: func(*stanza.IQ) error {
		panic("roster storage fault")
	}}))
	_, aliceConn := env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)

	assert.NotPanics(t, func() {
		env.router.IQ.Route(newIQ(stanza.GetIQ, "alice@example.com/desk", testDomain, rosterNS))
	})
	require.Equal(t, 1, aliceConn.count())
	assert.Equal(t, stanza.InternalServerError, errorCondition(t, aliceConn.last()))
}

func TestIQBootHandlersCannotBeReplacedOrRemoved(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.BootHandlers = []IQHandler{IQHandlerFunc{NS: ns.Auth, Fn: func(*stanza.IQ) error { return nil }}}
	})

	override := IQHandlerFunc{NS: ns.Auth, Fn: func(*stanza.IQ) error { return nil }}
	assert.ErrorIs(t, env.router.IQ.AddHandler(override), ErrBootHandler)
	assert.ErrorIs(t, env.router.IQ.RemoveHandler(override), ErrBootHandler)

	assert.True(t, env.router.IQ.Supports(ns.Auth))
	assert.False(t, env.router.IQ.Supports("urn:example:unknown"))

	// Runtime handlers come and go freely.
	h := IQHandlerFunc{NS: rosterNS, Fn: func(*stanza.IQ) error { return nil }}
	require.NoError(t, env.router.IQ.AddHandler(h))
	assert.True(t, env.router.IQ.Supports(rosterNS))
	require.NoError(t, env.router.IQ.RemoveHandler(h))
	assert.False(t, env.router.IQ.Supports(rosterNS))
}

func TestIQAnswerResolvesCorrelationExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	l := &recordingListener{}
	env.router.Results.AddListener("ping-1", l)

	answer := newIQ(stanza.ResultIQ, "alice@example.com/desk", testDomain, "")
	answer.ID = "ping-1"
	env.router.IQ.Route(answer)
	env.router.IQ.Route(answer)

	answers, timeouts := l.counts()
	assert.Equal(t, 1, answers)
	assert.Equal(t, 0, timeouts)
	assert.Equal(t, 0, env.router.Results.Pending())
}

func TestIQErrorIsNeverAnsweredWithAnError(t *testing.T) {
	env := newTestEnv(t)
	_, aliceConn := env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)

	// An error addressed to an unhandled server namespace is dropped, not
	// bounced.
	fault := newIQ(stanza.ErrorIQ, "alice@example.com/desk", testDomain, "urn:example:unknown")
	fault.Error = &stanza.Error{Type: stanza.Cancel, Condition: stanza.ServiceUnavailable}
	env.router.IQ.Route(fault)
	assert.Equal(t, 0, aliceConn.count())

	// Same for an error whose destination is unreachable.
	lost := newIQ(stanza.ErrorIQ, "alice@example.com/desk", "ghost@example.com/void", "urn:example:unknown")
	lost.Error = &stanza.Error{Type: stanza.Cancel, Condition: stanza.ServiceUnavailable}
	env.router.IQ.Route(lost)
	assert.Equal(t, 0, aliceConn.count())
}

func TestIQReplyWithoutDestinationIsDropped(t *testing.T) {
	env := newTestEnv(t)

	assert.NotPanics(t, func() {
		env.router.IQ.Route(newIQ(stanza.GetIQ, "", testDomain, "urn:example:unknown"))
	})
}

func TestIQNoSuchUserGetsServiceUnavailable(t *testing.T) {
	env := newTestEnv(t)
	_, aliceConn := env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)

	env.router.IQ.Route(newIQ(stanza.GetIQ, "alice@example.com/desk", "ghost@example.com/desk", rosterNS))

	require.Equal(t, 1, aliceConn.count())
	assert.Equal(t, stanza.ServiceUnavailable, errorCondition(t, aliceConn.last()))
}

func TestIQRecipientPrivacyListBlocksServerHandledRequest(t *testing.T) {
	env := newTestEnv(t)
	_, aliceConn := env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	env.addClient(t, "bob@example.com/desk", 1, stanza.ShowNone)
	env.privacy.lists["bob"] = &blockList{block: func(p stanza.Packet) bool {
		return p.GetFrom().Bare().String() == "alice@example.com"
	}}

	env.router.IQ.Route(newIQ(stanza.GetIQ, "alice@example.com/desk", "bob@example.com", rosterNS))

	require.Equal(t, 1, aliceConn.count())
	assert.Equal(t, stanza.ServiceUnavailable, errorCondition(t, aliceConn.last()))
}

func TestIQSenderPrivacyListYieldsNotAcceptable(t *testing.T) {
	env := newTestEnv(t)
	_, aliceConn := env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	_, bobConn := env.addClient(t, "bob@example.com/desk", 1, stanza.ShowNone)
	env.privacy.lists["alice"] = &blockList{block: func(stanza.Packet) bool { return true }}

	env.router.IQ.Route(newIQ(stanza.GetIQ, "alice@example.com/desk", "bob@example.com/desk", rosterNS))

	assert.Equal(t, 0, bobConn.count())
	require.Equal(t, 1, aliceConn.count())
	bounced := aliceConn.last().(*stanza.IQ)
	assert.Equal(t, stanza.NotAcceptable, errorCondition(t, bounced))
	assert.True(t, bounced.GetFrom().IsZero())
	assert.Equal(t, "alice@example.com/desk", bounced.GetTo().String())
}

func TestIQDeliveryToFullLocalAddress(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	_, bobConn := env.addClient(t, "bob@example.com/desk", 1, stanza.ShowNone)

	iq := newIQ(stanza.GetIQ, "alice@example.com/desk", "bob@example.com/desk", rosterNS)
	env.router.IQ.Route(iq)

	require.Equal(t, 1, bobConn.count())
	assert.Same(t, stanza.Packet(iq), bobConn.last())
}

func TestIQExtendedAddressingDelegatesToMulticast(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	_, bobConn := env.addClient(t, "bob@example.com/desk", 1, stanza.ShowNone)

	// Both the bare server domain and an absent to address the server
	// itself; either form hands the fan-out to the multicast router.
	for _, to := range []string{testDomain, ""} {
		iq := newIQ(stanza.SetIQ, "alice@example.com/desk", to, rosterNS)
		iq.SetMultiAddresses(&stanza.Addresses{List: []stanza.Address{
			addr(stanza.ToAddress, "bob@example.com/desk"),
		}})
		before := bobConn.count()
		env.router.IQ.Route(iq)

		require.Equal(t, before+1, bobConn.count())
		got := bobConn.last().(*stanza.IQ)
		assert.Equal(t, "bob@example.com/desk", got.GetTo().String())
	}
}

func TestIQServerRouteShortCircuitsLocalHandling(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	conn := &captureConn{}
	env.router.Table.AddServerRoute("far.example.net", session.New(session.OutgoingServer, conn))

	iq := newIQ(stanza.GetIQ, "alice@example.com/desk", "someone@far.example.net", rosterNS)
	env.router.IQ.Route(iq)

	assert.Equal(t, 1, conn.count())
}

func TestIQUnreachableRemoteRequestGetsServiceUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.remote.err = errors.New("dns failure")
	_, aliceConn := env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)

	env.router.IQ.Route(newIQ(stanza.GetIQ, "alice@example.com/desk", "someone@far.example.net", rosterNS))

	require.Equal(t, 1, aliceConn.count())
	assert.Equal(t, stanza.ServiceUnavailable, errorCondition(t, aliceConn.last()))
}

func TestIQInterceptorRejectionSendsNotAllowedAndNotice(t *testing.T) {
	chain := NewInterceptorChain()
	chain.Add("filter", func(p stanza.Packet, _ *session.Session, processed bool) error {
		if processed {
			return nil
		}
		return &Rejection{Reason: "attachment policy"}
	})
	env := newTestEnv(t, func(d *Deps) { d.Interceptors = chain })
	_, aliceConn := env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)

	env.router.IQ.Route(newIQ(stanza.GetIQ, "alice@example.com/desk", testDomain, rosterNS))

	require.Equal(t, 2, aliceConn.count())
	packets := aliceConn.packets()
	assert.Equal(t, stanza.NotAllowed, errorCondition(t, packets[0]))
	note := packets[1].(*stanza.Message)
	assert.Equal(t, "attachment policy", note.Body)
}
