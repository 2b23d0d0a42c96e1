// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igniterealtime/wildfire/jid"
	"github.com/igniterealtime/wildfire/session"
	"github.com/igniterealtime/wildfire/stanza"
)

func chatMessage(from, to, body string) *stanza.Message {
	m := &stanza.Message{
		Header: stanza.Header{ID: stanza.NewID()},
		Type:   stanza.ChatMessage,
		Body:   body,
	}
	if from != "" {
		m.SetFrom(jid.MustParse(from))
	}
	if to != "" {
		m.SetTo(jid.MustParse(to))
	}
	return m
}

func TestMessagePreAuthSenderGetsNotAuthorized(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "bob@example.com/desk", 1, stanza.ShowNone)
	s, conn := env.addConnectedClient(t)

	m := chatMessage(s.Address().String(), "bob@example.com/desk", "hi")
	env.router.Message.Route(m)

	require.Equal(t, 1, conn.count())
	reply := conn.last().(*stanza.Message)
	assert.Equal(t, stanza.NotAuthorized, errorCondition(t, reply))
	assert.Equal(t, m.GetID(), reply.GetID())
	assert.Equal(t, "bob@example.com/desk", reply.GetFrom().String())
}

func TestMessageDeliveryToFullAddress(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	_, bobConn := env.addClient(t, "bob@example.com/desk", 1, stanza.ShowNone)

	m := chatMessage("alice@example.com/desk", "bob@example.com/desk", "hi")
	env.router.Message.Route(m)

	require.Equal(t, 1, bobConn.count())
	assert.Same(t, stanza.Packet(m), bobConn.last())
	assert.Equal(t, 0, env.offline.count())
}

func TestMessageBareAddressWithNoSessionsGoesOffline(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)

	env.router.Message.Route(chatMessage("alice@example.com/desk", "bob@example.com", "hi"))

	assert.Equal(t, 1, env.offline.count())
}

func TestMessageBareAddressSingleSessionDelivers(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	_, bobConn := env.addClient(t, "bob@example.com/desk", 0, stanza.ShowAway)

	m := chatMessage("alice@example.com/desk", "bob@example.com", "hi")
	env.router.Message.Route(m)

	require.Equal(t, 1, bobConn.count())
	assert.Equal(t, "bob@example.com", bobConn.last().GetTo().String())
	assert.Equal(t, 0, env.offline.count())
}

func TestMessageSelectionPrefersPriorityOverShow(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	_, phoneConn := env.addClient(t, "bob@example.com/phone", 10, stanza.ShowAway)
	_, laptopConn := env.addClient(t, "bob@example.com/laptop", 5, stanza.ShowChat)

	env.router.Message.Route(chatMessage("alice@example.com/desk", "bob@example.com", "hi"))

	assert.Equal(t, 1, phoneConn.count())
	assert.Equal(t, 0, laptopConn.count())
}

func TestMessageSelectionBreaksTiesByShowThenActivity(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	_, awayConn := env.addClient(t, "bob@example.com/desk", 5, stanza.ShowAway)
	_, earlierConn := env.addClient(t, "bob@example.com/tablet", 5, stanza.ShowChat)
	later, laterConn := env.addClient(t, "bob@example.com/phone", 5, stanza.ShowChat)

	time.Sleep(2 * time.Millisecond)
	later.Touch()

	env.router.Message.Route(chatMessage("alice@example.com/desk", "bob@example.com", "hi"))

	assert.Equal(t, 0, awayConn.count())
	assert.Equal(t, 0, earlierConn.count())
	assert.Equal(t, 1, laterConn.count())
}

func TestMessageNegativePriorityNeverReceivesBareTraffic(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	_, bobConn := env.addClient(t, "bob@example.com/desk", -1, stanza.ShowNone)

	env.router.Message.Route(chatMessage("alice@example.com/desk", "bob@example.com", "hi"))

	assert.Equal(t, 0, bobConn.count())
	assert.Equal(t, 1, env.offline.count())
}

func TestMessageErrorToBareAddressIsDiscarded(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	_, bobConn := env.addClient(t, "bob@example.com/desk", 1, stanza.ShowNone)

	m := chatMessage("alice@example.com/desk", "bob@example.com", "")
	m.Type = stanza.ErrorMessage
	m.SetError(stanza.Error{Type: stanza.Cancel, Condition: stanza.ServiceUnavailable})
	env.router.Message.Route(m)

	assert.Equal(t, 0, bobConn.count())
	assert.Equal(t, 0, env.offline.count())
}

func TestMessageRouteAllResourcesFansOutAtTopPriority(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Config.Routing.RouteAllResources = true })
	env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	_, deskConn := env.addClient(t, "bob@example.com/desk", 5, stanza.ShowChat)
	_, phoneConn := env.addClient(t, "bob@example.com/phone", 5, stanza.ShowAway)
	_, oldConn := env.addClient(t, "bob@example.com/old", 1, stanza.ShowNone)

	env.router.Message.Route(chatMessage("alice@example.com/desk", "bob@example.com", "hi"))

	require.Equal(t, 1, deskConn.count())
	require.Equal(t, 1, phoneConn.count())
	assert.Equal(t, 0, oldConn.count())
	assert.Equal(t, "bob@example.com/desk", deskConn.last().GetTo().String())
	assert.Equal(t, "bob@example.com/phone", phoneConn.last().GetTo().String())
}

func TestMessageToServerDomainForwardsToAdmins(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		// A bare username resolves against the server's own domain.
		d.Config.Routing.AdminRecipients = "admin"
	})
	env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	_, adminConn := env.addClient(t, "admin@example.com/desk", 1, stanza.ShowNone)

	env.router.Message.Route(chatMessage("alice@example.com/desk", testDomain, "abuse report"))

	require.Equal(t, 1, adminConn.count())
	forwarded := adminConn.last().(*stanza.Message)
	assert.Equal(t, "abuse report", forwarded.Body)
	assert.Equal(t, "admin@example.com", forwarded.GetTo().Bare().String())
}

func TestMessageToServerDomainWithoutAdminsIsDropped(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)

	env.router.Message.Route(chatMessage("alice@example.com/desk", testDomain, "hello?"))

	assert.Equal(t, 0, env.offline.count())
}

func TestMessageDeliveryFailureFallsBackToOffline(t *testing.T) {
	env := newTestEnv(t)
	env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	_, bobConn := env.addClient(t, "bob@example.com/desk", 1, stanza.ShowNone)
	bobConn.failWith = errors.New("write timeout")

	env.router.Message.Route(chatMessage("alice@example.com/desk", "bob@example.com", "hi"))

	assert.Equal(t, 1, env.offline.count())
}

func TestMessageUnreachableRemoteGoesOffline(t *testing.T) {
	env := newTestEnv(t)
	env.remote.err = errors.New("dns failure")
	env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)

	env.router.Message.Route(chatMessage("alice@example.com/desk", "bob@far.example.net", "hi"))

	assert.Equal(t, 1, env.offline.count())
}

func TestMessageRejectionReplyCarriesReasonWithoutError(t *testing.T) {
	chain := NewInterceptorChain()
	chain.Add("filter", func(p stanza.Packet, _ *session.Session, processed bool) error {
		if processed {
			return nil
		}
		return &Rejection{Reason: "rate limited"}
	})
	env := newTestEnv(t, func(d *Deps) { d.Interceptors = chain })
	_, aliceConn := env.addClient(t, "alice@example.com/desk", 1, stanza.ShowNone)
	_, bobConn := env.addClient(t, "bob@example.com/desk", 1, stanza.ShowNone)

	m := chatMessage("alice@example.com/desk", "bob@example.com/desk", "spam")
	env.router.Message.Route(m)

	assert.Equal(t, 0, bobConn.count())
	require.Equal(t, 1, aliceConn.count())
	reply := aliceConn.last().(*stanza.Message)
	assert.Nil(t, reply.Error)
	assert.Equal(t, "rate limited", reply.Body)
	assert.Equal(t, m.GetID(), reply.GetID())
}
