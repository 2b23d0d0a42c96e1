// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"fmt"
	"testing"

	"github.com/igniterealtime/wildfire/internal/ns"
	"github.com/igniterealtime/wildfire/jid"
)

func TestIs(t *testing.T) {
	for i, data := range [...]struct {
		name xml.Name
		is   bool
	}{
		0: {xml.Name{Space: ns.Client, Local: "iq"}, true},
		1: {xml.Name{Space: ns.Server, Local: "message"}, true},
		2: {xml.Name{Space: ns.Client, Local: "presence"}, true},
		3: {xml.Name{Space: ns.Client, Local: "error"}, false},
		4: {xml.Name{Space: "jabber:badns", Local: "iq"}, false},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			if got := Is(data.name); got != data.is {
				t.Errorf("Expected Is(%v) to be %t", data.name, data.is)
			}
		})
	}
}

func TestIQResultSwapsAddresses(t *testing.T) {
	iq := &IQ{
		Header: Header{
			ID:   "abc",
			To:   jid.MustParse("example.net"),
			From: jid.MustParse("mercutio@example.net/balcony"),
		},
		Type:    GetIQ,
		Payload: &Payload{XMLName: xml.Name{Space: "jabber:iq:roster", Local: "query"}},
	}
	res := iq.Result()
	if res.Type != ResultIQ {
		t.Errorf("Expected result type, got %s", res.Type)
	}
	if res.ID != "abc" {
		t.Errorf("Expected id to be preserved, got %s", res.ID)
	}
	if !res.To.Equal(iq.From) || !res.From.Equal(iq.To) {
		t.Errorf("Expected addresses to be swapped, got to=%s from=%s", res.To, res.From)
	}
	if res.Payload != nil {
		t.Error("Result must not carry the request payload")
	}
}

func TestIQErrorReplyEchoesPayload(t *testing.T) {
	iq := &IQ{
		Header: Header{
			ID:   "q1",
			To:   jid.MustParse("example.net"),
			From: jid.MustParse("mercutio@example.net/balcony"),
		},
		Type:    SetIQ,
		Payload: &Payload{XMLName: xml.Name{Space: "jabber:iq:private", Local: "query"}},
	}
	reply := iq.ErrorReply(ServiceUnavailable)
	if reply.Type != ErrorIQ {
		t.Errorf("Expected error type, got %s", reply.Type)
	}
	if reply.Payload == nil || reply.Payload.XMLName.Space != "jabber:iq:private" {
		t.Error("Expected the original payload to be echoed")
	}
	if reply.Error == nil || reply.Error.Condition != ServiceUnavailable {
		t.Errorf("Expected service-unavailable, got %v", reply.Error)
	}
	if reply.Error.Type != Cancel {
		t.Errorf("Expected default cancel type, got %s", reply.Error.Type)
	}
	// The reply owns its payload.
	reply.Payload.XMLName.Space = "changed"
	if iq.Payload.XMLName.Space != "jabber:iq:private" {
		t.Error("Error reply must not alias the original payload")
	}
}

func TestMessageReply(t *testing.T) {
	m := &Message{
		Header: Header{
			ID:   "m1",
			To:   jid.MustParse("example.net"),
			From: jid.MustParse("mercutio@example.net/balcony"),
		},
		Type:   ChatMessage,
		Thread: "t-9",
		Body:   "lofty",
	}
	r := m.Reply()
	if r.ID != "m1" || r.Thread != "t-9" || r.Type != ChatMessage {
		t.Errorf("Expected id/thread/type to be echoed, got %#v", r)
	}
	if r.Body != "" {
		t.Error("Reply must start with an empty body")
	}
	if !r.To.Equal(m.From) {
		t.Errorf("Expected reply to target the sender, got %s", r.To)
	}
}

func TestShowRankOrder(t *testing.T) {
	order := []Show{ShowChat, ShowNone, ShowAway, ShowXA, ShowDND}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Errorf("Expected %q to rank before %q", order[i-1], order[i])
		}
	}
}

func TestAddressesPendingAndBCC(t *testing.T) {
	as := &Addresses{List: []Address{
		{Type: ToAddress, JID: jid.MustParse("a@example.net")},
		{Type: CCAddress, JID: jid.MustParse("b@example.org"), Delivered: true},
		{Type: BCCAddress, JID: jid.MustParse("c@example.net")},
		{Type: ReplyToAddress, JID: jid.MustParse("d@example.net")},
	}}

	pending := as.Pending()
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending recipients, got %d", len(pending))
	}

	stripped := as.WithoutBCC()
	for _, a := range stripped.List {
		if a.Type == BCCAddress {
			t.Error("Expected bcc entries to be stripped")
		}
	}
	if len(stripped.List) != 3 {
		t.Errorf("Expected 3 entries after stripping, got %d", len(stripped.List))
	}

	as.MarkAllDelivered()
	if got := as.Pending(); len(got) != 0 {
		t.Errorf("Expected no pending recipients after marking, got %d", len(got))
	}
	// Reply routing metadata is not a delivery target and stays untouched.
	if as.List[3].Delivered {
		t.Error("Expected replyto entry to stay unmarked")
	}
}

func TestPacketCopyIsIndependent(t *testing.T) {
	m := &Message{
		Header: Header{
			To: jid.MustParse("a@example.net"),
			Addresses: &Addresses{List: []Address{
				{Type: ToAddress, JID: jid.MustParse("b@example.net")},
			}},
		},
		Body: "copy me",
	}
	c := m.Copy().(*Message)
	c.SetTo(jid.MustParse("z@example.net"))
	c.MultiAddresses().List[0].Delivered = true

	if m.To.String() != "a@example.net" {
		t.Error("Copy must not rewrite the original recipient")
	}
	if m.Addresses.List[0].Delivered {
		t.Error("Copy must not share the addresses payload")
	}
}
