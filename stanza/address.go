// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"github.com/igniterealtime/wildfire/jid"
)

// AddressType distinguishes the semantics of one entry of an
// extended-addressing payload (XEP-0033).
type AddressType string

const (
	// ToAddress is a primary recipient.
	ToAddress AddressType = "to"

	// CCAddress is a secondary ("carbon copy") recipient.
	CCAddress AddressType = "cc"

	// BCCAddress is a blind-copy recipient. BCC entries must never be
	// visible to the other recipients, so they are stripped from every
	// outgoing copy of the stanza.
	BCCAddress AddressType = "bcc"

	// ReplyToAddress names the entity replies should be addressed to.
	ReplyToAddress AddressType = "replyto"

	// ReplyRoomAddress names a multi-user chat room replies should go to.
	ReplyRoomAddress AddressType = "replyroom"

	// NoReplyAddress signals that no reply is expected at all.
	NoReplyAddress AddressType = "noreply"
)

// Address is a single entry of an extended-addressing payload.
type Address struct {
	Type        AddressType `xml:"type,attr"`
	JID         jid.JID     `xml:"jid,attr,omitempty"`
	URI         string      `xml:"uri,attr,omitempty"`
	Description string      `xml:"desc,attr,omitempty"`

	// Delivered marks an entry that some server along the path has already
	// served. Repeated multicast hops must not deliver to it again.
	Delivered bool `xml:"delivered,attr,omitempty"`
}

// IsRecipient reports whether the entry names an entity a copy of the
// stanza should be delivered to (as opposed to reply routing metadata).
func (a Address) IsRecipient() bool {
	switch a.Type {
	case ToAddress, CCAddress, BCCAddress:
		return !a.JID.IsZero()
	}
	return false
}

// Addresses is the extended-addressing payload: the multi-recipient
// declaration carried by a stanza addressed to the server's multicast
// service.
type Addresses struct {
	List []Address `xml:"address"`
}

// Copy returns a deep copy of the payload.
func (as *Addresses) Copy() *Addresses {
	if as == nil {
		return nil
	}
	c := &Addresses{List: make([]Address, len(as.List))}
	copy(c.List, as.List)
	return c
}

// Pending returns the recipient entries that no server has marked
// delivered yet.
func (as *Addresses) Pending() []Address {
	var pending []Address
	for _, a := range as.List {
		if a.IsRecipient() && !a.Delivered {
			pending = append(pending, a)
		}
	}
	return pending
}

// MarkAllDelivered flags every recipient entry as delivered.
func (as *Addresses) MarkAllDelivered() {
	for i := range as.List {
		if as.List[i].IsRecipient() {
			as.List[i].Delivered = true
		}
	}
}

// WithoutBCC returns a copy of the payload with all blind-copy entries
// removed. The copy that leaves the server must never reveal them.
func (as *Addresses) WithoutBCC() *Addresses {
	c := &Addresses{}
	for _, a := range as.List {
		if a.Type == BCCAddress {
			continue
		}
		c.List = append(c.List, a)
	}
	return c
}
