// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"github.com/igniterealtime/wildfire/internal/ns"
	"github.com/igniterealtime/wildfire/jid"
)

// Is tests whether name is a valid stanza based on name and space.
func Is(name xml.Name) bool {
	return (name.Local == "iq" || name.Local == "message" || name.Local == "presence") &&
		(name.Space == ns.Client || name.Space == ns.Server)
}

// Header holds the attributes common to all three stanza kinds.
type Header struct {
	ID   string  `xml:"id,attr,omitempty"`
	To   jid.JID `xml:"to,attr,omitempty"`
	From jid.JID `xml:"from,attr,omitempty"`
	Lang string  `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`

	// Addresses is the extended-addressing payload (XEP-0033), if the
	// stanza carries one.
	Addresses *Addresses `xml:"http://jabber.org/protocol/address addresses,omitempty"`
}

// GetID returns the stanza's id attribute.
func (h *Header) GetID() string { return h.ID }

// GetTo returns the stanza's recipient address; the zero JID if absent.
func (h *Header) GetTo() jid.JID { return h.To }

// GetFrom returns the stanza's sender address; the zero JID if absent.
func (h *Header) GetFrom() jid.JID { return h.From }

// SetTo rewrites the recipient address.
func (h *Header) SetTo(j jid.JID) { h.To = j }

// SetFrom rewrites the sender address.
func (h *Header) SetFrom(j jid.JID) { h.From = j }

// MultiAddresses returns the extended-addressing payload, or nil.
func (h *Header) MultiAddresses() *Addresses { return h.Addresses }

// SetMultiAddresses replaces the extended-addressing payload.
func (h *Header) SetMultiAddresses(a *Addresses) { h.Addresses = a }

// Packet is the interface shared by the three stanza kinds. The routers
// operate on Packet where the stanza kind does not matter (routing table
// delivery, multicast fan-out).
type Packet interface {
	GetID() string
	GetTo() jid.JID
	GetFrom() jid.JID
	SetTo(jid.JID)
	SetFrom(jid.JID)
	MultiAddresses() *Addresses
	SetMultiAddresses(*Addresses)

	// Copy returns a copy of the packet that is safe to rewrite and deliver
	// independently of the original.
	Copy() Packet

	// SetError attaches a stanza error and flips the stanza type to "error".
	SetError(Error)
}

// Payload is the first child element of a stanza, carrying the namespace the
// routers dispatch on plus the raw inner XML for pass-through delivery.
type Payload struct {
	XMLName xml.Name
	Data    string `xml:",innerxml"`
}

// Copy returns a copy of the payload.
func (p *Payload) Copy() *Payload {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Decode unmarshals the payload into v by reconstituting the payload
// element around its inner XML. Attributes of the payload element itself
// are not preserved.
func (p *Payload) Decode(v any) error {
	raw := "<" + p.XMLName.Local + " xmlns=\"" + p.XMLName.Space + "\">" + p.Data +
		"</" + p.XMLName.Local + ">"
	return xml.Unmarshal([]byte(raw), v)
}
