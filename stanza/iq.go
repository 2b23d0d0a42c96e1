// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"github.com/igniterealtime/wildfire/jid"
)

// IQ ("Information Query") is used as a general request response mechanism.
// IQs are one-to-one, provide get and set semantics, and always require a
// response in the form of a result or an error.
type IQ struct {
	Header
	XMLName xml.Name `xml:"iq"`
	Type    IQType   `xml:"type,attr"`
	Payload *Payload `xml:",any,omitempty"`
	Error   *Error   `xml:"error,omitempty"`
}

// IQType is the type of an IQ stanza.
// It should normally be one of the constants defined in this package.
type IQType string

const (
	// GetIQ is used to query another entity for information.
	GetIQ IQType = "get"

	// SetIQ is used to provide data to another entity, set new values, and
	// replace existing values.
	SetIQ IQType = "set"

	// ResultIQ is sent in response to a successful get or set IQ.
	ResultIQ IQType = "result"

	// ErrorIQ is sent to report that an error occurred during the delivery
	// or processing of a get or set IQ.
	ErrorIQ IQType = "error"
)

// Namespace returns the namespace of the IQ's child payload, or the empty
// string if the IQ has no payload.
func (iq *IQ) Namespace() string {
	if iq.Payload == nil {
		return ""
	}
	return iq.Payload.XMLName.Space
}

// IsRequest reports whether the IQ is of type get or set (a request that
// requires an answer, as opposed to a result or error answer itself).
func (iq *IQ) IsRequest() bool {
	return iq.Type == GetIQ || iq.Type == SetIQ
}

// IsResponse reports whether the IQ is of type result or error.
func (iq *IQ) IsResponse() bool {
	return iq.Type == ResultIQ || iq.Type == ErrorIQ
}

// Result synthesizes a result IQ answering this one: the id is preserved
// and the addresses are swapped. The payload is not carried over; callers
// that must echo the original payload attach a copy themselves.
func (iq *IQ) Result() *IQ {
	return &IQ{
		Header: Header{
			ID:   iq.ID,
			To:   iq.From,
			From: iq.To,
			Lang: iq.Lang,
		},
		Type: ResultIQ,
	}
}

// ErrorReply synthesizes an error reply to this IQ carrying the given
// condition. The original payload is echoed back per RFC 6120 §8.3.1.
func (iq *IQ) ErrorReply(cond Condition) *IQ {
	reply := iq.Result()
	reply.Type = ErrorIQ
	reply.Payload = iq.Payload.Copy()
	reply.Error = &Error{Type: cond.Type(), Condition: cond}
	return reply
}

// Copy implements Packet.
func (iq *IQ) Copy() Packet {
	c := *iq
	c.Payload = iq.Payload.Copy()
	if iq.Error != nil {
		e := *iq.Error
		c.Error = &e
	}
	if iq.Addresses != nil {
		c.Addresses = iq.Addresses.Copy()
	}
	return &c
}

// SetError implements Packet.
func (iq *IQ) SetError(e Error) {
	iq.Type = ErrorIQ
	iq.Error = &e
}

var _ Packet = (*IQ)(nil)

// NewIQ constructs a server-originated IQ with a fresh unique id.
func NewIQ(typ IQType, from, to jid.JID) *IQ {
	return &IQ{
		Header: Header{
			ID:   NewID(),
			To:   to,
			From: from,
		},
		Type: typ,
	}
}
