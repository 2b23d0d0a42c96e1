// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import "encoding/xml"

// Message is a fire-and-forget stanza used to send data from one entity to
// another.
type Message struct {
	Header
	XMLName xml.Name    `xml:"message"`
	Type    MessageType `xml:"type,attr,omitempty"`
	Subject string      `xml:"subject,omitempty"`
	Body    string      `xml:"body,omitempty"`
	Thread  string      `xml:"thread,omitempty"`
	Payload *Payload    `xml:",any,omitempty"`
	Error   *Error      `xml:"error,omitempty"`
}

// MessageType is the type of a message stanza.
// It should normally be one of the constants defined in this package.
type MessageType string

const (
	// NormalMessage is a standalone message sent outside the context of a
	// one-to-one conversation or groupchat. This is the default type.
	NormalMessage MessageType = ""

	// ChatMessage represents a message sent in the context of a one-to-one
	// chat session.
	ChatMessage MessageType = "chat"

	// ErrorMessage is generated by an entity that experiences an error when
	// processing a message received from another entity.
	ErrorMessage MessageType = "error"

	// GroupChatMessage is a message sent in the context of a multi-user chat
	// environment.
	GroupChatMessage MessageType = "groupchat"

	// HeadlineMessage provides an alert, a notification, or other
	// transient information to which no reply is expected.
	HeadlineMessage MessageType = "headline"
)

// Reply synthesizes a fresh message answering this one: the id, thread, and
// type are echoed, and the addresses are swapped. No body or payload is
// carried over; callers fill in what the reply should say.
func (m *Message) Reply() *Message {
	typ := m.Type
	if typ == ErrorMessage {
		typ = NormalMessage
	}
	return &Message{
		Header: Header{
			ID:   m.ID,
			To:   m.From,
			From: m.To,
			Lang: m.Lang,
		},
		Type:   typ,
		Thread: m.Thread,
	}
}

// Copy implements Packet.
func (m *Message) Copy() Packet {
	c := *m
	c.Payload = m.Payload.Copy()
	if m.Error != nil {
		e := *m.Error
		c.Error = &e
	}
	if m.Addresses != nil {
		c.Addresses = m.Addresses.Copy()
	}
	return &c
}

// SetError implements Packet.
func (m *Message) SetError(e Error) {
	m.Type = ErrorMessage
	m.Error = &e
}

var _ Packet = (*Message)(nil)
