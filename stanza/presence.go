// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import "encoding/xml"

// Presence is a stanza that is used as an indication that an entity is
// available for communication. It is used to set a status message, broadcast
// availability, and manage presence subscriptions. It can be directed
// (one-to-one) or used as a broadcast mechanism (one-to-many).
type Presence struct {
	Header
	XMLName  xml.Name     `xml:"presence"`
	Type     PresenceType `xml:"type,attr,omitempty"`
	Show     Show         `xml:"show,omitempty"`
	Status   string       `xml:"status,omitempty"`
	Priority int8         `xml:"priority,omitempty"`
	Payload  *Payload     `xml:",any,omitempty"`
	Error    *Error       `xml:"error,omitempty"`
}

// PresenceType is the type of a presence stanza.
// It should normally be one of the constants defined in this package.
type PresenceType string

const (
	// AvailablePresence is a special case that signals that the entity is
	// available for communication.
	AvailablePresence PresenceType = ""

	// UnavailablePresence indicates that the sender is no longer available
	// for communication.
	UnavailablePresence PresenceType = "unavailable"

	// SubscribePresence is sent when the sender wishes to subscribe to the
	// recipient's presence.
	SubscribePresence PresenceType = "subscribe"

	// SubscribedPresence indicates that the sender has allowed the recipient
	// to receive future presence broadcasts.
	SubscribedPresence PresenceType = "subscribed"

	// UnsubscribePresence indicates that the sender is unsubscribing from
	// the receiver's presence.
	UnsubscribePresence PresenceType = "unsubscribe"

	// UnsubscribedPresence indicates that the subscription request has been
	// denied, or a previously granted subscription has been revoked.
	UnsubscribedPresence PresenceType = "unsubscribed"

	// ProbePresence is a request for an entity's current presence. It should
	// generally only be generated and sent by servers on behalf of a user.
	ProbePresence PresenceType = "probe"

	// ErrorPresence indicates that an error has occurred regarding
	// processing of a previously sent presence stanza.
	ErrorPresence PresenceType = "error"
)

// IsStatusUpdate reports whether the presence communicates availability (an
// available or unavailable update) rather than a subscription action, probe,
// or error.
func (p *Presence) IsStatusUpdate() bool {
	return p.Type == AvailablePresence || p.Type == UnavailablePresence
}

// IsSubscription reports whether the presence is one of the four
// subscription management types.
func (p *Presence) IsSubscription() bool {
	switch p.Type {
	case SubscribePresence, SubscribedPresence, UnsubscribePresence, UnsubscribedPresence:
		return true
	}
	return false
}

// IsAvailable reports whether the presence advertises availability.
func (p *Presence) IsAvailable() bool {
	return p.Type == AvailablePresence
}

// Show is the optional availability sub-state of an available presence.
type Show string

const (
	// ShowNone is the absence of a show element: plainly available.
	ShowNone Show = ""

	// ShowChat signals that the entity is actively interested in chatting.
	ShowChat Show = "chat"

	// ShowAway signals that the entity is temporarily away.
	ShowAway Show = "away"

	// ShowXA signals that the entity is away for an extended period
	// ("extended away").
	ShowXA Show = "xa"

	// ShowDND signals that the entity is busy ("do not disturb").
	ShowDND Show = "dnd"
)

// Rank orders show values by desirability as a message delivery target; a
// numerically lower rank is more available. Resource selection narrows to
// the sessions sharing the lowest rank before applying the recent-activity
// tie break.
func (s Show) Rank() int {
	switch s {
	case ShowChat:
		return 1
	case ShowNone:
		return 2
	case ShowAway:
		return 3
	case ShowXA:
		return 4
	default:
		return 5
	}
}

// Reply synthesizes a presence answering this one with the addresses
// swapped and the id preserved.
func (p *Presence) Reply() *Presence {
	return &Presence{
		Header: Header{
			ID:   p.ID,
			To:   p.From,
			From: p.To,
			Lang: p.Lang,
		},
	}
}

// Copy implements Packet.
func (p *Presence) Copy() Packet {
	c := *p
	c.Payload = p.Payload.Copy()
	if p.Error != nil {
		e := *p.Error
		c.Error = &e
	}
	if p.Addresses != nil {
		c.Addresses = p.Addresses.Copy()
	}
	return &c
}

// SetError implements Packet.
func (p *Presence) SetError(e Error) {
	p.Type = ErrorPresence
	p.Error = &e
}

var _ Packet = (*Presence)(nil)
