// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stanza contains the parsed stanza model consumed by the routing
// core and stanza level errors.
//
// Stanzas (Message, Presence, and IQ) are the "primitives" of XMPP. Messages
// are used to send data that is fire-and-forget such as chat messages,
// Presence is used as a general broadcast mechanism and is used to advertise
// availability on the network (online, offline, away), and IQ (Info-Query)
// is used as a request response mechanism for data that requires a response.
//
// The connection layer performs XML parsing and basic validation and hands
// the routers values of these types; this package does not define a wire
// grammar of its own beyond the encoding/xml mappings used to serialize
// outbound stanzas.
package stanza
