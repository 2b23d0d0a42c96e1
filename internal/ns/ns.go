// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ns provides namespace constants that are shared by the stanza,
// session, and router packages.
package ns

// List of commonly used namespaces.
const (
	Client = "jabber:client"
	Server = "jabber:server"
	Stanza = "urn:ietf:params:xml:ns:xmpp-stanzas"
	XML    = "http://www.w3.org/XML/1998/namespace"

	// Bootstrap namespaces: the only IQ namespaces a connected but not yet
	// authenticated session may address to the local server.
	Auth     = "jabber:iq:auth"
	Register = "jabber:iq:register"
	Bind     = "urn:ietf:params:xml:ns:xmpp-bind"

	// Extended stanza addressing (XEP-0033). Address is both the payload
	// namespace and the feature advertised by multicast-capable services.
	Address = "http://jabber.org/protocol/address"

	// Service discovery (XEP-0030).
	DiscoInfo  = "http://jabber.org/protocol/disco#info"
	DiscoItems = "http://jabber.org/protocol/disco#items"
)
