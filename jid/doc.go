// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package jid implements the XMPP address format.
//
// An address (historically a "Jabber ID" or JID) comprises a localpart, a
// domainpart, and a resourcepart. Only the domainpart is required. A JID
// without a resourcepart is a "bare" JID and identifies an account or a
// domain as a whole; a JID with a resourcepart is a "full" JID and
// identifies one specific connected session.
//
// All parts are normalized exactly once, at construction time, so that two
// JIDs referring to the same entity compare equal afterwards. Code handling
// addresses that have already been through that normalization (for example
// addresses read back out of the session registry) can use Unsafe to skip
// re-validation.
package jid
