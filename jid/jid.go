// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package jid

import (
	"encoding/xml"
	"errors"
	"net"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// JID represents an XMPP address comprising a localpart, domainpart, and
// resourcepart. All parts of a JID are guaranteed to be valid UTF-8 and are
// stored in their canonical form, which gives comparison the greatest chance
// of succeeding. The zero value is the empty JID.
//
// JIDs are immutable after construction and comparable with ==, so they can
// be used directly as map keys.
type JID struct {
	local    string
	domain   string
	resource string
}

// Parse constructs a new JID from the given string representation.
func Parse(s string) (JID, error) {
	localpart, domainpart, resourcepart, err := SplitString(s)
	if err != nil {
		return JID{}, err
	}
	return New(localpart, domainpart, resourcepart)
}

// MustParse is like Parse but panics if the JID cannot be parsed.
// It simplifies safe initialization of JIDs from known-good constant strings.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		if strconv.CanBackquote(s) {
			s = "`" + s + "`"
		} else {
			s = strconv.Quote(s)
		}
		panic(`jid: Parse(` + s + `): ` + err.Error())
	}
	return j
}

// New constructs a new JID from the given localpart, domainpart, and
// resourcepart, applying the normalization and enforcement rules of RFC 7622.
func New(localpart, domainpart, resourcepart string) (JID, error) {
	// Ensure that parts are valid UTF-8 (and short circuit the rest of the
	// process if they're not). The domainpart is checked after the IDNA
	// ToUnicode operation.
	if !utf8.ValidString(localpart) || !utf8.ValidString(resourcepart) {
		return JID{}, errors.New("jid: JID contains invalid UTF-8")
	}

	// RFC 7622 §3.2.1: A-labels must be converted to U-labels before a
	// string is used in a domainpart slot.
	var err error
	domainpart, err = idna.ToUnicode(domainpart)
	if err != nil {
		return JID{}, err
	}
	if !utf8.ValidString(domainpart) {
		return JID{}, errors.New("jid: domainpart contains invalid UTF-8")
	}

	if localpart != "" {
		localpart, err = precis.UsernameCaseMapped.String(localpart)
		if err != nil {
			return JID{}, err
		}
	}
	if resourcepart != "" {
		resourcepart, err = precis.OpaqueString.String(resourcepart)
		if err != nil {
			return JID{}, err
		}
	}

	if err := commonChecks(localpart, domainpart, resourcepart); err != nil {
		return JID{}, err
	}

	return JID{
		local:    localpart,
		domain:   domainpart,
		resource: resourcepart,
	}, nil
}

// Unsafe constructs a JID without performing any verification or
// normalization on the provided parts. It exists for hot paths handling
// addresses that the server already normalized, such as addresses read back
// out of the session registry or the routing table. Use New or Parse for
// anything that arrived over the wire.
func Unsafe(localpart, domainpart, resourcepart string) JID {
	return JID{
		local:    localpart,
		domain:   domainpart,
		resource: resourcepart,
	}
}

// WithResource returns a copy of the JID with a new resourcepart.
// This elides re-validation of the localpart and domainpart.
func (j JID) WithResource(resourcepart string) (JID, error) {
	if resourcepart != "" {
		if !utf8.ValidString(resourcepart) {
			return JID{}, errors.New("jid: JID contains invalid UTF-8")
		}
		var err error
		resourcepart, err = precis.OpaqueString.String(resourcepart)
		if err != nil {
			return JID{}, err
		}
		if len(resourcepart) > 1023 {
			return JID{}, errors.New("jid: the resourcepart must be smaller than 1024 bytes")
		}
	}
	return JID{
		local:    j.local,
		domain:   j.domain,
		resource: resourcepart,
	}, nil
}

// Bare returns a copy of the JID without a resourcepart. This is sometimes
// called a "bare" JID.
func (j JID) Bare() JID {
	return JID{
		local:  j.local,
		domain: j.domain,
	}
}

// Domain returns a copy of the JID without a resourcepart or localpart.
func (j JID) Domain() JID {
	return JID{
		domain: j.domain,
	}
}

// Localpart gets the localpart of a JID (eg "username").
func (j JID) Localpart() string {
	return j.local
}

// Domainpart gets the domainpart of a JID (eg. "example.net").
func (j JID) Domainpart() string {
	return j.domain
}

// Resourcepart gets the resourcepart of a JID.
func (j JID) Resourcepart() string {
	return j.resource
}

// IsBare reports whether the JID has no resourcepart.
func (j JID) IsBare() bool {
	return j.domain != "" && j.resource == ""
}

// IsFull reports whether the JID has a resourcepart.
func (j JID) IsFull() bool {
	return j.resource != ""
}

// IsZero reports whether the JID is the zero value (no address at all).
func (j JID) IsZero() bool {
	return j == JID{}
}

// Network satisfies the net.Addr interface by returning the name of the
// network ("xmpp").
func (JID) Network() string {
	return "xmpp"
}

// String converts the JID to its string representation.
func (j JID) String() string {
	s := j.domain
	if j.local != "" {
		s = j.local + "@" + s
	}
	if j.resource != "" {
		s = s + "/" + j.resource
	}
	return s
}

// Equal performs an octet-for-octet comparison with the given JID.
func (j JID) Equal(j2 JID) bool {
	return j == j2
}

// MarshalXML satisfies the xml.Marshaler interface and marshals the JID as
// XML chardata.
func (j JID) MarshalXML(e *xml.Encoder, start xml.StartElement) (err error) {
	if err = e.EncodeToken(start); err != nil {
		return
	}
	if err = e.EncodeToken(xml.CharData(j.String())); err != nil {
		return
	}
	if err = e.EncodeToken(start.End()); err != nil {
		return
	}
	err = e.Flush()
	return
}

// UnmarshalXML satisfies the xml.Unmarshaler interface and unmarshals the JID
// from the element's chardata.
func (j *JID) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	data := struct {
		CharData string `xml:",chardata"`
	}{}
	if err := d.DecodeElement(&data, &start); err != nil {
		return err
	}
	j2, err := Parse(data.CharData)
	if err == nil {
		*j = j2
	}
	return err
}

// MarshalXMLAttr satisfies the xml.MarshalerAttr interface and marshals the
// JID as an XML attribute. The zero JID marshals to no attribute at all.
func (j JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	if j.IsZero() {
		return xml.Attr{}, nil
	}
	return xml.Attr{Name: name, Value: j.String()}, nil
}

// UnmarshalXMLAttr satisfies the xml.UnmarshalerAttr interface and
// unmarshals an XML attribute into a valid JID (or returns an error).
func (j *JID) UnmarshalXMLAttr(attr xml.Attr) error {
	if attr.Value == "" {
		return nil
	}
	j2, err := Parse(attr.Value)
	if err == nil {
		*j = j2
	}
	return err
}

// SplitString splits out the localpart, domainpart, and resourcepart from a
// string representation of a JID. The parts are not guaranteed to be valid,
// and each part must be 1023 bytes or less.
func SplitString(s string) (localpart, domainpart, resourcepart string, err error) {
	// RFC 7622 §3.1: the separator characters '@' and '/' must be matched
	// before applying any transformation algorithms, which might decompose
	// certain Unicode code points to the separator characters.
	//
	// The domainpart is what remains once we strip everything from the first
	// '/' to the end of the string, then everything up to the first '@'.
	sep := strings.Index(s, "/")
	if sep == -1 {
		resourcepart = ""
	} else {
		// If the resourcepart exists, make sure it isn't empty.
		if sep == len(s)-1 {
			err = errors.New("jid: the resourcepart must be larger than 0 bytes")
			return
		}
		resourcepart = s[sep+1:]
		s = s[:sep]
	}

	sep = strings.Index(s, "@")
	switch sep {
	case -1:
		// There is no @ sign, and therefore no localpart.
		localpart = ""
		domainpart = s
	case 0:
		// The JID starts with an @ sign (invalid empty localpart).
		err = errors.New("jid: the localpart must be larger than 0 bytes")
		return
	default:
		domainpart = s[sep+1:]
		localpart = s[:sep]
	}

	// Trailing dots on domainparts are ignored per RFC 7622 §3.2 and must be
	// stripped before any other canonicalization step.
	domainpart = strings.TrimSuffix(domainpart, ".")

	return
}

func checkIP6String(domainpart string) error {
	// If the domainpart is a valid IPv6 address (with brackets), short
	// circuit.
	if l := len(domainpart); l > 2 && strings.HasPrefix(domainpart, "[") &&
		strings.HasSuffix(domainpart, "]") {
		if ip := net.ParseIP(domainpart[1 : l-1]); ip == nil || ip.To4() != nil {
			return errors.New("jid: domainpart is not a valid IPv6 address")
		}
	}
	return nil
}

func commonChecks(localpart, domainpart, resourcepart string) error {
	if len(localpart) > 1023 {
		return errors.New("jid: the localpart must be smaller than 1024 bytes")
	}

	// RFC 7622 §3.3.1 provides a small table of characters which are still
	// not allowed in localparts even though the IdentifierClass base class
	// and the UsernameCaseMapped profile don't forbid them.
	if strings.ContainsAny(localpart, `"&'/:<>@`) {
		return errors.New("jid: localpart contains forbidden characters")
	}

	if len(resourcepart) > 1023 {
		return errors.New("jid: the resourcepart must be smaller than 1024 bytes")
	}

	if l := len(domainpart); l < 1 || l > 1023 {
		return errors.New("jid: the domainpart must be between 1 and 1023 bytes")
	}

	return checkIP6String(domainpart)
}
