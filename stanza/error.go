// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"io"

	"mellium.im/xmlstream"

	"github.com/igniterealtime/wildfire/internal/ns"
	"github.com/igniterealtime/wildfire/jid"
)

// ErrorType is the type of a stanza error payload.
// It should normally be one of the constants defined in this package.
type ErrorType string

const (
	// Cancel indicates that the error cannot be remedied and the operation
	// should not be retried.
	Cancel ErrorType = "cancel"

	// Auth indicates that an operation should be retried after providing
	// credentials.
	Auth ErrorType = "auth"

	// Continue indicates that the operation can proceed (the condition was
	// only a warning).
	Continue ErrorType = "continue"

	// Modify indicates that the operation can be retried after changing the
	// data sent.
	Modify ErrorType = "modify"

	// Wait indicates that an error is temporary and may be retried.
	Wait ErrorType = "wait"
)

// Condition represents a more specific stanza error condition that can be
// encapsulated by an <error/> element.
type Condition string

// A list of stanza error conditions defined in RFC 6120 §8.3.3.
const (
	// BadRequest indicates that the sender has sent a stanza containing XML
	// that does not conform to the appropriate schema or that cannot be
	// processed, such as an IQ from a mid-handshake session that names a
	// recipient other than the server itself.
	BadRequest Condition = "bad-request"

	// Conflict indicates that access cannot be granted because an existing
	// resource exists with the same name or address.
	Conflict Condition = "conflict"

	// FeatureNotImplemented indicates that the feature represented in the
	// stanza is not implemented by the intended recipient or an intermediate
	// server; the routers reply with it when an IQ names a local user's bare
	// address and no handler is registered for the payload namespace.
	FeatureNotImplemented Condition = "feature-not-implemented"

	// Forbidden indicates that the requesting entity does not possess the
	// necessary permissions to perform the action.
	Forbidden Condition = "forbidden"

	// Gone indicates that the recipient or server can no longer be contacted
	// at this address, typically on a permanent basis.
	Gone Condition = "gone"

	// InternalServerError indicates that the server has experienced a
	// misconfiguration or other internal fault that prevents it from
	// processing the stanza; routers degrade to it when handling panics.
	InternalServerError Condition = "internal-server-error"

	// ItemNotFound indicates that the addressed JID or item requested
	// cannot be found. Do not return this condition when doing so would
	// reveal the recipient's network availability to an entity that is not
	// authorized to know it; use ServiceUnavailable instead.
	ItemNotFound Condition = "item-not-found"

	// JIDMalformed indicates that the sending entity has provided an XMPP
	// address that violates the rules of the jid package.
	JIDMalformed Condition = "jid-malformed"

	// NotAcceptable indicates that the recipient or server understands the
	// request but cannot process it because it does not meet criteria
	// defined by the recipient or server, such as an outbound stanza the
	// sender's own privacy list blocks.
	NotAcceptable Condition = "not-acceptable"

	// NotAllowed indicates that the recipient or server does not allow any
	// entity to perform the action; interceptor rejections surface as this
	// condition.
	NotAllowed Condition = "not-allowed"

	// NotAuthorized indicates that the sender needs to provide credentials
	// before being allowed to perform the action. Despite the name it
	// relates to authentication, not authorization.
	NotAuthorized Condition = "not-authorized"

	// PolicyViolation indicates that the entity has violated some local
	// service policy.
	PolicyViolation Condition = "policy-violation"

	// RecipientUnavailable indicates that the intended recipient is
	// temporarily unavailable. The availability warning on ItemNotFound
	// applies here too.
	RecipientUnavailable Condition = "recipient-unavailable"

	// Redirect indicates that the recipient or server is redirecting
	// requests for this information to another entity, typically
	// temporarily.
	Redirect Condition = "redirect"

	// RegistrationRequired indicates that the requesting entity is not
	// authorized to access the requested service because prior registration
	// is necessary.
	RegistrationRequired Condition = "registration-required"

	// RemoteServerNotFound indicates that a remote server or service
	// specified as part or all of the JID of the intended recipient does
	// not exist or cannot be resolved.
	RemoteServerNotFound Condition = "remote-server-not-found"

	// RemoteServerTimeout indicates that a remote server or service was
	// resolved but communications could not be established within a
	// reasonable amount of time.
	RemoteServerTimeout Condition = "remote-server-timeout"

	// ResourceConstraint indicates that the server or recipient is busy or
	// lacks the system resources necessary to service the request.
	ResourceConstraint Condition = "resource-constraint"

	// ServiceUnavailable indicates that the server or recipient does not
	// currently provide the requested service. It doubles as the safe
	// substitute for ItemNotFound and RecipientUnavailable when presence
	// information must not leak.
	ServiceUnavailable Condition = "service-unavailable"

	// SubscriptionRequired indicates that the requesting entity is not
	// authorized to access the requested service because a prior
	// subscription is necessary.
	SubscriptionRequired Condition = "subscription-required"

	// UndefinedCondition is used for error conditions not covered by the
	// rest of this list, always together with an application-specific
	// condition.
	UndefinedCondition Condition = "undefined-condition"

	// UnexpectedRequest indicates that the recipient or server understood
	// the request but was not expecting it at this time.
	UnexpectedRequest Condition = "unexpected-request"
)

// Type returns the error type RFC 6120 associates with the condition by
// default.
func (c Condition) Type() ErrorType {
	switch c {
	case BadRequest, JIDMalformed, NotAcceptable, PolicyViolation, Redirect, UndefinedCondition:
		return Modify
	case Forbidden, NotAuthorized, RegistrationRequired, SubscriptionRequired:
		return Auth
	case RecipientUnavailable, RemoteServerTimeout, ResourceConstraint, UnexpectedRequest:
		return Wait
	default:
		return Cancel
	}
}

// Error is an implementation of error intended to be marshalable and
// unmarshalable as XML.
type Error struct {
	By        jid.JID
	Type      ErrorType
	Condition Condition
	Text      string
	Lang      string
}

// Error satisfies the error interface by returning the text, or the
// condition when no text was provided.
func (se Error) Error() string {
	if se.Text != "" {
		return se.Text
	}
	return string(se.Condition)
}

// TokenReader satisfies the xmlstream.Marshaler interface for Error.
func (se Error) TokenReader() xml.TokenReader {
	start := xml.StartElement{
		Name: xml.Name{Local: "error"},
	}
	if se.Type != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(se.Type)})
	}
	if a, err := se.By.MarshalXMLAttr(xml.Name{Local: "by"}); err == nil && a.Value != "" {
		start.Attr = append(start.Attr, a)
	}

	inner := []xml.TokenReader{
		xmlstream.Wrap(nil, xml.StartElement{
			Name: xml.Name{Space: ns.Stanza, Local: string(se.Condition)},
		}),
	}
	if se.Text != "" {
		var attrs []xml.Attr
		if se.Lang != "" {
			attrs = []xml.Attr{{
				Name:  xml.Name{Space: ns.XML, Local: "lang"},
				Value: se.Lang,
			}}
		}
		inner = append(inner, xmlstream.Wrap(
			xmlstream.ReaderFunc(func() (xml.Token, error) {
				return xml.CharData(se.Text), io.EOF
			}),
			xml.StartElement{
				Name: xml.Name{Space: ns.Stanza, Local: "text"},
				Attr: attrs,
			},
		))
	}

	return xmlstream.Wrap(xmlstream.MultiReader(inner...), start)
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (se Error) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, se.TokenReader())
}

// MarshalXML satisfies the xml.Marshaler interface for Error.
func (se Error) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := se.WriteXML(e)
	return err
}

// UnmarshalXML satisfies the xml.Unmarshaler interface for Error.
func (se *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		Condition struct {
			XMLName xml.Name
		} `xml:",any"`
		Type ErrorType `xml:"type,attr"`
		By   jid.JID   `xml:"by,attr"`
		Text []struct {
			Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
			Data string `xml:",chardata"`
		} `xml:"urn:ietf:params:xml:ns:xmpp-stanzas text"`
	}{}
	if err := d.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	se.Type = decoded.Type
	se.By = decoded.By
	if decoded.Condition.XMLName.Space == ns.Stanza {
		se.Condition = Condition(decoded.Condition.XMLName.Local)
	}
	for _, text := range decoded.Text {
		if text.Data == "" {
			continue
		}
		se.Text = text.Data
		se.Lang = text.Lang
		break
	}
	return nil
}
