// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"fmt"
	"testing"

	"mellium.im/xmlstream"

	"github.com/igniterealtime/wildfire/jid"
)

var (
	_ error               = (*Error)(nil)
	_ error               = Error{}
	_ xmlstream.WriterTo  = Error{}
	_ xmlstream.Marshaler = Error{}
)

func TestErrorReturnsCondition(t *testing.T) {
	s := Error{Condition: "leprosy"}
	if string(s.Condition) != s.Error() {
		t.Errorf("Expected stanza error to return condition `leprosy` but got %s", s.Error())
	}
	s = Error{Condition: "nope", Text: "Text"}
	if s.Text != s.Error() {
		t.Errorf("Expected stanza error to return text `Text` but got %s", s.Error())
	}
}

func TestMarshalStanzaError(t *testing.T) {
	for i, data := range [...]struct {
		se  Error
		xml string
	}{
		0: {Error{Condition: UnexpectedRequest}, `<error><unexpected-request xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></unexpected-request></error>`},
		1: {Error{Type: Cancel, Condition: UnexpectedRequest}, `<error type="cancel"><unexpected-request xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></unexpected-request></error>`},
		2: {Error{Type: Wait, Condition: UndefinedCondition}, `<error type="wait"><undefined-condition xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></undefined-condition></error>`},
		3: {Error{Type: Auth, By: jid.MustParse("test@example.net"), Condition: SubscriptionRequired}, `<error type="auth" by="test@example.net"><subscription-required xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></subscription-required></error>`},
		4: {Error{Type: Continue, Condition: ServiceUnavailable, Text: "test"}, `<error type="continue"><service-unavailable xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></service-unavailable><text xmlns="urn:ietf:params:xml:ns:xmpp-stanzas">test</text></error>`},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			b, err := xml.Marshal(data.se)
			if err != nil {
				t.Fatal(err)
			}
			if string(b) != data.xml {
				t.Errorf("Expected marshaling stanza error to be:\n`%s`\nbut got:\n`%s`.", data.xml, string(b))
			}
		})
	}
}

func TestUnmarshalStanzaError(t *testing.T) {
	for i, data := range [...]struct {
		xml string
		se  Error
	}{
		0: {`<error><unexpected-request xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></unexpected-request></error>`,
			Error{Condition: UnexpectedRequest}},
		1: {`<error type="cancel"><registration-required xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></registration-required></error>`,
			Error{Type: Cancel, Condition: RegistrationRequired}},
		2: {`<error type="auth"><not-authorized xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></not-authorized><text xmlns="urn:ietf:params:xml:ns:xmpp-stanzas">busted</text></error>`,
			Error{Type: Auth, Condition: NotAuthorized, Text: "busted"}},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			se := Error{}
			if err := xml.Unmarshal([]byte(data.xml), &se); err != nil {
				t.Fatal(err)
			}
			if se.Type != data.se.Type || se.Condition != data.se.Condition || se.Text != data.se.Text {
				t.Errorf("Expected %#v but got %#v", data.se, se)
			}
		})
	}
}

func TestConditionDefaultType(t *testing.T) {
	for i, data := range [...]struct {
		cond Condition
		typ  ErrorType
	}{
		0: {BadRequest, Modify},
		1: {NotAuthorized, Auth},
		2: {ServiceUnavailable, Cancel},
		3: {FeatureNotImplemented, Cancel},
		4: {InternalServerError, Cancel},
		5: {NotAllowed, Cancel},
		6: {RecipientUnavailable, Wait},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			if got := data.cond.Type(); got != data.typ {
				t.Errorf("Expected %s to default to type %s but got %s", data.cond, data.typ, got)
			}
		})
	}
}
