// Copyright 2025 The Wildfire Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/igniterealtime/wildfire/internal/ns"
	"github.com/igniterealtime/wildfire/jid"
)

// InfoQuery is the payload of a service discovery query for a node's
// identities and features (XEP-0030, disco#info).
type InfoQuery struct {
	XMLName  xml.Name  `xml:"http://jabber.org/protocol/disco#info query"`
	Node     string    `xml:"node,attr,omitempty"`
	Features []Feature `xml:"feature"`
}

// Feature is a single feature advertised in a disco#info result.
type Feature struct {
	Var string `xml:"var,attr"`
}

// HasFeature reports whether the result advertises the given feature
// namespace.
func (q InfoQuery) HasFeature(v string) bool {
	for _, f := range q.Features {
		if f.Var == v {
			return true
		}
	}
	return false
}

// TokenReader implements xmlstream.Marshaler.
func (q InfoQuery) TokenReader() xml.TokenReader {
	start := xml.StartElement{Name: xml.Name{Space: ns.DiscoInfo, Local: "query"}}
	if q.Node != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "node"}, Value: q.Node})
	}
	return xmlstream.Wrap(nil, start)
}

// WriteXML implements xmlstream.WriterTo.
func (q InfoQuery) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, q.TokenReader())
}

// ItemsQuery is the payload of a service discovery query for a node's
// items (XEP-0030, disco#items).
type ItemsQuery struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/disco#items query"`
	Node    string   `xml:"node,attr,omitempty"`
	Items   []Item   `xml:"item"`
}

// Item is a single item of a disco#items result.
type Item struct {
	JID  jid.JID `xml:"jid,attr"`
	Name string  `xml:"name,attr,omitempty"`
	Node string  `xml:"node,attr,omitempty"`
}

// TokenReader implements xmlstream.Marshaler.
func (q ItemsQuery) TokenReader() xml.TokenReader {
	start := xml.StartElement{Name: xml.Name{Space: ns.DiscoItems, Local: "query"}}
	if q.Node != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "node"}, Value: q.Node})
	}
	return xmlstream.Wrap(nil, start)
}

// WriteXML implements xmlstream.WriterTo.
func (q ItemsQuery) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, q.TokenReader())
}
