package model

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
)

const xmlHeader = `<?xml version="1.0" encoding="utf-8"?>` +
	`<!DOCTYPE context [` +
	`<!ELEMENT context (device | context-attribute)*>` +
	`<!ELEMENT context-attribute EMPTY>` +
	`<!ELEMENT device (channel | attribute | debug-attribute | buffer-attribute)*>` +
	`<!ELEMENT channel (scan-element?, attribute*)>` +
	`<!ELEMENT attribute EMPTY>` +
	`<!ELEMENT scan-element EMPTY>` +
	`<!ELEMENT debug-attribute EMPTY>` +
	`<!ELEMENT buffer-attribute EMPTY>` +
	`<!ATTLIST context name CDATA #REQUIRED description CDATA #IMPLIED>` +
	`<!ATTLIST context-attribute name CDATA #REQUIRED value CDATA #REQUIRED>` +
	`<!ATTLIST device id CDATA #REQUIRED name CDATA #IMPLIED label CDATA #IMPLIED>` +
	`<!ATTLIST channel id CDATA #REQUIRED type (input|output) #REQUIRED name CDATA #IMPLIED>` +
	`<!ATTLIST scan-element index CDATA #REQUIRED format CDATA #REQUIRED scale CDATA #IMPLIED>` +
	`<!ATTLIST attribute name CDATA #REQUIRED filename CDATA #IMPLIED>` +
	`<!ATTLIST debug-attribute name CDATA #REQUIRED>` +
	`<!ATTLIST buffer-attribute name CDATA #REQUIRED>` +
	`]>`

// XMLPrefix is how every context description starts. It tells an XML
// payload apart from a compressed one.
const XMLPrefix = "<?xml"

type xmlContext struct {
	XMLName     xml.Name         `xml:"context"`
	Name        string           `xml:"name,attr"`
	Description string           `xml:"description,attr,omitempty"`
	Attrs       []xmlContextAttr `xml:"context-attribute"`
	Devices     []xmlDevice      `xml:"device"`
}

type xmlContextAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type xmlDevice struct {
	ID          string       `xml:"id,attr"`
	Name        string       `xml:"name,attr,omitempty"`
	Label       string       `xml:"label,attr,omitempty"`
	Channels    []xmlChannel `xml:"channel"`
	Attrs       []xmlAttr    `xml:"attribute"`
	DebugAttrs  []xmlAttr    `xml:"debug-attribute"`
	BufferAttrs []xmlAttr    `xml:"buffer-attribute"`
}

type xmlChannel struct {
	ID          string          `xml:"id,attr"`
	Name        string          `xml:"name,attr,omitempty"`
	Type        string          `xml:"type,attr"`
	ScanElement *xmlScanElement `xml:"scan-element"`
	Attrs       []xmlAttr       `xml:"attribute"`
}

type xmlScanElement struct {
	Index  int    `xml:"index,attr"`
	Format string `xml:"format,attr"`
	Scale  string `xml:"scale,attr,omitempty"`
}

type xmlAttr struct {
	Name     string `xml:"name,attr"`
	Filename string `xml:"filename,attr,omitempty"`
}

func toXMLAttrs(attrs []Attr) []xmlAttr {
	out := make([]xmlAttr, len(attrs))
	for i, a := range attrs {
		out[i] = xmlAttr{Name: a.Name, Filename: a.Filename}
	}
	return out
}

func fromXMLAttrs(attrs []xmlAttr) []Attr {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]Attr, len(attrs))
	for i, a := range attrs {
		out[i] = Attr{Name: a.Name, Filename: a.Filename}
	}
	return out
}

// XML renders the context description sent in answer to PRINT.
func (c *Context) XML() ([]byte, error) {
	xc := xmlContext{Name: c.Name, Description: c.Description}
	for _, a := range c.Attrs {
		xc.Attrs = append(xc.Attrs, xmlContextAttr{Name: a.Name, Value: a.Value})
	}

	for _, d := range c.Devices {
		xd := xmlDevice{
			ID:          d.ID,
			Name:        d.Name,
			Label:       d.Label,
			Attrs:       toXMLAttrs(d.Attrs),
			DebugAttrs:  toXMLAttrs(d.DebugAttrs),
			BufferAttrs: toXMLAttrs(d.BufferAttrs),
		}
		for _, ch := range d.Channels {
			xch := xmlChannel{
				ID:    ch.ID,
				Name:  ch.Name,
				Type:  "input",
				Attrs: toXMLAttrs(ch.Attrs),
			}
			if ch.Output {
				xch.Type = "output"
			}
			if ch.ScanElement {
				se := &xmlScanElement{Index: ch.Index, Format: ch.Format.String()}
				if ch.Format.WithScale {
					se.Scale = strconv.FormatFloat(ch.Format.Scale, 'f', 6, 64)
				}
				xch.ScanElement = se
			}
			xd.Channels = append(xd.Channels, xch)
		}
		xc.Devices = append(xc.Devices, xd)
	}

	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	if err := xml.NewEncoder(&buf).Encode(xc); err != nil {
		return nil, fmt.Errorf("model: encode context: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseXML builds a context from its XML description.
func ParseXML(data []byte) (*Context, error) {
	var xc xmlContext
	if err := xml.Unmarshal(data, &xc); err != nil {
		return nil, fmt.Errorf("model: parse context: %w", err)
	}

	c := &Context{Name: xc.Name, Description: xc.Description}
	for _, a := range xc.Attrs {
		c.Attrs = append(c.Attrs, ContextAttr{Name: a.Name, Value: a.Value})
	}

	for _, xd := range xc.Devices {
		d := &Device{
			ID:          xd.ID,
			Name:        xd.Name,
			Label:       xd.Label,
			Attrs:       fromXMLAttrs(xd.Attrs),
			DebugAttrs:  fromXMLAttrs(xd.DebugAttrs),
			BufferAttrs: fromXMLAttrs(xd.BufferAttrs),
		}
		for _, xch := range xd.Channels {
			ch := &Channel{
				ID:     xch.ID,
				Name:   xch.Name,
				Output: xch.Type == "output",
				Index:  -1,
				Attrs:  fromXMLAttrs(xch.Attrs),
			}
			if se := xch.ScanElement; se != nil {
				f, err := ParseDataFormat(se.Format)
				if err != nil {
					return nil, err
				}
				if se.Scale != "" {
					scale, err := strconv.ParseFloat(se.Scale, 64)
					if err != nil {
						return nil, fmt.Errorf("model: channel %s: bad scale %q", ch.ID, se.Scale)
					}
					f.WithScale = true
					f.Scale = scale
				}
				ch.ScanElement = true
				ch.Index = se.Index
				ch.Format = f
			}
			d.Channels = append(d.Channels, ch)
		}
		c.Devices = append(c.Devices, d)
	}

	c.Index()
	return c, nil
}
