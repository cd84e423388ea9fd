package ldml

import "encoding/xml"

// Keyboard is the root of an LDML keyboard document. The root element name is
// not checked, only its direct keyMap children are read.
type Keyboard struct {
	XMLName xml.Name
	Locale  string   `xml:"locale,attr"`
	KeyMaps []KeyMap `xml:"keyMap"`
}

type KeyMap struct {
	Modifiers *string `xml:"modifiers,attr"`
	Maps      []Map   `xml:"map"`
}

type Map struct {
	ISO string `xml:"iso,attr"`
	To  string `xml:"to,attr"`
}

// ModifierLabels maps a modifier mask to the label the key produces under it.
type ModifierLabels map[Modifier]string
