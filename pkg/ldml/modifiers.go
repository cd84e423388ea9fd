package ldml

import "strings"

type Modifier uint8

const (
	Shift Modifier = 1 << iota
	Caps
	Ctrl
	Alt
	NumLock
	Mod3
	Super
	AltGr
)

var modifierNames = []struct {
	mod  Modifier
	name string
}{
	{Shift, "shift"},
	{Caps, "caps"},
	{Ctrl, "ctrl"},
	{Alt, "alt"},
	{NumLock, "numlock"},
	{Mod3, "mod3"},
	{Super, "super"},
	{AltGr, "altgr"},
}

func (m Modifier) String() string {
	if m == 0 {
		return "none"
	}

	var parts []string
	for _, n := range modifierNames {
		if m&n.mod != 0 {
			parts = append(parts, n.name)
		}
	}

	return strings.Join(parts, "+")
}

// ldmlModifiers translates LDML modifier tokens to mask bits.
var ldmlModifiers = map[string]Modifier{
	"shift": Shift,
	"altR":  AltGr,
	"ctrlR": Mod3,
	"ctrlL": Ctrl,
	"ctrl":  Ctrl,
	"altL":  Alt,
	"alt":   Alt,
}

// ParseModifiers converts an LDML modifiers attribute into one mask per
// whitespace-separated combination. Tokens within a combination are joined
// with '+'. Unknown tokens contribute no bits; the second return value lists
// them so callers can report them.
func ParseModifiers(attr string) ([]Modifier, []string) {
	combinations := strings.Fields(attr)
	if len(combinations) == 0 {
		return []Modifier{0}, nil
	}

	var unknown []string
	masks := make([]Modifier, 0, len(combinations))
	for _, combination := range combinations {
		var mask Modifier
		for _, token := range strings.Split(combination, "+") {
			bit, ok := ldmlModifiers[token]
			if !ok {
				unknown = append(unknown, token)
				continue
			}
			mask |= bit
		}
		masks = append(masks, mask)
	}

	return masks, unknown
}
