package keyman

import "time"

const (
	PropLDMLFile = "LDMLFile"
	PropName     = "Name"

	// NoName is the display name reported while no keyboard is active.
	NoName = "None"
)

type EventKind int

const (
	// NameOwnerChanged reports that the helper gained or lost its bus name.
	NameOwnerChanged EventKind = iota
	// PropertiesChanged lists properties the helper changed.
	PropertiesChanged
	// KeyboardChanged carries the helper's keyboard id.
	KeyboardChanged
)

func (k EventKind) String() string {
	switch k {
	case NameOwnerChanged:
		return "NameOwnerChanged"
	case PropertiesChanged:
		return "PropertiesChanged"
	case KeyboardChanged:
		return "KeyboardChanged"
	}
	return "unknown"
}

type Event struct {
	Kind EventKind

	// Active is set for NameOwnerChanged.
	Active bool
	// Changed holds the changed property names for PropertiesChanged.
	Changed []string
	// KeyboardID is set for KeyboardChanged.
	KeyboardID string
}

// Bus is the connection to the Keyman helper.
type Bus interface {
	NameHasOwner() (bool, error)
	GetProperty(name string) (string, error)
	Events() <-chan Event
}

type Keyboard struct {
	Name     string
	LDMLFile string
	Keys     int
	SeenAt   time.Time
}

type KeyboardStore interface {
	RecordKeyboard(kb Keyboard) error
	LastKeyboard() (*Keyboard, error)
}
