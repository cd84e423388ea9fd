package keymanbus

import (
	"testing"

	"codeberg.org/miketth/keymanlabels/pkg/keyman"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

func TestEventFromSignal(t *testing.T) {
	tests := []struct {
		name   string
		signal *dbus.Signal
		want   keyman.Event
		ok     bool
	}{
		{
			name: "name acquired",
			signal: &dbus.Signal{
				Name: nameOwnerChangedSignal,
				Body: []interface{}{ServiceName, "", ":1.42"},
			},
			want: keyman.Event{Kind: keyman.NameOwnerChanged, Active: true},
			ok:   true,
		},
		{
			name: "name lost",
			signal: &dbus.Signal{
				Name: nameOwnerChangedSignal,
				Body: []interface{}{ServiceName, ":1.42", ""},
			},
			want: keyman.Event{Kind: keyman.NameOwnerChanged, Active: false},
			ok:   true,
		},
		{
			name: "other service",
			signal: &dbus.Signal{
				Name: nameOwnerChangedSignal,
				Body: []interface{}{"org.example.Other", "", ":1.7"},
			},
		},
		{
			name: "short body",
			signal: &dbus.Signal{
				Name: nameOwnerChangedSignal,
				Body: []interface{}{ServiceName},
			},
		},
		{
			name: "name property changed",
			signal: &dbus.Signal{
				Path: ObjectPath,
				Name: propertiesChangedSignal,
				Body: []interface{}{
					Interface,
					map[string]dbus.Variant{keyman.PropName: dbus.MakeVariant("French")},
					[]string{keyman.PropLDMLFile},
				},
			},
			want: keyman.Event{
				Kind:    keyman.PropertiesChanged,
				Changed: []string{keyman.PropName, keyman.PropLDMLFile},
			},
			ok: true,
		},
		{
			name: "properties of other interface",
			signal: &dbus.Signal{
				Path: ObjectPath,
				Name: propertiesChangedSignal,
				Body: []interface{}{"org.example.Other", map[string]dbus.Variant{}, []string{}},
			},
		},
		{
			name: "properties on other path",
			signal: &dbus.Signal{
				Path: "/org/example",
				Name: propertiesChangedSignal,
				Body: []interface{}{Interface, map[string]dbus.Variant{}, []string{}},
			},
		},
		{
			name: "keyboard changed",
			signal: &dbus.Signal{
				Path: ObjectPath,
				Name: keyboardChangedSignal,
				Body: []interface{}{"fr-azerty"},
			},
			want: keyman.Event{Kind: keyman.KeyboardChanged, KeyboardID: "fr-azerty"},
			ok:   true,
		},
		{
			name: "keyboard changed without id",
			signal: &dbus.Signal{
				Name: keyboardChangedSignal,
				Body: []interface{}{uint32(3)},
			},
		},
		{
			name:   "unrelated signal",
			signal: &dbus.Signal{Name: busInterface + ".NameAcquired", Body: []interface{}{":1.9"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := eventFromSignal(tt.signal)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
