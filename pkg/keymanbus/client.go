package keymanbus

import (
	"errors"
	"fmt"
	"sync"

	"codeberg.org/miketth/keymanlabels/pkg/keyman"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	ServiceName = "com.Keyman"
	ObjectPath  = dbus.ObjectPath("/com/Keyman/IBus")
	Interface   = "com.Keyman"

	KeyboardChangedMember = "KeyboardChanged"
)

const (
	busInterface        = "org.freedesktop.DBus"
	propertiesInterface = "org.freedesktop.DBus.Properties"

	nameOwnerChangedSignal  = busInterface + ".NameOwnerChanged"
	propertiesChangedSignal = propertiesInterface + ".PropertiesChanged"
	keyboardChangedSignal   = Interface + "." + KeyboardChangedMember
)

var ErrBusUnavailable = errors.New("session bus unavailable")

// Client implements keyman.Bus on a D-Bus connection.
type Client struct {
	conn     *dbus.Conn
	ownsConn bool
	log      *zap.SugaredLogger

	signals chan *dbus.Signal
	events  chan keyman.Event
	done    chan struct{}

	closeOnce sync.Once
}

// Connect opens a private session bus connection and subscribes to the
// helper's signals.
func Connect(log *zap.SugaredLogger) (*Client, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBusUnavailable, err)
	}

	client, err := NewClient(conn, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	client.ownsConn = true

	return client, nil
}

// NewClient subscribes to the helper's signals on an existing connection.
func NewClient(conn *dbus.Conn, log *zap.SugaredLogger) (*Client, error) {
	c := &Client{
		conn:    conn,
		log:     log,
		signals: make(chan *dbus.Signal, 64),
		events:  make(chan keyman.Event, 16),
		done:    make(chan struct{}),
	}

	for _, match := range matchRules() {
		if err := conn.AddMatchSignal(match...); err != nil {
			return nil, fmt.Errorf("add match signal: %w", err)
		}
	}

	conn.Signal(c.signals)
	go c.translate()

	return c, nil
}

func matchRules() [][]dbus.MatchOption {
	return [][]dbus.MatchOption{
		{
			dbus.WithMatchInterface(busInterface),
			dbus.WithMatchSender(busInterface),
			dbus.WithMatchMember("NameOwnerChanged"),
			dbus.WithMatchArg(0, ServiceName),
		},
		{
			dbus.WithMatchInterface(propertiesInterface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchObjectPath(ObjectPath),
			dbus.WithMatchArg(0, Interface),
		},
		{
			dbus.WithMatchInterface(Interface),
			dbus.WithMatchMember(KeyboardChangedMember),
		},
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for _, match := range matchRules() {
			if rmErr := c.conn.RemoveMatchSignal(match...); rmErr != nil && err == nil {
				err = fmt.Errorf("remove match signal: %w", rmErr)
			}
		}

		c.conn.RemoveSignal(c.signals)
		close(c.done)

		if c.ownsConn {
			if closeErr := c.conn.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close connection: %w", closeErr)
			}
		}
	})
	return err
}

func (c *Client) NameHasOwner() (bool, error) {
	var owned bool
	err := c.conn.BusObject().Call(busInterface+".NameHasOwner", 0, ServiceName).Store(&owned)
	if err != nil {
		return false, fmt.Errorf("name has owner: %w", err)
	}
	return owned, nil
}

func (c *Client) GetProperty(name string) (string, error) {
	v, err := c.conn.Object(ServiceName, ObjectPath).GetProperty(Interface + "." + name)
	if err != nil {
		return "", fmt.Errorf("get property %s: %w", name, err)
	}

	s, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("property %s has type %s, want string", name, v.Signature())
	}

	return s, nil
}

// Events returns the translated helper signals. The channel is closed once
// the connection stops delivering signals or the client is closed.
func (c *Client) Events() <-chan keyman.Event {
	return c.events
}

func (c *Client) translate() {
	defer close(c.events)

	for {
		var signal *dbus.Signal
		select {
		case <-c.done:
			return
		case s, ok := <-c.signals:
			if !ok {
				return
			}
			signal = s
		}

		ev, ok := eventFromSignal(signal)
		if !ok {
			continue
		}

		c.log.Debugw("keyman signal", "signal", signal.Name, "path", signal.Path)

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func eventFromSignal(signal *dbus.Signal) (keyman.Event, bool) {
	switch signal.Name {
	case nameOwnerChangedSignal:
		if len(signal.Body) < 3 {
			return keyman.Event{}, false
		}

		name, ok := signal.Body[0].(string)
		if !ok || name != ServiceName {
			return keyman.Event{}, false
		}

		newOwner, ok := signal.Body[2].(string)
		if !ok {
			return keyman.Event{}, false
		}

		return keyman.Event{Kind: keyman.NameOwnerChanged, Active: newOwner != ""}, true

	case propertiesChangedSignal:
		if signal.Path != ObjectPath || len(signal.Body) < 2 {
			return keyman.Event{}, false
		}

		iface, ok := signal.Body[0].(string)
		if !ok || iface != Interface {
			return keyman.Event{}, false
		}

		changed, ok := signal.Body[1].(map[string]dbus.Variant)
		if !ok {
			return keyman.Event{}, false
		}

		ev := keyman.Event{Kind: keyman.PropertiesChanged}
		for name := range changed {
			ev.Changed = append(ev.Changed, name)
		}
		if len(signal.Body) > 2 {
			if invalidated, ok := signal.Body[2].([]string); ok {
				ev.Changed = append(ev.Changed, invalidated...)
			}
		}

		return ev, true

	case keyboardChangedSignal:
		if len(signal.Body) < 1 {
			return keyman.Event{}, false
		}

		id, ok := signal.Body[0].(string)
		if !ok {
			return keyman.Event{}, false
		}

		return keyman.Event{Kind: keyman.KeyboardChanged, KeyboardID: id}, true
	}

	return keyman.Event{}, false
}
