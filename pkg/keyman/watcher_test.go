package keyman

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/miketth/keymanlabels/pkg/ldml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBus struct {
	mu      sync.Mutex
	owned   bool
	props   map[string]string
	propErr error
	events  chan Event
}

func newFakeBus(owned bool, props map[string]string) *fakeBus {
	return &fakeBus{
		owned:  owned,
		props:  props,
		events: make(chan Event, 16),
	}
}

func (b *fakeBus) NameHasOwner() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owned, nil
}

func (b *fakeBus) GetProperty(name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.propErr != nil {
		return "", b.propErr
	}
	return b.props[name], nil
}

func (b *fakeBus) Events() <-chan Event {
	return b.events
}

func (b *fakeBus) set(name, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.props[name] = value
}

type memStore struct {
	keyboards []Keyboard
}

func (s *memStore) RecordKeyboard(kb Keyboard) error {
	s.keyboards = append(s.keyboards, kb)
	return nil
}

func (s *memStore) LastKeyboard() (*Keyboard, error) {
	if len(s.keyboards) == 0 {
		return nil, nil
	}
	kb := s.keyboards[len(s.keyboards)-1]
	return &kb, nil
}

func writeLDML(t *testing.T, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

const sampleLDML = `<keyboard locale="fr-t-k0-test">
  <keyMap><map iso="AD01" to="a"/></keyMap>
  <keyMap modifiers="shift"><map iso="AD01" to="A"/></keyMap>
</keyboard>`

func newTestWatcher(t *testing.T, bus Bus, opts ...Option) *Watcher {
	t.Helper()

	w, err := NewWatcher(bus, zap.NewNop().Sugar(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	return w
}

func TestNewWatcherDisconnected(t *testing.T) {
	bus := newFakeBus(false, map[string]string{})
	w := newTestWatcher(t, bus)

	assert.False(t, w.IsActive())
	assert.Equal(t, NoName, w.Name())
	assert.Nil(t, w.Labels())
	assert.Empty(t, w.LabelsFromID("AAD01"))
}

func TestNewWatcherConnected(t *testing.T) {
	path := writeLDML(t, t.TempDir(), "fr.ldml", sampleLDML)
	bus := newFakeBus(true, map[string]string{PropLDMLFile: path, PropName: "French"})
	store := &memStore{}

	w := newTestWatcher(t, bus, WithStore(store))

	assert.True(t, w.IsActive())
	assert.Equal(t, "French", w.Name())
	assert.Equal(t, path, w.LDMLFile())
	assert.Equal(t, ldml.ModifierLabels{0: "a", ldml.Shift: "A"}, w.LabelsFromID("AAD01"))

	require.Len(t, store.keyboards, 1)
	assert.Equal(t, "French", store.keyboards[0].Name)
	assert.Equal(t, 1, store.keyboards[0].Keys)
}

func TestNewWatcherParseError(t *testing.T) {
	path := writeLDML(t, t.TempDir(), "broken.ldml", `<keyboard><keyMap>`)
	bus := newFakeBus(true, map[string]string{PropLDMLFile: path, PropName: "Broken"})

	_, err := NewWatcher(bus, zap.NewNop().Sugar())
	require.Error(t, err)
}

func TestWatcherConnectedWithoutKeyboard(t *testing.T) {
	for _, props := range []map[string]string{
		{PropLDMLFile: "", PropName: "French"},
		{PropLDMLFile: "/nonexistent.ldml", PropName: NoName},
		{PropLDMLFile: "/nonexistent.ldml", PropName: ""},
	} {
		bus := newFakeBus(true, props)
		w := newTestWatcher(t, bus)

		assert.True(t, w.IsActive())
		assert.Nil(t, w.Labels())
	}
}

func TestWatcherNameOwnerTransitions(t *testing.T) {
	path := writeLDML(t, t.TempDir(), "fr.ldml", sampleLDML)
	bus := newFakeBus(false, map[string]string{PropLDMLFile: path, PropName: "French"})
	w := newTestWatcher(t, bus)

	var names []string
	var states []bool
	w.OnNameChanged(func(name string) { names = append(names, name) })
	w.OnStateChanged(func(active bool) { states = append(states, active) })

	require.NoError(t, w.HandleEvent(Event{Kind: NameOwnerChanged, Active: true}))
	assert.True(t, w.IsActive())
	assert.Equal(t, "French", w.Name())
	assert.Equal(t, 1, w.Labels().Len())

	require.NoError(t, w.HandleEvent(Event{Kind: NameOwnerChanged, Active: false}))
	assert.False(t, w.IsActive())
	assert.Equal(t, NoName, w.Name())
	assert.Nil(t, w.Labels())
	assert.Empty(t, w.LDMLFile())

	assert.Equal(t, []string{"French"}, names)
	assert.Equal(t, []bool{true, false}, states)
}

func TestWatcherNamePropertyChanged(t *testing.T) {
	dir := t.TempDir()
	fr := writeLDML(t, dir, "fr.ldml", sampleLDML)
	de := writeLDML(t, dir, "de.ldml", `<keyboard><keyMap><map iso="AD06" to="z"/></keyMap></keyboard>`)

	bus := newFakeBus(true, map[string]string{PropLDMLFile: fr, PropName: "French"})
	store := &memStore{}
	w := newTestWatcher(t, bus, WithStore(store))

	var names []string
	w.OnNameChanged(func(name string) { names = append(names, name) })

	bus.set(PropLDMLFile, de)
	bus.set(PropName, "German")

	require.NoError(t, w.HandleEvent(Event{Kind: PropertiesChanged, Changed: []string{"Other"}}))
	assert.Equal(t, "French", w.Name())

	require.NoError(t, w.HandleEvent(Event{Kind: PropertiesChanged, Changed: []string{PropName}}))
	assert.Equal(t, "German", w.Name())
	assert.Empty(t, w.LabelsFromID("AAD01"))
	assert.Equal(t, ldml.ModifierLabels{0: "z"}, w.LabelsFromID("AAD06"))
	assert.Equal(t, []string{"German"}, names)

	last, err := store.LastKeyboard()
	require.NoError(t, err)
	assert.Equal(t, "German", last.Name)
	assert.Equal(t, de, last.LDMLFile)

	bus.set(PropName, NoName)
	require.NoError(t, w.HandleEvent(Event{Kind: PropertiesChanged, Changed: []string{PropName}}))
	assert.Nil(t, w.Labels())
	assert.Equal(t, []string{"German", NoName}, names)
	assert.Len(t, store.keyboards, 2)
}

func TestWatcherPropertyChangedWhileDisconnected(t *testing.T) {
	bus := newFakeBus(false, map[string]string{PropName: "French"})
	w := newTestWatcher(t, bus)

	called := false
	w.OnNameChanged(func(string) { called = true })

	require.NoError(t, w.HandleEvent(Event{Kind: PropertiesChanged, Changed: []string{PropName}}))
	assert.False(t, called)
	assert.Equal(t, NoName, w.Name())
}

func TestWatcherPropertyChangedParseError(t *testing.T) {
	dir := t.TempDir()
	fr := writeLDML(t, dir, "fr.ldml", sampleLDML)
	bus := newFakeBus(true, map[string]string{PropLDMLFile: fr, PropName: "French"})
	w := newTestWatcher(t, bus)

	bus.set(PropLDMLFile, filepath.Join(dir, "missing.ldml"))
	bus.set(PropName, "Missing")

	err := w.HandleEvent(Event{Kind: PropertiesChanged, Changed: []string{PropName}})
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, "French", w.Name())
}

func TestWatcherPropertyReadFailureDisconnects(t *testing.T) {
	path := writeLDML(t, t.TempDir(), "fr.ldml", sampleLDML)
	bus := newFakeBus(true, map[string]string{PropLDMLFile: path, PropName: "French"})
	w := newTestWatcher(t, bus)

	bus.mu.Lock()
	bus.propErr = errors.New("service unknown")
	bus.mu.Unlock()

	require.NoError(t, w.HandleEvent(Event{Kind: PropertiesChanged, Changed: []string{PropName}}))
	assert.False(t, w.IsActive())
	assert.Equal(t, NoName, w.Name())
}

func TestWatcherUnsubscribe(t *testing.T) {
	bus := newFakeBus(false, map[string]string{})
	w := newTestWatcher(t, bus)

	var first, second []string
	removeFirst := w.OnKeyboardChanged(func(id string) { first = append(first, id) })
	w.OnKeyboardChanged(func(id string) { second = append(second, id) })

	require.NoError(t, w.HandleEvent(Event{Kind: KeyboardChanged, KeyboardID: "fr"}))
	removeFirst()
	removeFirst()
	require.NoError(t, w.HandleEvent(Event{Kind: KeyboardChanged, KeyboardID: "de"}))

	assert.Equal(t, []string{"fr"}, first)
	assert.Equal(t, []string{"fr", "de"}, second)
}

func TestProcessSignals(t *testing.T) {
	path := writeLDML(t, t.TempDir(), "fr.ldml", sampleLDML)
	bus := newFakeBus(false, map[string]string{PropLDMLFile: path, PropName: "French"})
	w := newTestWatcher(t, bus)

	names := make(chan string, 1)
	w.OnNameChanged(func(name string) { names <- name })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.ProcessSignals(ctx) }()

	bus.events <- Event{Kind: NameOwnerChanged, Active: true}

	select {
	case name := <-names:
		assert.Equal(t, "French", name)
	case <-time.After(5 * time.Second):
		t.Fatal("name callback not invoked")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestProcessSignalsClosedStream(t *testing.T) {
	bus := newFakeBus(false, map[string]string{})
	w := newTestWatcher(t, bus)

	close(bus.events)
	assert.ErrorIs(t, w.ProcessSignals(context.Background()), ErrClosed)
}

func TestProcessSignalsReloadsRewrittenFile(t *testing.T) {
	path := writeLDML(t, t.TempDir(), "fr.ldml", sampleLDML)
	bus := newFakeBus(true, map[string]string{PropLDMLFile: path, PropName: "French"})
	w := newTestWatcher(t, bus, WithFileWatch())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.ProcessSignals(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte(`<keyboard><keyMap><map iso="AD01" to="b"/></keyMap></keyboard>`), 0o644))

	require.Eventually(t, func() bool {
		return w.LabelsFromID("AAD01")[0] == "b"
	}, 5*time.Second, 20*time.Millisecond)
}
