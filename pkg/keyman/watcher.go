package keyman

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"codeberg.org/miketth/keymanlabels/pkg/ldml"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("keyman event stream closed")

type Option func(*Watcher) error

// WithStore records every keyboard the watcher loads labels for.
func WithStore(store KeyboardStore) Option {
	return func(w *Watcher) error {
		w.store = store
		return nil
	}
}

// WithFileWatch rebuilds the labels whenever the advertised LDML file is
// rewritten.
func WithFileWatch() Option {
	return func(w *Watcher) error {
		files, err := newFileWatcher()
		if err != nil {
			return err
		}
		w.files = files
		return nil
	}
}

// Watcher follows the Keyman helper on the bus and keeps the key label table
// for its current keyboard.
type Watcher struct {
	bus   Bus
	store KeyboardStore
	files *fileWatcher
	log   *zap.SugaredLogger
	now   func() time.Time

	mu       sync.RWMutex
	active   bool
	name     string
	ldmlFile string
	labels   *ldml.LabelTable

	nameObservers     observers[string]
	keyboardObservers observers[string]
	stateObservers    observers[bool]
}

// NewWatcher reads the helper's current state from bus. Errors from the bus
// or from parsing the advertised LDML file abort construction.
func NewWatcher(bus Bus, log *zap.SugaredLogger, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		bus:  bus,
		log:  log,
		now:  time.Now,
		name: NoName,
	}

	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	active, err := bus.NameHasOwner()
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("query name owner: %w", err)
	}

	if err := w.setConnection(active); err != nil {
		w.Close()
		return nil, fmt.Errorf("initial state: %w", err)
	}

	return w, nil
}

func (w *Watcher) Close() error {
	if w.files == nil {
		return nil
	}
	return w.files.Close()
}

// OnNameChanged registers fn to be called with the display name after every
// (re)connection and every name change. The returned function unregisters it.
func (w *Watcher) OnNameChanged(fn func(name string)) func() {
	return w.nameObservers.add(fn)
}

// OnKeyboardChanged registers fn for the helper's keyboard changed signal.
func (w *Watcher) OnKeyboardChanged(fn func(keyboardID string)) func() {
	return w.keyboardObservers.add(fn)
}

// OnStateChanged registers fn to be called when the helper appears or
// disappears.
func (w *Watcher) OnStateChanged(fn func(active bool)) func() {
	return w.stateObservers.add(fn)
}

func (w *Watcher) IsActive() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active
}

func (w *Watcher) Name() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.name
}

func (w *Watcher) LDMLFile() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ldmlFile
}

// Labels returns the current label table, nil when no keyboard is loaded.
func (w *Watcher) Labels() *ldml.LabelTable {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.labels
}

func (w *Watcher) LabelsFromID(id string) ldml.ModifierLabels {
	return w.Labels().LabelsFromID(id)
}

// ProcessSignals handles bus events until ctx is done, the event stream ends
// or a label rebuild fails.
func (w *Watcher) ProcessSignals(ctx context.Context) error {
	events := w.bus.Events()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return ErrClosed
			}
			if err := w.HandleEvent(ev); err != nil {
				return fmt.Errorf("handle %s: %w", ev.Kind, err)
			}

		case ev := <-w.files.events():
			if !w.files.matches(ev) {
				continue
			}
			w.reload()

		case err := <-w.files.errors():
			w.log.Warnw("ldml file watch error", "error", err)
		}
	}
}

func (w *Watcher) HandleEvent(ev Event) error {
	switch ev.Kind {
	case NameOwnerChanged:
		return w.setConnection(ev.Active)

	case PropertiesChanged:
		if !w.IsActive() || !slices.Contains(ev.Changed, PropName) {
			return nil
		}
		return w.refresh()

	case KeyboardChanged:
		w.log.Debugw("keyboard changed", "id", ev.KeyboardID)
		w.keyboardObservers.notify(ev.KeyboardID)
	}

	return nil
}

func (w *Watcher) setConnection(active bool) error {
	w.mu.RLock()
	wasActive := w.active
	w.mu.RUnlock()

	if !active {
		w.disconnect()
		if wasActive {
			w.log.Info("keyman went away")
			w.stateObservers.notify(false)
		}
		return nil
	}

	if !wasActive {
		w.log.Info("keyman appeared")
	}

	err := w.refresh()
	if err != nil {
		return err
	}

	if !wasActive && w.IsActive() {
		w.stateObservers.notify(true)
	}

	return nil
}

func (w *Watcher) disconnect() {
	w.mu.Lock()
	w.active = false
	w.name = NoName
	w.ldmlFile = ""
	w.labels = nil
	w.mu.Unlock()

	w.retarget("")
}

// refresh re-reads both helper properties, rebuilds the labels and notifies
// name observers. A helper that cannot be queried is treated as gone.
func (w *Watcher) refresh() error {
	ldmlFile, err := w.bus.GetProperty(PropLDMLFile)
	if err != nil {
		w.log.Warnw("read keyman property", "property", PropLDMLFile, "error", err)
		return w.setConnection(false)
	}

	name, err := w.bus.GetProperty(PropName)
	if err != nil {
		w.log.Warnw("read keyman property", "property", PropName, "error", err)
		return w.setConnection(false)
	}

	labels, err := w.buildLabels(ldmlFile, name)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.active = true
	w.name = name
	w.ldmlFile = ldmlFile
	w.labels = labels
	w.mu.Unlock()

	if labels != nil {
		w.retarget(ldmlFile)
		w.record(name, ldmlFile, labels)
	} else {
		w.retarget("")
	}

	w.log.Infow("keyman keyboard", "name", name, "ldml", ldmlFile, "keys", labels.Len())
	w.nameObservers.notify(name)

	return nil
}

// reload rebuilds the labels from the current LDML file after it was
// rewritten on disk. Unlike bus driven rebuilds, parse errors are only logged.
func (w *Watcher) reload() {
	w.mu.RLock()
	name, ldmlFile := w.name, w.ldmlFile
	w.mu.RUnlock()

	labels, err := w.buildLabels(ldmlFile, name)
	if err != nil {
		// the file may be caught half written, keep the old table until the
		// next write event
		w.log.Warnw("reload keyman labels", "ldml", ldmlFile, "error", err)
		return
	}

	w.mu.Lock()
	w.labels = labels
	w.mu.Unlock()

	w.log.Infow("reloaded keyman labels", "ldml", ldmlFile, "keys", labels.Len())
	w.nameObservers.notify(name)
}

func (w *Watcher) buildLabels(ldmlFile, name string) (*ldml.LabelTable, error) {
	if ldmlFile == "" || name == "" || name == NoName {
		return nil, nil
	}

	labels, err := ldml.ParseLabels(ldmlFile, w.log)
	if err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}

	return labels, nil
}

func (w *Watcher) retarget(path string) {
	if w.files == nil {
		return
	}
	if err := w.files.watch(path); err != nil {
		w.log.Warnw("watch ldml file", "path", path, "error", err)
	}
}

func (w *Watcher) record(name, ldmlFile string, labels *ldml.LabelTable) {
	if w.store == nil {
		return
	}

	err := w.store.RecordKeyboard(Keyboard{
		Name:     name,
		LDMLFile: ldmlFile,
		Keys:     labels.Len(),
		SeenAt:   w.now(),
	})
	if err != nil {
		w.log.Warnw("record keyboard", "name", name, "error", err)
	}
}
