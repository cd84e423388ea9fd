package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"codeberg.org/miketth/keymanlabels/pkg/keyboardstore/json"
	"codeberg.org/miketth/keymanlabels/pkg/keyboardstore/memory"
	"codeberg.org/miketth/keymanlabels/pkg/keyboardstore/sqlite"
	"codeberg.org/miketth/keymanlabels/pkg/keyman"
	"codeberg.org/miketth/keymanlabels/pkg/keymanbus"
	"codeberg.org/miketth/keymanlabels/pkg/ldml"
	"github.com/adrg/xdg"
	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	err := run()
	if err != nil {
		log.Fatalf("error: %+v", err)
	}
}

func run() error {
	debug := flag.Bool("debug", false, "enable debug logging")
	storeKind := flag.String("store", "sqlite", "keyboard history store: sqlite, json or memory")
	storePath := flag.String("store-path", "", "path of the keyboard history store (default under $XDG_DATA_HOME/keymanlabels)")
	watchFile := flag.Bool("watch-file", false, "reload labels when the ldml file is rewritten")
	dumpPath := flag.String("dump", "", "print the labels of an ldml file and exit")
	flag.Parse()

	log, err := newLogger(*debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	if *dumpPath != "" {
		return dumpLabels(*dumpPath, log, os.Stdout)
	}

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(*storeKind, *storePath, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if last, err := store.LastKeyboard(); err != nil {
		log.Warnw("read last keyboard", "error", err)
	} else if last != nil {
		log.Infow("last keyboard", "name", last.Name, "ldml", last.LDMLFile, "seen", last.SeenAt.Format(time.RFC3339))
	}

	bus, err := keymanbus.Connect(log)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer bus.Close()

	opts := []keyman.Option{keyman.WithStore(store)}
	if *watchFile {
		opts = append(opts, keyman.WithFileWatch())
	}

	watcher, err := keyman.NewWatcher(bus, log, opts...)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	watcher.OnNameChanged(func(name string) {
		_, _ = daemon.SdNotify(false, "STATUS=Keyman keyboard: "+name)
	})
	watcher.OnKeyboardChanged(func(id string) {
		log.Infow("keyman keyboard changed", "id", id)
	})
	watcher.OnStateChanged(func(active bool) {
		if !active {
			_, _ = daemon.SdNotify(false, "STATUS=Waiting for Keyman")
		}
	})

	log.Infow("started keymanlabels", "active", watcher.IsActive(), "name", watcher.Name())

	errChan := make(chan error, 3)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		err := watcher.ProcessSignals(ctx)
		if err != nil {
			errChan <- fmt.Errorf("process signals: %w", err)
		}
	}()

	go func() {
		defer wg.Done()
		err := systemdNotifyLoop(ctx, watcher.Name())
		if err != nil {
			errChan <- fmt.Errorf("systemd notify: %w", err)
		}
	}()

	if saver, ok := store.(*json.KeyboardStore); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := saver.SaveLooper(ctx)
			if err != nil {
				errChan <- fmt.Errorf("save keyboards: %w", err)
			}
		}()
	}

	err = <-errChan
	stop()
	wg.Wait()

	switch {
	case errors.Is(err, context.Canceled):
		log.Info("shutting down")
		return nil
	case err != nil:
		return err
	}

	return nil
}

type keyboardStore interface {
	keyman.KeyboardStore
	io.Closer
}

type memoryStore struct {
	*memory.KeyboardStore
}

func (memoryStore) Close() error { return nil }

func openStore(kind, path string, log *zap.SugaredLogger) (keyboardStore, error) {
	var ext string
	switch kind {
	case "memory":
		return memoryStore{memory.NewKeyboardStore()}, nil
	case "sqlite":
		ext = ".db"
	case "json":
		ext = ".json"
	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}

	if path == "" {
		var err error
		path, err = xdg.DataFile("keymanlabels/keyboards" + ext)
		if err != nil {
			return nil, fmt.Errorf("get data file: %w", err)
		}
	}
	log.Debugw("opening keyboard store", "kind", kind, "path", path)

	if kind == "json" {
		store, err := json.NewKeyboardStore(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	store, err := sqlite.NewKeyboardStore(path, log)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func dumpLabels(path string, log *zap.SugaredLogger, out io.Writer) error {
	labels, err := ldml.ParseLabels(path, log)
	if err != nil {
		return fmt.Errorf("parse labels: %w", err)
	}

	for _, id := range labels.KeyIDs() {
		byMask := labels.LabelsFromID(id)

		masks := make([]ldml.Modifier, 0, len(byMask))
		for mask := range byMask {
			masks = append(masks, mask)
		}
		sort.Slice(masks, func(i, j int) bool { return masks[i] < masks[j] })

		fields := []string{id}
		for _, mask := range masks {
			fields = append(fields, fmt.Sprintf("%s=%q", mask, byMask[mask]))
		}

		if _, err := fmt.Fprintln(out, strings.Join(fields, "\t")); err != nil {
			return fmt.Errorf("write labels: %w", err)
		}
	}

	return nil
}

func systemdNotifyLoop(ctx context.Context, name string) error {
	// tell systemd that we're ready
	supported, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		return fmt.Errorf("notify systemd: %w", err)
	}
	if !supported {
		return nil
	}

	_, _ = daemon.SdNotify(false, "STATUS=Keyman keyboard: "+name)

	// notify watchdog
	t, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return fmt.Errorf("check watchdog: %w", err)
	}
	// if watchdog is not enabled, we don't need to notify it
	if t == 0 {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-time.After(t / 2):
			_, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			if err != nil {
				return fmt.Errorf("notify watchdog: %w", err)
			}
		}
	}
}

func newLogger(debug bool) (*zap.SugaredLogger, error) {
	loggerConfig := zap.NewDevelopmentConfig()

	loggerConfig.OutputPaths = []string{"stdout"}
	loggerConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if !debug {
		loggerConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return logger.Sugar(), nil
}
