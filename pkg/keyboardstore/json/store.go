package json

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"codeberg.org/miketth/keymanlabels/pkg/keyman"
)

// maxHistory bounds the number of keyboards kept in the file.
const maxHistory = 100

type KeyboardStore struct {
	keyboards []keyman.Keyboard
	file      *os.File
	lock      sync.Mutex
	dirty     bool
}

func NewKeyboardStore(filename string) (*KeyboardStore, error) {
	fileExists := true
	info, err := os.Stat(filename)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		fileExists = false
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	store := &KeyboardStore{
		file:  file,
		dirty: true,
	}

	if fileExists {
		err = store.load()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("load: %w", err)
		}

		store.dirty = false
	}

	return store, nil
}

func (s *KeyboardStore) Close() error {
	return s.file.Close()
}

func (s *KeyboardStore) load() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, err := s.file.Seek(0, 0)
	if err != nil {
		return fmt.Errorf("seek to start of file: %w", err)
	}

	dec := json.NewDecoder(s.file)
	err = dec.Decode(&s.keyboards)
	if err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}

// Save writes the history to disk if it changed since the last save.
func (s *KeyboardStore) Save() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.dirty {
		return nil
	}

	_, err := s.file.Seek(0, 0)
	if err != nil {
		return fmt.Errorf("seek to start of file: %w", err)
	}

	err = s.file.Truncate(0)
	if err != nil {
		return fmt.Errorf("truncate file: %w", err)
	}

	enc := json.NewEncoder(s.file)
	err = enc.Encode(s.keyboards)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	s.dirty = false

	return nil
}

// SaveLooper saves the history every minute and once more when ctx is done.
func (s *KeyboardStore) SaveLooper(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			err := s.Save()
			if err != nil {
				return fmt.Errorf("save: %w", err)
			}

			return ctx.Err()
		case <-time.After(time.Minute):
			err := s.Save()
			if err != nil {
				return fmt.Errorf("save: %w", err)
			}
		}
	}
}

func (s *KeyboardStore) RecordKeyboard(kb keyman.Keyboard) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.keyboards = append(s.keyboards, kb)
	if len(s.keyboards) > maxHistory {
		s.keyboards = s.keyboards[len(s.keyboards)-maxHistory:]
	}
	s.dirty = true
	return nil
}

func (s *KeyboardStore) LastKeyboard() (*keyman.Keyboard, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if len(s.keyboards) == 0 {
		return nil, nil
	}
	kb := s.keyboards[len(s.keyboards)-1]
	return &kb, nil
}
