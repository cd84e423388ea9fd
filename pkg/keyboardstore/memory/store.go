package memory

import "codeberg.org/miketth/keymanlabels/pkg/keyman"

type KeyboardStore struct {
	keyboards []keyman.Keyboard
}

func NewKeyboardStore() *KeyboardStore {
	return &KeyboardStore{}
}

func (s *KeyboardStore) RecordKeyboard(kb keyman.Keyboard) error {
	s.keyboards = append(s.keyboards, kb)
	return nil
}

func (s *KeyboardStore) LastKeyboard() (*keyman.Keyboard, error) {
	if len(s.keyboards) == 0 {
		return nil, nil
	}
	kb := s.keyboards[len(s.keyboards)-1]
	return &kb, nil
}
