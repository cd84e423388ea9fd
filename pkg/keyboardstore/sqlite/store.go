package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"codeberg.org/miketth/keymanlabels/pkg/keyboardstore/sqlite/migrations"
	"codeberg.org/miketth/keymanlabels/pkg/keyman"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

type KeyboardStore struct {
	db      *sql.DB
	querier *Queries
}

func NewKeyboardStore(filename string, log *zap.SugaredLogger) (*KeyboardStore, error) {
	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := migrations.Migrate(db, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &KeyboardStore{
		db:      db,
		querier: New(db),
	}, nil
}

func (s *KeyboardStore) Close() error {
	return s.db.Close()
}

func (s *KeyboardStore) RecordKeyboard(kb keyman.Keyboard) error {
	if err := s.querier.InsertKeyboard(context.Background(), InsertKeyboardParams{
		Name:     kb.Name,
		LdmlFile: kb.LDMLFile,
		Keys:     int64(kb.Keys),
		SeenAt:   kb.SeenAt.UnixNano(),
	}); err != nil {
		return fmt.Errorf("sqlite insert: %w", err)
	}

	return nil
}

func (s *KeyboardStore) LastKeyboard() (*keyman.Keyboard, error) {
	row, err := s.querier.GetLastKeyboard(context.Background())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite select: %w", err)
	}

	return &keyman.Keyboard{
		Name:     row.Name,
		LDMLFile: row.LdmlFile,
		Keys:     int(row.Keys),
		SeenAt:   time.Unix(0, row.SeenAt),
	}, nil
}
