package ldml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"sort"

	"go.uber.org/zap"
)

// isoRemap renames key ids whose prefixed LDML iso code differs from the
// host's key id.
var isoRemap = map[string]string{
	"AA03": "SPCE",
	"AE00": "TLDE",
	"AB00": "LSGT",
	"AC12": "BKSL",
}

// KeyID converts an LDML iso position code to the host's key id.
func KeyID(iso string) string {
	id := "A" + iso
	if remapped, ok := isoRemap[id]; ok {
		return remapped
	}
	return id
}

// LabelTable maps key ids to the labels each key produces per modifier mask.
// A table is built once and never modified afterwards.
type LabelTable struct {
	keys map[string]ModifierLabels
	log  *zap.SugaredLogger
}

func ParseLabels(path string, log *zap.SugaredLogger) (*LabelTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	table, err := DecodeLabels(file, log)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return table, nil
}

func DecodeLabels(r io.Reader, log *zap.SugaredLogger) (*LabelTable, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var doc Keyboard
	dec := xml.NewDecoder(r)
	err := dec.Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("decode xml: %w", err)
	}

	if err := checkTrailing(dec); err != nil {
		return nil, fmt.Errorf("decode xml: %w", err)
	}

	table := &LabelTable{
		keys: make(map[string]ModifierLabels),
		log:  log,
	}

	for _, keyMap := range doc.KeyMaps {
		masks := []Modifier{0}
		if keyMap.Modifiers != nil {
			var unknown []string
			masks, unknown = ParseModifiers(*keyMap.Modifiers)
			if len(unknown) > 0 {
				log.Debugw("ignoring unknown ldml modifiers", "modifiers", *keyMap.Modifiers, "unknown", unknown)
			}
		}

		for _, m := range keyMap.Maps {
			if m.ISO == "" {
				log.Debugw("skipping map without iso", "to", m.To)
				continue
			}

			id := KeyID(m.ISO)
			labels, ok := table.keys[id]
			if !ok {
				labels = make(ModifierLabels)
				table.keys[id] = labels
			}

			for _, mask := range masks {
				labels[mask] = m.To
			}
		}
	}

	return table, nil
}

var errTrailingContent = errors.New("trailing content")

// checkTrailing reads the rest of the document after the root element. Only
// whitespace, comments and processing instructions may follow it.
func checkTrailing(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch tok := tok.(type) {
		case xml.StartElement, xml.EndElement:
			return errTrailingContent
		case xml.CharData:
			if len(bytes.TrimSpace(tok)) > 0 {
				return errTrailingContent
			}
		}
	}
}

// LabelsFromID returns a copy of the labels for a key id. Unknown ids, and lookups on a
// nil table, yield an empty map.
func (t *LabelTable) LabelsFromID(id string) ModifierLabels {
	if t == nil {
		return ModifierLabels{}
	}

	labels, ok := t.keys[id]
	if !ok {
		t.log.Debugw("unknown key id", "id", id)
		return ModifierLabels{}
	}

	return maps.Clone(labels)
}

func (t *LabelTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}

// KeyIDs returns the labelled key ids in sorted order.
func (t *LabelTable) KeyIDs() []string {
	if t == nil {
		return nil
	}

	ids := make([]string, 0, len(t.keys))
	for id := range t.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}
