package datanorm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Row is one record from a carrier report. Positional rows come from CSV
// readers and share a Header; Keyed rows come from spreadsheet parsers.
type Row interface {
	// Lookup returns the value under the first alias naming a column,
	// comparing names case-insensitively. Alias order is priority order.
	Lookup(aliases []string) (any, bool)

	// Values returns the row's cells in natural order: column order for
	// positional rows, key insertion order for keyed rows.
	Values() []any
}

// Pick resolves aliases against row. A nil row or an empty alias list is a
// miss, never an error.
func Pick(row Row, aliases []string) (any, bool) {
	if row == nil || len(aliases) == 0 {
		return nil, false
	}
	return row.Lookup(aliases)
}

func columnKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Header is a resolved header row: lowercase column name -> index. When two
// headers collide after lowercasing, the later column wins.
type Header struct {
	names []string
	index map[string]int
}

// NewHeader builds the case-insensitive index for a raw header row.
func NewHeader(names []string) *Header {
	h := &Header{
		names: names,
		index: make(map[string]int, len(names)),
	}
	for i, n := range names {
		if key := columnKey(n); key != "" {
			h.index[key] = i
		}
	}
	return h
}

// Names returns the original header names.
func (h *Header) Names() []string {
	if h == nil {
		return nil
	}
	return h.names
}

// Positional is a row of cells addressed through a shared Header. Without a
// header no alias can match.
type Positional struct {
	Header *Header
	Cells  []any
}

// Lookup implements Row.
func (p Positional) Lookup(aliases []string) (any, bool) {
	if p.Header == nil {
		return nil, false
	}
	for _, a := range aliases {
		i, ok := p.Header.index[columnKey(a)]
		if !ok {
			continue
		}
		if i >= len(p.Cells) {
			return nil, false
		}
		return p.Cells[i], true
	}
	return nil, false
}

// Values implements Row.
func (p Positional) Values() []any { return p.Cells }

// PositionalRows pairs CSV records with one shared header.
func PositionalRows(headers []string, records [][]string) []Row {
	h := NewHeader(headers)
	rows := make([]Row, len(records))
	for i, rec := range records {
		cells := make([]any, len(rec))
		for j, c := range rec {
			cells[j] = c
		}
		rows[i] = Positional{Header: h, Cells: cells}
	}
	return rows
}

// Cell is one key/value pair of a Keyed row.
type Cell struct {
	Key   string
	Value any
}

// Keyed is a column-name -> value row that remembers key order.
type Keyed []Cell

// Lookup implements Row. When two keys collide after lowercasing, the later
// key wins.
func (k Keyed) Lookup(aliases []string) (any, bool) {
	lookup := make(map[string]int, len(k))
	for i, c := range k {
		lookup[columnKey(c.Key)] = i
	}
	for _, a := range aliases {
		if i, ok := lookup[columnKey(a)]; ok {
			return k[i].Value, true
		}
	}
	return nil, false
}

// Values implements Row.
func (k Keyed) Values() []any {
	out := make([]any, len(k))
	for i, c := range k {
		out[i] = c.Value
	}
	return out
}

// KeyedFromMap converts a plain map. Go maps carry no order, so keys are
// sorted; carriers configured with penultimate must not be fed through here.
func KeyedFromMap(m map[string]any) Keyed {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(Keyed, len(keys))
	for i, k := range keys {
		out[i] = Cell{Key: k, Value: m[k]}
	}
	return out
}

// UnmarshalJSON decodes a JSON object keeping its key order.
func (k *Keyed) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("keyed row must be a JSON object, got %v", tok)
	}
	out := Keyed{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("keyed row: unexpected token %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("keyed row %q: %w", key, err)
		}
		out = append(out, Cell{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*k = out
	return nil
}
