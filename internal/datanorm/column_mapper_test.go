package datanorm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionalLookup(t *testing.T) {
	rows := PositionalRows(
		[]string{"Póliza", " Policy Number ", "ASEGURADO", "Extra"},
		[][]string{
			{"P-1", "PN-1", "Jane", "x"},
			{"P-2"},
		},
	)

	v, ok := Pick(rows[0], []string{"póliza", "policy number"})
	assert.True(t, ok)
	assert.Equal(t, "P-1", v, "alias order is priority order")

	v, ok = Pick(rows[0], []string{"missing", "POLICY NUMBER"})
	assert.True(t, ok)
	assert.Equal(t, "PN-1", v)

	v, ok = Pick(rows[0], []string{"asegurado"})
	assert.True(t, ok)
	assert.Equal(t, "Jane", v)

	_, ok = Pick(rows[1], []string{"asegurado"})
	assert.False(t, ok, "short row")

	_, ok = Pick(rows[0], nil)
	assert.False(t, ok)

	_, ok = Pick(Positional{Cells: []any{"P-1"}}, []string{"Póliza"})
	assert.False(t, ok, "no headers, no match")

	assert.Equal(t, []string{"Póliza", " Policy Number ", "ASEGURADO", "Extra"}, rows[0].(Positional).Header.Names())
}

func TestKeyedLookup(t *testing.T) {
	row := Keyed{
		{Key: "Poliza", Value: "1"},
		{Key: "POLIZA", Value: "2"},
		{Key: " Asegurado ", Value: "Jane"},
	}

	v, ok := Pick(row, []string{"poliza"})
	assert.True(t, ok)
	assert.Equal(t, "2", v, "later key wins on case collision")

	v, ok = Pick(row, []string{"asegurado"})
	assert.True(t, ok)
	assert.Equal(t, "Jane", v)

	_, ok = Pick(row, []string{"cliente"})
	assert.False(t, ok)

	_, ok = Pick(nil, []string{"poliza"})
	assert.False(t, ok)
}

func TestKeyed_UnmarshalKeepsOrder(t *testing.T) {
	var row Keyed
	require.NoError(t, json.Unmarshal([]byte(`{"z":1,"a":"two","m":null,"n":{"x":1}}`), &row))

	require.Len(t, row, 4)
	assert.Equal(t, []string{"z", "a", "m", "n"}, []string{row[0].Key, row[1].Key, row[2].Key, row[3].Key})
	assert.Equal(t, []any{1.0, "two", nil, map[string]any{"x": 1.0}}, row.Values())

	assert.Error(t, json.Unmarshal([]byte(`["a"]`), &row))
}

func TestKeyedFromMap(t *testing.T) {
	row := KeyedFromMap(map[string]any{"b": 2, "a": 1})
	assert.Equal(t, []any{1, 2}, row.Values())
}
