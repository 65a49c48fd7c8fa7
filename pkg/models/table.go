package models

import (
	"fmt"
	"time"
)

// Output table names.
const (
	TableSongs     = "songs_table"
	TableArtists   = "artists_table"
	TableUsers     = "users_table"
	TableTime      = "time_table"
	TableSongplays = "songplays_table"
)

// PartitionColumns lists the fixed partition columns of each output table.
var PartitionColumns = map[string][]string{
	TableSongs:     {"year", "artist_id"},
	TableArtists:   nil,
	TableUsers:     nil,
	TableTime:      {"year", "month"},
	TableSongplays: {"year", "month"},
}

// TableNames returns the output tables in write order.
func TableNames() []string {
	return []string{TableSongs, TableArtists, TableUsers, TableTime, TableSongplays}
}

// ColumnType is the logical type of a table column.
type ColumnType int

const (
	TypeString ColumnType = iota
	TypeInt32
	TypeInt64
	TypeFloat64
	TypeTimestamp
)

func (t ColumnType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// Column describes one column of a Table.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Row holds one value per column. Values are string, int32, int64, float64
// or time.Time according to the column type; nil means null.
type Row []any

// Table is a materialized output table.
type Table struct {
	Name    string
	Columns []Column
	Rows    []Row
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Validate checks that every row matches the column list.
func (t *Table) Validate() error {
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("table %s row %d: %d values for %d columns", t.Name, i, len(row), len(t.Columns))
		}
		for j, v := range row {
			col := t.Columns[j]
			if v == nil {
				if !col.Nullable {
					return fmt.Errorf("table %s row %d: null in non-nullable column %s", t.Name, i, col.Name)
				}
				continue
			}
			if !typeMatches(col.Type, v) {
				return fmt.Errorf("table %s row %d: column %s expects %s, got %T", t.Name, i, col.Name, col.Type, v)
			}
		}
	}
	return nil
}

func typeMatches(t ColumnType, v any) bool {
	switch v.(type) {
	case string:
		return t == TypeString
	case int32:
		return t == TypeInt32
	case int64:
		return t == TypeInt64
	case float64:
		return t == TypeFloat64
	case time.Time:
		return t == TypeTimestamp
	}
	return false
}

// WriteMode controls how a table write treats existing data.
type WriteMode string

// ModeOverwrite fully replaces the data at the table location.
const ModeOverwrite WriteMode = "overwrite"

// ParseWriteMode validates a write mode string. Only overwrite is supported.
func ParseWriteMode(s string) (WriteMode, error) {
	if WriteMode(s) == ModeOverwrite {
		return ModeOverwrite, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
}
