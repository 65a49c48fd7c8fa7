package parquet

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/fidde/songplay_lake/pkg/models"
)

const (
	// DefaultPartition is the directory value used for null or empty
	// partition values.
	DefaultPartition = "__HIVE_DEFAULT_PARTITION__"

	// SuccessMarker is written into each table directory once it is published.
	SuccessMarker = "_SUCCESS"

	// ManifestFile describes the most recently published run.
	ManifestFile = "_manifest.yaml"

	tableDirSuffix = ".parquet"
	stagingDir     = ".staging"
	trashDir       = ".trash"
)

// TableDir returns the directory name of a published table.
func TableDir(table string) string {
	return table + tableDirSuffix
}

// partitionPath renders the Hive-style directory for one row, e.g.
// "year=2000/artist_id=A1".
func partitionPath(cols []string, values []any) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + "=" + partitionValue(values[i])
	}
	return path.Join(parts...)
}

func partitionValue(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return DefaultPartition
	case string:
		s = x
	case int32:
		s = strconv.FormatInt(int64(x), 10)
	case int64:
		s = strconv.FormatInt(x, 10)
	case float64:
		s = strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		s = x.Format("2006-01-02 15:04:05.000")
	default:
		s = fmt.Sprint(x)
	}
	if s == "" {
		return DefaultPartition
	}
	return escapePartitionValue(s)
}

// escapePartitionValue percent-encodes the characters Hive does not allow in
// partition directory names.
func escapePartitionValue(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if needsEscape(c) {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func needsEscape(c byte) bool {
	if c < 0x20 || c == 0x7f {
		return true
	}
	switch c {
	case '"', '#', '%', '\'', '*', '/', ':', '=', '?', '\\', '{', '[', ']', '^':
		return true
	}
	return false
}

// schemaFor returns the CSV writer metadata for the data columns of t, i.e.
// every column not listed in partitionBy. All columns are declared optional
// because the CSV marshaller encodes every value with a definition level.
func schemaFor(t *models.Table, partitionBy []string) (md []string, idx []int) {
	skip := make(map[string]bool, len(partitionBy))
	for _, c := range partitionBy {
		skip[c] = true
	}
	for i, c := range t.Columns {
		if skip[c.Name] {
			continue
		}
		md = append(md, fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", c.Name, physicalType(c.Type)))
		idx = append(idx, i)
	}
	return md, idx
}

func physicalType(t models.ColumnType) string {
	switch t {
	case models.TypeInt32:
		return "type=INT32"
	case models.TypeInt64:
		return "type=INT64"
	case models.TypeFloat64:
		return "type=DOUBLE"
	case models.TypeTimestamp:
		return "type=INT64, convertedtype=TIMESTAMP_MILLIS"
	default:
		return "type=BYTE_ARRAY, convertedtype=UTF8"
	}
}

// parquetValue converts a row value to what the CSV writer expects.
func parquetValue(v any) any {
	if ts, ok := v.(time.Time); ok {
		return ts.UnixMilli()
	}
	return v
}
