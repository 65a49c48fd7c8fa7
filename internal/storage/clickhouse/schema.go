package clickhouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/fidde/songplay_lake/pkg/models"
)

// stagingSuffix marks the tables a run writes before publishing.
const stagingSuffix = "__staging"

const publishLogDDL = `
CREATE TABLE IF NOT EXISTS publish_log (
    run_id String,
    table_name LowCardinality(String),
    row_count UInt64,
    published_at DateTime64(3) DEFAULT now64(3)
) ENGINE = MergeTree()
ORDER BY (published_at, table_name)
`

// InitializeSchema creates the bookkeeping tables. Output tables are created
// by each run.
func InitializeSchema(ctx context.Context, conn driver.Conn) error {
	if err := conn.Exec(ctx, publishLogDDL); err != nil {
		return fmt.Errorf("creating publish_log table: %w", err)
	}
	return nil
}

// createTableDDL renders a MergeTree table for t under the given name,
// partitioned by partitionBy and ordered by its first column.
func createTableDDL(name string, t *models.Table, partitionBy []string, ifNotExists bool) string {
	var b strings.Builder

	b.WriteString("CREATE TABLE ")
	if ifNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(quote(name))
	b.WriteString(" (\n")
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "    %s %s", quote(c.Name), columnType(c))
	}
	b.WriteString("\n) ENGINE = MergeTree()\n")

	if len(partitionBy) > 0 {
		cols := make([]string, len(partitionBy))
		for i, c := range partitionBy {
			cols[i] = quote(c)
		}
		if len(cols) == 1 {
			fmt.Fprintf(&b, "PARTITION BY %s\n", cols[0])
		} else {
			fmt.Fprintf(&b, "PARTITION BY (%s)\n", strings.Join(cols, ", "))
		}
	}

	orderBy := "tuple()"
	if len(t.Columns) > 0 && !t.Columns[0].Nullable {
		orderBy = quote(t.Columns[0].Name)
	}
	fmt.Fprintf(&b, "ORDER BY %s\n", orderBy)
	b.WriteString("SETTINGS index_granularity = 8192")

	return b.String()
}

func columnType(c models.Column) string {
	var base string
	switch c.Type {
	case models.TypeInt32:
		base = "Int32"
	case models.TypeInt64:
		base = "Int64"
	case models.TypeFloat64:
		base = "Float64"
	case models.TypeTimestamp:
		base = "DateTime64(3)"
	default:
		base = "String"
	}
	if c.Nullable {
		return "Nullable(" + base + ")"
	}
	return base
}

func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "\\`") + "`"
}
