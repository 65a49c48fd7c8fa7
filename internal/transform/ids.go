package transform

import (
	"fmt"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
)

// ID strategies.
const (
	IDStrategySnowflake = "snowflake"
	IDStrategySequence  = "sequence"
)

// maxSnowflakeNodes is the number of node ids a snowflake id can encode.
const maxSnowflakeNodes = 1 << 10

// sequenceBits is the width of the per-partition counter of sequence ids.
const sequenceBits = 33

// IDSource hands out an independent surrogate id generator per partition.
// Ids from different partitions never collide, so workers need no shared
// counter.
type IDSource interface {
	Partition(index int) (IDGenerator, error)
}

// IDGenerator yields increasing ids for a single partition.
type IDGenerator interface {
	Next() int64
}

// NewIDSource returns the IDSource for the named strategy.
func NewIDSource(strategy string) (IDSource, error) {
	switch strategy {
	case "", IDStrategySnowflake:
		return SnowflakeIDs{}, nil
	case IDStrategySequence:
		return SequenceIDs{}, nil
	default:
		return nil, fmt.Errorf("unknown id strategy: %s (supported: snowflake, sequence)", strategy)
	}
}

// SnowflakeIDs generates time-ordered snowflake ids with the partition index
// as node id.
type SnowflakeIDs struct{}

// Partition implements IDSource.
func (SnowflakeIDs) Partition(index int) (IDGenerator, error) {
	if index < 0 || index >= maxSnowflakeNodes {
		return nil, fmt.Errorf("partition %d exceeds snowflake node range 0..%d", index, maxSnowflakeNodes-1)
	}
	node, err := snowflake.NewNode(int64(index))
	if err != nil {
		return nil, fmt.Errorf("creating snowflake node: %w", err)
	}
	return snowflakeGenerator{node: node}, nil
}

type snowflakeGenerator struct {
	node *snowflake.Node
}

func (g snowflakeGenerator) Next() int64 {
	return g.node.Generate().Int64()
}

// SequenceIDs puts the partition index in the upper bits and a dense local
// counter in the lower 33 bits. Ids are deterministic for a given
// partitioning of the input.
type SequenceIDs struct{}

// Partition implements IDSource.
func (SequenceIDs) Partition(index int) (IDGenerator, error) {
	if index < 0 || index >= 1<<(63-sequenceBits) {
		return nil, fmt.Errorf("partition %d out of range", index)
	}
	return &sequenceGenerator{base: int64(index) << sequenceBits}, nil
}

type sequenceGenerator struct {
	base int64
	next atomic.Int64
}

func (g *sequenceGenerator) Next() int64 {
	return g.base | (g.next.Add(1) - 1)
}
