package indexing

import "github.com/arkilian/bulkindex/internal/partition"

// Batch holds write operations for one partition that are sent together.
type Batch struct {
	Partition partition.Ident
	Ops       []WriteOp
}

// Accumulator buffers write operations per partition. It performs no I/O
// and is not safe for concurrent use.
type Accumulator struct {
	bulkSize int
	order    []string
	buffers  map[string]*Batch
	count    int
}

// NewAccumulator creates an accumulator that flushes once bulkSize
// operations are buffered across all partitions.
func NewAccumulator(bulkSize int) *Accumulator {
	if bulkSize <= 0 {
		bulkSize = DefaultBulkSize
	}
	return &Accumulator{
		bulkSize: bulkSize,
		buffers:  make(map[string]*Batch),
	}
}

// Add buffers op for partition id. When the buffered total reaches the bulk
// size, every buffered batch is returned and the buffer is emptied.
func (a *Accumulator) Add(id partition.Ident, op WriteOp) []*Batch {
	b, ok := a.buffers[id.Name]
	if !ok {
		b = &Batch{Partition: id}
		a.buffers[id.Name] = b
		a.order = append(a.order, id.Name)
	}
	b.Ops = append(b.Ops, op)
	a.count++

	if a.count >= a.bulkSize {
		return a.Flush()
	}
	return nil
}

// Flush returns all buffered batches, one per partition in first-seen order.
func (a *Accumulator) Flush() []*Batch {
	if a.count == 0 {
		return nil
	}
	batches := make([]*Batch, 0, len(a.order))
	for _, name := range a.order {
		batches = append(batches, a.buffers[name])
	}
	a.order = a.order[:0]
	a.buffers = make(map[string]*Batch)
	a.count = 0
	return batches
}

// Len returns the number of buffered operations.
func (a *Accumulator) Len() int {
	return a.count
}
