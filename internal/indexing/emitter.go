package indexing

import "github.com/arkilian/bulkindex/pkg/types"

// emit converts final outcomes into output rows.
//
// Summary mode yields one row [succeeded int64, failed int64]. Per-row mode
// yields [seq int64, id string|nil, ok bool, error string|nil] per input
// record in input order.
func emit(mode OutputMode, c *Counters) []types.Record {
	if mode != OutputPerRow {
		return []types.Record{{c.Succeeded(), c.Failed()}}
	}

	outcomes := c.Outcomes()
	rows := make([]types.Record, len(outcomes))
	for i, o := range outcomes {
		var id, msg any
		if o.ID != "" {
			id = o.ID
		}
		if o.Err != nil {
			msg = o.Err.Error()
		}
		rows[i] = types.Record{o.Seq, id, o.Err == nil, msg}
	}
	return rows
}
