package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders pool rows as CSV string.
// Every field is base58, hex or numeric, so no quoting is needed.
func RenderCSV(rows []PoolRow) string {
	var sb strings.Builder

	sb.WriteString("slot,signature,pair_index,schema,token0,token1,event_id\n")

	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%d,%s,%d,%s,%s,%s,%s\n",
			r.Slot,
			r.Signature,
			r.PairIndex,
			r.Schema,
			r.Token0,
			r.Token1,
			r.EventID,
		))
	}

	return sb.String()
}
