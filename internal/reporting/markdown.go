package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders a summary as Markdown string.
func RenderMarkdown(s *Summary) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Pool Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", s.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Slots: %d..%d\n\n", s.FromSlot, s.ToSlot))

	// Totals
	sb.WriteString("## Totals\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Pools | %d |\n", s.TotalPools))
	sb.WriteString(fmt.Sprintf("| Transactions | %d |\n", s.TotalTransactions))
	sb.WriteString(fmt.Sprintf("| First Slot | %d |\n", s.FirstSlot))
	sb.WriteString(fmt.Sprintf("| Last Slot | %d |\n", s.LastSlot))
	sb.WriteString("\n")

	// Schemas
	sb.WriteString("## Pools by Schema\n\n")
	if len(s.BySchema) > 0 {
		sb.WriteString("| Schema | Pools |\n")
		sb.WriteString("|--------|-------|\n")
		for _, row := range s.BySchema {
			sb.WriteString(fmt.Sprintf("| %s | %d |\n", row.Schema, row.Pools))
		}
	} else {
		sb.WriteString("No pools in range.\n")
	}
	sb.WriteString("\n")

	// Recurring tokens
	sb.WriteString("## Recurring Tokens\n\n")
	if len(s.RecurringTokens) > 0 {
		sb.WriteString("| Mint | Pools |\n")
		sb.WriteString("|------|-------|\n")
		for _, row := range s.RecurringTokens {
			sb.WriteString(fmt.Sprintf("| %s | %d |\n", row.Mint, row.Pools))
		}
	} else {
		sb.WriteString("No token appears in more than one pool.\n")
	}
	sb.WriteString("\n")

	// Pools
	sb.WriteString("## Pools\n\n")
	if len(s.Pools) > 0 {
		sb.WriteString("| Slot | Signature | # | Token1 | Token2 |\n")
		sb.WriteString("|------|-----------|---|--------|--------|\n")
		for _, p := range s.Pools {
			sb.WriteString(fmt.Sprintf("| %d | %s | %d | %s | %s |\n",
				p.Slot, p.Signature, p.PairIndex, p.Token0, p.Token1))
		}
	} else {
		sb.WriteString("No pools in range.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
