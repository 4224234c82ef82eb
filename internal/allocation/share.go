package allocation

import (
	"fmt"
	"strings"
	"time"
)

// ShareText renders a summary as a short message suitable for pasting into a
// chat. Amounts are rounded to cents.
func ShareText(s Summary, date time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🧾 *SnapSplit Bill* (%s)\n\n", date.Format("Jan 2, 2006"))

	for _, person := range s.Breakdown {
		fmt.Fprintf(&b, "%s: $%s\n", person.Participant.Name, person.Total.StringFixed(2))
	}

	fmt.Fprintf(&b, "\n💰 *Total: $%s*\n", s.GrandTotal.StringFixed(2))
	b.WriteString("\nSplit with SnapSplit")
	return b.String()
}
