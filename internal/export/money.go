package export

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FormatCents renders 123456 as "1,234.56".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := strconv.FormatInt(cents/100, 10)
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s%s.%02d", sign, b.String(), cents%100)
}

// Totals sums lines per currency. Cancelled and failed payouts count as
// neither paid nor outstanding.
func Totals(lines []Line) []Total {
	byCurrency := map[string]*Total{}
	for _, line := range lines {
		t, ok := byCurrency[line.Currency]
		if !ok {
			t = &Total{Currency: line.Currency}
			byCurrency[line.Currency] = t
		}
		switch line.Status {
		case "paid":
			t.PaidCents += line.AmountCents
		case "scheduled", "processing":
			t.OutstandingCents += line.AmountCents
		}
	}
	out := make([]Total, 0, len(byCurrency))
	for _, t := range byCurrency {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}
