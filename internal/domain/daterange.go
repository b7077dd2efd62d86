package domain

import "time"

const dateLayout = "2 Jan 2006"

// FormatDateRange renders the run's reporting window the way the outcome
// log records it, e.g. "1 Aug 2026 s.d. 15 Aug 2026". A zero boundary
// renders as an empty side; two zero boundaries render fully empty.
func FormatDateRange(start, end time.Time) string {
	return formatDate(start) + " s.d. " + formatDate(end)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
