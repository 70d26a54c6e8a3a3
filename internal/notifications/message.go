package notifications

import (
	"fmt"
	"strings"
	"time"
)

const displayLayout = "2006-01-02 03:04 PM"

// buildMessage formats the push body for an event about to start.
func buildMessage(name string, start time.Time, circuit, laps string, lead time.Duration, local *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ %s STARTING IN %s ⚠️\n\n", name, leadText(lead))
	fmt.Fprintf(&b, "Event: %s\n", name)
	fmt.Fprintf(&b, "Start Time: %s UTC\n", start.UTC().Format(displayLayout))
	if local != nil {
		t := start.In(local)
		fmt.Fprintf(&b, "Local Time: %s %s\n", t.Format(displayLayout), t.Format("MST"))
	}
	fmt.Fprintf(&b, "Circuit: %s\n", circuit)
	fmt.Fprintf(&b, "Laps: %s", laps)
	return b.String()
}

func buildTitle(name string) string {
	return "F1 STARTING SOON: " + name
}

func leadText(lead time.Duration) string {
	minutes := int(lead.Round(time.Minute) / time.Minute)
	if minutes == 1 {
		return "1 MINUTE"
	}
	return fmt.Sprintf("%d MINUTES", minutes)
}
