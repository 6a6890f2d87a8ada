// Package billingcycle derives deterministic cycle markers from charge times.
package billingcycle

import (
	"fmt"
	"time"

	subscriptiondomain "github.com/boxkite/boxkite/internal/subscription/domain"
)

// Marker returns the cycle marker for a charge occurring at t under the
// given cadence. Markers are stable for every instant inside one cycle, so
// a subscription can be fulfilled at most once per cycle.
func Marker(cadence subscriptiondomain.Cadence, t time.Time) (string, error) {
	t = t.UTC()
	switch cadence {
	case subscriptiondomain.CadenceDaily:
		return t.Format("2006-01-02"), nil
	case subscriptiondomain.CadenceWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week), nil
	case subscriptiondomain.CadenceMonthly:
		return t.Format("2006-01"), nil
	default:
		return "", fmt.Errorf("unsupported cadence %q", cadence)
	}
}

// FulfillmentKey is the idempotency key for one subscription cycle.
func FulfillmentKey(subscriptionID string, marker string) string {
	return subscriptionID + ":" + marker
}

// MarkerTime inverts Marker: it returns an instant inside the cycle the
// marker names, so a retry can re-derive the same fulfillment key.
func MarkerTime(cadence subscriptiondomain.Cadence, marker string) (time.Time, error) {
	switch cadence {
	case subscriptiondomain.CadenceDaily:
		return time.ParseInLocation("2006-01-02", marker, time.UTC)
	case subscriptiondomain.CadenceWeekly:
		var year, week int
		if _, err := fmt.Sscanf(marker, "%d-W%d", &year, &week); err != nil {
			return time.Time{}, fmt.Errorf("invalid weekly marker %q", marker)
		}
		return isoWeekStart(year, week), nil
	case subscriptiondomain.CadenceMonthly:
		return time.ParseInLocation("2006-01", marker, time.UTC)
	default:
		return time.Time{}, fmt.Errorf("unsupported cadence %q", cadence)
	}
}

// isoWeekStart returns the Monday opening ISO week (year, week). January 4th
// always falls in week 1.
func isoWeekStart(year, week int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	monday := jan4.AddDate(0, 0, 1-weekday)
	return monday.AddDate(0, 0, (week-1)*7)
}
