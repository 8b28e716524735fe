package domain

import "time"

// AddTradingDays advances t by n weekdays. Exchange holidays are not
// modeled; the max-hold deadline is a coarse backstop, not a settlement
// calendar.
func AddTradingDays(t time.Time, n int) time.Time {
	d := t
	for added := 0; added < n; {
		d = d.AddDate(0, 0, 1)
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			added++
		}
	}
	return d
}
