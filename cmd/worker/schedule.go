package main

import "time"

const maxBackoff = 10 * time.Minute

// nextReportTime returns the next UTC instant at hour:00 strictly after now.
func nextReportTime(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// backoff doubles base for each consecutive store failure, capped at maxBackoff.
func backoff(base time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return base
	}
	d := base
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
