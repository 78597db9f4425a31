package service

import "time"

// UpdateDue decides whether a stack is due for an automatic update. A stack
// is due when auto-update is enabled with a positive interval and it has
// either never been updated or its last successful update is at least the
// interval in the past. Pure function; no storage or network.
func UpdateDue(enabled bool, intervalHours float64, lastUpdatedAt *time.Time, now time.Time) bool {
	if !enabled || intervalHours <= 0 {
		return false
	}
	if lastUpdatedAt == nil {
		return true
	}
	interval := time.Duration(intervalHours * float64(time.Hour))
	return now.Sub(*lastUpdatedAt) >= interval
}
