package model

import "strings"

// Status is the normalized image indicator state for a stack.
type Status string

const (
	StatusUnknown    Status = "unknown"
	StatusProcessing Status = "processing"
	StatusUpdated    Status = "updated"
	StatusOutdated   Status = "outdated"
	StatusError      Status = "error"
	StatusSkipped    Status = "skipped"
)

// NormalizeStatus maps a raw Portainer status string onto the closed Status
// enumeration. Matching is case-insensitive; anything unrecognized becomes
// StatusUnknown. Portainer reports "preparing" while it is still inspecting
// images, which maps to StatusProcessing.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "updated":
		return StatusUpdated
	case "outdated":
		return StatusOutdated
	case "processing", "preparing":
		return StatusProcessing
	case "error":
		return StatusError
	case "skipped":
		return StatusSkipped
	default:
		return StatusUnknown
	}
}

// PersistableStatus returns the status that may be written to the store.
// StatusProcessing is a transient display-only state and is stored as
// StatusUnknown until the remote check settles.
func PersistableStatus(s Status) Status {
	if s == StatusProcessing {
		return StatusUnknown
	}
	return s
}
