package model

import (
	"time"
)

// Stack represents a Portainer deployment unit tracked by the dashboard,
// identified by its update webhook URL.
type Stack struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"not null;size:255" json:"name"`
	Description string `gorm:"size:1024" json:"description"`
	WebhookURL  string `gorm:"uniqueIndex;not null;size:1024" json:"webhook_url"`

	AutoUpdateEnabled       bool    `gorm:"default:false;not null" json:"auto_update_enabled"`
	AutoUpdateIntervalHours float64 `gorm:"default:0" json:"auto_update_interval_hours"`

	// Cached Portainer image indicator
	ImageStatus      string     `gorm:"size:32;default:unknown" json:"image_status"`
	ImageMessage     string     `gorm:"size:512" json:"image_message"`
	ImageLastChecked *time.Time `json:"image_last_checked"`

	LastUpdatedAt *time.Time `json:"last_updated_at"`
	IsOutdated    bool       `gorm:"default:false;not null" json:"is_outdated"`

	// Optional Portainer metadata, populated on import
	PortainerType      *int       `json:"portainer_type"`
	PortainerCreatedAt *time.Time `json:"portainer_created_at"`
	PortainerUpdatedAt *time.Time `json:"portainer_updated_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StackCreateRequest is the request body for creating or updating a stack
type StackCreateRequest struct {
	Name                    string  `json:"name" binding:"required"`
	Description             string  `json:"description"`
	WebhookURL              string  `json:"webhook_url" binding:"required"`
	AutoUpdateEnabled       bool    `json:"auto_update_enabled"`
	AutoUpdateIntervalHours float64 `json:"auto_update_interval_hours"`
}

// AutoUpdateRequest toggles automatic updates for a stack
type AutoUpdateRequest struct {
	Enabled       bool    `json:"enabled"`
	IntervalHours float64 `json:"interval_hours"`
}
