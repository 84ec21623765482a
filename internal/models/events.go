package models

import "time"

// Event types
const (
	EventTypeAccessDataChanged   = "ACCESS_DATA_CHANGED"
	EventTypeSnapshotRecomputed  = "SNAPSHOT_RECOMPUTED"
	EventTypeCardPackagesChanged = "CARD_PACKAGES_CHANGED"
)

// Feed names carried by data-changed events
const (
	FeedAccessEvents = "access_events"
	FeedProducts     = "products"
	FeedCardPackages = "card_packages"
	FeedBookings     = "bookings"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// AccessDataChangedEvent signals that one of the input feeds changed upstream
type AccessDataChangedEvent struct {
	BaseEvent
	Feed   string `json:"feed"`
	Reason string `json:"reason,omitempty"`
}

// CardPackagesChangedEvent is published after a package type change has been
// written, one row per affected pair.
type CardPackagesChangedEvent struct {
	BaseEvent
	CardID      string                  `json:"uid"`
	PackageType PackageType             `json:"package_type"`
	Rows        []CardPackageAssignment `json:"rows"`
}

// SnapshotRecomputedEvent is published after a new snapshot is installed
type SnapshotRecomputedEvent struct {
	BaseEvent
	Generation       int64 `json:"generation"`
	ValidAssignments int   `json:"valid_assignments"`
	DeniedProducts   int   `json:"denied_products"`
	DeletedCards     int   `json:"deleted_cards"`
	AvailableRooms   int   `json:"available_rooms"`
}
