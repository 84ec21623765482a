package models

import "time"

// PackageType is the package a card is sold or issued under
type PackageType string

const (
	PackageStandard    PackageType = "Standard"
	PackageDeluxe      PackageType = "Deluxe"
	PackageSuite       PackageType = "Suite"
	PackageExecutive   PackageType = "Executive"
	PackageGeneral     PackageType = "General"
	PackageServiceCard PackageType = "Service Card"
	PackageMasterCard  PackageType = "Master Card"
)

// PackageTypes lists every known package type in display order
var PackageTypes = []PackageType{
	PackageStandard,
	PackageDeluxe,
	PackageSuite,
	PackageExecutive,
	PackageGeneral,
	PackageServiceCard,
	PackageMasterCard,
}

// Valid reports whether p is one of the known package types
func (p PackageType) Valid() bool {
	for _, known := range PackageTypes {
		if p == known {
			return true
		}
	}
	return false
}

// IsAdministrative reports whether cards of this type are staff cards that
// must never be offered to guests.
func (p PackageType) IsAdministrative() bool {
	return p == PackageMasterCard || p == PackageServiceCard
}

// AccessEvent is one row of the access-control log.
// Timestamp is kept as received; the engine parses it.
type AccessEvent struct {
	ProductID string `db:"product_id" json:"product_id"`
	CardID    string `db:"uid" json:"uid"`
	Status    string `db:"access_status" json:"access_status"`
	Timestamp string `db:"timestamp" json:"timestamp"`
}

// Pair returns the (product, card) key of the event
func (e AccessEvent) Pair() PairKey {
	return PairKey{ProductID: e.ProductID, CardID: e.CardID}
}

// PairKey identifies one room-card relationship
type PairKey struct {
	ProductID string `json:"product_id"`
	CardID    string `json:"uid"`
}

// ProductCatalogEntry maps a reader product to the room it is installed in
type ProductCatalogEntry struct {
	ProductID string `db:"product_id" json:"product_id"`
	RoomID    string `db:"room_id" json:"room_id"`
}

// CardPackageAssignment records the package type of a card on a product
type CardPackageAssignment struct {
	ProductID   string      `db:"product_id" json:"product_id"`
	CardID      string      `db:"uid" json:"uid"`
	PackageType PackageType `db:"package_type" json:"package_type"`
}

// Pair returns the (product, card) key of the assignment
func (a CardPackageAssignment) Pair() PairKey {
	return PairKey{ProductID: a.ProductID, CardID: a.CardID}
}

// ReconciledAssignment is a derived card-to-room assignment
type ReconciledAssignment struct {
	ProductID   string      `json:"product_id"`
	CardID      string      `json:"uid"`
	RoomID      string      `json:"room_id"`
	PackageType PackageType `json:"package_type"`
	IsActive    bool        `json:"active"`
}

// GuestBooking is a guest stay holding a room and a card
type GuestBooking struct {
	ID           string    `json:"id"`
	GuestID      string    `json:"guestId,omitempty"`
	RoomID       string    `json:"roomId"`
	CardID       string    `json:"cardId"`
	CheckinTime  time.Time `json:"checkinTime"`
	CheckoutTime time.Time `json:"checkoutTime"`
}

// IsActive reports whether the booking still holds its room at now
func (b GuestBooking) IsActive(now time.Time) bool {
	return b.CheckoutTime.After(now)
}

// SnapshotInputs is the set of input feeds one snapshot was computed from
type SnapshotInputs struct {
	Generation int64                   `json:"generation"`
	FetchedAt  time.Time               `json:"fetched_at"`
	Events     []AccessEvent           `json:"events"`
	Products   []ProductCatalogEntry   `json:"products"`
	Packages   []CardPackageAssignment `json:"packages"`
	Bookings   []GuestBooking          `json:"bookings"`
}
