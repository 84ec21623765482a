package reconcile

import (
	"time"

	"access-reconciler/internal/models"
)

// ComputeAvailability returns the rooms that can be offered to a guest, in
// catalog order. A room is unavailable while another active booking holds it
// or while its product is denied. The room of the booking being edited stays
// available even if it would otherwise be filtered out.
func ComputeAvailability(allRoomIDs []string, bookings []models.GuestBooking, deniedRoomIDs Set, editingBookingID string, now time.Time) []string {
	occupied := make(Set)
	editingRoom := ""
	for _, b := range bookings {
		if editingBookingID != "" && b.ID == editingBookingID {
			editingRoom = b.RoomID
			continue
		}
		if b.IsActive(now) {
			occupied.Add(b.RoomID)
		}
	}

	out := make([]string, 0, len(allRoomIDs))
	seen := make(Set)
	for _, roomID := range allRoomIDs {
		if roomID == "" || seen.Has(roomID) {
			continue
		}
		seen.Add(roomID)

		if roomID == editingRoom {
			out = append(out, roomID)
			continue
		}
		if occupied.Has(roomID) || deniedRoomIDs.Has(roomID) {
			continue
		}
		out = append(out, roomID)
	}

	if editingRoom != "" && !seen.Has(editingRoom) {
		out = append(out, editingRoom)
	}
	return out
}

// CardPoolInput collects what ComputeCardPool needs besides the product
type CardPoolInput struct {
	PackagesByProduct map[string][]models.CardPackageAssignment
	Reconciled        Result
	Bookings          []models.GuestBooking
	EditingBookingID  string
	Now               time.Time
}

// ComputeCardPool returns the cards that can be handed to a guest of the
// given product, deduplicated, in assignment order. Every reconciled pair of
// the product is a candidate, including pairs known only from the log.
//
// Cards held by other active bookings, cards denied on this product and
// globally deleted cards are excluded, except for the card held by the
// booking being edited. Administrative cards are always excluded.
func ComputeCardPool(productID string, in CardPoolInput) []string {
	used := make(Set)
	editingCard := ""
	for _, b := range in.Bookings {
		if in.EditingBookingID != "" && b.ID == in.EditingBookingID {
			editingCard = b.CardID
			continue
		}
		if b.IsActive(in.Now) {
			used.Add(b.CardID)
		}
	}

	admin := administrativeCards(in.PackagesByProduct)
	denied := in.Reconciled.DeniedForProduct(productID)

	out := []string{}
	seen := make(Set)
	for _, a := range in.Reconciled.Assignments {
		cardID := a.CardID
		if a.ProductID != productID || cardID == "" || seen.Has(cardID) {
			continue
		}
		seen.Add(cardID)

		if a.PackageType.IsAdministrative() || admin.Has(cardID) {
			continue
		}
		if cardID != editingCard {
			if used.Has(cardID) || denied.Has(cardID) || in.Reconciled.DeletedCardsGlobal.Has(cardID) {
				continue
			}
		}
		out = append(out, cardID)
	}
	return out
}

// GroupByProduct indexes package assignments by product, keeping order
func GroupByProduct(packages []models.CardPackageAssignment) map[string][]models.CardPackageAssignment {
	out := make(map[string][]models.CardPackageAssignment)
	for _, pkg := range packages {
		out[pkg.ProductID] = append(out[pkg.ProductID], pkg)
	}
	return out
}

// RoomIDs lists the rooms of the catalog in order
func RoomIDs(catalog []models.ProductCatalogEntry) []string {
	out := make([]string, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p.RoomID)
	}
	return out
}

// administrativeCards returns cards issued as Master or Service cards on any
// product. A staff card stays a staff card wherever it is registered.
func administrativeCards(byProduct map[string][]models.CardPackageAssignment) Set {
	out := make(Set)
	for _, pkgs := range byProduct {
		for _, pkg := range pkgs {
			if pkg.PackageType.IsAdministrative() {
				out.Add(pkg.CardID)
			}
		}
	}
	return out
}
