package reconcile

import (
	"access-reconciler/internal/models"
)

// Result is the reconciled view of the access log against the catalogs
type Result struct {
	// Assignments holds every deduplicated in-catalog pair, active or not.
	Assignments []models.ReconciledAssignment `json:"assignments"`
	// ValidAssignments is the active subset of Assignments.
	ValidAssignments     []models.ReconciledAssignment `json:"valid_assignments"`
	DeniedCardsByProduct map[string]Set                `json:"denied_cards_by_product"`
	DeletedCardsGlobal   Set                           `json:"deleted_cards"`
	DeniedProductIDs     Set                           `json:"denied_product_ids"`
}

// DeniedForProduct returns the cards blocked on one product
func (r Result) DeniedForProduct(productID string) Set {
	if s, ok := r.DeniedCardsByProduct[productID]; ok {
		return s
	}
	return Set{}
}

// Reconcile combines the latest-status projections with the product catalog
// and the card package catalog.
//
// Package-defined pairs are considered first, in catalog order, followed by
// pairs only seen in the log. The first occurrence of a pair wins.
func Reconcile(proj Projections, catalog []models.ProductCatalogEntry, packages []models.CardPackageAssignment) Result {
	res := Result{
		Assignments:          []models.ReconciledAssignment{},
		ValidAssignments:     []models.ReconciledAssignment{},
		DeniedCardsByProduct: make(map[string]Set),
		DeletedCardsGlobal:   make(Set),
		DeniedProductIDs:     make(Set),
	}

	for _, key := range proj.Pairs() {
		if proj.PairVerdict(key).Blocked() {
			denied, ok := res.DeniedCardsByProduct[key.ProductID]
			if !ok {
				denied = make(Set)
				res.DeniedCardsByProduct[key.ProductID] = denied
			}
			denied.Add(key.CardID)
		}
	}

	for _, cardID := range proj.Cards() {
		ev, _ := proj.LatestByCard(cardID)
		if Classify(ev.Status) == Deleted {
			res.DeletedCardsGlobal.Add(cardID)
		}
	}

	for _, productID := range proj.Products() {
		ev, _ := proj.LatestByProduct(productID)
		if Classify(ev.Status).Blocked() {
			res.DeniedProductIDs.Add(productID)
		}
	}

	rooms := roomsByProduct(catalog)
	pairTypes, cardTypes := packageTypeIndex(packages)

	seen := make(map[models.PairKey]struct{})
	add := func(key models.PairKey, pt models.PackageType) {
		if key.ProductID == "" || key.CardID == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		roomID, inCatalog := rooms[key.ProductID]
		if !inCatalog {
			return
		}
		seen[key] = struct{}{}

		a := models.ReconciledAssignment{
			ProductID:   key.ProductID,
			CardID:      key.CardID,
			RoomID:      roomID,
			PackageType: pt,
			IsActive:    proj.PairVerdict(key) == Granted && !res.DeletedCardsGlobal.Has(key.CardID),
		}
		res.Assignments = append(res.Assignments, a)
		if a.IsActive {
			res.ValidAssignments = append(res.ValidAssignments, a)
		}
	}

	for _, pkg := range packages {
		add(pkg.Pair(), pkg.PackageType)
	}
	for _, key := range proj.Pairs() {
		pt, ok := pairTypes[key]
		if !ok {
			pt = cardTypes[key.CardID]
		}
		if pt == "" {
			pt = models.PackageGeneral
		}
		add(key, pt)
	}

	return res
}

// DeniedRoomIDs maps the denied products of a result to their rooms
func DeniedRoomIDs(res Result, catalog []models.ProductCatalogEntry) Set {
	out := make(Set)
	for _, p := range catalog {
		if res.DeniedProductIDs.Has(p.ProductID) && p.RoomID != "" {
			out.Add(p.RoomID)
		}
	}
	return out
}

// ProductForRoom returns the product installed in a room
func ProductForRoom(catalog []models.ProductCatalogEntry, roomID string) (string, bool) {
	for _, p := range catalog {
		if p.RoomID == roomID {
			return p.ProductID, true
		}
	}
	return "", false
}

func roomsByProduct(catalog []models.ProductCatalogEntry) map[string]string {
	rooms := make(map[string]string, len(catalog))
	for _, p := range catalog {
		if _, ok := rooms[p.ProductID]; !ok {
			rooms[p.ProductID] = p.RoomID
		}
	}
	return rooms
}

// packageTypeIndex indexes package types by pair and by card. The card index
// keeps the last type seen for a card.
func packageTypeIndex(packages []models.CardPackageAssignment) (map[models.PairKey]models.PackageType, map[string]models.PackageType) {
	byPair := make(map[models.PairKey]models.PackageType, len(packages))
	byCard := make(map[string]models.PackageType, len(packages))
	for _, pkg := range packages {
		if _, ok := byPair[pkg.Pair()]; !ok {
			byPair[pkg.Pair()] = pkg.PackageType
		}
		byCard[pkg.CardID] = pkg.PackageType
	}
	return byPair, byCard
}
