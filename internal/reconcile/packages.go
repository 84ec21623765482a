package reconcile

import (
	"errors"
	"fmt"

	"access-reconciler/internal/models"
)

var ErrUnknownPackageType = errors.New("unknown package type")

// PropagatePackageType returns the rows to write when an operator sets the
// package type of cardID on productID. A card carries one package type, so
// every other assignment of the same card is moved along with it. The edited
// pair is always included; other pairs only when their type differs.
func PropagatePackageType(packages []models.CardPackageAssignment, productID, cardID string, pt models.PackageType) ([]models.CardPackageAssignment, error) {
	if !pt.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPackageType, pt)
	}

	edited := models.PairKey{ProductID: productID, CardID: cardID}
	rows := []models.CardPackageAssignment{{ProductID: productID, CardID: cardID, PackageType: pt}}
	seen := map[models.PairKey]struct{}{edited: {}}

	for _, pkg := range packages {
		if pkg.CardID != cardID {
			continue
		}
		if _, dup := seen[pkg.Pair()]; dup {
			continue
		}
		seen[pkg.Pair()] = struct{}{}
		if pkg.PackageType == pt {
			continue
		}
		rows = append(rows, models.CardPackageAssignment{
			ProductID:   pkg.ProductID,
			CardID:      cardID,
			PackageType: pt,
		})
	}

	return rows, nil
}
