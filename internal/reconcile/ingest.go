package reconcile

import (
	"time"

	"access-reconciler/internal/models"
)

// Projections holds the latest event per key for the three views the
// reconciler needs. Key order is the order in which each key was first seen.
type Projections struct {
	byPair    map[models.PairKey]entry
	byCard    map[string]entry
	byProduct map[string]entry

	pairOrder    []models.PairKey
	cardOrder    []string
	productOrder []string
}

type entry struct {
	event models.AccessEvent
	at    time.Time
}

// Project folds events into latest-wins projections per pair, per card and
// per product. When two events for the same key carry the same timestamp the
// one later in the input wins.
func Project(events []models.AccessEvent) Projections {
	p := Projections{
		byPair:    make(map[models.PairKey]entry),
		byCard:    make(map[string]entry),
		byProduct: make(map[string]entry),
	}

	for _, ev := range events {
		e := entry{event: ev, at: ParseTimestamp(ev.Timestamp)}

		pair := ev.Pair()
		if cur, ok := p.byPair[pair]; !ok {
			p.pairOrder = append(p.pairOrder, pair)
			p.byPair[pair] = e
		} else if !e.at.Before(cur.at) {
			p.byPair[pair] = e
		}

		if cur, ok := p.byCard[ev.CardID]; !ok {
			p.cardOrder = append(p.cardOrder, ev.CardID)
			p.byCard[ev.CardID] = e
		} else if !e.at.Before(cur.at) {
			p.byCard[ev.CardID] = e
		}

		if cur, ok := p.byProduct[ev.ProductID]; !ok {
			p.productOrder = append(p.productOrder, ev.ProductID)
			p.byProduct[ev.ProductID] = e
		} else if !e.at.Before(cur.at) {
			p.byProduct[ev.ProductID] = e
		}
	}

	return p
}

// LatestByPair returns the authoritative event for a pair
func (p Projections) LatestByPair(key models.PairKey) (models.AccessEvent, bool) {
	e, ok := p.byPair[key]
	return e.event, ok
}

// LatestByCard returns the most recent event for a card on any product
func (p Projections) LatestByCard(cardID string) (models.AccessEvent, bool) {
	e, ok := p.byCard[cardID]
	return e.event, ok
}

// LatestByProduct returns the most recent event for a product with any card
func (p Projections) LatestByProduct(productID string) (models.AccessEvent, bool) {
	e, ok := p.byProduct[productID]
	return e.event, ok
}

// Pairs returns every pair key in first-seen order
func (p Projections) Pairs() []models.PairKey {
	return append([]models.PairKey(nil), p.pairOrder...)
}

// Cards returns every card id in first-seen order
func (p Projections) Cards() []string {
	return append([]string(nil), p.cardOrder...)
}

// Products returns every product id in first-seen order
func (p Projections) Products() []string {
	return append([]string(nil), p.productOrder...)
}

// PairVerdict classifies the latest status of a pair. A pair with no
// recorded event has never been granted.
func (p Projections) PairVerdict(key models.PairKey) Verdict {
	ev, ok := p.LatestByPair(key)
	if !ok {
		return Classify("")
	}
	return Classify(ev.Status)
}
