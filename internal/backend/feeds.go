package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"access-reconciler/internal/models"
	"access-reconciler/internal/reconcile"

	"go.uber.org/zap"
)

// maxPages bounds the access log walk against a backend that never reports
// its last page.
const maxPages = 10000

// text decodes a JSON string, number or null into a string
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(s)
		return nil
	}
	*t = text(b)
	return nil
}

type entryWire struct {
	ProductID text `json:"product_id"`
	UID       text `json:"uid"`
	Status    text `json:"access_status"`
	Timestamp text `json:"timestamp"`
}

type entriesPage struct {
	Entries    []entryWire `json:"entries"`
	Page       int         `json:"page"`
	TotalPages int         `json:"total_pages"`
}

type productWire struct {
	ProductID text `json:"product_id"`
	RoomID    text `json:"room_id"`
	RoomNo    text `json:"room_no"`
}

type packageWire struct {
	ProductID   text `json:"product_id"`
	UID         text `json:"uid"`
	PackageType text `json:"package_type"`
}

type guestWire struct {
	ID           text `json:"id"`
	GuestID      text `json:"guestId"`
	RoomID       text `json:"roomId"`
	CardID       text `json:"cardId"`
	CheckinTime  text `json:"checkinTime"`
	CheckoutTime text `json:"checkoutTime"`
}

// FetchAccessEvents walks every page of the access log. The backend pages
// newest first by offset, so rows inserted during the walk push already read
// rows onto the next page. An entry identical to one from an earlier page is
// taken to be such a shifted row and skipped.
func (c *Client) FetchAccessEvents(ctx context.Context) ([]models.AccessEvent, error) {
	var events []models.AccessEvent
	seen := make(map[models.AccessEvent]struct{})
	shifted := 0

	for page := 1; page <= maxPages; page++ {
		var resp entriesPage
		if err := c.do(ctx, http.MethodGet, "/rfid_entries?page="+strconv.Itoa(page), nil, &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch access log page %d: %w", page, err)
		}

		pageEvents := make([]models.AccessEvent, 0, len(resp.Entries))
		for _, e := range resp.Entries {
			ev := models.AccessEvent{
				ProductID: string(e.ProductID),
				CardID:    string(e.UID),
				Status:    string(e.Status),
				Timestamp: string(e.Timestamp),
			}
			if _, dup := seen[ev]; dup {
				shifted++
				continue
			}
			pageEvents = append(pageEvents, ev)
		}
		for _, ev := range pageEvents {
			seen[ev] = struct{}{}
		}
		events = append(events, pageEvents...)

		if len(resp.Entries) == 0 || page >= resp.TotalPages {
			break
		}
	}

	c.logger.Debug("Fetched access log", zap.Int("events", len(events)), zap.Int("shifted", shifted))
	return events, nil
}

// FetchProducts returns the product catalog
func (c *Client) FetchProducts(ctx context.Context) ([]models.ProductCatalogEntry, error) {
	var resp struct {
		Products []productWire `json:"products"`
	}
	if err := c.do(ctx, http.MethodGet, "/manage_tables", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch products: %w", err)
	}

	out := make([]models.ProductCatalogEntry, 0, len(resp.Products))
	for _, p := range resp.Products {
		room := p.RoomID
		if room == "" {
			room = p.RoomNo
		}
		out = append(out, models.ProductCatalogEntry{ProductID: string(p.ProductID), RoomID: string(room)})
	}
	return out, nil
}

// FetchCardPackages returns the package catalog
func (c *Client) FetchCardPackages(ctx context.Context) ([]models.CardPackageAssignment, error) {
	var resp struct {
		Packages []packageWire `json:"packages"`
	}
	if err := c.do(ctx, http.MethodGet, "/card_packages", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch card packages: %w", err)
	}

	out := make([]models.CardPackageAssignment, 0, len(resp.Packages))
	for _, p := range resp.Packages {
		out = append(out, models.CardPackageAssignment{
			ProductID:   string(p.ProductID),
			CardID:      string(p.UID),
			PackageType: models.PackageType(p.PackageType),
		})
	}
	return out, nil
}

// FetchBookings returns every guest booking
func (c *Client) FetchBookings(ctx context.Context) ([]models.GuestBooking, error) {
	var resp struct {
		Guests []guestWire `json:"guests"`
	}
	if err := c.do(ctx, http.MethodGet, "/guests", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch bookings: %w", err)
	}

	out := make([]models.GuestBooking, 0, len(resp.Guests))
	for _, g := range resp.Guests {
		out = append(out, models.GuestBooking{
			ID:           string(g.ID),
			GuestID:      string(g.GuestID),
			RoomID:       string(g.RoomID),
			CardID:       string(g.CardID),
			CheckinTime:  reconcile.ParseTimestamp(string(g.CheckinTime)),
			CheckoutTime: reconcile.ParseTimestamp(string(g.CheckoutTime)),
		})
	}
	return out, nil
}

// UpdateCardPackage writes one package row
func (c *Client) UpdateCardPackage(ctx context.Context, row models.CardPackageAssignment) error {
	if err := c.do(ctx, http.MethodPost, "/card_packages", row, nil); err != nil {
		return fmt.Errorf("failed to update package for %s/%s: %w", row.ProductID, row.CardID, err)
	}
	return nil
}
