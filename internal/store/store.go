// Package store reads the backend's access tables directly from Postgres.
package store

import (
	"context"
	"fmt"
	"time"

	"access-reconciler/internal/models"
	"access-reconciler/internal/reconcile"
	"access-reconciler/internal/util"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an existing connection. Queries are rebound to the
// driver's placeholder style.
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

const (
	accessEventsQuery = `
		SELECT COALESCE(CAST(product_id AS TEXT), '') AS product_id,
		       COALESCE(CAST(uid AS TEXT), '') AS uid,
		       COALESCE(access_status, '') AS access_status,
		       COALESCE(CAST("timestamp" AS TEXT), '') AS "timestamp"
		FROM access_requests`

	productsQuery = `
		SELECT CAST(product_id AS TEXT) AS product_id,
		       COALESCE(CAST(room_no AS TEXT), '') AS room_id
		FROM productstable
		ORDER BY product_id`

	cardPackagesQuery = `
		SELECT CAST(product_id AS TEXT) AS product_id,
		       CAST(uid AS TEXT) AS uid,
		       COALESCE(package_type, '') AS package_type
		FROM card_packages
		ORDER BY product_id, uid`

	bookingsQuery = `
		SELECT CAST(id AS TEXT) AS id,
		       COALESCE(CAST(room_id AS TEXT), '') AS room_id,
		       COALESCE(CAST(card_id AS TEXT), '') AS card_id,
		       COALESCE(CAST(checkin_time AS TEXT), '') AS checkin_time,
		       COALESCE(CAST(checkout_time AS TEXT), '') AS checkout_time
		FROM guests
		ORDER BY id`

	upsertPackageQuery = `
		INSERT INTO card_packages (product_id, uid, package_type)
		VALUES (?, ?, ?)
		ON CONFLICT (product_id, uid) DO UPDATE SET package_type = EXCLUDED.package_type`
)

// FetchAccessEvents returns the access log in table order
func (s *Store) FetchAccessEvents(ctx context.Context) ([]models.AccessEvent, error) {
	ctx, span := util.StartSpan(ctx, "store.FetchAccessEvents")
	defer span.End()

	var events []models.AccessEvent
	if err := s.db.SelectContext(ctx, &events, accessEventsQuery); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to query access_requests: %w", err)
	}
	return events, nil
}

// FetchProducts returns the product catalog
func (s *Store) FetchProducts(ctx context.Context) ([]models.ProductCatalogEntry, error) {
	ctx, span := util.StartSpan(ctx, "store.FetchProducts")
	defer span.End()

	var products []models.ProductCatalogEntry
	if err := s.db.SelectContext(ctx, &products, productsQuery); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to query productstable: %w", err)
	}
	return products, nil
}

// FetchCardPackages returns the package catalog
func (s *Store) FetchCardPackages(ctx context.Context) ([]models.CardPackageAssignment, error) {
	ctx, span := util.StartSpan(ctx, "store.FetchCardPackages")
	defer span.End()

	var packages []models.CardPackageAssignment
	if err := s.db.SelectContext(ctx, &packages, cardPackagesQuery); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to query card_packages: %w", err)
	}
	return packages, nil
}

type bookingRow struct {
	ID           string `db:"id"`
	RoomID       string `db:"room_id"`
	CardID       string `db:"card_id"`
	CheckinTime  string `db:"checkin_time"`
	CheckoutTime string `db:"checkout_time"`
}

// FetchBookings returns every guest booking
func (s *Store) FetchBookings(ctx context.Context) ([]models.GuestBooking, error) {
	ctx, span := util.StartSpan(ctx, "store.FetchBookings")
	defer span.End()

	var rows []bookingRow
	if err := s.db.SelectContext(ctx, &rows, bookingsQuery); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to query guests: %w", err)
	}

	bookings := make([]models.GuestBooking, 0, len(rows))
	for _, r := range rows {
		bookings = append(bookings, models.GuestBooking{
			ID:           r.ID,
			RoomID:       r.RoomID,
			CardID:       r.CardID,
			CheckinTime:  reconcile.ParseTimestamp(r.CheckinTime),
			CheckoutTime: reconcile.ParseTimestamp(r.CheckoutTime),
		})
	}
	return bookings, nil
}

// UpdateCardPackage upserts one package row
func (s *Store) UpdateCardPackage(ctx context.Context, row models.CardPackageAssignment) error {
	ctx, span := util.StartSpan(ctx, "store.UpdateCardPackage")
	defer span.End()

	_, err := s.db.ExecContext(ctx, s.db.Rebind(upsertPackageQuery), row.ProductID, row.CardID, string(row.PackageType))
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to upsert package for %s/%s: %w", row.ProductID, row.CardID, err)
	}
	return nil
}

// UpdateCardPackages upserts rows in one transaction
func (s *Store) UpdateCardPackages(ctx context.Context, rows []models.CardPackageAssignment) error {
	ctx, span := util.StartSpan(ctx, "store.UpdateCardPackages")
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := tx.Rebind(upsertPackageQuery)
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, query, row.ProductID, row.CardID, string(row.PackageType)); err != nil {
			util.RecordError(span, err)
			return fmt.Errorf("failed to upsert package for %s/%s: %w", row.ProductID, row.CardID, err)
		}
	}

	return tx.Commit()
}
