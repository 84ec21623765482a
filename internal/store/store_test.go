package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"access-reconciler/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const testSchema = `
CREATE TABLE access_requests (
	uid TEXT,
	"timestamp" TEXT,
	product_id TEXT,
	access_status TEXT,
	created_at TEXT DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE productstable (
	product_id TEXT PRIMARY KEY,
	room_no TEXT
);
CREATE TABLE card_packages (
	product_id TEXT NOT NULL,
	uid TEXT NOT NULL,
	package_type TEXT NOT NULL CHECK (package_type <> ''),
	UNIQUE (product_id, uid)
);
CREATE TABLE guests (
	id INTEGER PRIMARY KEY,
	room_id TEXT,
	card_id TEXT,
	checkin_time TEXT,
	checkout_time TEXT
);
`

// openTestStore returns a store over a fresh in-memory SQLite database with
// the backend schema applied.
func openTestStore(t *testing.T) (*Store, *sqlx.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:store_%s?mode=memory&cache=shared", t.Name())
	conn, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)

	db := sqlx.NewDb(conn, "sqlite3")
	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return NewStoreFromDB(db), db
}

func TestFetchAccessEvents(t *testing.T) {
	s, db := openTestStore(t)
	db.MustExec(`INSERT INTO access_requests (uid, "timestamp", product_id, access_status) VALUES
		('C1', '2024-01-01 10:00:00', 'P1', 'Access Granted'),
		('C2', '2024-01-01 11:00:00', NULL, NULL)`)

	events, err := s.FetchAccessEvents(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []models.AccessEvent{
		{ProductID: "P1", CardID: "C1", Status: "Access Granted", Timestamp: "2024-01-01 10:00:00"},
		{ProductID: "", CardID: "C2", Status: "", Timestamp: "2024-01-01 11:00:00"},
	}, events)
}

func TestFetchProductsAliasesRoomNumber(t *testing.T) {
	s, db := openTestStore(t)
	db.MustExec(`INSERT INTO productstable (product_id, room_no) VALUES ('P2', '102'), ('P1', '101')`)

	products, err := s.FetchProducts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []models.ProductCatalogEntry{
		{ProductID: "P1", RoomID: "101"},
		{ProductID: "P2", RoomID: "102"},
	}, products)
}

func TestFetchBookingsParsesTimes(t *testing.T) {
	s, db := openTestStore(t)
	db.MustExec(`INSERT INTO guests (id, room_id, card_id, checkin_time, checkout_time) VALUES
		(1, '101', 'C1', '2024-06-01 10:00:00', '2024-06-03 11:00:00'),
		(2, '102', 'C2', '2024-06-01 10:00:00', NULL)`)

	bookings, err := s.FetchBookings(context.Background())
	require.NoError(t, err)
	require.Len(t, bookings, 2)

	assert.Equal(t, "1", bookings[0].ID)
	assert.Equal(t, time.Date(2024, 6, 3, 11, 0, 0, 0, time.UTC), bookings[0].CheckoutTime)
	assert.True(t, bookings[1].CheckoutTime.IsZero())
}

func TestUpdateCardPackageUpserts(t *testing.T) {
	s, db := openTestStore(t)
	db.MustExec(`INSERT INTO card_packages (product_id, uid, package_type) VALUES ('P1', 'C1', 'Standard')`)

	ctx := context.Background()
	require.NoError(t, s.UpdateCardPackage(ctx, models.CardPackageAssignment{
		ProductID: "P1", CardID: "C1", PackageType: models.PackageDeluxe,
	}))
	require.NoError(t, s.UpdateCardPackage(ctx, models.CardPackageAssignment{
		ProductID: "P3", CardID: "C2", PackageType: models.PackageMasterCard,
	}))

	packages, err := s.FetchCardPackages(ctx)
	require.NoError(t, err)

	assert.Equal(t, []models.CardPackageAssignment{
		{ProductID: "P1", CardID: "C1", PackageType: models.PackageDeluxe},
		{ProductID: "P3", CardID: "C2", PackageType: models.PackageMasterCard},
	}, packages)
}

func TestUpdateCardPackageError(t *testing.T) {
	s, _ := openTestStore(t)

	err := s.UpdateCardPackage(context.Background(), models.CardPackageAssignment{ProductID: "P1", CardID: "C1"})
	assert.ErrorContains(t, err, "failed to upsert package for P1/C1")
}

func TestUpdateCardPackagesUpserts(t *testing.T) {
	s, db := openTestStore(t)
	db.MustExec(`INSERT INTO card_packages (product_id, uid, package_type) VALUES ('P1', 'C1', 'Standard')`)

	ctx := context.Background()
	require.NoError(t, s.UpdateCardPackages(ctx, []models.CardPackageAssignment{
		{ProductID: "P1", CardID: "C1", PackageType: models.PackageSuite},
		{ProductID: "P2", CardID: "C1", PackageType: models.PackageSuite},
	}))

	packages, err := s.FetchCardPackages(ctx)
	require.NoError(t, err)

	assert.Equal(t, []models.CardPackageAssignment{
		{ProductID: "P1", CardID: "C1", PackageType: models.PackageSuite},
		{ProductID: "P2", CardID: "C1", PackageType: models.PackageSuite},
	}, packages)
}

func TestUpdateCardPackagesRollsBack(t *testing.T) {
	s, db := openTestStore(t)
	db.MustExec(`INSERT INTO card_packages (product_id, uid, package_type) VALUES
		('P1', 'C1', 'Standard'),
		('P2', 'C1', 'Standard')`)

	ctx := context.Background()
	err := s.UpdateCardPackages(ctx, []models.CardPackageAssignment{
		{ProductID: "P1", CardID: "C1", PackageType: models.PackageSuite},
		{ProductID: "P2", CardID: "C1"},
	})
	require.Error(t, err)

	packages, err := s.FetchCardPackages(ctx)
	require.NoError(t, err)

	assert.Equal(t, []models.CardPackageAssignment{
		{ProductID: "P1", CardID: "C1", PackageType: models.PackageStandard},
		{ProductID: "P2", CardID: "C1", PackageType: models.PackageStandard},
	}, packages)
}
