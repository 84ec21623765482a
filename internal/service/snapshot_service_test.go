package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"access-reconciler/internal/broker"
	"access-reconciler/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeSource serves fixed feeds; setting err fails FetchAccessEvents. With
// gate set, the first FetchAccessEvents call signals entered and blocks until
// gate is closed, and later calls return later instead of events.
type fakeSource struct {
	mu       sync.Mutex
	events   []models.AccessEvent
	later    []models.AccessEvent
	products []models.ProductCatalogEntry
	packages []models.CardPackageAssignment
	bookings []models.GuestBooking
	err      error
	gate     chan struct{}
	entered  chan struct{}
	calls    int
}

func (f *fakeSource) FetchAccessEvents(ctx context.Context) ([]models.AccessEvent, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	gate, events, err := f.gate, f.events, f.err
	if gate != nil && !first {
		events = f.later
	}
	f.mu.Unlock()

	if gate != nil && first {
		f.entered <- struct{}{}
		<-gate
	}
	return events, err
}

func (f *fakeSource) FetchProducts(ctx context.Context) ([]models.ProductCatalogEntry, error) {
	return f.products, nil
}

func (f *fakeSource) FetchCardPackages(ctx context.Context) ([]models.CardPackageAssignment, error) {
	return f.packages, nil
}

func (f *fakeSource) FetchBookings(ctx context.Context) ([]models.GuestBooking, error) {
	return f.bookings, nil
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) StoreSnapshot(ctx context.Context, in models.SnapshotInputs) (bool, error) {
	args := m.Called(ctx, in)
	return args.Bool(0), args.Error(1)
}

func (m *mockCache) LoadSnapshot(ctx context.Context) (models.SnapshotInputs, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.SnapshotInputs), args.Bool(1), args.Error(2)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishSnapshotRecomputed(ctx context.Context, s broker.SnapshotSummary) error {
	return m.Called(ctx, s).Error(0)
}

func (m *mockPublisher) PublishCardPackagesChanged(ctx context.Context, cardID string, pt models.PackageType, rows []models.CardPackageAssignment) error {
	return m.Called(ctx, cardID, pt, rows).Error(0)
}

func (m *mockPublisher) PublishDataChanged(ctx context.Context, feed, reason string) error {
	return m.Called(ctx, feed, reason).Error(0)
}

func hotelSource() *fakeSource {
	return &fakeSource{
		events: []models.AccessEvent{
			{ProductID: "P1", CardID: "C1", Status: "Access Granted", Timestamp: "2024-05-01T10:00:00Z"},
			{ProductID: "P2", CardID: "C2", Status: "Access Denied", Timestamp: "2024-05-01T11:00:00Z"},
			{ProductID: "P3", CardID: "C3", Status: "Granted", Timestamp: "2024-05-01T09:00:00Z"},
			{ProductID: "P1", CardID: "C3", Status: "Card Deleted", Timestamp: "2024-05-01T12:00:00Z"},
		},
		products: []models.ProductCatalogEntry{
			{ProductID: "P1", RoomID: "101"},
			{ProductID: "P2", RoomID: "102"},
			{ProductID: "P3", RoomID: "103"},
		},
		packages: []models.CardPackageAssignment{
			{ProductID: "P1", CardID: "C1", PackageType: models.PackageStandard},
			{ProductID: "P1", CardID: "C4", PackageType: models.PackageStandard},
			{ProductID: "P1", CardID: "C9", PackageType: models.PackageMasterCard},
			{ProductID: "P3", CardID: "C3", PackageType: models.PackageDeluxe},
			{ProductID: "P3", CardID: "C5", PackageType: models.PackageDeluxe},
		},
		bookings: []models.GuestBooking{
			{ID: "B1", RoomID: "103", CardID: "C5", CheckoutTime: testNow.Add(24 * time.Hour)},
			{ID: "B2", RoomID: "101", CardID: "C4", CheckoutTime: testNow.Add(-time.Hour)},
		},
	}
}

func newTestService(src Source, cache SnapshotCache, pub SnapshotPublisher) *SnapshotService {
	s := NewSnapshotService(src, cache, pub)
	s.now = func() time.Time { return testNow }
	return s
}

func TestQueriesBeforeFirstSnapshot(t *testing.T) {
	s := newTestService(hotelSource(), nil, nil)

	_, err := s.Assignments(false)
	assert.ErrorIs(t, err, ErrNoSnapshot)
	_, err = s.AvailableRooms("")
	assert.ErrorIs(t, err, ErrNoSnapshot)
	_, err = s.Denials()
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestRefreshInstallsSnapshot(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("PublishSnapshotRecomputed", mock.Anything, mock.AnythingOfType("broker.SnapshotSummary")).Return(nil)
	cache := new(mockCache)
	cache.On("StoreSnapshot", mock.Anything, mock.AnythingOfType("models.SnapshotInputs")).Return(true, nil)

	s := newTestService(hotelSource(), cache, pub)
	require.NoError(t, s.Refresh(context.Background()))

	valid, err := s.Assignments(true)
	require.NoError(t, err)
	require.Len(t, valid, 1)
	assert.Equal(t, "C1", valid[0].CardID)
	assert.Equal(t, "101", valid[0].RoomID)

	denials, err := s.Denials()
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, denials.DeniedProductIDs.Sorted())
	assert.Equal(t, []string{"101", "102"}, denials.DeniedRoomIDs.Sorted())
	assert.Equal(t, []string{"C3"}, denials.DeletedCards.Sorted())

	// 101 and 102 are denied, 103 is booked
	rooms, err := s.AvailableRooms("")
	require.NoError(t, err)
	assert.Empty(t, rooms)

	rooms, err = s.AvailableRooms("B1")
	require.NoError(t, err)
	assert.Equal(t, []string{"103"}, rooms)

	summary := pub.Calls[0].Arguments.Get(1).(broker.SnapshotSummary)
	assert.Equal(t, 1, summary.ValidAssignments)
	assert.Equal(t, 2, summary.DeniedProducts)
	assert.Equal(t, 1, summary.DeletedCards)
	assert.Equal(t, 0, summary.AvailableRooms)

	cache.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestAvailableCards(t *testing.T) {
	s := newTestService(hotelSource(), nil, nil)
	require.NoError(t, s.Refresh(context.Background()))

	// C9 is a master card, C4's booking has checked out
	cards, err := s.AvailableCards("101", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1", "C4"}, cards)

	// C3 is deleted, C5 is held by B1
	cards, err = s.AvailableCards("103", "")
	require.NoError(t, err)
	assert.Equal(t, []string{}, cards)

	cards, err = s.AvailableCards("103", "B1")
	require.NoError(t, err)
	assert.Equal(t, []string{"C5"}, cards)

	_, err = s.AvailableCards("999", "")
	assert.ErrorIs(t, err, ErrUnknownRoom)
}

func TestRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	src := hotelSource()
	s := newTestService(src, nil, nil)
	require.NoError(t, s.Refresh(context.Background()))
	first, err := s.Current()
	require.NoError(t, err)

	src.mu.Lock()
	src.err = errors.New("backend down")
	src.mu.Unlock()

	err = s.Refresh(context.Background())
	assert.ErrorContains(t, err, "backend down")

	current, err := s.Current()
	require.NoError(t, err)
	assert.Same(t, first, current)
}

func TestStaleRefreshIsDiscarded(t *testing.T) {
	src := hotelSource()
	src.gate = make(chan struct{})
	src.entered = make(chan struct{}, 1)
	s := newTestService(src, nil, nil)

	done := make(chan error, 1)
	go func() { done <- s.Refresh(context.Background()) }()
	<-src.entered

	// a refresh started later finishes first
	require.NoError(t, s.Refresh(context.Background()))
	newer, err := s.Current()
	require.NoError(t, err)

	close(src.gate)
	require.NoError(t, <-done)

	current, err := s.Current()
	require.NoError(t, err)
	assert.Same(t, newer, current)
	assert.Empty(t, current.Inputs.Events)
}

func TestWarmStartFromCache(t *testing.T) {
	src := hotelSource()
	cached := models.SnapshotInputs{
		Generation: 42,
		Events:     src.events,
		Products:   src.products,
		Packages:   src.packages,
		Bookings:   src.bookings,
	}
	cache := new(mockCache)
	cache.On("LoadSnapshot", mock.Anything).Return(cached, true, nil)

	s := newTestService(src, cache, nil)
	require.NoError(t, s.WarmStart(context.Background()))

	snap, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(42), snap.Generation)
	assert.Len(t, snap.Result.ValidAssignments, 1)
	assert.Greater(t, s.nextGeneration(), int64(42))
}

func TestWarmStartWithEmptyCache(t *testing.T) {
	cache := new(mockCache)
	cache.On("LoadSnapshot", mock.Anything).Return(models.SnapshotInputs{}, false, nil)

	s := newTestService(hotelSource(), cache, nil)
	require.NoError(t, s.WarmStart(context.Background()))

	_, err := s.Current()
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestNextGenerationIsMonotonic(t *testing.T) {
	s := newTestService(hotelSource(), nil, nil)
	a := s.nextGeneration()
	b := s.nextGeneration()
	assert.Greater(t, b, a)
}
