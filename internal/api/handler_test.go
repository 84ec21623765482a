package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"access-reconciler/internal/models"
	"access-reconciler/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	events   []models.AccessEvent
	products []models.ProductCatalogEntry
	packages []models.CardPackageAssignment
	bookings []models.GuestBooking
}

func (s *staticSource) FetchAccessEvents(context.Context) ([]models.AccessEvent, error) {
	return s.events, nil
}

func (s *staticSource) FetchProducts(context.Context) ([]models.ProductCatalogEntry, error) {
	return s.products, nil
}

func (s *staticSource) FetchCardPackages(context.Context) ([]models.CardPackageAssignment, error) {
	return s.packages, nil
}

func (s *staticSource) FetchBookings(context.Context) ([]models.GuestBooking, error) {
	return s.bookings, nil
}

type recordingWriter struct {
	mu   sync.Mutex
	rows []models.CardPackageAssignment
}

func (w *recordingWriter) UpdateCardPackage(_ context.Context, row models.CardPackageAssignment) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rows = append(w.rows, row)
	return nil
}

type testServer struct {
	router    *gin.Engine
	snapshots *service.SnapshotService
	writer    *recordingWriter
	triggers  int
}

func newTestServer(t *testing.T, refresh bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	src := &staticSource{
		events: []models.AccessEvent{
			{ProductID: "P1", CardID: "C1", Status: "Access Granted", Timestamp: "2024-05-01T10:00:00Z"},
			{ProductID: "P2", CardID: "C2", Status: "Access Denied", Timestamp: "2024-05-01T11:00:00Z"},
		},
		products: []models.ProductCatalogEntry{
			{ProductID: "P1", RoomID: "101"},
			{ProductID: "P2", RoomID: "102"},
			{ProductID: "P3", RoomID: "103"},
		},
		packages: []models.CardPackageAssignment{
			{ProductID: "P1", CardID: "C1", PackageType: models.PackageStandard},
			{ProductID: "P3", CardID: "C1", PackageType: models.PackageStandard},
			{ProductID: "P3", CardID: "C3", PackageType: models.PackageDeluxe},
		},
		bookings: []models.GuestBooking{
			{ID: "B1", RoomID: "103", CardID: "C3", CheckoutTime: time.Now().Add(24 * time.Hour)},
		},
	}

	ts := &testServer{
		router:    gin.New(),
		snapshots: service.NewSnapshotService(src, nil, nil),
		writer:    &recordingWriter{},
	}
	if refresh {
		require.NoError(t, ts.snapshots.Refresh(context.Background()))
	}

	trigger := func() { ts.triggers++ }
	packages := service.NewPackageService(ts.snapshots, ts.writer, nil, nil)
	packages.SetRefreshTrigger(trigger)
	NewHandler(ts.snapshots, packages, trigger).SetupRoutes(ts.router)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestReadiness(t *testing.T) {
	w, _ := newTestServer(t, false).do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, body := newTestServer(t, true).do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["status"])
}

func TestQueriesWithoutSnapshot(t *testing.T) {
	ts := newTestServer(t, false)
	for _, path := range []string{
		"/api/v1/assignments",
		"/api/v1/denials",
		"/api/v1/availability/rooms",
		"/api/v1/availability/cards?room_id=101",
		"/api/v1/analytics/room_frequency",
	} {
		w, body := ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
		assert.NotEmpty(t, body["error"], path)
	}
}

func TestGetAssignments(t *testing.T) {
	ts := newTestServer(t, true)

	w, body := ts.do(t, http.MethodGet, "/api/v1/assignments?active=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	active := body["assignments"].([]interface{})
	require.Len(t, active, 1)
	assert.Equal(t, "C1", active[0].(map[string]interface{})["uid"])
	assert.Equal(t, "101", active[0].(map[string]interface{})["room_id"])

	w, body = ts.do(t, http.MethodGet, "/api/v1/assignments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["assignments"], 4)

	w, _ = ts.do(t, http.MethodGet, "/api/v1/assignments?active=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetDenials(t *testing.T) {
	w, body := newTestServer(t, true).do(t, http.MethodGet, "/api/v1/denials", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"P2"}, body["denied_product_ids"])
	assert.Equal(t, []interface{}{"102"}, body["denied_room_ids"])
	assert.Equal(t, []interface{}{}, body["deleted_cards"])
}

func TestAvailability(t *testing.T) {
	ts := newTestServer(t, true)

	w, body := ts.do(t, http.MethodGet, "/api/v1/availability/rooms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"101"}, body["rooms"])

	w, body = ts.do(t, http.MethodGet, "/api/v1/availability/rooms?editing_booking_id=B1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"101", "103"}, body["rooms"])

	w, body = ts.do(t, http.MethodGet, "/api/v1/availability/cards?room_id=103", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"C1"}, body["cards"])

	w, _ = ts.do(t, http.MethodGet, "/api/v1/availability/cards", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/api/v1/availability/cards?room_id=999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoomFrequency(t *testing.T) {
	w, body := newTestServer(t, true).do(t, http.MethodGet, "/api/v1/analytics/room_frequency", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["total_access"])
}

func TestRequestRefresh(t *testing.T) {
	ts := newTestServer(t, true)
	w, _ := ts.do(t, http.MethodPost, "/api/v1/refresh", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, ts.triggers)
}

func TestUpdateCardPackage(t *testing.T) {
	ts := newTestServer(t, true)

	w, body := ts.do(t, http.MethodPut, "/api/v1/card_packages", UpdateCardPackageRequest{
		ProductID:   "P1",
		CardID:      "C1",
		PackageType: models.PackageSuite,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["updated"])
	assert.Equal(t, []models.CardPackageAssignment{
		{ProductID: "P1", CardID: "C1", PackageType: models.PackageSuite},
		{ProductID: "P3", CardID: "C1", PackageType: models.PackageSuite},
	}, ts.writer.rows)
	assert.Equal(t, 1, ts.triggers)
}

func TestUpdateCardPackageRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, true)

	w, _ := ts.do(t, http.MethodPut, "/api/v1/card_packages", map[string]string{"product_id": "P1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := ts.do(t, http.MethodPut, "/api/v1/card_packages", UpdateCardPackageRequest{
		ProductID:   "P1",
		CardID:      "C1",
		PackageType: "Platinum",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Failed to update card package", body["error"])
	assert.Empty(t, ts.writer.rows)
}

func TestHealth(t *testing.T) {
	w, body := newTestServer(t, false).do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
}
