package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"access-reconciler/internal/broker"
	"access-reconciler/internal/models"
	"access-reconciler/internal/reconcile"
	"access-reconciler/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoSnapshot is returned by queries before the first snapshot is installed
	ErrNoSnapshot = errors.New("no snapshot available yet")
	// ErrUnknownRoom is returned when a room is not in the product catalog
	ErrUnknownRoom = errors.New("room not in product catalog")
)

// Source provides the four input feeds
type Source interface {
	FetchAccessEvents(ctx context.Context) ([]models.AccessEvent, error)
	FetchProducts(ctx context.Context) ([]models.ProductCatalogEntry, error)
	FetchCardPackages(ctx context.Context) ([]models.CardPackageAssignment, error)
	FetchBookings(ctx context.Context) ([]models.GuestBooking, error)
}

// SnapshotCache persists snapshot inputs across restarts. LoadSnapshot
// reports false when nothing is cached.
type SnapshotCache interface {
	StoreSnapshot(ctx context.Context, in models.SnapshotInputs) (bool, error)
	LoadSnapshot(ctx context.Context) (models.SnapshotInputs, bool, error)
}

// SnapshotPublisher announces installed snapshots
type SnapshotPublisher interface {
	PublishSnapshotRecomputed(ctx context.Context, s broker.SnapshotSummary) error
}

// Snapshot is one consistent reconciliation of a set of inputs
type Snapshot struct {
	Generation    int64
	ComputedAt    time.Time
	Inputs        models.SnapshotInputs
	Result        reconcile.Result
	DeniedRoomIDs reconcile.Set

	packagesByProduct map[string][]models.CardPackageAssignment
}

func buildSnapshot(in models.SnapshotInputs, now time.Time) *Snapshot {
	res := reconcile.Reconcile(reconcile.Project(in.Events), in.Products, in.Packages)
	return &Snapshot{
		Generation:        in.Generation,
		ComputedAt:        now,
		Inputs:            in,
		Result:            res,
		DeniedRoomIDs:     reconcile.DeniedRoomIDs(res, in.Products),
		packagesByProduct: reconcile.GroupByProduct(in.Packages),
	}
}

// SnapshotService fetches the input feeds, runs the reconciliation engine
// and serves queries over the latest installed snapshot.
type SnapshotService struct {
	source    Source
	cache     SnapshotCache
	publisher SnapshotPublisher
	logger    *zap.Logger
	now       func() time.Time

	genMu   sync.Mutex
	lastGen int64

	mu      sync.RWMutex
	current *Snapshot
}

// NewSnapshotService creates a new snapshot service. cache and publisher
// may be nil.
func NewSnapshotService(source Source, cache SnapshotCache, publisher SnapshotPublisher) *SnapshotService {
	return &SnapshotService{
		source:    source,
		cache:     cache,
		publisher: publisher,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// nextGeneration returns a strictly increasing number that also stays ahead
// of generations written by earlier processes.
func (s *SnapshotService) nextGeneration() int64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()

	gen := s.now().UnixNano()
	if gen <= s.lastGen {
		gen = s.lastGen + 1
	}
	s.lastGen = gen
	return gen
}

func (s *SnapshotService) observeGeneration(gen int64) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if gen > s.lastGen {
		s.lastGen = gen
	}
}

// Refresh fetches every feed, recomputes and installs a new snapshot. On a
// fetch failure the installed snapshot is kept.
func (s *SnapshotService) Refresh(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "SnapshotService.Refresh")
	defer span.End()

	start := time.Now()
	defer func() {
		util.RecomputeLatency.Observe(time.Since(start).Seconds())
	}()

	gen := s.nextGeneration()

	in, err := s.fetch(ctx)
	if err != nil {
		util.RecomputeTotal.WithLabelValues("fetch_failed").Inc()
		util.RecordError(span, err)
		return err
	}
	in.Generation = gen
	in.FetchedAt = s.now().UTC()

	snap := buildSnapshot(in, s.now())
	if !s.install(snap) {
		util.RecomputeTotal.WithLabelValues("stale").Inc()
		s.logger.Info("Discarded stale snapshot", zap.Int64("generation", gen))
		return nil
	}
	util.RecomputeTotal.WithLabelValues("installed").Inc()

	if s.cache != nil {
		stored, err := s.cache.StoreSnapshot(ctx, in)
		if err != nil {
			s.logger.Warn("Failed to cache snapshot", zap.Int64("generation", gen), zap.Error(err))
		} else if !stored {
			s.logger.Debug("Cache already holds a newer snapshot", zap.Int64("generation", gen))
		}
	}

	summary := s.summarize(snap)
	if s.publisher != nil {
		if err := s.publisher.PublishSnapshotRecomputed(ctx, summary); err != nil {
			s.logger.Error("Failed to publish SnapshotRecomputed event", zap.Error(err))
		}
	}

	s.logger.Info("Snapshot installed",
		zap.Int64("generation", gen),
		zap.Int("events", len(in.Events)),
		zap.Int("valid_assignments", summary.ValidAssignments),
		zap.Int("denied_products", summary.DeniedProducts),
		zap.Int("deleted_cards", summary.DeletedCards))
	return nil
}

func (s *SnapshotService) fetch(ctx context.Context) (models.SnapshotInputs, error) {
	var in models.SnapshotInputs

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events, err := s.source.FetchAccessEvents(gctx)
		if err != nil {
			util.FeedFetchFailures.WithLabelValues(models.FeedAccessEvents).Inc()
			return err
		}
		in.Events = events
		return nil
	})
	g.Go(func() error {
		products, err := s.source.FetchProducts(gctx)
		if err != nil {
			util.FeedFetchFailures.WithLabelValues(models.FeedProducts).Inc()
			return err
		}
		in.Products = products
		return nil
	})
	g.Go(func() error {
		packages, err := s.source.FetchCardPackages(gctx)
		if err != nil {
			util.FeedFetchFailures.WithLabelValues(models.FeedCardPackages).Inc()
			return err
		}
		in.Packages = packages
		return nil
	})
	g.Go(func() error {
		bookings, err := s.source.FetchBookings(gctx)
		if err != nil {
			util.FeedFetchFailures.WithLabelValues(models.FeedBookings).Inc()
			return err
		}
		in.Bookings = bookings
		return nil
	})

	if err := g.Wait(); err != nil {
		return in, fmt.Errorf("failed to fetch input feeds: %w", err)
	}
	return in, nil
}

// install replaces the current snapshot unless a newer one is installed
func (s *SnapshotService) install(snap *Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.Generation >= snap.Generation {
		return false
	}
	s.current = snap
	return true
}

func (s *SnapshotService) summarize(snap *Snapshot) broker.SnapshotSummary {
	rooms := reconcile.ComputeAvailability(reconcile.RoomIDs(snap.Inputs.Products),
		snap.Inputs.Bookings, snap.DeniedRoomIDs, "", snap.ComputedAt)

	summary := broker.SnapshotSummary{
		Generation:       snap.Generation,
		ValidAssignments: len(snap.Result.ValidAssignments),
		DeniedProducts:   len(snap.Result.DeniedProductIDs),
		DeletedCards:     len(snap.Result.DeletedCardsGlobal),
		AvailableRooms:   len(rooms),
	}

	util.SnapshotGeneration.Set(float64(summary.Generation))
	util.ValidAssignments.Set(float64(summary.ValidAssignments))
	util.DeniedProducts.Set(float64(summary.DeniedProducts))
	util.DeletedCards.Set(float64(summary.DeletedCards))
	util.AvailableRooms.Set(float64(summary.AvailableRooms))
	return summary
}

// WarmStart installs a snapshot from the cached inputs of an earlier run
func (s *SnapshotService) WarmStart(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}

	ctx, span := util.StartSpan(ctx, "SnapshotService.WarmStart")
	defer span.End()

	in, found, err := s.cache.LoadSnapshot(ctx)
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to load cached snapshot: %w", err)
	}
	if !found {
		s.logger.Info("No cached snapshot to warm start from")
		return nil
	}

	s.observeGeneration(in.Generation)
	snap := buildSnapshot(in, s.now())
	if s.install(snap) {
		s.summarize(snap)
		s.logger.Info("Warm started from cached snapshot",
			zap.Int64("generation", in.Generation),
			zap.Time("fetched_at", in.FetchedAt))
	}
	return nil
}

// Current returns the installed snapshot
func (s *SnapshotService) Current() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return nil, ErrNoSnapshot
	}
	return s.current, nil
}

// Assignments returns reconciled assignments, optionally only active ones
func (s *SnapshotService) Assignments(activeOnly bool) ([]models.ReconciledAssignment, error) {
	snap, err := s.Current()
	if err != nil {
		return nil, err
	}
	if activeOnly {
		return snap.Result.ValidAssignments, nil
	}
	return snap.Result.Assignments, nil
}

// Denials is the blocked view of a snapshot
type Denials struct {
	Generation           int64                    `json:"generation"`
	DeniedProductIDs     reconcile.Set            `json:"denied_product_ids"`
	DeniedRoomIDs        reconcile.Set            `json:"denied_room_ids"`
	DeletedCards         reconcile.Set            `json:"deleted_cards"`
	DeniedCardsByProduct map[string]reconcile.Set `json:"denied_cards_by_product"`
}

// Denials returns the denied products, rooms and cards
func (s *SnapshotService) Denials() (Denials, error) {
	snap, err := s.Current()
	if err != nil {
		return Denials{}, err
	}
	return Denials{
		Generation:           snap.Generation,
		DeniedProductIDs:     snap.Result.DeniedProductIDs,
		DeniedRoomIDs:        snap.DeniedRoomIDs,
		DeletedCards:         snap.Result.DeletedCardsGlobal,
		DeniedCardsByProduct: snap.Result.DeniedCardsByProduct,
	}, nil
}

// AvailableRooms returns the rooms a booking can be placed in
func (s *SnapshotService) AvailableRooms(editingBookingID string) ([]string, error) {
	snap, err := s.Current()
	if err != nil {
		return nil, err
	}
	return reconcile.ComputeAvailability(reconcile.RoomIDs(snap.Inputs.Products),
		snap.Inputs.Bookings, snap.DeniedRoomIDs, editingBookingID, s.now()), nil
}

// AvailableCards returns the cards that can be handed out for a room
func (s *SnapshotService) AvailableCards(roomID, editingBookingID string) ([]string, error) {
	snap, err := s.Current()
	if err != nil {
		return nil, err
	}

	productID, ok := reconcile.ProductForRoom(snap.Inputs.Products, roomID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
	}

	return reconcile.ComputeCardPool(productID, reconcile.CardPoolInput{
		PackagesByProduct: snap.packagesByProduct,
		Reconciled:        snap.Result,
		Bookings:          snap.Inputs.Bookings,
		EditingBookingID:  editingBookingID,
		Now:               s.now(),
	}), nil
}

// RoomFrequency returns access analytics over the snapshot's log
func (s *SnapshotService) RoomFrequency() (reconcile.FrequencyReport, error) {
	snap, err := s.Current()
	if err != nil {
		return reconcile.FrequencyReport{}, err
	}
	return reconcile.RoomFrequency(snap.Inputs.Events, snap.Inputs.Products), nil
}
