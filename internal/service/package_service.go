package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"access-reconciler/internal/models"
	"access-reconciler/internal/reconcile"
	"access-reconciler/internal/util"

	"go.uber.org/zap"
)

var (
	// ErrInvalidPackageChange is returned when a change names no product or card
	ErrInvalidPackageChange = errors.New("product_id and uid are required")
	// ErrPackageChangeInProgress is returned while another change holds the card
	ErrPackageChangeInProgress = errors.New("package change already in progress for card")
)

const packageLockTTL = 30 * time.Second

// PackageWriter persists one package row
type PackageWriter interface {
	UpdateCardPackage(ctx context.Context, row models.CardPackageAssignment) error
}

// BatchPackageWriter persists all rows of a change or none of them
type BatchPackageWriter interface {
	UpdateCardPackages(ctx context.Context, rows []models.CardPackageAssignment) error
}

// PackagePublisher announces package writes
type PackagePublisher interface {
	PublishCardPackagesChanged(ctx context.Context, cardID string, pt models.PackageType, rows []models.CardPackageAssignment) error
	PublishDataChanged(ctx context.Context, feed, reason string) error
}

// Locker serializes changes to the same card across replicas
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// PackageService applies package type changes to every pair of a card
type PackageService struct {
	snapshots *SnapshotService
	writer    PackageWriter
	publisher PackagePublisher
	locker    Locker
	trigger   func()
	logger    *zap.Logger
}

// NewPackageService creates a new package service. publisher and locker may
// be nil.
func NewPackageService(snapshots *SnapshotService, writer PackageWriter, publisher PackagePublisher, locker Locker) *PackageService {
	return &PackageService{
		snapshots: snapshots,
		writer:    writer,
		publisher: publisher,
		locker:    locker,
		trigger:   func() {},
		logger:    util.GetLogger(),
	}
}

// SetRefreshTrigger sets what is called after a successful change
func (s *PackageService) SetRefreshTrigger(trigger func()) {
	if trigger == nil {
		trigger = func() {}
	}
	s.trigger = trigger
}

// ChangePackageType sets the package type of a card on a product and on
// every other product the card is assigned to. Returns the rows written.
func (s *PackageService) ChangePackageType(ctx context.Context, productID, cardID string, pt models.PackageType) ([]models.CardPackageAssignment, error) {
	ctx, span := util.StartSpan(ctx, "PackageService.ChangePackageType")
	defer span.End()

	productID = strings.TrimSpace(productID)
	cardID = strings.TrimSpace(cardID)
	if productID == "" || cardID == "" {
		return nil, ErrInvalidPackageChange
	}
	if !pt.Valid() {
		return nil, fmt.Errorf("%w: %q", reconcile.ErrUnknownPackageType, pt)
	}

	if s.locker != nil {
		lockKey := "package:" + cardID
		acquired, err := s.locker.AcquireLock(ctx, lockKey, packageLockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire package lock: %w", err)
		}
		if !acquired {
			return nil, fmt.Errorf("%w: %s", ErrPackageChangeInProgress, cardID)
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.Background(), lockKey); err != nil {
				s.logger.Warn("Failed to release package lock", zap.String("uid", cardID), zap.Error(err))
			}
		}()
	}

	snap, err := s.snapshots.Current()
	if err != nil {
		return nil, err
	}

	rows, err := reconcile.PropagatePackageType(snap.Inputs.Packages, productID, cardID, pt)
	if err != nil {
		return nil, err
	}

	if written, err := s.write(ctx, rows); err != nil {
		util.PackageRowsWritten.Add(float64(len(written)))
		util.RecordError(span, err)
		if len(written) > 0 {
			// rows already written are picked up by the refresh
			s.trigger()
		}
		return written, err
	}
	util.PackageRowsWritten.Add(float64(len(rows)))

	s.logger.Info("Package type changed",
		zap.String("product_id", productID),
		zap.String("uid", cardID),
		zap.String("package_type", string(pt)),
		zap.Int("rows", len(rows)))

	if s.publisher != nil {
		if err := s.publisher.PublishCardPackagesChanged(ctx, cardID, pt, rows); err != nil {
			s.logger.Error("Failed to publish CardPackagesChanged event", zap.Error(err))
		}
		if err := s.publisher.PublishDataChanged(ctx, models.FeedCardPackages, "package type change"); err != nil {
			s.logger.Error("Failed to publish AccessDataChanged event", zap.Error(err))
		}
	}

	s.trigger()
	return rows, nil
}

// write stores rows in one transaction when the writer supports it, else row
// by row. Returns the rows that were persisted.
func (s *PackageService) write(ctx context.Context, rows []models.CardPackageAssignment) ([]models.CardPackageAssignment, error) {
	if batch, ok := s.writer.(BatchPackageWriter); ok {
		if err := batch.UpdateCardPackages(ctx, rows); err != nil {
			return nil, fmt.Errorf("wrote 0 of %d package rows: %w", len(rows), err)
		}
		return rows, nil
	}

	for i, row := range rows {
		if err := s.writer.UpdateCardPackage(ctx, row); err != nil {
			return rows[:i], fmt.Errorf("wrote %d of %d package rows: %w", i, len(rows), err)
		}
	}
	return rows, nil
}
