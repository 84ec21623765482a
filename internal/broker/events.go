package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"access-reconciler/internal/models"
	"access-reconciler/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Sink writes a keyed event. *Producer implements it.
type Sink interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	sink   Sink
	source string
	now    func() time.Time
}

// NewEventPublisher creates a new event publisher. source identifies this
// instance on every event it publishes.
func NewEventPublisher(sink Sink, source string) *EventPublisher {
	return &EventPublisher{sink: sink, source: source, now: time.Now}
}

func (ep *EventPublisher) base(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: ep.now().UTC(),
		Source:    ep.source,
	}
}

// PublishDataChanged publishes ACCESS_DATA_CHANGED for one feed
func (ep *EventPublisher) PublishDataChanged(ctx context.Context, feed, reason string) error {
	event := &models.AccessDataChangedEvent{
		BaseEvent: ep.base(models.EventTypeAccessDataChanged),
		Feed:      feed,
		Reason:    reason,
	}
	return ep.sink.PublishEvent(ctx, "feed-"+feed, event)
}

// PublishCardPackagesChanged publishes CARD_PACKAGES_CHANGED keyed by card
func (ep *EventPublisher) PublishCardPackagesChanged(ctx context.Context, cardID string, pt models.PackageType, rows []models.CardPackageAssignment) error {
	event := &models.CardPackagesChangedEvent{
		BaseEvent:   ep.base(models.EventTypeCardPackagesChanged),
		CardID:      cardID,
		PackageType: pt,
		Rows:        rows,
	}
	return ep.sink.PublishEvent(ctx, "card-"+cardID, event)
}

// SnapshotSummary carries the counts reported with SNAPSHOT_RECOMPUTED
type SnapshotSummary struct {
	Generation       int64
	ValidAssignments int
	DeniedProducts   int
	DeletedCards     int
	AvailableRooms   int
}

// PublishSnapshotRecomputed publishes SNAPSHOT_RECOMPUTED
func (ep *EventPublisher) PublishSnapshotRecomputed(ctx context.Context, s SnapshotSummary) error {
	event := &models.SnapshotRecomputedEvent{
		BaseEvent:        ep.base(models.EventTypeSnapshotRecomputed),
		Generation:       s.Generation,
		ValidAssignments: s.ValidAssignments,
		DeniedProducts:   s.DeniedProducts,
		DeletedCards:     s.DeletedCards,
		AvailableRooms:   s.AvailableRooms,
	}
	return ep.sink.PublishEvent(ctx, "snapshot", event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onDataChanged     func(context.Context, *models.AccessDataChangedEvent) error
	onPackagesChanged func(context.Context, *models.CardPackagesChangedEvent) error
	logger            *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnDataChanged registers a handler for ACCESS_DATA_CHANGED events
func (eh *EventHandler) OnDataChanged(handler func(context.Context, *models.AccessDataChangedEvent) error) {
	eh.onDataChanged = handler
}

// OnPackagesChanged registers a handler for CARD_PACKAGES_CHANGED events
func (eh *EventHandler) OnPackagesChanged(handler func(context.Context, *models.CardPackagesChangedEvent) error) {
	eh.onPackagesChanged = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeAccessDataChanged:
		if eh.onDataChanged != nil {
			var event models.AccessDataChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal AccessDataChanged event: %w", err)
			}
			return eh.onDataChanged(ctx, &event)
		}

	case models.EventTypeCardPackagesChanged:
		if eh.onPackagesChanged != nil {
			var event models.CardPackagesChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal CardPackagesChanged event: %w", err)
			}
			return eh.onPackagesChanged(ctx, &event)
		}

	case models.EventTypeSnapshotRecomputed:
		// informational

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
