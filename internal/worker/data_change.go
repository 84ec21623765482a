package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"access-reconciler/internal/broker"
	"access-reconciler/internal/models"
	"access-reconciler/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const processedEventTTL = 24 * time.Hour

// Deduper remembers processed event ids
type Deduper interface {
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
}

// DataChangeWorker turns data-changed events from Kafka into refresh triggers
type DataChangeWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	dedupe       Deduper
	instanceID   string
	logger       *zap.Logger
}

// NewDataChangeWorker creates a new data change worker. dedupe may be nil.
// Events published by instanceID itself are skipped, since the publishing
// path already triggers its own refresh.
func NewDataChangeWorker(consumer *broker.Consumer, dedupe Deduper, trigger func(), instanceID string) *DataChangeWorker {
	eventHandler := broker.NewEventHandler()
	logger := util.GetLogger()

	eventHandler.OnDataChanged(func(_ context.Context, e *models.AccessDataChangedEvent) error {
		logger.Info("Access data changed upstream",
			zap.String("feed", e.Feed),
			zap.String("reason", e.Reason))
		util.DataChangedEventsTotal.WithLabelValues("kafka").Inc()
		trigger()
		return nil
	})
	eventHandler.OnPackagesChanged(func(_ context.Context, e *models.CardPackagesChangedEvent) error {
		logger.Info("Card packages changed",
			zap.String("uid", e.CardID),
			zap.Int("rows", len(e.Rows)))
		util.DataChangedEventsTotal.WithLabelValues("kafka").Inc()
		trigger()
		return nil
	})

	return &DataChangeWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		dedupe:       dedupe,
		instanceID:   instanceID,
		logger:       logger,
	}
}

// Start starts the worker
func (w *DataChangeWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting data change worker...")
	return w.consumer.StartConsuming(ctx, w.handle)
}

func (w *DataChangeWorker) handle(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		// poison message, commit it and move on
		w.logger.Warn("Dropping undecodable event", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	if w.instanceID != "" && baseEvent.Source == w.instanceID {
		w.logger.Debug("Skipping own event", zap.String("event_id", baseEvent.EventID))
		return nil
	}

	if w.dedupe != nil && baseEvent.EventID != "" {
		// every instance consumes every event, so each keeps its own marks
		fresh, err := w.dedupe.MarkProcessed(ctx, w.instanceID+":"+baseEvent.EventID, processedEventTTL)
		if err != nil {
			w.logger.Warn("Idempotency check failed, processing anyway",
				zap.String("event_id", baseEvent.EventID),
				zap.Error(err))
		} else if !fresh {
			w.logger.Debug("Skipping duplicate event", zap.String("event_id", baseEvent.EventID))
			return nil
		}
	}

	if err := w.eventHandler.HandleMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to handle %s: %w", baseEvent.EventType, err)
	}
	return nil
}

// Stop stops the worker
func (w *DataChangeWorker) Stop() error {
	w.logger.Info("Stopping data change worker...")
	return w.consumer.Close()
}
