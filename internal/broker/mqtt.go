package broker

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"access-reconciler/internal/util"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ReaderNotification is what a door reader publishes after logging an access
type ReaderNotification struct {
	ProductID string `json:"product_id"`
	CardID    string `json:"uid"`
	Status    string `json:"access_status"`
}

// ParseReaderNotification decodes a reader message. The product id falls
// back to the topic segment after the first level (rfid/<product>/access).
// Payloads that are not JSON still count as a notification.
func ParseReaderNotification(topic string, payload []byte) ReaderNotification {
	var n ReaderNotification
	_ = json.Unmarshal(payload, &n)

	if n.ProductID == "" {
		if parts := strings.Split(topic, "/"); len(parts) >= 3 {
			n.ProductID = parts[1]
		}
	}
	return n
}

// Subscriber listens for reader notifications and calls onNotify for each
type Subscriber struct {
	client   mqtt.Client
	topic    string
	onNotify func(ReaderNotification)
	logger   *zap.Logger
}

// NewSubscriber creates a subscriber for the given broker and topic filter
func NewSubscriber(brokerURL, clientID, topic string, onNotify func(ReaderNotification)) *Subscriber {
	s := &Subscriber{
		topic:    topic,
		onNotify: onNotify,
		logger:   util.GetLogger(),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c mqtt.Client) {
			// resubscribe after every reconnect
			if token := c.Subscribe(s.topic, 1, s.handleMessage); token.Wait() && token.Error() != nil {
				s.logger.Error("MQTT subscribe failed", zap.String("topic", s.topic), zap.Error(token.Error()))
				return
			}
			s.logger.Info("MQTT subscribed", zap.String("topic", s.topic))
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("MQTT connection lost", zap.Error(err))
		})

	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects to the broker
func (s *Subscriber) Start() error {
	token := s.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		// retry continues in the background
		s.logger.Warn("MQTT connect still pending", zap.String("topic", s.topic))
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect failed: %w", err)
	}
	return nil
}

// Stop disconnects from the broker
func (s *Subscriber) Stop() {
	s.client.Disconnect(250)
}

func (s *Subscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	n := ParseReaderNotification(msg.Topic(), msg.Payload())
	s.logger.Debug("Reader notification",
		zap.String("topic", msg.Topic()),
		zap.String("product_id", n.ProductID))

	if s.onNotify != nil {
		s.onNotify(n)
	}
}
