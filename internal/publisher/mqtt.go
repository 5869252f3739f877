package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jgoulah/remotemeter/internal/config"
	"github.com/jgoulah/remotemeter/pkg/models"
)

const (
	DefaultTopicPrefix = "remote_meter"
	DefaultClientID    = "remotemeter"

	publishTimeout = 10 * time.Second
)

var ErrPublishTimeout = errors.New("timed out waiting for broker acknowledgement")

// Publisher pushes meter readings to Home Assistant over MQTT
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
}

// Payload is the retained JSON message for one day
type Payload struct {
	Meter           int     `json:"meter"`
	Date            string  `json:"date"`
	CumulativeUsage float64 `json:"cumulative_usage_kwh"`
	DailyUsage      float64 `json:"daily_usage_kwh"`
}

// New connects to the configured broker
func New(cfg config.MQTTConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, &config.ConfigurationError{Key: "mqtt.enabled", Message: "MQTT publishing is not enabled"}
	}
	if cfg.Broker == "" {
		return nil, &config.ConfigurationError{Key: "mqtt.broker", Message: "broker address is required when enabled"}
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", cfg.Broker, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", cfg.Broker, err)
	}

	return NewWithClient(client, cfg.TopicPrefix), nil
}

// NewWithClient wraps an already connected client
func NewWithClient(client mqtt.Client, topicPrefix string) *Publisher {
	if topicPrefix == "" {
		topicPrefix = DefaultTopicPrefix
	}
	return &Publisher{client: client, topicPrefix: topicPrefix}
}

// StateTopic carries the latest reading of a meter
func (p *Publisher) StateTopic(meterID int) string {
	return fmt.Sprintf("%s/%d/state", p.topicPrefix, meterID)
}

// DailyTopic carries the reading of one day
func (p *Publisher) DailyTopic(meterID int, date string) string {
	return fmt.Sprintf("%s/%d/daily/%s", p.topicPrefix, meterID, date)
}

// PublishMonths publishes every reading to its daily topic and the last
// one to the state topic, all retained. It returns the number of daily
// messages acknowledged.
func (p *Publisher) PublishMonths(meterID int, months []models.MonthReadings) (int, error) {
	var latest *Payload
	published := 0

	for _, m := range months {
		for _, r := range m.Readings {
			payload := Payload{
				Meter:           meterID,
				Date:            r.Date,
				CumulativeUsage: r.CumulativeUsage,
				DailyUsage:      r.DailyUsage,
			}
			if err := p.publish(p.DailyTopic(meterID, r.Date), payload); err != nil {
				return published, err
			}
			published++

			if latest == nil || payload.Date >= latest.Date {
				latest = &payload
			}
		}
	}

	if latest != nil {
		if err := p.publish(p.StateTopic(meterID), *latest); err != nil {
			return published, err
		}
	}

	return published, nil
}

func (p *Publisher) publish(topic string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	token := p.client.Publish(topic, 1, true, body)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publishing %s: %w", topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}

	slog.Debug("published reading", "topic", topic, "date", payload.Date)
	return nil
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
