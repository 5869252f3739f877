package publisher

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/remotemeter/internal/config"
	"github.com/jgoulah/remotemeter/pkg/models"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  Payload
}

// fakeClient records publishes; calling any other method panics
type fakeClient struct {
	mqtt.Client
	messages     []message
	failOn       string
	timeout      bool
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if topic == c.failOn {
		return &fakeToken{err: errors.New("broker unavailable")}
	}
	if c.timeout {
		return &fakeToken{timeout: true}
	}

	var p Payload
	if err := json.Unmarshal(payload.([]byte), &p); err != nil {
		return &fakeToken{err: err}
	}
	c.messages = append(c.messages, message{topic: topic, qos: qos, retained: retained, payload: p})
	return &fakeToken{}
}

func (c *fakeClient) IsConnected() bool { return !c.disconnected }
func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

var months = []models.MonthReadings{
	{Year: 2025, Month: 7, Readings: []models.Reading{
		{Date: "2025-07-31", CumulativeUsage: 37097.3, DailyUsage: 29.1},
	}},
	{Year: 2025, Month: 8, Readings: []models.Reading{
		{Date: "2025-08-01", CumulativeUsage: 37129.9, DailyUsage: 32.6},
		{Date: "2025-08-02", CumulativeUsage: 37160.1, DailyUsage: 30.2},
	}},
}

func TestPublishMonths(t *testing.T) {
	client := &fakeClient{}
	p := NewWithClient(client, "")

	n, err := p.PublishMonths(2, months)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	topics := make([]string, 0, len(client.messages))
	for _, m := range client.messages {
		topics = append(topics, m.topic)
		require.True(t, m.retained, m.topic)
		require.Equal(t, byte(1), m.qos)
		require.Equal(t, 2, m.payload.Meter)
	}
	require.Equal(t, []string{
		"remote_meter/2/daily/2025-07-31",
		"remote_meter/2/daily/2025-08-01",
		"remote_meter/2/daily/2025-08-02",
		"remote_meter/2/state",
	}, topics)

	state := client.messages[len(client.messages)-1].payload
	require.Equal(t, Payload{Meter: 2, Date: "2025-08-02", CumulativeUsage: 37160.1, DailyUsage: 30.2}, state)
}

func TestPublishMonthsEmpty(t *testing.T) {
	client := &fakeClient{}
	p := NewWithClient(client, "home/meter")

	n, err := p.PublishMonths(1, nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, client.messages)
	require.Equal(t, "home/meter/1/state", p.StateTopic(1))
}

func TestPublishMonthsStopsOnError(t *testing.T) {
	client := &fakeClient{failOn: "remote_meter/1/daily/2025-08-01"}
	p := NewWithClient(client, "")

	n, err := p.PublishMonths(1, months)
	require.ErrorContains(t, err, "broker unavailable")
	require.Equal(t, 1, n)
	require.Len(t, client.messages, 1)
}

func TestPublishMonthsTimeout(t *testing.T) {
	p := NewWithClient(&fakeClient{timeout: true}, "")

	_, err := p.PublishMonths(1, months)
	require.ErrorIs(t, err, ErrPublishTimeout)
}

func TestNewRequiresBroker(t *testing.T) {
	_, err := New(config.MQTTConfig{})
	var cfgErr *config.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "mqtt.enabled", cfgErr.Key)

	_, err = New(config.MQTTConfig{Enabled: true})
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "mqtt.broker", cfgErr.Key)
}

func TestClose(t *testing.T) {
	client := &fakeClient{}
	NewWithClient(client, "").Close()
	require.True(t, client.disconnected)
}
