package adapter

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/types"
)

// fakeToken is an in-memory paho token. timedOut makes WaitTimeout
// report an elapsed deadline.
type fakeToken struct {
	timedOut bool
	err      error
}

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t fakeToken) Error() error                   { return t.err }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type publishRecord struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeMQTTClient records publishes and returns configurable tokens.
type fakeMQTTClient struct {
	mu        sync.Mutex
	published []publishRecord
	pubToken  fakeToken
}

func (c *fakeMQTTClient) IsConnected() bool      { return true }
func (c *fakeMQTTClient) IsConnectionOpen() bool { return true }
func (c *fakeMQTTClient) Connect() mqtt.Token    { return fakeToken{} }
func (c *fakeMQTTClient) Disconnect(uint)        {}

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, _ := payload.([]byte)
	c.published = append(c.published, publishRecord{topic, qos, retained, b})
	return c.pubToken
}

func (c *fakeMQTTClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}

func (c *fakeMQTTClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}

func (c *fakeMQTTClient) Unsubscribe(...string) mqtt.Token       { return fakeToken{} }
func (c *fakeMQTTClient) AddRoute(string, mqtt.MessageHandler)   {}
func (c *fakeMQTTClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

func (c *fakeMQTTClient) records() []publishRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publishRecord(nil), c.published...)
}

// stubMessage is an in-memory paho message.
type stubMessage struct {
	topic   string
	payload []byte
}

func (m stubMessage) Duplicate() bool   { return false }
func (m stubMessage) Qos() byte         { return 0 }
func (m stubMessage) Retained() bool    { return false }
func (m stubMessage) Topic() string     { return m.topic }
func (m stubMessage) MessageID() uint16 { return 0 }
func (m stubMessage) Payload() []byte   { return m.payload }
func (m stubMessage) Ack()              {}

func connectedMQTTSystem(client mqtt.Client, qos byte) *MQTTSystem {
	s := NewMQTTSystem(MQTTSystemConfig{
		Broker:       "tcp://127.0.0.1:1883",
		ClientID:     "test",
		Topic:        "plant/telemetry/#",
		CommandTopic: "plant/commands",
		QoS:          qos,
	}, nil)
	s.client = client
	s.latest = make(map[string]RawReading)
	return s
}

func telemetryPayload(t *testing.T, sensorID string, value float64) []byte {
	t.Helper()
	b, err := json.Marshal(mqttTelemetry{
		SensorID:  sensorID,
		Value:     value,
		Unit:      "bar",
		Quality:   "good",
		Timestamp: time.Now().Format(time.RFC3339),
	})
	require.NoError(t, err)
	return b
}

func TestMQTTTelemetryLatestWinsPerSensor(t *testing.T) {
	s := connectedMQTTSystem(&fakeMQTTClient{}, 0)

	s.onTelemetry(nil, stubMessage{topic: "plant/telemetry/p1", payload: telemetryPayload(t, "pressure_01", 2.8)})
	s.onTelemetry(nil, stubMessage{topic: "plant/telemetry/p1", payload: telemetryPayload(t, "pressure_01", 3.1)})
	s.onTelemetry(nil, stubMessage{topic: "plant/telemetry/f1", payload: telemetryPayload(t, "flow_01", 55.0)})

	data, err := s.ReadRawData(context.Background())
	require.NoError(t, err)
	require.Len(t, data, 2)
	assert.InDelta(t, 3.1, data["pressure_01"].Value, 1e-9)
	assert.Equal(t, "bar", data["pressure_01"].Unit)
	assert.Equal(t, types.QualityGood, data["pressure_01"].Quality)
	assert.Equal(t, "plant/telemetry/p1", data["pressure_01"].Extra["topic"])
}

func TestMQTTTelemetryDropsMalformedPayload(t *testing.T) {
	s := connectedMQTTSystem(&fakeMQTTClient{}, 0)

	s.onTelemetry(nil, stubMessage{topic: "plant/telemetry/x", payload: []byte("{not json")})

	data, err := s.ReadRawData(context.Background())
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestMQTTTelemetryDropsMissingSensorID(t *testing.T) {
	s := connectedMQTTSystem(&fakeMQTTClient{}, 0)

	payload, err := json.Marshal(mqttTelemetry{Value: 3.0, Unit: "bar"})
	require.NoError(t, err)
	s.onTelemetry(nil, stubMessage{topic: "plant/telemetry/x", payload: payload})

	data, err := s.ReadRawData(context.Background())
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestMQTTTelemetryBadQualityAndTimestampFallback(t *testing.T) {
	s := connectedMQTTSystem(&fakeMQTTClient{}, 0)

	payload, err := json.Marshal(mqttTelemetry{
		SensorID:  "quality_01",
		Value:     5.5,
		Quality:   "bad",
		Timestamp: "not-a-timestamp",
	})
	require.NoError(t, err)

	before := time.Now()
	s.onTelemetry(nil, stubMessage{topic: "plant/telemetry/q1", payload: payload})

	data, err := s.ReadRawData(context.Background())
	require.NoError(t, err)
	require.Contains(t, data, "quality_01")
	assert.Equal(t, types.QualityBad, data["quality_01"].Quality)
	// Unparseable timestamps fall back to the arrival time.
	assert.False(t, data["quality_01"].Timestamp.Before(before))
}

func TestMQTTReadBeforeConnect(t *testing.T) {
	s := NewMQTTSystem(MQTTSystemConfig{Broker: "tcp://127.0.0.1:1883"}, nil)

	_, err := s.ReadRawData(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrNotConnected)
}

func TestMQTTWriteCommandPublishesJSON(t *testing.T) {
	client := &fakeMQTTClient{}
	s := connectedMQTTSystem(client, 0)

	err := s.WriteRawCommand(context.Background(), RawCommand{
		Target:      "pump_01",
		CommandType: "set_pressure",
		Value:       3.5,
		Timestamp:   time.Now(),
		Priority:    1,
	})
	require.NoError(t, err)

	records := client.records()
	require.Len(t, records, 1)
	assert.Equal(t, "plant/commands/pump_01", records[0].topic)
	assert.False(t, records[0].retained)
	// Commands never go out fire-and-forget, even with QoS 0 configured.
	assert.Equal(t, byte(1), records[0].qos)

	var cmd mqttCommand
	require.NoError(t, json.Unmarshal(records[0].payload, &cmd))
	assert.Equal(t, "pump_01", cmd.Target)
	assert.Equal(t, "set_pressure", cmd.CommandType)
	assert.InDelta(t, 3.5, cmd.Value, 1e-9)
}

func TestMQTTWriteCommandUsesConfiguredQoS(t *testing.T) {
	client := &fakeMQTTClient{}
	s := connectedMQTTSystem(client, 2)

	require.NoError(t, s.WriteRawCommand(context.Background(), RawCommand{Target: "valve_01"}))

	records := client.records()
	require.Len(t, records, 1)
	assert.Equal(t, byte(2), records[0].qos)
}

func TestMQTTWriteCommandTimeoutIsFailure(t *testing.T) {
	client := &fakeMQTTClient{pubToken: fakeToken{timedOut: true}}
	s := connectedMQTTSystem(client, 0)

	err := s.WriteRawCommand(context.Background(), RawCommand{Target: "pump_01"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsTransient(err))
	assert.Contains(t, err.Error(), "timed out")
}

func TestMQTTWriteCommandBrokerErrorIsTransient(t *testing.T) {
	client := &fakeMQTTClient{pubToken: fakeToken{err: stderrors.New("not authorized")}}
	s := connectedMQTTSystem(client, 0)

	err := s.WriteRawCommand(context.Background(), RawCommand{Target: "pump_01"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsTransient(err))
	assert.Contains(t, err.Error(), "not authorized")
}
