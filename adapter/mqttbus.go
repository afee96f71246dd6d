package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/types"
)

// mqttTelemetry is the JSON payload legacy field nodes publish.
type mqttTelemetry struct {
	SensorID  string  `json:"sensor_id"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Quality   string  `json:"quality"`
	Timestamp string  `json:"timestamp"`
}

// mqttCommand is the JSON payload written to a field node's command
// topic.
type mqttCommand struct {
	Target      string         `json:"target"`
	CommandType string         `json:"command_type"`
	Value       float64        `json:"value"`
	Timestamp   string         `json:"timestamp"`
	Priority    int            `json:"priority"`
	Params      map[string]any `json:"params,omitempty"`
}

// MQTTSystemConfig configures the MQTT field-bus driver. Topic is the
// telemetry subscription (wildcards allowed), CommandTopic the prefix
// for outgoing commands. Username and Password are optional; QoS
// applies to the telemetry subscription, while commands always publish
// at QoS 1 or higher.
type MQTTSystemConfig struct {
	Broker       string
	ClientID     string
	Username     string
	Password     string
	Topic        string
	CommandTopic string
	QoS          byte
}

// MQTTSystem integrates legacy field nodes that publish telemetry over
// an MQTT broker. Incoming messages are retained in memory; each read
// cycle returns the latest value per sensor. Commands are published to
// <commandTopic>/<target>.
type MQTTSystem struct {
	cfg     MQTTSystemConfig
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	client mqtt.Client
	latest map[string]RawReading
}

// NewMQTTSystem creates an MQTT field-bus driver.
func NewMQTTSystem(cfg MQTTSystemConfig, logger *slog.Logger) *MQTTSystem {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTSystem{
		cfg:     cfg,
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

// await blocks on a paho token. An elapsed timeout is a failure: the
// operation never completed, so it must not be reported as delivered.
func (s *MQTTSystem) await(token mqtt.Token) error {
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("token wait timed out after %s", s.timeout)
	}
	return token.Error()
}

func (s *MQTTSystem) Connect(_ context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(s.timeout).
		SetOnConnectHandler(func(mqtt.Client) {
			s.logger.Info("mqtt connected", "broker", s.cfg.Broker)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost", "broker", s.cfg.Broker, "error", err)
		})
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if err := s.await(client.Connect()); err != nil {
		return errors.WrapTransient(err, "MQTTSystem", "Connect", s.cfg.Broker)
	}
	if err := s.await(client.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onTelemetry)); err != nil {
		client.Disconnect(250)
		return errors.WrapTransient(err, "MQTTSystem", "Connect",
			fmt.Sprintf("subscribe %s", s.cfg.Topic))
	}

	s.mu.Lock()
	s.client = client
	s.latest = make(map[string]RawReading)
	s.mu.Unlock()
	return nil
}

func (s *MQTTSystem) Disconnect(_ context.Context) error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
	return nil
}

func (s *MQTTSystem) onTelemetry(_ mqtt.Client, msg mqtt.Message) {
	var t mqttTelemetry
	if err := json.Unmarshal(msg.Payload(), &t); err != nil {
		s.logger.Warn("malformed telemetry payload dropped", "topic", msg.Topic(), "error", err)
		return
	}
	if t.SensorID == "" {
		s.logger.Warn("telemetry without sensor_id dropped", "topic", msg.Topic())
		return
	}

	quality := types.Quality(t.Quality)
	if quality != types.QualityBad {
		quality = types.QualityGood
	}
	ts, err := time.Parse(time.RFC3339, t.Timestamp)
	if err != nil {
		ts = time.Now()
	}

	s.mu.Lock()
	if s.latest != nil {
		s.latest[t.SensorID] = RawReading{
			Value:     t.Value,
			Unit:      t.Unit,
			Timestamp: ts,
			Quality:   quality,
			Extra:     map[string]any{"topic": msg.Topic()},
		}
	}
	s.mu.Unlock()
}

// ReadRawData returns a snapshot of the latest retained telemetry.
func (s *MQTTSystem) ReadRawData(_ context.Context) (map[string]RawReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, errors.WrapTransient(errors.ErrNotConnected, "MQTTSystem", "ReadRawData", s.cfg.Broker)
	}
	out := make(map[string]RawReading, len(s.latest))
	for id, r := range s.latest {
		out[id] = r
	}
	return out, nil
}

// WriteRawCommand publishes the command JSON. Control commands need
// confirmed delivery, so the publish QoS never drops below 1.
func (s *MQTTSystem) WriteRawCommand(_ context.Context, cmd RawCommand) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return errors.WrapTransient(errors.ErrNotConnected, "MQTTSystem", "WriteRawCommand", s.cfg.Broker)
	}

	payload, err := json.Marshal(mqttCommand{
		Target:      cmd.Target,
		CommandType: cmd.CommandType,
		Value:       cmd.Value,
		Timestamp:   cmd.Timestamp.Format(time.RFC3339),
		Priority:    cmd.Priority,
		Params:      cmd.Params,
	})
	if err != nil {
		return errors.WrapInvalid(err, "MQTTSystem", "WriteRawCommand", cmd.Target)
	}

	qos := s.cfg.QoS
	if qos < 1 {
		qos = 1
	}
	topic := s.cfg.CommandTopic + "/" + cmd.Target
	if err := s.await(client.Publish(topic, qos, false, payload)); err != nil {
		return errors.WrapTransient(err, "MQTTSystem", "WriteRawCommand", topic)
	}
	s.logger.Debug("command published", "topic", topic, "value", cmd.Value)
	return nil
}

func (s *MQTTSystem) SystemInfo() map[string]string {
	return map[string]string{
		"system_type":   "mqtt_legacy",
		"broker":        s.cfg.Broker,
		"topic":         s.cfg.Topic,
		"command_topic": s.cfg.CommandTopic,
		"protocol":      "MQTT 3.1.1",
	}
}
