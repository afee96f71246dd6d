package adapter

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/types"
)

// SOAPSystem speaks to a legacy XML web service. Authentication yields
// a session token carried in the envelope header of every later call.
type SOAPSystem struct {
	endpoint string
	username string
	password string
	client   *http.Client
	logger   *slog.Logger

	mu           sync.Mutex
	sessionToken string
}

// NewSOAPSystem creates a SOAP driver. A nil http client gets a
// 10-second timeout default.
func NewSOAPSystem(endpoint, username, password string, client *http.Client, logger *slog.Logger) *SOAPSystem {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SOAPSystem{
		endpoint: endpoint,
		username: username,
		password: password,
		client:   client,
		logger:   logger,
	}
}

type soapEnvelope struct {
	XMLName xml.Name    `xml:"soap:Envelope"`
	NS      string      `xml:"xmlns:soap,attr"`
	Header  *soapHeader `xml:"soap:Header,omitempty"`
	Body    soapBody    `xml:"soap:Body"`
}

type soapHeader struct {
	SessionToken string `xml:"sessionToken"`
}

type soapBody struct {
	Authenticate   *authRequest    `xml:"authenticate,omitempty"`
	GetSensorData  *sensorRequest  `xml:"getSensorData,omitempty"`
	ExecuteCommand *commandRequest `xml:"executeCommand,omitempty"`
}

type authRequest struct {
	Username string `xml:"username"`
	Password string `xml:"password"`
}

type sensorRequest struct {
	Timestamp string `xml:"timestamp"`
}

type commandRequest struct {
	Target      string  `xml:"target"`
	CommandType string  `xml:"commandType"`
	Value       float64 `xml:"value"`
	Timestamp   string  `xml:"timestamp"`
}

type authResponse struct {
	XMLName xml.Name `xml:"Envelope"`
	Token   string   `xml:"Body>authenticateResponse>sessionToken"`
}

type sensorDataResponse struct {
	XMLName xml.Name     `xml:"Envelope"`
	Sensors []soapSensor `xml:"Body>getSensorDataResponse>sensors>sensor"`
}

type soapSensor struct {
	ID        string  `xml:"id,attr"`
	Type      string  `xml:"type,attr"`
	Value     float64 `xml:"value,attr"`
	Unit      string  `xml:"unit,attr"`
	Timestamp string  `xml:"timestamp,attr"`
}

type commandResponse struct {
	XMLName xml.Name `xml:"Envelope"`
	Success bool     `xml:"Body>executeCommandResponse>success"`
}

// Connect authenticates and stores the session token.
func (s *SOAPSystem) Connect(ctx context.Context) error {
	env := soapEnvelope{
		NS:   "http://schemas.xmlsoap.org/soap/envelope/",
		Body: soapBody{Authenticate: &authRequest{Username: s.username, Password: s.password}},
	}
	var resp authResponse
	if err := s.call(ctx, env, &resp); err != nil {
		return errors.WrapTransient(err, "SOAPSystem", "Connect", s.endpoint)
	}
	if resp.Token == "" {
		return errors.WrapTransient(errors.ErrNotConnected, "SOAPSystem", "Connect",
			"authentication returned no session token")
	}

	s.mu.Lock()
	s.sessionToken = resp.Token
	s.mu.Unlock()
	s.logger.Info("soap session established", "endpoint", s.endpoint)
	return nil
}

func (s *SOAPSystem) Disconnect(_ context.Context) error {
	s.mu.Lock()
	s.sessionToken = ""
	s.mu.Unlock()
	return nil
}

// ReadRawData fetches the current sensor set in one getSensorData call.
func (s *SOAPSystem) ReadRawData(ctx context.Context) (map[string]RawReading, error) {
	token, err := s.token()
	if err != nil {
		return nil, err
	}

	env := soapEnvelope{
		NS:     "http://schemas.xmlsoap.org/soap/envelope/",
		Header: &soapHeader{SessionToken: token},
		Body:   soapBody{GetSensorData: &sensorRequest{Timestamp: time.Now().Format(time.RFC3339)}},
	}
	var resp sensorDataResponse
	if err := s.call(ctx, env, &resp); err != nil {
		return nil, errors.WrapTransient(err, "SOAPSystem", "ReadRawData", s.endpoint)
	}

	out := make(map[string]RawReading, len(resp.Sensors))
	for _, sensor := range resp.Sensors {
		ts, parseErr := time.Parse(time.RFC3339, sensor.Timestamp)
		if parseErr != nil {
			ts = time.Now()
		}
		out[sensor.ID] = RawReading{
			Value:     sensor.Value,
			Unit:      sensor.Unit,
			Timestamp: ts,
			Quality:   types.QualityGood,
			Extra:     map[string]any{"sensor_type": sensor.Type},
		}
	}
	return out, nil
}

// WriteRawCommand sends one executeCommand call and checks the service
// acknowledged it.
func (s *SOAPSystem) WriteRawCommand(ctx context.Context, cmd RawCommand) error {
	token, err := s.token()
	if err != nil {
		return err
	}

	env := soapEnvelope{
		NS:     "http://schemas.xmlsoap.org/soap/envelope/",
		Header: &soapHeader{SessionToken: token},
		Body: soapBody{ExecuteCommand: &commandRequest{
			Target:      cmd.Target,
			CommandType: cmd.CommandType,
			Value:       cmd.Value,
			Timestamp:   cmd.Timestamp.Format(time.RFC3339),
		}},
	}
	var resp commandResponse
	if err := s.call(ctx, env, &resp); err != nil {
		return errors.WrapTransient(err, "SOAPSystem", "WriteRawCommand", cmd.Target)
	}
	if !resp.Success {
		return errors.WrapTransient(errors.ErrDispatchFailed, "SOAPSystem", "WriteRawCommand",
			fmt.Sprintf("service rejected command for %s", cmd.Target))
	}
	s.logger.Debug("soap command acknowledged", "target", cmd.Target, "value", cmd.Value)
	return nil
}

func (s *SOAPSystem) SystemInfo() map[string]string {
	s.mu.Lock()
	active := s.sessionToken != ""
	s.mu.Unlock()
	return map[string]string{
		"system_type":    "xml_web_service",
		"endpoint":       s.endpoint,
		"protocol":       "SOAP/HTTP",
		"session_active": fmt.Sprintf("%t", active),
	}
}

func (s *SOAPSystem) token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionToken == "" {
		return "", errors.WrapTransient(errors.ErrNotConnected, "SOAPSystem", "token", "no active session")
	}
	return s.sessionToken, nil
}

// call posts one envelope and decodes the response envelope into out.
func (s *SOAPSystem) call(ctx context.Context, env soapEnvelope, out any) error {
	payload, err := xml.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint,
		bytes.NewReader(append([]byte(xml.Header), payload...)))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("service returned %d: %s", resp.StatusCode, body)
	}
	if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
