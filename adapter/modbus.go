package adapter

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/types"
)

// ModbusRegister places one legacy sensor or actuator in the holding
// register map. Multiplier converts the raw 16-bit register value into
// engineering units.
type ModbusRegister struct {
	Address    uint16
	Multiplier float64
	Unit       string
}

// ModbusSystem drives a SCADA RTU over Modbus TCP. Sensor values live
// in holding registers; commands are single-register writes.
type ModbusSystem struct {
	address   string
	unitID    byte
	timeout   time.Duration
	registers map[string]ModbusRegister
	logger    *slog.Logger

	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// NewModbusSystem creates a Modbus TCP driver for the given register
// map. address is host:port.
func NewModbusSystem(address string, unitID byte, timeout time.Duration,
	registers map[string]ModbusRegister, logger *slog.Logger) *ModbusSystem {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ModbusSystem{
		address:   address,
		unitID:    unitID,
		timeout:   timeout,
		registers: registers,
		logger:    logger,
	}
}

func (s *ModbusSystem) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	handler := modbus.NewTCPClientHandler(s.address)
	handler.Timeout = s.timeout
	handler.SlaveId = s.unitID
	if err := handler.Connect(); err != nil {
		return errors.WrapTransient(err, "ModbusSystem", "Connect", s.address)
	}
	s.handler = handler
	s.client = modbus.NewClient(handler)
	s.logger.Info("modbus connection established", "address", s.address, "unit_id", s.unitID)
	return nil
}

func (s *ModbusSystem) Disconnect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler == nil {
		return nil
	}
	err := s.handler.Close()
	s.handler = nil
	s.client = nil
	if err != nil {
		return errors.Wrap(err, "ModbusSystem", "Disconnect", s.address)
	}
	return nil
}

// ReadRawData reads every mapped holding register. A register that
// fails to read yields a bad-quality zero reading rather than failing
// the whole sweep.
func (s *ModbusSystem) ReadRawData(_ context.Context) (map[string]RawReading, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return nil, errors.WrapTransient(errors.ErrNotConnected, "ModbusSystem", "ReadRawData", s.address)
	}

	now := time.Now()
	out := make(map[string]RawReading, len(s.registers))
	for legacyID, reg := range s.registers {
		results, err := client.ReadHoldingRegisters(reg.Address, 1)
		if err != nil || len(results) < 2 {
			s.logger.Warn("modbus register read failed",
				"legacy_id", legacyID, "register", reg.Address, "error", err)
			out[legacyID] = RawReading{
				Quality:   types.QualityBad,
				Timestamp: now,
				Unit:      reg.Unit,
				Extra:     map[string]any{"register": reg.Address},
			}
			continue
		}
		raw := binary.BigEndian.Uint16(results)
		out[legacyID] = RawReading{
			Value:     float64(raw) * reg.Multiplier,
			Unit:      reg.Unit,
			Timestamp: now,
			Quality:   types.QualityGood,
			Extra:     map[string]any{"register": reg.Address, "raw_value": raw},
		}
	}
	return out, nil
}

// WriteRawCommand scales the command value back to register units and
// writes a single holding register.
func (s *ModbusSystem) WriteRawCommand(_ context.Context, cmd RawCommand) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return errors.WrapTransient(errors.ErrNotConnected, "ModbusSystem", "WriteRawCommand", s.address)
	}

	reg, ok := s.registers[cmd.Target]
	if !ok {
		return errors.WrapInvalid(errors.ErrUnknownTarget, "ModbusSystem", "WriteRawCommand", cmd.Target)
	}

	multiplier := reg.Multiplier
	if multiplier == 0 {
		multiplier = 1
	}
	raw := uint16(cmd.Value / multiplier)
	if _, err := client.WriteSingleRegister(reg.Address, raw); err != nil {
		return errors.WrapTransient(err, "ModbusSystem", "WriteRawCommand",
			fmt.Sprintf("register %d", reg.Address))
	}
	s.logger.Debug("modbus register written", "target", cmd.Target, "register", reg.Address, "raw_value", raw)
	return nil
}

func (s *ModbusSystem) SystemInfo() map[string]string {
	return map[string]string{
		"system_type": "scada_modbus",
		"address":     s.address,
		"unit_id":     fmt.Sprintf("%d", s.unitID),
		"protocol":    "Modbus TCP",
	}
}
