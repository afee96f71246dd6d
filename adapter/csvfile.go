package adapter

import (
	"context"
	"encoding/csv"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/types"
)

// CSVFileSystem exchanges data with a legacy system through flat files:
// readings arrive as rows appended to an input file, commands leave as
// rows appended to an output file. The newest input row wins.
type CSVFileSystem struct {
	inputPath  string
	outputPath string
	logger     *slog.Logger

	mu        sync.Mutex
	connected bool
	lastRead  time.Time
}

// NewCSVFileSystem creates a file-exchange driver.
func NewCSVFileSystem(inputPath, outputPath string, logger *slog.Logger) *CSVFileSystem {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVFileSystem{
		inputPath:  inputPath,
		outputPath: outputPath,
		logger:     logger,
	}
}

// Connect verifies the input file is readable and the output file is
// appendable.
func (s *CSVFileSystem) Connect(_ context.Context) error {
	in, err := os.Open(s.inputPath)
	if err != nil {
		return errors.WrapTransient(err, "CSVFileSystem", "Connect", s.inputPath)
	}
	in.Close()

	out, err := os.OpenFile(s.outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.WrapTransient(err, "CSVFileSystem", "Connect", s.outputPath)
	}
	out.Close()

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.logger.Info("csv file exchange ready", "input", s.inputPath, "output", s.outputPath)
	return nil
}

func (s *CSVFileSystem) Disconnect(_ context.Context) error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

// ReadRawData parses the input file and returns the newest data row
// keyed by column header. Non-numeric columns are skipped.
func (s *CSVFileSystem) ReadRawData(_ context.Context) (map[string]RawReading, error) {
	if !s.isConnected() {
		return nil, errors.WrapTransient(errors.ErrNotConnected, "CSVFileSystem", "ReadRawData", s.inputPath)
	}

	f, err := os.Open(s.inputPath)
	if err != nil {
		return nil, errors.WrapTransient(err, "CSVFileSystem", "ReadRawData", s.inputPath)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "CSVFileSystem", "ReadRawData", s.inputPath)
	}
	if len(rows) < 2 {
		return map[string]RawReading{}, nil
	}

	header := rows[0]
	latest := rows[len(rows)-1]
	now := time.Now()

	out := make(map[string]RawReading, len(header))
	for i, column := range header {
		if i >= len(latest) {
			break
		}
		value, parseErr := strconv.ParseFloat(latest[i], 64)
		if parseErr != nil {
			continue
		}
		out[column] = RawReading{
			Value:     value,
			Timestamp: now,
			Quality:   types.QualityGood,
			Extra:     map[string]any{"source": "csv_file"},
		}
	}

	s.mu.Lock()
	s.lastRead = now
	s.mu.Unlock()
	return out, nil
}

// WriteRawCommand appends one command row to the output file.
func (s *CSVFileSystem) WriteRawCommand(_ context.Context, cmd RawCommand) error {
	if !s.isConnected() {
		return errors.WrapTransient(errors.ErrNotConnected, "CSVFileSystem", "WriteRawCommand", s.outputPath)
	}

	f, err := os.OpenFile(s.outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.WrapTransient(err, "CSVFileSystem", "WriteRawCommand", s.outputPath)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	record := []string{
		time.Now().Format(time.RFC3339),
		cmd.Target,
		cmd.CommandType,
		strconv.FormatFloat(cmd.Value, 'f', -1, 64),
	}
	if err := w.Write(record); err != nil {
		return errors.Wrap(err, "CSVFileSystem", "WriteRawCommand", s.outputPath)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "CSVFileSystem", "WriteRawCommand", s.outputPath)
	}

	s.logger.Debug("command row appended", "target", cmd.Target, "value", cmd.Value)
	return nil
}

func (s *CSVFileSystem) SystemInfo() map[string]string {
	s.mu.Lock()
	lastRead := "never"
	if !s.lastRead.IsZero() {
		lastRead = s.lastRead.Format(time.RFC3339)
	}
	s.mu.Unlock()
	return map[string]string{
		"system_type": "csv_file_system",
		"input_file":  s.inputPath,
		"output_file": s.outputPath,
		"last_read":   lastRead,
	}
}

func (s *CSVFileSystem) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
