// Package loader reads the server list and data files of the replication
// client.
package loader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/triekv/triekv/internal/model"
	"go.uber.org/zap"
)

// maxDataLine bounds one line of a data file
const maxDataLine = 16 << 20

// LoadServers reads a server list file
func LoadServers(path string, logger *zap.Logger) ([]model.ServerAddress, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open server file: %w", err)
	}
	defer f.Close()
	return ReadServers(f, logger)
}

// ReadServers parses one "<host> <port>" pair per line. Lines that do not
// have exactly two fields or whose port is not a valid port number are
// skipped.
func ReadServers(r io.Reader, logger *zap.Logger) ([]model.ServerAddress, error) {
	var servers []model.ServerAddress
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			logger.Warn("Skipping malformed server line", zap.Int("line", lineNo), zap.String("content", line))
			continue
		}
		port, err := strconv.Atoi(fields[1])
		if err != nil || port < 1 || port > 65535 {
			logger.Warn("Skipping server line with invalid port", zap.Int("line", lineNo), zap.String("content", line))
			continue
		}
		servers = append(servers, model.ServerAddress{Host: fields[0], Port: port})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read server file: %w", err)
	}
	return servers, nil
}

// LoadRecords reads a data file
func LoadRecords(path string) ([]model.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()
	return ReadRecords(f)
}

// ReadRecords parses one JSON object per line. Blank lines are skipped; a
// line that is not a JSON object fails the whole read.
func ReadRecords(r io.Reader) ([]model.Record, error) {
	var records []model.Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxDataLine)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		v, err := model.ParseValue([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("data file line %d: %w", lineNo, err)
		}
		rec, err := model.NewRecord(v)
		if err != nil {
			return nil, fmt.Errorf("data file line %d: %w", lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	return records, nil
}
