// Package audit provides append-only change tracking. Every engine
// operation writes exactly one JSON-lines record, including failures,
// dry-runs, and cancellations.
package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/switchcraft/switchcraft/pkg/util"
)

// Record is one audit log entry. Records are append-only and never
// mutated after Log.
type Record struct {
	Timestamp        time.Time              `json:"timestamp"`
	DeviceID         string                 `json:"device_id"`
	Operation        string                 `json:"operation"`
	Actor            string                 `json:"actor"`
	DryRun           bool                   `json:"dry_run"`
	Parameters       map[string]interface{} `json:"parameters,omitempty"`
	BeforeState      interface{}            `json:"before_state,omitempty"`
	AfterState       interface{}            `json:"after_state,omitempty"`
	Success          bool                   `json:"success"`
	Error            string                 `json:"error,omitempty"`
	ErrorKind        string                 `json:"error_kind,omitempty"`
	RecoveryAttempts []string               `json:"recovery_attempts,omitempty"`
	DurationMS       int64                  `json:"duration_ms"`
}

// NewRecord starts a record for an operation.
func NewRecord(deviceID, operation, actor string) *Record {
	if actor == "" {
		actor = "system"
	}
	return &Record{Timestamp: time.Now().UTC(), DeviceID: deviceID, Operation: operation, Actor: actor}
}

// Filter selects records in Query.
type Filter struct {
	Device      string
	Operation   string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
}

// Logger writes records to a rotating JSON-lines file. Rotation is
// handled by lumberjack: a record is never split across files. The
// logger is a value threaded through the engine, not process state, so
// tests can run in parallel with independent logs.
type Logger struct {
	path    string
	writer  *lumberjack.Logger
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewLogger creates a logger writing to path, rotating at maxSizeMB with
// maxBackups retained files.
func NewLogger(path string, maxSizeMB, maxBackups int) *Logger {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   false,
	}
	return &Logger{path: path, writer: w, encoder: json.NewEncoder(w)}
}

// NewDefaultLogger uses the spec'd rotation policy: 10 MB, 5 backups.
func NewDefaultLogger(path string) *Logger {
	return NewLogger(path, 10, 5)
}

// Log appends one record. The write happens before the operation
// returns to its caller; an append failure is surfaced, never dropped
// silently.
func (l *Logger) Log(record *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.encoder.Encode(record)
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer.Close()
}

// Query scans the current log file for records matching the filter,
// oldest first. Malformed lines are skipped with a warning.
func (l *Logger) Query(filter Filter) ([]*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Record{}, nil
		}
		return nil, err
	}
	defer file.Close()

	var records []*Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			util.Warnf("audit: skipping malformed record at line %d: %v", line, err)
			continue
		}
		if matches(&r, filter) {
			records = append(records, &r)
		}
	}
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[len(records)-filter.Limit:]
	}
	return records, scanner.Err()
}

func matches(r *Record, f Filter) bool {
	if f.Device != "" && r.DeviceID != f.Device {
		return false
	}
	if f.Operation != "" && r.Operation != f.Operation {
		return false
	}
	if !f.StartTime.IsZero() && r.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && r.Timestamp.After(f.EndTime) {
		return false
	}
	if f.SuccessOnly && !r.Success {
		return false
	}
	if f.FailureOnly && r.Success {
		return false
	}
	return true
}
