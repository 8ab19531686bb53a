package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func tempLogger(t *testing.T) *Logger {
	t.Helper()
	logger := NewDefaultLogger(filepath.Join(t.TempDir(), "audit.log"))
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestLogAndQuery(t *testing.T) {
	logger := tempLogger(t)

	ok := NewRecord("lab-brocade", "create_vlan", "alice")
	ok.Success = true
	ok.Parameters = map[string]interface{}{"vlan_id": 100}
	ok.DurationMS = 1200
	if err := logger.Log(ok); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	bad := NewRecord("lab-zyxel", "delete_vlan", "")
	bad.Success = false
	bad.Error = "device rejected command"
	bad.ErrorKind = "vendor-reject"
	bad.RecoveryAttempts = []string{"retry after reconnect"}
	if err := logger.Log(bad); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	records, err := logger.Query(Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].DeviceID != "lab-brocade" || !records[0].Success {
		t.Errorf("first record = %+v", records[0])
	}
	if records[1].Actor != "system" {
		t.Errorf("empty actor should default to system, got %q", records[1].Actor)
	}
	if len(records[1].RecoveryAttempts) != 1 {
		t.Error("recovery trail lost in round trip")
	}
}

func TestQueryFilters(t *testing.T) {
	logger := tempLogger(t)

	for i, spec := range []struct {
		device  string
		op      string
		success bool
	}{
		{"a", "create_vlan", true},
		{"a", "delete_vlan", false},
		{"b", "create_vlan", true},
	} {
		r := NewRecord(spec.device, spec.op, "t")
		r.Success = spec.success
		if err := logger.Log(r); err != nil {
			t.Fatalf("log %d: %v", i, err)
		}
	}

	byDevice, _ := logger.Query(Filter{Device: "a"})
	if len(byDevice) != 2 {
		t.Errorf("device filter = %d, want 2", len(byDevice))
	}
	byOp, _ := logger.Query(Filter{Operation: "create_vlan"})
	if len(byOp) != 2 {
		t.Errorf("operation filter = %d, want 2", len(byOp))
	}
	failures, _ := logger.Query(Filter{FailureOnly: true})
	if len(failures) != 1 || failures[0].Operation != "delete_vlan" {
		t.Errorf("failure filter = %+v", failures)
	}
	limited, _ := logger.Query(Filter{Limit: 1})
	if len(limited) != 1 || limited[0].DeviceID != "b" {
		t.Errorf("limit should keep the newest records, got %+v", limited)
	}
}

func TestQueryTimeWindow(t *testing.T) {
	logger := tempLogger(t)
	r := NewRecord("a", "op", "t")
	logger.Log(r)

	past, _ := logger.Query(Filter{EndTime: time.Now().Add(-time.Hour)})
	if len(past) != 0 {
		t.Error("record outside the window should be excluded")
	}
	window, _ := logger.Query(Filter{
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(time.Hour),
	})
	if len(window) != 1 {
		t.Error("record inside the window should match")
	}
}

func TestQueryMissingFileIsEmpty(t *testing.T) {
	logger := NewDefaultLogger(filepath.Join(t.TempDir(), "never-written.log"))
	defer logger.Close()
	records, err := logger.Query(Filter{})
	if err != nil {
		t.Fatalf("Query on missing file: %v", err)
	}
	if len(records) != 0 {
		t.Error("missing file should yield no records")
	}
}

func TestQuerySkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	logger := NewDefaultLogger(path)
	defer logger.Close()

	logger.Log(NewRecord("a", "op", "t"))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not json\n")
	f.Close()
	logger.Log(NewRecord("b", "op", "t"))

	records, err := logger.Query(Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Errorf("records = %d, want 2 (malformed line skipped)", len(records))
	}
}

func TestRecordIsOneJSONLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	logger := NewDefaultLogger(path)
	defer logger.Close()

	r := NewRecord("a", "op", "t")
	r.Error = "line one\nline two"
	if err := logger.Log(r); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 1 {
		t.Errorf("record spans %d lines, want 1", len(lines))
	}
}

func TestLogAfterCloseReopens(t *testing.T) {
	logger := NewDefaultLogger(filepath.Join(t.TempDir(), "audit.log"))
	logger.Log(NewRecord("a", "op", "t"))
	logger.Close()
	// lumberjack reopens on write; a fresh record must not be dropped.
	if err := logger.Log(NewRecord("b", "op", "t")); err != nil {
		t.Fatalf("log after close should reopen: %v", err)
	}
	records, _ := logger.Query(Filter{})
	if len(records) != 2 {
		t.Errorf("records = %d, want 2", len(records))
	}
}
