package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(t *testing.T, level Level) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log, err := NewLogger(&Config{Level: level, Format: JSONFormat, Writer: &buf, DisableTimestamp: true})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	return log, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var records []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]interface{}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("log line is not JSON: %q", line)
		}
		records = append(records, rec)
	}
	return records
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"debug", *DebugConfig(), false},
		{"bad level", Config{Level: "trace", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"bad output", Config{Level: InfoLevel, Format: TextFormat, Output: "syslog"}, true},
		{"file without path", Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
		{"writer overrides output", Config{Level: InfoLevel, Format: TextFormat, Writer: &bytes.Buffer{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWithFieldKeepsFields(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)

	log.WithComponent("parser").WithField("file", "SISAIH01.txt").WithFields(Fields{"line": 3}).Info("skipped line")

	records := decodeLines(t, buf)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec["component"] != "parser" {
		t.Errorf("expected component field, got %v", rec["component"])
	}
	if rec["file"] != "SISAIH01.txt" {
		t.Errorf("expected file field, got %v", rec["file"])
	}
	if rec["line"] != float64(3) {
		t.Errorf("expected line field 3, got %v", rec["line"])
	}
	if rec["msg"] != "skipped line" {
		t.Errorf("unexpected message %v", rec["msg"])
	}
}

func TestWithRun(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)

	log.WithRun("Hospital A", "202403").Info("run started")
	log.WithRun("Hospital A", "").Info("run started")

	records := decodeLines(t, buf)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0][FieldRun] != "Hospital A" || records[0][FieldCompetence] != "202403" {
		t.Errorf("unexpected run fields %v", records[0])
	}
	if records[1][FieldCompetence] != "all" {
		t.Errorf("empty competence should be logged as all, got %v", records[1][FieldCompetence])
	}
}

func TestLevelFiltering(t *testing.T) {
	log, buf := newBufferLogger(t, WarnLevel)

	log.Debug("hidden")
	log.Info("hidden")
	log.WithError(errors.New("boom")).Warn("visible")

	records := decodeLines(t, buf)
	if len(records) != 1 {
		t.Fatalf("expected only the warning, got %d records", len(records))
	}
	if records[0]["error"] != "boom" {
		t.Errorf("expected error field, got %v", records[0]["error"])
	}
}

func TestProgressTracker(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)

	tracker := NewProgressTracker(ProgressConfig{Operation: "parse", Unit: "lines", Total: 10, LogInterval: time.Hour, Logger: log})
	clock := time.Now()
	tracker.now = func() time.Time { return clock }
	tracker.start, tracker.lastLog = clock, clock

	tracker.Add(4)
	if got := len(decodeLines(t, buf)); got != 0 {
		t.Fatalf("expected no progress record before the interval, got %d", got)
	}

	clock = clock.Add(2 * time.Hour)
	tracker.Add(1)
	records := decodeLines(t, buf)
	if len(records) != 1 || records[0]["msg"] != "Progress update" {
		t.Fatalf("expected a single progress update, got %v", records)
	}
	if records[0]["percentage"] != "50.0%" {
		t.Errorf("expected 50.0%%, got %v", records[0]["percentage"])
	}

	stats := tracker.GetStats()
	if stats.Current != 5 || stats.Total != 10 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if !strings.Contains(stats.String(), "5/10 lines") {
		t.Errorf("unexpected stats string %q", stats.String())
	}

	buf.Reset()
	tracker.Complete()
	records = decodeLines(t, buf)
	if len(records) != 1 || records[0]["processed"] != float64(5) {
		t.Errorf("expected completion record with processed=5, got %v", records)
	}
}

func TestTimedOperation(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)

	want := errors.New("failed")
	if err := TimedOperation("load", log, func() error { return want }); err != want {
		t.Fatalf("expected error to pass through, got %v", err)
	}

	records := decodeLines(t, buf)
	if len(records) != 1 || records[0]["level"] != "error" || records[0]["operation"] != "load" {
		t.Errorf("expected one error record for operation load, got %v", records)
	}
}
