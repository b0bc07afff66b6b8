package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetupWriterRenamesStandardFields(t *testing.T) {
	origDefault := slog.Default()
	defer slog.SetDefault(origDefault)

	var buf bytes.Buffer
	logger := SetupWriter(&buf, "smartrust-test", "ci")
	logger.Info("hello", "answer", 42)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if line["message"] != "hello" {
		t.Fatalf("message field missing: %v", line)
	}
	if line["severity"] != "INFO" {
		t.Fatalf("severity field missing: %v", line)
	}
	if line["service"] != "smartrust-test" {
		t.Fatalf("service field missing: %v", line)
	}
	if line["env"] != "ci" {
		t.Fatalf("env field missing: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp field missing: %v", line)
	}
	if _, ok := line["msg"]; ok {
		t.Fatalf("built-in msg key must be renamed: %v", line)
	}
}

func TestSetupWriterInstallsDefault(t *testing.T) {
	origDefault := slog.Default()
	defer slog.SetDefault(origDefault)

	var buf bytes.Buffer
	logger := SetupWriter(&buf, "smartrust-test", "")
	if slog.Default() != logger {
		t.Fatal("returned logger must become the slog default")
	}
}
