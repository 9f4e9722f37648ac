package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"testing"
)

func TestLoggerEmitsServiceFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, Options{Service: "launchpad", Env: "test", Level: "debug"})
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))) })

	logger.Debug("creator verified", "token", "0xabc")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	for key, want := range map[string]string{
		"service":  "launchpad",
		"env":      "test",
		"severity": "DEBUG",
		"message":  "creator verified",
		"token":    "0xabc",
	} {
		if got, _ := line[key].(string); got != want {
			t.Fatalf("expected %s=%q, got %q", key, want, got)
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("expected timestamp key")
	}
}

func TestStdLogBridged(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, Options{Service: "launchpad"})
	t.Cleanup(func() { log.SetOutput(&bytes.Buffer{}) })

	log.Printf("slow query")
	if !bytes.Contains(buf.Bytes(), []byte(`"message":"slow query"`)) {
		t.Fatalf("expected std log output to be structured, got %s", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, Options{Service: "launchpad", Level: "warn"})
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level, got %s", buf.String())
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("expected unknown levels to default to info")
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("dsn", "postgres://user:pw@db").Value.String(); got != RedactedValue {
		t.Fatalf("expected dsn to be redacted, got %q", got)
	}
	if got := MaskField("token", "0xabc").Value.String(); got != "0xabc" {
		t.Fatalf("expected token address to pass through, got %q", got)
	}
	if got := MaskField("secret", "").Value.String(); got != "" {
		t.Fatalf("expected empty value to pass through, got %q", got)
	}
}
