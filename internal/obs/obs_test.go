package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestConfigureLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	ConfigureLogger(LogOptions{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { ConfigureLogger(LogOptions{Output: os.Stdout}) })

	Logger().WithField("component", "test").Debug("hello")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v (%q)", err, buf.String())
	}
	for _, key := range []string{"ts", "level", "msg", "component"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in %v", key, entry)
		}
	}
	if entry["level"] != "debug" {
		t.Fatalf("unexpected level %v", entry["level"])
	}
}

func TestConfigureLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	ConfigureLogger(LogOptions{Level: "warn", Output: &buf})
	t.Cleanup(func() { ConfigureLogger(LogOptions{Output: os.Stdout}) })

	Logger().Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	if Logger().GetLevel() != logrus.WarnLevel {
		t.Fatalf("unexpected level %v", Logger().GetLevel())
	}
}

func TestInitTracingStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TraceOptions{
		ServiceName: "prodtrack-test",
		Version:     "test",
		Stdout:      true,
		Writer:      &buf,
	})
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	_, span := Tracer().Start(context.Background(), "auth.login")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "auth.login") {
		t.Fatalf("expected exported span, got %q", buf.String())
	}
}
