package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLoggerTagsService(t *testing.T) {
	l := NewLogger("api").(*logrusLogger)
	var buf bytes.Buffer
	l.logger.SetOutput(&buf)

	l.WithField("request_id", "r1").Info("seat map served")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["service"] != "api" {
		t.Errorf("expected service api, got %v", entry["service"])
	}
	if entry["request_id"] != "r1" {
		t.Errorf("expected request_id r1, got %v", entry["request_id"])
	}
	if entry["msg"] != "seat map served" {
		t.Errorf("unexpected message: %v", entry["msg"])
	}
}

func TestNewLoggerLevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	if l := NewLogger("api").(*logrusLogger); l.logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected debug level, got %s", l.logger.GetLevel())
	}

	t.Setenv("LOG_LEVEL", "bogus")
	if l := NewLogger("api").(*logrusLogger); l.logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("unparseable level should keep the info default, got %s", l.logger.GetLevel())
	}
}
