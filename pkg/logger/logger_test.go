package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestWithFieldEmitsJSON(t *testing.T) {
	log := New(LoggingConfig{Format: "json", Component: "test"})
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithField("parent_id", "p1").Info("wallet recomputed")

	out := buf.String()
	for _, want := range []string{`"component":"test"`, `"parent_id":"p1"`, "wallet recomputed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q: %s", want, out)
		}
	}
}

func TestWithErrorAndLevelFilter(t *testing.T) {
	log := New(LoggingConfig{Format: "json", Level: "warn"})
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.Info("should be filtered")
	log.WithError(errors.New("boom")).Warn("reconcile failed")

	out := buf.String()
	if strings.Contains(out, "should be filtered") {
		t.Fatalf("info event emitted despite warn level: %s", out)
	}
	if !strings.Contains(out, `"error":"boom"`) {
		t.Fatalf("error field missing: %s", out)
	}
}
