package obs

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogRequestEmitsOneJSONLine(t *testing.T) {
	logger := Logger()
	origWriter := logger.Writer()

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(origWriter)

	LogRequest(map[string]any{
		"level":  "info",
		"msg":    "http_request",
		"status": 200,
	})

	out := strings.TrimRight(buf.String(), "\n")
	if strings.Contains(out, "\n") {
		t.Fatalf("expected a single line, got %q", out)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(out), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	if entry["service"] != serviceName {
		t.Fatalf("expected service stamp, got %v", entry["service"])
	}
	if entry["msg"] != "http_request" || entry["status"] != float64(200) {
		t.Fatalf("entry fields lost: %v", entry)
	}
}

func TestLogRequestSurvivesUnmarshalableEntry(t *testing.T) {
	logger := Logger()
	origWriter := logger.Writer()

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(origWriter)

	LogRequest(map[string]any{"bad": make(chan int)})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("fallback line is not valid JSON: %v", err)
	}
	if entry["msg"] != "log_marshal_failed" {
		t.Fatalf("unexpected fallback msg: %v", entry["msg"])
	}
}
