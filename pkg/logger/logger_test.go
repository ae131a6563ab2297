package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"
)

func TestInitWriterLevels(t *testing.T) {
	var buf bytes.Buffer

	InitWriter(&buf, Config{Quiet: true})
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("quiet logger output = %q", buf.String())
	}

	buf.Reset()
	InitWriter(&buf, Config{Debug: true, Quiet: true})
	log.Debug().Str("session_id", "s-1").Msg("debug line")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not json: %v (%q)", err, buf.String())
	}
	if entry["session_id"] != "s-1" || entry["level"] != "debug" {
		t.Fatalf("unexpected entry: %v", entry)
	}

	Init()
}
