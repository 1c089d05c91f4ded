package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nhle/securemail/internal/model"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"debug": zerolog.DebugLevel,
		"WARN":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestComponentTagsEntries(t *testing.T) {
	var buf bytes.Buffer
	log := Component(NewWithWriter(&buf, zerolog.DebugLevel), "mailbox")
	log.Info().Int64("message_id", 7).Msg("selected")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decoding log line %q: %v", buf.String(), err)
	}
	if entry["component"] != "mailbox" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["message"] != "selected" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestNewCreatesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "securemail.log")
	log, closer, err := New(model.LogConfig{File: path, Level: "info"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info().Msg("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("closing log: %v", err)
	}
}
