package logger

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerRedactsAndHashes(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core)).With("study_id", "asthma")
	log.Info("publish", "health_code", "hc-1", "auth_token", "abc", "key", "enrollment")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["study_id"] != "asthma" || fields["key"] != "enrollment" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if fields["auth_token"] != "[REDACTED]" {
		t.Fatalf("token not redacted: %v", fields["auth_token"])
	}
	hc, _ := fields["health_code"].(string)
	if !strings.HasPrefix(hc, "hash:") || strings.Contains(hc, "hc-1") {
		t.Fatalf("health code not hashed: %v", hc)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	log, err := New(Options{Mode: "production", Level: "warn"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Debug("dropped")
}
