package slogadapter

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/QYUbit/scenesync/pkg/axlog"
)

var _ axlog.Logger = (*Adapter)(nil)

// TestAdapter tests that messages and attributes reach the handler
func TestAdapter(t *testing.T) {
	var buf bytes.Buffer
	a := New(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	a.Info("user logged in", "user", "u1")
	a.Debug("tick")

	out := buf.String()
	if !strings.Contains(out, "msg=\"user logged in\"") || !strings.Contains(out, "user=u1") {
		t.Errorf("Expected message and attribute, got %q", out)
	}
	if !strings.Contains(out, "msg=tick") {
		t.Errorf("Expected debug line, got %q", out)
	}
}
