package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "PRODUCTION", ""} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		if l.SugaredLogger == nil {
			t.Fatalf("New(%q) returned empty logger", mode)
		}
	}
}

func TestFromZapRecordsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core)).With("component", "convert")
	l.Debug("debug")
	l.Info("info", "probe", "probe0")
	l.Warn("warn")
	l.Error("error")
	if logs.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", logs.Len())
	}
	entry := logs.FilterMessage("info").All()[0]
	fields := entry.ContextMap()
	if fields["component"] != "convert" || fields["probe"] != "probe0" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if logs.FilterLevelExact(zapcore.WarnLevel).Len() != 1 {
		t.Fatalf("expected one warning")
	}
}

func TestNopAndNilZap(t *testing.T) {
	NewNop().Warn("ignored", "k", 1)
	FromZap(nil).Info("ignored")
	NewNop().Sync()
}
