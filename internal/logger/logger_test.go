package logger

import (
	"strings"
	"testing"
)

func TestLog_RespectsLevel(t *testing.T) {
	var buf strings.Builder
	l := New(&buf, LevelWarn, "[test]")

	l.Debug("should not appear")
	l.Info("should not appear either")
	if buf.Len() != 0 {
		t.Fatalf("buf = %q, want empty (below LevelWarn)", buf.String())
	}

	l.Warn("warn line")
	if !strings.Contains(buf.String(), "[WARN]") || !strings.Contains(buf.String(), "warn line") {
		t.Fatalf("buf = %q, want a WARN line", buf.String())
	}
}

func TestSetLevel_AffectsFutureCalls(t *testing.T) {
	var buf strings.Builder
	l := New(&buf, LevelError, "[test]")

	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("buf = %q, want empty before SetLevel", buf.String())
	}

	l.SetLevel(LevelInfo)
	l.Info("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("buf = %q, want it to contain %q", buf.String(), "kept")
	}
}

func TestWith_TagsComponentAndSharesLevel(t *testing.T) {
	var buf strings.Builder
	root := New(&buf, LevelInfo, "[vkvstore]")
	fvrLog := root.With("fvr")

	fvrLog.Info("hello")
	got := buf.String()
	if !strings.Contains(got, "[vkvstore]") || !strings.Contains(got, "fvr:") || !strings.Contains(got, "hello") {
		t.Fatalf("buf = %q, want prefix, component tag, and message", got)
	}

	// SetLevel on the root must also gate the derived logger, since they
	// share one sink.
	root.SetLevel(LevelError)
	buf.Reset()
	fvrLog.Info("dropped after root SetLevel")
	if buf.Len() != 0 {
		t.Fatalf("buf = %q, want empty after raising the shared level", buf.String())
	}
}

func TestSetOutput_RedirectsSharedSink(t *testing.T) {
	var first, second strings.Builder
	l := New(&first, LevelInfo, "[test]")
	sub := l.With("mdm")

	l.Info("to first")
	if !strings.Contains(first.String(), "to first") {
		t.Fatalf("first = %q, want it to contain the line", first.String())
	}

	l.SetOutput(&second)
	sub.Info("to second")
	if strings.Contains(first.String(), "to second") {
		t.Fatal("first writer should not receive lines after SetOutput")
	}
	if !strings.Contains(second.String(), "to second") {
		t.Fatalf("second = %q, want it to contain the line", second.String())
	}
}
