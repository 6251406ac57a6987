package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestStandardLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelDebug))

	cases := []struct {
		log   func(string, ...interface{})
		level string
	}{
		{logger.Debug, "[DEBUG]"},
		{logger.Info, "[INFO]"},
		{logger.Warn, "[WARN]"},
		{logger.Error, "[ERROR]"},
	}
	for _, c := range cases {
		c.log("block %d written", 7)
		out := buf.String()
		if !strings.Contains(out, c.level) || !strings.Contains(out, "block 7 written") {
			t.Errorf("Expected %s line, got: %s", c.level, out)
		}
		buf.Reset()
	}

	logger.SetLevel(LevelError)
	logger.Info("should not appear")
	logger.Error("should appear")
	if out := buf.String(); strings.Contains(out, "should not appear") || !strings.Contains(out, "should appear") {
		t.Errorf("Level filtering failed, got: %s", out)
	}
	if logger.GetLevel() != LevelError {
		t.Errorf("GetLevel returned %v", logger.GetLevel())
	}
}

func TestStandardLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(
		WithOutput(&buf),
		WithInitialFields(map[string]interface{}{"db": "/tmp/x"}),
	)

	child := logger.WithFields(map[string]interface{}{"component": "tlog", "records": 3})
	child.Info("replayed")
	out := buf.String()
	if !strings.Contains(out, " component=tlog db=/tmp/x records=3 replayed") {
		t.Errorf("Fields must be sorted and precede the message, got: %s", out)
	}
	buf.Reset()

	// Derived loggers share the parent's level
	logger.SetLevel(LevelWarn)
	child.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("Child ignored parent level change, got: %s", buf.String())
	}

	child.WithField("extra", true).Warn("shown")
	if !strings.Contains(buf.String(), "extra=true") {
		t.Errorf("WithField failed, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	for i, name := range []string{"debug", "INFO", "Warn", "error", "fatal"} {
		lvl, err := ParseLevel(name)
		if err != nil || lvl != Level(i) {
			t.Errorf("ParseLevel(%q) = %v, %v", name, lvl, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("Expected error for unknown level")
	}
	if Level(42).String() != "LEVEL(42)" {
		t.Errorf("Unexpected name for unknown level: %s", Level(42))
	}
}

func TestDefaultLogger(t *testing.T) {
	original := GetDefaultLogger()
	defer SetDefaultLogger(original)

	var buf bytes.Buffer
	SetDefaultLogger(NewStandardLogger(WithOutput(&buf)))

	Info("global %s", "message")
	if !strings.Contains(buf.String(), "[INFO]") || !strings.Contains(buf.String(), "global message") {
		t.Errorf("Global info logging failed, got: %s", buf.String())
	}
	buf.Reset()

	WithField("global", true).Warn("with field")
	if !strings.Contains(buf.String(), "global=true") {
		t.Errorf("Global logging with field failed, got: %s", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("nothing")
	if l.GetLevel() <= LevelFatal {
		t.Errorf("Discard logger should filter every level, got %v", l.GetLevel())
	}
}
