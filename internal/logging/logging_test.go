package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]int{
		"trace":   LevelTrace,
		"DEBUG":   LevelDebug,
		" info ":  LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestLogStyles(t *testing.T) {
	var buf bytes.Buffer
	Init(&LogConfig{Level: LevelDebug, Output: &buf})
	defer Init(nil)

	L_info("plain message")
	L_info("value is %d", 42)
	L_debug("structured", "key", "val")

	out := buf.String()
	for _, want := range []string{"plain message", "value is 42", "structured", "key=val"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSetLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(&LogConfig{Level: LevelInfo, Output: &buf})
	defer Init(nil)

	SetLevel(LevelError)
	L_info("should not appear")
	if strings.Contains(buf.String(), "should not appear") {
		t.Errorf("info message logged at error level: %s", buf.String())
	}
}

func TestTraceNeedsTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(&LogConfig{Level: LevelDebug, Output: &buf})
	defer Init(nil)

	L_trace("hidden at debug")
	if strings.Contains(buf.String(), "hidden at debug") {
		t.Errorf("trace logged at debug level: %s", buf.String())
	}

	SetLevel(LevelTrace)
	L_trace("shown at trace")
	if !strings.Contains(buf.String(), "shown at trace") {
		t.Errorf("trace missing at trace level: %s", buf.String())
	}
}
