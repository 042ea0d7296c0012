package app

import (
	"bytes"
	"log/slog"
	"math"
	"strings"
	"testing"
)

func TestPrettyHandlerRendersKeyValues(t *testing.T) {
	t.Setenv("TRIVECTOR_LOG_WIDTH", "400")

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false))

	log.Info("session.join",
		"session_id", "ab12cd34",
		"status", 200,
		"status_class", "2xx",
		"duration_ms", 42,
		"note", "two words",
	)

	out := buf.String()
	for _, want := range []string{
		"lvl=[INFO]",
		"msg=session.join",
		"session_id=ab12cd34",
		"status=200",
		"class=2xx",
		"duration=42ms",
		`note="two words"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b") {
		t.Errorf("color disabled but output has escapes:\n%s", out)
	}
}

func TestPrettyHandlerFlattensGroups(t *testing.T) {
	t.Setenv("TRIVECTOR_LOG_WIDTH", "400")

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false)).WithGroup("http").With("method", "GET")

	log.Warn("http.request", "path", "/v1/sessions")

	out := buf.String()
	for _, want := range []string{"lvl=[WARN]", "http.method=GET", "http.path=/v1/sessions"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrettyHandlerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))

	log.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info record leaked through a warn-level handler:\n%s", buf.String())
	}

	log.Error("loud")
	if !strings.Contains(buf.String(), "msg=loud") {
		t.Fatalf("error record missing:\n%s", buf.String())
	}
}

func TestPrettyHandlerColorizesWhenEnabled(t *testing.T) {
	t.Setenv("TRIVECTOR_LOG_WIDTH", "400")

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))

	log.Error("upstream.down", "status", 503)

	out := buf.String()
	if !strings.Contains(out, ansiRed+"[ERROR]"+ansiReset) {
		t.Errorf("level tag not colorized:\n%q", out)
	}
	if !strings.Contains(out, "status="+ansiRed+"503"+ansiReset) {
		t.Errorf("5xx status not colorized:\n%q", out)
	}
}

func TestLevelTag(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level slog.Level
		want  string
	}{
		{level: slog.LevelDebug, want: "[DEBUG]"},
		{level: slog.LevelInfo, want: "[INFO]"},
		{level: slog.LevelWarn, want: "[WARN]"},
		{level: slog.LevelError, want: "[ERROR]"},
		{level: slog.LevelError + 4, want: "[ERROR]"},
	}
	for _, tc := range cases {
		if got := levelTag(tc.level, false); got != tc.want {
			t.Errorf("levelTag(%v)=%q want=%q", tc.level, got, tc.want)
		}
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":          `""`,
		"plain":     "plain",
		"two words": `"two words"`,
		"k=v":       `"k=v"`,
		"tab\tsep":  `"tab\tsep"`,
	}
	for in, want := range cases {
		if got := quoteIfNeeded(in); got != want {
			t.Errorf("quoteIfNeeded(%q)=%s want=%s", in, got, want)
		}
	}
}

func TestValueToInt64(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		v    slog.Value
		want int64
		ok   bool
	}{
		{name: "int", v: slog.IntValue(7), want: 7, ok: true},
		{name: "uint in range", v: slog.Uint64Value(9), want: 9, ok: true},
		{name: "uint overflow", v: slog.Uint64Value(math.MaxUint64), ok: false},
		{name: "whole float", v: slog.Float64Value(3.0), want: 3, ok: true},
		{name: "fractional float", v: slog.Float64Value(3.5), ok: false},
		{name: "string", v: slog.StringValue("7"), ok: false},
	}
	for _, tc := range cases {
		got, ok := valueToInt64(tc.v)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Errorf("%s: valueToInt64=%d,%v want=%d,%v", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestStripANSI(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"no escapes":                          "no escapes",
		ansiBright + "hi" + ansiReset:         "hi",
		"a" + ansiRed + "b" + ansiReset + "c": "abc",
		"trail\x1b[3":                         "trail", // unterminated escape is swallowed
	}
	for in, want := range cases {
		if got := stripANSI(in); got != want {
			t.Errorf("stripANSI(%q)=%q want=%q", in, got, want)
		}
	}
}

func TestWrapSegments(t *testing.T) {
	t.Parallel()

	t.Run("packs then wraps", func(t *testing.T) {
		a := strings.Repeat("a", 20)
		b := strings.Repeat("b", 20)
		c := strings.Repeat("c", 20)

		// 20+3+20=43 fits in 60; the third segment starts a continuation line.
		lines := wrapSegments([]string{a, b, c}, " | ", 60, "-> ")
		if len(lines) != 2 {
			t.Fatalf("lines=%d want=2 (%v)", len(lines), lines)
		}
		if lines[0] != a+" | "+b {
			t.Fatalf("line[0]=%q", lines[0])
		}
		if lines[1] != "-> "+c {
			t.Fatalf("line[1]=%q", lines[1])
		}
	})

	t.Run("truncates oversized segment", func(t *testing.T) {
		lines := wrapSegments([]string{strings.Repeat("x", 80)}, " ", 60, "  ")
		if len(lines) != 1 {
			t.Fatalf("lines=%d want=1", len(lines))
		}
		if visualLen(lines[0]) > 60 {
			t.Fatalf("line too wide: visualLen=%d", visualLen(lines[0]))
		}
		if !strings.HasSuffix(lines[0], "…") {
			t.Fatalf("missing truncation marker: %q", lines[0])
		}
	})

	t.Run("escapes are width-free", func(t *testing.T) {
		seg := ansiGreen + strings.Repeat("g", 30) + ansiReset

		lines := wrapSegments([]string{seg, seg}, " ", 70, "  ")
		if len(lines) != 1 {
			t.Fatalf("lines=%d want=1 (%v)", len(lines), lines)
		}
		if got := visualLen(lines[0]); got != 61 {
			t.Fatalf("visualLen=%d want=61", got)
		}
	})

	t.Run("no segments", func(t *testing.T) {
		if lines := wrapSegments(nil, " ", 60, "  "); lines != nil {
			t.Fatalf("lines=%v want nil", lines)
		}
	})
}

func TestTruncateVisual(t *testing.T) {
	t.Parallel()

	if got := truncateVisual("short", 10); got != "short" {
		t.Fatalf("short strings must pass through, got=%q", got)
	}

	got := truncateVisual(strings.Repeat("x", 30), 10)
	if visualLen(got) != 10 || !strings.HasSuffix(got, "…") {
		t.Fatalf("truncateVisual=%q (visualLen=%d)", got, visualLen(got))
	}

	if got := truncateVisual("abc", 1); got != "…" {
		t.Fatalf("width 1 should collapse to the marker, got=%q", got)
	}

	colored := ansiGreen + strings.Repeat("y", 30) + ansiReset
	if got := truncateVisual(colored, 12); strings.Contains(got, "\x1b") {
		t.Fatalf("truncated segment must drop escapes, got=%q", got)
	}
}

func TestTerminalWidth(t *testing.T) {
	cases := []struct {
		name     string
		override string
		columns  string
		want     int
	}{
		{name: "explicit override wins", override: "88", columns: "132", want: 88},
		{name: "columns fallback", override: "", columns: "72", want: 72},
		{name: "too narrow falls through", override: "10", columns: "20", want: defaultPrettyWidth},
		{name: "garbage ignored", override: "wide", columns: "", want: defaultPrettyWidth},
	}

	h := &prettyHandler{}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TRIVECTOR_LOG_WIDTH", tc.override)
			t.Setenv("COLUMNS", tc.columns)
			if got := h.terminalWidth(); got != tc.want {
				t.Fatalf("terminalWidth()=%d want=%d", got, tc.want)
			}
		})
	}
}
