package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// ANSI SGR escapes used by the pretty handler.
const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

const (
	// defaultPrettyWidth is the wrap width when the terminal width is unknown.
	defaultPrettyWidth = 100
	// minPrettyWidth guards against widths too narrow to be useful.
	minPrettyWidth = 40
)

// prettyHandler renders records as colorized key=value lines for dev
// terminals. Long records wrap at the terminal width with indented
// continuation lines. Production deployments use the JSON handler.
type prettyHandler struct {
	// mu is shared by WithAttrs/WithGroup clones so all copies still
	// serialize writes to the same stream.
	mu     *sync.Mutex
	out    io.Writer
	opts   slog.HandlerOptions
	bound  []slog.Attr
	groups []string
	color  bool
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{mu: new(sync.Mutex), out: w, color: color}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.opts.Level != nil {
		return level >= h.opts.Level.Level()
	}
	return level >= slog.LevelInfo
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	when := r.Time
	if when.IsZero() {
		when = time.Now()
	}

	segments := make([]string, 0, 8+r.NumAttrs())
	segments = append(segments,
		"ts="+applyTint(ansiDim, when.Format("15:04:05.000"), h.color),
		"lvl="+levelTag(r.Level, h.color),
		"msg="+applyTint(ansiBright, r.Message, h.color),
	)
	if h.opts.AddSource {
		if src := recordSource(r); src != "" {
			segments = append(segments, "src="+applyTint(ansiDim, src, h.color))
		}
	}

	for _, a := range h.bound {
		h.appendAttr(&segments, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&segments, a, "")
		return true
	})

	var b strings.Builder
	for _, line := range wrapSegments(segments, " ", h.terminalWidth(), "  ") {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	cp := *h
	cp.bound = append(h.bound[:len(h.bound):len(h.bound)], attrs...)
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(h.groups[:len(h.groups):len(h.groups)], name)
	return &cp
}

// recordSource formats the record's call site as file.go:line.
func recordSource(r slog.Record) string {
	if r.PC == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
	if frame.File == "" {
		return ""
	}
	return filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
}

// appendAttr flattens a (possibly grouped) attr into key=value segments.
// Group names join with dots, so WithGroup("http") plus method=GET renders
// as http.method=GET.
func (h *prettyHandler) appendAttr(segments *[]string, a slog.Attr, parent string) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := strings.TrimSpace(a.Key)
	if key == "" {
		return
	}

	// parent already carries the handler's group prefix when set.
	switch {
	case parent != "":
		key = parent + "." + key
	case len(h.groups) > 0:
		key = strings.Join(h.groups, ".") + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.appendAttr(segments, ga, key)
		}
		return
	}
	*segments = append(*segments, remapPrettyKey(key)+"="+h.prettyValue(key, a.Value))
}

// prettyValue colorizes the handful of request-log fields with well-known
// value shapes; everything else renders as a quoted plain value.
func (h *prettyHandler) prettyValue(key string, v slog.Value) string {
	switch remapPrettyKey(strings.TrimSpace(key)) {
	case "method":
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), h.color)
	case "path":
		return applyTint(ansiCyan, strings.TrimSpace(v.String()), h.color)
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), h.color)
		}
	case "class":
		return colorizeStatusClass(strings.TrimSpace(v.String()), h.color)
	case "duration":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, h.color)
		}
	case "result":
		return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), h.color)
	}
	return quoteIfNeeded(valueToString(v))
}

// terminalWidth resolves the wrap width. An explicit TRIVECTOR_LOG_WIDTH
// wins, then COLUMNS as exported by most shells; values below the minimum
// fall through to the default.
func (h *prettyHandler) terminalWidth() int {
	for _, key := range []string{"TRIVECTOR_LOG_WIDTH", "COLUMNS"} {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < minPrettyWidth {
			continue
		}
		return n
	}
	return defaultPrettyWidth
}

// wrapSegments packs segments into lines no wider than width (measured
// after ANSI stripping), joined by sep. Lines after the first start with
// contPrefix. A single segment too wide for a line is truncated with an
// ellipsis rather than overflowing.
func wrapSegments(segments []string, sep string, width int, contPrefix string) []string {
	if width < 1 {
		width = defaultPrettyWidth
	}

	var lines []string
	cur := ""
	curLen := 0

	for _, seg := range segments {
		segLen := visualLen(seg)

		if cur == "" {
			prefix := ""
			if len(lines) > 0 {
				prefix = contPrefix
			}
			cur = prefix + seg
			curLen = visualLen(prefix) + segLen
			if curLen > width {
				cur = truncateVisual(cur, width)
				curLen = visualLen(cur)
			}
			continue
		}

		if curLen+visualLen(sep)+segLen <= width {
			cur += sep + seg
			curLen += visualLen(sep) + segLen
			continue
		}

		lines = append(lines, cur)
		cur = contPrefix + seg
		curLen = visualLen(contPrefix) + segLen
		if curLen > width {
			cur = truncateVisual(cur, width)
			curLen = visualLen(cur)
		}
	}

	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

// truncateVisual shortens s to at most width visible runes, marking the cut
// with an ellipsis. Color escapes are dropped from truncated segments so a
// cut cannot leave the terminal in a colored state.
func truncateVisual(s string, width int) string {
	plain := stripANSI(s)
	runes := []rune(plain)
	if len(runes) <= width {
		return s
	}
	if width <= 1 {
		return "…"
	}
	return string(runes[:width-1]) + "…"
}

// visualLen counts the runes a terminal will actually render.
func visualLen(s string) int {
	return utf8.RuneCountInString(stripANSI(s))
}

// stripANSI removes CSI escape sequences (ESC '[' ... final byte).
func stripANSI(s string) string {
	if !strings.Contains(s, "\x1b") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && (s[j] < '@' || s[j] > '~') {
				j++
			}
			if j < len(s) {
				j++ // consume the final byte
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// remapPrettyKey shortens wire field names to their terminal spelling.
func remapPrettyKey(k string) string {
	switch k {
	case "duration_ms":
		return "duration"
	case "status_class":
		return "class"
	}
	return k
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		u := v.Uint64()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case slog.KindFloat64:
		f := v.Float64()
		if f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	default:
		return 0, false
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	default:
		return fmt.Sprint(v.Any())
	}
}

// quoteIfNeeded quotes values that would otherwise break key=value
// splitting in the rendered line.
func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// applyTint wraps s in the given SGR code when color is on. Empty strings
// stay empty so a reset never prints on its own.
func applyTint(code, s string, color bool) string {
	if !color || s == "" {
		return s
	}
	return code + s + ansiReset
}

func levelTag(level slog.Level, color bool) string {
	tag, tint := "[INFO]", ansiBlue
	switch {
	case level >= slog.LevelError:
		tag, tint = "[ERROR]", ansiRed
	case level >= slog.LevelWarn:
		tag, tint = "[WARN]", ansiYellow
	case level < slog.LevelInfo:
		tag, tint = "[DEBUG]", ansiMagenta
	}
	return applyTint(tint, tag, color)
}

func colorizeHTTPMethod(method string, color bool) string {
	tint := ansiMagenta
	switch method {
	case "GET", "HEAD":
		tint = ansiGreen
	case "POST":
		tint = ansiCyan
	case "PUT", "PATCH":
		tint = ansiYellow
	case "DELETE":
		tint = ansiRed
	}
	return applyTint(tint, method, color)
}

func colorizeStatusCode(code int, color bool) string {
	s := strconv.Itoa(code)
	var tint string
	switch code / 100 {
	case 2:
		tint = ansiGreen
	case 3:
		tint = ansiCyan
	case 4:
		tint = ansiYellow
	case 5:
		tint = ansiRed
	default:
		return s
	}
	return applyTint(tint, s, color)
}

func colorizeStatusClass(class string, color bool) string {
	switch class {
	case "2xx":
		return applyTint(ansiGreen, class, color)
	case "3xx":
		return applyTint(ansiCyan, class, color)
	case "4xx":
		return applyTint(ansiYellow, class, color)
	case "5xx":
		return applyTint(ansiRed, class, color)
	}
	return class
}

func colorizeDurationMS(n int64, color bool) string {
	s := strconv.FormatInt(n, 10) + "ms"
	switch {
	case n < 100:
		return applyTint(ansiGreen, s, color)
	case n < 1000:
		return applyTint(ansiYellow, s, color)
	}
	return applyTint(ansiRed, s, color)
}

func colorizeResult(result string, color bool) string {
	switch result {
	case "success":
		return applyTint(ansiGreen, result, color)
	case "redirect":
		return applyTint(ansiCyan, result, color)
	case "client_error":
		return applyTint(ansiYellow, result, color)
	case "server_error":
		return applyTint(ansiRed, result, color)
	}
	return result
}
