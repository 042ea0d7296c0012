package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
	}{
		{status: 201, wantLevel: slog.LevelInfo, wantResult: "success"},
		{status: 299, wantLevel: slog.LevelInfo, wantResult: "success"},
		{status: 304, wantLevel: slog.LevelInfo, wantResult: "redirect"},
		{status: 401, wantLevel: slog.LevelWarn, wantResult: "client_error"},
		{status: 418, wantLevel: slog.LevelWarn, wantResult: "client_error"},
		{status: 500, wantLevel: slog.LevelError, wantResult: "server_error"},
		{status: 599, wantLevel: slog.LevelError, wantResult: "server_error"},
	}

	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		if level != tc.wantLevel || result != tc.wantResult {
			t.Errorf("requestLogMeta(%d)=(%v, %q) want (%v, %q)",
				tc.status, level, result, tc.wantLevel, tc.wantResult)
		}
	}
}

func TestStatusClass(t *testing.T) {
	t.Parallel()

	cases := map[int]string{
		100: "1xx",
		204: "2xx",
		307: "3xx",
		451: "4xx",
		502: "5xx",
	}
	for status, want := range cases {
		if got := statusClass(status); got != want {
			t.Errorf("statusClass(%d)=%q want=%q", status, got, want)
		}
	}
}

func TestWithRequestLoggingEmitsOneLine(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	const body = "short and stout"
	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, body)
	}), log)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log output is not a single JSON object: %v\n%s", err, buf.String())
	}

	wantFields := map[string]any{
		"msg":          "http.request",
		"level":        "WARN",
		"method":       "GET",
		"path":         "/api/v1/sessions",
		"status":       float64(http.StatusTeapot),
		"status_class": "4xx",
		"result":       "client_error",
		"bytes":        float64(len(body)),
	}
	for k, want := range wantFields {
		if got := line[k]; got != want {
			t.Errorf("log field %q=%v want=%v", k, got, want)
		}
	}
	if _, ok := line["duration_ms"]; !ok {
		t.Error("log line is missing duration_ms")
	}
}

func TestWithRequestLoggingDefaultsToOK(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	// Handler never calls WriteHeader; the wrapper must report 200.
	h := WithRequestLogging(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), log)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["status"] != float64(http.StatusOK) || line["result"] != "success" {
		t.Fatalf("status=%v result=%v want 200/success", line["status"], line["result"])
	}
}

func TestWithCORSAllowsListedOrigin(t *testing.T) {
	// Entries are normalized: surrounding space and a trailing slash are noise.
	cfg := Config{CORSAllowedOrigins: []string{" https://studio.example.com/ "}}

	called := false
	h := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), cfg, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Origin", "https://studio.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !called {
		t.Fatal("next handler was not reached for an allowed origin")
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://studio.example.com" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
	if got := rr.Header().Get("Vary"); !strings.Contains(got, "Origin") {
		t.Fatalf("Vary=%q want Origin listed", got)
	}
}

func TestWithCORSPreflight(t *testing.T) {
	cfg := Config{
		CORSAllowedOrigins:   []string{"https://studio.example.com"},
		CORSAllowCredentials: true,
		CORSMaxAgeSeconds:    300,
	}

	h := WithCORS(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("preflight must be answered before the mux")
	}), cfg, discardLogger())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/anonymous", nil)
	req.Header.Set("Origin", "https://studio.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status=%d want=%d", rr.Code, http.StatusNoContent)
	}
	hdr := rr.Header()
	if got := hdr.Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPost) {
		t.Fatalf("Allow-Methods=%q", got)
	}
	if got := hdr.Get("Access-Control-Allow-Headers"); got != "Authorization, Content-Type" {
		t.Fatalf("Allow-Headers=%q", got)
	}
	if got := hdr.Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("Allow-Credentials=%q", got)
	}
	if got := hdr.Get("Access-Control-Max-Age"); got != "300" {
		t.Fatalf("Max-Age=%q", got)
	}
}

func TestWithCORSOptionsWithoutRequestMethod(t *testing.T) {
	// A bare OPTIONS (no Access-Control-Request-Method) is not a preflight
	// and must reach the application.
	cfg := Config{CORSAllowedOrigins: []string{"https://studio.example.com"}}

	called := false
	h := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), cfg, discardLogger())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sessions", nil)
	req.Header.Set("Origin", "https://studio.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !called {
		t.Fatal("plain OPTIONS request never reached the handler")
	}
}

func TestWithCORSDeniesUnknownOrigin(t *testing.T) {
	cfg := Config{CORSAllowedOrigins: []string{"https://studio.example.com"}}

	h := WithCORS(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("denied origin must not reach the handler")
	}), cfg, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Origin", "https://intruder.example.net")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d want=%d", rr.Code, http.StatusForbidden)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("denied response must not carry Allow-Origin, got %q", got)
	}
}

func TestWithCORSNoOriginPassesThrough(t *testing.T) {
	cfg := Config{CORSAllowedOrigins: []string{"https://studio.example.com"}}

	h := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), cfg, discardLogger())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want=%d", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("server-to-server request must stay CORS-free, got %q", got)
	}
}

func TestWithCORSWildcardPort(t *testing.T) {
	cfg := Config{CORSAllowedOrigins: []string{"http://localhost:*"}}

	cases := []struct {
		origin string
		allow  bool
	}{
		{origin: "http://localhost:3000", allow: true},
		{origin: "http://localhost:65535", allow: true},
		{origin: "http://localhost:", allow: false},
		{origin: "http://localhost:30a0", allow: false},
		{origin: "http://localhost:123456", allow: false},
		{origin: "https://localhost:3000", allow: false},
	}

	for _, tc := range cases {
		h := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}), cfg, discardLogger())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
		req.Header.Set("Origin", tc.origin)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		want := http.StatusForbidden
		if tc.allow {
			want = http.StatusOK
		}
		if rr.Code != want {
			t.Errorf("origin %q: status=%d want=%d", tc.origin, rr.Code, want)
		}
	}
}

func TestWithSecurityHeaders(t *testing.T) {
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	for k, v := range want {
		if got := rr.Header().Get(k); got != v {
			t.Errorf("%s=%q want=%q", k, got, v)
		}
	}
}

func TestLoggingResponseWriterTracksWrites(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	lrw := &loggingResponseWriter{ResponseWriter: rr, status: http.StatusOK}

	lrw.WriteHeader(http.StatusCreated)
	if _, err := lrw.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := lrw.ReadFrom(strings.NewReader("defgh")); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}

	if lrw.status != http.StatusCreated {
		t.Fatalf("status=%d want=%d", lrw.status, http.StatusCreated)
	}
	if lrw.bytes != int64(len("abcdefgh")) {
		t.Fatalf("bytes=%d want=%d", lrw.bytes, len("abcdefgh"))
	}
	if got := rr.Body.String(); got != "abcdefgh" {
		t.Fatalf("body=%q", got)
	}

	lrw.Flush()
	if !rr.Flushed {
		t.Fatal("Flush did not reach the underlying writer")
	}
	if lrw.Unwrap() != rr {
		t.Fatal("Unwrap must return the wrapped ResponseWriter")
	}
}
