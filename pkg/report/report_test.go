package report_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SamarthBhatia/Trace2Pass/pkg/report"
)

func sampleRecord(ts time.Time) report.Record {
	return report.New("arithmetic_overflow", "00c0ffee", 0x1234, ts,
		report.Field{Key: "Expression", Val: "x * y"},
		report.Field{Key: "Operands", Val: "1000000, 1000000"},
	)
}

func TestRecordTimestampAndID(t *testing.T) {
	t.Parallel()
	ts := time.Date(2025, 6, 1, 12, 30, 45, 999, time.UTC)
	rec := sampleRecord(ts)
	if rec.Timestamp != "2025-06-01T12:30:45Z" {
		t.Errorf("timestamp %q not second-resolution UTC", rec.Timestamp)
	}

	// Same site, different second: distinguishable report ids.
	rec2 := sampleRecord(ts.Add(time.Second))
	if rec.ReportID == rec2.ReportID {
		t.Error("report ids collide across seconds")
	}
	// Same site, same second: stable.
	rec3 := sampleRecord(ts)
	if rec.ReportID != rec3.ReportID {
		t.Error("report id unstable within one second")
	}
}

func TestStreamFormat(t *testing.T) {
	t.Parallel()
	rec := sampleRecord(time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC))
	var buf bytes.Buffer
	if err := rec.WriteStream(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	wants := []string{
		"=== Trace2Pass Report ===",
		"Timestamp: 2025-06-01T12:30:45Z",
		"Type: arithmetic_overflow",
		"PC: 0x1234",
		"Expression: x * y",
		"Operands: 1000000, 1000000",
		"========================",
	}
	pos := 0
	for _, w := range wants {
		idx := strings.Index(out[pos:], w)
		if idx < 0 {
			t.Fatalf("stream output missing or misordered %q:\n%s", w, out)
		}
		pos += idx
	}
}

func TestMarshalSchema(t *testing.T) {
	t.Parallel()
	rec := sampleRecord(time.Now())
	data, err := report.Marshal(rec, report.DefaultCompiler(), report.DefaultBuildInfo())
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"report_id", "timestamp", "check_type", "location", "pc", "compiler", "build_info", "check_details"} {
		if _, ok := m[key]; !ok {
			t.Errorf("wire report missing key %q", key)
		}
	}
	loc := m["location"].(map[string]any)
	if loc["file"] != "unknown" || loc["line"] != float64(0) || loc["function"] != "unknown" {
		t.Errorf("location sentinels wrong: %v", loc)
	}
	if m["pc"] != "0x1234" {
		t.Errorf("pc rendered as %v", m["pc"])
	}
	details := m["check_details"].(map[string]any)
	if details["expression"] != "x * y" {
		t.Errorf("detail keys not lowered: %v", details)
	}
	if details["call_site_id"] != "00c0ffee" {
		t.Errorf("call site missing from details: %v", details)
	}
	comp := m["compiler"].(map[string]any)
	if comp["name"] != "unknown" {
		t.Errorf("compiler name %v not in collector vocabulary", comp["name"])
	}
}

func TestValidateCollectorURL(t *testing.T) {
	t.Parallel()
	valid := []string{
		"http://localhost:8080/api/v1/report",
		"https://collector.internal/report",
	}
	for _, u := range valid {
		if err := report.ValidateCollectorURL(u); err != nil {
			t.Errorf("valid URL %q rejected: %v", u, err)
		}
	}

	invalid := []string{
		"",
		"ftp://collector/report",
		"file:///etc/passwd",
		"http://collector;rm -rf /",
		"http://collector/report?cmd=`id`",
		"http://collector/$(whoami)",
		"http://collector/|tee",
		"http://collector/report&x=1",
		"http://collector/'quote'",
		"http://collector/\"quote\"",
		"http://collector/back\\slash",
		"http://collector/ctrl\x01char",
		"http://",
	}
	for _, u := range invalid {
		if err := report.ValidateCollectorURL(u); err == nil {
			t.Errorf("invalid URL %q accepted", u)
		}
	}
}

func TestPostDeliversJSON(t *testing.T) {
	t.Parallel()
	var gotBody []byte
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	rec := sampleRecord(time.Now())
	if err := report.Post(srv.URL, rec, report.DefaultCompiler(), report.DefaultBuildInfo()); err != nil {
		t.Fatalf("post: %v", err)
	}
	if gotType != "application/json" {
		t.Errorf("content type %q", gotType)
	}
	var m map[string]any
	if err := json.Unmarshal(gotBody, &m); err != nil {
		t.Fatalf("collector received non-JSON body: %v", err)
	}
	if m["check_type"] != "arithmetic_overflow" {
		t.Errorf("posted check_type %v", m["check_type"])
	}
}

func TestPostFailureIsAnErrorNotAPanic(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	rec := sampleRecord(time.Now())
	if err := report.Post(srv.URL, rec, report.DefaultCompiler(), report.DefaultBuildInfo()); err == nil {
		t.Error("5xx response did not surface as an error")
	}
}
