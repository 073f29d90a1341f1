package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	goruntime "runtime"
	"runtime/debug"
	"strings"
	"sync"
)

// -- Wire schema --

// Location carries source coordinates. Probes today only know a program
// counter, so every field holds its documented sentinel until debug-info
// plumbing lands; consumers tolerate the sentinels by contract.
type Location struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// Compiler identifies the toolchain that produced the instrumented image.
type Compiler struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Target  string `json:"target,omitempty"`
}

// BuildInfo identifies the build configuration.
type BuildInfo struct {
	OptimizationLevel string `json:"optimization_level"`
	SourceHash        string `json:"source_hash,omitempty"`
}

type wireReport struct {
	ReportID     string         `json:"report_id"`
	Timestamp    string         `json:"timestamp"`
	CheckType    string         `json:"check_type"`
	Location     Location       `json:"location"`
	PC           string         `json:"pc"`
	Compiler     Compiler       `json:"compiler"`
	BuildInfo    BuildInfo      `json:"build_info"`
	CheckDetails map[string]any `json:"check_details"`
}

// DefaultCompiler describes this process's toolchain. The collector's
// compiler vocabulary predates Go frontends, so the name stays "unknown".
func DefaultCompiler() Compiler {
	return Compiler{
		Name:    "unknown",
		Version: goruntime.Version(),
		Target:  goruntime.GOOS + "/" + goruntime.GOARCH,
	}
}

// DefaultBuildInfo describes the current build as far as the Go runtime
// exposes it.
func DefaultBuildInfo() BuildInfo {
	bi := BuildInfo{OptimizationLevel: "unknown"}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				bi.SourceHash = s.Value
				break
			}
		}
	}
	return bi
}

// Marshal renders the record in the collector's JSON schema.
func Marshal(r Record, comp Compiler, build BuildInfo) ([]byte, error) {
	details := make(map[string]any, len(r.Details)+1)
	for _, f := range r.Details {
		details[jsonKey(f.Key)] = f.Val
	}
	details["call_site_id"] = r.CallSite
	return json.Marshal(wireReport{
		ReportID:     r.ReportID,
		Timestamp:    r.Timestamp,
		CheckType:    r.CheckType,
		Location:     Location{File: "unknown", Line: 0, Function: "unknown"},
		PC:           fmt.Sprintf("0x%x", r.PC),
		Compiler:     comp,
		BuildInfo:    build,
		CheckDetails: details,
	})
}

// -- URL validation --

// urlRejectSet is the character set that disqualifies a collector URL. The
// historical dispatcher shelled out per report, so anything that could read
// as shell syntax stays banned even though delivery is in-process now.
const urlRejectSet = ";&|`$()<>\"'\\"

// ValidateCollectorURL enforces the collector URL contract: http or https
// scheme only, no shell metacharacters, no control characters.
func ValidateCollectorURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("empty collector URL")
	}
	for _, c := range raw {
		if c < 0x20 || c == 0x7f {
			return fmt.Errorf("collector URL contains control character %q", c)
		}
		if strings.ContainsRune(urlRejectSet, c) {
			return fmt.Errorf("collector URL contains forbidden character %q", c)
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("collector URL is not parseable: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("collector URL scheme %q not allowed (http/https only)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("collector URL has no host")
	}
	return nil
}

// -- Delivery --

var (
	sharedClient *http.Client
	clientOnce   sync.Once
)

func getSharedClient() *http.Client {
	clientOnce.Do(func() {
		// No timeout on purpose: the runtime has no timers and never
		// cancels an in-flight post. Deployments point COLLECTOR_URL at a
		// local sidecar, not a wide-area endpoint.
		sharedClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 2,
			},
		}
	})
	return sharedClient
}

// Post delivers one record to the collector. A failure is returned for the
// caller to swallow; there is no retry — per-site dedup means the next
// distinct site will try again.
func Post(collectorURL string, r Record, comp Compiler, build BuildInfo) error {
	body, err := Marshal(r, comp, build)
	if err != nil {
		return err
	}
	resp, err := getSharedClient().Post(collectorURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("collector responded %d", resp.StatusCode)
	}
	return nil
}
