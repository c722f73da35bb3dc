// Package testutil provides shared test infrastructure for the replay packages.
// It consolidates log fixtures, line builders and assertion helpers used across
// sim/ sub-package tests. It imports nothing from sim so every sim package can use it.
package testutil

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// TestFormatName is the format defined by TestFormatYAML.
const TestFormatName = "test"

// TestFormatYAML is a compact format for pipeline tests:
//
//	2024-03-01T12:00:00Z 10.0.0.1 "GET /index.html HTTP/1.1" 200 1500 [worker]
//
// The last number is the duration in milliseconds.
const TestFormatYAML = `formats:
  test:
    regex: '(?P<date>\S+) (?P<host>\S+) "(?P<request>[^"]*)" (?P<status>\d{3}) (?P<time_taken_ms>\d+)(?: (?P<worker>\S+))?'
    regex_url: '\S+ (?P<page>[^?\s]*)\S*(?: \S+)?'
    date_layout: '2006-01-02T15:04:05Z07:00'
    resolution_ns: 1000000000
    worker_key: worker
`

// Epoch is the start time used by fixture lines.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Line builds a TestFormatYAML line starting offset after Epoch.
func Line(offset time.Duration, host string, duration time.Duration) string {
	return fmt.Sprintf(`%s %s "GET /page/%d HTTP/1.1" 200 %d`,
		Epoch.Add(offset).Format(time.RFC3339), host, int(offset/time.Second), duration.Milliseconds())
}

// WorkerLine builds a TestFormatYAML line naming its worker.
func WorkerLine(offset time.Duration, host string, duration time.Duration, worker string) string {
	return Line(offset, host, duration) + " " + worker
}

// WriteLog writes lines to a file in a per-test temporary directory and returns its path.
func WriteLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "access.log")
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write log fixture: %v", err)
	}
	return path
}

// GoldenLogPath returns the path of a log fixture in the repository testdata directory.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func GoldenLogPath(t *testing.T, name string) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Failed to find golden log %s: %v", name, err)
	}
	return path
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
