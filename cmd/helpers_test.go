package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// logEpoch is the time of the first line written by accessLine.
var logEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// accessLine returns a combined-timed log line starting offset after logEpoch.
func accessLine(offset time.Duration, path string, duration time.Duration) string {
	ts := logEpoch.Add(offset).Format("02/Jan/2006:15:04:05 -0700")
	return fmt.Sprintf(`10.0.0.1 - - [%s] "GET %s HTTP/1.1" 200 1234 "-" "curl/8.0" %d +`,
		ts, path, duration.Microseconds())
}

// writeLog writes lines to a temporary log file and returns its path.
func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "access.log")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("writing log: %v", err)
	}
	return path
}
