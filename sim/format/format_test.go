package format

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logreplay/logreplay/sim/internal/testutil"
)

func TestDefaultTable_AllFormatsValid(t *testing.T) {
	// GIVEN the built-in table
	table := DefaultTable()

	// THEN it has the expected formats and every one validates
	assert.Equal(t, []string{"apache-pid", "combined-timed", "common", "iis", "nginx-timing"}, table.Names())
	assert.NoError(t, table.Validate())
	for name, f := range table {
		assert.Equal(t, name, f.Name)
	}
}

func TestParseTable_UnknownField_Rejected(t *testing.T) {
	// GIVEN a table with a misspelled field
	data := []byte(`formats:
  x:
    regexp: '(?P<date>\S+)'
    date_layout: '2006'
`)

	// WHEN parsed
	_, err := ParseTable(data)

	// THEN strict decoding rejects it
	assert.Error(t, err)
}

func TestTableValidate_ReportsEveryProblem(t *testing.T) {
	// GIVEN formats with several independent problems
	table := Table{
		"no-date": {Name: "no-date", Regex: `(?P<host>\S+)`, DateLayout: "2006"},
		"bad-url": {Name: "bad-url", Regex: `(?P<date>\S+)`, URLRegex: `(`, DateLayout: "2006"},
		"no-page": {Name: "no-page", Regex: `(?P<date>\S+)`, URLRegex: `\S+`, DateLayout: "2006"},
		"worker":  {Name: "worker", Regex: `(?P<date>\S+)`, DateLayout: "2006", WorkerKey: "pid"},
		"layout":  {Name: "layout", Regex: `(?P<date>\S+)`},
	}

	// WHEN validated
	err := table.Validate()

	// THEN each problem is named
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{`"no-date"`, `"bad-url"`, `"no-page"`, `worker_key "pid"`, "date_layout is empty"} {
		assert.Contains(t, msg, want)
	}
}

func TestLoadTable_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formats.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testutil.TestFormatYAML), 0o644))

	table, err := LoadTable(path)

	require.NoError(t, err)
	assert.Equal(t, []string{testutil.TestFormatName}, table.Names())
	assert.Equal(t, "worker", table[testutil.TestFormatName].WorkerKey)
}

func TestLoadTable_MissingFile(t *testing.T) {
	_, err := LoadTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTableMerge_OverridesByName(t *testing.T) {
	base := Table{"a": {Name: "a", Regex: "1"}, "b": {Name: "b", Regex: "1"}}
	override := Table{"b": {Name: "b", Regex: "2"}, "c": {Name: "c", Regex: "2"}}

	merged := base.Merge(override)

	assert.Equal(t, []string{"a", "b", "c"}, merged.Names())
	assert.Equal(t, "2", merged["b"].Regex)
	assert.Equal(t, "1", base["b"].Regex, "Merge must not modify the receiver")
}

func TestFormatResolution_DefaultsToOneSecond(t *testing.T) {
	assert.Equal(t, time.Second, Format{}.Resolution())
	assert.Equal(t, time.Millisecond, Format{ResolutionNs: 1e6}.Resolution())
}
