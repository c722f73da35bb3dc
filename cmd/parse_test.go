package cmd

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logreplay/logreplay/sim"
	"github.com/logreplay/logreplay/sim/format"
)

// overlappingLog holds A (0s, 2s), B (1s, 1s) and C (3s, 1s) plus one bad line.
var overlappingLog = strings.Join([]string{
	accessLine(0, "/a", 2*time.Second),
	accessLine(time.Second, "/b?x=1", time.Second),
	"not a log line",
	accessLine(3*time.Second, "/c", time.Second),
}, "\n")

func newTestParser(t *testing.T) *format.Parser {
	t.Helper()
	parser, err := format.NewParser(format.DefaultTable(), DefaultFormat, 0)
	require.NoError(t, err)
	return parser
}

func TestParseLog_JSON_AssignsWorkersInFileOrder(t *testing.T) {
	// GIVEN an overlapping log
	var out bytes.Buffer
	w, err := newRequestWriter("json", &out)
	require.NoError(t, err)

	// WHEN parsed
	valid, invalid, err := parseLog(strings.NewReader(overlappingLog), newTestParser(t), sim.NewWorkerSimulator(sim.DefaultWorkerConfig()), w)

	// THEN B gets a second worker and C reuses the first
	require.NoError(t, err)
	assert.Equal(t, 3, valid)
	assert.Equal(t, 1, invalid)

	var got []parsedRequest
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var r parsedRequest
		require.NoError(t, jsoniter.Unmarshal(scanner.Bytes(), &r))
		got = append(got, r)
	}
	require.Len(t, got, 3)
	assert.Equal(t, []string{sim.WorkerName(0), sim.WorkerName(1), sim.WorkerName(0)},
		[]string{got[0].Worker, got[1].Worker, got[2].Worker})
	assert.Equal(t, "/b", got[1].Target)
	assert.Equal(t, "010.000.000.001", got[0].Source)
	assert.Equal(t, int64(2_000_000), got[0].DurationUs)
	assert.True(t, got[0].StartTime.Equal(logEpoch))
	assert.True(t, got[0].KeepAlive)
}

func TestParseLog_CSV_WritesHeaderAndRows(t *testing.T) {
	var out bytes.Buffer
	w, err := newRequestWriter("csv", &out)
	require.NoError(t, err)

	_, _, err = parseLog(strings.NewReader(overlappingLog), newTestParser(t), sim.NewWorkerSimulator(sim.DefaultWorkerConfig()), w)
	require.NoError(t, err)

	rows, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "/c", rows[3][5])
	assert.Equal(t, sim.WorkerName(0), rows[3][7])
}

func TestParseLog_NoValidLines_WritesNothing(t *testing.T) {
	var out bytes.Buffer
	w, err := newRequestWriter("csv", &out)
	require.NoError(t, err)

	valid, invalid, err := parseLog(strings.NewReader("x\ny\n"), newTestParser(t), sim.NewWorkerSimulator(sim.DefaultWorkerConfig()), w)

	require.NoError(t, err)
	assert.Equal(t, 0, valid)
	assert.Equal(t, 2, invalid)
	assert.Empty(t, out.String())
}

func TestNewRequestWriter_UnknownEncoding_Errors(t *testing.T) {
	_, err := newRequestWriter("xml", &bytes.Buffer{})
	assert.Error(t, err)
}
