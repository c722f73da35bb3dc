package cmd

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/logreplay/logreplay/sim"
	"github.com/logreplay/logreplay/sim/format"
	"github.com/logreplay/logreplay/sim/ingest"
)

var parseOutput string // Output encoding of the parse command

// parseCmd parses a log and prints the requests with their workers.
var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Parse an access log and print its requests with simulated workers",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		parser, err := format.NewParser(loadFormats(), cfg.Input.Format, 0)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		w, err := newRequestWriter(parseOutput, os.Stdout)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		source, err := ingest.OpenSource(cfg.Input.File, cfg.Input.Encoding)
		if err != nil {
			logrus.Fatalf("Failed to open log: %v", err)
		}
		defer source.Close()

		valid, invalid, err := parseLog(source, parser, sim.NewWorkerSimulator(cfg.workerConfig()), w)
		if err != nil {
			logrus.Fatalf("Parse failed: %v", err)
		}
		logrus.Infof("Parsed %d requests, rejected %d lines", valid, invalid)
	},
}

// parsedRequest is the output record of the parse command.
type parsedRequest struct {
	Sequence    uint64    `json:"sequence"`
	StartTime   time.Time `json:"start_time"`
	DurationUs  int64     `json:"duration_us"`
	SizeInBytes uint64    `json:"size_in_bytes"`
	Source      string    `json:"source"`
	Target      string    `json:"target"`
	Status      string    `json:"status"`
	Worker      string    `json:"worker"`
	KeepAlive   bool      `json:"keep_alive"`
}

func newParsedRequest(req sim.Request) parsedRequest {
	return parsedRequest{
		Sequence:    req.Sequence,
		StartTime:   req.StartTime,
		DurationUs:  req.Duration.Microseconds(),
		SizeInBytes: req.SizeInBytes,
		Source:      req.Source,
		Target:      req.Target,
		Status:      req.Status,
		Worker:      req.Worker,
		KeepAlive:   req.KeepAlive,
	}
}

// requestWriter encodes parsed requests.
type requestWriter interface {
	Write(parsedRequest) error
	Flush() error
}

func newRequestWriter(encoding string, w io.Writer) (requestWriter, error) {
	switch encoding {
	case "json":
		return &jsonWriter{enc: jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)}, nil
	case "csv":
		return &csvWriter{w: csv.NewWriter(w)}, nil
	default:
		return nil, fmt.Errorf("unknown output encoding %q (valid: json, csv)", encoding)
	}
}

// jsonWriter writes one JSON object per line.
type jsonWriter struct {
	enc *jsoniter.Encoder
}

func (j *jsonWriter) Write(r parsedRequest) error { return j.enc.Encode(r) }

func (j *jsonWriter) Flush() error { return nil }

var csvHeader = []string{"sequence", "start_time", "duration_us", "size_in_bytes", "source", "target", "status", "worker", "keep_alive"}

// csvWriter writes a header row, then one row per request.
type csvWriter struct {
	w           *csv.Writer
	wroteHeader bool
}

func (c *csvWriter) Write(r parsedRequest) error {
	if !c.wroteHeader {
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
		c.wroteHeader = true
	}
	return c.w.Write([]string{
		strconv.FormatUint(r.Sequence, 10),
		r.StartTime.Format(time.RFC3339Nano),
		strconv.FormatInt(r.DurationUs, 10),
		strconv.FormatUint(r.SizeInBytes, 10),
		r.Source,
		r.Target,
		r.Status,
		r.Worker,
		strconv.FormatBool(r.KeepAlive),
	})
}

func (c *csvWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

// parseLog parses every line of r in file order, assigns workers and writes the
// valid requests to w. It returns the number of valid and rejected lines.
func parseLog(r io.Reader, parser ingest.LineParser, workers *sim.WorkerSimulator, w requestWriter) (valid, invalid int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		req := parser.Parse(strings.TrimRight(scanner.Text(), "\r"))
		if !req.Valid {
			invalid++
			continue
		}
		if err := w.Write(newParsedRequest(workers.Assign(req))); err != nil {
			return valid, invalid, fmt.Errorf("writing request: %w", err)
		}
		valid++
	}
	if err := scanner.Err(); err != nil {
		return valid, invalid, fmt.Errorf("reading log: %w", err)
	}
	return valid, invalid, w.Flush()
}
