// Package format describes access log formats and parses log lines into
// sim.Request values.
//
// A Format is data: a line regex with named capture groups, an optional url
// regex, a date layout and a start time resolution. Parser applies one Format
// to each line.
package format

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Capture group names recognized in Format.Regex.
const (
	GroupDate       = "date"
	GroupHost       = "host"
	GroupRequest    = "request"
	GroupStatus     = "status"
	GroupBytes      = "bytes"
	GroupKeepAlive  = "keep_alive"
	GroupDurationNs = "time_taken_ns"
	GroupDurationUs = "time_taken_us"
	GroupDurationMs = "time_taken_ms"
	GroupDurationS  = "time_taken_s"
	GroupPage       = "page" // in Format.URLRegex
)

// DefaultResolution applies when a Format leaves ResolutionNs unset.
const DefaultResolution = time.Second

//go:embed defaults.yaml
var defaultsYAML []byte

// Format describes one log format.
type Format struct {
	Name         string `yaml:"-"`
	Regex        string `yaml:"regex"`         // full-line pattern
	URLRegex     string `yaml:"regex_url"`     // applied to the request group; "page" becomes the target
	DateLayout   string `yaml:"date_layout"`   // Go reference layout
	ResolutionNs int64  `yaml:"resolution_ns"` // start time granularity; 0 = DefaultResolution
	WorkerKey    string `yaml:"worker_key"`    // capture group holding the worker id, optional
}

// Resolution returns the start time granularity of the format.
func (f Format) Resolution() time.Duration {
	if f.ResolutionNs == 0 {
		return DefaultResolution
	}
	return time.Duration(f.ResolutionNs)
}

// Validate reports every problem with the format.
func (f Format) Validate() error {
	var result *multierror.Error
	if f.Regex == "" {
		result = multierror.Append(result, fmt.Errorf("regex is empty"))
	} else if re, err := regexp.Compile(f.Regex); err != nil {
		result = multierror.Append(result, fmt.Errorf("regex: %w", err))
	} else {
		if re.SubexpIndex(GroupDate) < 0 {
			result = multierror.Append(result, fmt.Errorf("regex has no %q group", GroupDate))
		}
		if f.WorkerKey != "" && re.SubexpIndex(f.WorkerKey) < 0 {
			result = multierror.Append(result, fmt.Errorf("worker_key %q is not a group of regex", f.WorkerKey))
		}
	}
	if f.URLRegex != "" {
		if re, err := regexp.Compile(f.URLRegex); err != nil {
			result = multierror.Append(result, fmt.Errorf("regex_url: %w", err))
		} else if re.SubexpIndex(GroupPage) < 0 {
			result = multierror.Append(result, fmt.Errorf("regex_url has no %q group", GroupPage))
		}
	}
	if f.DateLayout == "" {
		result = multierror.Append(result, fmt.Errorf("date_layout is empty"))
	}
	if f.ResolutionNs < 0 {
		result = multierror.Append(result, fmt.Errorf("resolution_ns must be >= 0, got %d", f.ResolutionNs))
	}
	return result.ErrorOrNil()
}

// Table maps format names to formats.
type Table map[string]Format

// tableFile is the on-disk layout of a format table.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type tableFile struct {
	Formats map[string]Format `yaml:"formats"`
}

// ParseTable decodes a YAML format table with strict field checking.
func ParseTable(data []byte) (Table, error) {
	var file tableFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing format table: %w", err)
	}
	table := make(Table, len(file.Formats))
	for name, f := range file.Formats {
		f.Name = name
		table[name] = f
	}
	return table, nil
}

// LoadTable reads and validates a YAML format table.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading format table: %w", err)
	}
	table, err := ParseTable(data)
	if err != nil {
		return nil, err
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("format table %s: %w", path, err)
	}
	return table, nil
}

// DefaultTable returns the built-in formats.
func DefaultTable() Table {
	table, err := ParseTable(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in format table: %v", err))
	}
	return table
}

// Merge returns a table holding t's formats overridden by other's.
func (t Table) Merge(other Table) Table {
	merged := make(Table, len(t)+len(other))
	for name, f := range t {
		merged[name] = f
	}
	for name, f := range other {
		merged[name] = f
	}
	return merged
}

// Names returns the format names in sorted order.
func (t Table) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports every problem in every format, prefixed by format name.
func (t Table) Validate() error {
	var result *multierror.Error
	for _, name := range t.Names() {
		if err := t[name].Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("format %q: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}
