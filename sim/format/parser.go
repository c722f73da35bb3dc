package format

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/logreplay/logreplay/sim"
)

// DefaultSourceCacheSize bounds the normalized-source cache of a Parser.
const DefaultSourceCacheSize = 4096

// DefaultBytes is the response size used when a format has no bytes group.
const DefaultBytes = 512

// KeepAliveMarker is the keep_alive capture that marks a kept-alive connection.
const KeepAliveMarker = "+"

var (
	digitRun  = regexp.MustCompile(`(\d+)`)
	paddedRun = regexp.MustCompile(`0(\d{3})`)
)

// NormalizeSource pads every run of digits in s so that short runs reach three
// digits and longer runs keep their original digits, e.g. "10.0.0.1" becomes
// "010.000.000.001".
//
// Each run gains two leading zeros, then "0ddd" collapses to "ddd" twice,
// scanning left to right without overlap.
func NormalizeSource(s string) string {
	s = digitRun.ReplaceAllString(s, "00${1}")
	s = paddedRun.ReplaceAllString(s, "${1}")
	return paddedRun.ReplaceAllString(s, "${1}")
}

// durationGroup pairs a duration capture group with its unit, in priority order.
type durationGroup struct {
	name string
	unit time.Duration
}

var durationGroups = []durationGroup{
	{GroupDurationNs, time.Nanosecond},
	{GroupDurationUs, time.Microsecond},
	{GroupDurationMs, time.Millisecond},
	{GroupDurationS, time.Second},
}

// Parser turns log lines into draft sim.Request values for one Format.
// A Parser is used by a single goroutine.
type Parser struct {
	format     Format
	line       *regexp.Regexp
	url        *regexp.Regexp // nil when the format has no url regex
	resolution time.Duration
	sources    *lru.Cache // raw host -> normalized source

	date, host, request, status, bytes, keepAlive, worker int // group indexes, -1 when absent
	durations                                             []int
	page                                                  int
}

// NewParser builds a parser for the active format of table.
// cacheSize <= 0 uses DefaultSourceCacheSize.
func NewParser(table Table, active string, cacheSize int) (*Parser, error) {
	f, ok := table[active]
	if !ok {
		return nil, fmt.Errorf("unknown log format %q (available: %v)", active, table.Names())
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("format %q: %w", active, err)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultSourceCacheSize
	}
	sources, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating source cache: %w", err)
	}

	p := &Parser{
		format:     f,
		line:       regexp.MustCompile(`^(?:` + f.Regex + `)$`),
		resolution: f.Resolution(),
		sources:    sources,
		page:       -1,
		worker:     -1,
	}
	p.date = p.line.SubexpIndex(GroupDate)
	p.host = p.line.SubexpIndex(GroupHost)
	p.request = p.line.SubexpIndex(GroupRequest)
	p.status = p.line.SubexpIndex(GroupStatus)
	p.bytes = p.line.SubexpIndex(GroupBytes)
	p.keepAlive = p.line.SubexpIndex(GroupKeepAlive)
	for _, g := range durationGroups {
		p.durations = append(p.durations, p.line.SubexpIndex(g.name))
	}
	if f.WorkerKey != "" {
		p.worker = p.line.SubexpIndex(f.WorkerKey)
	}
	if f.URLRegex != "" {
		p.url = regexp.MustCompile(`^(?:` + f.URLRegex + `)$`)
		p.page = p.url.SubexpIndex(GroupPage)
	}
	return p, nil
}

// Format returns the format the parser applies.
func (p *Parser) Format() Format {
	return p.format
}

// Parse converts one line. A line that does not match the format, or whose
// fields do not parse, yields a Request with Valid == false.
func (p *Parser) Parse(line string) sim.Request {
	req := sim.NewRequest()
	m := p.line.FindStringSubmatchIndex(line)
	if m == nil {
		logrus.WithField("format", p.format.Name).Debugf("line did not match format: %q", line)
		return req
	}
	capture := func(idx int) (string, bool) {
		if idx < 0 || m[2*idx] < 0 {
			return "", false
		}
		return line[m[2*idx]:m[2*idx+1]], true
	}
	reject := func(field string, err error) sim.Request {
		logrus.WithField("format", p.format.Name).Debugf("bad %s in line %q: %v", field, line, err)
		return req
	}

	date, _ := capture(p.date)
	start, err := time.Parse(p.format.DateLayout, date)
	if err != nil {
		return reject(GroupDate, err)
	}
	req.StartTime = start.Truncate(sim.TimeUnit)
	req.StartTimeResolution = p.resolution

	for i, idx := range p.durations {
		raw, ok := capture(idx)
		if !ok {
			continue
		}
		unit := durationGroups[i].unit
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return reject(durationGroups[i].name, fmt.Errorf("not a non-negative number: %q", raw))
		}
		if v >= float64(math.MaxInt64/int64(unit)) {
			return reject(durationGroups[i].name, fmt.Errorf("duration out of range: %q", raw))
		}
		req.Duration = time.Duration(v * float64(unit)).Truncate(sim.TimeUnit)
		break
	}

	switch raw, ok := capture(p.bytes); {
	case p.bytes < 0:
		req.SizeInBytes = DefaultBytes
	case !ok || raw == "" || raw == "-":
		req.SizeInBytes = 0
	default:
		size, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return reject(GroupBytes, err)
		}
		req.SizeInBytes = size
	}

	host, _ := capture(p.host)
	req.Source = p.normalizeSource(host)
	target, _ := capture(p.request)
	req.Target = p.normalizeTarget(target)
	req.Status, _ = capture(p.status)
	keepAlive, _ := capture(p.keepAlive)
	req.KeepAlive = keepAlive == KeepAliveMarker
	req.Worker, _ = capture(p.worker)

	req.Valid = true
	return req
}

func (p *Parser) normalizeSource(host string) string {
	if v, ok := p.sources.Get(host); ok {
		return v.(string)
	}
	normalized := NormalizeSource(host)
	p.sources.Add(host, normalized)
	return normalized
}

func (p *Parser) normalizeTarget(target string) string {
	if p.url == nil {
		return target
	}
	m := p.url.FindStringSubmatch(target)
	if m == nil || p.page < 0 {
		logrus.WithField("format", p.format.Name).Debugf("target did not match url format: %q", target)
		return target
	}
	return m[p.page]
}
