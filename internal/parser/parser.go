// Package parser converts raw access-log lines into request records.
//
// DESIGN: Three interchangeable parsers behind one interface:
//   - NginxParser: combined log format with the pool/release/upstream
//     suffix our nginx template appends
//   - JSONParser:  JSON-per-line logs, field names configurable (gjson)
//   - RegexParser: operator-supplied pattern with named capture groups
//
// Timestamp and status are required; a line missing either yields a
// ParseError and is dropped upstream. The pool field is optional — an
// absent or unrecognized value maps to PoolUnknown and the record still
// counts toward the error-rate window.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/bluegreenops/poolwatch/internal/record"
)

// Parser turns one raw log line into a RequestRecord.
type Parser interface {
	Parse(raw string) (record.RequestRecord, error)
}

// ParseError reports a line that failed required-field extraction.
// Recoverable: the caller drops the line and continues.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Field, e.Reason)
}

// Timestamp layouts tried in order.
var timeLayouts = []string{
	"02/Jan/2006:15:04:05 -0700", // nginx $time_local
	time.RFC3339Nano,
	time.RFC3339,
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func parseStatus(s string) (int, error) {
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("non-numeric status %q", s)
	}
	if code < 100 || code > 599 {
		return 0, fmt.Errorf("status %d out of range", code)
	}
	return code, nil
}

// ---------------------------------------------------------------------------
// Nginx parser
// ---------------------------------------------------------------------------

// NginxParser handles combined-format lines with the custom suffix the
// proxy template writes:
//
//	... [10/Mar/2026:14:01:02 +0000] "GET / HTTP/1.1" 502 ... pool:blue
//	release:v42 upstatus:502 upaddr:10.0.0.7:8080 req_time:0.004 upr_time:0.003
type NginxParser struct {
	timeRe   *regexp.Regexp
	statusRe *regexp.Regexp
	fieldRe  *regexp.Regexp
}

// NewNginxParser creates a parser for the proxy's combined log format.
func NewNginxParser() *NginxParser {
	return &NginxParser{
		timeRe:   regexp.MustCompile(`\[([^\]]+)\]`),
		statusRe: regexp.MustCompile(`"[^"]*"\s+(\d{3})\b`),
		fieldRe: regexp.MustCompile(
			`pool:(?P<pool>\S+) release:(?P<release>\S+) upstatus:(?P<upstatus>\S+) ` +
				`upaddr:(?P<upaddr>\S+) req_time:(?P<req_time>\S+) upr_time:(?P<upr_time>\S+)`),
	}
}

func (p *NginxParser) Parse(raw string) (record.RequestRecord, error) {
	var rec record.RequestRecord

	tm := p.timeRe.FindStringSubmatch(raw)
	if tm == nil {
		return rec, &ParseError{Field: "timestamp", Reason: "field missing"}
	}
	ts, err := parseTimestamp(tm[1])
	if err != nil {
		return rec, &ParseError{Field: "timestamp", Reason: err.Error()}
	}

	sm := p.statusRe.FindStringSubmatch(raw)
	if sm == nil {
		return rec, &ParseError{Field: "status", Reason: "field missing"}
	}
	code, err := parseStatus(sm[1])
	if err != nil {
		return rec, &ParseError{Field: "status", Reason: err.Error()}
	}

	rec.Timestamp = ts
	rec.StatusCode = code
	rec.Pool = record.PoolUnknown

	// The suffix is optional context; a line without it is still counted.
	if fm := p.fieldRe.FindStringSubmatch(raw); fm != nil {
		names := p.fieldRe.SubexpNames()
		for i, name := range names {
			if i == 0 || name == "" {
				continue
			}
			applyField(&rec, name, fm[i])
		}
	}
	return rec, nil
}

// ---------------------------------------------------------------------------
// JSON parser
// ---------------------------------------------------------------------------

// JSONFields maps record fields to JSON key paths.
type JSONFields struct {
	Timestamp string `yaml:"timestamp"`
	Status    string `yaml:"status"`
	Pool      string `yaml:"pool"`
	Release   string `yaml:"release"`
}

// JSONParser handles JSON-per-line access logs.
type JSONParser struct {
	fields JSONFields
}

// NewJSONParser creates a parser reading the given field names.
// Empty names fall back to common defaults.
func NewJSONParser(fields JSONFields) *JSONParser {
	if fields.Timestamp == "" {
		fields.Timestamp = "time"
	}
	if fields.Status == "" {
		fields.Status = "status"
	}
	if fields.Pool == "" {
		fields.Pool = "pool"
	}
	if fields.Release == "" {
		fields.Release = "release"
	}
	return &JSONParser{fields: fields}
}

func (p *JSONParser) Parse(raw string) (record.RequestRecord, error) {
	var rec record.RequestRecord

	if !gjson.Valid(raw) {
		return rec, &ParseError{Field: "line", Reason: "not valid JSON"}
	}

	tv := gjson.Get(raw, p.fields.Timestamp)
	if !tv.Exists() {
		return rec, &ParseError{Field: "timestamp", Reason: "field missing"}
	}
	ts, err := parseTimestamp(tv.String())
	if err != nil {
		return rec, &ParseError{Field: "timestamp", Reason: err.Error()}
	}

	sv := gjson.Get(raw, p.fields.Status)
	if !sv.Exists() {
		return rec, &ParseError{Field: "status", Reason: "field missing"}
	}
	code, err := parseStatus(strings.TrimSpace(sv.String()))
	if err != nil {
		return rec, &ParseError{Field: "status", Reason: err.Error()}
	}

	rec.Timestamp = ts
	rec.StatusCode = code
	rec.Pool = record.ParsePool(gjson.Get(raw, p.fields.Pool).String())
	rec.ReleaseID = gjson.Get(raw, p.fields.Release).String()
	return rec, nil
}

// ---------------------------------------------------------------------------
// Regex parser
// ---------------------------------------------------------------------------

// RegexParser uses an operator-supplied pattern with named capture groups.
// Required groups: timestamp, status. Optional: pool, release, upstatus,
// upaddr, req_time, upr_time.
type RegexParser struct {
	re *regexp.Regexp
}

// NewRegexParser compiles the pattern and verifies the required groups.
func NewRegexParser(pattern string) (*RegexParser, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid log pattern: %w", err)
	}
	names := map[string]bool{}
	for _, n := range re.SubexpNames() {
		names[n] = true
	}
	for _, required := range []string{"timestamp", "status"} {
		if !names[required] {
			return nil, fmt.Errorf("log pattern missing required group %q", required)
		}
	}
	return &RegexParser{re: re}, nil
}

func (p *RegexParser) Parse(raw string) (record.RequestRecord, error) {
	var rec record.RequestRecord

	m := p.re.FindStringSubmatch(raw)
	if m == nil {
		return rec, &ParseError{Field: "line", Reason: "pattern mismatch"}
	}

	rec.Pool = record.PoolUnknown
	var haveTS, haveStatus bool
	for i, name := range p.re.SubexpNames() {
		if i == 0 || name == "" || m[i] == "" {
			continue
		}
		switch name {
		case "timestamp":
			ts, err := parseTimestamp(m[i])
			if err != nil {
				return record.RequestRecord{}, &ParseError{Field: "timestamp", Reason: err.Error()}
			}
			rec.Timestamp = ts
			haveTS = true
		case "status":
			code, err := parseStatus(m[i])
			if err != nil {
				return record.RequestRecord{}, &ParseError{Field: "status", Reason: err.Error()}
			}
			rec.StatusCode = code
			haveStatus = true
		default:
			applyField(&rec, name, m[i])
		}
	}
	if !haveTS {
		return record.RequestRecord{}, &ParseError{Field: "timestamp", Reason: "field missing"}
	}
	if !haveStatus {
		return record.RequestRecord{}, &ParseError{Field: "status", Reason: "field missing"}
	}
	return rec, nil
}

// applyField sets an optional named field on the record.
func applyField(rec *record.RequestRecord, name, val string) {
	switch name {
	case "pool":
		rec.Pool = record.ParsePool(val)
	case "release":
		rec.ReleaseID = val
	case "upstatus":
		rec.UpstreamStatus = val
	case "upaddr":
		rec.UpstreamAddr = val
	case "req_time":
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			rec.RequestTime = f
		}
	case "upr_time":
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			rec.UpstreamTime = f
		}
	}
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

// Config selects and configures a parser.
type Config struct {
	Format     string     `yaml:"format"`  // nginx | json | regex
	Pattern    string     `yaml:"pattern"` // for format: regex
	JSONFields JSONFields `yaml:"json_fields"`
}

// New builds a parser from config. Unknown formats are an error.
func New(cfg Config) (Parser, error) {
	switch cfg.Format {
	case "", "nginx":
		return NewNginxParser(), nil
	case "json":
		return NewJSONParser(cfg.JSONFields), nil
	case "regex":
		return NewRegexParser(cfg.Pattern)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
