package config

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/encoding/ianaindex"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is a dotted path into the
// config, e.g. "storage.db.table" or "sources.orders.file.path".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// StorageKinds lists the destinations the binary ships with.
var StorageKinds = []string{"mssql", "mysql", "postgres", "sqlite"}

// ValidatePipeline lints p without mutating it. Run it after ApplyDefaults
// and any Conn overrides so the checked values are the ones that will be used.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, a ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		add(SeverityError, "job", "job must not be empty; it labels logs and metrics")
	}

	validateSources(p.Sources, add)
	validateParser(p.Parser, add)
	validateTransform(p.Transform, add)
	validateStorage(p, add)
	validateRuntime(p.Runtime, add)
	validateSchedule(p.Schedule, add)
	validateMetrics(p.Metrics, add)

	return issues
}

type addFn func(sev IssueSeverity, path, format string, a ...any)

func validateSources(sources map[string]Source, add addFn) {
	for _, name := range []string{"customers", "orders", "payments"} {
		if _, ok := sources[name]; !ok {
			add(SeverityError, "sources."+name, "source %q is required", name)
		}
	}

	names := make([]string, 0, len(sources))
	for n := range sources {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		s := sources[name]
		base := "sources." + name
		if _, known := DefaultSourcePaths[name]; !known {
			add(SeverityWarning, base, "unknown source %q is ignored", name)
		}
		if s.Kind != "file" {
			add(SeverityError, base+".kind", "unsupported source kind %q; only \"file\" is available", s.Kind)
			continue
		}
		if strings.TrimSpace(s.File.Path) == "" {
			add(SeverityError, base+".file.path", "file source requires a non-empty path")
		}
	}
}

func validateParser(p Parser, add addFn) {
	if p.Kind != "csv" {
		add(SeverityError, "parser.kind", "unsupported parser kind %q; only \"csv\" is available", p.Kind)
		return
	}
	if c := p.Options.String("comma", ""); c != "" {
		if utf8.RuneCountInString(c) != 1 || c == "\"" || c == "\r" || c == "\n" {
			add(SeverityError, "parser.options.comma", "comma must be a single character other than quote or newline, got %q", c)
		}
	}
	if enc := strings.TrimSpace(p.Options.String("encoding", "")); enc != "" {
		switch strings.ToLower(enc) {
		case "utf-8", "utf8":
		default:
			if e, err := ianaindex.IANA.Encoding(enc); err != nil || e == nil {
				add(SeverityError, "parser.options.encoding", "unsupported encoding %q", enc)
			}
		}
	}
	if v, ok := p.Options["header_map"]; ok {
		if _, isMap := v.(map[string]any); !isMap {
			add(SeverityError, "parser.options.header_map", "header_map must be an object of strings")
		}
	}
}

func validateTransform(t TransformConfig, add addFn) {
	for i, l := range t.DateLayouts {
		if strings.TrimSpace(l) == "" {
			add(SeverityError, fmt.Sprintf("transform.date_layouts[%d]", i), "date layout must not be empty")
		}
	}
	if t.Timezone != "" {
		if _, err := time.LoadLocation(t.Timezone); err != nil {
			add(SeverityError, "transform.timezone", "unknown time zone %q", t.Timezone)
		}
	}
}

func validateStorage(p Pipeline, add addFn) {
	s := p.Storage
	if !slices.Contains(StorageKinds, s.Kind) {
		add(SeverityError, "storage.kind", "unknown storage kind %q; expected one of %s", s.Kind, strings.Join(StorageKinds, ", "))
		return
	}

	if _, err := p.ResolveDSN(); err != nil {
		add(SeverityError, "storage.db.dsn", "no usable connection: %v", err)
	}
	if s.DB.DSN != "" && s.DB.Host != "" {
		add(SeverityWarning, "storage.db", "both dsn and host are set; dsn wins")
	}

	table := strings.TrimSpace(s.DB.Table)
	parts := strings.Split(table, ".")
	switch {
	case table == "":
		add(SeverityError, "storage.db.table", "table must not be empty")
	case len(parts) > 2:
		add(SeverityError, "storage.db.table", "table %q has more than one schema qualifier", table)
	default:
		for _, part := range parts {
			if part == "" {
				add(SeverityError, "storage.db.table", "table %q has an empty name part", table)
				break
			}
		}
	}
	if s.Kind == "sqlite" && len(parts) == 2 {
		add(SeverityWarning, "storage.db.table", "sqlite treats %q as attached-database qualified", table)
	}
}

func validateRuntime(r RuntimeConfig, add addFn) {
	if r.BatchSize < 0 {
		add(SeverityError, "runtime.batch_size", "batch_size must not be negative")
	}
	if r.BatchSize > 10000 {
		add(SeverityWarning, "runtime.batch_size", "batch_size %d is large; a failed batch rolls back all of its rows", r.BatchSize)
	}
	if r.Retries < 0 {
		add(SeverityError, "runtime.retries", "retries must not be negative")
	}
	if r.RetryDelay.Duration < 0 {
		add(SeverityError, "runtime.retry_delay", "retry_delay must not be negative")
	}
}

func validateSchedule(s ScheduleConfig, add addFn) {
	switch {
	case s.Every.Duration < 0:
		add(SeverityError, "schedule.every", "every must not be negative")
	case s.Every.Duration > 0 && s.Spec != "":
		add(SeverityWarning, "schedule", "both spec and every are set; every wins")
	case s.Every.Duration == 0:
		if _, err := cron.ParseStandard(s.Spec); err != nil {
			add(SeverityError, "schedule.spec", "invalid cron spec %q: %v", s.Spec, err)
		}
	}
	if s.RetryCount() < 0 {
		add(SeverityError, "schedule.retries", "retries must not be negative")
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			add(SeverityError, "schedule.timezone", "unknown time zone %q", s.Timezone)
		}
	}
}

func validateMetrics(m MetricsConfig, add addFn) {
	switch m.Backend {
	case "none", "":
	case "pushgateway":
		if m.PushgatewayURL == "" {
			add(SeverityWarning, "metrics.pushgateway_url", "empty; PUSHGATEWAY_URL or the flag must supply it")
		}
	case "datadog":
		for i, tag := range m.Tags {
			if !strings.Contains(tag, ":") {
				add(SeverityWarning, fmt.Sprintf("metrics.tags[%d]", i), "tag %q is not key:value", tag)
			}
		}
	default:
		add(SeverityError, "metrics.backend", "unknown metrics backend %q; expected none, pushgateway or datadog", m.Backend)
	}
}
