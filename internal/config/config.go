// Package config defines the pipeline file model for the customer fact ETL.
//
// A pipeline file is JSON or YAML (chosen by extension). Fields mirror the file
// structure; connection parts may also come from flags and environment
// variables, see Conn.
//
// Example (trimmed):
//
//	{
//	  "job": "customer-etl",
//	  "sources": {
//	    "customers": { "kind": "file", "file": { "path": "data/customer_data.csv" } },
//	    "orders":    { "kind": "file", "file": { "path": "data/order_data.csv" } },
//	    "payments":  { "kind": "file", "file": { "path": "data/payment_data.csv" } }
//	  },
//	  "parser":  { "kind": "csv", "options": { "comma": ",", "encoding": "utf-8" } },
//	  "storage": { "kind": "postgres", "db": { "dsn": "postgres://...", "table": "customers_data" } },
//	  "schedule": { "spec": "@daily", "retries": 1, "retry_delay": "5m" }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Pipeline is the top-level object of a pipeline file.
type Pipeline struct {
	// Job names the pipeline in logs and metrics.
	Job string `json:"job" yaml:"job"`

	// Sources maps logical source name (customers, orders, payments) to where
	// its rows come from.
	Sources map[string]Source `json:"sources" yaml:"sources"`

	Parser    Parser          `json:"parser" yaml:"parser"`
	Transform TransformConfig `json:"transform" yaml:"transform"`
	Storage   Storage         `json:"storage" yaml:"storage"`
	Runtime   RuntimeConfig   `json:"runtime" yaml:"runtime"`
	Schedule  ScheduleConfig  `json:"schedule" yaml:"schedule"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

// Source identifies one input. The only kind is "file".
type Source struct {
	Kind string     `json:"kind" yaml:"kind"`
	File SourceFile `json:"file" yaml:"file"`
}

// SourceFile holds configuration for the "file" source kind.
type SourceFile struct {
	Path string `json:"path" yaml:"path"`
}

// Parser selects how raw bytes become rows. The only kind is "csv".
type Parser struct {
	Kind string `json:"kind" yaml:"kind"`

	// Options for csv:
	//   comma (string), encoding (string), trim_space (bool),
	//   lazy_quotes (bool), normalize_headers (bool), header_map (object)
	Options Options `json:"options" yaml:"options"`
}

// TransformConfig tunes value parsing in the transform stage.
type TransformConfig struct {
	// DateLayouts are Go time layouts tried in order. Empty uses the built-in list.
	DateLayouts []string `json:"date_layouts" yaml:"date_layouts"`
	// Timezone is an IANA zone applied to dates without an offset. Empty means UTC.
	Timezone string `json:"timezone" yaml:"timezone"`
}

// Storage selects the destination.
type Storage struct {
	// Kind is one of "postgres", "mssql", "mysql", "sqlite".
	Kind string   `json:"kind" yaml:"kind"`
	DB   DBConfig `json:"db" yaml:"db"`
}

// DBConfig configures the destination database and table.
type DBConfig struct {
	// DSN is the driver connection string. When empty it is built from the
	// discrete parts below, see BuildDSN.
	DSN string `json:"dsn" yaml:"dsn"`

	Host     string `json:"host" yaml:"host"`
	Port     string `json:"port" yaml:"port"`
	Name     string `json:"name" yaml:"name"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	// Params are extra driver parameters appended to a built DSN.
	Params map[string]string `json:"params" yaml:"params"`

	// Table is the destination table, optionally schema-qualified.
	Table string `json:"table" yaml:"table"`

	// SkipLoadedDigest skips a run whose input digest is already in the table.
	SkipLoadedDigest bool `json:"skip_loaded_digest" yaml:"skip_loaded_digest"`

	// Lock takes the backend's session lock for the length of the load.
	Lock bool `json:"lock" yaml:"lock"`
}

// RuntimeConfig controls batching and run-level behaviour.
type RuntimeConfig struct {
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// SkippedRowsPath, when set, receives every skipped row as CSV.
	SkippedRowsPath string `json:"skipped_rows_path" yaml:"skipped_rows_path"`

	// LockFile, when set, is flocked for the whole run.
	LockFile string `json:"lock_file" yaml:"lock_file"`

	// Retries and RetryDelay apply to a one-off run.
	Retries    int      `json:"retries" yaml:"retries"`
	RetryDelay Duration `json:"retry_delay" yaml:"retry_delay"`
}

// ScheduleConfig drives the schedule command.
type ScheduleConfig struct {
	// Spec is a cron expression or descriptor such as "@daily".
	Spec string `json:"spec" yaml:"spec"`
	// Every, when set, replaces Spec with a fixed interval.
	Every Duration `json:"every" yaml:"every"`
	// Retries is the number of extra tries after a failed run. Nil means 1.
	Retries    *int     `json:"retries" yaml:"retries"`
	RetryDelay Duration `json:"retry_delay" yaml:"retry_delay"`
	// Timezone for cron evaluation. Empty means local time.
	Timezone string `json:"timezone" yaml:"timezone"`
}

// RetryCount returns Retries or its default.
func (s ScheduleConfig) RetryCount() int {
	if s.Retries == nil {
		return DefaultScheduleRetries
	}
	return *s.Retries
}

// MetricsConfig selects a metrics backend.
type MetricsConfig struct {
	// Backend is "none", "pushgateway" or "datadog".
	Backend        string   `json:"backend" yaml:"backend"`
	PushgatewayURL string   `json:"pushgateway_url" yaml:"pushgateway_url"`
	DatadogAddr    string   `json:"datadog_addr" yaml:"datadog_addr"`
	Namespace      string   `json:"namespace" yaml:"namespace"`
	Tags           []string `json:"tags" yaml:"tags"`
}

// Duration is a time.Duration read from "5m"-style strings or a number of
// seconds.
type Duration struct{ time.Duration }

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		d.Duration = 0
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n float64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string or number: %s", b)
		}
		d.Duration = time.Duration(n * float64(time.Second))
		return nil
	}
	v, err := parseDuration(s)
	d.Duration = v
	return err
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := parseDuration(s)
	d.Duration = v
	return err
}

// Options is a free-form map read with typed getters that fall back to a
// default when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers arrive as float64,
// YAML integers as int.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// StringMap returns the string-valued entries of an object value for key.
// The result is empty, never nil.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		}
	}
	return res
}

// UnmarshalJSON makes a missing or null options object decode to an empty map.
func (o *Options) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	var tmp map[string]any
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}

func (o *Options) UnmarshalYAML(n *yaml.Node) error {
	var tmp map[string]any
	if err := n.Decode(&tmp); err != nil {
		return err
	}
	if tmp == nil {
		tmp = map[string]any{}
	}
	*o = Options(tmp)
	return nil
}
