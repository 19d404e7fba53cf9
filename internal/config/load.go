package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultJob             = "customer-etl"
	DefaultStorageKind     = "postgres"
	DefaultTable           = "customers_data"
	DefaultBatchSize       = 500
	DefaultScheduleSpec    = "@daily"
	DefaultScheduleRetries = 1
	DefaultRetryDelay      = 5 * time.Minute
	DefaultMetricsBackend  = "none"
)

// DefaultSourcePaths are the input files used when a source is not configured.
var DefaultSourcePaths = map[string]string{
	"customers": "customer_data.csv",
	"orders":    "order_data.csv",
	"payments":  "payment_data.csv",
}

// Load reads a pipeline file, decoding YAML for .yaml/.yml and JSON otherwise,
// and applies defaults. Unknown fields are rejected.
func Load(path string) (Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	p, err := Decode(f, format)
	if err != nil {
		return Pipeline{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return p, nil
}

// Decode reads a pipeline in the given format ("json" or "yaml") and applies
// defaults.
func Decode(r io.Reader, format string) (Pipeline, error) {
	var p Pipeline
	switch format {
	case "json":
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Pipeline{}, err
		}
	case "yaml":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
			return Pipeline{}, err
		}
	default:
		return Pipeline{}, fmt.Errorf("unknown config format %q", format)
	}
	p.ApplyDefaults()
	return p, nil
}

// ApplyDefaults fills unset fields. It never overrides a configured value.
func (p *Pipeline) ApplyDefaults() {
	if strings.TrimSpace(p.Job) == "" {
		p.Job = DefaultJob
	}
	if p.Sources == nil {
		p.Sources = map[string]Source{}
	}
	for name, path := range DefaultSourcePaths {
		if _, ok := p.Sources[name]; !ok {
			p.Sources[name] = Source{Kind: "file", File: SourceFile{Path: path}}
		}
	}
	for name, s := range p.Sources {
		if s.Kind == "" {
			s.Kind = "file"
			p.Sources[name] = s
		}
	}
	if p.Parser.Kind == "" {
		p.Parser.Kind = "csv"
	}
	if p.Parser.Options == nil {
		p.Parser.Options = Options{}
	}
	if p.Storage.Kind == "" {
		p.Storage.Kind = DefaultStorageKind
	}
	if p.Storage.DB.Table == "" {
		p.Storage.DB.Table = DefaultTable
	}
	if p.Runtime.BatchSize == 0 {
		p.Runtime.BatchSize = DefaultBatchSize
	}
	if p.Schedule.Spec == "" && p.Schedule.Every.Duration == 0 {
		p.Schedule.Spec = DefaultScheduleSpec
	}
	if p.Schedule.RetryDelay.Duration == 0 {
		p.Schedule.RetryDelay.Duration = DefaultRetryDelay
	}
	if p.Metrics.Backend == "" {
		p.Metrics.Backend = DefaultMetricsBackend
	}
}

// Conn carries connection parts from flags, each seeded from an environment
// variable. Empty fields leave the pipeline file's value alone.
type Conn struct {
	Kind     string
	DSN      string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
}

// BindConn defines the connection flags on fs. Each flag's default is read
// through getenv so that explicit flags override the environment, which
// overrides the pipeline file.
func BindConn(fs *flag.FlagSet, getenv func(string) string) *Conn {
	c := &Conn{}
	fs.StringVar(&c.Kind, "db_driver", getenv("DB_DRIVER"), "Storage kind: postgres, mssql, mysql or sqlite (env DB_DRIVER)")
	fs.StringVar(&c.DSN, "dsn", getenv("DB_DSN"), "Full DSN; wins over the discrete parts (env DB_DSN)")
	fs.StringVar(&c.Host, "db_host", getenv("DB_HOST"), "DB host (env DB_HOST)")
	fs.StringVar(&c.Port, "db_port", getenv("DB_PORT"), "DB port (env DB_PORT)")
	fs.StringVar(&c.Name, "db_name", getenv("DB_NAME"), "DB name, or file path for sqlite (env DB_NAME)")
	fs.StringVar(&c.User, "db_user", getenv("DB_USER"), "DB user (env DB_USER)")
	fs.StringVar(&c.Password, "db_password", getenv("DB_PASSWORD"), "DB password (env DB_PASSWORD)")
	return c
}

// Apply copies the non-empty parts of c onto p.
func (c *Conn) Apply(p *Pipeline) {
	if c == nil {
		return
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&p.Storage.Kind, c.Kind)
	set(&p.Storage.DB.DSN, c.DSN)
	set(&p.Storage.DB.Host, c.Host)
	set(&p.Storage.DB.Port, c.Port)
	set(&p.Storage.DB.Name, c.Name)
	set(&p.Storage.DB.User, c.User)
	set(&p.Storage.DB.Password, c.Password)
}

// ResolveDSN returns the DSN to connect with: DB.DSN if set, else one built
// from the discrete parts for the storage kind.
func (p Pipeline) ResolveDSN() (string, error) {
	if p.Storage.DB.DSN != "" {
		return p.Storage.DB.DSN, nil
	}
	return BuildDSN(p.Storage.Kind, p.Storage.DB)
}

// BuildDSN renders a connection string for kind from db's discrete parts.
func BuildDSN(kind string, db DBConfig) (string, error) {
	switch kind {
	case "sqlite":
		if db.Name == "" {
			return "", fmt.Errorf("sqlite: db.name (database file) is required")
		}
		return db.Name, nil
	case "postgres", "mssql", "mysql":
	default:
		return "", fmt.Errorf("unknown storage kind %q", kind)
	}
	if db.Host == "" {
		return "", fmt.Errorf("%s: db.host is required when db.dsn is empty", kind)
	}

	switch kind {
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = db.User
		mc.Passwd = db.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(db.Host, portOr(db.Port, "3306"))
		mc.DBName = db.Name
		if len(db.Params) > 0 {
			mc.Params = db.Params
		}
		return mc.FormatDSN(), nil

	case "mssql":
		u := &url.URL{
			Scheme:   "sqlserver",
			Host:     net.JoinHostPort(db.Host, portOr(db.Port, "1433")),
			RawQuery: query(db.Params, "database", db.Name),
		}
		u.User = userinfo(db)
		return u.String(), nil
	}

	u := &url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(db.Host, portOr(db.Port, "5432")),
		Path:     "/" + db.Name,
		RawQuery: query(db.Params, "", ""),
	}
	u.User = userinfo(db)
	return u.String(), nil
}

func userinfo(db DBConfig) *url.Userinfo {
	switch {
	case db.User == "":
		return nil
	case db.Password == "":
		return url.User(db.User)
	}
	return url.UserPassword(db.User, db.Password)
}

func portOr(p, def string) string {
	if p == "" {
		return def
	}
	return p
}

// query encodes params, plus an optional extra pair, with keys sorted.
func query(params map[string]string, k, v string) string {
	q := url.Values{}
	for key, val := range params {
		q.Set(key, val)
	}
	if k != "" && v != "" {
		q.Set(k, v)
	}
	return q.Encode()
}
