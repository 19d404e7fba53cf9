package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"customeretl/internal/config"
	"customeretl/internal/datasource"
	"customeretl/internal/datasource/file"
	"customeretl/internal/domain"
	"customeretl/internal/extract"
	"customeretl/internal/metrics"
	"customeretl/internal/metrics/datadog"
	"customeretl/internal/metrics/prompush"
	csvparser "customeretl/internal/parser/csv"
	"customeretl/internal/pipeline"
	"customeretl/internal/skiplog"
	"customeretl/internal/transformer"
)

// buildPipeline turns a validated config into a runnable Pipeline. The
// returned close func releases the skipped-rows file.
func buildPipeline(p config.Pipeline) (*pipeline.Pipeline, func(), error) {
	dsn, err := p.ResolveDSN()
	if err != nil {
		return nil, nil, err
	}

	var loc *time.Location
	if p.Transform.Timezone != "" {
		if loc, err = loadLocation(p.Transform.Timezone); err != nil {
			return nil, nil, err
		}
	}

	skips, err := skiplog.New(p.Runtime.SkippedRowsPath)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if skips.Total() > 0 {
			log.Printf("skipped: %s", skips)
		}
		if err := skips.Close(); err != nil {
			log.Printf("skiplog: close: %v", err)
		}
	}

	sources := make(map[string]datasource.Source, len(domain.SourceNames))
	columns := make(map[string][]string, len(domain.SourceNames))
	for _, name := range domain.SourceNames {
		src := p.Sources[name]
		sources[name] = file.NewLocal(src.File.Path)
		columns[name] = domain.RequiredColumns(name)
	}

	opts := p.Parser.Options
	return &pipeline.Pipeline{
		Job: p.Job,
		Extractor: &extract.Extractor{
			Sources: sources,
			Columns: columns,
			Skips:   skips,
			Parser: csvparser.Options{
				Comma:            opts.Rune("comma", ','),
				Encoding:         opts.String("encoding", ""),
				TrimSpace:        opts.Bool("trim_space", true),
				LazyQuotes:       opts.Bool("lazy_quotes", false),
				NormalizeHeaders: opts.Bool("normalize_headers", false),
				HeaderMap:        opts.StringMap("header_map"),
			},
		},
		Transformer: &transformer.Transformer{
			DateLayouts: p.Transform.DateLayouts,
			Location:    loc,
			Skips:       skips,
		},
		Store: pipeline.Store{
			Kind:             p.Storage.Kind,
			DSN:              dsn,
			Table:            p.Storage.DB.Table,
			BatchSize:        p.Runtime.BatchSize,
			SkipLoadedDigest: p.Storage.DB.SkipLoadedDigest,
			Lock:             p.Storage.DB.Lock,
		},
		LockFile: p.Runtime.LockFile,
	}, closeFn, nil
}

// runner builds a fresh Pipeline for every run, so each run gets its own
// skipped-rows file, and pushes metrics when the run ends.
func (a *app) runner(p config.Pipeline) func(context.Context) (pipeline.Summary, error) {
	return func(ctx context.Context) (pipeline.Summary, error) {
		pl, closeFn, err := buildPipeline(p)
		if err != nil {
			return pipeline.Summary{}, err
		}
		defer closeFn()
		defer func() {
			if err := metrics.Flush(); err != nil {
				log.Printf("metrics: flush error: %v", err)
			}
		}()
		return pl.Run(ctx)
	}
}

func loadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("time zone %q: %w", name, err)
	}
	return loc, nil
}

// setupMetrics installs the metrics backend chosen by flag, then env, then the
// pipeline file. It returns a func that releases the backend.
func (a *app) setupMetrics(p config.Pipeline) func() {
	backendName := a.metricsBackend
	if backendName == "" {
		backendName = a.getenv("METRICS_BACKEND")
	}
	if backendName == "" {
		backendName = p.Metrics.Backend
	}

	switch backendName {
	case "pushgateway":
		gwURL := a.pushgatewayURL
		if gwURL == "" {
			gwURL = a.getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = p.Metrics.PushgatewayURL
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(p.Job, gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return func() {}
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", gwURL, backendName, p.Job)
		metrics.SetBackend(b)
		return func() {}

	case "datadog":
		addr := p.Metrics.DatadogAddr
		if addr == "" {
			addr = a.getenv("DD_DOGSTATSD_URL")
		}
		if addr == "" {
			addr = "127.0.0.1:8125"
		}
		ns := p.Metrics.Namespace
		if ns == "" {
			ns = "customer_etl."
		}
		b, err := datadog.NewBackend(datadog.Config{Addr: addr, Namespace: ns, GlobalTags: p.Metrics.Tags})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		log.Printf("metrics: addr=%v, backend=%v, namespace=%v", addr, backendName, ns)
		metrics.SetBackend(b)
		return func() {
			metrics.SetBackend(metrics.Nop())
			if err := b.Close(); err != nil {
				log.Printf("metrics: datadog close: %v", err)
			}
		}

	case "", "none":
		if a.verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
	return func() {}
}
