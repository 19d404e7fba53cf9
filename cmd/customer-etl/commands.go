package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"customeretl/internal/config"
	"customeretl/internal/pipeline"
	"customeretl/internal/schedule"
)

// app holds the flag values shared by every subcommand.
type app struct {
	getenv         func(string) string
	cfgPath        string
	metricsBackend string
	pushgatewayURL string
	verbose        bool
	conn           *config.Conn
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	a := &app{getenv: getenv}
	root := &cobra.Command{
		Use:           "customer-etl",
		Short:         "Join customers, orders and payments CSVs into a customer fact table",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "configs/pipeline.json", "pipeline config path (.json, .yaml or .yml)")
	pf.StringVar(&a.metricsBackend, "metrics-backend", "", "metrics backend: none, pushgateway or datadog (env METRICS_BACKEND, else the pipeline file)")
	pf.StringVar(&a.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL, else the pipeline file)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose logs")

	conn := flag.NewFlagSet("conn", flag.ContinueOnError)
	a.conn = config.BindConn(conn, getenv)
	pf.AddGoFlagSet(conn)

	root.AddCommand(a.runCmd(), a.validateCmd(), a.describeCmd(), a.scheduleCmd())
	return root
}

// loadConfig reads the pipeline file, applies connection overrides and
// prints every lint issue to w. Error-level issues fail the load.
func (a *app) loadConfig(w io.Writer) (config.Pipeline, error) {
	p, err := config.Load(a.cfgPath)
	if err != nil {
		return config.Pipeline{}, err
	}
	a.conn.Apply(&p)

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return config.Pipeline{}, fmt.Errorf("configuration is invalid: %s", a.cfgPath)
	}
	if a.verbose {
		log.Printf("pipeline: job=%s parser=%s storage=%s table=%s batch=%d",
			p.Job, p.Parser.Kind, p.Storage.Kind, p.Storage.DB.Table, p.Runtime.BatchSize)
	}
	return p, nil
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run extract, transform and load once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			closeMetrics := a.setupMetrics(p)
			defer closeMetrics()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			policy := pipeline.RetryFromRetries(p.Runtime.Retries, p.Runtime.RetryDelay.Duration)
			sum, err := pipeline.RunWithRetry(ctx, policy, a.runner(p))
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", sum)
			return err
		},
	}
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Lint the pipeline config and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.loadConfig(cmd.ErrOrStderr()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: %s\n", a.cfgPath)
			return nil
		},
	}
}

// description is the JSON printed by describe. External schedulers read it
// to recreate the step graph and trigger policy.
type description struct {
	Name     string          `json:"name"`
	Steps    []stepView      `json:"steps"`
	Edges    []pipeline.Edge `json:"edges"`
	Schedule scheduleView    `json:"schedule"`
}

type stepView struct {
	Name      string   `json:"name"`
	DependsOn []string `json:"depends_on,omitempty"`
}

type scheduleView struct {
	Spec       string `json:"spec,omitempty"`
	Every      string `json:"every,omitempty"`
	Retries    int    `json:"retries"`
	RetryDelay string `json:"retry_delay"`
}

func (a *app) describeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the step graph and schedule as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			pl := &pipeline.Pipeline{Job: p.Job}
			desc := pl.Descriptor("", &pipeline.Summary{})
			if _, err := desc.Order(); err != nil {
				return err
			}

			d := description{Name: desc.Name, Edges: desc.Edges()}
			for _, s := range desc.Steps {
				d.Steps = append(d.Steps, stepView{Name: s.Name, DependsOn: s.DependsOn})
			}
			d.Schedule = scheduleView{Spec: p.Schedule.Spec, Retries: p.Schedule.RetryCount(), RetryDelay: p.Schedule.RetryDelay.String()}
			if p.Schedule.Every.Duration > 0 {
				d.Schedule = scheduleView{Every: p.Schedule.Every.String(), Retries: d.Schedule.Retries, RetryDelay: d.Schedule.RetryDelay}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
}

func (a *app) scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run on the configured schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			closeMetrics := a.setupMetrics(p)
			defer closeMetrics()

			cfg := schedule.Config{
				Spec:  p.Schedule.Spec,
				Every: p.Schedule.Every.Duration,
				Retry: pipeline.RetryFromRetries(p.Schedule.RetryCount(), p.Schedule.RetryDelay.Duration),
			}
			if p.Schedule.Timezone != "" {
				if cfg.Location, err = loadLocation(p.Schedule.Timezone); err != nil {
					return err
				}
			}
			s, err := schedule.New(cfg, a.runner(p))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			s.Run(ctx)
			return nil
		},
	}
}
