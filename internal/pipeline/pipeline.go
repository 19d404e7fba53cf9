package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"customeretl/internal/domain"
	"customeretl/internal/extract"
	"customeretl/internal/loader"
	"customeretl/internal/metrics"
	"customeretl/internal/runlock"
	"customeretl/internal/storage"
	"customeretl/internal/transformer"
)

// Step names of the customer fact pipeline.
const (
	StepExtract   = "extract"
	StepTransform = "transform"
	StepLoad      = "load"
)

// SuccessMessage is logged once a run has loaded its rows.
const SuccessMessage = "data loaded successfully"

// newRepository is a test seam over storage.New.
var newRepository = storage.New

// Store describes the destination of the load step.
type Store struct {
	Kind      string
	DSN       string
	Table     string
	BatchSize int
	// SkipLoadedDigest skips the load when rows from identical input are
	// already present.
	SkipLoadedDigest bool
	// Lock takes the backend's session lock, when it has one, for the length
	// of the load.
	Lock bool
}

// Pipeline is the customer fact ETL: extract the three sources, join them and
// append the result to Store.
type Pipeline struct {
	Job         string
	Extractor   *extract.Extractor
	Transformer *transformer.Transformer
	Store       Store
	// LockFile, when set, is flocked for the whole run.
	LockFile string
}

// Summary reports one run.
type Summary struct {
	RunID     string
	Digest    string
	Sources   map[string]extract.SourceStats
	Transform transformer.Stats
	Load      loader.Result
	Steps     map[string]time.Duration
	Started   time.Time
	Elapsed   time.Duration
}

// Skipped is the number of rows dropped as malformed, whether by the reader
// or while typing values.
func (s Summary) Skipped() int {
	n := s.Transform.Skipped
	for _, st := range s.Sources {
		n += st.Skipped
	}
	return n
}

// Unmatched is the number of well-formed orders and payments the joins
// dropped.
func (s Summary) Unmatched() int {
	return s.Transform.OrdersWithoutCustomer + s.Transform.PaymentsWithoutMatch
}

func (s Summary) String() string {
	names := make([]string, 0, len(s.Sources))
	for n := range s.Sources {
		names = append(names, n)
	}
	sort.Strings(names)
	var read []string
	for _, n := range names {
		read = append(read, fmt.Sprintf("%s=%d", n, s.Sources[n].Rows+s.Sources[n].Skipped))
	}
	return fmt.Sprintf("run=%s digest=%s read[%s] skipped=%d unmatched=%d output=%d inserted=%d batches=%d failed=%d elapsed=%s",
		s.RunID, s.Digest, strings.Join(read, " "), s.Skipped(), s.Unmatched(), s.Transform.Output,
		s.Load.Inserted, s.Load.Batches, s.Load.Failed, s.Elapsed.Round(time.Millisecond))
}

// Descriptor returns the run's step graph. Steps record their results into
// sum as they complete; building the descriptor runs nothing.
func (p *Pipeline) Descriptor(runID string, sum *Summary) Descriptor {
	return Descriptor{
		Name: p.job(),
		Steps: []Step{
			{Name: StepExtract, Run: func(ctx context.Context, _ any) (any, error) {
				res, err := p.Extractor.Extract(ctx)
				if err != nil {
					return nil, err
				}
				sum.Digest, sum.Sources = res.Digest, res.Stats
				p.recordSources(res)
				return res, nil
			}},
			{Name: StepTransform, DependsOn: []string{StepExtract}, Run: func(_ context.Context, in any) (any, error) {
				res, ok := in.(*extract.Result)
				if !ok {
					return nil, fmt.Errorf("transform: unexpected input %T", in)
				}
				out, err := p.Transformer.Transform(res.Tables)
				if err != nil {
					return nil, err
				}
				sum.Transform = out.Stats
				p.recordTransform(out.Stats)
				return loadInput{rows: out.Rows, digest: res.Digest}, nil
			}},
			{Name: StepLoad, DependsOn: []string{StepTransform}, Run: func(ctx context.Context, in any) (any, error) {
				li, ok := in.(loadInput)
				if !ok {
					return nil, fmt.Errorf("load: unexpected input %T", in)
				}
				res, err := p.load(ctx, li.rows, domain.LoadTags{RunID: runID, SourceDigest: li.digest})
				sum.Load = res
				return res, err
			}},
		},
	}
}

type loadInput struct {
	rows   []domain.CustomerFactRow
	digest string
}

// Run executes one extract, transform and load cycle under a fresh run id.
// Rows committed before a load failure stay committed; the returned Summary
// reports them.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: uuid.NewString(), Started: time.Now(), Steps: map[string]time.Duration{}}

	if p.LockFile != "" {
		release, err := runlock.File(p.LockFile)
		if err != nil {
			return sum, fmt.Errorf("pipeline: %w", err)
		}
		defer release()
	}

	desc := p.Descriptor(sum.RunID, &sum)
	for i, s := range desc.Steps {
		run := s.Run
		name := s.Name
		desc.Steps[i].Run = func(ctx context.Context, in any) (any, error) {
			start := time.Now()
			defer func() { sum.Steps[name] = time.Since(start) }()
			return run(ctx, in)
		}
	}

	log.Printf("pipeline: %s: run=%s starting", desc.Name, sum.RunID)
	_, err := Execute(ctx, desc)
	sum.Elapsed = time.Since(sum.Started)
	log.Printf("summary: %s", sum)
	if err != nil {
		return sum, fmt.Errorf("pipeline %s run %s: %w", desc.Name, sum.RunID, err)
	}
	log.Printf("pipeline: %s: run=%s %s", desc.Name, sum.RunID, SuccessMessage)
	return sum, nil
}

func (p *Pipeline) load(ctx context.Context, rows []domain.CustomerFactRow, tags domain.LoadTags) (loader.Result, error) {
	repo, err := newRepository(ctx, storage.Config{
		Kind:    p.Store.Kind,
		DSN:     p.Store.DSN,
		Table:   p.Store.Table,
		Columns: domain.FactColumns,
	})
	if err != nil {
		return loader.Result{}, err
	}
	defer repo.Close()

	if p.Store.Lock {
		if lk, ok := repo.(storage.Locker); ok {
			release, err := lk.TryLock(ctx, p.Store.Table)
			if err != nil {
				return loader.Result{}, fmt.Errorf("lock %s: %w", p.Store.Table, err)
			}
			defer release()
		} else {
			log.Printf("pipeline: storage kind %s has no session lock; loading unlocked", p.Store.Kind)
		}
	}

	ld := &loader.Loader{
		Repo:             repo,
		Kind:             p.Store.Kind,
		Table:            p.Store.Table,
		BatchSize:        p.Store.BatchSize,
		SkipLoadedDigest: p.Store.SkipLoadedDigest,
		Job:              p.job(),
	}
	if err := ld.EnsureTable(ctx); err != nil {
		return loader.Result{}, err
	}
	res, err := ld.Load(ctx, rows, tags)
	metrics.RecordRow(p.job(), "inserted", res.Inserted)
	return res, err
}

func (p *Pipeline) recordSources(res *extract.Result) {
	for _, st := range res.Stats {
		metrics.RecordRow(p.job(), "read", int64(st.Rows+st.Skipped))
	}
	metrics.RecordRow(p.job(), "skipped", int64(res.Skipped()))
}

func (p *Pipeline) recordTransform(st transformer.Stats) {
	metrics.RecordRow(p.job(), "skipped", int64(st.Skipped))
	metrics.RecordRow(p.job(), "unmatched", int64(st.OrdersWithoutCustomer+st.PaymentsWithoutMatch))
	metrics.RecordRow(p.job(), "output", int64(st.Output))
}

func (p *Pipeline) job() string {
	if p.Job == "" {
		return "customer-etl"
	}
	return p.Job
}

// IsLocked reports whether err came from another run holding the lock.
func IsLocked(err error) bool { return errors.Is(err, runlock.ErrLocked) }
