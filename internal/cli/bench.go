package cli

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kartikbazzad/bunbase/docasync"
	"github.com/kartikbazzad/bunbase/docasync/engine"
)

type benchOptions struct {
	Databases int
	Ops       int // per database
	ReadRatio float64
	Timeout   time.Duration
	Keep      bool
}

type benchResult struct {
	Ops       int
	Delivered int64
	Errors    int64
	Duration  time.Duration
	Latencies []time.Duration
}

func (r *benchResult) percentile(p float64) time.Duration {
	if len(r.Latencies) == 0 {
		return 0
	}
	i := int(float64(len(r.Latencies)) * p)
	if i >= len(r.Latencies) {
		i = len(r.Latencies) - 1
	}
	return r.Latencies[i]
}

func (r *benchResult) Print(w io.Writer) {
	fmt.Fprintln(w, "Results:")
	fmt.Fprintf(w, "   Duration:    %v\n", r.Duration)
	fmt.Fprintf(w, "   Throughput:  %.2f ops/sec\n", float64(r.Ops)/r.Duration.Seconds())
	fmt.Fprintf(w, "   Delivered:   %d/%d\n", r.Delivered, r.Ops)
	fmt.Fprintf(w, "   P50 Latency: %v\n", r.percentile(0.50))
	fmt.Fprintf(w, "   P99 Latency: %v\n", r.percentile(0.99))
	fmt.Fprintf(w, "   Errors:      %d\n", r.Errors)
}

var benchOpts = benchOptions{}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Fire concurrent operations and verify exactly-once delivery",
	Long: `Open several databases, submit a mix of saves and reads against each of
them without waiting, and check that every operation delivered exactly
one outcome. Latency is measured from submission to delivery.`,
	RunE: runBenchCmd,
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().IntVar(&benchOpts.Databases, "dbs", 4, "number of databases")
	benchCmd.Flags().IntVarP(&benchOpts.Ops, "ops", "n", 1000, "operations per database")
	benchCmd.Flags().Float64Var(&benchOpts.ReadRatio, "ratio", 0.5, "read ratio (0.0=write only, 1.0=read only)")
	benchCmd.Flags().DurationVar(&benchOpts.Timeout, "timeout", time.Minute, "maximum time to wait for all outcomes")
	benchCmd.Flags().BoolVar(&benchOpts.Keep, "keep", false, "keep the bench databases instead of deleting them")
}

func runBenchCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	rt, err := setup(cfg)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	client := rt.newClient()
	defer client.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Starting docasync bench\n   Engine: %s\n   Workers: %d\n   Databases: %d\n   Ops/db: %d\n   Read Ratio: %.2f\n",
		cfg.Engine.Type, rt.pool.Cap(), benchOpts.Databases, benchOpts.Ops, benchOpts.ReadRatio)

	res, err := runBench(cmd.Context(), client, cfg.OpenConfig(), benchOpts)
	if res != nil {
		res.Print(out)
	}
	return err
}

// runBench drives the load and returns an error if any operation was not
// delivered exactly once.
func runBench(ctx context.Context, client *docasync.Client, cfg engine.Config, opts benchOptions) (*benchResult, error) {
	if opts.Databases <= 0 || opts.Ops <= 0 {
		return nil, fmt.Errorf("dbs and ops must be positive")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}

	res := &benchResult{Ops: opts.Databases * opts.Ops}
	var (
		delivered atomic.Int64
		failed    atomic.Int64
		pending   sync.WaitGroup
		latMu     sync.Mutex
	)
	record := func(token any) {
		start, _ := token.(time.Time)
		latMu.Lock()
		res.Latencies = append(res.Latencies, time.Since(start))
		latMu.Unlock()
		delivered.Add(1)
		pending.Done()
	}
	onError := func(string, any) { failed.Add(1) }
	saveSink := docasync.SinkFuncs[struct{}]{
		Complete: func(_ struct{}, token any) { record(token) },
		Error:    func(msg string, token any) { onError(msg, token); record(token) },
	}
	getSink := docasync.SinkFuncs[*engine.Document]{
		Complete: func(_ *engine.Document, token any) { record(token) },
		Error:    func(msg string, token any) { onError(msg, token); record(token) },
	}

	dbs := make([]*docasync.Database, opts.Databases)
	start := time.Now()
	pending.Add(res.Ops)

	g, gctx := errgroup.WithContext(ctx)
	for i := range dbs {
		g.Go(func() error {
			name := fmt.Sprintf("bench_%d", i)
			db, err := client.Open(name, cfg, nil, nil).Await(gctx)
			if err != nil {
				pending.Add(-opts.Ops)
				return fmt.Errorf("open %s: %w", name, err)
			}
			dbs[i] = db

			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
			for j := 0; j < opts.Ops; j++ {
				if j > 0 && r.Float64() < opts.ReadRatio {
					db.GetDocument(fmt.Sprintf("doc-%d", r.Intn(j)), getSink, time.Now())
					continue
				}
				doc := engine.NewDocument(fmt.Sprintf("doc-%d", j)).
					Set("db", i).
					Set("iter", j).
					Set("data", "some useful payload")
				db.Save(doc, saveSink, time.Now())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(opts.Timeout):
		return nil, fmt.Errorf("timed out: %d of %d outcomes delivered", delivered.Load(), res.Ops)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	res.Duration = time.Since(start)
	res.Delivered = delivered.Load()
	res.Errors = failed.Load()
	sort.Slice(res.Latencies, func(a, b int) bool { return res.Latencies[a] < res.Latencies[b] })

	if !opts.Keep {
		for _, db := range dbs {
			if _, err := db.Delete(nil, nil).Await(ctx); err != nil {
				return res, fmt.Errorf("delete %s: %w", db.Name(), err)
			}
		}
	}
	if res.Delivered != int64(res.Ops) {
		return res, fmt.Errorf("delivered %d outcomes for %d operations", res.Delivered, res.Ops)
	}
	return res, nil
}
