package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/joshuapare/vfscache/fcache"
	"github.com/joshuapare/vfscache/fcache/metrics"
)

var (
	simFiles    int
	simReads    int
	simMinSize  string
	simMaxSize  string
	simSkew     float64
	simArchived float64
	simSeed     uint64
	simArena    string
	simMetrics  bool
	simNoFlush  bool
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().IntVar(&simFiles, "files", 200, "Number of distinct files")
	cmd.Flags().IntVar(&simReads, "reads", 5000, "Number of file reads")
	cmd.Flags().StringVar(&simMinSize, "min-size", "1KiB", "Smallest file size")
	cmd.Flags().StringVar(&simMaxSize, "max-size", "512KiB", "Largest file size")
	cmd.Flags().Float64Var(&simSkew, "skew", 1.2, "Zipf exponent of file popularity (> 1)")
	cmd.Flags().Float64Var(&simArchived, "archived", 0.5, "Fraction of files read from the archive")
	cmd.Flags().Uint64Var(&simSeed, "seed", 1, "Random seed")
	cmd.Flags().StringVar(&simArena, "arena-size", "", "Override the configured arena size")
	cmd.Flags().BoolVar(&simMetrics, "metrics", false, "Also print Prometheus counters")
	cmd.Flags().BoolVar(&simNoFlush, "no-flush", false, "Skip the final cache flush")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Replay a synthetic read workload through the cache",
		Long: `The simulate command reads files of a synthetic file system through the
cache. File popularity follows a Zipf distribution and a share of the files
lives inside an archive, so reads also go through the block ring. Every buffer
handed out is checked against the expected file content.

Example:
  fcachectl simulate
  fcachectl simulate --files 1000 --reads 100000 --arena-size 16MiB
  fcachectl simulate --json --metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.OutOrStdout())
		},
	}
}

type simulateReport struct {
	Config   fcache.Config      `json:"config"`
	Workload workloadResult     `json:"workload"`
	Stats    fcache.Stats       `json:"stats"`
	Flushed  int                `json:"flushed"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

func runSimulate(out io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if simArena != "" {
		n, err := parseSize(simArena)
		if err != nil {
			return fmt.Errorf("invalid --arena-size: %w", err)
		}
		cfg.ArenaSize = n
	}
	minSize, err := parseSize(simMinSize)
	if err != nil {
		return fmt.Errorf("invalid --min-size: %w", err)
	}
	maxSize, err := parseSize(simMaxSize)
	if err != nil {
		return fmt.Errorf("invalid --max-size: %w", err)
	}

	reg := prometheus.NewRegistry()
	m, err := fcache.New(cfg, metrics.New(reg))
	if err != nil {
		return err
	}
	defer func() { _ = m.Shutdown() }()

	printVerbose(out, "Arena: %s, block size: %s\n",
		bytesString(cfg.ArenaSize), bytesString(cfg.BlockSize))

	w, err := newWorkload(m, workloadOptions{
		Files:    simFiles,
		Reads:    simReads,
		MinSize:  minSize,
		MaxSize:  maxSize,
		Skew:     simSkew,
		Archived: simArchived,
		Seed:     simSeed,
	})
	if err != nil {
		return err
	}

	res, err := w.run()
	if err != nil {
		return fmt.Errorf("simulation failed after %d reads: %w", res.Reads, err)
	}

	report := simulateReport{Config: m.Config(), Workload: res, Stats: m.Stats()}
	if !simNoFlush {
		report.Flushed = m.Flush()
	}
	if simMetrics {
		if report.Metrics, err = gatherCounters(reg); err != nil {
			return err
		}
	}

	if jsonOut {
		return printJSON(out, report)
	}
	printSimulateReport(out, report)
	return nil
}

// gatherCounters flattens counter metrics into "name{label=value}" keys.
func gatherCounters(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			c := metric.GetCounter()
			if c == nil {
				continue
			}
			key := mf.GetName()
			if labels := metric.GetLabel(); len(labels) > 0 {
				parts := make([]string, 0, len(labels))
				for _, l := range labels {
					parts = append(parts, l.GetName()+"="+l.GetValue())
				}
				key += "{" + strings.Join(parts, ",") + "}"
			}
			out[key] = c.GetValue()
		}
	}
	return out, nil
}

func printSimulateReport(out io.Writer, r simulateReport) {
	hitRate := 0.0
	if r.Workload.Reads > 0 {
		hitRate = float64(r.Workload.Hits) / float64(r.Workload.Reads) * 100
	}
	s := r.Stats

	fmt.Fprintln(out, "Workload")
	printPairs(out, [][2]string{
		{"Reads", strconv.Itoa(r.Workload.Reads)},
		{"Cache hits", fmt.Sprintf("%d (%.1f%%)", r.Workload.Hits, hitRate)},
		{"Cache misses", strconv.Itoa(r.Workload.Misses)},
		{"Bytes read", bytesString(r.Workload.BytesRead)},
		{"Block reads", strconv.Itoa(r.Workload.BlockReads)},
		{"Block hits", strconv.Itoa(r.Workload.BlockHits)},
		{"Failed allocations", strconv.Itoa(r.Workload.AllocFailed)},
	})

	fmt.Fprintln(out, "\nCache")
	printPairs(out, [][2]string{
		{"Arena", bytesString(s.ArenaCapacity)},
		{"Committed", bytesString(s.ArenaCommitted)},
		{"Free", bytesString(s.ArenaFree)},
		{"Cached files", strconv.Itoa(s.CachedFiles)},
		{"Cached bytes", bytesString(s.CachedBytes)},
		{"Evictions", strconv.Itoa(s.Evictions)},
		{"Frees", strconv.Itoa(s.Frees)},
		{"Late releases", strconv.Itoa(s.Extant.LateReleases)},
		{"Flushed", strconv.Itoa(r.Flushed)},
	})

	fmt.Fprintln(out, "\nAllocator")
	printPairs(out, [][2]string{
		{"Alloc calls", strconv.Itoa(s.Alloc.AllocCalls)},
		{"Class fit", strconv.Itoa(s.Alloc.ClassFit)},
		{"Tail fit", strconv.Itoa(s.Alloc.TailFit)},
		{"Larger class fit", strconv.Itoa(s.Alloc.LargerClassFit)},
		{"Failures", strconv.Itoa(s.Alloc.Failures)},
		{"Coalesced backward", strconv.Itoa(s.Alloc.CoalesceBackward)},
		{"Coalesced forward", strconv.Itoa(s.Alloc.CoalesceForward)},
		{"Tail returns", strconv.Itoa(s.Alloc.TailReturns)},
	})

	if len(r.Metrics) > 0 {
		names := make([]string, 0, len(r.Metrics))
		for name := range r.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		rows := make([][]string, 0, len(names))
		for _, name := range names {
			rows = append(rows, []string{name, strconv.FormatFloat(r.Metrics[name], 'f', -1, 64)})
		}
		fmt.Fprintln(out, "\nMetrics")
		printTable(out, []string{"Metric", "Value"}, rows)
	}
}
