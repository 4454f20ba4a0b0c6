package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joshuapare/vfscache/fcache/alloc"
)

var (
	stressArena    string
	stressMaxSize  string
	stressRounds   int
	stressSeed     uint64
	stressCheckGap int
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().StringVar(&stressArena, "arena-size", "64MiB", "Arena size")
	cmd.Flags().StringVar(&stressMaxSize, "max-size", "10MiB", "Largest allocation")
	cmd.Flags().IntVar(&stressRounds, "rounds", 4, "Allocate this many times the arena size in total")
	cmd.Flags().Uint64Var(&stressSeed, "seed", 1, "Random seed")
	cmd.Flags().IntVar(&stressCheckGap, "check-every", 64, "Verify freelist invariants every N operations (0 disables)")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stress",
		Short: "Stress the arena allocator with random allocations",
		Long: `The stress command allocates random sizes until it has allocated several
times the arena size, freeing a random outstanding buffer whenever the arena is
full. It verifies that outstanding buffers never overlap, that the freelists
stay consistent, and that freeing everything restores the full arena.

Example:
  fcachectl stress
  fcachectl stress --arena-size 16MiB --max-size 1MiB --rounds 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			capacity, err := parseSize(stressArena)
			if err != nil {
				return fmt.Errorf("invalid --arena-size: %w", err)
			}
			maxSize, err := parseSize(stressMaxSize)
			if err != nil {
				return fmt.Errorf("invalid --max-size: %w", err)
			}
			res, err := runStress(stressOptions{
				Capacity:   capacity,
				MaxSize:    maxSize,
				Rounds:     stressRounds,
				Seed:       stressSeed,
				CheckEvery: stressCheckGap,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, res)
			}
			printStressResult(out, res)
			return nil
		},
	}
}

type stressOptions struct {
	Capacity   int
	MaxSize    int
	Rounds     int
	Seed       uint64
	CheckEvery int
}

type stressResult struct {
	Allocations int         `json:"allocations"`
	Evictions   int         `json:"evictions"`
	Allocated   int         `json:"allocated_bytes"`
	PeakLive    int         `json:"peak_live"`
	Checks      int         `json:"checks"`
	Alloc       alloc.Stats `json:"alloc"`
}

type liveBuf struct {
	off, size int
}

// runStress drives an allocator the way a cache would: allocate until full,
// then evict something random and retry.
func runStress(opts stressOptions) (stressResult, error) {
	var res stressResult
	if opts.MaxSize <= 0 || opts.MaxSize > opts.Capacity {
		return res, errors.New("stress: max-size must be in (0, arena-size]")
	}

	a, err := alloc.New(opts.Capacity, nil)
	if err != nil {
		return res, err
	}
	defer func() { _ = a.Close() }()

	rng := rand.New(rand.NewPCG(opts.Seed, ^opts.Seed))
	var live []liveBuf
	ops := 0

	check := func() error {
		ops++
		if opts.CheckEvery <= 0 || ops%opts.CheckEvery != 0 {
			return nil
		}
		res.Checks++
		if err := a.Check(); err != nil {
			return err
		}
		return checkDisjoint(live, opts.Capacity)
	}

	for res.Allocated < opts.Rounds*opts.Capacity {
		size := 1 + rng.IntN(opts.MaxSize)
		for {
			off, err := a.Alloc(size)
			if err == nil {
				live = append(live, liveBuf{off, size})
				break
			}
			if !errors.Is(err, alloc.ErrNoSpace) {
				return res, err
			}
			if len(live) == 0 {
				return res, fmt.Errorf("stress: empty arena cannot satisfy %d bytes", size)
			}
			i := rng.IntN(len(live))
			if err := a.Free(live[i].off, live[i].size); err != nil {
				return res, err
			}
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
			res.Evictions++
			if err := check(); err != nil {
				return res, err
			}
		}
		res.Allocations++
		res.Allocated += size
		res.PeakLive = max(res.PeakLive, len(live))
		if err := check(); err != nil {
			return res, err
		}
	}

	if err := checkDisjoint(live, opts.Capacity); err != nil {
		return res, err
	}
	for _, b := range live {
		if err := a.Free(b.off, b.size); err != nil {
			return res, err
		}
	}
	if err := a.Check(); err != nil {
		return res, err
	}
	if free := a.FreeBytes(); free != opts.Capacity {
		return res, fmt.Errorf("stress: %d of %d bytes free after freeing everything", free, opts.Capacity)
	}
	if _, err := a.Alloc(opts.Capacity); err != nil {
		return res, fmt.Errorf("stress: full-arena allocation after freeing everything: %w", err)
	}

	res.Alloc = a.Stats()
	return res, nil
}

// checkDisjoint verifies that no two live buffers overlap.
func checkDisjoint(live []liveBuf, capacity int) error {
	sorted := append([]liveBuf(nil), live...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].off < sorted[j].off })
	prevEnd := 0
	for _, b := range sorted {
		if b.off < prevEnd {
			return fmt.Errorf("stress: buffer at %d overlaps the previous one ending at %d", b.off, prevEnd)
		}
		prevEnd = b.off + max(b.size, 1)
		if prevEnd > capacity {
			return fmt.Errorf("stress: buffer at %d runs past the arena", b.off)
		}
	}
	return nil
}

func printStressResult(out io.Writer, r stressResult) {
	printPairs(out, [][2]string{
		{"Allocations", strconv.Itoa(r.Allocations)},
		{"Allocated", bytesString(r.Allocated)},
		{"Evictions", strconv.Itoa(r.Evictions)},
		{"Peak live buffers", strconv.Itoa(r.PeakLive)},
		{"Invariant checks", strconv.Itoa(r.Checks)},
		{"Class fit", strconv.Itoa(r.Alloc.ClassFit)},
		{"Tail fit", strconv.Itoa(r.Alloc.TailFit)},
		{"Larger class fit", strconv.Itoa(r.Alloc.LargerClassFit)},
		{"Splits", strconv.Itoa(r.Alloc.Splits)},
		{"Tail returns", strconv.Itoa(r.Alloc.TailReturns)},
	})
	fmt.Fprintln(out, "OK: no overlap, full capacity restored")
}
