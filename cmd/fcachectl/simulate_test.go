package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/vfscache/fcache"
)

func newSimManager(t *testing.T, arena int) *fcache.Manager {
	t.Helper()
	cfg := fcache.DefaultConfig()
	cfg.ArenaSize = arena
	m, err := fcache.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown() })
	return m
}

func TestWorkload_VerifiesContent(t *testing.T) {
	tests := []struct {
		name     string
		archived float64
	}{
		{"loose files", 0},
		{"archived files", 1},
		{"mixed", 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newSimManager(t, 1<<20)
			w, err := newWorkload(m, workloadOptions{
				Files:    60,
				Reads:    3000,
				MinSize:  0,
				MaxSize:  64 << 10,
				Skew:     1.3,
				Archived: tt.archived,
				Seed:     5,
			})
			require.NoError(t, err)

			res, err := w.run()
			require.NoError(t, err)
			assert.Equal(t, 3000, res.Reads)
			assert.Equal(t, res.Reads, res.Hits+res.Misses)
			assert.Positive(t, res.Hits)

			st := m.Stats()
			assert.Positive(t, st.Evictions, "the working set is larger than the arena")
			assert.Zero(t, st.Outstanding, "every buffer was released")
			if tt.archived == 1 {
				assert.Positive(t, res.BlockReads)
			}

			m.Flush()
			assert.Equal(t, st.ArenaCapacity, m.Stats().ArenaFree)
		})
	}
}

func TestWorkload_SharedBlocksReadOnce(t *testing.T) {
	m := newSimManager(t, 1<<20)
	w, err := newWorkload(m, workloadOptions{
		Files: 8, Reads: 0, MinSize: 1000, MaxSize: 1000, Skew: 2, Archived: 1, Seed: 1,
	})
	require.NoError(t, err)

	// eight 1000 byte files fit in the first archive block
	var res workloadResult
	for _, f := range w.files {
		require.NoError(t, w.read(f, &res))
	}
	assert.Equal(t, 1, res.BlockReads)
	assert.Equal(t, 7, res.BlockHits)
}

func TestNewWorkload_BadOptions(t *testing.T) {
	m := newSimManager(t, 1<<20)
	_, err := newWorkload(m, workloadOptions{Files: 0, Skew: 2})
	require.Error(t, err)
	_, err = newWorkload(m, workloadOptions{Files: 1, MinSize: 10, MaxSize: 5, Skew: 2})
	require.Error(t, err)
	_, err = newWorkload(m, workloadOptions{Files: 1, Skew: 1})
	require.Error(t, err)
}

// setSimulateFlags overrides the simulate flags for one test.
func setSimulateFlags(t *testing.T) {
	t.Helper()
	isolateConfig(t)

	files, reads, minSize, maxSize := simFiles, simReads, simMinSize, simMaxSize
	skew, archived, seed := simSkew, simArchived, simSeed
	arena, withMetrics, noFlush, asJSON := simArena, simMetrics, simNoFlush, jsonOut
	t.Cleanup(func() {
		simFiles, simReads, simMinSize, simMaxSize = files, reads, minSize, maxSize
		simSkew, simArchived, simSeed = skew, archived, seed
		simArena, simMetrics, simNoFlush, jsonOut = arena, withMetrics, noFlush, asJSON
	})

	simFiles, simReads = 40, 500
	simMinSize, simMaxSize = "1KiB", "32KiB"
	simSkew, simArchived, simSeed = 1.2, 0.5, 3
	simArena = "512KiB"
	simMetrics, simNoFlush = true, false
}

func TestRunSimulate_JSON(t *testing.T) {
	setSimulateFlags(t)
	jsonOut = true

	var out bytes.Buffer
	require.NoError(t, runSimulate(&out))

	var report struct {
		Workload workloadResult     `json:"workload"`
		Flushed  int                `json:"flushed"`
		Metrics  map[string]float64 `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, 500, report.Workload.Reads)
	assert.Equal(t, float64(report.Workload.Hits), report.Metrics["fcache_cache_accesses_total{result=hit}"])
	assert.Positive(t, report.Metrics["fcache_buf_allocs_total"])
}

func TestRunSimulate_Table(t *testing.T) {
	setSimulateFlags(t)
	jsonOut = false

	var out bytes.Buffer
	require.NoError(t, runSimulate(&out))
	for _, want := range []string{"Workload", "Cache", "Allocator", "Metrics", "fcache_evictions_total"} {
		assert.Contains(t, out.String(), want)
	}
}

func TestRunSimulate_BadArenaFlag(t *testing.T) {
	setSimulateFlags(t)
	simArena = "huge"
	require.Error(t, runSimulate(&bytes.Buffer{}))
}
