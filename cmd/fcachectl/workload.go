package main

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/joshuapare/vfscache/fcache"
	"github.com/joshuapare/vfscache/fcache/block"
	"github.com/joshuapare/vfscache/fcache/ident"
)

// workloadOptions describes a synthetic read workload.
type workloadOptions struct {
	Files    int     // distinct files
	Reads    int     // total file reads
	MinSize  int     // smallest file
	MaxSize  int     // largest file
	Skew     float64 // Zipf exponent (> 1); larger means fewer hot files
	Archived float64 // fraction of files stored inside the archive
	Seed     uint64
}

// simFile is one file of the synthetic file system.
type simFile struct {
	id       ident.ID
	size     int
	archived bool
	archOff  int64 // offset inside the archive when archived
}

// workloadResult summarizes a workload run.
type workloadResult struct {
	Reads       int `json:"reads"`
	Hits        int `json:"hits"`
	Misses      int `json:"misses"`
	BytesRead   int `json:"bytes_read"`
	BlockReads  int `json:"block_reads"`
	BlockHits   int `json:"block_hits"`
	AllocFailed int `json:"alloc_failed"`
}

// workload replays reads against a Manager and checks that every buffer
// handed out holds the content of the file it was read for.
type workload struct {
	m       *fcache.Manager
	opts    workloadOptions
	rng     *rand.Rand
	zipf    *rand.Zipf
	files   []simFile
	archive ident.ID
}

func newWorkload(m *fcache.Manager, opts workloadOptions) (*workload, error) {
	if opts.Files <= 0 || opts.MinSize < 0 || opts.MaxSize < opts.MinSize {
		return nil, errors.New("workload: need files > 0 and 0 <= min-size <= max-size")
	}
	if opts.Skew <= 1 {
		return nil, errors.New("workload: skew must be greater than 1")
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5bd1e995))
	w := &workload{
		m:       m,
		opts:    opts,
		rng:     rng,
		zipf:    rand.NewZipf(rng, opts.Skew, 1, uint64(opts.Files-1)),
		archive: m.Intern("data/archive.zip"),
	}

	var archOff int64
	for i := range opts.Files {
		f := simFile{
			id:       m.Intern(fmt.Sprintf("data/file%04d.bin", i)),
			size:     opts.MinSize + rng.IntN(opts.MaxSize-opts.MinSize+1),
			archived: rng.Float64() < opts.Archived,
		}
		if f.archived {
			f.archOff = archOff
			archOff += int64(f.size)
		}
		w.files = append(w.files, f)
	}
	return w, nil
}

// contentByte is the expected byte at offset i of f.
func contentByte(f simFile, i int) byte {
	return byte(uint32(f.id)*31 + uint32(i))
}

// run performs the configured number of reads.
func (w *workload) run() (workloadResult, error) {
	var res workloadResult
	for range w.opts.Reads {
		f := w.files[w.zipf.Uint64()]
		if err := w.read(f, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (w *workload) read(f simFile, res *workloadResult) error {
	res.Reads++

	if b, ok := w.m.CacheRetrieve(f.id); ok {
		res.Hits++
		defer w.m.Release(b.Addr)
		return verify(f, b.Data)
	}
	res.Misses++

	owner := f.id
	if f.archived {
		owner = w.archive
	}
	b, err := w.m.Allocate(f.size, owner, false)
	if err != nil {
		if errors.Is(err, fcache.ErrNoSpace) || errors.Is(err, fcache.ErrEvictionStalled) {
			res.AllocFailed++
			return nil
		}
		return err
	}

	if f.archived {
		if err := w.readArchived(f, b.Data, res); err != nil {
			w.m.Release(b.Addr)
			return err
		}
		w.m.SetRealOwner(b.Addr, f.id)
	} else {
		for i := range b.Data {
			b.Data[i] = contentByte(f, i)
		}
	}
	res.BytesRead += f.size

	w.m.CacheInsert(b.Addr, f.size, f.id)
	err = verify(f, b.Data)
	w.m.Release(b.Addr)
	return err
}

// readArchived copies f out of the archive block by block, going through
// the block ring so blocks shared with neighboring files are read once.
func (w *workload) readArchived(f simFile, dst []byte, res *workloadResult) error {
	bs := w.m.Blocks().BlockSize()
	for done := 0; done < f.size; {
		pos := f.archOff + int64(done)
		id := block.MakeID(w.archive, pos, bs)
		blockStart := int64(id.Index) * int64(bs)

		mem, ok := w.m.BlockFind(id)
		if ok {
			res.BlockHits++
		} else {
			var err error
			if mem, err = w.m.BlockAlloc(id); err != nil {
				return fmt.Errorf("read block %s: %w", id, err)
			}
			w.fillBlock(mem, blockStart)
			w.m.BlockMarkCompleted(id)
			res.BlockReads++
			// take the reader's reference without counting a lookup
			if _, ok := w.m.Blocks().Find(id); !ok {
				return fmt.Errorf("block %s not found after completion", id)
			}
		}

		n := copy(dst[done:], mem[pos-blockStart:])
		w.m.BlockRelease(id)
		done += n
	}
	return nil
}

// fillBlock writes the archive content starting at archive offset start.
func (w *workload) fillBlock(mem []byte, start int64) {
	for i := range mem {
		mem[i] = 0
	}
	for _, f := range w.files {
		if !f.archived {
			continue
		}
		lo := max(f.archOff, start)
		hi := min(f.archOff+int64(f.size), start+int64(len(mem)))
		for p := lo; p < hi; p++ {
			mem[p-start] = contentByte(f, int(p-f.archOff))
		}
	}
}

func verify(f simFile, data []byte) error {
	if len(data) != f.size {
		return fmt.Errorf("file %d: buffer holds %d bytes, want %d", f.id, len(data), f.size)
	}
	for i, v := range data {
		if v != contentByte(f, i) {
			return fmt.Errorf("file %d: content mismatch at byte %d", f.id, i)
		}
	}
	return nil
}
