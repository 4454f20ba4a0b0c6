package fcache

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/joshuapare/vfscache/fcache/alloc"
	"github.com/joshuapare/vfscache/fcache/block"
)

const (
	// DefaultArenaSize is the size of the buffer arena.
	DefaultArenaSize = 64 << 20

	// DefaultEvictAttempts bounds the evict-and-retry loop in Allocate.
	DefaultEvictAttempts = 50

	// DefaultCacheCost is the replacement cost given to inserted files.
	DefaultCacheCost = 1.0
)

// Config configures a Manager.
//
// Zero fields are replaced by their defaults in ApplyDefaults.
type Config struct {
	// ArenaSize is the buffer arena size in bytes; a multiple of alloc.Quantum.
	ArenaSize int `mapstructure:"arena_size" validate:"required,gt=0" yaml:"arena_size"`

	// BlockSize is the size of each block ring slot; a power-of-two
	// multiple of the page size.
	BlockSize int `mapstructure:"block_size" validate:"required,gt=0" yaml:"block_size"`

	// EvictAttempts bounds how many cached files Allocate evicts for one
	// request before giving up.
	EvictAttempts int `mapstructure:"evict_attempts" validate:"required,gte=1,lte=1000000" yaml:"evict_attempts"`

	// CacheCost is the replacement cost of a cached file.
	CacheCost float64 `mapstructure:"cache_cost" validate:"gt=0" yaml:"cache_cost"`

	// ProtectCached write-protects cached buffers so stray writes fault.
	ProtectCached bool `mapstructure:"protect_cached" yaml:"protect_cached"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ArenaSize:     DefaultArenaSize,
		BlockSize:     block.DefaultBlockSize,
		EvictAttempts: DefaultEvictAttempts,
		CacheCost:     DefaultCacheCost,
	}
}

// ApplyDefaults fills zero fields with their defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.ArenaSize == 0 {
		c.ArenaSize = d.ArenaSize
	}
	if c.BlockSize == 0 {
		c.BlockSize = d.BlockSize
	}
	if c.EvictAttempts == 0 {
		c.EvictAttempts = d.EvictAttempts
	}
	if c.CacheCost == 0 {
		c.CacheCost = d.CacheCost
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags and the alignment rules that tags cannot
// express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.ArenaSize%alloc.Quantum != 0 {
		return fmt.Errorf("%w: arena_size %d is not a multiple of %d",
			ErrInvalidConfig, c.ArenaSize, alloc.Quantum)
	}
	if c.BlockSize&(c.BlockSize-1) != 0 {
		return fmt.Errorf("%w: block_size %d is not a power of two", ErrInvalidConfig, c.BlockSize)
	}
	return nil
}
