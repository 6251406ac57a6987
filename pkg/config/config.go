package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	KB = 1 << 10
	MB = 1 << 20
	GB = 1 << 30

	// MinBlockSize is the smallest block able to hold a split leaf
	MinBlockSize = 256
	// MaxBlockSize keeps offsets in the block header comfortably in range
	MaxBlockSize = 64 * KB
	// MaxKeyLength caps keys regardless of block size
	MaxKeyLength = 256
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrUnsupported   = errors.New("unsupported feature")
)

// Config holds the storage parameters of one database directory. Once a
// database is created they are persisted in .info and never change.
type Config struct {
	BlockSize            int  `json:"block_size"`
	DataFileSize         int  `json:"data_file_size"`
	MaxLobSize           int  `json:"max_lob_size"`
	MaxBlocksBetweenSync int  `json:"max_blk_sync"`
	MaxOpenFiles         int  `json:"max_open_files"`
	Compression          bool `json:"compression"`
	Checksum             bool `json:"checksum"`
}

// setting is one row of the validation table.
type setting struct {
	name    string
	aliases []string
	def     int
	get     func(*Config) int
	set     func(*Config, int)
	check   func(*Config, int) error
}

var settings = []setting{
	{
		name:    "block_size",
		aliases: []string{"dataPageSize", "blockSize"},
		def:     4 * KB,
		get:     func(c *Config) int { return c.BlockSize },
		set:     func(c *Config, v int) { c.BlockSize = v },
		check: func(_ *Config, v int) error {
			return all(powerOfTwo(v), between(v, MinBlockSize, MaxBlockSize))
		},
	},
	{
		name:    "data_file_size",
		aliases: []string{"dataFileSize"},
		def:     32 * MB,
		get:     func(c *Config) int { return c.DataFileSize },
		set:     func(c *Config, v int) { c.DataFileSize = v },
		check: func(c *Config, v int) error {
			if err := all(powerOfTwo(v), between(v, MB, GB)); err != nil {
				return err
			}
			if v < c.BlockSize {
				return fmt.Errorf("must be at least the block size %d", c.BlockSize)
			}
			return nil
		},
	},
	{
		name:    "max_lob_size",
		aliases: []string{"maxLobSize"},
		def:     10 * MB,
		get:     func(c *Config) int { return c.MaxLobSize },
		set:     func(c *Config, v int) { c.MaxLobSize = v },
		check: func(c *Config, v int) error {
			if err := between(v, 1, GB); err != nil {
				return err
			}
			if v > c.DataFileSize {
				return fmt.Errorf("must not exceed the data file size %d", c.DataFileSize)
			}
			return nil
		},
	},
	{
		name:    "max_blk_sync",
		aliases: []string{"maxBlkSync"},
		def:     128,
		get:     func(c *Config) int { return c.MaxBlocksBetweenSync },
		set:     func(c *Config, v int) { c.MaxBlocksBetweenSync = v },
		check: func(_ *Config, v int) error {
			return all(powerOfTwo(v), between(v, 1, 512))
		},
	},
	{
		name:    "max_open_files",
		aliases: []string{"maxOpenFiles"},
		def:     16,
		get:     func(c *Config) int { return c.MaxOpenFiles },
		set:     func(c *Config, v int) { c.MaxOpenFiles = v },
		check: func(_ *Config, v int) error {
			return between(v, 1, 1024)
		},
	},
}

func powerOfTwo(v int) error {
	if v <= 0 || v&(v-1) != 0 {
		return fmt.Errorf("%d is not a power of two", v)
	}
	return nil
}

func between(v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%d is outside [%d, %d]", v, lo, hi)
	}
	return nil
}

func all(errs ...error) error {
	return errors.Join(errs...)
}

// NewDefaultConfig returns the configuration used for new databases when no
// option overrides a setting.
func NewDefaultConfig() *Config {
	c := &Config{}
	for _, s := range settings {
		s.set(c, s.def)
	}
	return c
}

// Validate evaluates every row of the settings table in order.
func (c *Config) Validate() error {
	for _, s := range settings {
		if err := s.check(c, s.get(c)); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, s.name, err)
		}
	}
	return nil
}

// CheckSupported rejects feature flags the engine does not implement.
func (c *Config) CheckSupported() error {
	if c.Checksum {
		return fmt.Errorf("%w: checksum calculation not implemented", ErrUnsupported)
	}
	if c.Compression {
		return fmt.Errorf("%w: block compression not implemented", ErrUnsupported)
	}
	return nil
}

// BlocksPerFile is the capacity of one data file in blocks.
func (c Config) BlocksPerFile() int {
	return c.DataFileSize / c.BlockSize
}

// MaxKeySize is the longest key this block size can carry. A LOB leaf entry
// (key plus reference) must stay well under half a block.
func (c Config) MaxKeySize() int {
	n := c.BlockSize/2 - 54
	if n > MaxKeyLength {
		n = MaxKeyLength
	}
	return n
}

// FromProperties builds a configuration from string properties, starting
// from the defaults. Sizes accept K, M and G suffixes. Unknown keys are
// ignored.
func FromProperties(props map[string]string) (*Config, error) {
	c := NewDefaultConfig()
	for _, s := range settings {
		raw, ok := lookup(props, s.name, s.aliases)
		if !ok {
			continue
		}
		v, err := ParseSize(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, s.name, err)
		}
		s.set(c, v)
	}
	// An unset LOB limit follows a smaller data file down.
	if _, ok := lookup(props, "max_lob_size", []string{"maxLobSize"}); !ok && c.MaxLobSize > c.DataFileSize {
		c.MaxLobSize = c.DataFileSize
	}

	for name, dst := range map[string]*bool{"compression": &c.Compression, "checksum": &c.Checksum} {
		raw, ok := props[name]
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
		*dst = b
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func lookup(props map[string]string, name string, aliases []string) (string, bool) {
	if v, ok := props[name]; ok {
		return v, true
	}
	for _, a := range aliases {
		if v, ok := props[a]; ok {
			return v, true
		}
	}
	return "", false
}

// ParseSize parses a byte count such as "4096", "4K", "2MB" or "1g".
func ParseSize(s string) (int, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "B")
	mult := 1
	switch {
	case strings.HasSuffix(s, "K"):
		mult = KB
	case strings.HasSuffix(s, "M"):
		mult = MB
	case strings.HasSuffix(s, "G"):
		mult = GB
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n < 0 || n > (1<<31-1)/mult {
		return 0, fmt.Errorf("size %q out of range", s)
	}
	return n * mult, nil
}
