package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

const (
	// InfoFileName holds the persisted configuration of a database
	InfoFileName = ".info"

	CurrentInfoVersion = 1
)

var (
	ErrInfoNotFound = errors.New("info file not found")
	ErrCorruptInfo  = errors.New("corrupt info file")
)

type infoFile struct {
	Version  int             `json:"version"`
	Config   json.RawMessage `json:"config"`
	Checksum uint64          `json:"checksum"`
}

// LoadInfo reads the configuration saved in dir.
func LoadInfo(dir string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(dir, InfoFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrInfoNotFound
		}
		return nil, fmt.Errorf("failed to read info file: %w", err)
	}

	var info infoFile
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptInfo, err)
	}
	if info.Version != CurrentInfoVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrCorruptInfo, info.Version)
	}
	// The file is indented; the checksum covers the compact encoding.
	var body bytes.Buffer
	if err := json.Compact(&body, info.Config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptInfo, err)
	}
	if sum := xxhash.Sum64(body.Bytes()); sum != info.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch: expected %d, got %d", ErrCorruptInfo, info.Checksum, sum)
	}

	var cfg Config
	if err := json.Unmarshal(body.Bytes(), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptInfo, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveInfo writes the configuration to dir through a temporary file and a
// rename, so a reader never sees a partial file.
func (c *Config) SaveInfo(dir string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data, err := json.MarshalIndent(infoFile{
		Version:  CurrentInfoVersion,
		Config:   body,
		Checksum: xxhash.Sum64(body),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal info file: %w", err)
	}

	path := filepath.Join(dir, InfoFileName)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write info file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename info file: %w", err)
	}
	return nil
}

// LoadOrCreate returns the configuration stored in dir, or validates and
// saves cfg when the directory holds no database yet. A stored configuration
// always wins over cfg.
func LoadOrCreate(dir string, cfg *Config) (*Config, bool, error) {
	stored, err := LoadInfo(dir)
	if err == nil {
		return stored, false, nil
	}
	if !errors.Is(err, ErrInfoNotFound) {
		return nil, false, err
	}

	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, false, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := cfg.SaveInfo(dir); err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}
