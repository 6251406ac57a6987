package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.BlockSize != 4*KB {
		t.Errorf("expected block size %d, got %d", 4*KB, cfg.BlockSize)
	}
	if cfg.DataFileSize != 32*MB {
		t.Errorf("expected data file size %d, got %d", 32*MB, cfg.DataFileSize)
	}
	if cfg.MaxLobSize != 10*MB {
		t.Errorf("expected max lob size %d, got %d", 10*MB, cfg.MaxLobSize)
	}
	if cfg.MaxBlocksBetweenSync != 128 {
		t.Errorf("expected max blocks between sync 128, got %d", cfg.MaxBlocksBetweenSync)
	}
	if cfg.BlocksPerFile() != 8192 {
		t.Errorf("expected 8192 blocks per file, got %d", cfg.BlocksPerFile())
	}
	if cfg.MaxKeySize() != MaxKeyLength {
		t.Errorf("expected max key size %d, got %d", MaxKeyLength, cfg.MaxKeySize())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid default config, got error: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		setting string
	}{
		{"block size not power of two", func(c *Config) { c.BlockSize = 3000 }, "block_size"},
		{"block size too small", func(c *Config) { c.BlockSize = 128 }, "block_size"},
		{"block size too large", func(c *Config) { c.BlockSize = 128 * KB }, "block_size"},
		{"data file too small", func(c *Config) { c.DataFileSize = 512 * KB }, "data_file_size"},
		{"data file not power of two", func(c *Config) { c.DataFileSize = 3 * MB }, "data_file_size"},
		{"lob zero", func(c *Config) { c.MaxLobSize = 0 }, "max_lob_size"},
		{"lob larger than file", func(c *Config) { c.MaxLobSize = 64 * MB }, "max_lob_size"},
		{"sync over limit", func(c *Config) { c.MaxBlocksBetweenSync = 1024 }, "max_blk_sync"},
		{"sync not power of two", func(c *Config) { c.MaxBlocksBetweenSync = 100 }, "max_blk_sync"},
		{"no open files", func(c *Config) { c.MaxOpenFiles = 0 }, "max_open_files"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.setting) {
				t.Errorf("expected error to name %s, got %v", tc.setting, err)
			}
		})
	}
}

func TestCheckSupported(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.CheckSupported(); err != nil {
		t.Fatalf("expected default config to be supported, got %v", err)
	}

	cfg.Checksum = true
	if err := cfg.CheckSupported(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for checksum, got %v", err)
	}

	cfg = NewDefaultConfig()
	cfg.Compression = true
	if err := cfg.CheckSupported(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for compression, got %v", err)
	}
}

func TestParseSize(t *testing.T) {
	testCases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"4096", 4096, false},
		{"4K", 4 * KB, false},
		{"4kb", 4 * KB, false},
		{"2M", 2 * MB, false},
		{" 1G ", GB, false},
		{"", 0, true},
		{"abc", 0, true},
		{"-1", 0, true},
		{"4T", 0, true},
		{"8G", 0, true},
	}

	for _, tc := range testCases {
		got, err := ParseSize(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseSize(%q): expected error, got %d", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseSize(%q) = %d, %v; want %d", tc.in, got, err, tc.want)
		}
	}
}

func TestFromProperties(t *testing.T) {
	cfg, err := FromProperties(map[string]string{
		"block_size":   "8K",
		"dataFileSize": "2M",
		"max_lob_size": "1M",
		"maxBlkSync":   "64",
		"checksum":     "false",
		"unknown":      "ignored",
	})
	if err != nil {
		t.Fatalf("FromProperties failed: %v", err)
	}
	if cfg.BlockSize != 8*KB || cfg.DataFileSize != 2*MB || cfg.MaxLobSize != MB || cfg.MaxBlocksBetweenSync != 64 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.MaxOpenFiles != 16 {
		t.Errorf("expected default max open files, got %d", cfg.MaxOpenFiles)
	}

	if _, err := FromProperties(map[string]string{"block_size": "3K"}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for bad block size, got %v", err)
	}
	if _, err := FromProperties(map[string]string{"compression": "maybe"}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for bad flag, got %v", err)
	}
}

func TestFromPropertiesSmallDataFile(t *testing.T) {
	cfg, err := FromProperties(map[string]string{"data_file_size": "1M"})
	if err != nil {
		t.Fatalf("FromProperties failed: %v", err)
	}
	if cfg.MaxLobSize != MB {
		t.Errorf("expected max lob size to follow the data file down to %d, got %d", MB, cfg.MaxLobSize)
	}

	_, err = FromProperties(map[string]string{"data_file_size": "1M", "max_lob_size": "2M"})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for an explicit oversized lob limit, got %v", err)
	}
}

func TestDerivedSizesOnValue(t *testing.T) {
	byValue := func() Config {
		c := NewDefaultConfig()
		c.BlockSize = 512
		c.DataFileSize = MB
		return *c
	}
	if got := byValue().MaxKeySize(); got != 512/2-54 {
		t.Errorf("expected max key size %d, got %d", 512/2-54, got)
	}
	if got := byValue().BlocksPerFile(); got != 2048 {
		t.Errorf("expected 2048 blocks per file, got %d", got)
	}
}

func TestInfoSaveLoad(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadInfo(dir); err != ErrInfoNotFound {
		t.Fatalf("expected ErrInfoNotFound, got %v", err)
	}

	cfg := NewDefaultConfig()
	cfg.BlockSize = 1 * KB
	cfg.DataFileSize = MB
	cfg.MaxLobSize = 512 * KB
	if err := cfg.SaveInfo(dir); err != nil {
		t.Fatalf("SaveInfo failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, InfoFileName+".tmp")); !os.IsNotExist(err) {
		t.Errorf("temporary info file left behind")
	}

	loaded, err := LoadInfo(dir)
	if err != nil {
		t.Fatalf("LoadInfo failed: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("expected %+v, got %+v", cfg, loaded)
	}
}

func TestInfoChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	if err := NewDefaultConfig().SaveInfo(dir); err != nil {
		t.Fatalf("SaveInfo failed: %v", err)
	}

	path := filepath.Join(dir, InfoFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// block_size is stored as 4096; change it without fixing the checksum
	tampered := strings.Replace(string(data), "4096", "8192", 1)
	if tampered == string(data) {
		t.Fatal("test setup: block size not found in info file")
	}
	if err := os.WriteFile(path, []byte(tampered), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadInfo(dir); !errors.Is(err, ErrCorruptInfo) {
		t.Errorf("expected ErrCorruptInfo, got %v", err)
	}
}

func TestLoadOrCreate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")

	first := NewDefaultConfig()
	first.BlockSize = 2 * KB
	got, created, err := LoadOrCreate(dir, first)
	if err != nil || !created {
		t.Fatalf("expected new database, got created=%v err=%v", created, err)
	}
	if got.BlockSize != 2*KB {
		t.Errorf("expected block size %d, got %d", 2*KB, got.BlockSize)
	}

	second := NewDefaultConfig()
	second.BlockSize = 8 * KB
	got, created, err = LoadOrCreate(dir, second)
	if err != nil || created {
		t.Fatalf("expected existing database, got created=%v err=%v", created, err)
	}
	if got.BlockSize != 2*KB {
		t.Errorf("stored config must win, got block size %d", got.BlockSize)
	}
}
