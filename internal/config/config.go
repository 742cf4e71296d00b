// Package config loads the YAML configuration of the moonblokz simulator.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/i5heu/moonblokz-storage/pkg/storage"
	"gopkg.in/yaml.v2"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendFlash  = "flash"
	BackendBlocks = "blocks"
)

const (
	DefaultMemorySize = 64 * 1024
	DefaultFlashSize  = 1024 * 1024
	DefaultPageSize   = 4096
	DefaultDataDir    = "moonblokz-data"
	DefaultLogLevel   = "info"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Backend string `yaml:"backend"`

	// Size is the medium size in bytes.
	Size     uint64 `yaml:"size"`
	PageSize uint64 `yaml:"pageSize"`

	// StartOffset is the first slot page of the flash backend. Zero selects
	// the page after the control-plane replicas.
	StartOffset uint64 `yaml:"startOffset"`

	// DataDir holds the memory image or the flash database.
	DataDir string `yaml:"dataDir"`

	// MinimumFreeSpace in bytes, checked before the flash database opens.
	MinimumFreeSpace uint64 `yaml:"minimumFreeSpace"`

	Node NodeConfig `yaml:"node"`
	Log  LogConfig  `yaml:"log"`
}

type NodeConfig struct {
	// PrivateKey and InitParams are hex encoded.
	PrivateKey string `yaml:"privateKey"`
	OwnNodeID  uint32 `yaml:"ownNodeID"`
	InitParams string `yaml:"initParams"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	NoColor bool   `yaml:"noColor"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	c := Config{}
	c.applyDefaults()
	return c
}

// Load reads path and fills unset fields with defaults. An empty path
// returns Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data, applies defaults and validates the result.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Override replaces the backend and data directory with the non-empty
// arguments. Changing the backend recomputes the default start offset.
func (c Config) Override(backend, dataDir string) (Config, error) {
	if backend != "" && backend != c.Backend {
		c.Backend = backend
		c.StartOffset = 0
	}
	if dataDir != "" {
		c.DataDir = dataDir
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Size == 0 {
		if c.Backend == BackendFlash {
			c.Size = DefaultFlashSize
		} else {
			c.Size = DefaultMemorySize
		}
	}
	if c.Backend == BackendFlash && c.StartOffset == 0 {
		c.StartOffset = storage.ControlPlaneCount * c.PageSize
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Validate checks the fields the backends cannot check themselves. Geometry
// is left to the backend constructors.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendFlash, BackendBlocks:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	if c.Backend == BackendFlash && c.Size%c.PageSize != 0 {
		return fmt.Errorf("%w: flash size %d is not a multiple of page size %d",
			ErrInvalid, c.Size, c.PageSize)
	}
	if _, err := c.Node.Key(); err != nil {
		return err
	}
	if _, err := c.Node.Params(); err != nil {
		return err
	}
	return nil
}

// Key decodes PrivateKey. An empty key is all zero.
func (n NodeConfig) Key() ([storage.PrivateKeySize]byte, error) {
	var key [storage.PrivateKeySize]byte
	err := decodeFixed(key[:], n.PrivateKey, "privateKey")
	return key, err
}

// Params decodes InitParams. Empty params are all zero.
func (n NodeConfig) Params() ([storage.InitParamsSize]byte, error) {
	var params [storage.InitParamsSize]byte
	err := decodeFixed(params[:], n.InitParams, "initParams")
	return params, err
}

func decodeFixed(dst []byte, s, field string) error {
	if s == "" {
		return nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, field, err)
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("%w: %s has %d bytes, want %d", ErrInvalid, field, len(raw), len(dst))
	}
	copy(dst, raw)
	return nil
}
